package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"sync"
	"testing"

	"telemetry-ws/internal/telemetry/application"
	telemetry "telemetry-ws/internal/telemetry/domain"
	"telemetry-ws/internal/telemetry/subscription"
)

type recordingOutbound struct {
	mu       sync.Mutex
	payloads [][]byte
	err      error
}

func (o *recordingOutbound) Send(payload []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.payloads = append(o.payloads, payload)
	return nil
}

type reply struct {
	CmdID     int     `json:"cmdId"`
	ErrorCode *int    `json:"errorCode"`
	ErrorMsg  *string `json:"errorMsg"`
	Data      []struct {
		Key   string `json:"key"`
		TS    int64  `json:"ts"`
		Value any    `json:"value"`
	} `json:"data"`
}

func (o *recordingOutbound) replies(t *testing.T) []reply {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]reply, 0, len(o.payloads))
	for _, payload := range o.payloads {
		var r reply
		if err := json.Unmarshal(payload, &r); err != nil {
			t.Fatalf("decode reply %s: %v", payload, err)
		}
		out = append(out, r)
	}
	return out
}

type stubAttributes struct {
	data  []telemetry.AttributeKvEntry
	err   error
	calls []attributeCall
}

type attributeCall struct {
	deviceID string
	scope    string
	keys     []string
}

func (s *stubAttributes) Load(ctx context.Context, deviceID, scope string, keys []string) ([]telemetry.AttributeKvEntry, error) {
	s.calls = append(s.calls, attributeCall{deviceID: deviceID, scope: scope, keys: keys})
	return s.data, s.err
}

type rangeCall struct {
	key            string
	startTS, endTS int64
}

type stubTimeseries struct {
	series map[string][]telemetry.TsKvEntry
	err    error
	calls  []rangeCall
}

func (s *stubTimeseries) LoadRange(ctx context.Context, deviceID, key string, startTS, endTS int64) ([]telemetry.TsKvEntry, error) {
	s.calls = append(s.calls, rangeCall{key: key, startTS: startTS, endTS: endTS})
	if s.err != nil {
		return nil, s.err
	}
	var out []telemetry.TsKvEntry
	for _, entry := range s.series[key] {
		if entry.TS >= startTS && entry.TS <= endTS {
			out = append(out, entry)
		}
	}
	return out, nil
}

type stubLatest struct {
	mu      sync.Mutex
	results chan application.LatestResult
	keys    [][]string
}

func newStubLatest() *stubLatest {
	return &stubLatest{results: make(chan application.LatestResult, 1)}
}

func (s *stubLatest) LoadLatestAsync(ctx context.Context, deviceID string, keys []string) <-chan application.LatestResult {
	s.mu.Lock()
	s.keys = append(s.keys, keys)
	s.mu.Unlock()
	return s.results
}

type stubAccess struct {
	allow bool
	calls int
}

func (s *stubAccess) CheckAccess(ctx context.Context, tenantID, deviceID string) bool {
	s.calls++
	return s.allow
}

type recordingRegistry struct {
	mu       sync.Mutex
	added    []subscription.State
	removed  []int
	cleanups []string
}

func (r *recordingRegistry) AddSubscription(sessionID string, state subscription.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.added = append(r.added, state)
}

func (r *recordingRegistry) RemoveSubscription(sessionID string, cmdID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, cmdID)
}

func (r *recordingRegistry) CleanupSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleanups = append(r.cleanups, sessionID)
}

func (r *recordingRegistry) snapshot() ([]subscription.State, []int, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]subscription.State(nil), r.added...), append([]int(nil), r.removed...), append([]string(nil), r.cleanups...)
}

type fixedClock int64

func (c fixedClock) NowMillis() int64 { return int64(c) }

type fixture struct {
	handler    *MsgHandler
	sessions   *SessionRegistry
	out        *recordingOutbound
	ref        SessionRef
	attributes *stubAttributes
	timeseries *stubTimeseries
	latest     *stubLatest
	access     *stubAccess
	registry   *recordingRegistry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		sessions:   NewSessionRegistry(),
		out:        &recordingOutbound{},
		attributes: &stubAttributes{},
		timeseries: &stubTimeseries{series: map[string][]telemetry.TsKvEntry{}},
		latest:     newStubLatest(),
		access:     &stubAccess{allow: true},
		registry:   &recordingRegistry{},
	}
	handler, err := NewMsgHandler(f.sessions, f.attributes, f.timeseries, f.latest, f.access, f.registry,
		log.New(io.Discard, "", 0), WithClock(fixedClock(10_000)))
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	f.handler = handler
	f.ref = SessionRef{ID: "s1", Outbound: f.out}
	if err := handler.OpenSession(SessionMetadata{Ref: f.ref, TenantID: "tenant-a", Subject: "user-1"}); err != nil {
		t.Fatalf("open session: %v", err)
	}
	return f
}

func (f *fixture) handle(t *testing.T, payload string) {
	t.Helper()
	if err := f.handler.HandleMessage(context.Background(), f.ref, Message{Type: TextMessage, Payload: []byte(payload)}); err != nil {
		t.Fatalf("handle message: %v", err)
	}
}

func tsEntry(key string, value int64, ts int64) telemetry.TsKvEntry {
	return telemetry.TsKvEntry{KvEntry: telemetry.LongEntry(key, value), TS: ts}
}

func assertError(t *testing.T, got reply, cmdID int, code subscription.ErrorCode, msg string) {
	t.Helper()
	if got.CmdID != cmdID {
		t.Fatalf("expected cmdId %d, got %d", cmdID, got.CmdID)
	}
	if got.ErrorCode == nil || *got.ErrorCode != int(code) {
		t.Fatalf("expected error code %d, got %v", code, got.ErrorCode)
	}
	if got.ErrorMsg == nil || *got.ErrorMsg != msg {
		t.Fatalf("expected error msg %q, got %v", msg, got.ErrorMsg)
	}
	if got.Data != nil {
		t.Fatalf("expected no data on error reply")
	}
}

func TestAttributeSubscribeWithKeys(t *testing.T) {
	f := newFixture(t)
	f.attributes.data = []telemetry.AttributeKvEntry{
		{KvEntry: telemetry.LongEntry("temp", 21), LastUpdateTS: 100},
	}

	f.handle(t, `{"attrSubCmds":[{"cmdId":7,"deviceId":"D1","keys":"temp,hum","unsubscribe":false}]}`)

	replies := f.out.replies(t)
	if len(replies) != 1 {
		t.Fatalf("expected 1 reply, got %d", len(replies))
	}
	if replies[0].CmdID != 7 || replies[0].ErrorCode != nil {
		t.Fatalf("unexpected reply: %+v", replies[0])
	}
	if len(replies[0].Data) != 1 || replies[0].Data[0].Key != "temp" || replies[0].Data[0].TS != 100 {
		t.Fatalf("unexpected data: %+v", replies[0].Data)
	}
	if got := f.attributes.calls[0]; got.scope != telemetry.ClientScope || len(got.keys) != 2 {
		t.Fatalf("unexpected load call: %+v", got)
	}

	added, _, _ := f.registry.snapshot()
	if len(added) != 1 {
		t.Fatalf("expected 1 registration, got %d", len(added))
	}
	state := added[0]
	if state.Type != subscription.TypeAttributes || state.AllKeys || state.CmdID != 7 || state.DeviceID != "D1" {
		t.Fatalf("unexpected state: %+v", state)
	}
	if len(state.KeyStates) != 2 || state.KeyStates["temp"] != 100 || state.KeyStates["hum"] != 0 {
		t.Fatalf("unexpected watermarks: %v", state.KeyStates)
	}
	if _, ok := state.KeyStates["hum"]; !ok {
		t.Fatalf("expected requested key without data to be tracked")
	}
}

func TestAttributeSubscribeAllKeys(t *testing.T) {
	f := newFixture(t)
	f.attributes.data = []telemetry.AttributeKvEntry{
		{KvEntry: telemetry.StringEntry("fw", "1.2"), LastUpdateTS: 50},
		{KvEntry: telemetry.BoolEntry("active", true), LastUpdateTS: 70},
	}

	f.handle(t, `{"attrSubCmds":[{"cmdId":1,"deviceId":"D1"}]}`)

	if f.attributes.calls[0].keys != nil {
		t.Fatalf("expected nil keys for an all-keys load")
	}
	added, _, _ := f.registry.snapshot()
	if len(added) != 1 {
		t.Fatalf("expected 1 registration, got %d", len(added))
	}
	state := added[0]
	if !state.AllKeys {
		t.Fatalf("expected all-keys subscription")
	}
	if len(state.KeyStates) != 2 || state.KeyStates["fw"] != 50 || state.KeyStates["active"] != 70 {
		t.Fatalf("unexpected watermarks: %v", state.KeyStates)
	}
}

func TestTimeseriesWindowSubscribe(t *testing.T) {
	f := newFixture(t)
	f.timeseries.series["temp"] = []telemetry.TsKvEntry{
		tsEntry("temp", 1, 8_000),
		tsEntry("temp", 2, 9_500),
		tsEntry("temp", 3, 9_800),
	}

	f.handle(t, `{"tsSubCmds":[{"cmdId":4,"deviceId":"D1","keys":"temp,hum","timeWindow":1000}]}`)

	if len(f.timeseries.calls) != 2 {
		t.Fatalf("expected one range query per key, got %d", len(f.timeseries.calls))
	}
	for _, call := range f.timeseries.calls {
		if call.startTS != 9_000 || call.endTS != 10_000 {
			t.Fatalf("unexpected range: %+v", call)
		}
	}
	replies := f.out.replies(t)
	if len(replies) != 1 || len(replies[0].Data) != 2 {
		t.Fatalf("expected one reply with 2 samples, got %+v", replies)
	}

	added, _, _ := f.registry.snapshot()
	if len(added) != 1 {
		t.Fatalf("expected 1 registration, got %d", len(added))
	}
	state := added[0]
	if state.Type != subscription.TypeTimeseries || state.AllKeys {
		t.Fatalf("unexpected state: %+v", state)
	}
	for key, ts := range state.KeyStates {
		if ts < 9_000 {
			t.Fatalf("watermark for %s below window start: %d", key, ts)
		}
	}
	if state.KeyStates["temp"] != 9_800 || state.KeyStates["hum"] != 9_000 {
		t.Fatalf("unexpected watermarks: %v", state.KeyStates)
	}
}

func TestTimeseriesLatestWithKeysRegistersAfterResult(t *testing.T) {
	f := newFixture(t)

	f.handle(t, `{"tsSubCmds":[{"cmdId":5,"deviceId":"D1","keys":"temp,hum"}]}`)

	if added, _, _ := f.registry.snapshot(); len(added) != 0 {
		t.Fatalf("expected no registration before the lookup completes")
	}
	if replies := f.out.replies(t); len(replies) != 0 {
		t.Fatalf("expected no reply before the lookup completes")
	}
	if keys := f.latest.keys[0]; len(keys) != 2 {
		t.Fatalf("expected lookup for requested keys, got %v", keys)
	}

	f.latest.results <- application.LatestResult{Data: []telemetry.TsKvEntry{tsEntry("temp", 20, 9_990)}}
	f.handler.Wait()

	replies := f.out.replies(t)
	if len(replies) != 1 || replies[0].CmdID != 5 || len(replies[0].Data) != 1 {
		t.Fatalf("unexpected replies: %+v", replies)
	}
	added, _, _ := f.registry.snapshot()
	if len(added) != 1 {
		t.Fatalf("expected 1 registration, got %d", len(added))
	}
	state := added[0]
	if state.AllKeys || state.KeyStates["temp"] != 9_990 || state.KeyStates["hum"] != 10_000 {
		t.Fatalf("unexpected state: %+v", state)
	}
}

func TestTimeseriesLatestAllKeys(t *testing.T) {
	t.Run("success with no data", func(t *testing.T) {
		f := newFixture(t)
		f.handle(t, `{"tsSubCmds":[{"cmdId":3,"deviceId":"D1","keys":"","timeWindow":0}]}`)
		if f.latest.keys[0] != nil {
			t.Fatalf("expected all-keys lookup")
		}
		f.latest.results <- application.LatestResult{}
		f.handler.Wait()

		replies := f.out.replies(t)
		if len(replies) != 1 || replies[0].CmdID != 3 || replies[0].ErrorCode != nil {
			t.Fatalf("unexpected replies: %+v", replies)
		}
		if replies[0].Data == nil || len(replies[0].Data) != 0 {
			t.Fatalf("expected empty data array, got %+v", replies[0].Data)
		}
		added, _, _ := f.registry.snapshot()
		if len(added) != 1 || !added[0].AllKeys || len(added[0].KeyStates) != 0 {
			t.Fatalf("unexpected registrations: %+v", added)
		}
	})

	t.Run("failure", func(t *testing.T) {
		f := newFixture(t)
		f.handle(t, `{"tsSubCmds":[{"cmdId":3,"deviceId":"D1","keys":"","timeWindow":0}]}`)
		f.latest.results <- application.LatestResult{Err: errors.New("boom")}
		f.handler.Wait()

		replies := f.out.replies(t)
		if len(replies) != 1 {
			t.Fatalf("expected 1 reply, got %d", len(replies))
		}
		assertError(t, replies[0], 3, subscription.InternalError, "Failed to fetch data!")
		if added, _, _ := f.registry.snapshot(); len(added) != 0 {
			t.Fatalf("expected no registration on failure")
		}
	})
}

func TestTimeseriesLatestSessionClosedInFlight(t *testing.T) {
	f := newFixture(t)
	f.handle(t, `{"tsSubCmds":[{"cmdId":8,"deviceId":"D1","keys":"temp"}]}`)
	f.handler.CloseSession("s1")

	f.latest.results <- application.LatestResult{Data: []telemetry.TsKvEntry{tsEntry("temp", 1, 1)}}
	f.handler.Wait()

	_, removed, cleanups := f.registry.snapshot()
	if len(cleanups) != 1 {
		t.Fatalf("expected session cleanup, got %v", cleanups)
	}
	if len(removed) != 1 || removed[0] != 8 {
		t.Fatalf("expected late registration to be removed, got %v", removed)
	}
}

func TestUnsubscribe(t *testing.T) {
	t.Run("blank device id removes all", func(t *testing.T) {
		f := newFixture(t)
		f.handle(t, `{"attrSubCmds":[{"cmdId":9,"deviceId":"","unsubscribe":true}]}`)
		_, removed, cleanups := f.registry.snapshot()
		if len(cleanups) != 1 || cleanups[0] != "s1" {
			t.Fatalf("expected cleanup of s1, got %v", cleanups)
		}
		if len(removed) != 0 {
			t.Fatalf("expected no per-command removal, got %v", removed)
		}
		if f.access.calls != 0 {
			t.Fatalf("expected no access check on unsubscribe")
		}
		if replies := f.out.replies(t); len(replies) != 0 {
			t.Fatalf("expected no reply to unsubscribe, got %+v", replies)
		}
	})

	t.Run("device id removes one", func(t *testing.T) {
		f := newFixture(t)
		f.handle(t, `{"tsSubCmds":[{"cmdId":12,"deviceId":"D1","unsubscribe":true}]}`)
		_, removed, cleanups := f.registry.snapshot()
		if len(removed) != 1 || removed[0] != 12 {
			t.Fatalf("expected removal of cmd 12, got %v", removed)
		}
		if len(cleanups) != 0 {
			t.Fatalf("expected no session cleanup, got %v", cleanups)
		}
	})
}

func TestMissingSessionMetadata(t *testing.T) {
	f := newFixture(t)
	unknown := SessionRef{ID: "ghost", Outbound: f.out}
	payloads := []string{
		`{"attrSubCmds":[{"cmdId":1,"deviceId":"D1","keys":"temp"}]}`,
		`{"tsSubCmds":[{"cmdId":2,"deviceId":"D1","unsubscribe":true}]}`,
		`{"historyCmds":[{"cmdId":3,"deviceId":"D1","keys":"temp","startTs":1,"endTs":2}]}`,
	}
	for i, payload := range payloads {
		f.out.payloads = nil
		if err := f.handler.HandleMessage(context.Background(), unknown, Message{Type: TextMessage, Payload: []byte(payload)}); err != nil {
			t.Fatalf("handle message: %v", err)
		}
		replies := f.out.replies(t)
		if len(replies) != 1 {
			t.Fatalf("payload %d: expected exactly 1 reply, got %d", i, len(replies))
		}
		assertError(t, replies[0], i+1, subscription.InternalError, "Session meta-data not found!")
	}
	added, removed, cleanups := f.registry.snapshot()
	if len(added) != 0 || len(removed) != 0 || len(cleanups) != 0 {
		t.Fatalf("expected registry untouched, got %v %v %v", added, removed, cleanups)
	}
}

func TestSubscribeValidation(t *testing.T) {
	t.Run("empty device id", func(t *testing.T) {
		f := newFixture(t)
		f.handle(t, `{"attrSubCmds":[{"cmdId":2,"deviceId":"","keys":"temp"}]}`)
		replies := f.out.replies(t)
		if len(replies) != 1 {
			t.Fatalf("expected 1 reply, got %d", len(replies))
		}
		assertError(t, replies[0], 2, subscription.BadRequest, "Device id is empty!")
		if len(f.attributes.calls) != 0 {
			t.Fatalf("expected no load")
		}
	})

	t.Run("access denied", func(t *testing.T) {
		f := newFixture(t)
		f.access.allow = false
		f.handle(t, `{"tsSubCmds":[{"cmdId":6,"deviceId":"D2","keys":"temp","timeWindow":60000}]}`)
		replies := f.out.replies(t)
		if len(replies) != 1 {
			t.Fatalf("expected 1 reply, got %d", len(replies))
		}
		assertError(t, replies[0], 6, subscription.Unauthorized, "Unauthorized")
		if len(f.timeseries.calls) != 0 {
			t.Fatalf("expected no query")
		}
		if added, _, _ := f.registry.snapshot(); len(added) != 0 {
			t.Fatalf("expected no registration")
		}
	})

	t.Run("load failure", func(t *testing.T) {
		f := newFixture(t)
		f.attributes.err = errors.New("db down")
		f.handle(t, `{"attrSubCmds":[{"cmdId":4,"deviceId":"D1"}]}`)
		replies := f.out.replies(t)
		if len(replies) != 1 {
			t.Fatalf("expected 1 reply, got %d", len(replies))
		}
		assertError(t, replies[0], 4, subscription.InternalError, "Failed to fetch data!")
		if added, _, _ := f.registry.snapshot(); len(added) != 0 {
			t.Fatalf("expected no registration")
		}
	})
}

func TestHistory(t *testing.T) {
	t.Run("empty keys", func(t *testing.T) {
		f := newFixture(t)
		f.access.allow = false
		f.handle(t, `{"historyCmds":[{"cmdId":11,"deviceId":"D1","keys":"","startTs":0,"endTs":100}]}`)
		replies := f.out.replies(t)
		if len(replies) != 1 {
			t.Fatalf("expected 1 reply, got %d", len(replies))
		}
		assertError(t, replies[0], 11, subscription.BadRequest, "Keys are empty!")
		if len(f.timeseries.calls) != 0 {
			t.Fatalf("expected no data query")
		}
		if f.access.calls != 0 {
			t.Fatalf("expected keys to be checked before access")
		}
	})

	t.Run("empty device id first", func(t *testing.T) {
		f := newFixture(t)
		f.handle(t, `{"historyCmds":[{"cmdId":12,"deviceId":"","keys":"","startTs":0,"endTs":100}]}`)
		replies := f.out.replies(t)
		if len(replies) != 1 {
			t.Fatalf("expected 1 reply, got %d", len(replies))
		}
		assertError(t, replies[0], 12, subscription.BadRequest, "Device id is empty!")
	})

	t.Run("range query", func(t *testing.T) {
		f := newFixture(t)
		f.timeseries.series["temp"] = []telemetry.TsKvEntry{tsEntry("temp", 1, 10), tsEntry("temp", 2, 500)}
		f.timeseries.series["hum"] = []telemetry.TsKvEntry{tsEntry("hum", 40, 20)}
		f.handle(t, `{"historyCmds":[{"cmdId":13,"deviceId":"D1","keys":"temp,hum,temp","startTs":0,"endTs":100}]}`)

		if len(f.timeseries.calls) != 2 {
			t.Fatalf("expected one query per distinct key, got %d", len(f.timeseries.calls))
		}
		replies := f.out.replies(t)
		if len(replies) != 1 || replies[0].CmdID != 13 || len(replies[0].Data) != 2 {
			t.Fatalf("unexpected replies: %+v", replies)
		}
		if added, _, _ := f.registry.snapshot(); len(added) != 0 {
			t.Fatalf("history must not register a subscription")
		}
	})
}

func TestDecodeFailureRepliesWithUnknownCmdID(t *testing.T) {
	f := newFixture(t)
	f.handle(t, `{"attrSubCmds":[{"cmdId":"oops"`)
	replies := f.out.replies(t)
	if len(replies) != 1 {
		t.Fatalf("expected 1 reply, got %d", len(replies))
	}
	assertError(t, replies[0], 0, subscription.InternalError, "Session meta-data not found!")
}

func TestBinaryMessageNotImplemented(t *testing.T) {
	f := newFixture(t)
	err := f.handler.HandleMessage(context.Background(), f.ref, Message{Type: BinaryMessage, Payload: []byte{0x01}})
	if !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("expected ErrNotImplemented, got %v", err)
	}
	if replies := f.out.replies(t); len(replies) != 0 {
		t.Fatalf("expected no reply, got %+v", replies)
	}
}

func TestSendFailureIsSwallowed(t *testing.T) {
	f := newFixture(t)
	f.out.err = errors.New("broken pipe")
	f.attributes.data = []telemetry.AttributeKvEntry{{KvEntry: telemetry.LongEntry("temp", 1), LastUpdateTS: 5}}

	f.handle(t, `{"attrSubCmds":[{"cmdId":1,"deviceId":"D1","keys":"temp"}]}`)

	if added, _, _ := f.registry.snapshot(); len(added) != 1 {
		t.Fatalf("expected registration despite send failure")
	}
}

func TestCommandOrderAcrossCategories(t *testing.T) {
	f := newFixture(t)
	f.handle(t, `{
		"historyCmds":[{"cmdId":30,"deviceId":"D1","keys":"temp","startTs":0,"endTs":1}],
		"tsSubCmds":[{"cmdId":20,"deviceId":"D1","keys":"temp","timeWindow":10}],
		"attrSubCmds":[{"cmdId":10,"deviceId":"D1","keys":"a"},{"cmdId":11,"deviceId":"D1","keys":"b"}]
	}`)
	replies := f.out.replies(t)
	want := []int{10, 11, 20, 30}
	if len(replies) != len(want) {
		t.Fatalf("expected %d replies, got %d", len(want), len(replies))
	}
	for i, cmdID := range want {
		if replies[i].CmdID != cmdID {
			t.Fatalf("reply %d: expected cmd %d, got %d", i, cmdID, replies[i].CmdID)
		}
	}
}

func TestSendUpdateToUnknownSessionIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.handler.SendUpdate("ghost", subscription.NewDataUpdate(1, nil))
	f.handler.SendUpdate("s1", subscription.NewDataUpdate(2, nil))
	replies := f.out.replies(t)
	if len(replies) != 1 || replies[0].CmdID != 2 {
		t.Fatalf("unexpected replies: %+v", replies)
	}
}

func TestParseKeys(t *testing.T) {
	cases := []struct {
		raw  string
		want []string
		ok   bool
	}{
		{raw: "", ok: false},
		{raw: "   ", ok: false},
		{raw: " , ,", ok: false},
		{raw: "temp", want: []string{"temp"}, ok: true},
		{raw: "temp, hum,temp", want: []string{"temp", "hum"}, ok: true},
	}
	for _, tc := range cases {
		got, ok := ParseKeys(tc.raw)
		if ok != tc.ok {
			t.Fatalf("%q: expected ok=%v, got %v", tc.raw, tc.ok, ok)
		}
		if len(got) != len(tc.want) {
			t.Fatalf("%q: expected %v, got %v", tc.raw, tc.want, got)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("%q: expected %v, got %v", tc.raw, tc.want, got)
			}
		}
	}
}
