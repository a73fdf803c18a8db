package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"telemetry-ws/internal/observability/metrics"
	"telemetry-ws/internal/telemetry/application"
	telemetry "telemetry-ws/internal/telemetry/domain"
	"telemetry-ws/internal/telemetry/subscription"
)

const (
	unknownSubscriptionID = 0

	msgSessionNotFound = "Session meta-data not found!"
	msgDeviceIDEmpty   = "Device id is empty!"
	msgKeysEmpty       = "Keys are empty!"
	msgFetchFailed     = "Failed to fetch data!"

	kindAttributes  = "attributes"
	kindTimeseries  = "timeseries"
	kindHistory     = "history"
	kindUnsubscribe = "unsubscribe"
)

// ErrNotImplemented is returned for binary frames.
var ErrNotImplemented = errors.New("telemetry ws: binary messages not implemented")

var errLatestAborted = errors.New("telemetry ws: latest lookup ended without result")

// AttributeLoader loads the current attribute snapshot of a device. A nil keys
// slice loads every attribute in scope.
type AttributeLoader interface {
	Load(ctx context.Context, deviceID, scope string, keys []string) ([]telemetry.AttributeKvEntry, error)
}

// TimeseriesLoader runs closed range queries.
type TimeseriesLoader interface {
	LoadRange(ctx context.Context, deviceID, key string, startTS, endTS int64) ([]telemetry.TsKvEntry, error)
}

// LatestLoader resolves latest values without blocking the caller.
type LatestLoader interface {
	LoadLatestAsync(ctx context.Context, deviceID string, keys []string) <-chan application.LatestResult
}

// AccessChecker decides whether a tenant may read a device.
type AccessChecker interface {
	CheckAccess(ctx context.Context, tenantID, deviceID string) bool
}

// SubscriptionRegistry owns registered subscriptions.
type SubscriptionRegistry interface {
	AddSubscription(sessionID string, state subscription.State)
	RemoveSubscription(sessionID string, cmdID int)
	CleanupSession(sessionID string)
}

// Clock returns the current time in epoch milliseconds.
type Clock interface {
	NowMillis() int64
}

type systemClock struct{}

func (systemClock) NowMillis() int64 { return time.Now().UnixMilli() }

// HandlerOption customizes a MsgHandler.
type HandlerOption func(*MsgHandler)

// WithAttributeScope sets the attribute scope served to clients.
func WithAttributeScope(scope string) HandlerOption {
	return func(h *MsgHandler) {
		if scope != "" {
			h.scope = scope
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock Clock) HandlerOption {
	return func(h *MsgHandler) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// MsgHandler processes telemetry plugin commands for websocket sessions.
type MsgHandler struct {
	sessions      *SessionRegistry
	attributes    AttributeLoader
	timeseries    TimeseriesLoader
	latest        LatestLoader
	access        AccessChecker
	subscriptions SubscriptionRegistry
	scope         string
	clock         Clock
	logger        *log.Logger
	pending       sync.WaitGroup
}

// NewMsgHandler constructs a handler.
func NewMsgHandler(
	sessions *SessionRegistry,
	attributes AttributeLoader,
	timeseries TimeseriesLoader,
	latest LatestLoader,
	access AccessChecker,
	subscriptions SubscriptionRegistry,
	logger *log.Logger,
	opts ...HandlerOption,
) (*MsgHandler, error) {
	if sessions == nil {
		return nil, errors.New("telemetry ws: nil session registry")
	}
	if attributes == nil {
		return nil, errors.New("telemetry ws: nil attribute loader")
	}
	if timeseries == nil {
		return nil, errors.New("telemetry ws: nil timeseries loader")
	}
	if latest == nil {
		return nil, errors.New("telemetry ws: nil latest loader")
	}
	if access == nil {
		return nil, errors.New("telemetry ws: nil access checker")
	}
	if subscriptions == nil {
		return nil, errors.New("telemetry ws: nil subscription registry")
	}
	if logger == nil {
		logger = log.Default()
	}
	h := &MsgHandler{
		sessions:      sessions,
		attributes:    attributes,
		timeseries:    timeseries,
		latest:        latest,
		access:        access,
		subscriptions: subscriptions,
		scope:         telemetry.ClientScope,
		clock:         systemClock{},
		logger:        logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// OpenSession registers an authenticated session.
func (h *MsgHandler) OpenSession(meta SessionMetadata) error {
	if err := h.sessions.Register(meta); err != nil {
		return err
	}
	metrics.AddWSSessions(1)
	return nil
}

// CloseSession forgets a session and drops all of its subscriptions.
func (h *MsgHandler) CloseSession(sessionID string) {
	if h.sessions.Remove(sessionID) {
		metrics.AddWSSessions(-1)
	}
	h.subscriptions.CleanupSession(sessionID)
}

// Wait blocks until every pending latest-value continuation has finished.
func (h *MsgHandler) Wait() {
	h.pending.Wait()
}

// HandleMessage decodes one inbound message and processes its commands.
// Attribute commands run first, then time series, then history.
func (h *MsgHandler) HandleMessage(ctx context.Context, ref SessionRef, msg Message) error {
	if msg.Type == BinaryMessage {
		return ErrNotImplemented
	}
	var cmds CmdsWrapper
	if err := json.Unmarshal(msg.Payload, &cmds); err != nil {
		h.logger.Printf("telemetry ws: [%s] failed to decode subscription cmd: %v", ref.ID, err)
		h.sendUpdate(ref, subscription.NewErrorUpdate(unknownSubscriptionID, subscription.InternalError, msgSessionNotFound))
		return nil
	}
	for _, cmd := range cmds.AttrSubCmds {
		h.handleAttributesCmd(ctx, ref, cmd)
	}
	for _, cmd := range cmds.TsSubCmds {
		h.handleTimeseriesCmd(ctx, ref, cmd)
	}
	for _, cmd := range cmds.HistoryCmds {
		h.handleHistoryCmd(ctx, ref, cmd)
	}
	return nil
}

// SendUpdate delivers an update to an open session. Unknown sessions are ignored.
func (h *MsgHandler) SendUpdate(sessionID string, update subscription.Update) {
	meta, ok := h.sessions.Get(sessionID)
	if !ok {
		return
	}
	h.sendUpdate(meta.Ref, update)
}

func (h *MsgHandler) handleAttributesCmd(ctx context.Context, ref SessionRef, cmd AttributesSubscriptionCmd) {
	meta, ok := h.validateSession(ref, cmd.CmdID)
	if !ok {
		metrics.IncWSCommand(kindAttributes, metrics.ResultError)
		return
	}
	if cmd.Unsubscribe {
		h.unsubscribe(ref.ID, cmd.SubscriptionCmd)
		return
	}
	if !h.validateTarget(ctx, ref, meta, cmd.SubscriptionCmd) {
		metrics.IncWSCommand(kindAttributes, metrics.ResultError)
		return
	}

	keys, hasKeys := ParseKeys(cmd.Keys)
	data, err := h.attributes.Load(ctx, cmd.DeviceID, h.scope, keys)
	if err != nil {
		h.logger.Printf("telemetry ws: [%s] load attributes for %s: %v", ref.ID, cmd.DeviceID, err)
		h.sendUpdate(ref, subscription.NewErrorUpdate(cmd.CmdID, subscription.InternalError, msgFetchFailed))
		metrics.IncWSCommand(kindAttributes, metrics.ResultError)
		return
	}
	snapshot := make([]telemetry.TsKvEntry, 0, len(data))
	for _, attr := range data {
		snapshot = append(snapshot, attr.ToTsKvEntry())
	}
	h.sendUpdate(ref, subscription.NewDataUpdate(cmd.CmdID, snapshot))

	keyStates := make(map[string]int64, len(keys)+len(snapshot))
	for _, key := range keys {
		keyStates[key] = 0
	}
	advance(keyStates, snapshot)
	h.subscriptions.AddSubscription(ref.ID, subscription.State{
		SessionID: ref.ID,
		CmdID:     cmd.CmdID,
		DeviceID:  cmd.DeviceID,
		Type:      subscription.TypeAttributes,
		AllKeys:   !hasKeys,
		KeyStates: keyStates,
	})
	metrics.IncWSCommand(kindAttributes, metrics.ResultSuccess)
}

func (h *MsgHandler) handleTimeseriesCmd(ctx context.Context, ref SessionRef, cmd TimeseriesSubscriptionCmd) {
	meta, ok := h.validateSession(ref, cmd.CmdID)
	if !ok {
		metrics.IncWSCommand(kindTimeseries, metrics.ResultError)
		return
	}
	if cmd.Unsubscribe {
		h.unsubscribe(ref.ID, cmd.SubscriptionCmd)
		return
	}
	if !h.validateTarget(ctx, ref, meta, cmd.SubscriptionCmd) {
		metrics.IncWSCommand(kindTimeseries, metrics.ResultError)
		return
	}

	keys, hasKeys := ParseKeys(cmd.Keys)
	if !hasKeys {
		h.awaitLatest(ctx, ref, cmd, nil, 0)
		return
	}
	if cmd.TimeWindow <= 0 {
		startTS := h.clock.NowMillis()
		h.awaitLatest(ctx, ref, cmd, keys, startTS)
		return
	}

	endTS := h.clock.NowMillis()
	startTS := endTS - cmd.TimeWindow
	data, err := h.loadRanges(ctx, cmd.DeviceID, keys, startTS, endTS)
	if err != nil {
		h.logger.Printf("telemetry ws: [%s] load timeseries for %s: %v", ref.ID, cmd.DeviceID, err)
		h.sendUpdate(ref, subscription.NewErrorUpdate(cmd.CmdID, subscription.InternalError, msgFetchFailed))
		metrics.IncWSCommand(kindTimeseries, metrics.ResultError)
		return
	}
	h.sendUpdate(ref, subscription.NewDataUpdate(cmd.CmdID, data))
	h.subscriptions.AddSubscription(ref.ID, timeseriesState(ref.ID, cmd, keys, startTS, data))
	metrics.IncWSCommand(kindTimeseries, metrics.ResultSuccess)
}

// awaitLatest starts the latest lookup and hands its result to a continuation
// goroutine, which replies and then registers. keys == nil means all keys.
func (h *MsgHandler) awaitLatest(ctx context.Context, ref SessionRef, cmd TimeseriesSubscriptionCmd, keys []string, startTS int64) {
	results := h.latest.LoadLatestAsync(context.WithoutCancel(ctx), cmd.DeviceID, keys)
	h.pending.Add(1)
	go func() {
		defer h.pending.Done()
		result, ok := <-results
		if !ok {
			result.Err = errLatestAborted
		}
		if result.Err != nil {
			h.logger.Printf("telemetry ws: [%s] load latest for %s: %v", ref.ID, cmd.DeviceID, result.Err)
			h.sendUpdate(ref, subscription.NewErrorUpdate(cmd.CmdID, subscription.InternalError, msgFetchFailed))
			metrics.IncWSCommand(kindTimeseries, metrics.ResultError)
			return
		}
		h.sendUpdate(ref, subscription.NewDataUpdate(cmd.CmdID, result.Data))
		h.subscriptions.AddSubscription(ref.ID, timeseriesState(ref.ID, cmd, keys, startTS, result.Data))
		if _, open := h.sessions.Get(ref.ID); !open {
			// closed while the lookup was in flight; CloseSession already ran cleanup
			h.subscriptions.RemoveSubscription(ref.ID, cmd.CmdID)
		}
		metrics.IncWSCommand(kindTimeseries, metrics.ResultSuccess)
	}()
}

func (h *MsgHandler) handleHistoryCmd(ctx context.Context, ref SessionRef, cmd GetHistoryCmd) {
	meta, ok := h.validateSession(ref, cmd.CmdID)
	if !ok {
		metrics.IncWSCommand(kindHistory, metrics.ResultError)
		return
	}
	if cmd.DeviceID == "" {
		h.sendUpdate(ref, subscription.NewErrorUpdate(cmd.CmdID, subscription.BadRequest, msgDeviceIDEmpty))
		metrics.IncWSCommand(kindHistory, metrics.ResultError)
		return
	}
	keys, hasKeys := ParseKeys(cmd.Keys)
	if !hasKeys {
		h.sendUpdate(ref, subscription.NewErrorUpdate(cmd.CmdID, subscription.BadRequest, msgKeysEmpty))
		metrics.IncWSCommand(kindHistory, metrics.ResultError)
		return
	}
	if !h.access.CheckAccess(ctx, meta.TenantID, cmd.DeviceID) {
		h.sendUpdate(ref, subscription.NewErrorUpdate(cmd.CmdID, subscription.Unauthorized, ""))
		metrics.IncWSCommand(kindHistory, metrics.ResultError)
		return
	}
	data, err := h.loadRanges(ctx, cmd.DeviceID, keys, cmd.StartTS, cmd.EndTS)
	if err != nil {
		h.logger.Printf("telemetry ws: [%s] load history for %s: %v", ref.ID, cmd.DeviceID, err)
		h.sendUpdate(ref, subscription.NewErrorUpdate(cmd.CmdID, subscription.InternalError, msgFetchFailed))
		metrics.IncWSCommand(kindHistory, metrics.ResultError)
		return
	}
	h.sendUpdate(ref, subscription.NewDataUpdate(cmd.CmdID, data))
	metrics.IncWSCommand(kindHistory, metrics.ResultSuccess)
}

func (h *MsgHandler) validateSession(ref SessionRef, cmdID int) (SessionMetadata, bool) {
	meta, ok := h.sessions.Get(ref.ID)
	if !ok {
		h.logger.Printf("telemetry ws: [%s] session meta data not found", ref.ID)
		h.sendUpdate(ref, subscription.NewErrorUpdate(cmdID, subscription.InternalError, msgSessionNotFound))
		return SessionMetadata{}, false
	}
	return meta, true
}

func (h *MsgHandler) validateTarget(ctx context.Context, ref SessionRef, meta SessionMetadata, cmd SubscriptionCmd) bool {
	if cmd.DeviceID == "" {
		h.sendUpdate(ref, subscription.NewErrorUpdate(cmd.CmdID, subscription.BadRequest, msgDeviceIDEmpty))
		return false
	}
	if !h.access.CheckAccess(ctx, meta.TenantID, cmd.DeviceID) {
		h.sendUpdate(ref, subscription.NewErrorUpdate(cmd.CmdID, subscription.Unauthorized, ""))
		return false
	}
	return true
}

func (h *MsgHandler) unsubscribe(sessionID string, cmd SubscriptionCmd) {
	if cmd.DeviceID == "" {
		h.subscriptions.CleanupSession(sessionID)
	} else {
		h.subscriptions.RemoveSubscription(sessionID, cmd.CmdID)
	}
	metrics.IncWSCommand(kindUnsubscribe, metrics.ResultSuccess)
}

func (h *MsgHandler) loadRanges(ctx context.Context, deviceID string, keys []string, startTS, endTS int64) ([]telemetry.TsKvEntry, error) {
	data := make([]telemetry.TsKvEntry, 0)
	for _, key := range keys {
		entries, err := h.timeseries.LoadRange(ctx, deviceID, key, startTS, endTS)
		if err != nil {
			return nil, err
		}
		data = append(data, entries...)
	}
	return data, nil
}

// sendUpdate encodes and writes a reply. Failures are logged and dropped.
func (h *MsgHandler) sendUpdate(ref SessionRef, update subscription.Update) {
	if ref.Outbound == nil {
		h.logger.Printf("telemetry ws: [%s] no outbound for reply to cmd %d", ref.ID, update.CmdID)
		metrics.IncWSSendFailure("no_outbound")
		return
	}
	payload, err := json.Marshal(update)
	if err != nil {
		h.logger.Printf("telemetry ws: [%s] failed to encode reply to cmd %d: %v", ref.ID, update.CmdID, err)
		metrics.IncWSSendFailure("encode")
		return
	}
	if err := ref.Outbound.Send(payload); err != nil {
		h.logger.Printf("telemetry ws: [%s] failed to send reply to cmd %d: %v", ref.ID, update.CmdID, err)
		metrics.IncWSSendFailure("transport")
		return
	}
	metrics.IncWSReply(update.ErrorCode.String())
}

// timeseriesState seeds every requested key with startTS and then overwrites
// with the newest observed sample. keys == nil builds an all-keys state from data.
func timeseriesState(sessionID string, cmd TimeseriesSubscriptionCmd, keys []string, startTS int64, data []telemetry.TsKvEntry) subscription.State {
	keyStates := make(map[string]int64, len(keys)+len(data))
	for _, key := range keys {
		keyStates[key] = startTS
	}
	advance(keyStates, data)
	return subscription.State{
		SessionID: sessionID,
		CmdID:     cmd.CmdID,
		DeviceID:  cmd.DeviceID,
		Type:      subscription.TypeTimeseries,
		AllKeys:   keys == nil,
		KeyStates: keyStates,
	}
}

// advance overwrites the watermark of every key present in data with the
// newest timestamp observed for it.
func advance(keyStates map[string]int64, data []telemetry.TsKvEntry) {
	newest := make(map[string]int64, len(data))
	for _, entry := range data {
		if current, ok := newest[entry.Key]; !ok || entry.TS > current {
			newest[entry.Key] = entry.TS
		}
	}
	for key, ts := range newest {
		keyStates[key] = ts
	}
}
