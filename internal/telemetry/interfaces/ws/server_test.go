package ws

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"telemetry-ws/internal/auth"
	masterdata "telemetry-ws/internal/masterdata/domain"
	mdmemory "telemetry-ws/internal/masterdata/infrastructure/memory"
	"telemetry-ws/internal/telemetry/application"
	telemetry "telemetry-ws/internal/telemetry/domain"
	"telemetry-ws/internal/telemetry/infrastructure/memory"
	"telemetry-ws/internal/telemetry/subscription"
)

type serverFixture struct {
	srv     *httptest.Server
	store   *memory.Store
	manager *subscription.Manager
	handler *MsgHandler
	secret  []byte
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	ctx := context.Background()
	logger := log.New(io.Discard, "", 0)
	secret := []byte("ws-secret")

	devices := mdmemory.NewDeviceRepository()
	if err := devices.Save(ctx, &masterdata.Device{ID: "D1", TenantID: "tenant-a"}); err != nil {
		t.Fatalf("save device: %v", err)
	}
	checker, err := auth.NewDeviceChecker(devices, logger)
	if err != nil {
		t.Fatalf("device checker: %v", err)
	}
	store := memory.NewStore()
	latest, err := application.NewAsyncLatestReader(store)
	if err != nil {
		t.Fatalf("latest reader: %v", err)
	}
	manager := subscription.NewManager(logger)
	handler, err := NewMsgHandler(NewSessionRegistry(), store.Attributes(), store, latest, checker, manager, logger)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	manager.SetPublisher(handler)

	server, err := NewServer(handler, DefaultConfig(), secret, logger)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	mux := http.NewServeMux()
	mux.Handle(server.Path(), server)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &serverFixture{srv: srv, store: store, manager: manager, handler: handler, secret: secret}
}

func (f *serverFixture) dial(t *testing.T, tenantID string) *websocket.Conn {
	t.Helper()
	token, err := auth.IssueJWT(f.secret, tenantID, auth.RoleViewer, "user-1", time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + DefaultPath + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readReply(t *testing.T, conn *websocket.Conn) reply {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var r reply
	if err := json.Unmarshal(payload, &r); err != nil {
		t.Fatalf("decode %s: %v", payload, err)
	}
	return r
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func TestServerRejectsMissingToken(t *testing.T) {
	f := newServerFixture(t)
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + DefaultPath
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 response, got %v", resp)
	}
}

func TestServerSubscribeAndReceiveLiveUpdate(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()
	if err := f.store.SaveAttributes(ctx, "D1", telemetry.ClientScope, []telemetry.AttributeKvEntry{
		{KvEntry: telemetry.LongEntry("temp", 21), LastUpdateTS: 100},
	}); err != nil {
		t.Fatalf("seed attributes: %v", err)
	}

	conn := f.dial(t, "tenant-a")
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"attrSubCmds":[{"cmdId":7,"deviceId":"D1","keys":"temp,hum"}]}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	snapshot := readReply(t, conn)
	if snapshot.CmdID != 7 || len(snapshot.Data) != 1 || snapshot.Data[0].TS != 100 {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}
	waitFor(t, func() bool { return f.manager.Count() == 1 })

	f.manager.OnAttributesUpdate("D1", telemetry.ClientScope, []telemetry.AttributeKvEntry{
		{KvEntry: telemetry.LongEntry("temp", 21), LastUpdateTS: 100},
		{KvEntry: telemetry.LongEntry("hum", 40), LastUpdateTS: 150},
	})
	live := readReply(t, conn)
	if live.CmdID != 7 || len(live.Data) != 1 || live.Data[0].Key != "hum" || live.Data[0].TS != 150 {
		t.Fatalf("unexpected live update: %+v", live)
	}
}

func TestServerDeniesForeignDevice(t *testing.T) {
	f := newServerFixture(t)
	conn := f.dial(t, "tenant-b")
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"tsSubCmds":[{"cmdId":2,"deviceId":"D1","keys":"temp","timeWindow":1000}]}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	got := readReply(t, conn)
	if got.CmdID != 2 || got.ErrorCode == nil || *got.ErrorCode != int(subscription.Unauthorized) {
		t.Fatalf("unexpected reply: %+v", got)
	}
}

func TestServerCleansUpOnDisconnect(t *testing.T) {
	f := newServerFixture(t)
	conn := f.dial(t, "tenant-a")
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"tsSubCmds":[{"cmdId":1,"deviceId":"D1","keys":"temp"}]}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = readReply(t, conn)
	waitFor(t, func() bool { return f.manager.Count() == 1 })

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()
	waitFor(t, func() bool { return f.manager.Count() == 0 && f.handler.sessions.Len() == 0 })
}
