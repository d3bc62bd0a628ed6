package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	cfgpkg "github.com/PhiYerion/bucface/internal/config"
	"github.com/PhiYerion/bucface/internal/metrics"
	"github.com/PhiYerion/bucface/internal/protocol"
	"github.com/PhiYerion/bucface/internal/runtime"
	brokersvc "github.com/PhiYerion/bucface/internal/services/broker"
	"github.com/PhiYerion/bucface/internal/session"
	pebblestore "github.com/PhiYerion/bucface/internal/storage/pebble"
	logpkg "github.com/PhiYerion/bucface/pkg/log"
)

type fixture struct {
	rt     *runtime.Runtime
	srv    *Server
	ts     *httptest.Server
	cancel context.CancelFunc
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	m := metrics.New()
	rt, err := runtime.Open(runtime.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways, Config: cfgpkg.Default(), Metrics: m})
	if err != nil {
		t.Fatalf("rt open: %v", err)
	}
	logger, _ := logpkg.ApplyConfig(&logpkg.Config{Level: "error", Format: "text"})
	b := brokersvc.New(brokersvc.LogStore(rt.Log()), brokersvc.Options{Logger: logger, Metrics: m})
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = b.Run(ctx) }()

	s := New(rt, b, m, logger)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		cancel()
		<-b.Done()
		ts.Close()
		_ = rt.Close()
	})
	return &fixture{rt: rt, srv: s, ts: ts, cancel: cancel}
}

func (f *fixture) wsURL() string {
	return "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/v1/ws"
}

func (f *fixture) get(t *testing.T, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(f.ts.URL + path)
	if err != nil {
		t.Fatalf("get %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

// nextRecord skips pongs from other clients' verification.
func nextRecord(t *testing.T, s *session.Session) protocol.PersistedEvent {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case resp, ok := <-s.Inbound():
			if !ok {
				t.Fatalf("session ended")
			}
			switch r := resp.(type) {
			case protocol.EventRecord:
				return r.PersistedEvent
			case protocol.Pong:
				continue
			default:
				t.Fatalf("unexpected response %#v", resp)
			}
		case <-timeout:
			t.Fatalf("no event record received")
		}
	}
}

func TestHealthHandler(t *testing.T) {
	f := newFixture(t)
	code, body := f.get(t, "/v1/healthz")
	if code != http.StatusOK || !strings.Contains(body, `"ok"`) {
		t.Fatalf("health: %d %s", code, body)
	}
}

func TestStatusReportsNextID(t *testing.T) {
	f := newFixture(t)
	code, body := f.get(t, "/v1/status")
	if code != http.StatusOK {
		t.Fatalf("status: %d", code)
	}
	var st statusResp
	if err := json.Unmarshal([]byte(body), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Collection != cfgpkg.Default().Collection || st.NextID != 0 {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestEndToEndOverWebSocket(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice, status, err := session.Dial(ctx, f.wsURL(), session.Options{})
	if err != nil || status != session.StatusSuccess {
		t.Fatalf("dial alice: status=%v err=%v", status, err)
	}
	defer alice.Close()

	ev := protocol.Event{Author: "alice", Machine: "m1", Body: "hello", Timestamp: time.Unix(1_700_000_000, 0).UTC()}
	if err := alice.Send(ctx, protocol.NewEvent{Event: ev}); err != nil {
		t.Fatalf("send: %v", err)
	}
	got := nextRecord(t, alice)
	if got.ID != 0 || got.Body != "hello" || got.Author != "alice" || got.Machine != "m1" {
		t.Fatalf("unexpected record %+v", got)
	}

	bob, _, err := session.Dial(ctx, f.wsURL(), session.Options{})
	if err != nil {
		t.Fatalf("dial bob: %v", err)
	}
	defer bob.Close()
	if err := bob.Send(ctx, protocol.GetSince{ID: 0}); err != nil {
		t.Fatalf("send: %v", err)
	}
	got = nextRecord(t, bob)
	if got.ID != 0 || got.Body != "hello" || !got.Timestamp.Equal(ev.Timestamp) {
		t.Fatalf("bob saw %+v", got)
	}

	code, body := f.get(t, "/v1/status")
	if code != http.StatusOK || !strings.Contains(body, `"nextId":1`) {
		t.Fatalf("status after insert: %d %s", code, body)
	}
	code, body = f.get(t, "/metrics")
	if code != http.StatusOK || !strings.Contains(body, "bucface_broker_events_inserted_total 1") {
		t.Fatalf("metrics missing insert count: %s", body)
	}
}

func TestPlainRequestToWebSocketEndpointFails(t *testing.T) {
	f := newFixture(t)
	code, _ := f.get(t, "/v1/ws")
	if code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", code)
	}
}

func TestCORSHeaders(t *testing.T) {
	f := newFixture(t)
	req, _ := http.NewRequest(http.MethodGet, f.ts.URL+"/v1/healthz", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("allow-origin: %q", got)
	}
}
