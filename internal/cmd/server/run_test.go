package serverrun

import (
	"context"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	cfgpkg "github.com/PhiYerion/bucface/internal/config"
	"github.com/PhiYerion/bucface/internal/protocol"
	"github.com/PhiYerion/bucface/internal/runtime"
	"github.com/PhiYerion/bucface/internal/session"
	pebblestore "github.com/PhiYerion/bucface/internal/storage/pebble"
	logpkg "github.com/PhiYerion/bucface/pkg/log"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	_ = l.Close()
	return addr
}

func waitHealthy(t *testing.T, base string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(base + "/v1/healthz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("server never became healthy")
}

func TestOptionsDefaults(t *testing.T) {
	var opts Options
	opts.normalize()
	if opts.DataDir == "" || opts.Addr != ":7070" || opts.Config.Collection != "events" {
		t.Fatalf("unexpected defaults %+v", opts)
	}
}

func TestProcessLoggerFromConfig(t *testing.T) {
	l, cfg := processLogger(cfgpkg.LogConfig{Level: "debug", Format: "json"})
	if cfg.Format != "json" || l.GetLevel() != logpkg.DebugLevel {
		t.Fatalf("log config not applied: %+v %v", cfg, l.GetLevel())
	}
	l, _ = processLogger(cfgpkg.LogConfig{Level: "loud", Format: "text"})
	if l.GetLevel() != logpkg.InfoLevel {
		t.Fatalf("bad level should fall back to info, got %v", l.GetLevel())
	}
	_, cfg = processLogger(cfgpkg.LogConfig{Redact: []string{"author"}, SampleInitial: 5, SampleThereafter: 50})
	if len(cfg.Redact) != 1 || cfg.Redact[0] != "author" || cfg.SampleInitial != 5 || cfg.SampleThereafter != 50 {
		t.Fatalf("redaction/sampling not passed through: %+v", cfg)
	}
}

func TestRunServesAndPersists(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a real server")
	}
	dataDir := t.TempDir()
	addr := freeAddr(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, Options{
			DataDir: dataDir,
			Addr:    addr,
			Fsync:   pebblestore.FsyncModeAlways,
			Config:  cfgpkg.Default(),
			Logger:  logpkg.NewNopLogger(),
		})
	}()
	waitHealthy(t, "http://"+addr)

	dctx, dcancel := context.WithTimeout(ctx, 5*time.Second)
	defer dcancel()
	s, status, err := session.Dial(dctx, "ws://"+addr+"/v1/ws", session.Options{})
	if err != nil || status != session.StatusSuccess {
		t.Fatalf("dial: status=%v err=%v", status, err)
	}
	ev := protocol.Event{Author: "alice", Machine: "m1", Body: "hello", Timestamp: time.Now().UTC()}
	if err := s.Send(dctx, protocol.NewEvent{Event: ev}); err != nil {
		t.Fatalf("send: %v", err)
	}
	var got protocol.PersistedEvent
wait:
	for {
		select {
		case resp := <-s.Inbound():
			if r, ok := resp.(protocol.EventRecord); ok {
				got = r.PersistedEvent
				break wait
			}
		case <-dctx.Done():
			t.Fatalf("no event record")
		}
	}
	if got.ID != 0 || got.Body != "hello" {
		t.Fatalf("unexpected record %+v", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("run did not stop")
	}
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("client session outlived the server")
	}

	rt, err := runtime.Open(runtime.Options{DataDir: filepath.Join(dataDir, "store"), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer rt.Close()
	if rt.Log().Next() != 1 {
		t.Fatalf("want next id 1 after restart, got %d", rt.Log().Next())
	}
	pe, err := rt.Log().Lookup(0)
	if err != nil || pe.Body != "hello" {
		t.Fatalf("lookup after restart: %+v %v", pe, err)
	}
}
