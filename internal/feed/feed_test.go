package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/PhiYerion/bucface/internal/protocol"
	"github.com/PhiYerion/bucface/internal/session"
	"github.com/PhiYerion/bucface/internal/transport"
)

type harness struct {
	feed   *Feed
	sess   *session.Session
	broker transport.Conn
	cancel context.CancelFunc
	ran    chan error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	client, broker := transport.Pipe()
	s := session.New(client, session.Options{})
	f := New("alice", "m1", nil)
	f.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	f.Attach(s)
	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{feed: f, sess: s, broker: broker, cancel: cancel, ran: make(chan error, 1)}
	go func() { h.ran <- f.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = s.Close()
	})
	return h
}

func (h *harness) request(t *testing.T) protocol.Request {
	t.Helper()
	type result struct {
		b   []byte
		err error
	}
	ch := make(chan result, 1)
	go func() {
		b, err := h.broker.ReadFrame()
		ch <- result{b, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			t.Fatalf("read: %v", r.err)
		}
		req, err := protocol.DecodeRequest(r.b)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		return req
	case <-time.After(3 * time.Second):
		t.Fatalf("no request arrived")
		return nil
	}
}

func (h *harness) respond(t *testing.T, resp protocol.Response) {
	t.Helper()
	b, err := protocol.Encode(resp)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := h.broker.WriteFrame(b); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func (h *harness) waitLen(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for len(h.feed.Events()) != n {
		if time.Now().After(deadline) {
			t.Fatalf("want %d cached events, have %d", n, len(h.feed.Events()))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func record(id uint64, body string) protocol.EventRecord {
	return protocol.EventRecord{PersistedEvent: sample(id, "bob", "m2", body)}
}

func TestSubmitStampsIdentity(t *testing.T) {
	h := newHarness(t)
	if err := h.feed.Submit(context.Background(), "hello"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	req, ok := h.request(t).(protocol.NewEvent)
	if !ok {
		t.Fatalf("expected NewEvent")
	}
	if req.Author != "alice" || req.Machine != "m1" || req.Body != "hello" {
		t.Fatalf("unexpected event %+v", req.Event)
	}
	if !req.Timestamp.Equal(time.Unix(1_700_000_000, 0)) {
		t.Fatalf("unexpected timestamp %v", req.Timestamp)
	}
}

func TestRecordsAreCachedInOrderAndGapsBackfilled(t *testing.T) {
	h := newHarness(t)
	for _, id := range []uint64{3, 0, 1, 5} {
		h.respond(t, record(id, "x"))
	}
	h.waitLen(t, 4)

	got := h.feed.Events()
	for i, want := range []uint64{0, 1, 3, 5} {
		if got[i].ID != want {
			t.Fatalf("position %d: got id %d want %d", i, got[i].ID, want)
		}
	}
	if missing := h.feed.Missing(); len(missing) != 2 || missing[0] != 2 || missing[1] != 4 {
		t.Fatalf("unexpected missing ids %v", missing)
	}

	n, err := h.feed.Backfill()
	if err != nil || n != 2 {
		t.Fatalf("backfill: n=%d err=%v", n, err)
	}
	for _, want := range []uint64{2, 4} {
		g, ok := h.request(t).(protocol.GetEvent)
		if !ok || g.ID != want {
			t.Fatalf("expected GetEvent %d", want)
		}
	}
}

func TestDuplicatesAndErrorsDoNotChangeCache(t *testing.T) {
	h := newHarness(t)
	h.respond(t, record(0, "first"))
	h.respond(t, record(0, "again"))
	h.respond(t, protocol.Error{Code: protocol.CodeNotFound, Detail: "event 9 not found"})
	h.respond(t, protocol.Pong{Payload: []byte("p")})
	h.respond(t, record(1, "second"))
	h.waitLen(t, 2)
	if body := h.feed.Events()[0].Body; body != "first" {
		t.Fatalf("duplicate replaced the cached event: %q", body)
	}
}

func TestViewAppliesFilter(t *testing.T) {
	h := newHarness(t)
	h.respond(t, record(0, "deploy started"))
	h.respond(t, record(1, "lunch"))
	h.respond(t, record(2, "deploy finished"))
	h.waitLen(t, 3)

	f, err := CompileFilter(`body.startsWith("deploy")`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	view := h.feed.View(f)
	if len(view) != 2 || view[0].ID != 0 || view[1].ID != 2 {
		t.Fatalf("unexpected view %+v", view)
	}
	if len(h.feed.Events()) != 3 {
		t.Fatalf("view must not modify the cache")
	}
}

func TestRefreshAndCatchUp(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.feed.CatchUp(ctx); err != nil {
		t.Fatalf("catch up: %v", err)
	}
	if g, ok := h.request(t).(protocol.GetSince); !ok || g.ID != 0 {
		t.Fatalf("empty cache should catch up from 0")
	}

	h.respond(t, record(0, "a"))
	h.respond(t, record(1, "b"))
	h.waitLen(t, 2)
	if err := h.feed.CatchUp(ctx); err != nil {
		t.Fatalf("catch up: %v", err)
	}
	if g, ok := h.request(t).(protocol.GetSince); !ok || g.ID != 2 {
		t.Fatalf("catch up should start after the last cached id")
	}

	if err := h.feed.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if g, ok := h.request(t).(protocol.GetSince); !ok || g.ID != 0 {
		t.Fatalf("refresh should request the whole sequence")
	}
	if len(h.feed.Events()) != 0 {
		t.Fatalf("refresh should clear the cache")
	}
}

func TestRunEndsWhenSessionCloses(t *testing.T) {
	h := newHarness(t)
	_ = h.broker.Close()
	select {
	case err := <-h.ran:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("run did not return")
	}
}

func TestDetachedFeed(t *testing.T) {
	f := New("a", "m", nil)
	if err := f.Submit(context.Background(), "x"); !errors.Is(err, ErrNotAttached) {
		t.Fatalf("want ErrNotAttached, got %v", err)
	}
	if _, err := f.Backfill(); !errors.Is(err, ErrNotAttached) {
		t.Fatalf("want ErrNotAttached, got %v", err)
	}
	if err := f.Run(context.Background()); !errors.Is(err, ErrNotAttached) {
		t.Fatalf("want ErrNotAttached, got %v", err)
	}
}

func TestBackfillBatchLimitsRequests(t *testing.T) {
	h := newHarness(t)
	h.feed.SetBackfillBatch(2)
	h.respond(t, record(0, "a"))
	h.respond(t, record(9, "b"))
	h.waitLen(t, 2)

	n, err := h.feed.Backfill()
	if err != nil || n != 2 {
		t.Fatalf("backfill: n=%d err=%v", n, err)
	}
	for _, want := range []uint64{1, 2} {
		if g, ok := h.request(t).(protocol.GetEvent); !ok || g.ID != want {
			t.Fatalf("expected GetEvent %d", want)
		}
	}
}
