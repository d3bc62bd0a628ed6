// Package feed is the contract front ends build on: a gap-free, id-ordered
// view of the event sequence kept in sync through a session.
package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/PhiYerion/bucface/internal/gaps"
	"github.com/PhiYerion/bucface/internal/protocol"
	"github.com/PhiYerion/bucface/internal/session"
	logpkg "github.com/PhiYerion/bucface/pkg/log"
)

// ErrNotAttached is returned when no session is attached.
var ErrNotAttached = errors.New("feed: no session attached")

// Feed owns the client cache and the session currently feeding it.
type Feed struct {
	author  string
	machine string
	logger  logpkg.Logger
	now     func() time.Time

	mu      sync.Mutex
	tracker *gaps.Tracker
	sess    *session.Session

	changed chan struct{}
}

// New returns an empty feed that submits events as author@machine.
func New(author, machine string, logger logpkg.Logger) *Feed {
	if logger == nil {
		logger = logpkg.NewNopLogger()
	}
	return &Feed{
		author:  author,
		machine: machine,
		logger:  logger.WithComponent("feed"),
		now:     time.Now,
		tracker: gaps.New(logger),
		changed: make(chan struct{}, 1),
	}
}

// Attach makes s the session used for requests and Run.
func (f *Feed) Attach(s *session.Session) {
	f.mu.Lock()
	f.sess = s
	f.mu.Unlock()
}

func (f *Feed) session() (*session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sess == nil {
		return nil, ErrNotAttached
	}
	return f.sess, nil
}

// SetBackfillBatch caps how many missing ids one Backfill call requests;
// n <= 0 uses the tracker default.
func (f *Feed) SetBackfillBatch(n int) {
	f.mu.Lock()
	f.tracker.SetLimit(n)
	f.mu.Unlock()
}

// Changed receives a signal after the cache gains an event. Signals coalesce.
func (f *Feed) Changed() <-chan struct{} { return f.changed }

// Run applies responses from the attached session until its inbound channel
// closes (nil) or ctx is done.
func (f *Feed) Run(ctx context.Context) error {
	s, err := f.session()
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case resp, ok := <-s.Inbound():
			if !ok {
				return nil
			}
			f.Apply(resp)
		}
	}
}

// Apply folds one response into the cache.
func (f *Feed) Apply(resp protocol.Response) {
	switch r := resp.(type) {
	case protocol.EventRecord:
		f.mu.Lock()
		added := f.tracker.Insert(r.PersistedEvent)
		f.mu.Unlock()
		if added {
			select {
			case f.changed <- struct{}{}:
			default:
			}
		}
	case protocol.Error:
		if r.Code == protocol.CodeNotFound {
			f.logger.Debug("broker reported not found", logpkg.Str("detail", r.Detail))
			return
		}
		f.logger.Warn("broker reported an error", logpkg.Str("code", string(r.Code)), logpkg.Str("detail", r.Detail))
	case protocol.Pong:
		f.logger.Debug("pong", logpkg.Int("bytes", len(r.Payload)))
	case protocol.Close:
		f.logger.Info("broker is closing", logpkg.Str("reason", string(r.Reason)))
	}
}

// Submit stamps body with the feed's identity and the current time and
// enqueues it.
func (f *Feed) Submit(ctx context.Context, body string) error {
	s, err := f.session()
	if err != nil {
		return err
	}
	ev := protocol.Event{Author: f.author, Machine: f.machine, Body: body, Timestamp: f.now().UTC()}
	return s.Send(ctx, protocol.NewEvent{Event: ev})
}

// Events returns the cached events in id order.
func (f *Feed) Events() []protocol.PersistedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tracker.Events()
}

// View returns the cached events that match filter, in id order.
func (f *Feed) View(filter Filter) []protocol.PersistedEvent {
	all := f.Events()
	out := all[:0]
	for _, ev := range all {
		if filter.Match(ev) {
			out = append(out, ev)
		}
	}
	return out
}

// Missing lists ids below the highest cached id that are not cached.
func (f *Feed) Missing() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tracker.Missing()
}

// Backfill requests every missing id without blocking and returns how many
// requests were queued.
func (f *Feed) Backfill() (int, error) {
	s, err := f.session()
	if err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tracker.Backfill(s.TrySend), nil
}

// Refresh clears the cache and requests the whole sequence again.
func (f *Feed) Refresh(ctx context.Context) error {
	s, err := f.session()
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.tracker.Reset()
	f.mu.Unlock()
	return s.Send(ctx, protocol.GetSince{ID: 0})
}

// CatchUp requests everything after the highest cached id, or the whole
// sequence when the cache is empty. Call it after attaching a new session.
func (f *Feed) CatchUp(ctx context.Context) error {
	s, err := f.session()
	if err != nil {
		return err
	}
	f.mu.Lock()
	last, ok := f.tracker.Last()
	f.mu.Unlock()
	from := uint64(0)
	if ok {
		from = last + 1
	}
	return s.Send(ctx, protocol.GetSince{ID: from})
}
