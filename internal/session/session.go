package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PhiYerion/bucface/internal/config"
	"github.com/PhiYerion/bucface/internal/protocol"
	"github.com/PhiYerion/bucface/internal/transport"
	logpkg "github.com/PhiYerion/bucface/pkg/log"
)

// ErrClosed is returned by Send once the session has ended.
var ErrClosed = errors.New("session: closed")

// Options configures a Session.
type Options struct {
	OutboundCapacity int
	InboundCapacity  int
	// SendAttempts is the total number of writes tried per request.
	SendAttempts int
	RetryDelay   time.Duration
	// VerifyPayload is the probe Dial sends; nil uses DefaultVerifyPayload.
	VerifyPayload []byte
	// Transport applies to connections opened by Dial.
	Transport transport.Options
	Logger    logpkg.Logger
}

// DefaultOptions mirrors config.Default().Session.
func DefaultOptions() Options {
	return FromConfig(config.Default().Session)
}

// FromConfig builds Options from the session section of the config.
func FromConfig(c config.SessionConfig) Options {
	return Options{
		OutboundCapacity: c.OutboundCapacity,
		InboundCapacity:  c.InboundCapacity,
		SendAttempts:     c.SendAttempts,
		RetryDelay:       c.RetryDelay(),
		VerifyPayload:    []byte(c.VerifyPayload),
	}
}

func (o *Options) normalize() {
	d := config.Default().Session
	if o.OutboundCapacity <= 0 {
		o.OutboundCapacity = d.OutboundCapacity
	}
	if o.InboundCapacity <= 0 {
		o.InboundCapacity = d.InboundCapacity
	}
	if o.SendAttempts <= 0 {
		o.SendAttempts = d.SendAttempts
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = 0
	}
	if o.Logger == nil {
		o.Logger = logpkg.NewNopLogger()
	}
}

// SendFailure reports a request the sender gave up on.
type SendFailure struct {
	Request  protocol.Request
	Attempts int
	Err      error
}

func (f SendFailure) Error() string {
	return fmt.Sprintf("event not sent: %s after %d attempts: %v", f.Request.Kind(), f.Attempts, f.Err)
}

func (f SendFailure) Unwrap() error { return f.Err }

// Session is one live client connection with its sender and receiver.
type Session struct {
	id     string
	conn   transport.Conn
	opts   Options
	logger logpkg.Logger

	out      chan protocol.Request
	in       chan protocol.Response
	failures chan SendFailure
	// enqueue is held for reading by Send and TrySend and for writing while
	// the sender drains out after the session ends.
	enqueue sync.RWMutex

	closing   chan struct{}
	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// New starts a session over an already verified connection.
func New(conn transport.Conn, opts Options) *Session {
	opts.normalize()
	id := uuid.NewString()
	s := &Session{
		id:       id,
		conn:     conn,
		opts:     opts,
		logger:   opts.Logger.WithComponent("session").With(logpkg.Str(logpkg.SessionKey, id)),
		out:      make(chan protocol.Request, opts.OutboundCapacity),
		in:       make(chan protocol.Response, opts.InboundCapacity),
		failures: make(chan SendFailure, opts.OutboundCapacity+1),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	r, w := transport.Split(conn)
	s.wg.Add(2)
	go s.sendLoop(w)
	go s.recvLoop(r)
	return s
}

// Dial connects to url, verifies the connection and starts a session. A
// soft verification failure still returns a usable session.
func Dial(ctx context.Context, url string, opts Options) (*Session, Status, error) {
	opts.normalize()
	conn, err := transport.Dial(ctx, url, opts.Transport)
	if err != nil {
		return nil, StatusSuccess, err
	}
	status, err := Verify(ctx, conn, opts.VerifyPayload, opts.Logger)
	if err != nil {
		_ = conn.Close()
		return nil, status, err
	}
	return New(conn, opts), status, nil
}

// ID identifies the session in logs.
func (s *Session) ID() string { return s.id }

// Outbound is the bounded request channel drained by the sender.
func (s *Session) Outbound() chan<- protocol.Request { return s.out }

// Inbound carries decoded responses. It is closed when the receiver exits.
func (s *Session) Inbound() <-chan protocol.Response { return s.in }

// Failures reports requests dropped after exhausting send attempts or still
// queued when the session ended. Reports are discarded when nobody drains
// the channel.
func (s *Session) Failures() <-chan SendFailure { return s.failures }

// Done is closed once the receiver has observed the end of the connection.
func (s *Session) Done() <-chan struct{} { return s.done }

// Send enqueues req, blocking while the outbound channel is full.
func (s *Session) Send(ctx context.Context, req protocol.Request) error {
	s.enqueue.RLock()
	defer s.enqueue.RUnlock()
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.out <- req:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySend enqueues req without blocking and reports whether it was accepted.
func (s *Session) TrySend(req protocol.Request) bool {
	s.enqueue.RLock()
	defer s.enqueue.RUnlock()
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.out <- req:
		return true
	default:
		return false
	}
}

// Close tears the connection down. The receiver notices and ends the session.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closing)
		err = s.conn.Close()
	})
	return err
}

// Wait blocks until both goroutines have exited.
func (s *Session) Wait() { s.wg.Wait() }

func (s *Session) sendLoop(w transport.FrameWriter) {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			s.drain()
			return
		case req := <-s.out:
			s.deliver(w, req)
		}
	}
}

// drain reports every request still queued once the session has ended.
func (s *Session) drain() {
	s.enqueue.Lock()
	defer s.enqueue.Unlock()
	for {
		select {
		case req := <-s.out:
			s.logger.Error("event not sent", logpkg.Str("kind", req.Kind().String()), logpkg.Err(ErrClosed))
			s.report(SendFailure{Request: req, Err: ErrClosed})
		default:
			return
		}
	}
}

// deliver writes one request, retrying failed writes with a fixed delay.
func (s *Session) deliver(w transport.FrameWriter, req protocol.Request) {
	frame, err := protocol.Encode(req)
	if err != nil {
		s.report(SendFailure{Request: req, Err: err})
		return
	}
	var lastErr error
	attempts := 0
	for attempts < s.opts.SendAttempts {
		attempts++
		if lastErr = w.WriteFrame(frame); lastErr == nil {
			return
		}
		s.logger.Debug("write failed", logpkg.Int("attempt", attempts), logpkg.Err(lastErr))
		if attempts == s.opts.SendAttempts {
			break
		}
		t := time.NewTimer(s.opts.RetryDelay)
		select {
		case <-t.C:
		case <-s.done:
			t.Stop()
			s.report(SendFailure{Request: req, Attempts: attempts, Err: lastErr})
			return
		}
	}
	s.logger.Error("event not sent", logpkg.Str("kind", req.Kind().String()),
		logpkg.Int("attempts", attempts), logpkg.Err(lastErr))
	s.report(SendFailure{Request: req, Attempts: attempts, Err: lastErr})
}

func (s *Session) report(f SendFailure) {
	select {
	case s.failures <- f:
	default:
		s.logger.Warn("failure channel full, dropping report", logpkg.Str("kind", f.Request.Kind().String()))
	}
}

func (s *Session) recvLoop(r transport.FrameReader) {
	defer s.wg.Done()
	defer close(s.in)
	defer close(s.done)
	defer s.Close()

	for {
		frame, err := r.ReadFrame()
		if err != nil {
			if transport.IsClosed(err) {
				s.logger.Info("connection closed")
			} else {
				s.logger.Warn("read failed", logpkg.Err(err))
			}
			return
		}
		resp, err := protocol.DecodeResponse(frame)
		if err != nil {
			s.logger.Warn("skipping undecodable frame", logpkg.Err(err))
			continue
		}
		select {
		case s.in <- resp:
		case <-s.closing:
			return
		}
	}
}
