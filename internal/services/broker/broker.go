package brokersvc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/PhiYerion/bucface/internal/eventlog"
	"github.com/PhiYerion/bucface/internal/metrics"
	"github.com/PhiYerion/bucface/internal/protocol"
	"github.com/PhiYerion/bucface/internal/transport"
	logpkg "github.com/PhiYerion/bucface/pkg/log"
)

const (
	defaultOutboundQueue = 1024
	shutdownReason       = "broker shutting down"
)

var (
	// ErrStopped is returned once the fan-out loop has exited.
	ErrStopped = errors.New("broker: stopped")
	// ErrRunning is returned by a second call to Run.
	ErrRunning = errors.New("broker: already running")
)

// Options configures a Broker.
type Options struct {
	// OutboundQueue bounds the global response queue.
	OutboundQueue int
	Logger        logpkg.Logger
	Metrics       *metrics.Metrics
}

type ctlOp int

const (
	opRegister ctlOp = iota
	opUnregister
)

type control struct {
	op    ctlOp
	sink  *sink
	slot  int
	reply chan int
}

// Broker dispatches client requests and fans responses out to every
// connection.
type Broker struct {
	store   Store
	logger  logpkg.Logger
	metrics *metrics.Metrics

	outbound chan protocol.Response
	ctl      chan control
	done     chan struct{}
	started  atomic.Bool

	// serveMu orders serving.Add against the stop flag so no Serve call is
	// admitted once Wait may be blocked on serving.
	serveMu  sync.Mutex
	stopping bool
	serving  sync.WaitGroup
}

// New returns a Broker over store. Call Run before serving connections.
func New(store Store, opts Options) *Broker {
	if opts.OutboundQueue <= 0 {
		opts.OutboundQueue = defaultOutboundQueue
	}
	if opts.Logger == nil {
		opts.Logger = logpkg.NewLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	return &Broker{
		store:    store,
		logger:   opts.Logger.WithComponent("broker"),
		metrics:  opts.Metrics,
		outbound: make(chan protocol.Response, opts.OutboundQueue),
		ctl:      make(chan control),
		done:     make(chan struct{}),
	}
}

// Done is closed when Run has returned.
func (b *Broker) Done() <-chan struct{} { return b.done }

func (b *Broker) stopServing() {
	b.serveMu.Lock()
	b.stopping = true
	b.serveMu.Unlock()
}

// Wait blocks until Run and every Serve call have returned. The store may be
// closed after Wait.
func (b *Broker) Wait() {
	<-b.done
	b.serving.Wait()
}

// Run is the fan-out loop. It owns the connection registry and blocks until
// ctx is cancelled, then broadcasts Close and closes every connection.
func (b *Broker) Run(ctx context.Context) error {
	if !b.started.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer close(b.done)
	defer b.stopServing()

	reg := &registry{}
	b.logger.Info("fan-out started")
	for {
		select {
		case <-ctx.Done():
			b.shutdown(reg)
			return nil
		case c := <-b.ctl:
			switch c.op {
			case opRegister:
				c.reply <- reg.add(c.sink)
			case opUnregister:
				if reg.remove(c.slot, c.sink) {
					_ = c.sink.w.Close()
				}
			}
			b.metrics.Connections.Set(float64(reg.len()))
		case resp := <-b.outbound:
			b.broadcast(reg, resp)
		}
	}
}

func (b *Broker) shutdown(reg *registry) {
drain:
	for {
		select {
		case resp := <-b.outbound:
			b.broadcast(reg, resp)
		default:
			break drain
		}
	}
	b.broadcast(reg, protocol.Close{Reason: []byte(shutdownReason)})
	reg.each(func(slot int, s *sink) {
		reg.remove(slot, s)
		_ = s.w.Close()
	})
	b.metrics.Connections.Set(0)
	b.logger.Info("fan-out stopped")
}

// broadcast writes resp to every registered sink. A failed write removes and
// closes only that sink.
func (b *Broker) broadcast(reg *registry, resp protocol.Response) {
	frame, err := protocol.Encode(resp)
	if err != nil {
		b.logger.Error("failed to encode response", logpkg.Str("kind", resp.Kind().String()), logpkg.Err(err))
		return
	}
	b.metrics.BroadcastsTotal.WithLabelValues(resp.Kind().String()).Inc()
	reg.each(func(slot int, s *sink) {
		if err := s.w.WriteFrame(frame); err != nil {
			b.logger.Warn("dropping connection after failed write",
				logpkg.Str(logpkg.ConnKey, s.id), logpkg.Err(err))
			b.metrics.BroadcastFailures.Inc()
			reg.remove(slot, s)
			_ = s.w.Close()
		}
	})
	b.metrics.Connections.Set(float64(reg.len()))
}

func (b *Broker) register(ctx context.Context, s *sink) (int, error) {
	reply := make(chan int, 1)
	select {
	case b.ctl <- control{op: opRegister, sink: s, reply: reply}:
	case <-b.done:
		return 0, ErrStopped
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	return <-reply, nil
}

func (b *Broker) unregister(slot int, s *sink) {
	select {
	case b.ctl <- control{op: opUnregister, sink: s, slot: slot}:
	case <-b.done:
	}
	_ = s.w.Close()
}

func (b *Broker) publish(ctx context.Context, resp protocol.Response) error {
	select {
	case b.outbound <- resp:
		return nil
	case <-b.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Serve runs the reader loop for one connection until the transport fails or
// ctx is cancelled. The connection is registered for broadcasts for the
// duration of the call and closed on return.
func (b *Broker) Serve(ctx context.Context, conn transport.Conn) error {
	b.serveMu.Lock()
	if b.stopping {
		b.serveMu.Unlock()
		_ = conn.Close()
		return ErrStopped
	}
	b.serving.Add(1)
	b.serveMu.Unlock()
	defer b.serving.Done()

	r, w := transport.Split(conn)
	s := &sink{id: uuid.NewString(), w: w}
	logger := b.logger.With(logpkg.Str(logpkg.ConnKey, s.id))

	slot, err := b.register(ctx, s)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer b.unregister(slot, s)
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	logger.Debug("connection registered", logpkg.Int("slot", slot))
	for {
		frame, err := r.ReadFrame()
		if err != nil {
			if transport.IsClosed(err) || ctx.Err() != nil {
				logger.Debug("connection closed")
				return nil
			}
			logger.Warn("read failed", logpkg.Err(err))
			return err
		}
		req, err := protocol.DecodeRequest(frame)
		if err != nil {
			b.metrics.DecodeErrors.Inc()
			logger.Warn("skipping undecodable frame", logpkg.Err(err))
			continue
		}
		b.metrics.RequestsTotal.WithLabelValues(req.Kind().String()).Inc()
		if err := b.dispatch(ctx, logger, req); err != nil {
			if errors.Is(err, ErrStopped) || ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// dispatch runs one request against the store and publishes its responses.
func (b *Broker) dispatch(ctx context.Context, logger logpkg.Logger, req protocol.Request) error {
	switch r := req.(type) {
	case protocol.NewEvent:
		pe, err := b.store.Insert(ctx, r.Event)
		if err != nil {
			logger.Error("failed to insert event", logpkg.Err(err))
			return b.publish(ctx, protocol.Error{Code: protocol.CodeStore, Detail: err.Error()})
		}
		b.metrics.EventsInserted.Inc()
		logger.Debug("event inserted", logpkg.Uint64("id", pe.ID))
		return b.publish(ctx, protocol.EventRecord{PersistedEvent: pe})

	case protocol.GetEvent:
		pe, err := b.store.Lookup(r.ID)
		switch {
		case errors.Is(err, eventlog.ErrNotFound):
			return b.publish(ctx, protocol.Error{Code: protocol.CodeNotFound, Detail: fmt.Sprintf("event %d not found", r.ID)})
		case err != nil:
			logger.Error("failed to look up event", logpkg.Uint64("id", r.ID), logpkg.Err(err))
			return b.publish(ctx, protocol.Error{Code: protocol.CodeStore, Detail: err.Error()})
		}
		return b.publish(ctx, protocol.EventRecord{PersistedEvent: pe})

	case protocol.GetSince:
		return b.streamSince(ctx, logger, r.ID)

	case protocol.Ping:
		return b.publish(ctx, protocol.Pong{Payload: r.Payload})

	default:
		return b.publish(ctx, protocol.Error{Code: protocol.CodeInvalid, Detail: fmt.Sprintf("unsupported request %T", req)})
	}
}

func (b *Broker) streamSince(ctx context.Context, logger logpkg.Logger, from uint64) error {
	it, err := b.store.ScanSince(from)
	if err != nil {
		logger.Error("failed to scan events", logpkg.Uint64("from", from), logpkg.Err(err))
		return b.publish(ctx, protocol.Error{Code: protocol.CodeStore, Detail: err.Error()})
	}
	defer it.Close()

	n := 0
	for it.Next() {
		if err := b.publish(ctx, protocol.EventRecord{PersistedEvent: it.Event()}); err != nil {
			return err
		}
		n++
	}
	if err := it.Err(); err != nil {
		logger.Error("scan aborted", logpkg.Uint64("from", from), logpkg.Int("sent", n), logpkg.Err(err))
		return b.publish(ctx, protocol.Error{Code: protocol.CodeStore, Detail: err.Error()})
	}
	if n == 0 {
		return b.publish(ctx, protocol.Error{Code: protocol.CodeNotFound, Detail: fmt.Sprintf("no events since %d", from)})
	}
	return nil
}
