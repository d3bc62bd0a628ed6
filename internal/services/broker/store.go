package brokersvc

import (
	"context"

	"github.com/PhiYerion/bucface/internal/eventlog"
	"github.com/PhiYerion/bucface/internal/protocol"
)

// Iterator walks persisted events in id order.
type Iterator interface {
	Next() bool
	Event() protocol.PersistedEvent
	Err() error
	Close() error
}

// Store is the persistence the broker dispatches requests to.
type Store interface {
	Insert(ctx context.Context, ev protocol.Event) (protocol.PersistedEvent, error)
	Lookup(id uint64) (protocol.PersistedEvent, error)
	ScanSince(id uint64) (Iterator, error)
}

type logStore struct{ l *eventlog.Log }

// LogStore adapts an event log to Store.
func LogStore(l *eventlog.Log) Store { return logStore{l: l} }

func (s logStore) Insert(ctx context.Context, ev protocol.Event) (protocol.PersistedEvent, error) {
	return s.l.Insert(ctx, ev)
}

func (s logStore) Lookup(id uint64) (protocol.PersistedEvent, error) { return s.l.Lookup(id) }

func (s logStore) ScanSince(id uint64) (Iterator, error) {
	sc, err := s.l.ScanSince(id)
	if err != nil {
		return nil, err
	}
	return sc, nil
}
