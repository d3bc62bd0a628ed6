package eventlog

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/PhiYerion/bucface/internal/protocol"
	pebblestore "github.com/PhiYerion/bucface/internal/storage/pebble"
)

// ErrNotFound is returned by Lookup when no event has the requested id.
var ErrNotFound = errors.New("eventlog: event not found")

// ErrExhausted is returned once the id space of a collection is used up.
var ErrExhausted = errors.New("eventlog: id space exhausted")

// StoreError wraps a storage failure observed by the log.
type StoreError struct {
	Op  string
	ID  uint64
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("eventlog: %s id %d: %v", e.Op, e.ID, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Log is the durable, densely numbered event collection. Ids start at 0 and
// every id below Next() is stored.
type Log struct {
	db         *pebblestore.DB
	collection string

	mu   sync.Mutex // serializes id assignment with the batch commit
	next atomic.Uint64
}

// Open loads the collection's next id from metadata (0 for a new collection).
func Open(db *pebblestore.DB, collection string) (*Log, error) {
	if !validCollection(collection) {
		return nil, fmt.Errorf("%w: %q", ErrBadCollection, collection)
	}
	l := &Log{db: db, collection: collection}
	meta, err := db.Get(KeyMeta(collection))
	switch {
	case errors.Is(err, pebblestore.ErrNotFound):
	case err != nil:
		return nil, &StoreError{Op: "open", Err: err}
	case len(meta) != 8:
		return nil, &StoreError{Op: "open", Err: fmt.Errorf("%w: meta is %d bytes", ErrCorrupt, len(meta))}
	default:
		l.next.Store(binary.BigEndian.Uint64(meta))
	}
	return l, nil
}

// Collection returns the collection name.
func (l *Log) Collection() string { return l.collection }

// Next returns the id the next Insert will assign.
func (l *Log) Next() uint64 { return l.next.Load() }

// Len returns the number of stored events.
func (l *Log) Len() uint64 { return l.next.Load() }

// Insert assigns the next id to ev and stores it. The entry and the advanced
// counter commit in one batch; a failed commit does not consume the id.
func (l *Log) Insert(ctx context.Context, ev protocol.Event) (protocol.PersistedEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.next.Load()
	if id == math.MaxUint64 {
		return protocol.PersistedEvent{}, &StoreError{Op: "insert", ID: id, Err: ErrExhausted}
	}
	pe := protocol.PersistedEvent{ID: id, Event: ev}
	payload, err := protocol.Encode(protocol.EventRecord{PersistedEvent: pe})
	if err != nil {
		return protocol.PersistedEvent{}, &StoreError{Op: "insert", ID: id, Err: err}
	}

	b := l.db.NewBatch()
	defer b.Close()
	if err := b.Set(KeyEntry(l.collection, id), EncodeRecord([]byte{recordV1}, payload), nil); err != nil {
		return protocol.PersistedEvent{}, &StoreError{Op: "insert", ID: id, Err: err}
	}
	var meta [8]byte
	binary.BigEndian.PutUint64(meta[:], id+1)
	if err := b.Set(KeyMeta(l.collection), meta[:], nil); err != nil {
		return protocol.PersistedEvent{}, &StoreError{Op: "insert", ID: id, Err: err}
	}
	if err := l.db.CommitBatch(ctx, b); err != nil {
		return protocol.PersistedEvent{}, &StoreError{Op: "insert", ID: id, Err: err}
	}
	l.next.Store(id + 1)
	return pe, nil
}

// Lookup returns the event stored under id.
func (l *Log) Lookup(id uint64) (protocol.PersistedEvent, error) {
	val, err := l.db.Get(KeyEntry(l.collection, id))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return protocol.PersistedEvent{}, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if err != nil {
		return protocol.PersistedEvent{}, &StoreError{Op: "lookup", ID: id, Err: err}
	}
	pe, err := decodeEntry(id, val)
	if err != nil {
		return protocol.PersistedEvent{}, &StoreError{Op: "lookup", ID: id, Err: err}
	}
	return pe, nil
}

func decodeEntry(id uint64, val []byte) (protocol.PersistedEvent, error) {
	dec, err := DecodeRecord(val)
	if err != nil {
		return protocol.PersistedEvent{}, err
	}
	if len(dec.Header) != 1 || dec.Header[0] != recordV1 {
		return protocol.PersistedEvent{}, fmt.Errorf("%w: unknown record header %x", ErrCorrupt, dec.Header)
	}
	m, err := protocol.Decode(dec.Payload)
	if err != nil {
		return protocol.PersistedEvent{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	rec, ok := m.(protocol.EventRecord)
	if !ok || rec.ID != id {
		return protocol.PersistedEvent{}, fmt.Errorf("%w: entry %d holds %s", ErrCorrupt, id, m.Kind())
	}
	return rec.PersistedEvent, nil
}
