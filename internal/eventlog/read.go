package eventlog

import (
	"github.com/cockroachdb/pebble"

	"github.com/PhiYerion/bucface/internal/protocol"
)

// Scanner walks stored events in increasing id order. It reads a
// point-in-time view taken when the scan started and cannot be restarted.
//
//	sc, err := l.ScanSince(5)
//	if err != nil { ... }
//	defer sc.Close()
//	for sc.Next() {
//	    use(sc.Event())
//	}
//	if err := sc.Err(); err != nil { ... }
type Scanner struct {
	it      *pebble.Iterator
	started bool
	done    bool
	cur     protocol.PersistedEvent
	err     error
}

// ScanSince returns a Scanner over every event with id >= id.
func (l *Log) ScanSince(id uint64) (*Scanner, error) {
	it, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: KeyEntry(l.collection, id),
		UpperBound: entryUpperBound(l.collection),
	})
	if err != nil {
		return nil, &StoreError{Op: "scan", ID: id, Err: err}
	}
	return &Scanner{it: it}, nil
}

// Next advances to the next event. It returns false at the end of the range
// or on error; check Err afterwards.
func (s *Scanner) Next() bool {
	if s.done {
		return false
	}
	var ok bool
	if !s.started {
		s.started = true
		ok = s.it.First()
	} else {
		ok = s.it.Next()
	}
	if !ok {
		s.done = true
		if err := s.it.Error(); err != nil {
			s.err = &StoreError{Op: "scan", ID: s.cur.ID, Err: err}
		}
		return false
	}
	id := idFromKey(s.it.Key())
	pe, err := decodeEntry(id, s.it.Value())
	if err != nil {
		s.done = true
		s.err = &StoreError{Op: "scan", ID: id, Err: err}
		return false
	}
	s.cur = pe
	return true
}

// Event returns the event at the current position.
func (s *Scanner) Event() protocol.PersistedEvent { return s.cur }

// Err returns the first error met by Next.
func (s *Scanner) Err() error { return s.err }

// Close releases the underlying iterator.
func (s *Scanner) Close() error {
	if s.it == nil {
		return nil
	}
	err := s.it.Close()
	s.it = nil
	s.done = true
	return err
}
