// Package gaps keeps a client's id-ordered cache of persisted events and
// works out which ids it has not seen yet.
package gaps

import (
	"sort"

	"github.com/PhiYerion/bucface/internal/protocol"
	logpkg "github.com/PhiYerion/bucface/pkg/log"
)

// DefaultLimit caps how many missing ids one Missing call returns.
const DefaultLimit = 4096

// Tracker holds events sorted by id, with a parallel id slice used for
// binary search. It is not safe for concurrent use.
type Tracker struct {
	ids    []uint64
	events []protocol.PersistedEvent
	limit  int
	logger logpkg.Logger
}

// New returns an empty tracker.
func New(logger logpkg.Logger) *Tracker {
	if logger == nil {
		logger = logpkg.NewNopLogger()
	}
	return &Tracker{limit: DefaultLimit, logger: logger.WithComponent("gaps")}
}

// SetLimit changes the Missing cap; n <= 0 restores DefaultLimit.
func (t *Tracker) SetLimit(n int) {
	if n <= 0 {
		n = DefaultLimit
	}
	t.limit = n
}

// Insert adds ev at its sorted position. A duplicate id is logged and
// dropped; Insert then returns false.
func (t *Tracker) Insert(ev protocol.PersistedEvent) bool {
	i := sort.Search(len(t.ids), func(i int) bool { return t.ids[i] >= ev.ID })
	if i < len(t.ids) && t.ids[i] == ev.ID {
		t.logger.Warn("dropping duplicate event", logpkg.Uint64("id", ev.ID))
		return false
	}
	t.ids = append(t.ids, 0)
	copy(t.ids[i+1:], t.ids[i:])
	t.ids[i] = ev.ID

	t.events = append(t.events, protocol.PersistedEvent{})
	copy(t.events[i+1:], t.events[i:])
	t.events[i] = ev
	return true
}

// Missing returns the ids below the highest cached id that are not cached,
// in increasing order, stopping after the tracker's limit. Later calls pick
// up the rest once the first batch has been filled.
func (t *Tracker) Missing() []uint64 {
	n := len(t.ids)
	if n == 0 {
		return nil
	}
	last := t.ids[n-1]
	if last == uint64(n-1) {
		return nil
	}

	want := last - uint64(n-1)
	size := want
	if size > uint64(t.limit) {
		size = uint64(t.limit)
	}
	missing := make([]uint64, 0, size)
	var cursor uint64
walk:
	for _, id := range t.ids {
		for ; cursor < id; cursor++ {
			if len(missing) == t.limit {
				break walk
			}
			missing = append(missing, cursor)
		}
		cursor = id + 1
	}

	if uint64(len(missing)) != size {
		t.logger.Error("missing-id count does not match cache shape",
			logpkg.Int("missing", len(missing)), logpkg.Uint64("expected", size),
			logpkg.Uint64("last", last), logpkg.Int("cached", n))
	}
	return missing
}

// Backfill asks for every missing id through send, one GetEvent each, and
// returns how many requests send accepted. It stops at the first refusal.
func (t *Tracker) Backfill(send func(protocol.Request) bool) int {
	n := 0
	for _, id := range t.Missing() {
		if !send(protocol.GetEvent{ID: id}) {
			t.logger.Debug("backfill stopped, outbound full", logpkg.Int("requested", n))
			break
		}
		n++
	}
	return n
}

// Events returns a copy of the cache in id order.
func (t *Tracker) Events() []protocol.PersistedEvent {
	return append([]protocol.PersistedEvent(nil), t.events...)
}

// Len returns the number of cached events.
func (t *Tracker) Len() int { return len(t.ids) }

// Last returns the highest cached id; ok is false when the cache is empty.
func (t *Tracker) Last() (id uint64, ok bool) {
	if len(t.ids) == 0 {
		return 0, false
	}
	return t.ids[len(t.ids)-1], true
}

// Reset empties the cache.
func (t *Tracker) Reset() {
	t.ids = t.ids[:0]
	t.events = t.events[:0]
}
