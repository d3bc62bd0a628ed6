package brokersvc

import "github.com/PhiYerion/bucface/internal/transport"

// sink is the write half of one registered connection.
type sink struct {
	id string
	w  transport.FrameWriter
}

// registry is an arena of sinks indexed by slot. Freed slots are reused.
// It is owned by the fan-out goroutine and never shared.
type registry struct {
	slots []*sink
	free  []int
	n     int
}

func (r *registry) add(s *sink) int {
	r.n++
	if k := len(r.free); k > 0 {
		slot := r.free[k-1]
		r.free = r.free[:k-1]
		r.slots[slot] = s
		return slot
	}
	r.slots = append(r.slots, s)
	return len(r.slots) - 1
}

// remove frees slot only if it still holds s; a slot may already have been
// freed by a failed write and handed to a newer connection.
func (r *registry) remove(slot int, s *sink) bool {
	if slot < 0 || slot >= len(r.slots) || r.slots[slot] != s {
		return false
	}
	r.slots[slot] = nil
	r.free = append(r.free, slot)
	r.n--
	return true
}

func (r *registry) len() int { return r.n }

func (r *registry) each(fn func(slot int, s *sink)) {
	for slot, s := range r.slots {
		if s != nil {
			fn(slot, s)
		}
	}
}
