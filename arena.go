package shardio

// opTable is a stable-indexed slot arena correlating in-flight
// operations with completion tokens. A token packs the slot index and
// a per-slot generation counter, so a recycled slot never resolves a
// stale token. Slots pin the operation (and therefore its buffers)
// until the completion is observed.
type opTable struct {
	slots []opSlot
	free  int32 // head of the free list, -1 when exhausted
	live  int
}

type opSlot struct {
	op   *Operation
	next int32
	gen  uint32
	used bool
}

func newOpTable(size int) *opTable {
	tb := &opTable{slots: make([]opSlot, size), free: 0}
	for i := range tb.slots {
		tb.slots[i].next = int32(i + 1)
	}
	tb.slots[size-1].next = -1
	return tb
}

// alloc pins op into a free slot and returns its token. Returns false
// when the table is full.
func (tb *opTable) alloc(op *Operation) (uint64, bool) {
	if tb.free < 0 {
		return 0, false
	}
	i := tb.free
	s := &tb.slots[i]
	tb.free = s.next
	s.op = op
	s.used = true
	s.gen++
	tb.live++
	// Index is offset by one so tokens never collide with the
	// backend's reserved low values.
	return uint64(uint32(i+1))<<32 | uint64(s.gen), true
}

// take resolves a token, releases its slot, and returns the pinned
// operation. Returns false for stale or unknown tokens.
func (tb *opTable) take(token uint64) (*Operation, bool) {
	i := int32(token>>32) - 1
	if i < 0 || int(i) >= len(tb.slots) {
		return nil, false
	}
	s := &tb.slots[i]
	if !s.used || s.gen != uint32(token) {
		return nil, false
	}
	op := s.op
	s.op = nil
	s.used = false
	s.next = tb.free
	tb.free = i
	tb.live--
	return op, true
}

// contains reports whether the token refers to a live slot.
func (tb *opTable) contains(token uint64) bool {
	i := int32(token>>32) - 1
	if i < 0 || int(i) >= len(tb.slots) {
		return false
	}
	s := &tb.slots[i]
	return s.used && s.gen == uint32(token)
}
