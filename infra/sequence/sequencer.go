package sequence

import "sync/atomic"

// Sequencer hands out strictly increasing ids. The outbox uses it for
// record keys so scans return changes in commit order.
type Sequencer struct {
	last atomic.Uint64
}

// New starts after start: the first Next returns start+1.
func New(start uint64) *Sequencer {
	s := &Sequencer{}
	s.last.Store(start)
	return s
}

func (s *Sequencer) Next() uint64 {
	return s.last.Add(1)
}

// Current is the last id handed out.
func (s *Sequencer) Current() uint64 {
	return s.last.Load()
}

// AdvanceTo raises the sequence to at least v. Lower values are ignored,
// so ids already issued are never handed out again.
func (s *Sequencer) AdvanceTo(v uint64) {
	for {
		cur := s.last.Load()
		if v <= cur || s.last.CompareAndSwap(cur, v) {
			return
		}
	}
}
