package sequence

import (
	"sync"
	"testing"
)

func TestSequencerMonotonic(t *testing.T) {
	s := New(10)
	if got := s.Next(); got != 11 {
		t.Fatalf("Next = %d, want 11", got)
	}
	s.AdvanceTo(5)
	if got := s.Current(); got != 11 {
		t.Fatalf("AdvanceTo lowered the sequence to %d", got)
	}
	s.AdvanceTo(40)
	if got := s.Next(); got != 41 {
		t.Fatalf("Next = %d, want 41", got)
	}
}

func TestSequencerConcurrentUnique(t *testing.T) {
	s := New(0)
	var (
		mu   sync.Mutex
		seen = make(map[uint64]bool)
		wg   sync.WaitGroup
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				id := s.Next()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if len(seen) != 8000 || s.Current() != 8000 {
		t.Fatalf("unique ids %d, current %d", len(seen), s.Current())
	}
}
