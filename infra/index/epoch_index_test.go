package index

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

const window = uint64(1_800_000_000_000)

func openIndex(t *testing.T, dir string) *EpochIndex {
	t.Helper()
	x, err := Open(dir, window, nil)
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	return x
}

func TestEpochIndexAddFindNeighbours(t *testing.T) {
	x := openIndex(t, t.TempDir())
	defer x.Close()

	if !x.Empty() {
		t.Fatal("fresh index should be empty")
	}
	for _, w := range []uint64{3 * window, window, 5 * window} {
		if err := x.Add(w); err != nil {
			t.Fatalf("add %d: %v", w, err)
		}
	}

	if !x.Has(window) || x.Has(2*window) {
		t.Fatal("membership mismatch")
	}
	if !x.HasLower(2*window) || x.HasLower(window-1) {
		t.Fatal("HasLower mismatch")
	}
	if !x.HasHigher(4*window) || x.HasHigher(5*window+1) {
		t.Fatal("HasHigher mismatch")
	}
	if w, ok := x.Floor(4 * window); !ok || w != 3*window {
		t.Fatalf("Floor = %d,%v", w, ok)
	}
	if w, ok := x.Last(); !ok || w != 5*window {
		t.Fatalf("Last = %d,%v", w, ok)
	}

	got := x.EpochsAfter(window)
	if len(got) != 2 || got[0] != 3*window || got[1] != 5*window {
		t.Fatalf("EpochsAfter = %v", got)
	}
	if all := x.Epochs(); len(all) != 3 || all[0] != window {
		t.Fatalf("Epochs = %v", all)
	}
}

func TestEpochIndexDuplicateAddKeepsSetAndTreeAligned(t *testing.T) {
	x := openIndex(t, t.TempDir())
	defer x.Close()

	_ = x.Add(window)
	if err := x.Add(window); !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("err = %v, want ErrDuplicateKey", err)
	}
	if x.Len() != 1 || len(x.Epochs()) != 1 {
		t.Fatalf("set %d tree %d", x.Len(), len(x.Epochs()))
	}
}

func TestEpochIndexPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	x := openIndex(t, dir)
	for i := uint64(1); i <= 20; i++ {
		_ = x.Add(i * window)
	}
	x.Remove(7 * window)
	shape := x.tree.Serialize()
	if err := x.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	y := openIndex(t, dir)
	defer y.Close()

	if y.Len() != 19 || y.Has(7*window) || !y.Has(20*window) {
		t.Fatalf("reloaded index wrong: len %d", y.Len())
	}
	again := y.tree.Serialize()
	if len(again) != len(shape) {
		t.Fatalf("shape length %d, want %d", len(again), len(shape))
	}
	for i := range shape {
		if shape[i] != again[i] {
			t.Fatalf("shape differs at %d", i)
		}
	}
}

func TestEpochIndexFileLayout(t *testing.T) {
	dir := t.TempDir()
	x := openIndex(t, dir)
	_ = x.Add(window)
	if err := x.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	defer x.Close()

	raw, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		t.Fatal(err)
	}
	// window, count=3, then [window, EMPTY, EMPTY]
	if len(raw) != 16+3*8 {
		t.Fatalf("file size %d", len(raw))
	}
	if binary.LittleEndian.Uint64(raw[0:8]) != window {
		t.Fatal("window header mismatch")
	}
	if binary.LittleEndian.Uint64(raw[8:16]) != 3 {
		t.Fatal("entry count mismatch")
	}
	if binary.LittleEndian.Uint64(raw[16:24]) != window || binary.LittleEndian.Uint64(raw[24:32]) != EmptyKey {
		t.Fatal("entries mismatch")
	}
}

func TestEpochIndexWindowMismatch(t *testing.T) {
	dir := t.TempDir()
	x := openIndex(t, dir)
	_ = x.Add(window)
	_ = x.Close()

	if _, err := Open(dir, window*2, nil); !errors.Is(err, ErrWindowMismatch) {
		t.Fatalf("err = %v, want ErrWindowMismatch", err)
	}
}

func TestEpochIndexConcurrentMutationsFlushLatest(t *testing.T) {
	dir := t.TempDir()
	x := openIndex(t, dir)

	var wg sync.WaitGroup
	for g := uint64(0); g < 4; g++ {
		wg.Add(1)
		go func(g uint64) {
			defer wg.Done()
			for i := uint64(0); i < 50; i++ {
				_ = x.Add((g*1000 + i + 1) * window)
			}
		}(g)
	}
	wg.Wait()
	if err := x.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	y := openIndex(t, dir)
	defer y.Close()
	if y.Len() != 200 {
		t.Fatalf("reloaded %d windows, want 200", y.Len())
	}
}

func TestEpochIndexSyncAfterClose(t *testing.T) {
	x := openIndex(t, t.TempDir())
	_ = x.Close()
	if err := x.Sync(); err == nil {
		t.Fatal("sync after close should fail")
	}
	if err := x.Add(window); !errors.Is(err, ErrClosed) {
		t.Fatalf("add after close: err = %v", err)
	}
	if x.Has(window) {
		t.Fatal("add after close changed the index")
	}
}

func TestEpochIndexRejectsHugeEntryCount(t *testing.T) {
	dir := t.TempDir()
	raw := make([]byte, 16+8)
	binary.LittleEndian.PutUint64(raw[0:8], window)
	binary.LittleEndian.PutUint64(raw[8:16], 1<<62)
	binary.LittleEndian.PutUint64(raw[16:24], window)
	if err := os.WriteFile(filepath.Join(dir, FileName), raw, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Open(dir, window, nil); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("err = %v, want ErrCorrupt", err)
	}
}
