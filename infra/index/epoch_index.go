package index

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
)

// FileName is the per-symbol index file inside the symbol directory.
const FileName = "IDX.dat"

var ErrWindowMismatch = errors.New("index: stored epoch window differs from configured window")

// EpochIndex is the ordered set of window starts that have a chunk file,
// for one symbol. The hash set is authoritative for membership; the tree
// serves ordered and nearest-neighbour lookups and is what gets persisted.
//
// File layout, little endian:
//
//	[epoch_window:u64][entry_count:u64][entry:u64 ...]
//
// where entries are the tree's level-order serialization.
type EpochIndex struct {
	path   string
	window uint64
	log    *logrus.Entry

	mu   sync.RWMutex
	tree *Tree
	set  map[uint64]struct{}

	flusher *flusher
}

// Open loads dir/IDX.dat if present, otherwise starts empty.
func Open(dir string, window uint64, log *logrus.Entry) (*EpochIndex, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	x := &EpochIndex{
		path:   filepath.Join(dir, FileName),
		window: window,
		log:    log,
		tree:   NewTree(),
		set:    make(map[uint64]struct{}),
	}
	if err := x.load(); err != nil {
		return nil, err
	}

	x.flusher = newFlusher(x.flush, log)
	return x, nil
}

func (x *EpochIndex) Window() uint64 {
	return x.window
}

// Has reports whether a chunk is indexed at exactly window.
func (x *EpochIndex) Has(window uint64) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.set[window]
	return ok
}

// Add indexes window and schedules a flush. It fails with ErrClosed once
// Close has begun, since no later flush would persist the entry.
func (x *EpochIndex) Add(window uint64) error {
	if x.flusher.closing() {
		return errors.Wrapf(ErrClosed, "add window %d", window)
	}
	x.mu.Lock()
	if _, ok := x.set[window]; ok {
		x.mu.Unlock()
		return errors.Wrapf(ErrDuplicateKey, "window %d", window)
	}
	if err := x.tree.Insert(window); err != nil {
		x.mu.Unlock()
		return err
	}
	x.set[window] = struct{}{}
	x.mu.Unlock()

	x.flusher.request()
	return nil
}

// Remove drops window and schedules a flush. Absent windows are a no-op.
func (x *EpochIndex) Remove(window uint64) {
	x.mu.Lock()
	if _, ok := x.set[window]; !ok {
		x.mu.Unlock()
		return
	}
	x.tree.Erase(window)
	delete(x.set, window)
	x.mu.Unlock()

	x.flusher.request()
}

// HasHigher reports whether any indexed window is >= w.
func (x *EpochIndex) HasHigher(w uint64) bool {
	_, ok := x.Ceil(w)
	return ok
}

// HasLower reports whether any indexed window is <= w.
func (x *EpochIndex) HasLower(w uint64) bool {
	_, ok := x.Floor(w)
	return ok
}

// Floor returns the greatest indexed window <= w.
func (x *EpochIndex) Floor(w uint64) (uint64, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	k := x.tree.FirstLower(w)
	return k, k != EmptyKey
}

// Ceil returns the smallest indexed window >= w.
func (x *EpochIndex) Ceil(w uint64) (uint64, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	k := x.tree.FirstHigher(w)
	return k, k != EmptyKey
}

// Last returns the greatest indexed window.
func (x *EpochIndex) Last() (uint64, bool) {
	return x.Floor(EmptyKey - 1)
}

// Epochs returns every indexed window, ascending.
func (x *EpochIndex) Epochs() []uint64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.tree.SerializeInorder()
}

// EpochsAfter returns the indexed windows strictly greater than w, ascending.
func (x *EpochIndex) EpochsAfter(w uint64) []uint64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.tree.SerializeInorderFrom(w)
}

func (x *EpochIndex) Empty() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.set) == 0
}

func (x *EpochIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.set)
}

// Sync writes the current state to disk before returning.
func (x *EpochIndex) Sync() error {
	return x.flusher.sync()
}

// Close stops the flush worker after a final flush.
func (x *EpochIndex) Close() error {
	return x.flusher.close()
}

// ---- persistence ----

func (x *EpochIndex) load() error {
	f, err := os.Open(x.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "open %s", x.path)
	}
	defer f.Close()

	r := bufio.NewReader(f)

	var hdr [16]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return errors.Wrapf(ErrCorrupt, "%s header: %v", x.path, err)
	}
	window := binary.LittleEndian.Uint64(hdr[0:8])
	n := binary.LittleEndian.Uint64(hdr[8:16])
	if window != x.window {
		return errors.Wrapf(ErrWindowMismatch, "%s has %d, configured %d", x.path, window, x.window)
	}

	entries := make([]uint64, 0, min(n, 1<<16))
	var buf [8]byte
	for i := uint64(0); i < n; i++ {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return errors.Wrapf(ErrCorrupt, "%s entry %d: %v", x.path, i, err)
		}
		entries = append(entries, binary.LittleEndian.Uint64(buf[:]))
	}

	if err := x.tree.Deserialize(entries); err != nil {
		return errors.Wrapf(err, "load %s", x.path)
	}
	for _, k := range entries {
		if k != EmptyKey {
			x.set[k] = struct{}{}
		}
	}
	return nil
}

// flush writes the latest state through a temp file and rename so a reader
// never sees a half-written index.
func (x *EpochIndex) flush() error {
	x.mu.RLock()
	entries := x.tree.Serialize()
	x.mu.RUnlock()

	buf := make([]byte, 16+8*len(entries))
	binary.LittleEndian.PutUint64(buf[0:8], x.window)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(len(entries)))
	for i, k := range entries {
		binary.LittleEndian.PutUint64(buf[16+8*i:], k)
	}

	if err := os.MkdirAll(filepath.Dir(x.path), 0o755); err != nil {
		return errors.Wrap(err, "create index dir")
	}
	tmp := x.path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return errors.Wrapf(err, "write %s", tmp)
	}
	if err := os.Rename(tmp, x.path); err != nil {
		return errors.Wrapf(err, "rename %s", tmp)
	}
	return nil
}
