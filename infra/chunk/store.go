package chunk

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
)

const (
	fileSuffix = ".dat"
	tempSuffix = "_OLD.dat"
)

var ErrNoChunk = errors.New("chunk: no such chunk")

// Store maps (symbol, window) pairs to chunk files under a data root:
//
//	<root>/<symbol>/<window>.dat
//
// Every rewrite renames the live file to <window>_OLD.dat, builds the new
// content from it, writes the live name and removes the temp copy.
type Store struct {
	root string
	log  *logrus.Entry
}

func NewStore(root string, log *logrus.Entry) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create data root %s", root)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Store{root: root, log: log}, nil
}

func (s *Store) Root() string {
	return s.root
}

func (s *Store) SymbolDir(symbol string) string {
	return filepath.Join(s.root, symbol)
}

func (s *Store) Path(symbol string, window uint64) string {
	return filepath.Join(s.SymbolDir(symbol), strconv.FormatUint(window, 10)+fileSuffix)
}

// TempPath is where a chunk sits while a rewrite is in flight.
func (s *Store) TempPath(symbol string, window uint64) string {
	return filepath.Join(s.SymbolDir(symbol), strconv.FormatUint(window, 10)+tempSuffix)
}

// HasSymbol reports whether any data directory exists for symbol.
func (s *Store) HasSymbol(symbol string) bool {
	info, err := os.Stat(s.SymbolDir(symbol))
	return err == nil && info.IsDir()
}

func (s *Store) Load(symbol string, window uint64) (*Chunk, error) {
	path := s.Path(symbol, window)
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrapf(ErrNoChunk, "%s", path)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	c, err := Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return c, nil
}

// Create writes a brand new chunk file. An existing file is an error.
func (s *Store) Create(symbol string, window uint64, c *Chunk) error {
	if err := os.MkdirAll(s.SymbolDir(symbol), 0o755); err != nil {
		return errors.Wrapf(err, "create symbol dir %s", symbol)
	}

	path := s.Path(symbol, window)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	if err := writeAndClose(f, c); err != nil {
		_ = os.Remove(path)
		return errors.Wrapf(err, "write %s", path)
	}

	s.log.WithFields(logrus.Fields{
		"symbol": symbol,
		"window": window,
		"deltas": len(c.Deltas),
	}).Debug("chunk created")
	return nil
}

// Rewrite replaces the chunk wholesale. fn edits the decoded chunk in place;
// if fn fails the original file is restored untouched. A chunk left with no
// deltas is removed and removed is reported true.
func (s *Store) Rewrite(symbol string, window uint64, fn func(*Chunk) error) (removed bool, err error) {
	live := s.Path(symbol, window)
	temp := s.TempPath(symbol, window)

	// 1. Move the live file aside.
	if err := os.Rename(live, temp); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, errors.Wrapf(ErrNoChunk, "%s", live)
		}
		return false, errors.Wrapf(err, "rename %s", live)
	}
	restore := func(cause error) error {
		_ = os.Remove(live)
		if rerr := os.Rename(temp, live); rerr != nil {
			return errors.CombineErrors(cause, errors.Wrapf(rerr, "restore %s", live))
		}
		return cause
	}

	// 2. Read it fully and build the new content.
	raw, err := os.ReadFile(temp)
	if err != nil {
		return false, restore(errors.Wrapf(err, "read %s", temp))
	}
	c, err := Decode(bytes.NewReader(raw))
	if err != nil {
		return false, restore(errors.Wrapf(err, "decode %s", temp))
	}
	if err := fn(c); err != nil {
		return false, restore(err)
	}

	// 3. Write the replacement, or drop the chunk when it is now empty.
	if len(c.Deltas) == 0 {
		if err := os.Remove(temp); err != nil {
			return false, restore(errors.Wrapf(err, "remove %s", temp))
		}
		return true, nil
	}

	f, err := os.OpenFile(live, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return false, restore(errors.Wrapf(err, "create %s", live))
	}
	if err := writeAndClose(f, c); err != nil {
		return false, restore(errors.Wrapf(err, "write %s", live))
	}

	// 4. Drop the temp copy.
	if err := os.Remove(temp); err != nil {
		return false, errors.Wrapf(err, "remove %s", temp)
	}
	return false, nil
}

// OverwriteDelta replaces delta i in place. Delta records are fixed width
// and the header is unchanged, so the record's offset is stable.
func (s *Store) OverwriteDelta(symbol string, window uint64, h Header, i int, d Delta) error {
	if uint64(i) >= h.UpdateSize {
		return errors.Newf("chunk: delta %d out of range (%d)", i, h.UpdateSize)
	}

	path := s.Path(symbol, window)
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return errors.Wrapf(ErrNoChunk, "%s", path)
		}
		return errors.Wrapf(err, "open %s", path)
	}

	var buf [DeltaSize]byte
	putDelta(buf[:], d)
	if _, err := f.WriteAt(buf[:], DeltaOffset(h, i)); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "write %s", path)
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "close %s", path)
	}
	return nil
}

func (s *Store) Remove(symbol string, window uint64) error {
	path := s.Path(symbol, window)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrapf(err, "remove %s", path)
	}
	return nil
}

// Recover resolves temp files left behind by an interrupted rewrite. A temp
// file whose live file is missing is moved back; otherwise it is discarded.
// It returns the number of files handled.
func (s *Store) Recover(symbol string) (int, error) {
	entries, err := os.ReadDir(s.SymbolDir(symbol))
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "list %s", symbol)
	}

	n := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, tempSuffix) {
			continue
		}
		window, err := strconv.ParseUint(strings.TrimSuffix(name, tempSuffix), 10, 64)
		if err != nil {
			continue
		}

		live, temp := s.Path(symbol, window), s.TempPath(symbol, window)
		if _, err := os.Stat(live); err == nil {
			err = os.Remove(temp)
			s.log.WithField("file", temp).Warn("discarded stale chunk temp file")
			if err != nil {
				return n, errors.Wrapf(err, "remove %s", temp)
			}
		} else {
			err = os.Rename(temp, live)
			s.log.WithField("file", live).Warn("restored chunk from temp file")
			if err != nil {
				return n, errors.Wrapf(err, "restore %s", live)
			}
		}
		n++
	}
	return n, nil
}

// Windows lists the window starts that have a live chunk file for symbol.
func (s *Store) Windows(symbol string) ([]uint64, error) {
	entries, err := os.ReadDir(s.SymbolDir(symbol))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", symbol)
	}

	var out []uint64
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasSuffix(name, tempSuffix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		w, err := strconv.ParseUint(strings.TrimSuffix(name, fileSuffix), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, w)
	}
	return out, nil
}

func writeAndClose(f *os.File, c *Chunk) error {
	if err := c.Encode(f); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}
