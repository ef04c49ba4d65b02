package service

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"epochbook/infra/index"
)

type symbolState struct {
	mu    sync.RWMutex
	index *index.EpochIndex

	// closed is set under mu once the index is stopped.
	closed bool
}

// lock takes st.mu for a mutation. A state captured before Close fails here
// instead of writing past the stopped index flusher.
func (st *symbolState) lock() error {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return ErrClosed
	}
	return nil
}

// symbol returns the state for name, loading it on first use. First use also
// resolves temp files left behind by an interrupted rewrite.
func (e *Engine) symbol(name string) (*symbolState, error) {
	if err := validateSymbol(name); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrClosed
	}
	if st, ok := e.symbols[name]; ok {
		return st, nil
	}

	log := e.log.WithField("symbol", name)
	if n, err := e.store.Recover(name); err != nil {
		return nil, err
	} else if n > 0 {
		log.WithField("files", n).Warn("recovered interrupted chunk rewrites")
	}

	idx, err := index.Open(e.store.SymbolDir(name), e.cfg.EpochWindow, log.WithField("component", "index"))
	if err != nil {
		return nil, err
	}

	st := &symbolState{index: idx}
	e.symbols[name] = st
	e.metrics.SetSymbolsOpen(len(e.symbols))

	log.WithFields(logrus.Fields{
		"windows": idx.Len(),
	}).Debug("symbol loaded")
	return st, nil
}

// lookup is symbol for read paths: a symbol with no data directory yields
// nil without creating any state.
func (e *Engine) lookup(name string) (*symbolState, error) {
	if err := validateSymbol(name); err != nil {
		return nil, err
	}

	e.mu.Lock()
	st, ok := e.symbols[name]
	closed := e.closed
	e.mu.Unlock()

	if closed {
		return nil, ErrClosed
	}
	if ok {
		return st, nil
	}
	if !e.store.HasSymbol(name) {
		return nil, nil
	}
	return e.symbol(name)
}

// Symbols lists the symbols loaded so far, sorted.
func (e *Engine) Symbols() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]string, 0, len(e.symbols))
	for name := range e.symbols {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Windows returns the indexed window starts for symbol, ascending.
func (e *Engine) Windows(symbol string) ([]uint64, error) {
	st, err := e.lookup(symbol)
	if err != nil || st == nil {
		return nil, err
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.index.Epochs(), nil
}

// Sync forces every loaded index to disk.
func (e *Engine) Sync() error {
	e.mu.Lock()
	states := make([]*symbolState, 0, len(e.symbols))
	for _, st := range e.symbols {
		states = append(states, st)
	}
	e.mu.Unlock()

	for _, st := range states {
		if err := st.index.Sync(); err != nil {
			return err
		}
	}
	return nil
}
