package service

import (
	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"

	"epochbook/domain/orderbook"
	"epochbook/infra/chunk"
)

// Insert routes ev into the chunk for its window and returns that chunk's
// path. Later chunk bases are brought up to date before Insert returns.
func (e *Engine) Insert(ev orderbook.Event) (path string, err error) {
	defer func() { e.metrics.Operation("insert", err) }()

	if err := validateEvent(ev); err != nil {
		return "", err
	}
	st, err := e.symbol(ev.Symbol)
	if err != nil {
		return "", err
	}

	if err := st.lock(); err != nil {
		return "", err
	}
	defer st.mu.Unlock()

	w, err := e.insertLocked(st, ev)
	if err != nil {
		e.log.WithError(err).WithField("event", ev.String()).Warn("insert rejected")
		return "", err
	}

	e.record(orderbook.OpInsert, ev, w)
	return e.store.Path(ev.Symbol, w), nil
}

// insertLocked picks one of five routes by where W, the event's window,
// sits among the indexed windows:
//
//  1. nothing indexed:           new chunk, empty base
//  2. nothing indexed <= W:      new chunk, empty base, cascade
//  3. nothing indexed >= W:      new chunk seeded from current state
//  4. W indexed:                 insert into the chunk, cascade
//  5. indexed windows either side: new chunk seeded from state at W, cascade
func (e *Engine) insertLocked(st *symbolState, ev orderbook.Event) (uint64, error) {
	w := e.windowStart(ev.Epoch)
	x := st.index

	switch {
	case x.Empty():
		return w, e.createEmptyBase(st, w, ev)

	case !x.HasLower(w):
		if err := e.createEmptyBase(st, w, ev); err != nil {
			return w, err
		}
		return w, e.reconfigAhead(st, ev.Symbol, ev.Epoch, []orderbook.Event{ev})

	case !x.HasHigher(w):
		return w, e.createSeeded(st, w, ev)

	case x.Has(w):
		if _, err := e.store.Rewrite(ev.Symbol, w, func(c *chunk.Chunk) error {
			c.Insert(chunk.DeltaOf(ev))
			return nil
		}); err != nil {
			return w, err
		}
		e.metrics.ChunkWrite("rewrite")
		return w, e.reconfigAhead(st, ev.Symbol, ev.Epoch, []orderbook.Event{ev})

	case x.HasLower(w) && x.HasHigher(w):
		if err := e.createSeeded(st, w, ev); err != nil {
			return w, err
		}
		return w, e.reconfigAhead(st, ev.Symbol, ev.Epoch, []orderbook.Event{ev})
	}

	return w, errors.Wrapf(ErrUnroutable, "%s window %d", ev.Symbol, w)
}

func (e *Engine) createEmptyBase(st *symbolState, w uint64, ev orderbook.Event) error {
	if ev.Category != orderbook.New {
		return errors.Wrapf(ErrInvalidInitialEvent, "%s is %s", ev.Symbol, ev.Category)
	}
	c := chunk.New(nil, orderbook.LastTrade{})
	c.Insert(chunk.DeltaOf(ev))
	return e.createChunk(st, ev.Symbol, w, c)
}

// createSeeded starts a chunk at w whose base is the book as of ev.Epoch.
// No event of this symbol lies inside w yet, so that equals the book at w.
func (e *Engine) createSeeded(st *symbolState, w uint64, ev orderbook.Event) error {
	snap, err := e.queryLocked(st, ev.Symbol, ev.Epoch)
	if err != nil {
		return errors.Wrap(err, "seed base")
	}
	c := chunk.New(snap.Book, snap.LastTrade)
	c.Insert(chunk.DeltaOf(ev))
	return e.createChunk(st, ev.Symbol, w, c)
}

// createChunk writes c and indexes it. The file is removed again if the
// index refuses the window so the two never diverge.
func (e *Engine) createChunk(st *symbolState, symbol string, w uint64, c *chunk.Chunk) error {
	if err := e.store.Create(symbol, w, c); err != nil {
		return err
	}
	if err := st.index.Add(w); err != nil {
		if rerr := e.store.Remove(symbol, w); rerr != nil {
			e.log.WithError(rerr).WithField("window", w).Error("orphan chunk left on disk")
		}
		return err
	}
	e.metrics.ChunkWrite("create")

	e.log.WithFields(logrus.Fields{
		"symbol": symbol,
		"window": w,
		"base":   len(c.Base.Buys) + len(c.Base.Sells),
	}).Debug("chunk indexed")
	return nil
}
