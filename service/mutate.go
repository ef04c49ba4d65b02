package service

import (
	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"

	"epochbook/domain/orderbook"
	"epochbook/infra/chunk"
)

// Update replaces the stored record matching (ev.ID, ev.Epoch) with ev.
// Side, category, quantity and price may change. Later chunk bases receive
// the reversed old record followed by ev.
func (e *Engine) Update(ev orderbook.Event) (err error) {
	defer func() { e.metrics.Operation("update", err) }()

	if err := validateEvent(ev); err != nil {
		return err
	}
	st, err := e.lookup(ev.Symbol)
	if err != nil {
		return err
	}
	if st == nil {
		return errors.Wrapf(ErrNotFound, "symbol %s", ev.Symbol)
	}

	if err := st.lock(); err != nil {
		return err
	}
	defer st.mu.Unlock()

	w := e.windowStart(ev.Epoch)
	if !st.index.Has(w) {
		return errors.Wrapf(ErrNotFound, "%s window %d", ev.Symbol, w)
	}

	c, err := e.store.Load(ev.Symbol, w)
	if err != nil {
		return err
	}
	i := c.Find(ev.ID, ev.Epoch)
	if i < 0 {
		return errors.Wrapf(ErrNotFound, "%s order %d at %d", ev.Symbol, ev.ID, ev.Epoch)
	}
	old := c.Deltas[i].Event(ev.Symbol)

	// Same epoch and id, same slot: the record can be patched in place.
	if err := e.store.OverwriteDelta(ev.Symbol, w, c.StoredHeader(), i, chunk.DeltaOf(ev)); err != nil {
		return err
	}
	e.metrics.ChunkWrite("overwrite")

	if len(st.index.EpochsAfter(w)) > 0 {
		comps := []orderbook.Event{old.Reversed(), ev}
		if err := e.reconfigAhead(st, ev.Symbol, ev.Epoch, comps); err != nil {
			return err
		}
	}

	e.log.WithFields(logrus.Fields{
		"symbol": ev.Symbol,
		"id":     ev.ID,
		"epoch":  ev.Epoch,
		"from":   old.Category,
		"to":     ev.Category,
	}).Debug("order updated")

	e.record(orderbook.OpUpdate, ev, w)
	return nil
}

// Delete removes the record matching (id, epoch). A chunk left empty is
// deleted and dropped from the index. Later chunk bases receive the
// record's reversal.
func (e *Engine) Delete(symbol string, id, epoch uint64) (err error) {
	defer func() { e.metrics.Operation("delete", err) }()

	st, err := e.lookup(symbol)
	if err != nil {
		return err
	}
	if st == nil {
		return errors.Wrapf(ErrNotFound, "symbol %s", symbol)
	}

	if err := st.lock(); err != nil {
		return err
	}
	defer st.mu.Unlock()

	w := e.windowStart(epoch)
	if !st.index.Has(w) {
		return errors.Wrapf(ErrNotFound, "%s window %d", symbol, w)
	}

	var removed chunk.Delta
	emptied, err := e.store.Rewrite(symbol, w, func(c *chunk.Chunk) error {
		i := c.Find(id, epoch)
		if i < 0 {
			return errors.Wrapf(ErrNotFound, "%s order %d at %d", symbol, id, epoch)
		}
		removed = c.RemoveAt(i)
		return nil
	})
	if err != nil {
		return err
	}

	if emptied {
		st.index.Remove(w)
		e.metrics.ChunkWrite("remove")
		e.log.WithFields(logrus.Fields{
			"symbol": symbol,
			"window": w,
		}).Debug("chunk emptied and removed")
	} else {
		e.metrics.ChunkWrite("rewrite")
	}

	ev := removed.Event(symbol)
	if err := e.reconfigAhead(st, symbol, epoch, []orderbook.Event{ev.Reversed()}); err != nil {
		return err
	}

	e.record(orderbook.OpDelete, ev, w)
	return nil
}
