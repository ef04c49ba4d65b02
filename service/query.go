package service

import (
	"context"
	"math"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"epochbook/domain/orderbook"
)

// QueryTimestamp reconstructs symbol's book and last trade as of epoch.
// Unknown symbols and epochs before the first window yield an empty snapshot.
func (e *Engine) QueryTimestamp(symbol string, epoch uint64) (snap orderbook.Snapshot, err error) {
	start := time.Now()
	defer func() {
		e.metrics.ObserveQuery(time.Since(start))
		e.metrics.Operation("query", err)
	}()

	st, err := e.lookup(symbol)
	if err != nil {
		return orderbook.Snapshot{}, err
	}
	if st == nil {
		return orderbook.EmptySnapshot(), nil
	}

	st.mu.RLock()
	defer st.mu.RUnlock()
	return e.queryLocked(st, symbol, epoch)
}

// QueryMultiple runs one independent query per epoch, at most
// QueryParallelism at a time. Results follow the order of epochs.
func (e *Engine) QueryMultiple(ctx context.Context, symbol string, epochs []uint64) ([]orderbook.Snapshot, error) {
	out := make([]orderbook.Snapshot, len(epochs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.QueryParallelism)
	for i, epoch := range epochs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			snap, err := e.QueryTimestamp(symbol, epoch)
			if err != nil {
				return errors.Wrapf(err, "epoch %d", epoch)
			}
			out[i] = snap
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// queryLocked needs st.mu held, shared or exclusive.
func (e *Engine) queryLocked(st *symbolState, symbol string, epoch uint64) (orderbook.Snapshot, error) {
	x := st.index
	window := e.cfg.EpochWindow

	first, ok := x.Ceil(0)
	if !ok || epoch < first {
		return orderbook.EmptySnapshot(), nil
	}

	// Past the end of the last window: everything applies.
	last, _ := x.Last()
	if epoch >= last && epoch-last >= window {
		return e.replay(symbol, last, math.MaxUint64)
	}

	w, _ := x.Floor(epoch)
	if epoch-w < window {
		return e.replay(symbol, w, epoch)
	}

	// In a gap: the next chunk's base is the state throughout the gap.
	next, ok := x.Ceil(epoch)
	if !ok {
		return orderbook.Snapshot{}, errors.AssertionFailedf("%s: no window after gap at %d", symbol, epoch)
	}
	c, err := e.store.Load(symbol, next)
	if err != nil {
		return orderbook.Snapshot{}, err
	}
	return orderbook.Snapshot{Book: c.Base, LastTrade: c.LastTrade}, nil
}

func (e *Engine) replay(symbol string, w, until uint64) (orderbook.Snapshot, error) {
	c, err := e.store.Load(symbol, w)
	if err != nil {
		return orderbook.Snapshot{}, err
	}
	book, last, _ := c.Replay(symbol, until)
	return orderbook.Snapshot{Book: book, LastTrade: last}, nil
}
