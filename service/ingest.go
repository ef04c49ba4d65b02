package service

import (
	"bufio"
	"context"
	"io"
	"os"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"

	"epochbook/domain/orderbook"
	"epochbook/infra/chunk"
)

// IngestFile loads an order log for symbol. See Ingest.
func (e *Engine) IngestFile(ctx context.Context, path, symbol string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	events, err := ReadLog(f, symbol)
	if err != nil {
		return 0, errors.Wrapf(err, "read %s", path)
	}
	return e.Ingest(ctx, symbol, events)
}

// ReadLog parses a whole order log. Every line must name symbol; blank
// lines are skipped.
func ReadLog(r io.Reader, symbol string) ([]orderbook.Event, error) {
	var (
		events []orderbook.Event
		line   int
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line++
		text := sc.Text()
		if len(text) == 0 {
			continue
		}
		ev, err := orderbook.ParseLine(text)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidEvent, "line %d: %v", line, err)
		}
		if ev.Symbol != symbol {
			return nil, errors.Wrapf(ErrInvalidEvent, "line %d: symbol %s, want %s", line, ev.Symbol, symbol)
		}
		events = append(events, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "scan")
	}
	return events, nil
}

// Ingest adds events for symbol and reports how many were stored.
//
// A log sorted by epoch that starts after every indexed window is written
// sequentially, one chunk per window, carrying the book forward; nothing
// later exists so no cascade is needed. Anything else goes through Insert
// one event at a time and stops at the first failure.
func (e *Engine) Ingest(ctx context.Context, symbol string, events []orderbook.Event) (n int, err error) {
	defer func() { e.metrics.Operation("ingest", err) }()

	for i, ev := range events {
		if ev.Symbol != symbol {
			return 0, errors.Wrapf(ErrInvalidEvent, "event %d: symbol %s, want %s", i, ev.Symbol, symbol)
		}
		if err := validateEvent(ev); err != nil {
			return 0, errors.Wrapf(err, "event %d", i)
		}
	}
	if len(events) == 0 {
		return 0, nil
	}

	st, err := e.symbol(symbol)
	if err != nil {
		return 0, err
	}

	if err := st.lock(); err != nil {
		return 0, err
	}
	defer st.mu.Unlock()

	log := e.log.WithFields(logrus.Fields{
		"symbol": symbol,
		"events": len(events),
	})

	sorted := sort.SliceIsSorted(events, func(i, j int) bool { return events[i].Epoch < events[j].Epoch })
	if sorted {
		if st.index.Empty() {
			if events[0].Category != orderbook.New {
				return 0, errors.Wrapf(ErrInvalidInitialEvent, "%s is %s", symbol, events[0].Category)
			}
			log.Info("ingesting into empty symbol")
			return e.ingestSequential(ctx, st, symbol, orderbook.EmptySnapshot(), events)
		}

		last, _ := st.index.Last()
		if e.windowStart(events[0].Epoch) > last {
			seed, err := e.queryLocked(st, symbol, events[0].Epoch)
			if err != nil {
				return 0, errors.Wrap(err, "seed base")
			}
			log.Info("ingesting after existing history")
			return e.ingestSequential(ctx, st, symbol, seed, events)
		}
	}

	log.WithField("sorted", sorted).Info("ingesting through router")
	for i, ev := range events {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		w, err := e.insertLocked(st, ev)
		if err != nil {
			return i, errors.Wrapf(err, "event %d", i)
		}
		e.record(orderbook.OpInsert, ev, w)
	}
	return len(events), nil
}

// ingestSequential writes events, sorted and all newer than any indexed
// window, as consecutive chunks starting from seed.
func (e *Engine) ingestSequential(ctx context.Context, st *symbolState, symbol string, seed orderbook.Snapshot, events []orderbook.Event) (int, error) {
	book := seed.Book.Clone()
	last := seed.LastTrade

	var (
		cur   *chunk.Chunk
		curW  uint64
		from  int
		total int
	)
	flush := func(to int) error {
		if err := e.createChunk(st, symbol, curW, cur); err != nil {
			return err
		}
		for _, ev := range events[from:to] {
			e.record(orderbook.OpInsert, ev, curW)
		}
		total = to
		return nil
	}

	for i, ev := range events {
		w := e.windowStart(ev.Epoch)
		if cur == nil || w != curW {
			if cur != nil {
				if err := ctx.Err(); err != nil {
					return total, err
				}
				if err := flush(i); err != nil {
					return total, err
				}
			}
			cur, curW, from = chunk.New(book.Clone(), last), w, i
		}
		cur.Deltas = append(cur.Deltas, chunk.DeltaOf(ev))
		last.Observe(ev)
		e.observeExcess(symbol, book.Add(ev))
	}
	if err := flush(len(events)); err != nil {
		return total, err
	}
	return total, nil
}
