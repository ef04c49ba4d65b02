package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"epochbook/domain/orderbook"
)

func writeLog(t *testing.T, evs []orderbook.Event) string {
	t.Helper()
	var b strings.Builder
	for _, ev := range evs {
		fmt.Fprintf(&b, "%d %d %s %s %s %v %d\n", ev.Epoch, ev.ID, ev.Symbol, ev.Side, ev.Category, ev.Price, ev.Qty)
	}
	path := filepath.Join(t.TempDir(), "orders.log")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func sampleLog() []orderbook.Event {
	return []orderbook.Event{
		order(T0+1, 1, orderbook.Buy, orderbook.New, 10, 9.75),
		order(T0+2, 2, orderbook.Sell, orderbook.New, 4, 10.25),
		order(T0+3, 3, orderbook.Sell, orderbook.Trade, 1, 10.25),
		order(T0+W+10, 4, orderbook.Buy, orderbook.New, 2, 9.5),
		order(T0+W+50, 5, orderbook.Buy, orderbook.Cancel, 3, 9.75),
		order(T0+3*W+1, 6, orderbook.Buy, orderbook.Trade, 1, 9.5),
		order(T0+4*W+1, 7, orderbook.Sell, orderbook.New, 6, 10.5),
	}
}

func TestIngestFileIntoEmptySymbol(t *testing.T) {
	evs := sampleLog()
	e := newEngine(t)

	n, err := e.IngestFile(context.Background(), writeLog(t, evs), "SCH")
	if err != nil || n != len(evs) {
		t.Fatalf("ingest: n=%d err=%v", n, err)
	}

	ws, _ := e.Windows("SCH")
	if len(ws) != 4 {
		t.Fatalf("windows = %v", ws)
	}
	for i := range evs {
		want, wantLast := replayAll(evs[:i+1])
		snap, _ := e.QueryTimestamp("SCH", evs[i].Epoch)
		if !snap.Book.Equal(want) || snap.LastTrade != wantLast {
			t.Fatalf("event %d: got %+v / %+v", i, snap.Book, snap.LastTrade)
		}
	}
}

func TestIngestMatchesInsertOneByOne(t *testing.T) {
	evs := sampleLog()

	bulk := newEngine(t)
	if _, err := bulk.Ingest(context.Background(), "SCH", evs); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	single := newEngine(t)
	mustInsert(t, single, evs...)

	a, b := chunkFiles(t, bulk), chunkFiles(t, single)
	if len(a) != len(b) {
		t.Fatalf("chunks %d vs %d", len(a), len(b))
	}
	for w := range a {
		if !bytes.Equal(a[w], b[w]) {
			t.Fatalf("chunk %d differs", w)
		}
	}
}

func TestIngestAfterHistorySeedsFromCurrentState(t *testing.T) {
	evs := sampleLog()
	e := newEngine(t)
	if _, err := e.Ingest(context.Background(), "SCH", evs[:3]); err != nil {
		t.Fatal(err)
	}
	// starts with a TRADE, allowed because history exists
	if _, err := e.Ingest(context.Background(), "SCH", evs[5:]); err != nil {
		t.Fatalf("second ingest: %v", err)
	}

	c := loadChunk(t, e, T0+3*W)
	if c.Base.Buys[9.75] != 10 || c.Base.Sells[10.25] != 3 {
		t.Fatalf("seeded base = %+v", c.Base)
	}
	if c.LastTrade.Epoch != T0+3 {
		t.Fatalf("seeded last trade = %+v", c.LastTrade)
	}
}

func TestIngestInterleavedUsesRouter(t *testing.T) {
	evs := sampleLog()
	e := newEngine(t)
	if _, err := e.Ingest(context.Background(), "SCH", []orderbook.Event{evs[0], evs[6]}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Ingest(context.Background(), "SCH", evs[1:6]); err != nil {
		t.Fatalf("interleaved ingest: %v", err)
	}

	want, wantLast := replayAll(evs)
	snap, _ := e.QueryTimestamp("SCH", T0+10*W)
	if !snap.Book.Equal(want) || snap.LastTrade != wantLast {
		t.Fatalf("got %+v / %+v, want %+v / %+v", snap.Book, snap.LastTrade, want, wantLast)
	}
}

func TestIngestUnsortedLog(t *testing.T) {
	evs := sampleLog()
	shuffled := []orderbook.Event{evs[3], evs[0], evs[6], evs[1], evs[5], evs[2], evs[4]}

	e := newEngine(t)
	n, err := e.Ingest(context.Background(), "SCH", shuffled)
	if err != nil || n != len(evs) {
		t.Fatalf("ingest: n=%d err=%v", n, err)
	}
	want, _ := replayAll(evs)
	snap, _ := e.QueryTimestamp("SCH", T0+10*W)
	if !snap.Book.Equal(want) {
		t.Fatalf("got %+v, want %+v", snap.Book, want)
	}
}

func TestIngestRejections(t *testing.T) {
	evs := sampleLog()
	e := newEngine(t)

	if _, err := e.Ingest(context.Background(), "SCH", evs[2:]); !errors.Is(err, ErrInvalidInitialEvent) {
		t.Fatalf("trade first: err = %v", err)
	}

	other := evs[1]
	other.Symbol = "XYZ"
	if _, err := e.Ingest(context.Background(), "SCH", []orderbook.Event{evs[0], other}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("mixed symbols: err = %v", err)
	}

	if ws, _ := e.Windows("SCH"); len(ws) != 0 {
		t.Fatalf("rejected ingest wrote windows %v", ws)
	}
}

func TestReadLog(t *testing.T) {
	in := "100 1 SCH BUY NEW 10.5 3\n\n200 2 SCH SELL CANCEL 11 1\n"
	evs, err := ReadLog(strings.NewReader(in), "SCH")
	if err != nil || len(evs) != 2 {
		t.Fatalf("evs=%v err=%v", evs, err)
	}

	_, err = ReadLog(strings.NewReader("100 1 ABC BUY NEW 10.5 3\n"), "SCH")
	if !errors.Is(err, ErrInvalidEvent) || !strings.Contains(err.Error(), "line 1") {
		t.Fatalf("symbol mismatch: err = %v", err)
	}

	_, err = ReadLog(strings.NewReader("100 1 SCH BUY NEW 10.5 3\nbogus\n"), "SCH")
	if !errors.Is(err, ErrInvalidEvent) || !strings.Contains(err.Error(), "line 2") {
		t.Fatalf("malformed: err = %v", err)
	}
}

func BenchmarkIngestSequential(b *testing.B) {
	evs := make([]orderbook.Event, 10_000)
	for i := range evs {
		evs[i] = order(T0+uint64(i)*W/100, uint64(i), orderbook.Buy, orderbook.New, 1, float64(100+i%50))
	}

	for i := 0; i < b.N; i++ {
		b.StopTimer()
		e, err := New(Config{DataDir: b.TempDir(), EpochWindow: W}, nil, nil, nil)
		if err != nil {
			b.Fatal(err)
		}
		b.StartTimer()

		if _, err := e.Ingest(context.Background(), "SCH", evs); err != nil {
			b.Fatal(err)
		}
		_ = e.Close()
	}
}
