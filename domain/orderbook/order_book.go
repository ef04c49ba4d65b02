package orderbook

import "sort"

// Book is a price-level aggregate ledger, one map per side.
// A price is present only while its aggregated quantity is positive.
// Book is not safe for concurrent mutation.
type Book struct {
	Buys  map[float64]uint64
	Sells map[float64]uint64
}

func NewBook() *Book {
	return &Book{
		Buys:  make(map[float64]uint64),
		Sells: make(map[float64]uint64),
	}
}

// Add applies e to the book and returns the quantity that could not be
// subtracted. NEW increments the level; TRADE and CANCEL decrement it and
// drop the level entirely when e.Qty reaches or exceeds the stored quantity.
// The excess beyond the stored quantity is discarded, not carried negative.
func (b *Book) Add(e Event) (excess uint64) {
	side := b.side(e.Side)

	if e.Category == New {
		if e.Qty > 0 {
			side[e.Price] += e.Qty
		}
		return 0
	}

	stored, ok := side[e.Price]
	if !ok {
		return e.Qty
	}
	if e.Qty >= stored {
		delete(side, e.Price)
		return e.Qty - stored
	}
	side[e.Price] = stored - e.Qty
	return 0
}

// Set installs a level verbatim, used when decoding a stored base snapshot.
func (b *Book) Set(s Side, lvl Level) {
	if lvl.Qty == 0 {
		return
	}
	b.side(s)[lvl.Price] = lvl.Qty
}

func (b *Book) Empty() bool {
	return len(b.Buys) == 0 && len(b.Sells) == 0
}

// BuyLevels returns buy levels ordered best (highest price) first.
func (b *Book) BuyLevels() []Level {
	out := levels(b.Buys)
	sort.Slice(out, func(i, j int) bool { return out[i].Price > out[j].Price })
	return out
}

// SellLevels returns sell levels ordered best (lowest price) first.
func (b *Book) SellLevels() []Level {
	out := levels(b.Sells)
	sort.Slice(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	return out
}

func (b *Book) Clone() *Book {
	c := &Book{
		Buys:  make(map[float64]uint64, len(b.Buys)),
		Sells: make(map[float64]uint64, len(b.Sells)),
	}
	for p, q := range b.Buys {
		c.Buys[p] = q
	}
	for p, q := range b.Sells {
		c.Sells[p] = q
	}
	return c
}

func (b *Book) Equal(o *Book) bool {
	return equalSide(b.Buys, o.Buys) && equalSide(b.Sells, o.Sells)
}

// ---- helpers ----

func (b *Book) side(s Side) map[float64]uint64 {
	if s == Buy {
		return b.Buys
	}
	return b.Sells
}

func levels(m map[float64]uint64) []Level {
	out := make([]Level, 0, len(m))
	for p, q := range m {
		out = append(out, Level{Qty: q, Price: p})
	}
	return out
}

func equalSide(a, b map[float64]uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for p, q := range a {
		if bq, ok := b[p]; !ok || bq != q {
			return false
		}
	}
	return true
}
