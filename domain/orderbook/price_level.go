package orderbook

// Level is the aggregated outstanding quantity at a single price.
type Level struct {
	Qty   uint64
	Price float64
}

// LastTrade caches the most recent TRADE seen up to some point in time.
// The zero value means no trade has been observed.
type LastTrade struct {
	Epoch uint64
	Qty   uint64
	Price float64
}

// Observe records e as the latest trade if it is one.
func (t *LastTrade) Observe(e Event) {
	if e.Category != Trade {
		return
	}
	t.Epoch = e.Epoch
	t.Qty = e.Qty
	t.Price = e.Price
}

func (t LastTrade) Empty() bool {
	return t == LastTrade{}
}
