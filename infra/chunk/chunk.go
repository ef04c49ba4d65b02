package chunk

import (
	"bufio"
	"io"
	"sort"

	"github.com/cockroachdb/errors"

	"epochbook/domain/orderbook"
	"epochbook/infra/memory"
)

var ErrCorrupt = errors.New("chunk: corrupt file")

// Chunk is the persisted unit for one (symbol, window): the book as of the
// window start, the last trade known at that point, and the window's events
// in ascending epoch order.
type Chunk struct {
	Base      *orderbook.Book
	LastTrade orderbook.LastTrade
	Deltas    []Delta

	// stored is the header as read from disk; nil for chunks built in memory.
	stored *Header
}

func New(base *orderbook.Book, last orderbook.LastTrade) *Chunk {
	if base == nil {
		base = orderbook.NewBook()
	}
	return &Chunk{Base: base, LastTrade: last}
}

func (c *Chunk) Header() Header {
	return Header{
		BaseBuy:        uint64(len(c.Base.Buys)),
		BaseSell:       uint64(len(c.Base.Sells)),
		UpdateSize:     uint64(len(c.Deltas)),
		LastTradeQty:   c.LastTrade.Qty,
		LastTradePrice: c.LastTrade.Price,
		LastTradeEpoch: c.LastTrade.Epoch,
	}
}

// StoredHeader is the header the chunk was decoded from. Record offsets in
// the file follow it, not the recomputed Header: the base may have carried
// levels that decoding dropped.
func (c *Chunk) StoredHeader() Header {
	if c.stored != nil {
		return *c.stored
	}
	return c.Header()
}

// Insert places d after every delta with an epoch <= d.Epoch.
func (c *Chunk) Insert(d Delta) int {
	i := sort.Search(len(c.Deltas), func(i int) bool { return c.Deltas[i].Epoch > d.Epoch })
	c.Deltas = append(c.Deltas, Delta{})
	copy(c.Deltas[i+1:], c.Deltas[i:])
	c.Deltas[i] = d
	return i
}

// Find scans for the first delta matching (id, epoch), giving up once the
// sorted log passes epoch. It returns -1 when there is no match.
func (c *Chunk) Find(id, epoch uint64) int {
	for i, d := range c.Deltas {
		if d.Epoch > epoch {
			break
		}
		if d.ID == id && d.Epoch == epoch {
			return i
		}
	}
	return -1
}

func (c *Chunk) RemoveAt(i int) Delta {
	d := c.Deltas[i]
	c.Deltas = append(c.Deltas[:i], c.Deltas[i+1:]...)
	return d
}

// Replay applies every delta with epoch <= until to a copy of the base and
// returns the resulting book and the latest trade seen. Excess quantity
// discarded by over-subtraction is summed into excess.
func (c *Chunk) Replay(symbol string, until uint64) (book *orderbook.Book, last orderbook.LastTrade, excess uint64) {
	book = c.Base.Clone()
	last = c.LastTrade
	for _, d := range c.Deltas {
		if d.Epoch > until {
			break
		}
		e := d.Event(symbol)
		last.Observe(e)
		excess += book.Add(e)
	}
	return book, last, excess
}

// ---- encoding ----

var encodeBufs = memory.NewBytes(4096)

// Encode writes header, base levels (buy then sell, best first) and deltas.
func (c *Chunk) Encode(w io.Writer) error {
	buys := c.Base.BuyLevels()
	sells := c.Base.SellLevels()

	bp := encodeBufs.Get(HeaderSize + LevelSize*(len(buys)+len(sells)) + DeltaSize*len(c.Deltas))
	defer encodeBufs.Put(bp)

	buf := *bp
	putHeader(buf, c.Header())

	off := HeaderSize
	for _, l := range buys {
		putLevel(buf[off:], l)
		off += LevelSize
	}
	for _, l := range sells {
		putLevel(buf[off:], l)
		off += LevelSize
	}
	for _, d := range c.Deltas {
		putDelta(buf[off:], d)
		off += DeltaSize
	}

	_, err := w.Write(buf)
	return err
}

// Decode reads a whole chunk and validates its delta records.
func Decode(r io.Reader) (*Chunk, error) {
	br := bufio.NewReader(r)

	var hb [HeaderSize]byte
	if _, err := io.ReadFull(br, hb[:]); err != nil {
		return nil, errors.Wrapf(ErrCorrupt, "header: %v", err)
	}
	h := getHeader(hb[:])

	c := New(orderbook.NewBook(), h.LastTrade())
	c.stored = &h

	var lb [LevelSize]byte
	for i := uint64(0); i < h.BaseBuy+h.BaseSell; i++ {
		if _, err := io.ReadFull(br, lb[:]); err != nil {
			return nil, errors.Wrapf(ErrCorrupt, "base level %d: %v", i, err)
		}
		side := orderbook.Buy
		if i >= h.BaseBuy {
			side = orderbook.Sell
		}
		c.Base.Set(side, getLevel(lb[:]))
	}

	c.Deltas = make([]Delta, 0, min(h.UpdateSize, 1<<16))
	var db [DeltaSize]byte
	for i := uint64(0); i < h.UpdateSize; i++ {
		if _, err := io.ReadFull(br, db[:]); err != nil {
			return nil, errors.Wrapf(ErrCorrupt, "delta %d: %v", i, err)
		}
		d := getDelta(db[:])
		if !d.Side.Valid() || !d.Category.Valid() {
			return nil, errors.Wrapf(ErrCorrupt, "delta %d: bad side/category %d/%d", i, d.Side, d.Category)
		}
		if n := len(c.Deltas); n > 0 && c.Deltas[n-1].Epoch > d.Epoch {
			return nil, errors.Wrapf(ErrCorrupt, "delta %d: epoch %d out of order", i, d.Epoch)
		}
		c.Deltas = append(c.Deltas, d)
	}
	return c, nil
}

// DeltaOffset is the file offset of delta i given the chunk's header.
func DeltaOffset(h Header, i int) int64 {
	return int64(HeaderSize) + int64(LevelSize)*int64(h.BaseBuy+h.BaseSell) + int64(DeltaSize)*int64(i)
}
