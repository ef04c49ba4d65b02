package chunk

import (
	"encoding/binary"
	"math"

	"epochbook/domain/orderbook"
)

// Fixed record widths. All fields are little endian.
//
//	Header: [base_buy:8][base_sell:8][update_size:8][last_trade_qty:8][last_trade_price:f64][last_trade_epoch:8]
//	Level:  [qty:8][price:f64]
//	Delta:  [epoch:8][id:8][side:4][category:4][qty:8][price:f64]
const (
	HeaderSize = 48
	LevelSize  = 16
	DeltaSize  = 40
)

type Header struct {
	BaseBuy        uint64
	BaseSell       uint64
	UpdateSize     uint64
	LastTradeQty   uint64
	LastTradePrice float64
	LastTradeEpoch uint64
}

func (h Header) LastTrade() orderbook.LastTrade {
	return orderbook.LastTrade{Epoch: h.LastTradeEpoch, Qty: h.LastTradeQty, Price: h.LastTradePrice}
}

// Delta is one stored order event inside a chunk.
type Delta struct {
	Epoch    uint64
	ID       uint64
	Side     orderbook.Side
	Category orderbook.Category
	Qty      uint64
	Price    float64
}

func DeltaOf(e orderbook.Event) Delta {
	return Delta{
		Epoch:    e.Epoch,
		ID:       e.ID,
		Side:     e.Side,
		Category: e.Category,
		Qty:      e.Qty,
		Price:    e.Price,
	}
}

func (d Delta) Event(symbol string) orderbook.Event {
	return orderbook.Event{
		Symbol:   symbol,
		Epoch:    d.Epoch,
		ID:       d.ID,
		Side:     d.Side,
		Category: d.Category,
		Qty:      d.Qty,
		Price:    d.Price,
	}
}

// ---- fixed-width codecs ----

func putHeader(b []byte, h Header) {
	binary.LittleEndian.PutUint64(b[0:8], h.BaseBuy)
	binary.LittleEndian.PutUint64(b[8:16], h.BaseSell)
	binary.LittleEndian.PutUint64(b[16:24], h.UpdateSize)
	binary.LittleEndian.PutUint64(b[24:32], h.LastTradeQty)
	binary.LittleEndian.PutUint64(b[32:40], math.Float64bits(h.LastTradePrice))
	binary.LittleEndian.PutUint64(b[40:48], h.LastTradeEpoch)
}

func getHeader(b []byte) Header {
	return Header{
		BaseBuy:        binary.LittleEndian.Uint64(b[0:8]),
		BaseSell:       binary.LittleEndian.Uint64(b[8:16]),
		UpdateSize:     binary.LittleEndian.Uint64(b[16:24]),
		LastTradeQty:   binary.LittleEndian.Uint64(b[24:32]),
		LastTradePrice: math.Float64frombits(binary.LittleEndian.Uint64(b[32:40])),
		LastTradeEpoch: binary.LittleEndian.Uint64(b[40:48]),
	}
}

func putLevel(b []byte, l orderbook.Level) {
	binary.LittleEndian.PutUint64(b[0:8], l.Qty)
	binary.LittleEndian.PutUint64(b[8:16], math.Float64bits(l.Price))
}

func getLevel(b []byte) orderbook.Level {
	return orderbook.Level{
		Qty:   binary.LittleEndian.Uint64(b[0:8]),
		Price: math.Float64frombits(binary.LittleEndian.Uint64(b[8:16])),
	}
}

func putDelta(b []byte, d Delta) {
	binary.LittleEndian.PutUint64(b[0:8], d.Epoch)
	binary.LittleEndian.PutUint64(b[8:16], d.ID)
	binary.LittleEndian.PutUint32(b[16:20], uint32(d.Side))
	binary.LittleEndian.PutUint32(b[20:24], uint32(d.Category))
	binary.LittleEndian.PutUint64(b[24:32], d.Qty)
	binary.LittleEndian.PutUint64(b[32:40], math.Float64bits(d.Price))
}

func getDelta(b []byte) Delta {
	return Delta{
		Epoch:    binary.LittleEndian.Uint64(b[0:8]),
		ID:       binary.LittleEndian.Uint64(b[8:16]),
		Side:     orderbook.Side(binary.LittleEndian.Uint32(b[16:20])),
		Category: orderbook.Category(binary.LittleEndian.Uint32(b[20:24])),
		Qty:      binary.LittleEndian.Uint64(b[24:32]),
		Price:    math.Float64frombits(binary.LittleEndian.Uint64(b[32:40])),
	}
}
