package orderbook

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseLine decodes one order log line:
//
//	<epoch> <id> <symbol> <BUY|SELL> <NEW|TRADE|CANCEL> <price> <qty>
func ParseLine(line string) (Event, error) {
	f := strings.Fields(line)
	if len(f) != 7 {
		return Event{}, fmt.Errorf("expected 7 fields, got %d", len(f))
	}

	epoch, err := strconv.ParseUint(f[0], 10, 64)
	if err != nil {
		return Event{}, fmt.Errorf("epoch: %w", err)
	}
	id, err := strconv.ParseUint(f[1], 10, 64)
	if err != nil {
		return Event{}, fmt.Errorf("id: %w", err)
	}
	side, err := ParseSide(f[3])
	if err != nil {
		return Event{}, err
	}
	cat, err := ParseCategory(f[4])
	if err != nil {
		return Event{}, err
	}
	price, err := strconv.ParseFloat(f[5], 64)
	if err != nil {
		return Event{}, fmt.Errorf("price: %w", err)
	}
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return Event{}, fmt.Errorf("price %s is not finite", f[5])
	}
	qty, err := strconv.ParseUint(f[6], 10, 64)
	if err != nil {
		return Event{}, fmt.Errorf("qty: %w", err)
	}

	return Event{
		Symbol:   f[2],
		Epoch:    epoch,
		ID:       id,
		Side:     side,
		Category: cat,
		Qty:      qty,
		Price:    price,
	}, nil
}
