package orderbook

import "fmt"

type Side int32
type Category int32

// On-disk values; they must stay stable across releases.
const (
	Sell Side = iota
	Buy
)

const (
	Trade Category = iota
	New
	Cancel
)

func (s Side) String() string {
	switch s {
	case Sell:
		return "SELL"
	case Buy:
		return "BUY"
	default:
		return fmt.Sprintf("Side(%d)", int32(s))
	}
}

func (c Category) String() string {
	switch c {
	case Trade:
		return "TRADE"
	case New:
		return "NEW"
	case Cancel:
		return "CANCEL"
	default:
		return fmt.Sprintf("Category(%d)", int32(c))
	}
}

func (s Side) Valid() bool     { return s == Sell || s == Buy }
func (c Category) Valid() bool { return c == Trade || c == New || c == Cancel }

func (s Side) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid side %d", int32(s))
	}
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(b []byte) error {
	v, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (c Category) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid category %d", int32(c))
	}
	return []byte(c.String()), nil
}

func (c *Category) UnmarshalText(b []byte) error {
	v, err := ParseCategory(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// ParseSide accepts the textual form used by order logs.
func ParseSide(s string) (Side, error) {
	switch s {
	case "BUY":
		return Buy, nil
	case "SELL":
		return Sell, nil
	}
	return 0, fmt.Errorf("unknown side %q", s)
}

// ParseCategory accepts the textual form used by order logs.
func ParseCategory(s string) (Category, error) {
	switch s {
	case "NEW":
		return New, nil
	case "TRADE":
		return Trade, nil
	case "CANCEL":
		return Cancel, nil
	}
	return 0, fmt.Errorf("unknown category %q", s)
}

// Event is an immutable order log record.
// Epoch is in nanoseconds; (ID, Epoch) identifies an event within a symbol.
type Event struct {
	Symbol   string   `json:"symbol"`
	Epoch    uint64   `json:"epoch"`
	ID       uint64   `json:"id"`
	Side     Side     `json:"side"`
	Category Category `json:"category"`
	Qty      uint64   `json:"qty"`
	Price    float64  `json:"price"`
}

// Reversed returns the compensating event that negates e's effect on a book.
// NEW becomes CANCEL; TRADE and CANCEL become NEW so the removed quantity is restored.
func (e Event) Reversed() Event {
	r := e
	if e.Category == New {
		r.Category = Cancel
	} else {
		r.Category = New
	}
	return r
}

func (e Event) IsTrade() bool {
	return e.Category == Trade
}

func (e Event) String() string {
	return fmt.Sprintf("%s@%d#%d %s %s %d x %v", e.Symbol, e.Epoch, e.ID, e.Side, e.Category, e.Qty, e.Price)
}
