package orderbook

// Snapshot is the reconstructed state of a symbol's book at a point in time.
type Snapshot struct {
	Book      *Book
	LastTrade LastTrade
}

// EmptySnapshot is returned for epochs with no recorded history.
func EmptySnapshot() Snapshot {
	return Snapshot{Book: NewBook()}
}

func (s Snapshot) Empty() bool {
	return s.Book == nil || s.Book.Empty()
}

func (s Snapshot) BuyLevels() []Level {
	if s.Book == nil {
		return nil
	}
	return s.Book.BuyLevels()
}

func (s Snapshot) SellLevels() []Level {
	if s.Book == nil {
		return nil
	}
	return s.Book.SellLevels()
}
