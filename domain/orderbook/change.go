package orderbook

// ChangeOp names the mutation that produced a Change.
type ChangeOp string

const (
	OpInsert ChangeOp = "insert"
	OpUpdate ChangeOp = "update"
	OpDelete ChangeOp = "delete"
)

// Change describes one committed mutation of a symbol's history.
type Change struct {
	ID     string   `json:"id"`
	Op     ChangeOp `json:"op"`
	Symbol string   `json:"symbol"`
	Window uint64   `json:"window"`
	Event  Event    `json:"event"`
	Time   int64    `json:"time"`
}
