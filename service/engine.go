package service

import (
	"math"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"epochbook/domain/orderbook"
	"epochbook/infra/chunk"
	"epochbook/infra/metrics"
)

// DefaultEpochWindow is ten minutes in nanoseconds.
const DefaultEpochWindow uint64 = 600_000_000_000

type Config struct {
	DataDir string

	// EpochWindow is fixed for the lifetime of a data directory.
	EpochWindow uint64

	// QueryParallelism bounds QueryMultiple fan-out.
	QueryParallelism int
}

// ChangeSink receives every committed mutation. Failures are logged and do
// not undo the mutation.
type ChangeSink interface {
	Record(orderbook.Change) error
}

type Engine struct {
	cfg     Config
	store   *chunk.Store
	log     *logrus.Entry
	sink    ChangeSink
	metrics *metrics.Metrics

	mu      sync.Mutex
	symbols map[string]*symbolState
	closed  bool
}

// New wires the engine. sink and m may be nil.
func New(cfg Config, log *logrus.Entry, sink ChangeSink, m *metrics.Metrics) (*Engine, error) {
	if cfg.EpochWindow == 0 {
		cfg.EpochWindow = DefaultEpochWindow
	}
	if cfg.QueryParallelism <= 0 {
		cfg.QueryParallelism = 1
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	store, err := chunk.NewStore(cfg.DataDir, log.WithField("component", "chunk"))
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:     cfg,
		store:   store,
		log:     log,
		sink:    sink,
		metrics: m,
		symbols: make(map[string]*symbolState),
	}, nil
}

func (e *Engine) EpochWindow() uint64 {
	return e.cfg.EpochWindow
}

// ChunkPath is where the chunk holding epoch lives, whether or not it exists.
func (e *Engine) ChunkPath(symbol string, epoch uint64) string {
	return e.store.Path(symbol, e.windowStart(epoch))
}

// Close flushes and stops every symbol index. Later calls fail with ErrClosed.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	var err error
	for name, st := range e.symbols {
		st.mu.Lock()
		st.closed = true
		if cerr := st.index.Close(); cerr != nil {
			err = errors.CombineErrors(err, errors.Wrapf(cerr, "close index %s", name))
		}
		st.mu.Unlock()
	}
	e.log.WithField("symbols", len(e.symbols)).Info("engine closed")
	return err
}

func (e *Engine) windowStart(epoch uint64) uint64 {
	return epoch / e.cfg.EpochWindow * e.cfg.EpochWindow
}

func (e *Engine) record(op orderbook.ChangeOp, ev orderbook.Event, window uint64) {
	if e.sink == nil {
		return
	}
	ch := orderbook.Change{
		ID:     uuid.NewString(),
		Op:     op,
		Symbol: ev.Symbol,
		Window: window,
		Event:  ev,
		Time:   time.Now().UnixNano(),
	}
	if err := e.sink.Record(ch); err != nil {
		e.log.WithError(err).WithFields(logrus.Fields{
			"op":     op,
			"symbol": ev.Symbol,
		}).Error("record change failed")
	}
}

func (e *Engine) observeExcess(symbol string, qty uint64) {
	if qty == 0 {
		return
	}
	e.metrics.Oversubtracted(qty)
	e.log.WithFields(logrus.Fields{
		"symbol": symbol,
		"excess": qty,
	}).Debug("over-subtraction discarded")
}

func validateSymbol(symbol string) error {
	if symbol == "" || symbol == "." || symbol == ".." || strings.ContainsAny(symbol, `/\`) {
		return errors.Wrapf(ErrInvalidEvent, "symbol %q", symbol)
	}
	return nil
}

func validateEvent(ev orderbook.Event) error {
	if err := validateSymbol(ev.Symbol); err != nil {
		return err
	}
	if !ev.Side.Valid() {
		return errors.Wrapf(ErrInvalidEvent, "side %d", ev.Side)
	}
	if !ev.Category.Valid() {
		return errors.Wrapf(ErrInvalidEvent, "category %d", ev.Category)
	}
	if math.IsNaN(ev.Price) || math.IsInf(ev.Price, 0) {
		return errors.Wrapf(ErrInvalidEvent, "price %v", ev.Price)
	}
	return nil
}
