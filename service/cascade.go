package service

import (
	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"

	"epochbook/domain/orderbook"
	"epochbook/infra/chunk"
)

// maxCompensations: inserts and deletes send one event, updates send the
// reversed old record plus the new one.
const maxCompensations = 2

// reconfigAhead applies comps to the base of every indexed window after the
// window holding epoch, copying each delta log verbatim. A TRADE among comps
// replaces a chunk's cached last trade only when it is newer.
func (e *Engine) reconfigAhead(st *symbolState, symbol string, epoch uint64, comps []orderbook.Event) error {
	if len(comps) == 0 || len(comps) > maxCompensations {
		return errors.AssertionFailedf("cascade takes 1 to %d events, got %d", maxCompensations, len(comps))
	}

	var (
		trade  orderbook.LastTrade
		trades int
	)
	for _, c := range comps {
		if c.IsTrade() {
			trades++
			trade.Observe(c)
		}
	}
	if trades > 1 {
		return errors.Wrapf(ErrAmbiguousTrade, "%s epoch %d", symbol, epoch)
	}

	windows := st.index.EpochsAfter(e.windowStart(epoch))
	for _, w := range windows {
		var excess uint64
		if _, err := e.store.Rewrite(symbol, w, func(c *chunk.Chunk) error {
			for _, comp := range comps {
				excess += c.Base.Add(comp)
			}
			if trades == 1 && trade.Epoch > c.LastTrade.Epoch {
				c.LastTrade = trade
			}
			return nil
		}); err != nil {
			return errors.Wrapf(err, "cascade into %s window %d", symbol, w)
		}
		e.metrics.ChunkWrite("rewrite")
		e.observeExcess(symbol, excess)
	}

	e.metrics.CascadeWindows(len(windows))
	if len(windows) > 0 {
		e.log.WithFields(logrus.Fields{
			"symbol":  symbol,
			"from":    e.windowStart(epoch),
			"windows": len(windows),
		}).Debug("cascade applied")
	}
	return nil
}
