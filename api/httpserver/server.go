// Package httpserver is the read-only HTTP surface: book snapshots, the
// window listing, health and prometheus metrics.
package httpserver

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"epochbook/domain/orderbook"
	"epochbook/infra/metrics"
	"epochbook/service"
)

// Engine is the read side of service.Engine.
type Engine interface {
	QueryTimestamp(symbol string, epoch uint64) (orderbook.Snapshot, error)
	Windows(symbol string) ([]uint64, error)
	Symbols() []string
}

type Config struct {
	Engine  Engine
	Metrics *metrics.Metrics
	Log     *logrus.Entry
}

func NewRouter(cfg Config) *gin.Engine {
	if cfg.Log == nil {
		cfg.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	h := &handler{engine: cfg.Engine, log: cfg.Log}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(cfg.Log))

	router.GET("/healthz", h.health)
	router.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))

	books := router.Group("/v1/books")
	{
		books.GET("/:symbol", h.book)
		books.GET("/:symbol/windows", h.windows)
	}
	return router
}

// Server runs the router until Shutdown.
type Server struct {
	srv *http.Server
}

func New(addr string, cfg Config) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(cfg),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

func (s *Server) ListenAndServe() error {
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "http server")
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// ------------------------------------------------
// HANDLERS
// ------------------------------------------------

type handler struct {
	engine Engine
	log    *logrus.Entry
}

type levelJSON struct {
	Price float64 `json:"price"`
	Qty   uint64  `json:"qty"`
}

type tradeJSON struct {
	Epoch uint64  `json:"epoch,string"`
	Qty   uint64  `json:"qty"`
	Price float64 `json:"price"`
}

type bookJSON struct {
	Symbol    string      `json:"symbol"`
	At        uint64      `json:"at,string"`
	Buys      []levelJSON `json:"buys"`
	Sells     []levelJSON `json:"sells"`
	LastTrade *tradeJSON  `json:"last_trade"`
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"symbols": len(h.engine.Symbols()),
	})
}

func (h *handler) book(c *gin.Context) {
	symbol := c.Param("symbol")
	at, err := strconv.ParseUint(c.Query("at"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at must be an epoch in nanoseconds"})
		return
	}

	snap, err := h.engine.QueryTimestamp(symbol, at)
	if err != nil {
		h.fail(c, err)
		return
	}

	out := bookJSON{
		Symbol: symbol,
		At:     at,
		Buys:   toLevels(snap.BuyLevels()),
		Sells:  toLevels(snap.SellLevels()),
	}
	if t := snap.LastTrade; !t.Empty() {
		out.LastTrade = &tradeJSON{Epoch: t.Epoch, Qty: t.Qty, Price: t.Price}
	}
	c.JSON(http.StatusOK, out)
}

func (h *handler) windows(c *gin.Context) {
	symbol := c.Param("symbol")
	ws, err := h.engine.Windows(symbol)
	if err != nil {
		h.fail(c, err)
		return
	}
	if ws == nil {
		ws = []uint64{}
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "windows": ws})
}

func (h *handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidEvent):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		h.log.WithError(err).WithField("path", c.Request.URL.Path).Error("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func toLevels(lvls []orderbook.Level) []levelJSON {
	out := make([]levelJSON, len(lvls))
	for i, l := range lvls {
		out[i] = levelJSON{Price: l.Price, Qty: l.Qty}
	}
	return out
}

func requestLogger(log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
		}).Debug("http request")
	}
}
