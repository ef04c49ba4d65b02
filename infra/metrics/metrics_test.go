package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Operation("insert", nil)
	m.ChunkWrite("create")
	m.CascadeWindows(3)
	m.Oversubtracted(7)
	m.ObserveQuery(time.Millisecond)
	m.SetSymbolsOpen(2)
	m.Published(true)
	if m.Registry() != nil {
		t.Fatal("nil metrics should have no registry")
	}
}

func TestCounters(t *testing.T) {
	m := New()
	m.Operation("insert", nil)
	m.Operation("insert", nil)
	m.Operation("insert", errors.New("x"))
	m.CascadeWindows(4)
	m.CascadeWindows(0)
	m.Oversubtracted(5)

	if got := testutil.ToFloat64(m.operations.WithLabelValues("insert", "ok")); got != 2 {
		t.Fatalf("insert ok = %v", got)
	}
	if got := testutil.ToFloat64(m.operations.WithLabelValues("insert", "error")); got != 1 {
		t.Fatalf("insert error = %v", got)
	}
	if got := testutil.ToFloat64(m.cascadeWindows); got != 4 {
		t.Fatalf("cascade windows = %v", got)
	}
	if got := testutil.ToFloat64(m.oversubtracted); got != 5 {
		t.Fatalf("oversubtracted = %v", got)
	}
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.ChunkWrite("create")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if !strings.Contains(rec.Body.String(), `epochbook_chunk_writes_total{kind="create"} 1`) {
		t.Fatalf("metric missing from exposition:\n%s", rec.Body.String())
	}
}
