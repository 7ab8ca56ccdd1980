package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestServerMetrics(t *testing.T) {
	Enable(true)
	defer Enable(false)

	reg := prom.NewRegistry()
	m := NewServerMetricsOn(reg, ServerMetricsConf{Namespace: "test"})

	t.Run("counts", func(t *testing.T) {
		m.IncConns()
		m.IncConns()
		m.DecConns()
		m.IncTotalConns()
		m.AddSentBytes(10)
		m.AddReceivedBytes(7)
		m.IncReadErrors()
		m.IncCloseReason("FrameTooLong")
		m.ObserveConnDuration(3 * time.Second)
		m.ObserveWriteBatch(4)

		if got := testutil.ToFloat64(m.activeConns.(*promGauge).gauge); got != 1 {
			t.Fatalf("active = %v, want 1", got)
		}
		if got := testutil.ToFloat64(m.sentBytes.(*promCounter).counter); got != 10 {
			t.Fatalf("sent = %v, want 10", got)
		}
		if got := testutil.ToFloat64(m.errors.(*promCounter).counter.WithLabelValues("read")); got != 1 {
			t.Fatalf("read errors = %v, want 1", got)
		}
		if got := testutil.ToFloat64(m.closes.(*promCounter).counter.WithLabelValues("FrameTooLong")); got != 1 {
			t.Fatalf("closes = %v, want 1", got)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		Enable(false)
		m.AddSentBytes(100)
		Enable(true)
		if got := testutil.ToFloat64(m.sentBytes.(*promCounter).counter); got != 10 {
			t.Fatalf("sent = %v, want 10", got)
		}
	})

	t.Run("scrape", func(t *testing.T) {
		rec := httptest.NewRecorder()
		Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
		if !strings.Contains(rec.Body.String(), "test_sent_bytes_total 10") {
			t.Fatalf("scrape missing sent bytes:\n%s", rec.Body.String())
		}
	})

	t.Run("close", func(t *testing.T) {
		if err := m.Close(); err != nil {
			t.Fatal(err)
		}
		// names are free again
		NewServerMetricsOn(reg, ServerMetricsConf{Namespace: "test"})
	})
}

func TestNoop(t *testing.T) {
	var m ServerMetrics = Noop{}
	m.IncConns()
	m.ObserveWriteBatch(1)
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
}
