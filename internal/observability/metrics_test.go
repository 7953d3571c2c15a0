package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsCountRequestsAndErrors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordRequest("/requests", "GET", 200, 15*time.Millisecond)
	m.RecordRequest("/requests", "GET", 200, 5*time.Millisecond)
	m.RecordError("/requests/:id", "PUT", "FORBIDDEN")
	m.RecordLifecycle("request_created")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requestCount.WithLabelValues("/requests", "GET", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errorCount.WithLabelValues("/requests/:id", "PUT", "FORBIDDEN")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lifecycle.WithLabelValues("request_created")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordRequest("/x", "GET", 200, time.Millisecond)
	m.RecordError("/x", "GET", "X")
	m.RecordLifecycle("x")

	empty := NewMetrics(nil)
	empty.RecordRequest("", "GET", 500, time.Millisecond)
	empty.RecordLifecycle("")
}
