package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveRequest(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveRequest("/api/audit/{id}", "GET", 404, time.Now())
	m.ObserveRequest("/api/audit/{id}", "GET", 200, time.Now())
	m.ObserveRequest("/api/audit/{id}", "GET", 204, time.Now())

	assert.Equal(t, 2, testutil.CollectAndCount(m.RequestDuration))
}

func TestInFlight(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.IncInFlight()
	m.IncInFlight()
	m.DecInFlight()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.InFlight))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRequest("/", "GET", 200, time.Now())
		m.IncInFlight()
		m.DecInFlight()
	})
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(200))
	assert.Equal(t, "3xx", statusClass(302))
	assert.Equal(t, "4xx", statusClass(400))
	assert.Equal(t, "5xx", statusClass(503))
}
