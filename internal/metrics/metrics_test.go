package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Observe("create", "ok", 0.01)
	m.Observe("create", "ok", 0.02)
	m.Observe("enter", "expired", 0.001)

	assert.Equal(t, 2.0, m.Count("create", "ok"))
	assert.Equal(t, 1.0, m.Count("enter", "expired"))
	assert.Equal(t, 0.0, m.Count("distribute", "ok"))
	assert.Equal(t, 2, testutil.CollectAndCount(m.duration))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() { m.Observe("create", "ok", 1) })
	assert.Equal(t, 0.0, m.Count("create", "ok"))
}
