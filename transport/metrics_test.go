package transport

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	require.NotNil(t, m)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}

func TestObserveRequestCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.observeRequest(time.Now(), nil)
	m.observeRequest(time.Now(), errors.New("boom"))
	m.observeRequest(time.Now(), errors.New("boom again"))

	require.Equal(t, float64(1), testutil.ToFloat64(m.requestsTotal.WithLabelValues("ok")))
	require.Equal(t, float64(2), testutil.ToFloat64(m.requestsTotal.WithLabelValues("error")))
}

func TestNewMetricsNilRegistererDoesNotPanic(t *testing.T) {
	require.NotPanics(t, func() {
		NewMetrics(nil)
	})
}
