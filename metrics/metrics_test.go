package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func TestNew_RegistersAndSetIRIHealthy(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	assert.Equal(t, 0.0, gaugeValue(t, m.IRIHealthy))

	m.SetIRIHealthy(true)
	assert.Equal(t, 1.0, gaugeValue(t, m.IRIHealthy))

	m.SetIRIHealthy(false)
	assert.Equal(t, 0.0, gaugeValue(t, m.IRIHealthy))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mfs)
}

func TestNew_CountersStartAtZero(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.LinksOpened.Inc()
	m.LinksOpened.Inc()
	m.LinksClosed.Inc()

	var opened, closed dto.Metric
	require.NoError(t, m.LinksOpened.Write(&opened))
	require.NoError(t, m.LinksClosed.Write(&closed))
	assert.Equal(t, 2.0, opened.GetCounter().GetValue())
	assert.Equal(t, 1.0, closed.GetCounter().GetValue())
}
