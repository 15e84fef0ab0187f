package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMustRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New()
	m.MustRegister(reg)

	m.OrdersPlaced.WithLabelValues("BTC/USD", "BID").Inc()
	m.Relayed.Add(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.OrdersPlaced.WithLabelValues("BTC/USD", "BID")))
	n, err := testutil.GatherAndCount(reg, "matching_orders_placed_total", "matching_relayed_trades_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Panics(t, func() { New().MustRegister(reg) })
}
