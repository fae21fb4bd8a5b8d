//go:build linux

package channel

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func metricValue(m *dto.Metric) float64 {
	if c := m.GetCounter(); c != nil {
		return c.GetValue()
	}
	return m.GetGauge().GetValue()
}

func gatherCounter(t *testing.T, reg *prometheus.Registry, metric, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() != metric {
			continue
		}
		for _, m := range fam.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "channel" && label.GetValue() == name {
					return metricValue(m)
				}
			}
		}
	}
	t.Fatalf("metric %s{channel=%q} not found", metric, name)
	return 0
}

func TestCollector(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Capacity = 128
	cfg.Dir = t.TempDir()

	name := testName()
	c, err := Create(name, cfg)
	require.NoError(t, err)
	defer c.Dispose()

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(NewCollector()))

	require.NoError(t, c.SendBytes(pattern(16, 1)))
	require.NoError(t, c.SendBytes(pattern(24, 2)))
	_, err = c.ReceiveBytes(true)
	require.NoError(t, err)
	assert.ErrorIs(t, c.SendBytes(pattern(121, 3)), ErrBufferFull)

	assert.Equal(t, float64(2), gatherCounter(t, reg, "shmchan_messages_sent_total", name))
	assert.Equal(t, float64(1), gatherCounter(t, reg, "shmchan_messages_received_total", name))
	assert.Equal(t, float64(40), gatherCounter(t, reg, "shmchan_bytes_sent_total", name))
	assert.Equal(t, float64(16), gatherCounter(t, reg, "shmchan_bytes_received_total", name))
	assert.Equal(t, float64(1), gatherCounter(t, reg, "shmchan_buffer_full_rejects_total", name))
	assert.Equal(t, float64(128), gatherCounter(t, reg, "shmchan_capacity_bytes", name))
	// One framed message of 8+24 bytes is still live.
	assert.Equal(t, float64(32), gatherCounter(t, reg, "shmchan_live_bytes", name))
}
