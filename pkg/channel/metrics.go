package channel

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	sendsDesc = prometheus.NewDesc(
		"shmchan_messages_sent_total",
		"Messages sent on the channel by this process.",
		[]string{"channel"}, nil)
	receivesDesc = prometheus.NewDesc(
		"shmchan_messages_received_total",
		"Messages received from the channel by this process.",
		[]string{"channel"}, nil)
	bytesSentDesc = prometheus.NewDesc(
		"shmchan_bytes_sent_total",
		"Payload bytes sent on the channel by this process.",
		[]string{"channel"}, nil)
	bytesReceivedDesc = prometheus.NewDesc(
		"shmchan_bytes_received_total",
		"Payload bytes received from the channel by this process.",
		[]string{"channel"}, nil)
	fullRejectsDesc = prometheus.NewDesc(
		"shmchan_buffer_full_rejects_total",
		"Sends rejected because the ring had insufficient free space.",
		[]string{"channel"}, nil)
	liveBytesDesc = prometheus.NewDesc(
		"shmchan_live_bytes",
		"Bytes currently written but not yet read, sampled without the ring lock.",
		[]string{"channel"}, nil)
	capacityDesc = prometheus.NewDesc(
		"shmchan_capacity_bytes",
		"Ring capacity in bytes.",
		[]string{"channel"}, nil)
)

// Collector exports the counters of every live channel in this process.
// Register it once: prometheus.MustRegister(channel.NewCollector()).
type Collector struct{}

// NewCollector returns a prometheus collector over the channel registry.
func NewCollector() *Collector { return &Collector{} }

// Describe implements prometheus.Collector.
func (col *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- sendsDesc
	ch <- receivesDesc
	ch <- bytesSentDesc
	ch <- bytesReceivedDesc
	ch <- fullRejectsDesc
	ch <- liveBytesDesc
	ch <- capacityDesc
}

// Collect implements prometheus.Collector.
func (col *Collector) Collect(ch chan<- prometheus.Metric) {
	ForEach(func(c *Channel) {
		stats := c.Stats()
		state := c.DebugState()
		name := c.Name()
		ch <- prometheus.MustNewConstMetric(sendsDesc, prometheus.CounterValue, float64(stats.Sends), name)
		ch <- prometheus.MustNewConstMetric(receivesDesc, prometheus.CounterValue, float64(stats.Receives), name)
		ch <- prometheus.MustNewConstMetric(bytesSentDesc, prometheus.CounterValue, float64(stats.BytesSent), name)
		ch <- prometheus.MustNewConstMetric(bytesReceivedDesc, prometheus.CounterValue, float64(stats.BytesReceived), name)
		ch <- prometheus.MustNewConstMetric(fullRejectsDesc, prometheus.CounterValue, float64(stats.FullRejects), name)
		ch <- prometheus.MustNewConstMetric(liveBytesDesc, prometheus.GaugeValue, float64(state.Live), name)
		ch <- prometheus.MustNewConstMetric(capacityDesc, prometheus.GaugeValue, float64(state.Capacity), name)
	})
}
