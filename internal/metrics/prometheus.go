package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics is a Collector backed by client_golang gauges/counters,
// registered against a caller-supplied registry so the bridge's own metrics
// don't collide with anything else sharing the process.
type PrometheusMetrics struct {
	deviceCount   prometheus.Gauge
	moduleCount   prometheus.Gauge
	bandwidthUp   prometheus.Gauge
	bandwidthDown prometheus.Gauge
	serialReady   prometheus.Gauge
	busConnected  prometheus.Gauge
	deviceTimeout prometheus.Counter
	frameDropped  *prometheus.CounterVec
}

// NewPrometheusMetrics creates and registers the bridge's gauges/counters
// against reg.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	m := &PrometheusMetrics{
		deviceCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bridge", Name: "devices_known", Help: "Number of devices currently known to the bridge.",
		}),
		moduleCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bridge", Name: "modules_known", Help: "Number of modules currently known to the bridge.",
		}),
		bandwidthUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bridge", Name: "bandwidth_up_kbps", Help: "Last sampled upstream bandwidth in kbps.",
		}),
		bandwidthDown: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bridge", Name: "bandwidth_down_kbps", Help: "Last sampled downstream bandwidth in kbps.",
		}),
		serialReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bridge", Name: "serial_ready", Help: "1 if the serial transport is ready, 0 otherwise.",
		}),
		busConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bridge", Name: "bus_connected", Help: "1 if the bus transport is connected, 0 otherwise.",
		}),
		deviceTimeout: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bridge", Name: "device_timeouts_total", Help: "Devices declared timed out by the liveness clock.",
		}),
		frameDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bridge", Name: "frames_dropped_total", Help: "Frames dropped by the dispatcher, by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		m.deviceCount, m.moduleCount, m.bandwidthUp, m.bandwidthDown,
		m.serialReady, m.busConnected, m.deviceTimeout, m.frameDropped,
	)
	return m
}

func (m *PrometheusMetrics) SetDeviceCount(n int) { m.deviceCount.Set(float64(n)) }
func (m *PrometheusMetrics) SetModuleCount(n int) { m.moduleCount.Set(float64(n)) }

func (m *PrometheusMetrics) SetBandwidth(upKbps, downKbps int) {
	m.bandwidthUp.Set(float64(upKbps))
	m.bandwidthDown.Set(float64(downKbps))
}

func (m *PrometheusMetrics) SetSerialReady(ready bool) {
	m.serialReady.Set(boolToFloat(ready))
}

func (m *PrometheusMetrics) SetBusConnected(connected bool) {
	m.busConnected.Set(boolToFloat(connected))
}

func (m *PrometheusMetrics) IncDeviceTimeout() { m.deviceTimeout.Inc() }

func (m *PrometheusMetrics) IncFrameDropped(reason string) {
	m.frameDropped.WithLabelValues(reason).Inc()
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
