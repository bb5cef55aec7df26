// Package metrics defines the bridge's metrics surface as an interface so a
// Prometheus-backed collector and a no-op collector are interchangeable,
// matching the teacher's MetricsCollector split.
package metrics

// Collector records bridge-level gauges and counters. Implementations must
// be safe for concurrent use, even though the bridge's own event loop is
// single-threaded — the collector may be scraped from an HTTP handler on a
// separate goroutine.
type Collector interface {
	SetDeviceCount(n int)
	SetModuleCount(n int)
	SetBandwidth(upKbps, downKbps int)
	SetSerialReady(ready bool)
	SetBusConnected(connected bool)
	IncDeviceTimeout()
	IncFrameDropped(reason string)
}
