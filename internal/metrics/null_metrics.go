package metrics

// NullMetrics discards everything. dispatch.New and liveness.New use it
// when given a nil collector, so call sites never need a nil check.
type NullMetrics struct{}

func NewNullMetrics() *NullMetrics { return &NullMetrics{} }

func (NullMetrics) SetDeviceCount(int)          {}
func (NullMetrics) SetModuleCount(int)          {}
func (NullMetrics) SetBandwidth(int, int)       {}
func (NullMetrics) SetSerialReady(bool)         {}
func (NullMetrics) SetBusConnected(bool)        {}
func (NullMetrics) IncDeviceTimeout()           {}
func (NullMetrics) IncFrameDropped(string)       {}
