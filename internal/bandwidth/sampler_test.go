package bandwidth

import "testing"

func TestFormatPayload(t *testing.T) {
	if got := FormatPayload(12, 34); got != "12,34" {
		t.Errorf("FormatPayload(12, 34) = %q, want %q", got, "12,34")
	}
	if got := FormatPayload(0, 0); got != "0,0" {
		t.Errorf("FormatPayload(0, 0) = %q, want %q", got, "0,0")
	}
}

func TestLastSampleBeforeAnySample(t *testing.T) {
	s := New("eth0")
	up, down, ok := s.LastSample()
	if ok {
		t.Errorf("expected ok=false before any Sample, got up=%d down=%d", up, down)
	}
}
