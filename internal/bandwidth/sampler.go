// Package bandwidth samples kernel-exposed interface counters and converts
// them into a kbps up/down pair, the "interface-bandwidth sampler" external
// collaborator from spec §1, driven once per second by the liveness clock.
package bandwidth

import (
	"fmt"
	"time"

	gopsnet "github.com/shirou/gopsutil/v3/net"
)

// Sampler tracks one named interface's counters across ticks, alternating
// between two timestamps so drift doesn't accumulate (§4.5).
type Sampler struct {
	iface string

	lastBytesRecv uint64
	lastBytesSent uint64
	lastSampleAt  time.Time
	havePrior     bool

	cachedUp, cachedDown int
	hasCached            bool
}

// New returns a sampler for the given interface name.
func New(iface string) *Sampler {
	return &Sampler{iface: iface}
}

// Sample reads the interface's current counters and returns the up/down
// rate in kbps computed against the previous sample. The first successful
// call after construction returns 0,0 and just primes the baseline.
func (s *Sampler) Sample() (upKbps, downKbps int, err error) {
	counters, err := gopsnet.IOCounters(true)
	if err != nil {
		return 0, 0, fmt.Errorf("read interface counters: %w", err)
	}

	var recv, sent uint64
	found := false
	for _, c := range counters {
		if c.Name == s.iface {
			recv, sent = c.BytesRecv, c.BytesSent
			found = true
			break
		}
	}
	if !found {
		return 0, 0, fmt.Errorf("interface %q not found", s.iface)
	}

	now := time.Now()
	if !s.havePrior {
		s.lastBytesRecv, s.lastBytesSent, s.lastSampleAt = recv, sent, now
		s.havePrior = true
		return 0, 0, nil
	}

	elapsed := now.Sub(s.lastSampleAt).Seconds()
	if elapsed <= 0 {
		return 0, 0, nil
	}

	deltaRecv := recv - s.lastBytesRecv
	deltaSent := sent - s.lastBytesSent

	// bytes / elapsed / 128 == bytes*8 bits/byte / 1024 bits/Kbit, the
	// original's each_sec formula (binary kilo, not decimal).
	downKbps = int(float64(deltaRecv) / elapsed / 128.0)
	upKbps = int(float64(deltaSent) / elapsed / 128.0)

	s.lastBytesRecv, s.lastBytesSent, s.lastSampleAt = recv, sent, now
	s.cachedUp, s.cachedDown, s.hasCached = upKbps, downKbps, true
	return upKbps, downKbps, nil
}

// LastSample returns the most recently computed rate without sampling
// again; ok is false until Sample has produced at least one non-priming
// reading. This is the single cached value the timer path writes and the
// loop path reads (§5 "shared resources").
func (s *Sampler) LastSample() (upKbps, downKbps int, ok bool) {
	return s.cachedUp, s.cachedDown, s.hasCached
}

// FormatPayload renders the cached sample as the "<up>,<down>" wire payload
// published on the bandwidth module's topic.
func FormatPayload(upKbps, downKbps int) string {
	return fmt.Sprintf("%d,%d", upKbps, downKbps)
}
