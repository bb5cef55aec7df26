// Package liveness drives the bridge's 1Hz tick: bandwidth sampling and the
// 30-second rollover drain that ages out devices, re-announces the bridge's
// own liveness, and watches the serial link for a hang (§4.5).
package liveness

import (
	"fmt"

	"github.com/mapnull/mqtt-serial-bridge/internal/bandwidth"
	"github.com/mapnull/mqtt-serial-bridge/internal/logger"
	"github.com/mapnull/mqtt-serial-bridge/internal/metrics"
	"github.com/mapnull/mqtt-serial-bridge/internal/proto"
	"github.com/mapnull/mqtt-serial-bridge/internal/registry"
)

// rolloverPeriod is the tick-count modulus at which the drain runs; the
// original arms a 1-second alarm and rolls a counter modulo 60, draining
// every 30 ticks.
const rolloverPeriod = 30

// Bus is the subset of the bus transport the drain needs: publish a status
// announcement and drop a subscription for a timed-out node.
type Bus interface {
	Connected() bool
	Publish(topic, payload string) error
	Unsubscribe(topic string) error
}

// Serial is the subset of the serial transport the drain needs to detect
// and recover from a hang.
type Serial interface {
	Configured() bool
	Reinit() error
}

// Clock owns the tick counter and the dependencies needed to run the
// 30-second drain against a Registry. The last bandwidth sample is cached
// by the sampler, not here.
type Clock struct {
	reg     *registry.Registry
	bus     Bus
	serial  Serial
	sampler *bandwidth.Sampler // nil if no interface configured
	metrics metrics.Collector

	ticks int
}

// New constructs a Clock. sampler may be nil if no interface was
// configured; metrics may be nil, in which case a NullMetrics is used.
func New(reg *registry.Registry, bus Bus, serial Serial, sampler *bandwidth.Sampler, mc metrics.Collector) *Clock {
	if mc == nil {
		mc = metrics.NewNullMetrics()
	}
	return &Clock{reg: reg, bus: bus, serial: serial, sampler: sampler, metrics: mc}
}

// Tick runs once per second. It samples bandwidth every call (§4.5's
// "bandwidth sampling" concern is driven at the same 1Hz rate as the
// rollover counter) and reports whether this tick also triggered a
// 30-second drain.
func (c *Clock) Tick() (drained bool) {
	if c.sampler != nil {
		if up, down, err := c.sampler.Sample(); err == nil {
			c.metrics.SetBandwidth(up, down)
		} else {
			logger.LogWarn("liveness: bandwidth sample failed: %v", err)
		}
	}

	c.ticks = (c.ticks + 1) % 60
	if c.ticks%rolloverPeriod != 0 {
		return false
	}
	c.drain()
	return true
}

// drain implements the five steps of §4.5's 30-second rollover.
func (c *Clock) drain() {
	c.ageDevices()
	c.reconcileController()
	c.announceLiveness()
	c.publishBandwidth()
	c.checkSerialHang()

	c.metrics.SetDeviceCount(len(c.reg.EnumerateDevices()))
	c.metrics.SetModuleCount(c.reg.ModuleCount())
}

// ageDevices is step 1: decrement alive, announce and unsubscribe on
// timeout.
func (c *Clock) ageDevices() {
	for _, d := range c.reg.EnumerateDevices() {
		if d.Alive <= 0 {
			continue
		}
		d.Alive--
		if d.Alive > 0 {
			continue
		}

		c.metrics.IncDeviceTimeout()
		payload := fmt.Sprintf("%d,%s", proto.StTimeout, d.ID)
		if err := c.publishStatus(payload); err != nil {
			logger.LogWarn("liveness: publish timeout for %s: %v", d.ID, err)
		}

		if d.Type == registry.DeviceNode && d.MDDeps == registry.ModuleIDMQTT && c.bus != nil {
			topic := "status/" + d.ID
			if err := c.bus.Unsubscribe(topic); err != nil {
				logger.LogWarn("liveness: unsubscribe %s: %v", topic, err)
			}
		}
	}
}

// reconcileController is step 2: if no surviving device is a controller,
// the bridge stops considering itself paired to one.
func (c *Clock) reconcileController() {
	for _, d := range c.reg.EnumerateDevices() {
		if d.Type == registry.DeviceController && d.Alive > 0 {
			return
		}
	}
	c.reg.Bridge.Controller = false
	c.reg.Bridge.ModulesUpdate = false
}

// announceLiveness is step 3.
func (c *Clock) announceLiveness() {
	if c.bus == nil || !c.bus.Connected() {
		return
	}
	c.metrics.SetBusConnected(true)

	alive := fmt.Sprintf("%d,%d", proto.StAlive, c.reg.ModuleCount())
	if err := c.publishStatus(alive); err != nil {
		logger.LogWarn("liveness: publish ST_ALIVE: %v", err)
		return
	}

	if !c.reg.Bridge.ModulesUpdate {
		return
	}
	modulesUp := fmt.Sprintf("%d", proto.StModulesUp)
	if err := c.publishStatus(modulesUp); err != nil {
		logger.LogWarn("liveness: publish ST_MODULES_UP: %v", err)
		return
	}
	c.reg.Bridge.ModulesUpdate = false
}

// publishBandwidth is step 4.
func (c *Clock) publishBandwidth() {
	if c.sampler == nil || c.bus == nil {
		return
	}
	up, down, ok := c.sampler.LastSample()
	if !ok {
		return
	}
	m := c.reg.GetModule(registry.ModuleIDBandwidth)
	if m == nil {
		return
	}
	payload := bandwidth.FormatPayload(up, down)
	if err := c.bus.Publish(m.Topic, payload); err != nil {
		logger.LogWarn("liveness: publish bandwidth: %v", err)
	}
}

// checkSerialHang is step 5.
func (c *Clock) checkSerialHang() {
	if c.serial == nil || !c.serial.Configured() {
		return
	}

	if !c.reg.Bridge.SerialReady {
		if err := c.serial.Reinit(); err != nil {
			logger.LogWarn("liveness: serial reinit failed: %v", err)
			return
		}
		c.reg.Bridge.SerialReady = true
		c.reg.Bridge.SerialAlive = registry.AliveCount
		c.metrics.SetSerialReady(true)
		return
	}

	c.reg.Bridge.SerialAlive--
	if c.reg.Bridge.SerialAlive > 0 {
		return
	}

	c.reg.Bridge.SerialReady = false
	c.metrics.SetSerialReady(false)
	if m := c.reg.GetModule(registry.ModuleIDSerial); m != nil && c.bus != nil {
		if err := c.bus.Publish(m.Topic, "0"); err != nil {
			logger.LogWarn("liveness: publish serial hang: %v", err)
		}
	}
}

func (c *Clock) publishStatus(payload string) error {
	if c.bus == nil {
		return nil
	}
	return c.bus.Publish(c.reg.Bridge.StatusTopic, payload)
}
