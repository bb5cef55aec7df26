// Package dispatch interprets one decoded frame against the registry and
// transport context, deciding whether to translate, persist, reply, or drop
// it (§4.6). It is the largest single component of the bridge: every
// inbound frame, from either transport, funnels through here.
package dispatch

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mapnull/mqtt-serial-bridge/internal/bandwidth"
	"github.com/mapnull/mqtt-serial-bridge/internal/frame"
	"github.com/mapnull/mqtt-serial-bridge/internal/ident"
	"github.com/mapnull/mqtt-serial-bridge/internal/logger"
	"github.com/mapnull/mqtt-serial-bridge/internal/metrics"
	"github.com/mapnull/mqtt-serial-bridge/internal/persistence"
	"github.com/mapnull/mqtt-serial-bridge/internal/proto"
	"github.com/mapnull/mqtt-serial-bridge/internal/registry"
)

// Bus is the subset of the bus transport the dispatcher needs.
type Bus interface {
	Publish(topic, payload string) error
	Subscribe(topic string) error
}

// Serial is the subset of the serial transport the dispatcher needs.
type Serial interface {
	WriteLine(line string) error
}

// ScriptRunner executes the bridge's own script module for MD_TO_RAW
// frames addressed locally. ok reports whether the script exited
// successfully; output is its captured stdout (possibly empty).
type ScriptRunner interface {
	Run(payload string) (output string, ok bool, err error)
}

// BandwidthSource supplies the bandwidth sampler's most recently cached
// sample, for the locally-dispatched MD_TO_RAW bandwidth read.
type BandwidthSource interface {
	LastSample() (upKbps, downKbps int, ok bool)
}

// Dispatcher holds everything needed to interpret a decoded frame: the
// registry it mutates, the transports it replies on, and the two local
// module implementations (script, bandwidth) it can invoke directly.
type Dispatcher struct {
	reg           *registry.Registry
	devicesFolder string
	bus           Bus
	serial        Serial
	script        ScriptRunner
	bandwidthSrc  BandwidthSource
	metrics       metrics.Collector
}

// New constructs a Dispatcher. serial, script, and bandwidthSrc may be nil
// when that local module was never configured; metrics may be nil.
func New(reg *registry.Registry, devicesFolder string, bus Bus, serial Serial, script ScriptRunner, bandwidthSrc BandwidthSource, mc metrics.Collector) *Dispatcher {
	if mc == nil {
		mc = metrics.NewNullMetrics()
	}
	return &Dispatcher{
		reg: reg, devicesFolder: devicesFolder, bus: bus, serial: serial,
		script: script, bandwidthSrc: bandwidthSrc, metrics: mc,
	}
}

// HandleSerialLine decodes one newline-stripped serial line and, for
// machine frames, dispatches it. Debug lines are logged and otherwise
// ignored; lines with an unrecognized or truncated prefix are dropped.
func (d *Dispatcher) HandleSerialLine(line string) error {
	kind, payload := frame.SerialLine(line)
	switch kind {
	case frame.KindDebug:
		logger.LogDebug("serial debug: %s", payload)
		return nil
	case frame.KindMessage:
	default:
		d.metrics.IncFrameDropped("serial-unknown-prefix")
		return nil
	}

	r := frame.NewReader(payload)
	devID, err := r.ReadString(ident.DeviceIDLen, ',')
	if err != nil || !ident.ValidDeviceID(devID) {
		logger.LogDebug("serial: invalid device id in %q", payload)
		d.metrics.IncFrameDropped("invalid-device-id")
		return nil
	}

	dev, isNew, err := d.ensureDevice(devID, registry.ModuleIDSerial)
	if err != nil {
		return err
	}
	if !isNew {
		dev.Alive = registry.AliveCount
	}

	code, err := r.ReadInt()
	if err != nil {
		logger.LogDebug("serial: invalid code in %q", payload)
		d.metrics.IncFrameDropped("invalid-code")
		return nil
	}

	return d.dispatch(dev, proto.Code(code), r)
}

// HandleBusMessage dispatches one message received on topic. Messages on
// the bridge's own config topic carry the target device id as their
// leading field; messages on any other subscribed topic (a node's
// status/<id>) carry the id in the topic suffix.
func (d *Dispatcher) HandleBusMessage(topic, payload string) error {
	var devID string
	r := frame.NewReader(payload)

	if topic == d.reg.Bridge.ConfigTopic {
		var err error
		devID, err = r.ReadString(ident.DeviceIDLen, ',')
		if err != nil {
			logger.LogDebug("bus: invalid data on %s: %q", topic, payload)
			d.metrics.IncFrameDropped("invalid-device-id")
			return nil
		}
	} else {
		devID = strings.TrimPrefix(topic, "status/")
	}

	if !ident.ValidDeviceID(devID) {
		logger.LogDebug("bus: invalid device id %q on topic %s", devID, topic)
		d.metrics.IncFrameDropped("invalid-device-id")
		return nil
	}

	dev, isNew, err := d.ensureDevice(devID, registry.ModuleIDMQTT)
	if err != nil {
		return err
	}
	if !isNew {
		dev.Alive = registry.AliveCount
	}

	code, err := r.ReadInt()
	if err != nil {
		logger.LogDebug("bus: invalid code on %s: %q", topic, payload)
		d.metrics.IncFrameDropped("invalid-code")
		return nil
	}

	return d.dispatch(dev, proto.Code(code), r)
}

// ensureDevice looks up devID, falling back to a persisted record and
// finally to a fresh registration through mdDeps (the transport module
// that just observed it). New node devices reached over the bus get their
// status topic subscribed; a new controller device marks the bridge
// paired.
func (d *Dispatcher) ensureDevice(devID, mdDeps string) (dev *registry.Device, isNew bool, err error) {
	if dev := d.reg.GetDevice(devID); dev != nil {
		return dev, false, nil
	}

	dev, err = persistence.Load(d.reg, d.devicesFolder, devID)
	if err == nil {
		return dev, false, nil
	}
	if !os.IsNotExist(err) {
		return nil, false, fmt.Errorf("load persisted device %s: %w", devID, err)
	}

	dev, err = d.reg.AddDevice(devID, mdDeps)
	if err != nil {
		return nil, false, fmt.Errorf("register device %s: %w", devID, err)
	}

	switch {
	case dev.Type == registry.DeviceNode && mdDeps == registry.ModuleIDMQTT && d.bus != nil:
		if err := d.bus.Subscribe("status/" + dev.ID); err != nil {
			logger.LogWarn("dispatch: subscribe status/%s: %v", dev.ID, err)
		}
	case dev.Type == registry.DeviceController:
		d.reg.Bridge.Controller = true
	}
	return dev, true, nil
}

// dispatch is the §4.6 switch, shared by both transports once the owning
// device and code have been resolved.
func (d *Dispatcher) dispatch(dev *registry.Device, code proto.Code, r *frame.Reader) error {
	switch code {
	case proto.Error, proto.Ack, proto.Nack, proto.StTimeout, proto.Device, proto.RemoveDevice:
		return nil

	case proto.StAlive:
		n, err := r.ReadInt()
		if err != nil {
			return nil
		}
		if dev.Modules == n {
			return nil
		}
		dev.Modules = n
		return d.handleModulesUp(dev)

	case proto.StModulesUp:
		return d.handleModulesUp(dev)

	case proto.GetModules:
		if dev.MDDeps == registry.ModuleIDMQTT {
			for _, m := range d.reg.EnumerateModules() {
				payload := fmt.Sprintf("%s,%d,%s,%s,%d", d.reg.Bridge.ID, proto.Module, m.ID, m.Device, boolToInt(m.Enabled))
				d.publishBus(dev.Topic, payload)
			}
		}
		return nil

	case proto.GetDevices:
		if dev.MDDeps == registry.ModuleIDMQTT {
			for _, td := range d.reg.EnumerateDevices() {
				payload := fmt.Sprintf("%s,%d,%s,%d,%d", d.reg.Bridge.ID, proto.Device, td.ID, td.Modules, td.Alive)
				d.publishBus(dev.Topic, payload)
			}
		}
		return nil

	case proto.SaveDevice:
		targetID, err := r.ReadString(ident.DeviceIDLen, ',')
		if err != nil || !ident.ValidDeviceID(targetID) {
			return nil
		}
		target := d.reg.GetDevice(targetID)
		if target == nil {
			return nil
		}
		if err := persistence.Save(d.reg, d.devicesFolder, target); err != nil {
			logger.LogWarn("dispatch: save device %s: %v", targetID, err)
		}
		return nil
	}

	return d.dispatchModuleFrame(dev, code, r)
}

// handleModulesUp implements codes 3 (fallthrough) and 5: request a module
// list refresh from a node peer, by whichever transport reaches it.
func (d *Dispatcher) handleModulesUp(dev *registry.Device) error {
	if dev.Type != registry.DeviceNode {
		return nil
	}
	if dev.MDDeps == registry.ModuleIDSerial && d.reg.Bridge.SerialReady {
		line := frame.EncodeSerialMessage(dev.ID, int(proto.GetModules))
		return d.writeSerial(line)
	}
	if dev.MDDeps == registry.ModuleIDMQTT {
		payload := fmt.Sprintf("%s,%d", d.reg.Bridge.ID, proto.GetModules)
		return d.publishBus(dev.Topic, payload)
	}
	return nil
}

// dispatchModuleFrame handles every remaining code, all of which carry a
// module id as their next field.
func (d *Dispatcher) dispatchModuleFrame(dev *registry.Device, code proto.Code, r *frame.Reader) error {
	moduleID, err := r.ReadString(ident.ModuleIDLen, ',')
	if err != nil || !ident.ValidModuleID(moduleID) {
		logger.LogDebug("dispatch: missing or invalid module id for code %s", code)
		d.metrics.IncFrameDropped("invalid-module-id")
		return nil
	}

	m := d.reg.GetModule(moduleID)

	if code == proto.Module {
		if m != nil {
			return nil
		}
		owner, err := r.ReadString(ident.DeviceIDLen, ',')
		if err != nil || !ident.ValidDeviceID(owner) {
			return nil
		}
		enabled := 1
		if n, err := r.ReadInt(); err == nil {
			enabled = n
		}
		newMod, err := d.reg.AddModule(moduleID, owner)
		if err != nil {
			logger.LogDebug("dispatch: add module %s: %v", moduleID, err)
			return nil
		}
		if enabled == 0 {
			newMod.Enabled = false
		}
		return nil
	}

	if m == nil {
		return nil
	}

	var targetDev *registry.Device
	if m.Device != d.reg.Bridge.ID {
		targetDev = d.reg.GetDevice(m.Device)
		if targetDev == nil {
			removed := d.reg.PruneOrphanModules()
			logger.LogWarn("dispatch: orphan module %s, pruned %v", m.ID, removed)
			d.metrics.IncFrameDropped("orphan-module")
			return nil
		}
	}

	switch code {
	case proto.GetModule:
		if dev.MDDeps == registry.ModuleIDMQTT {
			payload := fmt.Sprintf("%s,%d,%s,%s,%d", d.reg.Bridge.ID, proto.Module, m.ID, m.Device, boolToInt(m.Enabled))
			return d.publishBus(dev.Topic, payload)
		}
		return nil

	case proto.MDGetTopic:
		if dev.MDDeps == registry.ModuleIDMQTT {
			payload := fmt.Sprintf("%s,%d,%s,%s", d.reg.Bridge.ID, proto.MDTopic, m.ID, m.Topic)
			return d.publishBus(dev.Topic, payload)
		}
		return nil

	case proto.MDSetTopic, proto.MDTopic:
		newTopic := strings.TrimRight(r.Remainder(), "\r\n")
		if err := d.reg.SetModuleTopic(m, newTopic); err != nil {
			return nil
		}
		payload := fmt.Sprintf("%d,%s,%s", proto.MDTopic, m.ID, m.Topic)
		return d.publishBus(d.reg.Bridge.StatusTopic, payload)

	case proto.MDRaw:
		return d.publishBus(m.Topic, r.Remainder())

	case proto.MDToRaw:
		return d.routeMDToRaw(m, targetDev, r.Remainder())

	case proto.MDEnable, proto.MDGetEnable, proto.MDSetEnable, proto.MDSetID:
		return nil

	default:
		logger.LogTrace("dispatch: code %s not treated", code)
		return nil
	}
}

// routeMDToRaw implements code 13: forward to the owner's transport, or
// run the bridge's own local module if the owner is the bridge itself.
func (d *Dispatcher) routeMDToRaw(m *registry.Module, targetDev *registry.Device, payload string) error {
	switch {
	case targetDev != nil && targetDev.MDDeps == registry.ModuleIDSerial && d.reg.Bridge.SerialReady:
		line := frame.EncodeSerialMessage(targetDev.ID, int(proto.MDToRaw), m.ID, payload)
		return d.writeSerial(line)

	case targetDev != nil && targetDev.MDDeps == registry.ModuleIDMQTT:
		out := fmt.Sprintf("%s,%d,%s,%s", d.reg.Bridge.ID, proto.MDToRaw, m.ID, payload)
		return d.publishBus(targetDev.Topic, out)

	case m.Device == d.reg.Bridge.ID:
		return d.runLocalModule(m, payload)
	}
	return nil
}

func (d *Dispatcher) runLocalModule(m *registry.Module, payload string) error {
	switch m.Type {
	case registry.ModuleScript:
		if d.script == nil {
			return nil
		}
		output, ok, err := d.script.Run(payload)
		if err != nil {
			return fmt.Errorf("run script for module %s: %w", m.ID, err)
		}
		if !ok {
			return d.publishBus(m.Topic, "0")
		}
		if output == "" {
			return d.publishBus(m.Topic, "1")
		}
		return d.publishBus(m.Topic, output)

	case registry.ModuleBandwidth:
		if d.bandwidthSrc == nil {
			return nil
		}
		up, down, ok := d.bandwidthSrc.LastSample()
		if !ok {
			return nil
		}
		return d.publishBus(m.Topic, bandwidth.FormatPayload(up, down))

	case registry.ModuleSerial:
		return d.publishBus(m.Topic, strconv.Itoa(boolToInt(d.reg.Bridge.SerialReady)))
	}
	return nil
}

func (d *Dispatcher) publishBus(topic, payload string) error {
	if d.bus == nil {
		return nil
	}
	if err := d.bus.Publish(topic, payload); err != nil {
		logger.LogWarn("dispatch: publish %s: %v", topic, err)
		d.metrics.IncFrameDropped("bus-publish-error")
		return nil
	}
	return nil
}

func (d *Dispatcher) writeSerial(line string) error {
	if d.serial == nil {
		return nil
	}
	if err := d.serial.WriteLine(line); err != nil {
		logger.LogWarn("dispatch: serial write: %v", err)
		d.metrics.IncFrameDropped("serial-write-error")
		return nil
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
