// Package registry holds the bridge's in-memory data model: the bridge
// singleton, its known devices, and its known modules, plus the operations
// that keep them consistent (§3-4.3 of the specification).
package registry

import "github.com/mapnull/mqtt-serial-bridge/internal/ident"

// ModuleType enumerates the 28 capability kinds a module id's three leading
// digits can encode.
type ModuleType int

const (
	ModuleDummy ModuleType = iota
	ModuleTemp
	ModuleLDR
	ModuleHum
	ModuleZmon
	ModuleACPower
	ModuleDCPower
	ModuleAmps
	ModuleVolts
	ModuleWatts
	ModuleRain
	ModuleSonar
	ModuleLED
	ModuleRGB
	ModuleLCD16x2
	ModuleBTS
	ModuleBTL
	ModuleFlag1
	ModuleFlag2
	ModuleFlag3
	ModuleFlag4
	ModuleFlag5
	ModuleScript
	ModuleBandwidth
	ModuleSerial
	ModuleMQTT
	ModuleSigusr1
	ModuleSigusr2
)

var moduleTypeNames = [...]string{
	"dummy", "temp", "ldr", "hum", "zmon", "acpower", "dcpower", "amps",
	"volts", "watts", "rain", "sonar", "led", "rgb", "lcd16x2", "bts", "btl",
	"flag1", "flag2", "flag3", "flag4", "flag5", "script", "bandwidth",
	"serial", "mqtt", "sigusr1", "sigusr2",
}

func (t ModuleType) String() string {
	if t < 0 || int(t) >= len(moduleTypeNames) {
		return "unknown"
	}
	return moduleTypeNames[t]
}

// Fixed ids for the bridge's own singleton local modules, matching the
// original implementation's MODULE_*_ID constants.
const (
	ModuleIDScript    = "022FFA1"
	ModuleIDBandwidth = "023FFA1"
	ModuleIDSerial    = "024FFA1"
	ModuleIDMQTT      = "025FFA1"
	ModuleIDSigusr1   = "026FFA1"
	ModuleIDSigusr2   = "027FFA1"
)

// AliveCount is the device liveness countdown's initial value (the
// original's ALIVE_CNT, §3).
const AliveCount = 3

// DeviceType mirrors ident.DeviceType but is re-exported here for callers
// that only import registry.
type DeviceType = ident.DeviceType

const (
	DeviceNode       = ident.DeviceNode
	DeviceBridge     = ident.DeviceBridge
	DeviceController = ident.DeviceController
)

// Device represents a remote participant reachable through one local
// transport module (md_deps).
type Device struct {
	ID      string
	Type    DeviceType
	Alive   int
	MDDeps  string // module id of the local transport module reaching this device
	Modules int    // count of modules the remote side claims to own
	Topic   string // "config/<id>" for bus-reached devices, "" for serial-reached
}

// Module represents a named capability owned by the bridge or a device.
type Module struct {
	ID      string
	Type    ModuleType
	Enabled bool
	Device  string // owning device id, or the bridge's own id
	Topic   string
}

// Bridge is the singleton runtime state: the bridge's own identifier, its
// controller-peer flag, serial readiness, and its topic strings.
type Bridge struct {
	ID            string
	Controller    bool
	SerialReady   bool
	SerialAlive   int
	ModulesUpdate bool
	ConfigTopic   string
	StatusTopic   string
}

// NewBridge initializes the singleton state for bridge id, precomputing its
// config/status topics. id must already be a valid device id.
func NewBridge(id string) *Bridge {
	return &Bridge{
		ID:          id,
		ConfigTopic: "config/" + id,
		StatusTopic: "status/" + id,
	}
}
