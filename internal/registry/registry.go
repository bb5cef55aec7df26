package registry

import (
	"errors"

	"github.com/mapnull/mqtt-serial-bridge/internal/bridgeerrors"
	"github.com/mapnull/mqtt-serial-bridge/internal/ident"
)

// Sentinel errors distinguished by callers (e.g. the dispatcher logs
// duplicates/invalids at debug level but treats missing differently).
var (
	ErrDuplicate = errors.New("already exists")
	ErrInvalid   = errors.New("invalid identifier")
	ErrMissing   = errors.New("not found")
	ErrUnchanged = errors.New("value unchanged")
)

const (
	topicMinLen = 3
	topicMaxLen = 30
)

// Registry owns the bridge's modules and devices, keyed for O(1) lookup
// while preserving insertion order for enumeration — replacing the
// original's singly-linked module list and realloc'd device array (see
// DESIGN.md for the orphan-pointer hazard this removes).
type Registry struct {
	Bridge *Bridge

	moduleOrder []string
	modules     map[string]*Module

	deviceOrder []string
	devices     map[string]*Device
}

// New creates an empty registry for the given bridge.
func New(b *Bridge) *Registry {
	return &Registry{
		Bridge:  b,
		modules: make(map[string]*Module),
		devices: make(map[string]*Device),
	}
}

// AddModule registers a new module id owned by ownerDeviceID, deriving its
// type from the id and defaulting its topic to raw/<bridge-id>/<module-id>.
func (r *Registry) AddModule(moduleID, ownerDeviceID string) (*Module, error) {
	if !ident.ValidModuleID(moduleID) {
		return nil, bridgeerrors.NewIdentifierError("add-module", moduleID)
	}
	if _, exists := r.modules[moduleID]; exists {
		return nil, bridgeerrors.NewRegistryError("add-module", ErrDuplicate, moduleID, bridgeerrors.SeverityWarning)
	}

	m := &Module{
		ID:      moduleID,
		Type:    ModuleType(ident.ModuleTypeOf(moduleID)),
		Enabled: true,
		Device:  ownerDeviceID,
		Topic:   "raw/" + r.Bridge.ID + "/" + moduleID,
	}
	r.modules[moduleID] = m
	r.moduleOrder = append(r.moduleOrder, moduleID)
	r.Bridge.ModulesUpdate = true
	return m, nil
}

// GetModule looks up a module by id; returns nil if absent or the id is
// malformed.
func (r *Registry) GetModule(moduleID string) *Module {
	if !ident.ValidModuleID(moduleID) {
		return nil
	}
	return r.modules[moduleID]
}

// RemoveModule deletes a module by id.
func (r *Registry) RemoveModule(moduleID string) error {
	if !ident.ValidModuleID(moduleID) {
		return bridgeerrors.NewIdentifierError("remove-module", moduleID)
	}
	if _, exists := r.modules[moduleID]; !exists {
		return bridgeerrors.NewRegistryError("remove-module", ErrMissing, moduleID, bridgeerrors.SeverityWarning)
	}
	delete(r.modules, moduleID)
	r.moduleOrder = removeString(r.moduleOrder, moduleID)
	r.Bridge.ModulesUpdate = true
	return nil
}

// SetModuleTopic updates a module's topic, rejecting out-of-range lengths
// and no-op changes.
func (r *Registry) SetModuleTopic(m *Module, newTopic string) error {
	if len(newTopic) < topicMinLen || len(newTopic) > topicMaxLen {
		return bridgeerrors.NewRegistryError("set-module-topic", ErrInvalid, m.ID, bridgeerrors.SeverityWarning)
	}
	if newTopic == m.Topic {
		return ErrUnchanged
	}
	m.Topic = newTopic
	return nil
}

// AddDevice registers a new device reachable through the local transport
// module mdDepsID (the bus or serial singleton module).
func (r *Registry) AddDevice(id, mdDepsID string) (*Device, error) {
	if !ident.ValidDeviceID(id) {
		return nil, bridgeerrors.NewIdentifierError("add-device", id)
	}
	if _, exists := r.devices[id]; exists {
		return nil, bridgeerrors.NewRegistryError("add-device", ErrDuplicate, id, bridgeerrors.SeverityWarning)
	}

	d := &Device{
		ID:     id,
		Type:   ident.DeviceTypeOf(id),
		Alive:  AliveCount,
		MDDeps: mdDepsID,
	}
	if mdDepsID == ModuleIDMQTT {
		d.Topic = "config/" + id
	}
	r.devices[id] = d
	r.deviceOrder = append(r.deviceOrder, id)
	return d, nil
}

// RemoveDevice deletes a device by id. Per DESIGN.md's open question, this
// never frees/removes md_deps: the referenced module belongs to the
// bridge's module list and may still be in use.
func (r *Registry) RemoveDevice(id string) error {
	if !ident.ValidDeviceID(id) {
		return bridgeerrors.NewIdentifierError("remove-device", id)
	}
	if _, exists := r.devices[id]; !exists {
		return bridgeerrors.NewRegistryError("remove-device", ErrMissing, id, bridgeerrors.SeverityWarning)
	}
	delete(r.devices, id)
	r.deviceOrder = removeString(r.deviceOrder, id)
	return nil
}

// GetDevice looks up a device by id.
func (r *Registry) GetDevice(id string) *Device {
	if !ident.ValidDeviceID(id) {
		return nil
	}
	return r.devices[id]
}

// GetDeviceByDeps finds the device reached through local transport module
// mdDepsID. Only one device reaches through a given local module at a time
// in practice (the registered peer on that transport); callers needing all
// should use EnumerateDevices and filter.
func (r *Registry) GetDeviceByDeps(mdDepsID string) *Device {
	for _, id := range r.deviceOrder {
		if d := r.devices[id]; d.MDDeps == mdDepsID {
			return d
		}
	}
	return nil
}

// EnumerateModules returns modules in insertion order.
func (r *Registry) EnumerateModules() []*Module {
	out := make([]*Module, 0, len(r.moduleOrder))
	for _, id := range r.moduleOrder {
		out = append(out, r.modules[id])
	}
	return out
}

// EnumerateDevices returns devices in insertion order.
func (r *Registry) EnumerateDevices() []*Device {
	out := make([]*Device, 0, len(r.deviceOrder))
	for _, id := range r.deviceOrder {
		out = append(out, r.devices[id])
	}
	return out
}

// ModuleCount returns the number of registered modules (bridge.modules_len).
func (r *Registry) ModuleCount() int {
	return len(r.moduleOrder)
}

// PruneOrphanModules removes any module whose owning device is neither the
// bridge itself nor a known device, per invariant 3 in §3.
func (r *Registry) PruneOrphanModules() []string {
	var removed []string
	for _, id := range append([]string(nil), r.moduleOrder...) {
		m := r.modules[id]
		if m.Device == r.Bridge.ID {
			continue
		}
		if r.devices[m.Device] != nil {
			continue
		}
		_ = r.RemoveModule(id)
		removed = append(removed, id)
	}
	return removed
}

func removeString(s []string, v string) []string {
	for i, x := range s {
		if x == v {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}
