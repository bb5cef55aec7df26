package registry

import (
	"errors"
	"testing"
)

func newTestRegistry() *Registry {
	return New(NewBridge("100000000"))
}

func TestAddModuleSetsDefaults(t *testing.T) {
	r := newTestRegistry()
	m, err := r.AddModule("0120001", "100000000")
	if err != nil {
		t.Fatalf("AddModule: %v", err)
	}
	if m.Type != ModuleLED {
		t.Errorf("Type = %v, want ModuleLED", m.Type)
	}
	if !m.Enabled {
		t.Error("expected module to be enabled by default")
	}
	if m.Topic != "raw/100000000/0120001" {
		t.Errorf("Topic = %q", m.Topic)
	}
	if !r.Bridge.ModulesUpdate {
		t.Error("expected modules_update to be set after add")
	}
}

func TestAddModuleDuplicateRejected(t *testing.T) {
	r := newTestRegistry()
	if _, err := r.AddModule("0120001", "100000000"); err != nil {
		t.Fatalf("first AddModule: %v", err)
	}
	_, err := r.AddModule("0120001", "100000000")
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second AddModule error = %v, want ErrDuplicate", err)
	}
	if r.ModuleCount() != 1 {
		t.Errorf("ModuleCount() = %d, want 1 (registry state must be that of the first add only)", r.ModuleCount())
	}
}

func TestAddModuleInvalidID(t *testing.T) {
	r := newTestRegistry()
	if _, err := r.AddModule("bad", "100000000"); err == nil {
		t.Fatal("expected error for invalid module id")
	}
}

func TestSetModuleTopic(t *testing.T) {
	r := newTestRegistry()
	m, _ := r.AddModule("0010002", "100000000")

	if err := r.SetModuleTopic(m, "xy"); err == nil {
		t.Fatal("expected rejection of topic shorter than 3 bytes")
	}
	if err := r.SetModuleTopic(m, m.Topic); !errors.Is(err, ErrUnchanged) {
		t.Fatalf("expected ErrUnchanged, got %v", err)
	}
	if err := r.SetModuleTopic(m, "sensors/temp/kitchen"); err != nil {
		t.Fatalf("SetModuleTopic: %v", err)
	}
	if m.Topic != "sensors/temp/kitchen" {
		t.Errorf("Topic = %q", m.Topic)
	}
}

func TestAddDeviceBusVsSerialTopic(t *testing.T) {
	r := newTestRegistry()
	r.AddModule(ModuleIDMQTT, "100000000")
	r.AddModule(ModuleIDSerial, "100000000")

	busDev, err := r.AddDevice("100000002", ModuleIDMQTT)
	if err != nil {
		t.Fatalf("AddDevice: %v", err)
	}
	if busDev.Topic != "config/100000002" {
		t.Errorf("bus device Topic = %q, want config/100000002", busDev.Topic)
	}
	if busDev.Alive != AliveCount {
		t.Errorf("Alive = %d, want %d", busDev.Alive, AliveCount)
	}

	serialDev, err := r.AddDevice("000000001", ModuleIDSerial)
	if err != nil {
		t.Fatalf("AddDevice: %v", err)
	}
	if serialDev.Topic != "" {
		t.Errorf("serial device Topic = %q, want empty", serialDev.Topic)
	}
}

func TestAddDeviceDuplicateRejected(t *testing.T) {
	r := newTestRegistry()
	r.AddModule(ModuleIDMQTT, "100000000")
	r.AddDevice("100000002", ModuleIDMQTT)
	_, err := r.AddDevice("100000002", ModuleIDMQTT)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("error = %v, want ErrDuplicate", err)
	}
}

func TestGetDeviceByDeps(t *testing.T) {
	r := newTestRegistry()
	r.AddModule(ModuleIDSerial, "100000000")
	r.AddDevice("000000001", ModuleIDSerial)

	got := r.GetDeviceByDeps(ModuleIDSerial)
	if got == nil || got.ID != "000000001" {
		t.Fatalf("GetDeviceByDeps = %v", got)
	}
}

func TestRemoveDeviceDoesNotTouchModule(t *testing.T) {
	r := newTestRegistry()
	r.AddModule(ModuleIDSerial, "100000000")
	r.AddDevice("000000001", ModuleIDSerial)

	if err := r.RemoveDevice("000000001"); err != nil {
		t.Fatalf("RemoveDevice: %v", err)
	}
	if r.GetModule(ModuleIDSerial) == nil {
		t.Fatal("md_deps module must survive device removal (see DESIGN.md open question)")
	}
}

func TestPruneOrphanModules(t *testing.T) {
	r := newTestRegistry()
	r.AddModule("0120001", "000000009") // no such device, and not the bridge id
	removed := r.PruneOrphanModules()
	if len(removed) != 1 || removed[0] != "0120001" {
		t.Fatalf("PruneOrphanModules() = %v", removed)
	}
	if r.GetModule("0120001") != nil {
		t.Fatal("orphan module should have been removed")
	}
}

func TestEnumerateOrderIsStable(t *testing.T) {
	r := newTestRegistry()
	r.AddModule("0010001", "100000000")
	r.AddModule("0020001", "100000000")
	r.AddModule("0030001", "100000000")

	ids := r.EnumerateModules()
	want := []string{"0010001", "0020001", "0030001"}
	for i, m := range ids {
		if m.ID != want[i] {
			t.Fatalf("EnumerateModules()[%d] = %s, want %s", i, m.ID, want[i])
		}
	}
}
