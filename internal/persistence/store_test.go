package persistence

import (
	"errors"
	"os"
	"testing"

	"github.com/mapnull/mqtt-serial-bridge/internal/registry"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	r := registry.New(registry.NewBridge("200000099"))
	r.AddModule(registry.ModuleIDMQTT, "200000099")
	dev, err := r.AddDevice("200000004", registry.ModuleIDMQTT)
	if err != nil {
		t.Fatalf("AddDevice: %v", err)
	}

	mA, err := r.AddModule("0010004", dev.ID)
	if err != nil {
		t.Fatalf("AddModule A: %v", err)
	}
	if err := r.SetModuleTopic(mA, "A/x"); err != nil {
		t.Fatalf("SetModuleTopic A: %v", err)
	}

	mB, err := r.AddModule("0020004", dev.ID)
	if err != nil {
		t.Fatalf("AddModule B: %v", err)
	}
	if err := r.SetModuleTopic(mB, "B/y"); err != nil {
		t.Fatalf("SetModuleTopic B: %v", err)
	}
	mB.Enabled = false

	if err := Save(r, dir, dev); err != nil {
		t.Fatalf("Save: %v", err)
	}

	r2 := registry.New(registry.NewBridge("200000099"))
	loaded, err := Load(r2, dir, "200000004")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.MDDeps != registry.ModuleIDMQTT {
		t.Errorf("MDDeps = %q", loaded.MDDeps)
	}

	gotA := r2.GetModule("0010004")
	if gotA == nil || gotA.Topic != "A/x" || !gotA.Enabled {
		t.Fatalf("module A mismatch after round trip: %+v", gotA)
	}
	gotB := r2.GetModule("0020004")
	if gotB == nil || gotB.Topic != "B/y" || gotB.Enabled {
		t.Fatalf("module B mismatch after round trip: %+v", gotB)
	}
}

func TestLoadMissingFileReportsNotExist(t *testing.T) {
	dir := t.TempDir()
	r := registry.New(registry.NewBridge("200000099"))
	_, err := Load(r, dir, "200000004")
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Load() error = %v, want os.ErrNotExist", err)
	}
}

func TestLoadMismatchedDeviceIDFails(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/200000004"
	if err := os.WriteFile(path, []byte("device,999999999,"+registry.ModuleIDMQTT+"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	r := registry.New(registry.NewBridge("200000099"))
	if _, err := Load(r, dir, "200000004"); err == nil {
		t.Fatal("expected failure on device id mismatch")
	}
}

func TestLoadSkipsCommentsAndBlankLines(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/200000004"
	content := "# a comment\n\ndevice,200000004," + registry.ModuleIDMQTT + "\n\n# trailing\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	r := registry.New(registry.NewBridge("200000099"))
	dev, err := Load(r, dir, "200000004")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if dev.ID != "200000004" {
		t.Errorf("ID = %q", dev.ID)
	}
}
