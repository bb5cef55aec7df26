package ident

import "testing"

func TestValidDeviceID(t *testing.T) {
	cases := map[string]bool{
		"000000001": true,
		"100000002": true,
		"200000003": true,
		"300000004": false, // type 3 out of range
		"00000001":  false, // too short
		"0000000011": false, // too long
	}
	for id, want := range cases {
		if got := ValidDeviceID(id); got != want {
			t.Errorf("ValidDeviceID(%q) = %v, want %v", id, got, want)
		}
	}
}

func TestDeviceTypeOf(t *testing.T) {
	if DeviceTypeOf("000000001") != DeviceNode {
		t.Error("expected node type")
	}
	if DeviceTypeOf("200000001") != DeviceController {
		t.Error("expected controller type")
	}
}

func TestValidModuleID(t *testing.T) {
	cases := map[string]bool{
		"0120001": true,
		"0270001": true,  // type 27, top of range
		"0280001": false, // type 28, out of range
		"abc0001": false,
		"012000":  false, // too short
	}
	for id, want := range cases {
		if got := ValidModuleID(id); got != want {
			t.Errorf("ValidModuleID(%q) = %v, want %v", id, got, want)
		}
	}
}

func TestModuleTypeOf(t *testing.T) {
	if ModuleTypeOf("0120001") != 12 {
		t.Error("expected type 12 (led)")
	}
}
