// Package ident validates the two fixed-width identifier formats the bridge
// uses on the wire: 9-character device ids and 7-character module ids.
package ident

const (
	DeviceIDLen = 9
	ModuleIDLen = 7

	// MaxModuleType is the highest valid module type code (28 kinds, 0..27).
	MaxModuleType = 27
)

// DeviceType enumerates the three device kinds encoded in id[0].
type DeviceType int

const (
	DeviceNode DeviceType = iota
	DeviceBridge
	DeviceController
)

// ValidDeviceID reports whether s is a well-formed 9-character device id
// whose first character encodes a known device type.
func ValidDeviceID(s string) bool {
	if len(s) != DeviceIDLen {
		return false
	}
	switch s[0] {
	case '0', '1', '2':
		return true
	default:
		return false
	}
}

// DeviceTypeOf returns the device type encoded by a valid device id's first
// character. Callers must check ValidDeviceID first.
func DeviceTypeOf(id string) DeviceType {
	return DeviceType(id[0] - '0')
}

// ValidModuleID reports whether s is a well-formed 7-character module id
// whose three leading ASCII digits parse as a type in [0, MaxModuleType].
func ValidModuleID(s string) bool {
	if len(s) != ModuleIDLen {
		return false
	}
	t, ok := moduleTypeDigits(s)
	if !ok {
		return false
	}
	return t >= 0 && t <= MaxModuleType
}

// ModuleTypeOf returns the module type encoded by a valid module id's three
// leading digits. Callers must check ValidModuleID first.
func ModuleTypeOf(id string) int {
	t, _ := moduleTypeDigits(id)
	return t
}

func moduleTypeDigits(id string) (int, bool) {
	if len(id) < 3 {
		return 0, false
	}
	d0, d1, d2 := id[0], id[1], id[2]
	if d0 < '0' || d0 > '9' || d1 < '0' || d1 > '9' || d2 < '0' || d2 > '9' {
		return 0, false
	}
	return int(d0-'0')*100 + int(d1-'0')*10 + int(d2-'0'), true
}
