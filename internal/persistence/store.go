// Package persistence saves and loads a device's registered modules to a
// per-device file under the configured devices folder (§4.4).
package persistence

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mapnull/mqtt-serial-bridge/internal/bridgeerrors"
	"github.com/mapnull/mqtt-serial-bridge/internal/logger"
	"github.com/mapnull/mqtt-serial-bridge/internal/registry"
)

// Save writes dev's header followed by one "module" line per module owned
// by dev, to <folder>/<dev.ID>.
func Save(r *registry.Registry, folder string, dev *registry.Device) error {
	path := filepath.Join(folder, dev.ID)

	f, err := os.Create(path)
	if err != nil {
		return bridgeerrors.NewPersistenceError("save", err, path)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "device,%s,%s\n", dev.ID, dev.MDDeps)
	for _, m := range r.EnumerateModules() {
		if m.Device != dev.ID {
			continue
		}
		enabled := 0
		if m.Enabled {
			enabled = 1
		}
		fmt.Fprintf(w, "module,%s,%s,%d\n", m.ID, m.Topic, enabled)
	}
	if err := w.Flush(); err != nil {
		return bridgeerrors.NewPersistenceError("save", err, path)
	}
	logger.LogDebug("persisted device %s to %s", dev.ID, path)
	return nil
}

// Load reads <folder>/<devID>, creating the device (via AddDevice) and then
// each module it lists (via AddModule, then SetModuleTopic/disable as
// needed). Returns os.ErrNotExist when no file is present — callers treat
// that as "create a fresh device" rather than a load failure. Any parse
// error aborts the load and is reported as a PersistenceError; the first
// record must be the device header and must name devID.
func Load(r *registry.Registry, folder, devID string) (*registry.Device, error) {
	path := filepath.Join(folder, devID)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, bridgeerrors.NewPersistenceError("load", err, path)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var dev *registry.Device
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, ",")
		switch fields[0] {
		case "device":
			if dev != nil {
				return nil, bridgeerrors.NewPersistenceError("load", fmt.Errorf("line %d: duplicate device record", lineNo), path)
			}
			if len(fields) != 3 {
				return nil, bridgeerrors.NewPersistenceError("load", fmt.Errorf("line %d: malformed device record", lineNo), path)
			}
			if fields[1] != devID {
				return nil, bridgeerrors.NewPersistenceError("load", fmt.Errorf("line %d: device id %q does not match requested %q", lineNo, fields[1], devID), path)
			}
			dev, err = r.AddDevice(fields[1], fields[2])
			if err != nil {
				return nil, bridgeerrors.NewPersistenceError("load", err, path)
			}

		case "module":
			if dev == nil {
				return nil, bridgeerrors.NewPersistenceError("load", fmt.Errorf("line %d: module record before device record", lineNo), path)
			}
			if len(fields) != 4 {
				return nil, bridgeerrors.NewPersistenceError("load", fmt.Errorf("line %d: malformed module record", lineNo), path)
			}
			m, err := r.AddModule(fields[1], dev.ID)
			if err != nil {
				return nil, bridgeerrors.NewPersistenceError("load", err, path)
			}
			if topic := fields[2]; topic != m.Topic {
				if err := r.SetModuleTopic(m, topic); err != nil && err != registry.ErrUnchanged {
					return nil, bridgeerrors.NewPersistenceError("load", err, path)
				}
			}
			enabled, err := strconv.Atoi(fields[3])
			if err != nil {
				return nil, bridgeerrors.NewPersistenceError("load", fmt.Errorf("line %d: bad enabled flag", lineNo), path)
			}
			if enabled == 0 {
				m.Enabled = false
			}

		default:
			return nil, bridgeerrors.NewPersistenceError("load", fmt.Errorf("line %d: unknown record kind %q", lineNo, fields[0]), path)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, bridgeerrors.NewPersistenceError("load", err, path)
	}
	if dev == nil {
		return nil, bridgeerrors.NewPersistenceError("load", fmt.Errorf("empty device file"), path)
	}

	logger.LogDebug("loaded device %s from %s", dev.ID, path)
	return dev, nil
}
