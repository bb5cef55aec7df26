// Package config parses the bridge's whitespace "key value" configuration
// file format (§6), inherited unchanged from the original C bridge's
// conf.c — not YAML, so this is a bespoke scanner rather than the teacher's
// gopkg.in/yaml.v3 (see DESIGN.md).
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mapnull/mqtt-serial-bridge/internal/bridgeerrors"
	"github.com/mapnull/mqtt-serial-bridge/internal/logger"
	"gopkg.in/yaml.v3"
)

// SerialConfig holds the settings that only apply once a "port" line has
// opened a serial section; baudrate/timeout before a port line are errors.
type SerialConfig struct {
	Port     string `yaml:"port"`
	Baudrate int    `yaml:"baudrate"`
	Timeout  int    `yaml:"timeout"` // milliseconds
}

var validBaudrates = map[int]bool{
	4800: true, 9600: true, 14400: true, 19200: true,
	28800: true, 38400: true, 57600: true, 115200: true,
}

// Config is the fully parsed and validated configuration.
type Config struct {
	Debug         int    `yaml:"debug"`
	ID            string `yaml:"id"`
	MQTTHost      string `yaml:"mqtt_host"`
	MQTTPort      int    `yaml:"mqtt_port"`
	MQTTQoS       int    `yaml:"mqtt_qos"`
	DevicesFolder string `yaml:"devices_folder"`
	ScriptsFolder string `yaml:"scripts_folder"`
	Interface     string `yaml:"interface"`
	Serial        SerialConfig `yaml:"serial"`
	RemapUsr1     string `yaml:"remap_usr1"`
	RemapUsr2     string `yaml:"remap_usr2"`
}

// defaults matches conf.c's hardcoded defaults.
func defaults() *Config {
	return &Config{
		MQTTHost: "localhost",
		MQTTPort: 1883,
	}
}

// Load parses the key/value configuration file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, bridgeerrors.NewConfigError("file", err)
	}
	defer f.Close()

	cfg := defaults()
	inSerialSection := false

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}

		key, value, ok := splitKeyValue(line)
		if !ok {
			return nil, bridgeerrors.NewConfigError(fmt.Sprintf("line %d", lineNo), fmt.Errorf("malformed line %q", line))
		}

		switch key {
		case "debug":
			n, err := parseIntKey(key, value)
			if err != nil {
				return nil, err
			}
			if n < 0 || n > 4 {
				return nil, bridgeerrors.NewConfigError(key, fmt.Errorf("debug out of range [0,4]: %d", n))
			}
			cfg.Debug = n
		case "id":
			cfg.ID = value
		case "mqtt_host":
			cfg.MQTTHost = value
		case "mqtt_port":
			n, err := parseIntKey(key, value)
			if err != nil {
				return nil, err
			}
			if n < 1 || n > 65535 {
				return nil, bridgeerrors.NewConfigError(key, fmt.Errorf("port out of range: %d", n))
			}
			cfg.MQTTPort = n
		case "mqtt_qos":
			n, err := parseIntKey(key, value)
			if err != nil {
				return nil, err
			}
			if n < 0 || n > 2 {
				return nil, bridgeerrors.NewConfigError(key, fmt.Errorf("qos out of range [0,2]: %d", n))
			}
			cfg.MQTTQoS = n
		case "devices_folder":
			cfg.DevicesFolder = value
		case "scripts_folder":
			cfg.ScriptsFolder = value
		case "interface":
			cfg.Interface = value
		case "port":
			cfg.Serial.Port = value
			cfg.Serial.Baudrate = 9600
			cfg.Serial.Timeout = 100
			inSerialSection = true
		case "baudrate":
			if !inSerialSection {
				return nil, bridgeerrors.NewConfigError(key, fmt.Errorf("baudrate given before a port line"))
			}
			n, err := parseIntKey(key, value)
			if err != nil {
				return nil, err
			}
			if !validBaudrates[n] {
				return nil, bridgeerrors.NewConfigError(key, fmt.Errorf("unsupported baudrate: %d", n))
			}
			cfg.Serial.Baudrate = n
		case "timeout":
			if !inSerialSection {
				return nil, bridgeerrors.NewConfigError(key, fmt.Errorf("timeout given before a port line"))
			}
			n, err := parseIntKey(key, value)
			if err != nil {
				return nil, err
			}
			cfg.Serial.Timeout = n
		case "remap_usr1":
			cfg.RemapUsr1 = value
		case "remap_usr2":
			cfg.RemapUsr2 = value
		default:
			logger.LogWarn("config: line %d: unknown configuration key %q, ignoring", lineNo, key)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, bridgeerrors.NewConfigError("file", err)
	}

	if cfg.ID == "" {
		return nil, bridgeerrors.NewConfigError("id", fmt.Errorf("required"))
	}

	return cfg, nil
}

func splitKeyValue(line string) (key, value string, ok bool) {
	i := strings.IndexAny(line, " \t")
	if i < 0 {
		return "", "", false
	}
	key = line[:i]
	value = strings.TrimSpace(line[i+1:])
	if value == "" {
		return "", "", false
	}
	return key, value, true
}

func parseIntKey(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, bridgeerrors.NewConfigError(key, fmt.Errorf("not an integer: %q", value))
	}
	return n, nil
}

// DumpYAML renders the effective configuration as YAML, for startup
// diagnostics (--quiet suppresses it). Not the primary config format —
// Load never reads YAML — this just gives operators a single normalized
// view of whatever defaults and overrides ended up in effect.
func DumpYAML(cfg *Config) (string, error) {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshal config diagnostic dump: %w", err)
	}
	return string(out), nil
}
