package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Device kinds understood by the inventory.
const (
	KindYeelight = "yeelight"
	KindLEDStrip = "ledstrip"
)

// Inventory is the root of devices.yaml.
type Inventory struct {
	Devices []DeviceSpec `yaml:"devices"`
}

// DeviceSpec describes one light.
type DeviceSpec struct {
	ID      string `yaml:"id"`
	Kind    string `yaml:"kind"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port,omitempty"`
	Pixels  int    `yaml:"pixels,omitempty"`
	Music   bool   `yaml:"music,omitempty"`
}

// LoadDevices parses a YAML inventory. The error wraps fs.ErrNotExist when
// the file is missing so callers can fall back to discovery.
func LoadDevices(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read devices: %w", err)
	}
	return ParseDevices(data)
}

// ParseDevices decodes and validates an inventory.
func ParseDevices(data []byte) (*Inventory, error) {
	var inv Inventory
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("config: parse devices: %w", err)
	}

	seen := make(map[string]bool, len(inv.Devices))
	for i := range inv.Devices {
		d := &inv.Devices[i]
		if d.Address == "" {
			return nil, fmt.Errorf("config: device %d: address is required", i)
		}
		switch d.Kind {
		case KindYeelight, KindLEDStrip:
		case "":
			d.Kind = KindYeelight
		default:
			return nil, fmt.Errorf("config: device %d: unknown kind %q", i, d.Kind)
		}
		if d.ID == "" {
			d.ID = fmt.Sprintf("%s-%s", d.Kind, d.Address)
		}
		if seen[d.ID] {
			return nil, fmt.Errorf("config: duplicate device id %q", d.ID)
		}
		seen[d.ID] = true
	}
	return &inv, nil
}

// WriteDevices stores an inventory, e.g. after discovery.
func WriteDevices(path string, inv *Inventory) error {
	data, err := yaml.Marshal(inv)
	if err != nil {
		return fmt.Errorf("config: encode devices: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write devices: %w", err)
	}
	return nil
}
