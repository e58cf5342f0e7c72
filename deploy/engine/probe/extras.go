package probe

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/deployr-hpc/deployr/deploy"
)

// Extras declares devices the kernel probe cannot see, such as accelerators
// or interconnect endpoints, to be merged into the detected topology.
type Extras struct {
	Devices []DeviceShape `yaml:"devices"`
}

// DeviceShape is one declared device. Every memory_gb entry becomes a RAM
// memory space of that many GB; processing_units expands to that many
// processing unit compute resources.
type DeviceShape struct {
	Type            string   `yaml:"type"`
	MemoryGB        []uint64 `yaml:"memory_gb"`
	ProcessingUnits int      `yaml:"processing_units"`
}

// LoadExtras reads and parses a YAML extras file.
func LoadExtras(path string) (*Extras, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading extras file: %w", err)
	}
	return ParseExtras(data)
}

// ParseExtras parses YAML extras bytes.
// Uses strict parsing: unrecognized keys (typos) are rejected.
func ParseExtras(data []byte) (*Extras, error) {
	var x Extras
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&x); err != nil {
		return nil, fmt.Errorf("parsing extras: %w", err)
	}
	if err := x.Validate(); err != nil {
		return nil, err
	}
	return &x, nil
}

// Validate checks the declared devices.
func (x *Extras) Validate() error {
	if len(x.Devices) == 0 {
		return fmt.Errorf("extras file declares no devices")
	}
	for i, dev := range x.Devices {
		if dev.Type == "" {
			return fmt.Errorf("devices[%d]: type must not be empty", i)
		}
		if dev.ProcessingUnits < 0 {
			return fmt.Errorf("devices[%d]: processing_units must be non-negative, got %d", i, dev.ProcessingUnits)
		}
	}
	return nil
}

// Topology expands the declared devices.
func (x *Extras) Topology() deploy.Topology {
	var topo deploy.Topology
	for _, shape := range x.Devices {
		dev := deploy.Device{Type: shape.Type}
		for _, gb := range shape.MemoryGB {
			dev.MemorySpaces = append(dev.MemorySpaces, deploy.MemorySpace{
				Type: deploy.MemorySpaceTypeRAM,
				Size: gb << 30,
			})
		}
		for i := 0; i < shape.ProcessingUnits; i++ {
			dev.ComputeResources = append(dev.ComputeResources, deploy.ComputeResource{
				Type: deploy.ComputeTypeProcessingUnit,
			})
		}
		topo.Devices = append(topo.Devices, dev)
	}
	return topo
}

// DetectWith probes this machine and merges in the devices declared in the
// extras file at path. An empty path skips the merge.
func DetectWith(path string) (deploy.Topology, error) {
	topo, err := Detect()
	if err != nil {
		return deploy.Topology{}, err
	}
	if path == "" {
		return topo, nil
	}
	extras, err := LoadExtras(path)
	if err != nil {
		return deploy.Topology{}, err
	}
	return topo.Merge(extras.Topology()), nil
}
