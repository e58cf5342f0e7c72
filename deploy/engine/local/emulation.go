package local

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/deployr-hpc/deployr/deploy"
)

// Emulation describes the host shapes an in-process job presents to the
// deployment protocol. Each host entry expands to count participants with
// identical topologies, in file order.
type Emulation struct {
	Hosts []HostShape `yaml:"hosts"`
}

// HostShape is one emulated host topology.
type HostShape struct {
	Count   int           `yaml:"count"`
	Devices []DeviceShape `yaml:"devices"`
}

// DeviceShape is one emulated device. Every memory_gb entry becomes a RAM
// memory space of that many GB; processing_units expands to that many
// processing unit compute resources.
type DeviceShape struct {
	Type            string   `yaml:"type"`
	MemoryGB        []uint64 `yaml:"memory_gb"`
	ProcessingUnits int      `yaml:"processing_units"`
}

// LoadEmulation reads and parses a YAML emulation file.
// Uses strict parsing: unrecognized keys (typos) are rejected.
func LoadEmulation(path string) (*Emulation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading emulation file: %w", err)
	}
	return ParseEmulation(data)
}

// ParseEmulation parses YAML emulation bytes.
func ParseEmulation(data []byte) (*Emulation, error) {
	var em Emulation
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&em); err != nil {
		return nil, fmt.Errorf("parsing emulation: %w", err)
	}
	if err := em.Validate(); err != nil {
		return nil, err
	}
	return &em, nil
}

// Validate checks the emulated host shapes.
func (e *Emulation) Validate() error {
	if len(e.Hosts) == 0 {
		return fmt.Errorf("emulation declares no hosts")
	}
	for i, host := range e.Hosts {
		if host.Count < 0 {
			return fmt.Errorf("hosts[%d]: count must be non-negative, got %d", i, host.Count)
		}
		for j, dev := range host.Devices {
			if dev.Type == "" {
				return fmt.Errorf("hosts[%d].devices[%d]: type must not be empty", i, j)
			}
			if dev.ProcessingUnits < 0 {
				return fmt.Errorf("hosts[%d].devices[%d]: processing_units must be non-negative, got %d", i, j, dev.ProcessingUnits)
			}
		}
	}
	return nil
}

// Topologies expands the emulation into one topology per participant. A
// host count of zero defaults to one.
func (e *Emulation) Topologies() []deploy.Topology {
	var out []deploy.Topology
	for _, host := range e.Hosts {
		count := host.Count
		if count == 0 {
			count = 1
		}
		topo := host.topology()
		for i := 0; i < count; i++ {
			out = append(out, topo)
		}
	}
	return out
}

func (h HostShape) topology() deploy.Topology {
	var topo deploy.Topology
	for _, shape := range h.Devices {
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
