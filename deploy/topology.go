package deploy

import (
	"encoding/json"
	"fmt"
)

// Device, memory space and compute resource type tags used by the stock
// topology probes and by the host-type requirement folding. Topologies may
// carry any other type tags; these are just the ones with built-in meaning.
const (
	DeviceTypeNUMADomain      = "NUMA Domain"
	MemorySpaceTypeRAM        = "RAM"
	ComputeTypeProcessingUnit = "Processing Unit"
)

const bytesPerGB = 1 << 30

// MemorySpace is one addressable memory region of a device.
// Size is in bytes.
type MemorySpace struct {
	Type string `json:"Type"`
	Size uint64 `json:"Size"`
}

// ComputeResource is one executable resource of a device (a processing unit,
// an accelerator core, ...). Only its type tag is modelled.
type ComputeResource struct {
	Type string `json:"Type"`
}

// Device is one hardware unit within a topology: a type tag plus the memory
// spaces and compute resources it exposes.
type Device struct {
	Type             string            `json:"Type"`
	MemorySpaces     []MemorySpace     `json:"Memory Spaces"`
	ComputeResources []ComputeResource `json:"Compute Resources"`
}

// MemoryGB returns the device's total memory across all its memory spaces,
// in whole gigabytes (floor of bytes / 2^30).
func (d Device) MemoryGB() uint64 {
	var bytes uint64
	for _, ms := range d.MemorySpaces {
		bytes += ms.Size
	}
	return bytes / bytesPerGB
}

// Topology is a flat set of devices describing the hardware a host exposes,
// or the hardware an instance requires. The same shape serves both sides:
// on the required side a device's memory spaces and compute resources state
// minimums rather than inventory.
type Topology struct {
	Devices []Device `json:"Devices"`
}

// Merge returns the union of the two device sets. It is commutative and
// associative up to device order; no deduplication is performed.
func (t Topology) Merge(other Topology) Topology {
	merged := Topology{Devices: make([]Device, 0, len(t.Devices)+len(other.Devices))}
	merged.Devices = append(merged.Devices, t.Devices...)
	merged.Devices = append(merged.Devices, other.Devices...)
	return merged
}

// Satisfies reports whether this topology can supply every device the
// required topology asks for.
//
// The check is a single left-to-right greedy scan: for each required device,
// in request order, it consumes the first not-yet-consumed device of the same
// type whose memory (in whole GB) and compute resource count both meet or
// exceed the requirement. Consumption is single-use: a given device satisfies
// at most one requirement.
//
// The scan does not backtrack, so a poor greedy choice can reject an
// assignment that a smarter search would accept (a large requirement may find
// its only candidate already consumed by a smaller one). This is a known
// approximation, kept for compatibility with the matching semantics the rest
// of the system is calibrated against.
func (t Topology) Satisfies(required Topology) bool {
	consumed := make([]bool, len(t.Devices))
	for _, req := range required.Devices {
		found := false
		for i, dev := range t.Devices {
			if consumed[i] || dev.Type != req.Type {
				continue
			}
			if dev.MemoryGB() < req.MemoryGB() {
				continue
			}
			if len(dev.ComputeResources) < len(req.ComputeResources) {
				continue
			}
			consumed[i] = true
			found = true
			break
		}
		if !found {
			return false
		}
	}
	return true
}

// Serialize encodes the topology in its wire form.
func (t Topology) Serialize() ([]byte, error) {
	buf, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("serializing topology: %w", err)
	}
	return buf, nil
}

// ParseTopology decodes a topology from its wire form.
func ParseTopology(data []byte) (Topology, error) {
	var t Topology
	if err := json.Unmarshal(data, &t); err != nil {
		return Topology{}, fmt.Errorf("parsing topology: %w", err)
	}
	return t, nil
}
