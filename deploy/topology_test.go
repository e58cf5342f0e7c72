package deploy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ram(gb uint64) MemorySpace {
	return MemorySpace{Type: MemorySpaceTypeRAM, Size: gb * bytesPerGB}
}

func processingUnits(n int) []ComputeResource {
	out := make([]ComputeResource, n)
	for i := range out {
		out[i] = ComputeResource{Type: ComputeTypeProcessingUnit}
	}
	return out
}

func numaDevice(gb uint64, pus int) Device {
	return Device{
		Type:             DeviceTypeNUMADomain,
		MemorySpaces:     []MemorySpace{ram(gb)},
		ComputeResources: processingUnits(pus),
	}
}

func TestDeviceMemoryGB_FloorsPartialGigabytes(t *testing.T) {
	dev := Device{MemorySpaces: []MemorySpace{
		{Type: MemorySpaceTypeRAM, Size: bytesPerGB + bytesPerGB/2},
		{Type: MemorySpaceTypeRAM, Size: bytesPerGB / 4},
	}}
	// 1.75 GB of spaces floors to 1.
	assert.Equal(t, uint64(1), dev.MemoryGB())
}

func TestDeviceMemoryGB_SumsAllSpaces(t *testing.T) {
	dev := Device{MemorySpaces: []MemorySpace{ram(2), ram(3)}}
	assert.Equal(t, uint64(5), dev.MemoryGB())
}

func TestSatisfies_Reflexive(t *testing.T) {
	topo := Topology{Devices: []Device{numaDevice(8, 4), {Type: "GPU"}}}
	assert.True(t, topo.Satisfies(topo))
}

func TestSatisfies_EmptyRequirement(t *testing.T) {
	assert.True(t, Topology{}.Satisfies(Topology{}))
	topo := Topology{Devices: []Device{numaDevice(1, 1)}}
	assert.True(t, topo.Satisfies(Topology{}))
}

func TestSatisfies_TypeMustMatchExactly(t *testing.T) {
	have := Topology{Devices: []Device{numaDevice(8, 4)}}
	want := Topology{Devices: []Device{{Type: "GPU"}}}
	assert.False(t, have.Satisfies(want))
}

func TestSatisfies_MemoryAndComputeFloors(t *testing.T) {
	have := Topology{Devices: []Device{numaDevice(8, 4)}}

	assert.True(t, have.Satisfies(Topology{Devices: []Device{numaDevice(8, 4)}}))
	assert.True(t, have.Satisfies(Topology{Devices: []Device{numaDevice(2, 1)}}))
	assert.False(t, have.Satisfies(Topology{Devices: []Device{numaDevice(9, 4)}}))
	assert.False(t, have.Satisfies(Topology{Devices: []Device{numaDevice(8, 5)}}))
}

func TestSatisfies_DevicesAreConsumedOnce(t *testing.T) {
	have := Topology{Devices: []Device{{Type: "GPU"}}}
	want := Topology{Devices: []Device{{Type: "GPU"}, {Type: "GPU"}}}
	assert.False(t, have.Satisfies(want))

	have = Topology{Devices: []Device{{Type: "GPU"}, {Type: "GPU"}}}
	assert.True(t, have.Satisfies(want))
}

func TestSatisfies_GreedyScanDoesNotBacktrack(t *testing.T) {
	// The small requirement consumes the 8 GB device first, leaving the
	// 4 GB one for the 8 GB requirement. A backtracking search would pair
	// them the other way around; the greedy scan rejects.
	have := Topology{Devices: []Device{numaDevice(8, 1), numaDevice(4, 1)}}
	want := Topology{Devices: []Device{numaDevice(2, 1), numaDevice(8, 1)}}
	assert.False(t, have.Satisfies(want))

	// Reordering the requirements makes the same pair feasible.
	want = Topology{Devices: []Device{numaDevice(8, 1), numaDevice(2, 1)}}
	assert.True(t, have.Satisfies(want))
}

func TestSatisfies_DeterministicAcrossCalls(t *testing.T) {
	have := Topology{Devices: []Device{numaDevice(8, 2), numaDevice(4, 2), {Type: "GPU"}}}
	want := Topology{Devices: []Device{numaDevice(4, 1), {Type: "GPU"}}}
	first := have.Satisfies(want)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, have.Satisfies(want))
	}
}

func TestMerge_AppendsBothDeviceSets(t *testing.T) {
	a := Topology{Devices: []Device{numaDevice(8, 4)}}
	b := Topology{Devices: []Device{{Type: "GPU"}, {Type: "GPU"}}}

	merged := a.Merge(b)
	require.Len(t, merged.Devices, 3)
	assert.Equal(t, DeviceTypeNUMADomain, merged.Devices[0].Type)
	assert.Equal(t, "GPU", merged.Devices[1].Type)

	// Merging leaves the operands untouched.
	assert.Len(t, a.Devices, 1)
	assert.Len(t, b.Devices, 2)
}

func TestMerge_SatisfiesWhatEitherPartSatisfies(t *testing.T) {
	a := Topology{Devices: []Device{numaDevice(8, 4)}}
	b := Topology{Devices: []Device{{Type: "GPU"}}}
	merged := a.Merge(b)

	assert.True(t, merged.Satisfies(a))
	assert.True(t, merged.Satisfies(b))
	assert.True(t, merged.Satisfies(Topology{Devices: []Device{numaDevice(8, 4), {Type: "GPU"}}}))
}

func TestTopologySerialize_WireFormat(t *testing.T) {
	topo := Topology{Devices: []Device{numaDevice(2, 1)}}
	raw, err := topo.Serialize()
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"Devices": [{
			"Type": "NUMA Domain",
			"Memory Spaces": [{"Type": "RAM", "Size": 2147483648}],
			"Compute Resources": [{"Type": "Processing Unit"}]
		}]
	}`, string(raw))
}

func TestParseTopology_RoundTrip(t *testing.T) {
	topo := Topology{Devices: []Device{numaDevice(16, 8), {Type: "GPU", MemorySpaces: []MemorySpace{ram(40)}}}}
	raw, err := topo.Serialize()
	require.NoError(t, err)

	got, err := ParseTopology(raw)
	require.NoError(t, err)
	assert.Equal(t, topo, got)
}

func TestParseTopology_RejectsGarbage(t *testing.T) {
	_, err := ParseTopology([]byte("not json"))
	assert.Error(t, err)
}
