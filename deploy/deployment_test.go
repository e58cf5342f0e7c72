package deploy

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deployr-hpc/deployr/deploy/internal/testutil"
)

func sampleDeployment() *Deployment {
	req := validRequest()
	hosts := hostList(
		Topology{Devices: []Device{numaDevice(4, 2)}},
		Topology{Devices: []Device{numaDevice(8, 4)}},
	)
	return NewDeployment(req, hosts, []Pairing{
		{InstanceName: "A", HostIndex: 0},
		{InstanceName: "B", HostIndex: 1},
	})
}

func TestNewDeployment_StampsStartTime(t *testing.T) {
	dep := sampleDeployment()
	stamp, err := time.ParseInLocation(startTimeLayout, dep.StartTime, time.Local)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), stamp, time.Minute)
}

func TestNewDeployment_NilRequestPanics(t *testing.T) {
	assert.Panics(t, func() {
		NewDeployment(nil, nil, nil)
	})
}

func TestDeploymentSerialize_RoundTrip(t *testing.T) {
	dep := sampleDeployment()
	raw, err := dep.Serialize()
	require.NoError(t, err)

	got, err := DeserializeDeployment(raw)
	require.NoError(t, err)
	assert.Equal(t, dep, got)
}

func TestDeploymentSerialize_WireKeys(t *testing.T) {
	raw, err := sampleDeployment().Serialize()
	require.NoError(t, err)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Contains(t, doc, "Deployment Start Time")
	assert.Contains(t, doc, "Request")
	assert.Contains(t, doc, "Pairings")
	assert.Contains(t, doc, "Hosts")

	var pairings []map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(doc["Pairings"], &pairings))
	require.NotEmpty(t, pairings)
	assert.Contains(t, pairings[0], "Instance Name")
	assert.Contains(t, pairings[0], "Assigned Host")
}

func TestDeploymentSerialize_MatchesGoldenDocument(t *testing.T) {
	gpuHost := Topology{Devices: []Device{
		{
			Type:             DeviceTypeNUMADomain,
			MemorySpaces:     []MemorySpace{{Type: MemorySpaceTypeRAM, Size: 8 << 30}},
			ComputeResources: []ComputeResource{{Type: ComputeTypeProcessingUnit}, {Type: ComputeTypeProcessingUnit}},
		},
		{
			Type:             "GPU",
			MemorySpaces:     []MemorySpace{{Type: MemorySpaceTypeRAM, Size: 16 << 30}},
			ComputeResources: []ComputeResource{},
		},
	}}
	dep := &Deployment{
		StartTime: "2026-03-01 09:30:00",
		Request: Request{
			Name: "render-job",
			HostTypes: []HostType{{
				Name: "gpu-node",
				Topology: HostTypeTopology{
					MinimumRAMGB:           4,
					MinimumProcessingUnits: 2,
					Devices:                []DeviceRequirement{{Type: "GPU", Count: 1}},
				},
			}},
			Instances: []Instance{
				{Name: "Coordinator", HostType: "gpu-node", Function: "CoordinatorFc"},
				{Name: "Worker", HostType: "gpu-node", Function: "WorkerFc"},
			},
			Channels: []Channel{{
				Name:        "frames",
				Producers:   []string{"Worker"},
				Consumer:    "Coordinator",
				Capacity:    8,
				BufferBytes: 512,
			}},
		},
		Pairings: []Pairing{
			{InstanceName: "Coordinator", HostIndex: 1},
			{InstanceName: "Worker", HostIndex: 0},
		},
		Hosts: []Host{
			{Index: 0, Topology: gpuHost},
			{Index: 1, Topology: gpuHost},
		},
	}

	raw, err := dep.Serialize()
	require.NoError(t, err)
	assert.JSONEq(t, string(testutil.LoadGolden(t, "deployment.json")), string(raw))
}

func TestDeserializeDeployment_RejectsGarbage(t *testing.T) {
	_, err := DeserializeDeployment([]byte("][not json"))
	assert.Error(t, err)
}

func TestAssignment_ResolvesInstances(t *testing.T) {
	dep := sampleDeployment()

	in, ok, err := dep.Assignment(0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "A", in.Name)
	assert.Equal(t, "CoordinatorFc", in.Function)

	in, ok, err = dep.Assignment(1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "B", in.Name)
}

func TestAssignment_UnpairedHostIsIdle(t *testing.T) {
	dep := sampleDeployment()
	_, ok, err := dep.Assignment(7)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAssignment_DuplicatePairingIsCorrupt(t *testing.T) {
	dep := sampleDeployment()
	dep.Pairings = append(dep.Pairings, Pairing{InstanceName: "B", HostIndex: 0})

	_, _, err := dep.Assignment(0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt deployment")
}

func TestAssignment_UnknownInstanceIsCorrupt(t *testing.T) {
	dep := sampleDeployment()
	dep.Pairings[0].InstanceName = "ghost"

	_, _, err := dep.Assignment(0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestHostIndexFor(t *testing.T) {
	dep := sampleDeployment()

	idx, ok := dep.HostIndexFor("B")
	assert.True(t, ok)
	assert.Equal(t, 1, idx)

	_, ok = dep.HostIndexFor("ghost")
	assert.False(t, ok)
}
