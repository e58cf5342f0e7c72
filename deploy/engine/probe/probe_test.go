package probe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deployr-hpc/deployr/deploy"
)

func TestBuildShapesSingleDomain(t *testing.T) {
	topo := Build(8<<30, 4)

	require.Len(t, topo.Devices, 1)
	dev := topo.Devices[0]
	assert.Equal(t, deploy.DeviceTypeNUMADomain, dev.Type)
	require.Len(t, dev.MemorySpaces, 1)
	assert.Equal(t, deploy.MemorySpaceTypeRAM, dev.MemorySpaces[0].Type)
	assert.Equal(t, uint64(8), dev.MemoryGB())
	assert.Len(t, dev.ComputeResources, 4)
}

func TestTotalMemoryBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meminfo")
	content := "MemTotal:       16315648 kB\nMemFree:         1052672 kB\nBuffers:          319488 kB\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	got, err := totalMemoryBytes(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(16315648)*1024, got)
}

func TestTotalMemoryBytesMissingLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meminfo")
	require.NoError(t, os.WriteFile(path, []byte("MemFree: 12 kB\n"), 0o644))

	_, err := totalMemoryBytes(path)
	assert.Error(t, err)
}

func TestDetectOnLinux(t *testing.T) {
	if _, err := os.Stat(meminfoPath); err != nil {
		t.Skip("no /proc/meminfo on this machine")
	}
	topo, err := Detect()
	require.NoError(t, err)
	require.Len(t, topo.Devices, 1)
	assert.NotEmpty(t, topo.Devices[0].ComputeResources)
	assert.Greater(t, topo.Devices[0].MemoryGB(), uint64(0))
}

func TestParseExtras_ExpandsDeviceList(t *testing.T) {
	data := []byte(`
devices:
  - type: GPU
    memory_gb: [16, 16]
    processing_units: 1
  - type: NIC
`)
	x, err := ParseExtras(data)
	require.NoError(t, err)

	topo := x.Topology()
	require.Len(t, topo.Devices, 2)

	gpu := topo.Devices[0]
	assert.Equal(t, "GPU", gpu.Type)
	require.Len(t, gpu.MemorySpaces, 2)
	assert.Equal(t, uint64(16)<<30, gpu.MemorySpaces[0].Size)
	assert.Equal(t, uint64(32), gpu.MemoryGB())
	assert.Len(t, gpu.ComputeResources, 1)

	nic := topo.Devices[1]
	assert.Equal(t, "NIC", nic.Type)
	assert.Empty(t, nic.MemorySpaces)
	assert.Empty(t, nic.ComputeResources)
}

func TestParseExtras_RejectsUnknownKeys(t *testing.T) {
	_, err := ParseExtras([]byte("devices:\n  - type: GPU\n    memry_gb: [16]\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing extras")
}

func TestParseExtras_Failures(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"no devices", "devices: []\n", "no devices"},
		{"empty type", "devices:\n  - memory_gb: [1]\n", "type must not be empty"},
		{"negative units", "devices:\n  - type: GPU\n    processing_units: -2\n", "processing_units must be non-negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseExtras([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadExtras(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extras.yaml")
	require.NoError(t, os.WriteFile(path, []byte("devices:\n  - type: GPU\n    memory_gb: [8]\n"), 0o644))

	x, err := LoadExtras(path)
	require.NoError(t, err)
	assert.Len(t, x.Devices, 1)

	_, err = LoadExtras(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading extras file")
}

func TestDetectWith_MergesDeclaredDevices(t *testing.T) {
	if _, err := os.Stat(meminfoPath); err != nil {
		t.Skip("no /proc/meminfo on this machine")
	}
	path := filepath.Join(t.TempDir(), "extras.yaml")
	require.NoError(t, os.WriteFile(path, []byte("devices:\n  - type: GPU\n    memory_gb: [4]\n"), 0o644))

	topo, err := DetectWith(path)
	require.NoError(t, err)
	require.Len(t, topo.Devices, 2)
	assert.Equal(t, deploy.DeviceTypeNUMADomain, topo.Devices[0].Type)
	assert.Equal(t, "GPU", topo.Devices[1].Type)

	plain, err := DetectWith("")
	require.NoError(t, err)
	assert.Len(t, plain.Devices, 1)
}
