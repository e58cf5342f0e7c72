// Package probe detects the hardware shape of the machine it runs on and
// reports it as a single NUMA domain topology: one RAM memory space sized
// from the kernel's MemTotal and one processing unit per logical CPU.
package probe

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/deployr-hpc/deployr/deploy"
)

const meminfoPath = "/proc/meminfo"

// Detect probes this machine.
func Detect() (deploy.Topology, error) {
	memBytes, err := totalMemoryBytes(meminfoPath)
	if err != nil {
		return deploy.Topology{}, err
	}
	return Build(memBytes, runtime.NumCPU()), nil
}

// Build assembles a single-domain topology from raw counts. Split out of
// Detect so tests and emulations can shape topologies without a kernel.
func Build(memBytes uint64, processingUnits int) deploy.Topology {
	dev := deploy.Device{
		Type:         deploy.DeviceTypeNUMADomain,
		MemorySpaces: []deploy.MemorySpace{{Type: deploy.MemorySpaceTypeRAM, Size: memBytes}},
	}
	for i := 0; i < processingUnits; i++ {
		dev.ComputeResources = append(dev.ComputeResources, deploy.ComputeResource{
			Type: deploy.ComputeTypeProcessingUnit,
		})
	}
	return deploy.Topology{Devices: []deploy.Device{dev}}
}

// totalMemoryBytes parses the MemTotal line of a meminfo-format file. The
// kernel reports the value in kB.
func totalMemoryBytes(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrap(err, "opening meminfo")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, errors.Errorf("malformed MemTotal line %q", line)
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0, errors.Wrapf(err, "parsing MemTotal value %q", fields[1])
		}
		return kb * 1024, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, errors.Wrap(err, "reading meminfo")
	}
	return 0, errors.New("meminfo has no MemTotal line")
}
