package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"

	"github.com/deployr-hpc/deployr/deploy"
	"github.com/deployr-hpc/deployr/deploy/engine"
	"github.com/deployr-hpc/deployr/deploy/trace"
)

func TestRegisterDemoFunctions_InstallsDriverPair(t *testing.T) {
	registry := deploy.NewRegistry()
	registerDemoFunctions(registry)

	_, ok := registry.Lookup("CoordinatorFc")
	assert.True(t, ok)
	_, ok = registry.Lookup("WorkerFc")
	assert.True(t, ok)
}

func TestDemoFunctions_RunShippedSampleOnLocalEngine(t *testing.T) {
	// GIVEN the stock request and the built-in demo functions
	req, err := deploy.LoadRequest(filepath.Join("..", "testdata", "request.json"))
	require.NoError(t, err)

	registry := deploy.NewRegistry()
	registerDemoFunctions(registry)

	emulation := filepath.Join(t.TempDir(), "hosts.yaml")
	require.NoError(t, os.WriteFile(emulation, []byte(`
hosts:
  - count: 3
    devices:
      - type: NUMA Domain
        memory_gb: [2]
        processing_units: 2
`), 0o644))

	// WHEN the job runs on the local engine
	err = engine.Run("local", engine.Options{EmulationPath: emulation}, func(e deploy.Engine) error {
		return deploy.New(e, registry, tally.NoopScope).Run(req)
	})

	// THEN every participant completes: two greetings pushed, two drained
	assert.NoError(t, err)
}

func TestWriteTrace_DumpsRecordedEvents(t *testing.T) {
	recorder := trace.NewRecorder()
	recorder.Record(0, "TopologyGathering", "")
	recorder.Record(0, "Matching", "2 instances")

	path := filepath.Join(t.TempDir(), "trace.json")
	require.NoError(t, writeTrace(recorder, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var events []trace.Event
	require.NoError(t, json.Unmarshal(data, &events))
	require.Len(t, events, 2)
	assert.Equal(t, "Matching", events[1].Phase)
	assert.Equal(t, "2 instances", events[1].Detail)
}

func TestDumpMetrics_PrintsCountersAndGauges(t *testing.T) {
	scope := tally.NewTestScope("deployr", nil)
	scope.Counter("deploy_success").Inc(2)
	scope.Gauge("instances_placed").Update(3)

	// Capture logrus output
	var buf bytes.Buffer
	prevOut := logrus.StandardLogger().Out
	prevLevel := logrus.GetLevel()
	logrus.SetOutput(&buf)
	logrus.SetLevel(logrus.InfoLevel)
	defer func() {
		logrus.SetOutput(prevOut)
		logrus.SetLevel(prevLevel)
	}()

	dumpMetrics(scope)

	output := buf.String()
	assert.Contains(t, output, "deploy_success")
	assert.Contains(t, output, "instances_placed")
}
