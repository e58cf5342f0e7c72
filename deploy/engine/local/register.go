package local

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/deployr-hpc/deployr/deploy"
	"github.com/deployr-hpc/deployr/deploy/engine"
	"github.com/deployr-hpc/deployr/deploy/engine/probe"
)

func init() {
	engine.RegisterRunner("local", runJob)
}

// runJob hosts the whole job in this process, one goroutine per participant,
// and reports the first participant failure.
func runJob(opts engine.Options, job engine.Job) error {
	topologies, err := jobTopologies(opts)
	if err != nil {
		return err
	}
	hub, err := NewHub(topologies)
	if err != nil {
		return err
	}

	engines := hub.Engines()
	errs := make([]error, len(engines))
	var wg sync.WaitGroup
	for i, e := range engines {
		wg.Add(1)
		go func(i int, e *Engine) {
			defer wg.Done()
			errs[i] = job(e)
		}(i, e)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// jobTopologies decides the host shapes of an in-process job: the emulation
// file when given, otherwise the probed machine replicated once per
// participant.
func jobTopologies(opts engine.Options) ([]deploy.Topology, error) {
	if opts.EmulationPath != "" {
		em, err := LoadEmulation(opts.EmulationPath)
		if err != nil {
			return nil, err
		}
		return em.Topologies(), nil
	}
	if opts.Participants < 1 {
		return nil, errors.Errorf("participant count must be at least 1, got %d", opts.Participants)
	}
	machine, err := probe.Detect()
	if err != nil {
		return nil, err
	}
	topologies := make([]deploy.Topology, opts.Participants)
	for i := range topologies {
		topologies[i] = machine
	}
	return topologies, nil
}
