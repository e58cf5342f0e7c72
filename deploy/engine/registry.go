// Package engine names the available execution substrates and launches the
// participants a process hosts on whichever one the operator picked. Engine
// implementations register a runner from their init functions; callers select
// by name, so adding a substrate never touches the CLI wiring.
package engine

import (
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/deployr-hpc/deployr/deploy"
)

// Options carries every engine-specific setting the CLI accepts. Each engine
// reads the fields that concern it and ignores the rest.
type Options struct {
	// EmulationPath points the local engine at a YAML host-shape file.
	// Empty means probe the running machine and replicate its topology.
	EmulationPath string

	// Participants is the job size when no emulation file decides it: the
	// goroutine count for the local engine, the process count the tcp
	// coordinator waits for.
	Participants int

	// ListenAddr is the tcp coordinator's bind address.
	ListenAddr string

	// JoinAddr, when set, makes the tcp engine join the coordinator at that
	// address as a worker instead of coordinating itself.
	JoinAddr string

	// BindAddr is the tcp worker's serve address; host:0 picks a free port.
	BindAddr string

	// ExtrasPath names a YAML file of devices the tcp engine's kernel probe
	// cannot see, merged into the detected topology. Empty means probe only.
	ExtrasPath string
}

// Job drives one participant on its engine.
type Job func(e deploy.Engine) error

// Runner launches every participant this process hosts and reports the first
// failure.
type Runner func(opts Options, job Job) error

var (
	runnersMu sync.Mutex
	runners   = make(map[string]Runner)
)

// RegisterRunner installs a named engine. Engines call this from init, so a
// duplicate or nil registration is a programmer error.
func RegisterRunner(name string, r Runner) {
	if r == nil {
		panic("engine: RegisterRunner called with nil runner")
	}
	runnersMu.Lock()
	defer runnersMu.Unlock()
	if _, exists := runners[name]; exists {
		panic("engine: runner " + name + " registered twice")
	}
	runners[name] = r
}

// Names lists the registered engines, sorted.
func Names() []string {
	runnersMu.Lock()
	defer runnersMu.Unlock()
	names := make([]string, 0, len(runners))
	for name := range runners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run launches the named engine and drives each hosted participant with job.
func Run(name string, opts Options, job Job) error {
	runnersMu.Lock()
	r, ok := runners[name]
	runnersMu.Unlock()
	if !ok {
		return errors.Wrapf(deploy.ErrConfiguration,
			"unknown engine %q, valid engines: %s", name, strings.Join(Names(), ", "))
	}
	return r(opts, job)
}
