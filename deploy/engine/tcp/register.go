package tcp

import (
	"github.com/deployr-hpc/deployr/deploy/engine"
)

func init() {
	engine.RegisterRunner("tcp", runJob)
}

// runJob hosts this process's single participant: the coordinator when no
// join address is given, a joining worker otherwise.
func runJob(opts engine.Options, job engine.Job) error {
	var (
		e   *Engine
		err error
	)
	if opts.JoinAddr != "" {
		e, err = JoinJob(opts.JoinAddr, opts.BindAddr)
	} else {
		e, err = StartCoordinator(opts.ListenAddr, opts.Participants)
	}
	if err != nil {
		return err
	}
	e.SetExtrasPath(opts.ExtrasPath)
	return job(e)
}
