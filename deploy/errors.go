package deploy

import "errors"

// Error classes for the deployment pipeline. Callers classify failures with
// errors.Is; the concrete message carries the offending names and counts.
//
// None of these are retried: a configuration error is fatal to the caller that
// constructed the bad value, and the remaining classes abort the whole job.
var (
	// ErrConfiguration covers malformed requests detected at parse time:
	// duplicate names, dangling references, a channel naming its consumer
	// among its own producers, non-positive buffer dimensions.
	ErrConfiguration = errors.New("configuration error")

	// ErrInfeasible is reported by the coordinator when the maximum matching
	// pairs fewer instances than the request demands. No partial deployment
	// is ever attempted.
	ErrInfeasible = errors.New("infeasible deployment")

	// ErrUnregisteredFunction means a deployed instance's initial function
	// has no entry in the local registry. This is a deployment-author defect.
	ErrUnregisteredFunction = errors.New("unregistered function")

	// ErrChannelRole means push, peek or pop was called by a participant
	// that does not hold the required role on that channel.
	ErrChannelRole = errors.New("channel role violation")

	// ErrAborted is returned from blocking engine operations after a
	// group-wide abort has been signalled.
	ErrAborted = errors.New("deployment aborted")
)
