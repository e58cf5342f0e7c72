package deploy

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// State is a participant's position in the deployment protocol.
type State string

// Protocol states, in the order a participant moves through them. Only the
// coordinator passes through StateMatching; everyone else jumps from
// gathering straight to propagation.
const (
	StateStart                 State = "Start"
	StateTopologyGathering     State = "TopologyGathering"
	StateMatching              State = "Matching"
	StateDeploymentPropagation State = "DeploymentPropagation"
	StateLocalAssignment       State = "LocalAssignment"
	StateChannelSetup          State = "ChannelSetup"
	StateRunning               State = "Running"
	StateTerminated            State = "Terminated"
)

// stateTransitions lists the legal successor states.
var stateTransitions = map[State][]State{
	StateStart:                 {StateTopologyGathering},
	StateTopologyGathering:     {StateMatching, StateDeploymentPropagation},
	StateMatching:              {StateDeploymentPropagation},
	StateDeploymentPropagation: {StateLocalAssignment},
	StateLocalAssignment:       {StateChannelSetup},
	StateChannelSetup:          {StateRunning, StateTerminated},
	StateRunning:               {StateTerminated},
	StateTerminated:            {},
}

// transition moves the participant to the next protocol state, rejecting
// anything the protocol does not allow.
func (d *DeployR) transition(to State) error {
	allowed := false
	for _, next := range stateTransitions[d.state] {
		if next == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return errors.Errorf("illegal protocol transition %s -> %s", d.state, to)
	}
	logrus.WithFields(logrus.Fields{
		"participant": d.engine.Index(),
		"from":        d.state,
		"to":          to,
	}).Debug("protocol transition")
	d.state = to
	if d.tracer != nil {
		d.tracer.Record(d.engine.Index(), string(to), "")
	}
	return nil
}

// CurrentState returns the participant's protocol state.
func (d *DeployR) CurrentState() State {
	return d.state
}
