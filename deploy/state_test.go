package deploy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// inertEngine satisfies Engine for tests that only need an index behind the
// protocol state machine.
type inertEngine struct {
	index int
	count int
}

func (e inertEngine) Index() int                          { return e.index }
func (e inertEngine) Count() int                          { return e.count }
func (e inertEngine) IsCoordinator() bool                 { return e.index == 0 }
func (inertEngine) Register(string, Handler) error        { return nil }
func (inertEngine) Listen() error                         { return nil }
func (inertEngine) Call(int, string, []byte) error        { return nil }
func (inertEngine) Reply([]byte)                          {}
func (inertEngine) ReturnValue(int) ([]byte, error)       { return nil, nil }
func (inertEngine) Allocate(int) Buffer                   { return nil }
func (inertEngine) Publish(string, string, Buffer) error  { return nil }
func (inertEngine) Lookup(string, string) (Buffer, error) { return nil, nil }
func (inertEngine) Barrier(string) error                  { return nil }
func (inertEngine) DetectTopology() (Topology, error)     { return Topology{}, nil }
func (inertEngine) Finalize() error                       { return nil }
func (inertEngine) Abort(int)                             {}

func stateOnly(index int) *DeployR {
	return &DeployR{engine: inertEngine{index: index, count: 2}, state: StateStart}
}

func TestTransition_CoordinatorPath(t *testing.T) {
	d := stateOnly(0)
	for _, next := range []State{
		StateTopologyGathering,
		StateMatching,
		StateDeploymentPropagation,
		StateLocalAssignment,
		StateChannelSetup,
		StateRunning,
		StateTerminated,
	} {
		require.NoError(t, d.transition(next))
		assert.Equal(t, next, d.CurrentState())
	}
}

func TestTransition_WorkerSkipsMatching(t *testing.T) {
	d := stateOnly(1)
	require.NoError(t, d.transition(StateTopologyGathering))
	require.NoError(t, d.transition(StateDeploymentPropagation))
	assert.Equal(t, StateDeploymentPropagation, d.CurrentState())
}

func TestTransition_IdleParticipantTerminatesAfterChannelSetup(t *testing.T) {
	d := stateOnly(1)
	require.NoError(t, d.transition(StateTopologyGathering))
	require.NoError(t, d.transition(StateDeploymentPropagation))
	require.NoError(t, d.transition(StateLocalAssignment))
	require.NoError(t, d.transition(StateChannelSetup))
	require.NoError(t, d.transition(StateTerminated))
}

func TestTransition_RejectsIllegalMoves(t *testing.T) {
	d := stateOnly(0)
	assert.Error(t, d.transition(StateRunning))

	require.NoError(t, d.transition(StateTopologyGathering))
	assert.Error(t, d.transition(StateTerminated))
	assert.Error(t, d.transition(StateStart))

	// A failed transition leaves the state untouched.
	assert.Equal(t, StateTopologyGathering, d.CurrentState())
}

func TestTransition_TerminatedIsFinal(t *testing.T) {
	d := stateOnly(0)
	require.NoError(t, d.transition(StateTopologyGathering))
	require.NoError(t, d.transition(StateDeploymentPropagation))
	require.NoError(t, d.transition(StateLocalAssignment))
	require.NoError(t, d.transition(StateChannelSetup))
	require.NoError(t, d.transition(StateTerminated))
	assert.Error(t, d.transition(StateTopologyGathering))
	assert.Error(t, d.transition(StateRunning))
}
