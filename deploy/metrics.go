package deploy

import (
	"github.com/uber-go/tally"
)

// Metrics counts and times the phases of the deployment protocol. All
// metrics are rooted below the scope handed to NewMetrics; a NoopScope makes
// every operation free.
type Metrics struct {
	// GatherRPCs counts topology replies the coordinator collected.
	GatherRPCs tally.Counter
	// ServicedRPCs counts inbound RPCs serviced while parked in listen.
	ServicedRPCs tally.Counter
	// PropagationRPCs counts deployment copies handed out or fetched.
	PropagationRPCs tally.Counter
	// ChannelsBuilt counts channel endpoints constructed on this participant.
	ChannelsBuilt tally.Counter
	// DeploySuccess and DeployFailure count terminal outcomes of Run.
	DeploySuccess tally.Counter
	DeployFailure tally.Counter

	// InstancesPlaced reports the pairing count of the accepted deployment.
	InstancesPlaced tally.Gauge

	// Phase timers, measured per participant.
	GatherLatency       tally.Timer
	MatchLatency        tally.Timer
	PropagationLatency  tally.Timer
	ChannelSetupLatency tally.Timer
	RunLatency          tally.Timer
}

// NewMetrics builds the metric set under the given scope.
func NewMetrics(scope tally.Scope) *Metrics {
	rpcScope := scope.SubScope("rpc")
	phaseScope := scope.SubScope("phase")
	return &Metrics{
		GatherRPCs:      rpcScope.Counter("gather"),
		ServicedRPCs:    rpcScope.Counter("serviced"),
		PropagationRPCs: rpcScope.Counter("propagation"),
		ChannelsBuilt:   scope.Counter("channels_built"),
		DeploySuccess:   scope.Counter("deploy_success"),
		DeployFailure:   scope.Counter("deploy_failure"),
		InstancesPlaced: scope.Gauge("instances_placed"),

		GatherLatency:       phaseScope.Timer("gather"),
		MatchLatency:        phaseScope.Timer("match"),
		PropagationLatency:  phaseScope.Timer("propagation"),
		ChannelSetupLatency: phaseScope.Timer("channel_setup"),
		RunLatency:          phaseScope.Timer("run"),
	}
}
