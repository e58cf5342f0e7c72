package deploy

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/uber-go/tally"

	"github.com/deployr-hpc/deployr/deploy/trace"
)

// RPC names exchanged during the deployment protocol.
const (
	// RPCGetTopology is called by the coordinator on every worker during
	// topology gathering; the worker replies with its serialized topology.
	RPCGetTopology = "GetTopology"
	// RPCGetDeployment is called by every worker on the coordinator during
	// deployment propagation; the coordinator replies with the serialized
	// deployment.
	RPCGetDeployment = "GetDeployment"
)

// DeployR drives one participant through the deployment protocol: gather
// topologies, match instances to hosts (coordinator only), propagate the
// resulting deployment, build the requested channels and run the local
// instance's function.
//
// One DeployR belongs to one participant. It is not safe for concurrent use;
// instance functions run on the participant's own goroutine and may use the
// handle they are given freely.
type DeployR struct {
	engine   Engine
	registry *Registry
	metrics  *Metrics
	tracer   *trace.Recorder

	state         State
	localTopology Topology
	deployment    *Deployment
	localInstance *Instance
	channels      map[string]*ChannelHandle
}

// New wires a participant to its engine and function registry. Metrics land
// under the given scope; pass tally.NoopScope to discard them.
func New(eng Engine, reg *Registry, scope tally.Scope) *DeployR {
	if eng == nil {
		panic("deploy.New: engine must not be nil")
	}
	if reg == nil {
		panic("deploy.New: registry must not be nil")
	}
	return &DeployR{
		engine:   eng,
		registry: reg,
		metrics:  NewMetrics(scope),
		state:    StateStart,
		channels: make(map[string]*ChannelHandle),
	}
}

// SetTracer attaches a protocol trace recorder. Call it before Run.
func (d *DeployR) SetTracer(t *trace.Recorder) {
	d.tracer = t
}

// Run executes the whole protocol for this participant and blocks until the
// job terminates. All participants of a job must call Run with an identical
// request.
//
// On any fatal error the participant signals a group-wide abort so that
// peers blocked on collective operations fail promptly too, then returns the
// error. A nil return means this participant, and therefore the protocol
// rounds it took part in, completed cleanly.
func (d *DeployR) Run(req *Request) error {
	err := d.run(req)
	if err != nil {
		d.metrics.DeployFailure.Inc(1)
		if !errors.Is(err, ErrAborted) {
			d.engine.Abort(1)
		}
		logrus.WithFields(logrus.Fields{
			"participant": d.engine.Index(),
			"state":       d.state,
		}).WithError(err).Error("deployment failed")
		return err
	}
	d.metrics.DeploySuccess.Inc(1)
	return d.engine.Finalize()
}

func (d *DeployR) run(req *Request) error {
	if req == nil {
		panic("DeployR.Run: request must not be nil")
	}
	if err := req.Validate(); err != nil {
		return err
	}
	if err := d.registerHandlers(); err != nil {
		return err
	}

	hosts, err := d.gatherTopologies()
	if err != nil {
		return err
	}

	if d.engine.IsCoordinator() {
		if err := d.match(req, hosts); err != nil {
			return err
		}
	}

	if err := d.propagateDeployment(); err != nil {
		return err
	}
	if err := d.assignLocally(); err != nil {
		return err
	}
	if err := d.setupChannels(); err != nil {
		return err
	}
	if err := d.runFunction(); err != nil {
		return err
	}
	return d.transition(StateTerminated)
}

// registerHandlers installs both protocol RPCs on every participant. Which
// of them ever fires depends on the participant's role: workers service
// GetTopology, the coordinator services GetDeployment.
func (d *DeployR) registerHandlers() error {
	if err := d.engine.Register(RPCGetTopology, func([]byte) {
		raw, err := d.localTopology.Serialize()
		if err != nil {
			logrus.WithError(err).Error("serializing local topology")
			d.engine.Reply(nil)
			return
		}
		d.engine.Reply(raw)
	}); err != nil {
		return errors.Wrap(err, "registering topology handler")
	}
	if err := d.engine.Register(RPCGetDeployment, func([]byte) {
		raw, err := d.deployment.Serialize()
		if err != nil {
			logrus.WithError(err).Error("serializing deployment")
			d.engine.Reply(nil)
			return
		}
		d.engine.Reply(raw)
	}); err != nil {
		return errors.Wrap(err, "registering deployment handler")
	}
	return nil
}

// gatherTopologies detects the local topology and runs the gathering round.
// The coordinator calls every worker in turn and returns the full host
// list; workers service exactly one inbound call and return nil hosts.
func (d *DeployR) gatherTopologies() ([]Host, error) {
	if err := d.transition(StateTopologyGathering); err != nil {
		return nil, err
	}
	sw := d.metrics.GatherLatency.Start()
	defer sw.Stop()

	local, err := d.engine.DetectTopology()
	if err != nil {
		return nil, errors.Wrap(err, "detecting local topology")
	}
	d.localTopology = local

	if !d.engine.IsCoordinator() {
		if err := d.engine.Listen(); err != nil {
			return nil, errors.Wrap(err, "servicing topology gather")
		}
		d.metrics.ServicedRPCs.Inc(1)
		return nil, nil
	}

	hosts := make([]Host, d.engine.Count())
	hosts[0] = Host{Index: 0, Topology: local}
	for peer := 1; peer < d.engine.Count(); peer++ {
		if err := d.engine.Call(peer, RPCGetTopology, nil); err != nil {
			return nil, errors.Wrapf(err, "gathering topology from participant %d", peer)
		}
		raw, err := d.engine.ReturnValue(peer)
		if err != nil {
			return nil, errors.Wrapf(err, "collecting topology of participant %d", peer)
		}
		topo, err := ParseTopology(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing topology of participant %d", peer)
		}
		hosts[peer] = Host{Index: peer, Topology: topo}
		d.metrics.GatherRPCs.Inc(1)
	}
	logrus.WithField("hosts", len(hosts)).Info("topology gathering complete")
	return hosts, nil
}

// match computes the instance-to-host pairing and freezes it, together with
// the request and the gathered hosts, into the deployment.
func (d *DeployR) match(req *Request, hosts []Host) error {
	if err := d.transition(StateMatching); err != nil {
		return err
	}
	sw := d.metrics.MatchLatency.Start()
	defer sw.Stop()

	pairings, err := Match(req, hosts)
	if err != nil {
		return err
	}
	d.deployment = NewDeployment(req, hosts, pairings)
	d.metrics.InstancesPlaced.Update(float64(len(pairings)))
	logrus.WithFields(logrus.Fields{
		"request":   req.Name,
		"instances": len(pairings),
		"hosts":     len(hosts),
		"start":     d.deployment.StartTime,
	}).Info("deployment matched")
	return nil
}

// propagateDeployment spreads the coordinator's deployment to every worker.
// Workers pull their copy with one RPC; the coordinator stays parked in
// listen until each of the other participants has fetched it.
func (d *DeployR) propagateDeployment() error {
	if err := d.transition(StateDeploymentPropagation); err != nil {
		return err
	}
	sw := d.metrics.PropagationLatency.Start()
	defer sw.Stop()

	if d.engine.IsCoordinator() {
		for served := 1; served < d.engine.Count(); served++ {
			if err := d.engine.Listen(); err != nil {
				return errors.Wrap(err, "servicing deployment propagation")
			}
			d.metrics.ServicedRPCs.Inc(1)
			d.metrics.PropagationRPCs.Inc(1)
		}
		return nil
	}

	if err := d.engine.Call(0, RPCGetDeployment, nil); err != nil {
		return errors.Wrap(err, "requesting deployment")
	}
	raw, err := d.engine.ReturnValue(0)
	if err != nil {
		return errors.Wrap(err, "collecting deployment")
	}
	dep, err := DeserializeDeployment(raw)
	if err != nil {
		return errors.Wrap(err, "parsing propagated deployment")
	}
	d.deployment = dep
	d.metrics.PropagationRPCs.Inc(1)
	return nil
}

// assignLocally resolves which instance, if any, this participant hosts and
// checks that its function is registered. Participants with no pairing stay
// idle but keep following the collective phases.
func (d *DeployR) assignLocally() error {
	if err := d.transition(StateLocalAssignment); err != nil {
		return err
	}

	inst, assigned, err := d.deployment.Assignment(d.engine.Index())
	if err != nil {
		return err
	}
	if !assigned {
		logrus.WithField("participant", d.engine.Index()).Info("no instance assigned, staying idle")
		return nil
	}
	if _, found := d.registry.Lookup(inst.Function); !found {
		return fmt.Errorf("%w: instance %q wants function %q, registered functions: %v",
			ErrUnregisteredFunction, inst.Name, inst.Function, d.registry.Names())
	}
	d.localInstance = &inst
	logrus.WithFields(logrus.Fields{
		"participant": d.engine.Index(),
		"instance":    inst.Name,
		"function":    inst.Function,
	}).Info("instance assigned")
	return nil
}

// setupChannels walks the requested channels in request order and runs the
// collective construction sequence for each. Every participant takes part
// in every channel's publish round and barrier, role or not.
func (d *DeployR) setupChannels() error {
	if err := d.transition(StateChannelSetup); err != nil {
		return err
	}
	sw := d.metrics.ChannelSetupLatency.Start()
	defer sw.Stop()

	for _, ch := range d.deployment.Request.Channels {
		handle, err := setupChannel(d.engine, ch, d.channelRole(ch))
		if err != nil {
			return err
		}
		if handle != nil {
			d.channels[ch.Name] = handle
			d.metrics.ChannelsBuilt.Inc(1)
		}
	}
	return nil
}

// channelRole derives this participant's role in one channel from its local
// instance assignment.
func (d *DeployR) channelRole(ch Channel) ChannelRole {
	if d.localInstance == nil {
		return RoleNone
	}
	if d.localInstance.Name == ch.Consumer {
		return RoleConsumer
	}
	for _, producer := range ch.Producers {
		if d.localInstance.Name == producer {
			return RoleProducer
		}
	}
	return RoleNone
}

// runFunction enters the running state and executes the assigned instance's
// function. Idle participants skip straight to termination.
func (d *DeployR) runFunction() error {
	if d.localInstance == nil {
		return nil
	}
	if err := d.transition(StateRunning); err != nil {
		return err
	}
	fn, _ := d.registry.Lookup(d.localInstance.Function)

	sw := d.metrics.RunLatency.Start()
	err := fn(d)
	sw.Stop()
	if err != nil {
		return errors.Wrapf(err, "instance %q function %q", d.localInstance.Name, d.localInstance.Function)
	}
	return nil
}

// Deployment returns the accepted deployment. It is nil before the
// propagation phase completes.
func (d *DeployR) Deployment() *Deployment {
	return d.deployment
}

// LocalInstance returns the instance assigned to this participant, if any.
func (d *DeployR) LocalInstance() (Instance, bool) {
	if d.localInstance == nil {
		return Instance{}, false
	}
	return *d.localInstance, true
}

// Channel returns this participant's endpoint of the named channel. Only
// channels the local instance produces to or consumes from have endpoints.
func (d *DeployR) Channel(name string) (*ChannelHandle, bool) {
	handle, ok := d.channels[name]
	return handle, ok
}

// Index returns this participant's index. The coordinator is index 0.
func (d *DeployR) Index() int {
	return d.engine.Index()
}

// Count returns the number of participants in the job.
func (d *DeployR) Count() int {
	return d.engine.Count()
}

// IsCoordinator reports whether this participant drives the deployment.
func (d *DeployR) IsCoordinator() bool {
	return d.engine.IsCoordinator()
}
