package deploy

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// startTimeLayout is the wall-clock format recorded in a deployment.
const startTimeLayout = "2006-01-02 15:04:05"

// Pairing assigns one requested instance to one host index.
type Pairing struct {
	InstanceName string `json:"Instance Name"`
	HostIndex    int    `json:"Assigned Host"`
}

// Deployment is the immutable result of a successful match: the originating
// request, the gathered host list, the pairings, and the moment the
// coordinator froze it. It is constructed once, serialized, and propagated
// byte-identically to every participant; each participant deserializes its
// own in-memory copy.
type Deployment struct {
	StartTime string    `json:"Deployment Start Time"`
	Request   Request   `json:"Request"`
	Pairings  []Pairing `json:"Pairings"`
	Hosts     []Host    `json:"Hosts"`
}

// NewDeployment freezes a matching result, stamping the current wall clock.
func NewDeployment(req *Request, hosts []Host, pairings []Pairing) *Deployment {
	if req == nil {
		panic("NewDeployment: req must not be nil")
	}
	return &Deployment{
		StartTime: time.Now().Format(startTimeLayout),
		Request:   *req,
		Pairings:  pairings,
		Hosts:     hosts,
	}
}

// Serialize encodes the deployment for propagation.
func (d *Deployment) Serialize() ([]byte, error) {
	buf, err := json.Marshal(d)
	if err != nil {
		return nil, errors.Wrap(err, "serializing deployment")
	}
	return buf, nil
}

// DeserializeDeployment decodes a propagated deployment.
func DeserializeDeployment(data []byte) (*Deployment, error) {
	var d Deployment
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, errors.Wrap(err, "deserializing deployment")
	}
	return &d, nil
}

// Assignment resolves the instance paired to the given host index. A host
// that appears in no pairing carries no instance (possible whenever more
// participants than instances were supplied); a host appearing in more than
// one pairing means the deployment is corrupt, since the matcher never
// assigns a host twice.
func (d *Deployment) Assignment(hostIndex int) (Instance, bool, error) {
	var found *Pairing
	for i := range d.Pairings {
		p := &d.Pairings[i]
		if p.HostIndex != hostIndex {
			continue
		}
		if found != nil {
			return Instance{}, false, fmt.Errorf("corrupt deployment: host %d paired to both %q and %q",
				hostIndex, found.InstanceName, p.InstanceName)
		}
		found = p
	}
	if found == nil {
		return Instance{}, false, nil
	}
	in, ok := d.Request.InstanceByName(found.InstanceName)
	if !ok {
		return Instance{}, false, fmt.Errorf("corrupt deployment: pairing names unknown instance %q", found.InstanceName)
	}
	return in, true, nil
}

// HostIndexFor returns the host index an instance was paired to.
func (d *Deployment) HostIndexFor(instanceName string) (int, bool) {
	for _, p := range d.Pairings {
		if p.InstanceName == instanceName {
			return p.HostIndex, true
		}
	}
	return 0, false
}
