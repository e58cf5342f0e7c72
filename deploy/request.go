package deploy

import (
	"encoding/json"
	"fmt"
	"os"
)

// DeviceRequirement asks for Count devices of the given type, with no minimum
// on their memory or compute resources.
type DeviceRequirement struct {
	Type  string `json:"Type"`
	Count int    `json:"Count"`
}

// HostTypeTopology is the requirement block of a host type: a floor on host
// RAM and processing units plus any number of additional device requirements.
type HostTypeTopology struct {
	MinimumRAMGB           uint64              `json:"Minimum Host RAM (GB)"`
	MinimumProcessingUnits int                 `json:"Minimum Host Processing Units"`
	Devices                []DeviceRequirement `json:"Devices"`
}

// HostType is a named hardware profile instances can reference.
type HostType struct {
	Name     string           `json:"Name"`
	Topology HostTypeTopology `json:"Topology"`
}

// Required folds the host type into a required Topology understood by
// Topology.Satisfies: the RAM and processing unit minimums become a single
// NUMA Domain device requirement, and every device entry becomes Count
// requirements of that type with no resource minimums.
func (ht HostType) Required() Topology {
	numa := Device{
		Type:         DeviceTypeNUMADomain,
		MemorySpaces: []MemorySpace{{Type: MemorySpaceTypeRAM, Size: ht.Topology.MinimumRAMGB * bytesPerGB}},
	}
	for i := 0; i < ht.Topology.MinimumProcessingUnits; i++ {
		numa.ComputeResources = append(numa.ComputeResources, ComputeResource{Type: ComputeTypeProcessingUnit})
	}
	required := Topology{Devices: []Device{numa}}
	for _, dev := range ht.Topology.Devices {
		for i := 0; i < dev.Count; i++ {
			required.Devices = append(required.Devices, Device{Type: dev.Type})
		}
	}
	return required
}

// Instance is one requested unit of work: a name, the host type it must be
// placed on, and the function it runs once deployed.
type Instance struct {
	Name     string `json:"Name"`
	HostType string `json:"Host Type"`
	Function string `json:"Function"`
}

// Channel requests one multi-producer single-consumer channel between
// instances. Capacity is in tokens, BufferBytes is the payload ring size.
type Channel struct {
	Name        string   `json:"Name"`
	Producers   []string `json:"Producers"`
	Consumer    string   `json:"Consumer"`
	Capacity    int      `json:"Buffer Capacity (Tokens)"`
	BufferBytes int      `json:"Buffer Size (Bytes)"`
}

// Request is the user-specified job description: the instances to deploy and
// the channels to wire between them. A Request is immutable after parsing;
// construction fails on duplicate or dangling names.
type Request struct {
	Name      string     `json:"Name"`
	HostTypes []HostType `json:"Host Types"`
	Instances []Instance `json:"Instances"`
	Channels  []Channel  `json:"Channels"`
}

// LoadRequest reads and parses a request JSON file, validating it.
func LoadRequest(path string) (*Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading request: %w", err)
	}
	return ParseRequest(data)
}

// ParseRequest parses and validates request JSON.
func ParseRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("%w: parsing request: %v", ErrConfiguration, err)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

// HostTypeByName returns the named host type.
func (r *Request) HostTypeByName(name string) (HostType, bool) {
	for _, ht := range r.HostTypes {
		if ht.Name == name {
			return ht, true
		}
	}
	return HostType{}, false
}

// InstanceByName returns the named instance.
func (r *Request) InstanceByName(name string) (Instance, bool) {
	for _, in := range r.Instances {
		if in.Name == name {
			return in, true
		}
	}
	return Instance{}, false
}

// RequiredTopology resolves an instance's host type into its required
// topology. The instance must have passed Validate.
func (r *Request) RequiredTopology(in Instance) Topology {
	ht, ok := r.HostTypeByName(in.HostType)
	if !ok {
		panic(fmt.Sprintf("instance %q references unvalidated host type %q", in.Name, in.HostType))
	}
	return ht.Required()
}

// Validate checks the request for construction-time errors: duplicate host
// type, instance or channel names, instances referencing unknown host types,
// channels referencing unknown instances or naming their consumer among their
// producers, and non-positive channel dimensions. All violations are
// configuration errors.
func (r *Request) Validate() error {
	hostTypes := make(map[string]bool, len(r.HostTypes))
	for i, ht := range r.HostTypes {
		if ht.Name == "" {
			return fmt.Errorf("%w: host type[%d] has an empty name", ErrConfiguration, i)
		}
		if hostTypes[ht.Name] {
			return fmt.Errorf("%w: duplicate host type name %q", ErrConfiguration, ht.Name)
		}
		hostTypes[ht.Name] = true
	}

	instances := make(map[string]bool, len(r.Instances))
	for i, in := range r.Instances {
		if in.Name == "" {
			return fmt.Errorf("%w: instance[%d] has an empty name", ErrConfiguration, i)
		}
		if instances[in.Name] {
			return fmt.Errorf("%w: duplicate instance name %q", ErrConfiguration, in.Name)
		}
		instances[in.Name] = true
		if !hostTypes[in.HostType] {
			return fmt.Errorf("%w: instance %q references unknown host type %q", ErrConfiguration, in.Name, in.HostType)
		}
		if in.Function == "" {
			return fmt.Errorf("%w: instance %q has an empty function name", ErrConfiguration, in.Name)
		}
	}

	channels := make(map[string]bool, len(r.Channels))
	for _, ch := range r.Channels {
		if err := validateChannel(ch, instances); err != nil {
			return err
		}
		if channels[ch.Name] {
			return fmt.Errorf("%w: duplicate channel name %q", ErrConfiguration, ch.Name)
		}
		channels[ch.Name] = true
	}
	return nil
}

func validateChannel(ch Channel, instances map[string]bool) error {
	if ch.Name == "" {
		return fmt.Errorf("%w: channel has an empty name", ErrConfiguration)
	}
	prefix := fmt.Sprintf("channel %q", ch.Name)
	if len(ch.Producers) == 0 {
		return fmt.Errorf("%w: %s has no producers", ErrConfiguration, prefix)
	}
	seen := make(map[string]bool, len(ch.Producers))
	for _, p := range ch.Producers {
		if !instances[p] {
			return fmt.Errorf("%w: %s names unknown producer instance %q", ErrConfiguration, prefix, p)
		}
		if seen[p] {
			return fmt.Errorf("%w: %s lists producer %q twice", ErrConfiguration, prefix, p)
		}
		seen[p] = true
	}
	if !instances[ch.Consumer] {
		return fmt.Errorf("%w: %s names unknown consumer instance %q", ErrConfiguration, prefix, ch.Consumer)
	}
	if seen[ch.Consumer] {
		return fmt.Errorf("%w: %s names its consumer %q among its producers", ErrConfiguration, prefix, ch.Consumer)
	}
	if ch.Capacity <= 0 {
		return fmt.Errorf("%w: %s capacity must be positive, got %d", ErrConfiguration, prefix, ch.Capacity)
	}
	if ch.BufferBytes <= 0 {
		return fmt.Errorf("%w: %s buffer size must be positive, got %d", ErrConfiguration, prefix, ch.BufferBytes)
	}
	return nil
}
