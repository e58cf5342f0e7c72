package deploy

// Host pairs a participant index with the topology that participant probed
// during the gather round. Hosts are created once, when the gather completes,
// and are immutable afterward.
type Host struct {
	// Index is the participant's position in the engine's instance list.
	Index int `json:"Host Index"`

	// Topology is the hardware the participant reported.
	Topology Topology `json:"Topology"`
}

// Satisfies reports whether this host can supply the required topology.
func (h Host) Satisfies(required Topology) bool {
	return h.Topology.Satisfies(required)
}
