// Package trace collects per-participant protocol events so that a finished
// job can be inspected or dumped. Recording is optional; the deployment core
// works identically with no recorder attached.
package trace

import (
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Event is one recorded protocol step.
type Event struct {
	Sequence    int       `json:"sequence"`
	Time        time.Time `json:"time"`
	Participant int       `json:"participant"`
	Phase       string    `json:"phase"`
	Detail      string    `json:"detail,omitempty"`
}

// Recorder accumulates events from all participants of a job.
//
// Thread-safety: safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Record appends one event. The sequence number reflects global recording
// order across all participants.
func (r *Recorder) Record(participant int, phase, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{
		Sequence:    len(r.events),
		Time:        time.Now(),
		Participant: participant,
		Phase:       phase,
		Detail:      detail,
	})
}

// Events returns a copy of everything recorded so far, in recording order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// ByParticipant returns the recorded events of one participant, in order.
func (r *Recorder) ByParticipant(participant int) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Participant == participant {
			out = append(out, ev)
		}
	}
	return out
}

// WriteJSON dumps the recorded events as indented JSON.
func (r *Recorder) WriteJSON(w io.Writer) error {
	events := r.Events()
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(events)
}
