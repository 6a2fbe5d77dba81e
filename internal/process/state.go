package process

import "time"

// State represents the current state of a process.
type State string

// Process states.
const (
	StateIdle     State = "idle"     // not running
	StateStarting State = "starting" // being started
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateError    State = "error" // failed to start or exited non-zero
)

// Info describes a process.
type Info struct {
	ID        string    `json:"id"`
	State     State     `json:"state"`
	PID       int       `json:"pid,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	LastError error     `json:"-"`
}
