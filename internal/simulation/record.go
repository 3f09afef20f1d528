package simulation

import "time"

// Status is the lifecycle state of a simulation record.
type Status string

const (
	// StatusRunning means the worker process was spawned and has not
	// been observed dead or stopped.
	StatusRunning Status = "running"
	// StatusStopped means an authorized stop request signalled the
	// worker successfully.
	StatusStopped Status = "stopped"
	// StatusTerminated means a liveness probe found the worker gone
	// without an explicit stop.
	StatusTerminated Status = "terminated"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusStopped || s == StatusTerminated
}

// Record is one entry in a tenant's simulation registry document.
type Record struct {
	ID         string     `json:"id"`
	PID        int        `json:"pid"`
	Status     Status     `json:"status"`
	Signature  string     `json:"signature"`
	TenantKey  string     `json:"tenant_key"`
	ConfigPath string     `json:"config_path"`
	StartTime  time.Time  `json:"start_time"`
	EndTime    *time.Time `json:"end_time,omitempty"`
}
