package scheduler

import "time"

// TaskKind distinguishes the two background task identities registered with
// the host.
type TaskKind string

const (
	// TaskFetch is the short, opportunistic background fetch slot.
	TaskFetch TaskKind = "app-fetch"

	// TaskSync is the longer maintenance sync slot.
	TaskSync TaskKind = "app-sync"
)

// Request describes the next background wake-up handed to the host task
// system. It carries scheduling constraints only, never article data.
type Request struct {
	Kind            TaskKind
	EarliestBegin   time.Time
	RequiresNetwork bool
	RequiresPower   bool
	AllowsCellular  bool
}

// TaskState is the adapter's position in its lifecycle.
type TaskState string

const (
	StateUnscheduled TaskState = "unscheduled"
	StateScheduled   TaskState = "scheduled"
	StateRunning     TaskState = "running"
	StateCompleted   TaskState = "completed"
	StateExpired     TaskState = "expired"
)
