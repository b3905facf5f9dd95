package dag

import "time"

// RunStatus is the state of a run.
type RunStatus string

const (
	RunBuilt     RunStatus = "built"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// StepStatus is the outcome of a single step.
type StepStatus string

const (
	StepCompleted    StepStatus = "completed"
	StepFailed       StepStatus = "failed"
	StepCanceled     StepStatus = "canceled"
	StepNotScheduled StepStatus = "not_scheduled"
)

// Transition records a run status change.
type Transition struct {
	Status RunStatus `json:"status"`
	At     time.Time `json:"at"`
}

// RunResult holds the outcome of a graph execution.
type RunResult struct {
	RunID       string                `json:"run_id"`
	Pipeline    string                `json:"pipeline"`
	Status      RunStatus             `json:"status"`
	FailedStep  string                `json:"failed_step,omitempty"`
	Err         error                 `json:"-"`
	Steps       map[string]StepResult `json:"steps"`
	Transitions []Transition          `json:"transitions"`
	StartedAt   time.Time             `json:"started_at"`
	Duration    time.Duration         `json:"duration"`
}

// StepResult holds the outcome of a single step execution.
type StepResult struct {
	Name     string        `json:"name"`
	Status   StepStatus    `json:"status"`
	Duration time.Duration `json:"duration"`
	Outputs  Values        `json:"outputs,omitempty"`
	Error    error         `json:"-"`
}

// Succeeded reports whether every step completed.
func (r *RunResult) Succeeded() bool { return r.Status == RunSucceeded }

// Count returns how many steps ended in the given status.
func (r *RunResult) Count(status StepStatus) int {
	n := 0
	for _, s := range r.Steps {
		if s.Status == status {
			n++
		}
	}
	return n
}

func (r *RunResult) transition(s RunStatus) {
	r.Status = s
	r.Transitions = append(r.Transitions, Transition{Status: s, At: time.Now()})
}
