package job

import "time"

// State is the scheduler-visible state of a job.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
)

// Status is a point-in-time copy of a job's bookkeeping.
type Status struct {
	Name                string        `json:"name"`
	Type                string        `json:"type"`
	Interval            time.Duration `json:"-"`
	Timeout             time.Duration `json:"-"`
	IntervalSeconds     float64       `json:"interval_seconds"`
	TimeoutSeconds      float64       `json:"timeout_seconds"`
	State               State         `json:"state"`
	Hanging             bool          `json:"hanging"`
	LastRun             time.Time     `json:"last_run,omitzero"`
	LastSuccess         time.Time     `json:"last_success,omitzero"`
	LastDuration        time.Duration `json:"-"`
	LastDurationSeconds float64       `json:"last_duration_seconds"`
	LastOutcome         Outcome       `json:"last_outcome,omitempty"`
	LastError           string        `json:"last_error,omitempty"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	Runs                uint64        `json:"runs"`
	Skipped             uint64        `json:"skipped_ticks"`
	Hung                uint64        `json:"hung_runs"`
}

// Status returns a copy of the job's current bookkeeping.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	st := j.status
	st.Name = j.desc.Name
	st.Type = j.desc.Type
	st.Interval = j.desc.Interval
	st.Timeout = j.desc.Timeout
	st.IntervalSeconds = j.desc.Interval.Seconds()
	st.TimeoutSeconds = j.desc.Timeout.Seconds()
	st.LastDurationSeconds = st.LastDuration.Seconds()
	st.State = StateIdle
	if j.busy {
		st.State = StateRunning
	}
	st.Hanging = j.hung
	return st
}
