package domain

import (
	"time"
)

type VerbosityLevel string
type OutputFormat string

const (
	VerbositySilent  VerbosityLevel = "silent"
	VerbosityNormal  VerbosityLevel = "normal"
	VerbosityVerbose VerbosityLevel = "verbose"
)

const (
	FormatTUI  OutputFormat = "tui"
	FormatJSON OutputFormat = "json"
	FormatRaw  OutputFormat = "raw"
)

const (
	DefaultPollInterval = 10 * time.Second
	DefaultDrainGrace   = time.Second
)

// State is a step of the supervision state machine.
type State string

const (
	StateIdle        State = "idle"
	StateRunning     State = "running"
	StateCompleted   State = "completed"
	StateTimedOut    State = "timed_out"
	StateFailed      State = "failed"
	StateInterrupted State = "interrupted"
	StateCleaned     State = "cleaned"
)

// Terminal reports whether s ends the running phase. Every terminal state
// is followed by StateCleaned.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateTimedOut, StateFailed, StateInterrupted:
		return true
	}
	return false
}

type RunConfig struct {
	Command      string
	Profile      string
	Timeout      TimeoutPolicy
	PollInterval time.Duration
	DrainGrace   time.Duration
	Encoding     string
	Workdir      string
	Env          []string
	Verbosity    VerbosityLevel
	Format       OutputFormat
}

type RunResult struct {
	PID        int
	Outcome    State
	Path       []State
	Duration   time.Duration
	StartedAt  time.Time
	FinishedAt time.Time
	Lines      int
	Error      error
}

// Success reports whether supervision itself succeeded. A timed out or
// interrupted command still counts; only a failed start does not.
func (r RunResult) Success() bool {
	return r.Outcome != StateFailed
}
