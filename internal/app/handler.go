package app

import (
	"time"

	"github.com/msaeedsaeedi/jobcap/internal/domain"
	"github.com/msaeedsaeedi/jobcap/internal/infra"
)

// EventHandler receives every observable supervision event. OnOutput is
// called from the drain goroutine, concurrently with the other callbacks.
type EventHandler interface {
	OnStart(handle infra.Handle)
	OnOutput(line string)
	OnTransition(from, to domain.State)
	OnTimeout(limit time.Duration)
	OnKilled()
	OnComplete(result domain.RunResult)
	OnFinish()
}

// Controller is the process group a Supervisor drives.
type Controller interface {
	Start(command string) (*infra.Handle, error)
	IsActive() bool
	Kill() bool
	AttachOutputSink(sink infra.Sink) bool
	WaitDrained(timeout time.Duration) bool
}

type memberLister interface {
	Members() ([]int, error)
}
