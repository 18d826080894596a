package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/msaeedsaeedi/jobcap/internal/domain"
	"github.com/msaeedsaeedi/jobcap/internal/infra"
)

// RawFormatter prints child output verbatim to stdout and reports
// supervision events through the logger.
type RawFormatter struct {
	log logrus.FieldLogger
	out io.Writer
	mu  sync.Mutex
}

func NewRawFormatter(log logrus.FieldLogger) *RawFormatter {
	return newRawFormatter(log, os.Stdout)
}

func newRawFormatter(log logrus.FieldLogger, out io.Writer) *RawFormatter {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RawFormatter{log: log, out: out}
}

func (f *RawFormatter) OnStart(handle infra.Handle) {
	f.log.Infof("Main process PID: %d", handle.PID)
}

func (f *RawFormatter) OnOutput(line string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fmt.Fprintln(f.out, strings.TrimSpace(line))
}

func (f *RawFormatter) OnTransition(from, to domain.State) {
	f.log.Debugf("state %s -> %s", from, to)
}

func (f *RawFormatter) OnTimeout(limit time.Duration) {
	f.log.Infof("Run time exceeded %v, terminating processes...", limit)
}

func (f *RawFormatter) OnKilled() {
	f.log.Info("Terminated the entire process tree")
}

func (f *RawFormatter) OnComplete(result domain.RunResult) {
	switch result.Outcome {
	case domain.StateCompleted:
		f.log.Info("Process finished normally")
	case domain.StateInterrupted:
		f.log.Info("Supervision interrupted")
	}
	f.log.WithFields(logrus.Fields{
		"outcome":  result.Outcome,
		"duration": result.Duration.Round(time.Millisecond),
		"lines":    result.Lines,
	}).Debug("supervision finished")
}

func (f *RawFormatter) OnFinish() {
	// No-op
}

// Summarize logs the outcome of a run whose live notices are no longer on
// screen.
func Summarize(log logrus.FieldLogger, cfg *domain.RunConfig, result domain.RunResult) {
	switch result.Outcome {
	case domain.StateCompleted:
		log.Info("Process finished normally")
	case domain.StateTimedOut:
		limit, _ := cfg.Timeout.Deadline()
		log.Infof("Run time exceeded %v, terminated the entire process tree", limit)
	case domain.StateInterrupted:
		log.Info("Supervision interrupted")
	case domain.StateFailed:
		log.WithError(result.Error).Error("failed to start process")
	}
	log.Debugf("%d output line(s) in %v", result.Lines, result.Duration.Round(time.Millisecond))
}
