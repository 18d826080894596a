package app

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/msaeedsaeedi/jobcap/internal/domain"
)

// Supervisor runs one command to completion through the state machine
//
//	idle -> running -> {completed, timed_out, failed, interrupted} -> cleaned
//
// Every path out of running converges on the same kill and drain wait.
type Supervisor struct {
	ctrl     Controller
	handler  EventHandler
	log      logrus.FieldLogger
	interval time.Duration
	grace    time.Duration

	now   func() time.Time
	sleep func(context.Context, time.Duration) error

	state domain.State
	path  []domain.State
}

type SupervisorOption func(*Supervisor)

// WithInterval sets the liveness poll interval.
func WithInterval(d time.Duration) SupervisorOption {
	return func(s *Supervisor) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithDrainGrace bounds how long cleanup waits for the output drain.
func WithDrainGrace(d time.Duration) SupervisorOption {
	return func(s *Supervisor) {
		if d >= 0 {
			s.grace = d
		}
	}
}

func WithLogger(log logrus.FieldLogger) SupervisorOption {
	return func(s *Supervisor) {
		if log != nil {
			s.log = log
		}
	}
}

func NewSupervisor(ctrl Controller, handler EventHandler, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		ctrl:     ctrl,
		handler:  handler,
		log:      logrus.StandardLogger(),
		interval: domain.DefaultPollInterval,
		grace:    domain.DefaultDrainGrace,
		now:      time.Now,
		sleep:    sleepWithContext,
		state:    domain.StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run supervises cfg.Command until it exits, times out or ctx is cancelled.
// The returned error is non-nil only when the group could not be started.
func (s *Supervisor) Run(ctx context.Context, cfg *domain.RunConfig) (result domain.RunResult, err error) {
	s.state = domain.StateIdle
	s.path = []domain.State{domain.StateIdle}
	result.StartedAt = s.now()

	s.log.Infof("Command: %s", cfg.Command)
	s.log.Infof("Timeout: %s", cfg.Timeout)

	var lines atomic.Int64
	defer func() {
		s.cleanup()
		s.transition(domain.StateCleaned)

		result.FinishedAt = s.now()
		result.Duration = result.FinishedAt.Sub(result.StartedAt)
		result.Lines = int(lines.Load())
		result.Path = append([]domain.State(nil), s.path...)
		s.handler.OnComplete(result)
	}()

	handle, err := s.ctrl.Start(cfg.Command)
	if err != nil {
		s.log.WithError(err).Error("failed to start process")
		result.Outcome = s.transition(domain.StateFailed)
		result.Error = err
		return result, err
	}

	result.PID = handle.PID
	s.handler.OnStart(*handle)
	s.transition(domain.StateRunning)

	s.ctrl.AttachOutputSink(func(line string) error {
		lines.Add(1)
		s.handler.OnOutput(line)
		return nil
	})

	result.Outcome = s.monitor(ctx, cfg.Timeout, s.now())
	return result, nil
}

func (s *Supervisor) monitor(ctx context.Context, policy domain.TimeoutPolicy, since time.Time) domain.State {
	for {
		if !s.ctrl.IsActive() {
			return s.transition(domain.StateCompleted)
		}

		if policy.Exceeded(s.now().Sub(since)) {
			limit, _ := policy.Deadline()
			s.handler.OnTimeout(limit)
			s.kill()
			return s.transition(domain.StateTimedOut)
		}

		s.logMembers()

		if err := s.sleep(ctx, s.interval); err != nil {
			s.log.WithError(err).Debug("supervision interrupted")
			return s.transition(domain.StateInterrupted)
		}
	}
}

func (s *Supervisor) cleanup() {
	s.kill()
	if !s.ctrl.WaitDrained(s.grace) {
		s.log.Warnf("output drain still running after %v, giving up on it", s.grace)
	}
}

func (s *Supervisor) kill() {
	if s.ctrl.Kill() {
		s.handler.OnKilled()
	}
}

func (s *Supervisor) transition(to domain.State) domain.State {
	from := s.state
	s.state = to
	s.path = append(s.path, to)
	s.handler.OnTransition(from, to)
	return to
}

func (s *Supervisor) logMembers() {
	lister, ok := s.ctrl.(memberLister)
	if !ok || !debugEnabled(s.log) {
		return
	}
	pids, err := lister.Members()
	if err != nil {
		s.log.WithError(err).Debug("could not list group members")
		return
	}
	s.log.WithField("pids", pids).Debugf("group has %d member(s)", len(pids))
}

func debugEnabled(log logrus.FieldLogger) bool {
	switch l := log.(type) {
	case *logrus.Logger:
		return l.IsLevelEnabled(logrus.DebugLevel)
	case *logrus.Entry:
		return l.Logger.IsLevelEnabled(logrus.DebugLevel)
	}
	// Listing members walks the process table; skip it when the level
	// cannot be checked.
	return false
}
