package infra

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/encoding"

	"github.com/msaeedsaeedi/jobcap/internal/domain"
)

// Sink receives one decoded output line. Returning an error stops the drain.
type Sink func(line string) error

// Handle describes a successfully started group.
type Handle struct {
	PID      int
	Strategy string
}

// Activity is a point-in-time liveness query result. It is never cached.
type Activity struct {
	Members uint
	Active  uint
}

// boundary is the OS containment primitive behind a ProcessGroup. Every
// process attached to it is terminated by terminate.
type boundary interface {
	strategy() string
	// prepare runs before the process is started.
	prepare(cmd *exec.Cmd)
	// attach runs after the process is started and before it may execute.
	attach(cmd *exec.Cmd) error
	activity() (Activity, error)
	members() ([]int, error)
	terminate() error
	close() error
}

type Option func(*ProcessGroup)

func WithLogger(log logrus.FieldLogger) Option {
	return func(g *ProcessGroup) {
		if log != nil {
			g.log = log
		}
	}
}

// WithEncoding decodes child output from enc instead of UTF-8.
func WithEncoding(enc encoding.Encoding) Option {
	return func(g *ProcessGroup) { g.enc = enc }
}

func WithWorkdir(dir string) Option {
	return func(g *ProcessGroup) { g.workdir = dir }
}

// WithEnv appends KEY=VALUE pairs to the inherited environment.
func WithEnv(env []string) Option {
	return func(g *ProcessGroup) { g.env = append([]string(nil), env...) }
}

func withBoundary(factory func() (boundary, error)) Option {
	return func(g *ProcessGroup) { g.newBoundary = factory }
}

// ProcessGroup launches one shell command inside a containment boundary and
// owns every handle involved: the boundary, the direct child and the read end
// of its merged output. Kill releases all of them and may be called any
// number of times.
type ProcessGroup struct {
	log         logrus.FieldLogger
	enc         encoding.Encoding
	workdir     string
	env         []string
	newBoundary func() (boundary, error)

	mu       sync.Mutex
	started  bool
	boundary boundary
	cmd      *exec.Cmd
	output   *os.File
	exited   chan struct{}
	drained  chan struct{}
}

func NewProcessGroup(opts ...Option) *ProcessGroup {
	g := &ProcessGroup{
		log:         logrus.StandardLogger(),
		newBoundary: newBoundary,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *ProcessGroup) Start(command string) (*Handle, error) {
	if strings.TrimSpace(command) == "" {
		return nil, &StartError{Stage: StageLaunch, Err: domain.ErrEmptyCommand}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.started {
		return nil, ErrAlreadyStarted
	}
	g.started = true

	b, err := g.newBoundary()
	if err != nil {
		return nil, &StartError{Stage: StageBoundary, Err: err}
	}
	g.boundary = b

	cmd := shellCommand(command)
	cmd.Dir = g.workdir
	if len(g.env) > 0 {
		cmd.Env = append(os.Environ(), g.env...)
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		g.rollbackLocked()
		return nil, &StartError{Stage: StageLaunch, Err: fmt.Errorf("output pipe: %w", err)}
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	b.prepare(cmd)

	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		_ = pr.Close()
		g.rollbackLocked()
		return nil, &StartError{Stage: StageLaunch, Err: err}
	}
	// The child holds its own copy of the write end.
	_ = pw.Close()

	g.cmd = cmd
	g.output = pr
	g.exited = make(chan struct{})
	go g.reap(cmd, g.exited)

	if err := b.attach(cmd); err != nil {
		g.rollbackLocked()
		return nil, &StartError{Stage: StageAttach, Err: err}
	}

	g.log.WithField("strategy", b.strategy()).Debugf("process %d attached to group", cmd.Process.Pid)
	return &Handle{PID: cmd.Process.Pid, Strategy: b.strategy()}, nil
}

// reap waits on the direct child so an exited leader never lingers as a
// member of the boundary.
func (g *ProcessGroup) reap(cmd *exec.Cmd, exited chan struct{}) {
	err := cmd.Wait()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		g.log.Debugf("process %d exited with code 0", cmd.Process.Pid)
	case errors.As(err, &exitErr):
		g.log.Debugf("process %d exited with code %d", cmd.Process.Pid, exitErr.ExitCode())
	default:
		g.log.WithError(err).Debugf("wait for process %d", cmd.Process.Pid)
	}
	close(exited)
}

func (g *ProcessGroup) rollbackLocked() {
	g.killLocked()
}

// IsActive reports whether the boundary still has running members. Query
// failures are logged and read as "not active".
func (g *ProcessGroup) IsActive() bool {
	a, err := g.Activity()
	if err != nil {
		if !errors.Is(err, ErrNoBoundary) {
			g.log.WithError(err).Warn("could not query process group state")
		}
		return false
	}
	return a.Active > 0
}

func (g *ProcessGroup) Activity() (Activity, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.boundary == nil {
		return Activity{}, ErrNoBoundary
	}
	return g.boundary.activity()
}

// Members lists the PIDs currently inside the boundary.
func (g *ProcessGroup) Members() ([]int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.boundary == nil {
		return nil, ErrNoBoundary
	}
	return g.boundary.members()
}

// Kill destroys the boundary, terminating every member, and then kills the
// direct child if it is still around. It reports whether this call was the
// one that destroyed a live boundary.
func (g *ProcessGroup) Kill() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.killLocked()
}

func (g *ProcessGroup) killLocked() bool {
	destroyed := false
	if b := g.boundary; b != nil {
		g.boundary = nil
		if err := b.terminate(); err != nil {
			g.log.WithError(err).Error("failed to terminate process group")
		}
		if err := b.close(); err != nil {
			g.log.WithError(err).Error("failed to release process group")
		}
		destroyed = true
	}

	if cmd := g.cmd; cmd != nil {
		g.cmd = nil
		if cmd.Process != nil && !closed(g.exited) {
			if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				g.log.WithError(err).Debug("kill direct child")
			}
		}
	}

	// Output that nobody attached to would otherwise keep the pipe open.
	if g.output != nil {
		_ = g.output.Close()
		g.output = nil
	}

	return destroyed
}

// AttachOutputSink starts draining the merged output into sink. It returns
// false when there is no stream to drain or one is already being drained.
func (g *ProcessGroup) AttachOutputSink(sink Sink) bool {
	if sink == nil {
		return false
	}

	g.mu.Lock()
	out := g.output
	if out == nil {
		g.mu.Unlock()
		return false
	}
	g.output = nil
	drained := make(chan struct{})
	g.drained = drained
	enc := g.enc
	g.mu.Unlock()

	go func() {
		defer close(drained)
		// Closing the read end makes further writes by the child fail
		// instead of blocking once the drain has stopped.
		defer out.Close()
		if err := drainLines(out, enc, sink); err != nil {
			g.log.WithError(err).Warn("output drain stopped")
		}
	}()
	return true
}

// WaitDrained waits for the drain activity, at most timeout.
func (g *ProcessGroup) WaitDrained(timeout time.Duration) bool {
	g.mu.Lock()
	drained := g.drained
	g.mu.Unlock()
	if drained == nil {
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-drained:
		return true
	case <-timer.C:
		return false
	}
}

func closed(ch chan struct{}) bool {
	if ch == nil {
		return false
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
