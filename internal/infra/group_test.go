package infra

import (
	"errors"
	"os/exec"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBoundary struct {
	mu          sync.Mutex
	attachErr   error
	activityErr error
	active      uint
	pid         int
	terminated  int
	closed      int
}

func (f *fakeBoundary) strategy() string { return "fake" }

func (f *fakeBoundary) prepare(*exec.Cmd) {}

func (f *fakeBoundary) attach(cmd *exec.Cmd) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pid = cmd.Process.Pid
	return f.attachErr
}

func (f *fakeBoundary) activity() (Activity, error) {
	if f.activityErr != nil {
		return Activity{}, f.activityErr
	}
	return Activity{Members: f.active, Active: f.active}, nil
}

func (f *fakeBoundary) members() ([]int, error) {
	return []int{f.pid}, f.activityErr
}

func (f *fakeBoundary) terminate() error {
	f.terminated++
	return errors.New("already gone")
}

func (f *fakeBoundary) close() error {
	f.closed++
	return nil
}

func TestStartFailsWhenBoundaryCannotBeCreated(t *testing.T) {
	denied := errors.New("access denied")
	g := NewProcessGroup(withBoundary(func() (boundary, error) { return nil, denied }))

	handle, err := g.Start("echo never")
	require.Nil(t, handle)

	var startErr *StartError
	require.ErrorAs(t, err, &startErr)
	assert.Equal(t, StageBoundary, startErr.Stage)
	assert.ErrorIs(t, err, denied)

	assert.False(t, g.IsActive())
	assert.False(t, g.Kill(), "nothing to destroy after a failed start")
	assert.False(t, g.AttachOutputSink(func(string) error { return nil }))
}

func TestStartRejectsEmptyCommand(t *testing.T) {
	created := false
	g := NewProcessGroup(withBoundary(func() (boundary, error) {
		created = true
		return &fakeBoundary{}, nil
	}))

	_, err := g.Start("  ")
	require.Error(t, err)
	assert.False(t, created)
}

func TestKillIsIdempotent(t *testing.T) {
	log, hook := test.NewNullLogger()
	fb := &fakeBoundary{active: 1}
	g := NewProcessGroup(WithLogger(log), withBoundary(func() (boundary, error) { return fb, nil }))

	g.mu.Lock()
	g.started = true
	g.boundary = fb
	g.mu.Unlock()

	assert.True(t, g.IsActive())
	assert.True(t, g.Kill())
	for i := 0; i < 3; i++ {
		assert.False(t, g.Kill())
	}

	assert.Equal(t, 1, fb.terminated)
	assert.Equal(t, 1, fb.closed)
	assert.False(t, g.IsActive())

	// The terminate failure is logged, not returned.
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

func TestKillBeforeStartIsSafe(t *testing.T) {
	g := NewProcessGroup()
	assert.NotPanics(t, func() {
		assert.False(t, g.Kill())
		assert.False(t, g.Kill())
	})
	assert.True(t, g.WaitDrained(0))
}

func TestIsActiveSwallowsQueryErrors(t *testing.T) {
	log, hook := test.NewNullLogger()
	fb := &fakeBoundary{active: 1, activityErr: errors.New("query failed")}
	g := NewProcessGroup(WithLogger(log))

	g.mu.Lock()
	g.started = true
	g.boundary = fb
	g.mu.Unlock()

	assert.False(t, g.IsActive())
	require.Len(t, hook.Entries, 1)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)

	_, err := g.Activity()
	assert.Error(t, err)
}

func TestStartErrorMessage(t *testing.T) {
	err := &StartError{Stage: StageAttach, Err: errors.New("nope")}
	assert.Equal(t, "start process group (attach): nope", err.Error())
}
