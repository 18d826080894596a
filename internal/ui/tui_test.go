package ui

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msaeedsaeedi/jobcap/internal/domain"
	"github.com/msaeedsaeedi/jobcap/internal/infra"
)

func newSizedModel(cfg *domain.RunConfig) *Model {
	m := NewModel(cfg)
	m.Update(tea.WindowSizeMsg{Width: 160, Height: 40})
	return m
}

func TestModelTracksSupervision(t *testing.T) {
	m := newSizedModel(&domain.RunConfig{Command: "game.exe startOneDragon", Timeout: domain.NewTimeoutPolicy(30)})

	m.Update(startMsg{handle: infra.Handle{PID: 321, Strategy: "job-object"}})
	m.Update(transitionMsg{from: domain.StateIdle, to: domain.StateRunning})
	m.Update(outputMsg{line: "hello from child"})
	m.Update(noticeMsg{level: logrus.WarnLevel, text: "could not query process group state"})

	view := m.View()
	assert.Contains(t, view, "game.exe startOneDragon")
	assert.Contains(t, view, "321")
	assert.Contains(t, view, "job-object")
	assert.Contains(t, view, "running")
	assert.Contains(t, view, "hello from child")
	assert.Contains(t, view, "could not query process group state")
	assert.Equal(t, 1, m.lines)
}

func TestModelShowsKillAndTimeout(t *testing.T) {
	m := newSizedModel(&domain.RunConfig{Command: "sleep", Timeout: domain.NewTimeoutPolicy(1)})

	m.Update(timeoutMsg{limit: time.Minute})
	m.Update(killedMsg{})
	m.Update(transitionMsg{from: domain.StateRunning, to: domain.StateTimedOut})

	assert.True(t, m.killed)
	view := m.View()
	assert.Contains(t, view, "run time exceeded 1m0s")
	assert.Contains(t, view, "terminated the entire process tree")
	assert.Contains(t, view, "timed_out")
}

func TestModelStaysUpAfterSupervisionFinishes(t *testing.T) {
	m := newSizedModel(&domain.RunConfig{Command: "true"})
	m.Update(transitionMsg{from: domain.StateCompleted, to: domain.StateCleaned})

	_, cmd := m.Update(allCompleteMsg{})
	assert.Nil(t, cmd)
	assert.True(t, m.finished)

	view := m.View()
	assert.Contains(t, view, "Complete")
	assert.Contains(t, view, "press q to exit")

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestModelTimeLeft(t *testing.T) {
	m := NewModel(&domain.RunConfig{Command: "true", Timeout: domain.NewTimeoutPolicy(2)})
	assert.Equal(t, "1m30s", m.timeLeft(30*time.Second))
	assert.Equal(t, "0s", m.timeLeft(time.Hour))

	m = NewModel(&domain.RunConfig{Command: "true", Timeout: domain.ParseTimeout("off")})
	assert.Equal(t, "no limit", m.timeLeft(time.Hour))
}

func TestModelPrunesLogs(t *testing.T) {
	m := NewModel(&domain.RunConfig{Command: "yes"})
	m.maxLines = 3
	for i := 0; i < 5; i++ {
		m.Update(outputMsg{line: "y"})
	}
	assert.Len(t, m.logs, 3)
	assert.Equal(t, 5, m.lines)
}
