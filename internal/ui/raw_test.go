package ui

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msaeedsaeedi/jobcap/internal/domain"
	"github.com/msaeedsaeedi/jobcap/internal/infra"
)

func TestRawFormatterPrintsOutputAndNotices(t *testing.T) {
	log, hook := test.NewNullLogger()
	var out bytes.Buffer
	f := newRawFormatter(log, &out)

	f.OnStart(infra.Handle{PID: 77})
	f.OnOutput("  loading world  ")
	f.OnOutput("ready")
	f.OnTimeout(90 * time.Minute)
	f.OnKilled()
	f.OnComplete(domain.RunResult{Outcome: domain.StateTimedOut})
	f.OnFinish()

	assert.Equal(t, "loading world\nready\n", out.String())

	var messages []string
	for _, entry := range hook.AllEntries() {
		require.Equal(t, logrus.InfoLevel, entry.Level)
		messages = append(messages, entry.Message)
	}
	assert.Equal(t, []string{
		"Main process PID: 77",
		"Run time exceeded 1h30m0s, terminating processes...",
		"Terminated the entire process tree",
	}, messages)
}

func TestRawFormatterReportsNormalCompletion(t *testing.T) {
	log, hook := test.NewNullLogger()
	f := newRawFormatter(log, &bytes.Buffer{})

	f.OnComplete(domain.RunResult{Outcome: domain.StateCompleted})

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "Process finished normally", hook.LastEntry().Message)
}

func TestSummarizeReportsOutcome(t *testing.T) {
	tests := []struct {
		result domain.RunResult
		level  logrus.Level
		want   string
	}{
		{domain.RunResult{Outcome: domain.StateCompleted}, logrus.InfoLevel, "Process finished normally"},
		{domain.RunResult{Outcome: domain.StateTimedOut}, logrus.InfoLevel, "Run time exceeded 5m0s, terminated the entire process tree"},
		{domain.RunResult{Outcome: domain.StateInterrupted}, logrus.InfoLevel, "Supervision interrupted"},
		{domain.RunResult{Outcome: domain.StateFailed, Error: errors.New("no shell")}, logrus.ErrorLevel, "failed to start process"},
	}

	cfg := &domain.RunConfig{Command: "run.bat", Timeout: domain.NewTimeoutPolicy(5)}
	for _, tt := range tests {
		t.Run(string(tt.result.Outcome), func(t *testing.T) {
			log, hook := test.NewNullLogger()
			Summarize(log, cfg, tt.result)

			require.Len(t, hook.AllEntries(), 1)
			assert.Equal(t, tt.level, hook.LastEntry().Level)
			assert.Equal(t, tt.want, hook.LastEntry().Message)
		})
	}
}
