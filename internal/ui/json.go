package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/msaeedsaeedi/jobcap/internal/domain"
	"github.com/msaeedsaeedi/jobcap/internal/infra"
)

// EventJSON is one line of the NDJSON event stream.
type EventJSON struct {
	Event        string         `json:"event"`
	Time         time.Time      `json:"time"`
	Command      string         `json:"command,omitempty"`
	PID          int            `json:"pid,omitempty"`
	Strategy     string         `json:"strategy,omitempty"`
	Line         string         `json:"line,omitempty"`
	From         domain.State   `json:"from,omitempty"`
	To           domain.State   `json:"to,omitempty"`
	LimitSeconds float64        `json:"limit_seconds,omitempty"`
	Outcome      domain.State   `json:"outcome,omitempty"`
	Path         []domain.State `json:"path,omitempty"`
	Duration     float64        `json:"duration_ms,omitempty"`
	Lines        int            `json:"lines,omitempty"`
	Error        string         `json:"error,omitempty"`
}

type JSONFormatter struct {
	config *domain.RunConfig
	enc    *json.Encoder
	now    func() time.Time
	mu     sync.Mutex
}

func NewJSONFormatter(cfg *domain.RunConfig) *JSONFormatter {
	return newJSONFormatter(cfg, os.Stdout)
}

func newJSONFormatter(cfg *domain.RunConfig, w io.Writer) *JSONFormatter {
	return &JSONFormatter{
		config: cfg,
		enc:    json.NewEncoder(w),
		now:    time.Now,
	}
}

func (f *JSONFormatter) emit(evt EventJSON) {
	f.mu.Lock()
	defer f.mu.Unlock()
	evt.Time = f.now()
	if err := f.enc.Encode(evt); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON event: %v\n", err)
	}
}

func (f *JSONFormatter) OnStart(handle infra.Handle) {
	f.emit(EventJSON{Event: "started", Command: f.config.Command, PID: handle.PID, Strategy: handle.Strategy})
}

func (f *JSONFormatter) OnOutput(line string) {
	f.emit(EventJSON{Event: "output", Line: line})
}

func (f *JSONFormatter) OnTransition(from, to domain.State) {
	f.emit(EventJSON{Event: "state", From: from, To: to})
}

func (f *JSONFormatter) OnTimeout(limit time.Duration) {
	f.emit(EventJSON{Event: "timeout", LimitSeconds: limit.Seconds()})
}

func (f *JSONFormatter) OnKilled() {
	f.emit(EventJSON{Event: "killed"})
}

func (f *JSONFormatter) OnComplete(result domain.RunResult) {
	evt := EventJSON{
		Event:    "finished",
		PID:      result.PID,
		Outcome:  result.Outcome,
		Path:     result.Path,
		Duration: float64(result.Duration.Milliseconds()),
		Lines:    result.Lines,
	}
	if result.Error != nil {
		evt.Error = result.Error.Error()
	}
	f.emit(evt)
}

func (f *JSONFormatter) OnFinish() {
	// Every event is already flushed as it happens.
}
