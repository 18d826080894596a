package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/sirupsen/logrus"

	"github.com/msaeedsaeedi/jobcap/internal/domain"
	"github.com/msaeedsaeedi/jobcap/internal/infra"
)

var (
	accent = lipgloss.Color("39")
	muted  = lipgloss.Color("240")
	good   = lipgloss.Color("42")
	bad    = lipgloss.Color("196")
	busy   = lipgloss.Color("220")
	bright = lipgloss.Color("255")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(bright)
	labelStyle   = lipgloss.NewStyle().Foreground(muted)
	noticeStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	goodStyle    = lipgloss.NewStyle().Foreground(good)
	badStyle     = lipgloss.NewStyle().Foreground(bad)
	busyStyle    = lipgloss.NewStyle().Foreground(busy)
	sidebarStyle = lipgloss.NewStyle().Padding(0, 1)
	mainStyle    = lipgloss.NewStyle().PaddingLeft(4)
	footerStyle  = lipgloss.NewStyle().Padding(1, 1)
	screenStyle  = lipgloss.NewStyle().Margin(1, 2)
)

const (
	tickInterval = 100 * time.Millisecond
	// command title, command line, blank line, logs title
	mainHeaderLines = 4
	footerLines     = 3
)

type keyMap struct {
	Stop   key.Binding
	Scroll key.Binding
	Follow key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Scroll, k.Follow, k.Stop}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

var keys = keyMap{
	Stop:   key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "stop/exit")),
	Scroll: key.NewBinding(key.WithKeys("up", "down", "k", "j", "pgup", "pgdown"), key.WithHelp("↑/↓", "scroll")),
	Follow: key.NewBinding(key.WithKeys("end", "G"), key.WithHelp("end", "follow")),
}

type startMsg struct{ handle infra.Handle }
type outputMsg struct{ line string }
type transitionMsg struct{ from, to domain.State }
type timeoutMsg struct{ limit time.Duration }
type killedMsg struct{}
type completeMsg struct{ result domain.RunResult }
type allCompleteMsg struct{}
type tickMsg time.Time

type noticeMsg struct {
	level logrus.Level
	text  string
}

// Model is the supervision dashboard: a status sidebar next to a scrolling
// tail of the command's output.
type Model struct {
	mu sync.Mutex

	cfg        *domain.RunConfig
	pid        int
	strategy   string
	state      domain.State
	startedAt  time.Time
	finishedAt time.Time
	lastTick   time.Time
	killed     bool
	lines      int
	finished   bool
	quit       bool

	width, height int
	logs          []string
	maxLines      int
	follow        bool

	output  viewport.Model
	spinner spinner.Model
	help    help.Model
}

func NewModel(cfg *domain.RunConfig) *Model {
	return &Model{
		cfg:      cfg,
		state:    domain.StateIdle,
		maxLines: 10000,
		follow:   true,
		output:   viewport.New(0, 0),
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(busyStyle)),
		help:     help.New(),
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(tick(), m.spinner.Tick)
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch msg := msg.(type) {
	case startMsg:
		m.pid = msg.handle.PID
		m.strategy = msg.handle.Strategy
		m.startedAt = time.Now()

	case transitionMsg:
		m.state = msg.to

	case outputMsg:
		m.lines++
		m.appendLog(msg.line, labelStyle)

	case noticeMsg:
		style := noticeStyle
		if msg.level <= logrus.WarnLevel {
			style = badStyle
		}
		m.appendLog(msg.text, style)

	case timeoutMsg:
		m.appendLog(fmt.Sprintf("run time exceeded %v, terminating processes", msg.limit), badStyle)

	case killedMsg:
		m.killed = true
		m.appendLog("terminated the entire process tree", noticeStyle)

	case completeMsg:
		m.finishedAt = msg.result.FinishedAt

	case allCompleteMsg:
		m.finished = true
		m.appendLog("supervision finished, press q to exit", noticeStyle)

	case tickMsg:
		m.lastTick = time.Time(msg)
		if !m.finished {
			return m, tick()
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Stop):
			m.quit = true
			return m, tea.Quit
		case key.Matches(msg, keys.Follow):
			m.follow = true
			m.output.GotoBottom()
		default:
			var cmd tea.Cmd
			m.output, cmd = m.output.Update(msg)
			m.follow = m.output.AtBottom()
			return m, cmd
		}
	}

	return m, nil
}

// layout splits the screen into sidebar and main panel widths and the
// height they share above the footer.
func (m *Model) layout() (sidebar, main, content int) {
	width := max(20, m.width-4)
	sidebar = max(30, width/4)
	main = width - sidebar - 1
	content = max(10, m.height-2-footerLines)
	return sidebar, main, content
}

func (m *Model) resize() {
	_, main, content := m.layout()
	m.output.Width = max(10, main-4)
	m.output.Height = max(5, content-mainHeaderLines)
	m.help.Width = main
	if m.follow {
		m.output.GotoBottom()
	}
}

func (m *Model) View() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.width == 0 {
		return "Initializing..."
	}

	sidebarW, mainW, contentH := m.layout()
	body := lipgloss.JoinHorizontal(lipgloss.Top,
		sidebarStyle.Width(sidebarW).MaxWidth(sidebarW).Height(contentH).Render(m.sidebarView()),
		mainStyle.Width(mainW).Height(contentH).Render(m.mainView()),
	)
	return screenStyle.Render(lipgloss.JoinVertical(lipgloss.Left, body, m.footerView()))
}

func (m *Model) sidebarView() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("SUPERVISION"))
	b.WriteString("\n\n")

	icon, style := m.stateBadge()
	fmt.Fprintf(&b, "%s %s\n\n", icon, style.Render(string(m.state)))

	pid := "-"
	if m.pid != 0 {
		pid = fmt.Sprint(m.pid)
	}
	field(&b, "PID", pid)
	if m.strategy != "" {
		field(&b, "Boundary", m.strategy)
	}

	elapsed := m.elapsed()
	if elapsed > 0 {
		field(&b, "Elapsed", elapsed.Round(time.Second).String())
	} else {
		field(&b, "Elapsed", "-")
	}
	field(&b, "Time left", m.timeLeft(elapsed))
	field(&b, "Lines", fmt.Sprint(m.lines))
	return b.String()
}

func field(b *strings.Builder, name, value string) {
	fmt.Fprintf(b, "%s\n  %s\n", labelStyle.Render(name), value)
}

func (m *Model) stateBadge() (string, lipgloss.Style) {
	switch m.state {
	case domain.StateRunning:
		return m.spinner.View(), busyStyle
	case domain.StateCompleted:
		return "✓", goodStyle
	case domain.StateFailed:
		return "✗", badStyle
	case domain.StateTimedOut, domain.StateInterrupted:
		return "■", badStyle
	case domain.StateCleaned:
		if m.killed {
			return "■", noticeStyle
		}
		return "✓", noticeStyle
	}
	return "-", labelStyle
}

func (m *Model) elapsed() time.Duration {
	switch {
	case m.startedAt.IsZero():
		return 0
	case !m.finishedAt.IsZero():
		return m.finishedAt.Sub(m.startedAt)
	case !m.lastTick.IsZero():
		return m.lastTick.Sub(m.startedAt)
	}
	return time.Since(m.startedAt)
}

func (m *Model) timeLeft(elapsed time.Duration) string {
	limit, ok := m.cfg.Timeout.Deadline()
	if !ok {
		return "no limit"
	}
	return max(0, limit-elapsed).Round(time.Second).String()
}

func (m *Model) mainView() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Command"))
	fmt.Fprintf(&b, "\n  > %s\n\n", m.cfg.Command)
	b.WriteString(titleStyle.Render("OUTPUT LOGS"))
	b.WriteString("\n")
	b.WriteString(m.output.View())
	return b.String()
}

func (m *Model) footerView() string {
	status := "Active"
	if m.finished {
		status = "Complete"
	}
	left := labelStyle.Render(fmt.Sprintf("%s %s", m.cfg.Timeout, status))
	right := m.help.View(keys)
	gap := strings.Repeat(" ", max(2, m.width-4-lipgloss.Width(left)-lipgloss.Width(right)-4))
	return footerStyle.Render(left + gap + right)
}

// appendLog must be called with m.mu held.
func (m *Model) appendLog(text string, style lipgloss.Style) {
	stamp := labelStyle.Render("[" + time.Now().Format("15:04:05") + "] ")
	m.logs = append(m.logs, stamp+style.Render(text))
	if len(m.logs) > m.maxLines {
		m.logs = m.logs[len(m.logs)-m.maxLines:]
	}
	m.output.SetContent(strings.Join(m.logs, "\n"))
	if m.follow {
		m.output.GotoBottom()
	}
}

// TUIFormatter forwards supervision events into a running bubbletea program.
type TUIFormatter struct {
	model   *Model
	program *tea.Program
	ready   chan struct{}
	once    sync.Once
}

func NewTUIFormatter(cfg *domain.RunConfig) *TUIFormatter {
	return &TUIFormatter{model: NewModel(cfg), ready: make(chan struct{})}
}

// Run blocks until the user quits or ctx is cancelled. After OnFinish the
// dashboard stays up so the outcome can be read.
func (f *TUIFormatter) Run(ctx context.Context) error {
	opts := []tea.ProgramOption{tea.WithAltScreen()}
	if ctx != nil {
		opts = append(opts, tea.WithContext(ctx))
	}
	f.program = tea.NewProgram(f.model, opts...)
	f.once.Do(func() { close(f.ready) })

	if _, err := f.program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}

func (f *TUIFormatter) WaitReady(ctx context.Context) error {
	select {
	case <-f.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *TUIFormatter) send(msg tea.Msg) {
	if f.program != nil {
		f.program.Send(msg)
	}
}

func (f *TUIFormatter) OnStart(handle infra.Handle)        { f.send(startMsg{handle: handle}) }
func (f *TUIFormatter) OnOutput(line string)               { f.send(outputMsg{line: line}) }
func (f *TUIFormatter) OnTransition(from, to domain.State) { f.send(transitionMsg{from: from, to: to}) }
func (f *TUIFormatter) OnTimeout(limit time.Duration)      { f.send(timeoutMsg{limit: limit}) }
func (f *TUIFormatter) OnKilled()                          { f.send(killedMsg{}) }
func (f *TUIFormatter) OnComplete(result domain.RunResult) { f.send(completeMsg{result: result}) }
func (f *TUIFormatter) OnFinish()                          { f.send(allCompleteMsg{}) }

// Levels and Fire let the formatter stand in for the log output while the
// alternate screen is up.
func (f *TUIFormatter) Levels() []logrus.Level {
	return []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel, logrus.WarnLevel, logrus.InfoLevel}
}

func (f *TUIFormatter) Fire(entry *logrus.Entry) error {
	f.send(noticeMsg{level: entry.Level, text: entry.Message})
	return nil
}
