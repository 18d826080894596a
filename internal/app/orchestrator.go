package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/msaeedsaeedi/jobcap/internal/domain"
	"github.com/msaeedsaeedi/jobcap/internal/infra"
	"github.com/msaeedsaeedi/jobcap/internal/ui"
)

type Orchestrator struct {
	validator     *domain.ConfigValidator
	log           *logrus.Logger
	newController func(cfg *domain.RunConfig) (Controller, error)
}

func NewOrchestrator(log *logrus.Logger) *Orchestrator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	o := &Orchestrator{
		validator: domain.NewConfigValidator(),
		log:       log,
	}
	o.newController = o.processGroup
	return o
}

func (o *Orchestrator) processGroup(cfg *domain.RunConfig) (Controller, error) {
	enc, err := infra.LookupEncoding(cfg.Encoding)
	if err != nil {
		return nil, err
	}
	return infra.NewProcessGroup(
		infra.WithLogger(o.log),
		infra.WithEncoding(enc),
		infra.WithWorkdir(cfg.Workdir),
		infra.WithEnv(cfg.Env),
	), nil
}

// Execute validates cfg and supervises its command with the formatter it
// asks for. Only a failure to start the command is returned as an error.
func (o *Orchestrator) Execute(ctx context.Context, cfg *domain.RunConfig) (domain.RunResult, error) {
	cfg.ApplyDefaults()
	if err := o.validator.Validate(cfg); err != nil {
		return domain.RunResult{}, err
	}

	ctrl, err := o.newController(cfg)
	if err != nil {
		return domain.RunResult{}, err
	}

	handler := getFormatter(cfg, o.log)

	sup := NewSupervisor(ctrl, handler,
		WithLogger(o.log),
		WithInterval(cfg.PollInterval),
		WithDrainGrace(cfg.DrainGrace),
	)

	if cfg.Format == domain.FormatTUI {
		tuiHandler, ok := handler.(*ui.TUIFormatter)
		if !ok {
			return domain.RunResult{}, fmt.Errorf("tui formatter not available")
		}
		return o.executeTUI(ctx, sup, cfg, tuiHandler)
	}

	result, err := sup.Run(ctx, cfg)
	handler.OnFinish()
	return result, err
}

func (o *Orchestrator) executeTUI(ctx context.Context, sup *Supervisor, cfg *domain.RunConfig, tui *ui.TUIFormatter) (domain.RunResult, error) {
	ctxRun, cancel := context.WithCancel(ctx)
	defer cancel()

	// Log lines would tear the alternate screen; route them into the view.
	out := o.log.Out
	hooks := o.log.ReplaceHooks(make(logrus.LevelHooks))
	o.log.SetOutput(io.Discard)
	var restoreOnce sync.Once
	restore := func() {
		restoreOnce.Do(func() {
			o.log.SetOutput(out)
			o.log.ReplaceHooks(hooks)
		})
	}
	defer restore()

	g, gctx := errgroup.WithContext(ctxRun)

	// The TUI exits on q; that cancels supervision if it is still running.
	g.Go(func() error {
		defer cancel()
		return tui.Run(gctx)
	})

	// Ensure the TUI program is initialized before starting so streaming works
	if err := tui.WaitReady(gctx); err != nil {
		return domain.RunResult{}, err
	}
	o.log.AddHook(tui)

	var result domain.RunResult
	var startErr error
	g.Go(func() error {
		result, startErr = sup.Run(gctx, cfg)
		tui.OnFinish()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return result, err
	}

	// The alternate screen took its notices with it.
	restore()
	ui.Summarize(o.log, cfg, result)
	return result, startErr
}

func getFormatter(cfg *domain.RunConfig, log *logrus.Logger) EventHandler {
	switch cfg.Format {
	case domain.FormatRaw:
		return ui.NewRawFormatter(log)
	case domain.FormatJSON:
		return ui.NewJSONFormatter(cfg)
	case domain.FormatTUI:
		return ui.NewTUIFormatter(cfg)
	default:
		return ui.NewRawFormatter(log)
	}
}
