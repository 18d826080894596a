package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/msaeedsaeedi/jobcap/internal/app"
	"github.com/msaeedsaeedi/jobcap/internal/config"
	"github.com/msaeedsaeedi/jobcap/internal/domain"
	"github.com/msaeedsaeedi/jobcap/internal/infra"
)

const version = "0.1.0"

type options struct {
	config    string
	timeout   string
	interval  time.Duration
	grace     time.Duration
	encoding  string
	json      bool
	raw       bool
	tui       bool
	verbosity string
}

// parseCommand splits positional arguments into a profile key or a command
// given after "--".
func parseCommand(args []string, dash int) (profile, command string, err error) {
	if dash >= 0 {
		if dash > 0 {
			return "", "", fmt.Errorf("unexpected arguments before --: %s", strings.Join(args[:dash], " "))
		}
		command = strings.Join(args[dash:], " ")
		if strings.TrimSpace(command) == "" {
			return "", "", domain.ErrEmptyCommand
		}
		return "", command, nil
	}
	if len(args) != 1 {
		return "", "", fmt.Errorf("expected one profile name or -- <command>, got %d arguments", len(args))
	}
	return args[0], "", nil
}

func outputFormat(opts *options, stdout *os.File) domain.OutputFormat {
	switch {
	case opts.json:
		return domain.FormatJSON
	case opts.raw:
		return domain.FormatRaw
	case opts.tui:
		return domain.FormatTUI
	case term.IsTerminal(int(stdout.Fd())):
		return domain.FormatTUI
	default:
		return domain.FormatRaw
	}
}

func newLogger(verbosity domain.VerbosityLevel, out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)
	log.SetFormatter(&noticeFormatter{TimestampFormat: "15:04:05"})
	switch verbosity {
	case domain.VerbositySilent:
		log.SetLevel(logrus.ErrorLevel)
	case domain.VerbosityVerbose:
		log.SetLevel(logrus.DebugLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}
	return log
}

func buildRunConfig(cmd *cobra.Command, args []string, opts *options, log logrus.FieldLogger) (*domain.RunConfig, error) {
	profile, command, err := parseCommand(args, cmd.ArgsLenAtDash())
	if err != nil {
		return nil, err
	}

	cfg := &domain.RunConfig{
		Command:      command,
		Timeout:      domain.ParseTimeout(opts.timeout),
		PollInterval: opts.interval,
		DrainGrace:   opts.grace,
		Encoding:     opts.encoding,
		Verbosity:    domain.VerbosityLevel(opts.verbosity),
		Format:       outputFormat(opts, os.Stdout),
	}

	if profile != "" {
		file, err := config.Load(opts.config)
		if err != nil {
			return nil, err
		}
		p, err := file.Lookup(profile)
		if err != nil {
			return nil, err
		}
		p.Apply(cfg)
		for _, name := range p.Unresolved {
			log.Warnf("Placeholder ${%s} in profile %s is not defined", name, p.Name)
		}
		if cmd.Flags().Changed("timeout") {
			cfg.Timeout = domain.ParseTimeout(opts.timeout)
		}
	}

	return cfg, nil
}

func run(cmd *cobra.Command, args []string, opts *options) error {
	log := newLogger(domain.VerbosityLevel(opts.verbosity), os.Stderr)

	cfg, err := buildRunConfig(cmd, args, opts, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orchestrator := app.NewOrchestrator(log)
	result, err := orchestrator.Execute(ctx, cfg)
	if err != nil {
		return err
	}
	if result.Outcome == domain.StateInterrupted {
		log.Info("Execution cancelled")
	}
	return nil
}

func newRootCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobcap [flags] <profile> | jobcap [flags] -- <command>",
		Short: "Run a command tree under a time cap",
		Long: "jobcap - run a shell command and every process it spawns inside one boundary,\n" +
			"stream its output and tear the whole tree down when it finishes or runs too long",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.config, "config", "c", config.DefaultPath, "Profile file (YAML or JSON)")
	cmd.Flags().StringVarP(&opts.timeout, "timeout", "t", "", "Maximum run time in minutes (<= 0 or non-numeric disables)")
	cmd.Flags().DurationVar(&opts.interval, "interval", domain.DefaultPollInterval, "Liveness poll interval")
	cmd.Flags().DurationVar(&opts.grace, "grace", domain.DefaultDrainGrace, "How long to wait for output to drain after the kill")
	cmd.Flags().StringVar(&opts.encoding, "encoding", "", "Encoding of the command output, e.g. gbk (default utf-8)")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Output in JSON format")
	cmd.Flags().BoolVar(&opts.raw, "raw", false, "Output in raw format")
	cmd.Flags().BoolVar(&opts.tui, "tui", false, "Output in TUI format (default on a terminal)")
	cmd.Flags().StringVarP(&opts.verbosity, "verbosity", "v", "normal", "Verbosity level (silent|normal|verbose)")
	cmd.Version = version

	return cmd
}

// exitCode reports err and returns the process exit status. A command that
// failed to start was already logged by the supervisor; only argument and
// configuration errors get the message and usage.
func exitCode(cmd *cobra.Command, err error, stderr io.Writer) int {
	if err == nil {
		return 0
	}
	var startErr *infra.StartError
	if errors.As(err, &startErr) {
		return 1
	}
	fmt.Fprintln(stderr, "Error:", err)
	fmt.Fprintln(stderr)
	cmd.Usage()
	return 1
}

func main() {
	opts := &options{}
	rootCmd := newRootCmd(opts)
	os.Exit(exitCode(rootCmd, rootCmd.Execute(), os.Stderr))
}
