package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/akamensky/argparse"
	"github.com/danmuck/runnersync/internal/config"
	"github.com/danmuck/runnersync/internal/errs"
	"github.com/danmuck/runnersync/internal/logging"
	"github.com/danmuck/runnersync/internal/observability"
	"github.com/danmuck/runnersync/internal/overlay"
	"github.com/danmuck/runnersync/internal/overlay/tailscale"
	"github.com/danmuck/runnersync/internal/remote"
	"github.com/danmuck/runnersync/internal/tools"
	"github.com/danmuck/runnersync/internal/vcs"
	"github.com/danmuck/runnersync/internal/workflow"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// version is stamped at build time with the output of cmd/versiongen.
var version = "0.0.0-dev"

const (
	cmdInit    = "init"
	cmdSync    = "sync"
	cmdPush    = "push"
	cmdStatus  = "status"
	cmdVersion = "version"
)

var commandNames = []string{cmdInit, cmdSync, cmdPush, cmdStatus, cmdVersion}

type cli struct {
	parser   *argparse.Parser
	commands map[string]*argparse.Command

	cwd        *string
	configPath *string
	verbose    *bool
	quiet      *bool
	showVer    *bool
}

func newCLI() *cli {
	parser := argparse.NewParser(workflow.Name, "Hand over runner state between successive ephemeral CI runners")
	c := &cli{parser: parser, commands: map[string]*argparse.Command{}}

	c.commands[cmdInit] = parser.NewCommand(cmdInit, "Connect to tailscale and detect the previous runner")
	c.commands[cmdSync] = parser.NewCommand(cmdSync, "Init, stop previous runner services, pull its data, push (default)")
	c.commands[cmdPush] = parser.NewCommand(cmdPush, "Commit and push .runner-data to git")
	c.commands[cmdStatus] = parser.NewCommand(cmdStatus, "Show tailscale status and runner data size")
	c.commands[cmdVersion] = parser.NewCommand(cmdVersion, "Print the version")

	c.cwd = parser.String("", "cwd", &argparse.Options{
		Help: "Working directory (overrides TOOL_CWD)",
	})
	c.configPath = parser.String("c", "config", &argparse.Options{
		Help: "Path to runner-sync.toml",
	})
	c.verbose = parser.Flag("v", "verbose", &argparse.Options{
		Help: "Debug logging and error chains",
	})
	c.quiet = parser.Flag("q", "quiet", &argparse.Options{
		Help: "Only log errors",
	})
	c.showVer = parser.Flag("", "version", &argparse.Options{
		Help: "Print the version and exit",
	})
	return c
}

// withDefaultCommand moves the command name right after the program name,
// where the parser expects it, inserting "sync" when args name no command.
func withDefaultCommand(args []string) []string {
	if len(args) == 0 {
		return []string{workflow.Name, cmdSync}
	}
	command, at := cmdSync, -1
	for i := 1; i < len(args); i++ {
		if takesValue(args[i]) {
			i++
			continue
		}
		if isCommand(args[i]) {
			command, at = args[i], i
			break
		}
	}
	out := make([]string, 0, len(args)+1)
	out = append(out, args[0], command)
	for i, arg := range args[1:] {
		if i+1 != at {
			out = append(out, arg)
		}
	}
	return out
}

func takesValue(arg string) bool {
	switch arg {
	case "--cwd", "-c", "--config":
		return true
	}
	return false
}

func isCommand(arg string) bool {
	for _, name := range commandNames {
		if arg == name {
			return true
		}
	}
	return false
}

func (c *cli) command() string {
	for _, name := range commandNames {
		if c.commands[name].Happened() {
			return name
		}
	}
	return cmdSync
}

func run(args []string, stdout io.Writer) int {
	c := newCLI()
	if err := c.parser.Parse(withDefaultCommand(args)); err != nil {
		fmt.Fprint(os.Stderr, c.parser.Usage(err))
		return errs.ExitUnknown
	}

	command := c.command()
	if command == cmdVersion || *c.showVer {
		fmt.Fprintln(stdout, workflow.VersionLine(version))
		return errs.ExitSuccess
	}

	logCfg := logging.Resolve(logging.ProfileRuntime, logging.Options{Verbose: *c.verbose, Quiet: *c.quiet}, os.LookupEnv)
	runID := uuid.NewString()
	log := observability.NewLogger(workflow.Name, logCfg).With().
		Str("command", command).
		Str("run_id", runID).
		Logger()

	cfg, err := config.Load(config.Overrides{
		Cwd:        *c.cwd,
		ConfigPath: *c.configPath,
		Verbose:    *c.verbose,
		Quiet:      *c.quiet,
	})
	if err != nil {
		return fail(log, err, *c.verbose)
	}

	log.Info().
		Str("name", workflow.Name).
		Str("version", version).
		Str("cwd", cfg.Cwd).
		Msg("starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := workflow.New(buildDeps(cfg, log, runID))
	ok, err := dispatch(ctx, w, command)
	if command != cmdStatus {
		w.ExportMetrics()
	}
	if err != nil {
		return fail(log, err, cfg.Verbose)
	}
	if !ok {
		return errs.ExitUnknown
	}
	return errs.ExitSuccess
}

func buildDeps(cfg config.RunnerConfig, log zerolog.Logger, runID string) workflow.Deps {
	runner := tools.ExecRunner{}
	var node overlay.Node
	if cfg.Tailscale.Enable {
		node = tailscale.New(cfg.Tailscale.Binary, runner, log)
	}
	var metrics *observability.Metrics
	if cfg.MetricsEnabled {
		metrics = observability.NewMetrics()
	}
	return workflow.Deps{
		Config:  cfg,
		Log:     log,
		Node:    node,
		Shell:   remote.New(cfg.SSH, runner, log),
		VCS:     vcs.NewGit(cfg, runner, log),
		Runner:  runner,
		Metrics: metrics,
		RunID:   runID,
		Pid:     os.Getpid(),
	}
}

func dispatch(ctx context.Context, w *workflow.Workflow, command string) (bool, error) {
	switch command {
	case cmdInit:
		_, err := w.Init(ctx)
		return err == nil, err
	case cmdPush:
		out, err := w.Push(ctx)
		return out.Success, err
	case cmdStatus:
		_, err := w.Status(ctx)
		return err == nil, err
	default:
		_, err := w.Sync(ctx)
		return err == nil, err
	}
}

func fail(log zerolog.Logger, err error, verbose bool) int {
	code := errs.ExitCode(err)
	log.Error().Str("kind", errs.KindOf(err).String()).Int("exit_code", code).Msg(err.Error())
	if verbose {
		log.Debug().Msg(fmt.Sprintf("%+v", err))
	}
	return code
}
