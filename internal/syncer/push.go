// Package syncer moves runner data between generations: it pulls the previous
// runner's data directory and pushes the local one to the git remote.
package syncer

import (
	"context"
	"time"

	"github.com/danmuck/runnersync/internal/clock"
	"github.com/danmuck/runnersync/internal/config"
	"github.com/danmuck/runnersync/internal/errs"
	"github.com/danmuck/runnersync/internal/vcs"
	"github.com/rs/zerolog"
)

// PushOutcome never has Pushed and NoChanges both set. Success is false only
// when pushing is disabled by configuration.
type PushOutcome struct {
	Success   bool
	Pushed    bool
	NoChanges bool
}

// Result names the outcome for logs and metrics.
func (o PushOutcome) Result() string {
	switch {
	case o.Pushed:
		return "pushed"
	case o.NoChanges:
		return "no_changes"
	default:
		return "disabled"
	}
}

type Orchestrator struct {
	VCS vcs.VersionControl
	Log zerolog.Logger
	Now clock.Now
}

func NewOrchestrator(v vcs.VersionControl, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{VCS: v, Log: log, Now: time.Now}
}

// Push commits and pushes the data directory. Disabled pushing is an
// unsuccessful outcome, not an error. A missing git binary or a working
// directory outside a repository is a Process error. Retries belong to VCS.
func (o *Orchestrator) Push(ctx context.Context, cfg config.RunnerConfig) (PushOutcome, error) {
	if !cfg.Git.PushEnabled {
		o.Log.Warn().Msg("git push disabled, skipping")
		return PushOutcome{}, nil
	}
	if !o.VCS.IsAvailable(ctx) {
		return PushOutcome{}, errs.Processf("git is not available")
	}
	if !o.VCS.IsRepository(ctx, cfg.Cwd) {
		return PushOutcome{}, errs.Processf("not a git repository: %s", cfg.Cwd)
	}

	now := o.Now
	if now == nil {
		now = time.Now
	}
	message := clock.CommitMessage(now())
	o.Log.Info().Str("branch", cfg.Git.Branch).Str("message", message).Msg("pushing runner data")

	pushed, err := o.VCS.CommitAndPush(ctx, message, cfg.Git.Branch)
	if err != nil {
		if errs.KindOf(err) == errs.Unclassified {
			err = errs.Wrap(errs.Process, "commit and push", err)
		}
		return PushOutcome{}, err
	}
	if !pushed {
		o.Log.Info().Bool("ok", true).Msg("no changes to push")
		return PushOutcome{Success: true, NoChanges: true}, nil
	}
	o.Log.Info().Bool("ok", true).Str("branch", cfg.Git.Branch).Msg("runner data pushed")
	return PushOutcome{Success: true, Pushed: true}, nil
}
