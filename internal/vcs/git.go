package vcs

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/danmuck/runnersync/internal/config"
	"github.com/danmuck/runnersync/internal/errs"
	"github.com/danmuck/runnersync/internal/tools"
	"github.com/rs/zerolog"
)

// Git runs the git binary inside Dir. Only Paths are staged, minus Exclude.
type Git struct {
	Binary   string
	Dir      string
	Paths    []string
	Exclude  []string
	Attempts int
	Backoff  BackoffConfig
	Runner   tools.CommandRunner
	Log      zerolog.Logger

	// sleep is replaced in tests.
	sleep func(context.Context, time.Duration) error
}

var _ VersionControl = (*Git)(nil)

// NewGit returns a Git for cfg rooted at the working directory, staging the
// runner data directory without its volatile subdirectories, with the
// configured retry policy.
func NewGit(cfg config.RunnerConfig, runner tools.CommandRunner, log zerolog.Logger) *Git {
	if runner == nil {
		runner = tools.ExecRunner{}
	}
	return &Git{
		Binary:   cfg.Git.Binary,
		Dir:      cfg.Cwd,
		Paths:    []string{cfg.RunnerDataDir},
		Exclude:  cfg.VolatileDirs(),
		Attempts: config.GitRetryCount,
		Backoff:  BackoffConfig{InitialDelay: config.GitRetryDelay, Multiplier: 1},
		Runner:   runner,
		Log:      log,
	}
}

func (g *Git) bin() string {
	if strings.TrimSpace(g.Binary) == "" {
		return "git"
	}
	return g.Binary
}

func (g *Git) git(ctx context.Context, args ...string) ([]byte, error) {
	return tools.RunChecked(ctx, g.Runner, g.bin(), g.withDir(args...)...)
}

func (g *Git) IsAvailable(ctx context.Context) bool {
	_, _, code, err := g.Runner.Run(ctx, g.bin(), "--version")
	return err == nil && code == 0
}

func (g *Git) IsRepository(ctx context.Context, path string) bool {
	out, _, code, err := g.Runner.Run(ctx, g.bin(), "-C", path, "rev-parse", "--is-inside-work-tree")
	return err == nil && code == 0 && strings.TrimSpace(string(out)) == "true"
}

// CommitAndPush stages Paths, commits, and pushes HEAD to branch. Rejected
// pushes are retried after `pull --rebase` up to Attempts times.
func (g *Git) CommitAndPush(ctx context.Context, message, branch string) (bool, error) {
	paths := g.Paths
	if len(paths) == 0 {
		paths = []string{"."}
	}
	addArgs := []string{"add", "-A", "--"}
	for _, p := range paths {
		addArgs = append(addArgs, g.pathspec(p))
	}
	for _, p := range g.Exclude {
		addArgs = append(addArgs, ":(exclude)"+g.pathspec(p))
	}
	if _, err := g.git(ctx, addArgs...); err != nil {
		return false, errs.Wrap(errs.Process, "git add", err)
	}

	_, _, code, err := g.Runner.Run(ctx, g.bin(), g.withDir("diff", "--cached", "--quiet")...)
	switch {
	case err == nil && code == 0:
		g.Log.Info().Msg("no staged changes to commit")
		return false, nil
	case code != 1:
		if err == nil {
			return false, errs.Processf("git diff: exit %d", code)
		}
		return false, errs.Wrap(errs.Process, "git diff", err)
	}

	if _, err := g.git(ctx, "commit", "-m", message); err != nil {
		return false, errs.Wrap(errs.Process, "git commit", err)
	}
	g.Log.Debug().Str("message", message).Msg("committed runner data")

	if err := g.pushWithRetry(ctx, branch); err != nil {
		return false, err
	}
	return true, nil
}

// pathspec makes p relative to Dir when it lies inside it.
func (g *Git) pathspec(p string) string {
	if g.Dir == "" || !filepath.IsAbs(p) {
		return p
	}
	rel, err := filepath.Rel(g.Dir, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
		return p
	}
	return rel
}

func (g *Git) withDir(args ...string) []string {
	if g.Dir == "" {
		return args
	}
	return append([]string{"-C", g.Dir}, args...)
}

func (g *Git) pushWithRetry(ctx context.Context, branch string) error {
	attempts := g.Attempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := g.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		_, err := g.git(ctx, "push", "origin", "HEAD:"+branch)
		if err == nil {
			g.Log.Info().Bool("ok", true).Str("branch", branch).Int("attempt", attempt).Msg("pushed runner data")
			return nil
		}
		lastErr = err
		if attempt == attempts {
			break
		}

		delay := NextBackoffDelay(g.Backoff, attempt, nil)
		g.Log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("git push failed")
		if err := sleep(ctx, delay); err != nil {
			return errs.Wrap(errs.Process, "git push", err)
		}
		if _, err := g.git(ctx, "pull", "--rebase", "origin", branch); err != nil {
			g.Log.Warn().Err(err).Msg("git pull --rebase failed")
		}
	}
	return errs.Wrap(errs.Process, "git push", lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
