package workflow

import (
	"context"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/runnersync/internal/config"
	"github.com/danmuck/runnersync/internal/observability"
	"github.com/danmuck/runnersync/internal/store"
	"github.com/danmuck/runnersync/internal/testutil/fakecmd"
	"github.com/danmuck/runnersync/internal/testutil/testlog"
	"github.com/danmuck/runnersync/internal/tools"
	"github.com/danmuck/runnersync/internal/vcs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gitRun(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %s: %s", strings.Join(args, " "), out)
	return strings.TrimSpace(string(out))
}

// newGitWorkdir returns a clone-like working tree whose origin is a bare
// repository with one commit on main.
func newGitWorkdir(t *testing.T) (work, remote string) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	remote = filepath.Join(t.TempDir(), "origin.git")
	work = t.TempDir()
	gitRun(t, work, "init", "--bare", remote)
	gitRun(t, work, "init")
	gitRun(t, work, "checkout", "-b", "main")
	gitRun(t, work, "config", "user.email", "ci@example.com")
	gitRun(t, work, "config", "user.name", "ci")
	gitRun(t, work, "config", "commit.gpgsign", "false")
	gitRun(t, work, "remote", "add", "origin", remote)
	require.NoError(t, store.WriteText(filepath.Join(work, "README.md"), "runner\n"))
	gitRun(t, work, "add", "README.md")
	gitRun(t, work, "commit", "-m", "initial")
	gitRun(t, work, "push", "origin", "HEAD:main")
	return work, remote
}

func TestSyncTwiceWithUnchangedDataCommitsOnce(t *testing.T) {
	work, remote := newGitWorkdir(t)
	cfg := config.Default(work)
	cfg.Tailscale.Enable = false
	log := testlog.New(t)

	newWorkflow := func(runID string, pid int) *Workflow {
		return New(Deps{
			Config:  cfg,
			Log:     log,
			VCS:     vcs.NewGit(cfg, tools.ExecRunner{}, log),
			Runner:  fakecmd.New(),
			Metrics: observability.NewMetrics(),
			Now:     func() time.Time { return time.Date(2024, 1, 1, 20, 30, pid%60, 0, time.UTC) },
			RunID:   runID,
			Pid:     pid,
		})
	}

	require.NoError(t, store.EnsureDir(cfg.DataServicesDir()))
	require.NoError(t, store.WriteText(filepath.Join(cfg.DataServicesDir(), "state.txt"), "state"))

	first, err := newWorkflow("run-1", 101).Sync(context.Background())
	require.NoError(t, err)
	assert.True(t, first.Push.Pushed)
	head := gitRun(t, remote, "rev-parse", "main")

	second, err := newWorkflow("run-2", 202).Sync(context.Background())
	require.NoError(t, err)
	assert.False(t, second.Push.Pushed)
	assert.True(t, second.Push.NoChanges)
	assert.Equal(t, head, gitRun(t, remote, "rev-parse", "main"))

	var m Manifest
	ok, err := store.ReadJSON(cfg.ManifestPath(), &m)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "run-2", m.RunID)

	tracked := gitRun(t, work, "ls-files", config.RunnerDataDirName)
	assert.Equal(t, ".runner-data/data-services/state.txt", tracked)
}
