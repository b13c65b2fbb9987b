package workflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/runnersync/internal/config"
	"github.com/danmuck/runnersync/internal/errs"
	"github.com/danmuck/runnersync/internal/observability"
	"github.com/danmuck/runnersync/internal/overlay"
	"github.com/danmuck/runnersync/internal/store"
	"github.com/danmuck/runnersync/internal/testutil/fakecmd"
	"github.com/danmuck/runnersync/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	events []string
}

func (r *recorder) add(e string) { r.events = append(r.events, e) }

type fakeNode struct {
	rec       *recorder
	available bool
	upErr     error
	status    overlay.Status
	tagged    []overlay.Peer
	logins    []overlay.Login
}

func (f *fakeNode) FindPeersWithTag(context.Context, []string) ([]overlay.Peer, error) {
	f.rec.add("find-peers")
	return f.tagged, nil
}

func (f *fakeNode) Status(context.Context) (overlay.Status, error) {
	f.rec.add("status")
	return f.status, nil
}

func (f *fakeNode) Available(context.Context) bool { return f.available }

func (f *fakeNode) Up(_ context.Context, login overlay.Login) error {
	f.rec.add("up")
	f.logins = append(f.logins, login)
	return f.upErr
}

func (f *fakeNode) IP(context.Context) (string, error) { return "100.64.0.9", nil }

func (f *fakeNode) Hostname(context.Context) (string, error) { return "runner-9", nil }

type fakeShell struct {
	rec       *recorder
	reachable bool
}

func (f *fakeShell) CheckConnection(context.Context, string) bool {
	f.rec.add("check")
	return f.reachable
}

func (f *fakeShell) StopServices(context.Context, string, []string) error {
	f.rec.add("stop")
	return nil
}

type fakeVCS struct {
	rec    *recorder
	pushed bool
}

func (f *fakeVCS) IsAvailable(context.Context) bool { return true }

func (f *fakeVCS) IsRepository(context.Context, string) bool { return true }

func (f *fakeVCS) CommitAndPush(context.Context, string, string) (bool, error) {
	f.rec.add("push")
	return f.pushed, nil
}

type fixture struct {
	cfg    config.RunnerConfig
	rec    *recorder
	node   *fakeNode
	shell  *fakeShell
	vcs    *fakeVCS
	runner *fakecmd.Runner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	rec := &recorder{}
	cfg := config.Default(t.TempDir())
	cfg.Tailscale.Enable = true
	cfg.Tailscale.ClientID = "client"
	cfg.Tailscale.ClientSecret = "tskey-client-secret"
	cfg.Tailscale.Hostname = "runner-9"

	seen := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	return &fixture{
		cfg:  cfg,
		rec:  rec,
		node: &fakeNode{
			rec:       rec,
			available: true,
			status:    overlay.Status{
				BackendState: "Running",
				Self:         overlay.Peer{Hostname: "runner-9"},
				Peers:        []overlay.Peer{{Hostname: "runner-8"}},
			},
			tagged: []overlay.Peer{
				{Hostname: "runner-7", DNSName: "runner-7.ts.net"},
				{Hostname: "runner-8", DNSName: "runner-8.ts.net", LastSeen: &seen},
			},
		},
		shell:  &fakeShell{rec: rec, reachable: true},
		vcs:    &fakeVCS{rec: rec, pushed: true},
		runner: fakecmd.New(),
	}
}

func (f *fixture) workflow(t *testing.T) *Workflow {
	return New(Deps{
		Config:  f.cfg,
		Log:     testlog.New(t),
		Node:    f.node,
		Shell:   f.shell,
		VCS:     f.vcs,
		Runner:  f.runner,
		Metrics: observability.NewMetrics(),
		Now:     func() time.Time { return time.Date(2024, 1, 1, 20, 30, 45, 0, time.UTC) },
		RunID:   "run-1",
		Pid:     4242,
	})
}

func TestInitOverlayDisabled(t *testing.T) {
	f := newFixture(t)
	f.cfg.Tailscale.Enable = false

	res, err := f.workflow(t).Init(context.Background())
	require.NoError(t, err)
	assert.False(t, res.OverlayEnabled)
	assert.Nil(t, res.Previous)
	assert.Equal(t, 5, res.Directories)
	assert.Empty(t, f.rec.events)

	for _, dir := range f.cfg.DirectoriesToEnsure() {
		assert.DirExists(t, dir)
	}
	pid, ok, err := store.ReadText(f.cfg.PidPath())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "4242\n", pid)
}

func TestInitDetectsPreviousRunner(t *testing.T) {
	f := newFixture(t)
	res, err := f.workflow(t).Init(context.Background())
	require.NoError(t, err)

	assert.True(t, res.OverlayEnabled)
	assert.Equal(t, "100.64.0.9", res.IP)
	assert.Equal(t, "runner-9", res.Hostname)
	require.NotNil(t, res.Previous)
	assert.Equal(t, "runner-8", res.Previous.Hostname)

	require.Len(t, f.node.logins, 1)
	assert.Equal(t, overlay.Login{
		AuthKey:  "tskey-client-secret",
		Tags:     []string{"tag:ci"},
		Hostname: "runner-9",
	}, f.node.logins[0])
}

func TestInitMissingBinary(t *testing.T) {
	f := newFixture(t)
	f.node.available = false
	_, err := f.workflow(t).Init(context.Background())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Process))
}

func TestInitUpFailure(t *testing.T) {
	f := newFixture(t)
	f.node.upErr = errs.Networkf("backend not running")
	_, err := f.workflow(t).Init(context.Background())
	require.Error(t, err)
	assert.Equal(t, errs.ExitNetwork, errs.ExitCode(err))
}

func TestSyncHandover(t *testing.T) {
	f := newFixture(t)
	res, err := f.workflow(t).Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"up", "find-peers", "check", "stop", "push"}, f.rec.events)
	assert.True(t, res.Stop.Success)
	assert.Equal(t, config.DefaultServicesToStop, res.Stop.Stopped)
	assert.True(t, res.Pull.Pulled)
	assert.Equal(t, 1, f.runner.Count("rsync"))
	assert.True(t, res.Push.Pushed)

	var m Manifest
	ok, err := store.ReadJSON(f.cfg.ManifestPath(), &m)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Manifest{
		RunID:           "run-1",
		Hostname:        "runner-9",
		Timestamp:       "240102-033045",
		PreviousRunner:  "runner-8",
		StoppedServices: config.DefaultServicesToStop,
		DataPulled:      true,
	}, m)
}

func TestSyncUnreachablePreviousSkipsPull(t *testing.T) {
	f := newFixture(t)
	f.shell.reachable = false

	res, err := f.workflow(t).Sync(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Stop.Success)
	assert.Empty(t, res.Stop.Stopped)
	assert.True(t, res.Pull.Skipped)
	assert.Equal(t, 0, f.runner.Count("rsync"))
	assert.Equal(t, []string{"up", "find-peers", "check", "push"}, f.rec.events)
}

func TestSyncFirstRunner(t *testing.T) {
	f := newFixture(t)
	f.node.tagged = nil
	f.vcs.pushed = false

	res, err := f.workflow(t).Sync(context.Background())
	require.NoError(t, err)
	assert.Nil(t, res.Init.Previous)
	assert.True(t, res.Stop.Success)
	assert.True(t, res.Pull.Skipped)
	assert.True(t, res.Push.NoChanges)
	assert.Equal(t, []string{"up", "find-peers", "push"}, f.rec.events)

	var m Manifest
	_, err = store.ReadJSON(f.cfg.ManifestPath(), &m)
	require.NoError(t, err)
	assert.Empty(t, m.PreviousRunner)
	assert.Equal(t, []string{}, m.StoppedServices)
}

func TestPushDisabled(t *testing.T) {
	f := newFixture(t)
	f.cfg.Git.PushEnabled = false

	out, err := f.workflow(t).Push(context.Background())
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Empty(t, f.rec.events)
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	w := f.workflow(t)

	rep, err := w.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.Connected)
	assert.False(t, rep.DataDirExists)
	assert.Len(t, rep.TaggedPeers, 2)

	require.NoError(t, store.EnsureDir(f.cfg.DataServicesDir()))
	require.NoError(t, store.WriteText(filepath.Join(f.cfg.DataServicesDir(), "state.txt"), "hello"))
	rep, err = w.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.DataDirExists)
	assert.Equal(t, int64(5), rep.DataDirBytes)
}

func TestStatusOverlayDisabled(t *testing.T) {
	f := newFixture(t)
	f.cfg.Tailscale.Enable = false
	rep, err := f.workflow(t).Status(context.Background())
	require.NoError(t, err)
	assert.False(t, rep.OverlayEnabled)
	assert.Empty(t, f.rec.events)
}

func TestExportMetrics(t *testing.T) {
	f := newFixture(t)
	f.cfg.Tailscale.Enable = false
	w := f.workflow(t)
	_, err := w.Init(context.Background())
	require.NoError(t, err)

	w.ExportMetrics()
	data, err := os.ReadFile(f.cfg.MetricsPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), "runner_sync_phase_total")
}

func TestExportMetricsDisabled(t *testing.T) {
	f := newFixture(t)
	f.cfg.MetricsEnabled = false
	f.cfg.Tailscale.Enable = false
	w := f.workflow(t)
	_, err := w.Init(context.Background())
	require.NoError(t, err)

	w.ExportMetrics()
	_, err = os.Stat(f.cfg.MetricsPath())
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestVersionLine(t *testing.T) {
	assert.Equal(t, "runner-sync v1.250310.10005", VersionLine("1.250310.10005"))
}
