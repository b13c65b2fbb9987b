package tailscale

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/runnersync/internal/errs"
	"github.com/danmuck/runnersync/internal/overlay"
	"github.com/danmuck/runnersync/internal/testutil/fakecmd"
	"github.com/danmuck/runnersync/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const statusFixture = `{
  "BackendState": "Running",
  "Self": {
    "ID": "self",
    "HostName": "runner-3",
    "DNSName": "runner-3.tail1234.ts.net.",
    "TailscaleIPs": ["100.64.0.3", "fd7a:115c:a1e0::3"],
    "Tags": ["tag:ci"],
    "LastSeen": "0001-01-01T00:00:00Z",
    "Online": true
  },
  "Peer": {
    "nodekey:b": {
      "ID": "n2",
      "HostName": "runner-2",
      "DNSName": "runner-2.tail1234.ts.net.",
      "TailscaleIPs": ["100.64.0.2"],
      "Tags": ["tag:ci"],
      "LastSeen": "2024-01-02T00:00:00Z",
      "Online": false
    },
    "nodekey:a": {
      "ID": "n1",
      "HostName": "runner-1",
      "DNSName": "",
      "TailscaleIPs": ["100.64.0.1"],
      "Tags": ["tag:ci", "tag:o'brien"],
      "LastSeen": "0001-01-01T00:00:00Z",
      "Online": true
    },
    "nodekey:c": {
      "ID": "n3",
      "HostName": "laptop",
      "DNSName": "laptop.tail1234.ts.net.",
      "TailscaleIPs": ["100.64.0.9"],
      "Tags": null,
      "LastSeen": "2024-01-03T00:00:00Z",
      "Online": true
    }
  }
}`

func newTestClient(t *testing.T, runner *fakecmd.Runner) *Client {
	t.Helper()
	c := New("tailscale", runner, testlog.New(t))
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func TestStatusDecodesAndOrdersPeers(t *testing.T) {
	runner := fakecmd.New().On("tailscale status --json", fakecmd.Response{Stdout: statusFixture})
	status, err := newTestClient(t, runner).Status(context.Background())
	require.NoError(t, err)

	assert.Equal(t, BackendRunning, status.BackendState)
	assert.Equal(t, "runner-3", status.Self.Hostname)
	assert.Equal(t, "runner-3.tail1234.ts.net", status.Self.DNSName)
	assert.Nil(t, status.Self.LastSeen)

	require.Len(t, status.Peers, 3)
	assert.Equal(t, "n1", status.Peers[0].ID)
	assert.Equal(t, "n2", status.Peers[1].ID)
	assert.Equal(t, "n3", status.Peers[2].ID)

	assert.Nil(t, status.Peers[0].LastSeen)
	require.NotNil(t, status.Peers[1].LastSeen)
	assert.True(t, status.Peers[1].LastSeen.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "runner-2.tail1234.ts.net", status.Peers[1].DNSName)
}

func TestStatusFailureIsNetworkError(t *testing.T) {
	runner := fakecmd.New().On("tailscale status", fakecmd.Response{Code: 1, Stderr: "not running"})
	_, err := newTestClient(t, runner).Status(context.Background())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Network))
}

func TestStatusRejectsGarbage(t *testing.T) {
	runner := fakecmd.New().On("tailscale status", fakecmd.Response{Stdout: "not json"})
	_, err := newTestClient(t, runner).Status(context.Background())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Network))
}

func TestFindPeersWithTag(t *testing.T) {
	runner := fakecmd.New().On("tailscale status --json", fakecmd.Response{Stdout: statusFixture})
	c := newTestClient(t, runner)

	peers, err := c.FindPeersWithTag(context.Background(), []string{"tag:ci"})
	require.NoError(t, err)
	require.Len(t, peers, 2)
	assert.Equal(t, "runner-1", peers[0].Hostname)
	assert.Equal(t, "runner-2", peers[1].Hostname)

	peers, err = c.FindPeersWithTag(context.Background(), []string{"tag:db", "tag:o'brien"})
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.Equal(t, "runner-1", peers[0].Hostname)

	peers, err = c.FindPeersWithTag(context.Background(), []string{"tag:none"})
	require.NoError(t, err)
	assert.Empty(t, peers)
}

func TestTagQuery(t *testing.T) {
	assert.Equal(t,
		`[?tags && (contains(tags, 'tag:ci') || contains(tags, 'it\'s'))].index`,
		tagQuery([]string{"tag:ci", "it's"}),
	)
}

func TestUpWaitsForRunning(t *testing.T) {
	runner := fakecmd.New().
		On("tailscale up").
		On("tailscale status --json",
			fakecmd.Response{Stdout: `{"BackendState":"Starting"}`},
			fakecmd.Response{Stdout: statusFixture},
		)
	c := newTestClient(t, runner)

	err := c.Up(context.Background(), overlay.Login{AuthKey: "tskey-secret", Tags: []string{"tag:ci"}, Hostname: "runner-4"})
	require.NoError(t, err)

	calls := runner.Calls()
	require.NotEmpty(t, calls)
	assert.Equal(t, []string{
		"up",
		"--authkey=tskey-secret?ephemeral=true",
		"--advertise-tags=tag:ci",
		"--hostname=runner-4",
	}, calls[0].Args)
	assert.Equal(t, 2, runner.Count("tailscale status"))
}

func TestUpTimesOut(t *testing.T) {
	runner := fakecmd.New().On("tailscale status --json", fakecmd.Response{Stdout: `{"BackendState":"NeedsLogin"}`})
	c := newTestClient(t, runner)
	c.PollInterval = time.Second
	c.UpTimeout = 3 * time.Second

	err := c.Up(context.Background(), overlay.Login{AuthKey: "k"})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Network))
	assert.Contains(t, err.Error(), "NeedsLogin")
	assert.Equal(t, 3, runner.Count("tailscale status"))
}

func TestUpRedactsAuthKey(t *testing.T) {
	runner := fakecmd.New().On("tailscale up", fakecmd.Response{Code: 1, Err: errors.New("bad key tskey-secret")})
	err := newTestClient(t, runner).Up(context.Background(), overlay.Login{AuthKey: "tskey-secret"})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "tskey-secret")
	assert.True(t, errs.Is(err, errs.Network))
}

func TestUpRequiresAuthKey(t *testing.T) {
	err := newTestClient(t, fakecmd.New()).Up(context.Background(), overlay.Login{})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Validation))
}

func TestIPAndHostname(t *testing.T) {
	runner := fakecmd.New().On("tailscale status --json", fakecmd.Response{Stdout: statusFixture})
	c := newTestClient(t, runner)

	ip, err := c.IP(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "100.64.0.3", ip)

	host, err := c.Hostname(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "runner-3", host)
}

func TestAvailable(t *testing.T) {
	assert.True(t, newTestClient(t, fakecmd.New()).Available(context.Background()))

	missing := fakecmd.New().On("tailscale version", fakecmd.Response{Code: 127})
	assert.False(t, newTestClient(t, missing).Available(context.Background()))
}
