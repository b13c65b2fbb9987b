// Package tailscale implements overlay.PeerDirectory on top of the tailscale CLI.
package tailscale

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/danmuck/runnersync/internal/errs"
	"github.com/danmuck/runnersync/internal/overlay"
	"github.com/danmuck/runnersync/internal/tools"
	"github.com/jmespath/go-jmespath"
	"github.com/rs/zerolog"
)

const (
	// BackendRunning is the backend state of a logged-in node.
	BackendRunning = "Running"

	defaultBinary       = "tailscale"
	defaultPollInterval = 2 * time.Second
	defaultUpTimeout    = 30 * time.Second
)

// Client drives one tailscale binary.
type Client struct {
	Binary       string
	Runner       tools.CommandRunner
	Log          zerolog.Logger
	PollInterval time.Duration
	UpTimeout    time.Duration

	// sleep is replaced in tests.
	sleep func(context.Context, time.Duration) error
}

var _ overlay.Node = (*Client)(nil)

// New returns a client for binary run through runner.
func New(binary string, runner tools.CommandRunner, log zerolog.Logger) *Client {
	if strings.TrimSpace(binary) == "" {
		binary = defaultBinary
	}
	if runner == nil {
		runner = tools.ExecRunner{}
	}
	return &Client{
		Binary:       binary,
		Runner:       runner,
		Log:          log,
		PollInterval: defaultPollInterval,
		UpTimeout:    defaultUpTimeout,
	}
}

type statusJSON struct {
	BackendState string              `json:"BackendState"`
	Self         *peerJSON           `json:"Self"`
	Peer         map[string]peerJSON `json:"Peer"`
}

type peerJSON struct {
	ID           string    `json:"ID"`
	HostName     string    `json:"HostName"`
	DNSName      string    `json:"DNSName"`
	TailscaleIPs []string  `json:"TailscaleIPs"`
	Tags         []string  `json:"Tags"`
	LastSeen     time.Time `json:"LastSeen"`
	Online       bool      `json:"Online"`
}

func (p peerJSON) toPeer() overlay.Peer {
	peer := overlay.Peer{
		ID:       p.ID,
		Hostname: p.HostName,
		DNSName:  strings.TrimSuffix(p.DNSName, "."),
		IPs:      append([]string(nil), p.TailscaleIPs...),
		Tags:     append([]string(nil), p.Tags...),
		Online:   p.Online,
	}
	if !p.LastSeen.IsZero() {
		seen := p.LastSeen.UTC()
		peer.LastSeen = &seen
	}
	return peer
}

// Available reports whether the binary answers `version`.
func (c *Client) Available(ctx context.Context) bool {
	_, _, code, err := c.Runner.Run(ctx, c.Binary, "version")
	return err == nil && code == 0
}

// Status runs `tailscale status --json`. Peers are ordered by their key in the
// status map so repeated calls return the same order.
func (c *Client) Status(ctx context.Context) (overlay.Status, error) {
	stdout, err := tools.RunChecked(ctx, c.Runner, c.Binary, "status", "--json")
	if err != nil {
		return overlay.Status{}, errs.Wrap(errs.Network, "tailscale status", err)
	}
	return parseStatus(stdout)
}

func parseStatus(data []byte) (overlay.Status, error) {
	var raw statusJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return overlay.Status{}, errs.Wrap(errs.Network, "tailscale status decode", err)
	}

	status := overlay.Status{BackendState: raw.BackendState}
	if raw.Self != nil {
		status.Self = raw.Self.toPeer()
	}

	keys := make([]string, 0, len(raw.Peer))
	for key := range raw.Peer {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	status.Peers = make([]overlay.Peer, 0, len(keys))
	for _, key := range keys {
		status.Peers = append(status.Peers, raw.Peer[key].toPeer())
	}
	return status, nil
}

// FindPeersWithTag returns the peers carrying any of tags, in status order.
func (c *Client) FindPeersWithTag(ctx context.Context, tags []string) ([]overlay.Peer, error) {
	status, err := c.Status(ctx)
	if err != nil {
		return nil, err
	}
	matched, err := filterByTags(status.Peers, tags)
	if err != nil {
		return nil, err
	}
	c.Log.Debug().
		Strs("tags", tags).
		Int("peers", len(status.Peers)).
		Int("matched", len(matched)).
		Msg("tailscale peers filtered")
	return matched, nil
}

func filterByTags(peers []overlay.Peer, tags []string) ([]overlay.Peer, error) {
	if len(tags) == 0 || len(peers) == 0 {
		return []overlay.Peer{}, nil
	}

	docs := make([]interface{}, 0, len(peers))
	for i, peer := range peers {
		peerTags := make([]interface{}, 0, len(peer.Tags))
		for _, tag := range peer.Tags {
			peerTags = append(peerTags, tag)
		}
		docs = append(docs, map[string]interface{}{
			"index": i,
			"tags":  peerTags,
		})
	}

	result, err := jmespath.Search(tagQuery(tags), docs)
	if err != nil {
		return nil, fmt.Errorf("tailscale tag query: %w", err)
	}
	indexes, ok := result.([]interface{})
	if !ok {
		return []overlay.Peer{}, nil
	}

	matched := make([]overlay.Peer, 0, len(indexes))
	for _, v := range indexes {
		i, ok := v.(int)
		if !ok || i < 0 || i >= len(peers) {
			continue
		}
		matched = append(matched, peers[i])
	}
	return matched, nil
}

// tagQuery builds `[?tags && (contains(tags, 'a') || ...)].index`.
func tagQuery(tags []string) string {
	clauses := make([]string, 0, len(tags))
	for _, tag := range tags {
		clauses = append(clauses, fmt.Sprintf("contains(tags, %s)", rawLiteral(tag)))
	}
	return fmt.Sprintf("[?tags && (%s)].index", strings.Join(clauses, " || "))
}

func rawLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `\'`) + "'"
}

func upArgs(opts overlay.Login) []string {
	args := []string{"up", "--authkey=" + opts.AuthKey + "?ephemeral=true"}
	if len(opts.Tags) > 0 {
		args = append(args, "--advertise-tags="+strings.Join(opts.Tags, ","))
	}
	if opts.Hostname != "" {
		args = append(args, "--hostname="+opts.Hostname)
	}
	return args
}

// Up logs the node in and waits for the backend to reach Running.
func (c *Client) Up(ctx context.Context, opts overlay.Login) error {
	if strings.TrimSpace(opts.AuthKey) == "" {
		return errs.Validationf("tailscale up: auth key is required")
	}
	if _, err := tools.RunChecked(ctx, c.Runner, c.Binary, upArgs(opts)...); err != nil {
		return errs.Wrap(errs.Network, "tailscale up", redact(err, opts.AuthKey))
	}
	return c.waitRunning(ctx)
}

func (c *Client) waitRunning(ctx context.Context) error {
	timeout := c.UpTimeout
	if timeout <= 0 {
		timeout = defaultUpTimeout
	}
	interval := c.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	sleep := c.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	attempts := int(timeout / interval)
	if attempts < 1 {
		attempts = 1
	}
	last := ""
	for i := 0; i < attempts; i++ {
		status, err := c.Status(ctx)
		if err == nil {
			last = status.BackendState
			if last == BackendRunning {
				c.Log.Info().Bool("ok", true).Str("hostname", status.Self.Hostname).Msg("tailscale connected")
				return nil
			}
		}
		c.Log.Debug().Int("attempt", i+1).Str("backend_state", last).Msg("waiting for tailscale")
		if err := sleep(ctx, interval); err != nil {
			return errs.Wrap(errs.Network, "tailscale up", err)
		}
	}
	return errs.Networkf("tailscale up: backend not running after %s (state=%q)", timeout, last)
}

// IP returns the first overlay address of the local node.
func (c *Client) IP(ctx context.Context) (string, error) {
	status, err := c.Status(ctx)
	if err != nil {
		return "", err
	}
	if len(status.Self.IPs) == 0 {
		return "", errs.Networkf("tailscale: local node has no address")
	}
	return status.Self.IPs[0], nil
}

// Hostname returns the overlay hostname of the local node.
func (c *Client) Hostname(ctx context.Context) (string, error) {
	status, err := c.Status(ctx)
	if err != nil {
		return "", err
	}
	return status.Self.Hostname, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type redactedError struct {
	msg string
	err error
}

func (e redactedError) Error() string { return e.msg }
func (e redactedError) Unwrap() error { return e.err }

func redact(err error, secret string) error {
	if secret == "" || !strings.Contains(err.Error(), secret) {
		return err
	}
	return redactedError{msg: strings.ReplaceAll(err.Error(), secret, "<redacted>"), err: err}
}
