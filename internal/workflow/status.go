package workflow

import (
	"context"

	"github.com/danmuck/runnersync/internal/overlay"
	"github.com/danmuck/runnersync/internal/store"
)

type StatusReport struct {
	OverlayEnabled bool
	Connected      bool
	Overlay        overlay.Status
	TaggedPeers    []overlay.Peer

	DataDir       string
	DataDirExists bool
	DataDirBytes  int64
}

// Status reports overlay membership and the size of the data directory. An
// unreachable overlay is logged, not returned.
func (w *Workflow) Status(ctx context.Context) (StatusReport, error) {
	w.log.Info().Msg("checking runner status")
	rep := StatusReport{
		OverlayEnabled: w.cfg.Tailscale.Enable && w.node != nil,
		DataDir:        w.cfg.RunnerDataDir,
	}

	if rep.OverlayEnabled {
		w.overlayStatus(ctx, &rep)
	} else {
		w.log.Info().Msg("tailscale disabled")
	}

	if !store.Exists(rep.DataDir) {
		w.log.Warn().Str("path", rep.DataDir).Msg("runner data directory not found")
		return rep, nil
	}
	size, err := store.DirSize(rep.DataDir)
	if err != nil {
		return rep, err
	}
	rep.DataDirExists = true
	rep.DataDirBytes = size
	w.log.Info().
		Str("path", rep.DataDir).
		Str("size", store.FormatBytes(size)).
		Msg("runner data")
	return rep, nil
}

func (w *Workflow) overlayStatus(ctx context.Context, rep *StatusReport) {
	status, err := w.node.Status(ctx)
	if err != nil {
		w.log.Warn().Err(err).Msg("tailscale not connected")
		return
	}
	rep.Connected = true
	rep.Overlay = status
	w.log.Info().
		Str("backend", status.BackendState).
		Str("hostname", orNA(status.Self.Hostname)).
		Str("dns", orNA(status.Self.DNSName)).
		Strs("ips", status.Self.IPs).
		Int("peers", len(status.Peers)).
		Msg("tailscale status")

	if len(status.Peers) == 0 {
		return
	}
	tagged, err := w.node.FindPeersWithTag(ctx, w.cfg.Tags())
	if err != nil {
		w.log.Warn().Err(err).Msg("tagged peer lookup failed")
		return
	}
	rep.TaggedPeers = tagged
	for i, p := range tagged {
		w.log.Info().Int("n", i+1).Str("hostname", p.Hostname).Str("address", p.Address()).Msg("tagged peer")
	}
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
