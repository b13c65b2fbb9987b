package workflow

import (
	"context"
	"strconv"

	"github.com/danmuck/runnersync/internal/errs"
	"github.com/danmuck/runnersync/internal/overlay"
	"github.com/danmuck/runnersync/internal/pipeline"
	"github.com/danmuck/runnersync/internal/store"
)

// InitResult describes the node after init. Previous is nil when no earlier
// runner was found or the overlay is disabled.
type InitResult struct {
	OverlayEnabled bool
	IP             string
	Hostname       string
	Previous       *overlay.Peer
	Directories    int
}

// Init prepares the data directory, joins the overlay, and looks for the
// previous runner.
func (w *Workflow) Init(ctx context.Context) (InitResult, error) {
	start := w.now()
	res, err := w.init(ctx)
	w.phase("init", start, err)
	return res, err
}

func (w *Workflow) init(ctx context.Context) (InitResult, error) {
	w.log.Info().Msg("initializing runner sync")

	dirs := w.cfg.DirectoriesToEnsure()
	if err := store.EnsureDirs(dirs...); err != nil {
		return InitResult{}, errs.Wrap(errs.Process, "ensure directories", err)
	}
	w.log.Info().Bool("ok", true).Int("count", len(dirs)).Msg("directories ready")

	if w.pid > 0 {
		if err := store.WriteText(w.cfg.PidPath(), strconv.Itoa(w.pid)+"\n"); err != nil {
			return InitResult{}, errs.Wrap(errs.Process, "write pid file", err)
		}
	}

	res := InitResult{Directories: len(dirs)}
	if !w.cfg.Tailscale.Enable {
		w.log.Info().Msg("tailscale disabled, skipping network setup")
		return res, nil
	}
	if w.node == nil {
		return res, errs.Processf("tailscale enabled but no overlay client configured")
	}
	res.OverlayEnabled = true

	w.log.Info().Msg("connecting to tailscale")
	if !w.node.Available(ctx) {
		return res, errs.Processf("tailscale binary %q is not available", w.cfg.Tailscale.Binary)
	}
	login := overlay.Login{
		AuthKey:  w.cfg.Tailscale.ClientSecret,
		Tags:     w.cfg.Tags(),
		Hostname: w.cfg.Tailscale.Hostname,
	}
	if err := w.node.Up(ctx, login); err != nil {
		return res, err
	}

	ip, err := w.node.IP(ctx)
	if err != nil {
		w.log.Warn().Err(err).Msg("could not read tailscale ip")
	}
	hostname, err := w.node.Hostname(ctx)
	if err != nil {
		w.log.Warn().Err(err).Msg("could not read tailscale hostname")
	}
	res.IP, res.Hostname = ip, hostname
	w.log.Info().Bool("ok", true).Str("ip", ip).Str("hostname", hostname).Msg("tailscale connected")

	detection, err := w.detector.Detect(ctx, w.cfg.Tags(), pipeline.Fatal)
	w.metrics.RecordDetection(detection.Found)
	if err != nil {
		return res, err
	}
	res.Previous = detection.Peer
	return res, nil
}
