package workflow

import (
	"context"

	"github.com/danmuck/runnersync/internal/clock"
	"github.com/danmuck/runnersync/internal/errs"
	"github.com/danmuck/runnersync/internal/pipeline"
	"github.com/danmuck/runnersync/internal/servicectl"
	"github.com/danmuck/runnersync/internal/store"
	"github.com/danmuck/runnersync/internal/syncer"
)

// Manifest is written to the data directory on every sync so the next runner
// can see who handed over to whom.
type Manifest struct {
	RunID           string   `json:"run_id"`
	Hostname        string   `json:"hostname,omitempty"`
	Timestamp       string   `json:"timestamp"`
	PreviousRunner  string   `json:"previous_runner,omitempty"`
	StoppedServices []string `json:"stopped_services"`
	DataPulled      bool     `json:"data_pulled"`
}

type SyncResult struct {
	Init InitResult
	Stop servicectl.Outcome
	Pull syncer.PullResult
	Push syncer.PushOutcome
}

// Sync runs init, stops the previous runner's services, pulls its data, records
// the handover manifest, and pushes. Each step finishes before the next starts.
func (w *Workflow) Sync(ctx context.Context) (SyncResult, error) {
	var res SyncResult

	initRes, err := w.Init(ctx)
	if err != nil {
		return res, err
	}
	res.Init = initRes

	start := w.now()
	stop, err := w.controller.StopPrevious(ctx, initRes.Previous, w.cfg.Services(), pipeline.Warn)
	w.phase("stop", start, err)
	if err != nil {
		return res, err
	}
	res.Stop = stop
	w.metrics.RecordServicesStopped(len(stop.Stopped))

	res.Pull = syncer.PullResult{Skipped: true}
	if initRes.Previous != nil && stop.Success {
		start = w.now()
		res.Pull = w.puller.Pull(ctx, initRes.Previous.Address())
		w.phase("pull", start, nil)
	}

	if err := w.writeManifest(res); err != nil {
		return res, err
	}

	push, err := w.Push(ctx)
	if err != nil {
		return res, err
	}
	res.Push = push
	return res, nil
}

func (w *Workflow) writeManifest(res SyncResult) error {
	m := Manifest{
		RunID:           w.runID,
		Hostname:        res.Init.Hostname,
		Timestamp:       clock.Timestamp(w.now()),
		StoppedServices: append([]string{}, res.Stop.Stopped...),
		DataPulled:      res.Pull.Pulled,
	}
	if res.Init.Previous != nil {
		m.PreviousRunner = res.Init.Previous.Hostname
	}
	path := w.cfg.ManifestPath()
	if err := store.WriteJSON(path, m); err != nil {
		return errs.Wrap(errs.Process, "write manifest", err)
	}
	w.log.Debug().Str("path", path).Msg("handover manifest written")
	return nil
}

// Push commits and pushes the data directory.
func (w *Workflow) Push(ctx context.Context) (syncer.PushOutcome, error) {
	start := w.now()
	out, err := w.orchestrator.Push(ctx, w.cfg)
	w.phase("push", start, err)
	if err != nil {
		w.metrics.RecordPush("failed")
		return out, err
	}
	w.metrics.RecordPush(out.Result())
	return out, nil
}
