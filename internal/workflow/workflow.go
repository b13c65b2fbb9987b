// Package workflow holds the bodies of the runner-sync commands. Each command
// composes the detector, service controller, and sync orchestrator in a fixed
// order; nothing here runs concurrently.
package workflow

import (
	"time"

	"github.com/danmuck/runnersync/internal/clock"
	"github.com/danmuck/runnersync/internal/config"
	"github.com/danmuck/runnersync/internal/detector"
	"github.com/danmuck/runnersync/internal/observability"
	"github.com/danmuck/runnersync/internal/overlay"
	"github.com/danmuck/runnersync/internal/remote"
	"github.com/danmuck/runnersync/internal/servicectl"
	"github.com/danmuck/runnersync/internal/store"
	"github.com/danmuck/runnersync/internal/syncer"
	"github.com/danmuck/runnersync/internal/tools"
	"github.com/danmuck/runnersync/internal/vcs"
	"github.com/rs/zerolog"
)

// Deps are the collaborators a Workflow drives. Node may be nil when the
// overlay is disabled.
type Deps struct {
	Config  config.RunnerConfig
	Log     zerolog.Logger
	Node    overlay.Node
	Shell   remote.Shell
	VCS     vcs.VersionControl
	Runner  tools.CommandRunner
	Metrics *observability.Metrics
	Now     clock.Now
	RunID   string
	Pid     int
}

type Workflow struct {
	cfg     config.RunnerConfig
	log     zerolog.Logger
	node    overlay.Node
	metrics *observability.Metrics
	now     clock.Now
	runID   string
	pid     int

	detector     *detector.Detector
	controller   *servicectl.Controller
	orchestrator *syncer.Orchestrator
	puller       *syncer.Puller
}

func New(d Deps) *Workflow {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	w := &Workflow{
		cfg:        d.Config,
		log:        d.Log,
		node:       d.Node,
		metrics:    d.Metrics,
		now:        now,
		runID:      d.RunID,
		pid:        d.Pid,
		controller: servicectl.New(d.Shell, d.Log),
		puller:     syncer.NewPuller(d.Config, d.Runner, d.Log),
	}
	if d.Node != nil {
		w.detector = detector.New(d.Node, d.Log)
	}
	w.orchestrator = syncer.NewOrchestrator(d.VCS, d.Log)
	w.orchestrator.Now = now
	return w
}

func (w *Workflow) phase(name string, start time.Time, err error) {
	w.metrics.RecordPhase(name, err == nil, w.now().Sub(start))
}

// ExportMetrics writes the textfile snapshot when metrics are enabled.
func (w *Workflow) ExportMetrics() {
	if !w.cfg.MetricsEnabled || w.metrics == nil {
		return
	}
	if !store.Exists(w.cfg.LogsDir()) {
		return
	}
	if size, err := store.DirSize(w.cfg.RunnerDataDir); err == nil {
		w.metrics.RecordDataDirSize(size)
	}
	path := w.cfg.MetricsPath()
	if err := w.metrics.WriteTextfile(path, w.now()); err != nil {
		w.log.Warn().Err(err).Str("path", path).Msg("metrics export failed")
		return
	}
	w.log.Debug().Str("path", path).Msg("metrics exported")
}
