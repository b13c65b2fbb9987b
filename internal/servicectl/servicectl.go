// Package servicectl asks the previous runner to release its services.
package servicectl

import (
	"context"

	"github.com/danmuck/runnersync/internal/overlay"
	"github.com/danmuck/runnersync/internal/pipeline"
	"github.com/danmuck/runnersync/internal/remote"
	"github.com/rs/zerolog"
)

// Outcome reports a stop attempt. Success means the stop request was issued
// (or there was nothing to stop); it does not mean the services are verified
// down. Stopped is either the full requested list or empty.
type Outcome struct {
	Success bool
	Stopped []string
}

type Controller struct {
	Shell remote.Shell
	Log   zerolog.Logger
}

func New(shell remote.Shell, log zerolog.Logger) *Controller {
	return &Controller{Shell: shell, Log: log}
}

type request struct {
	Address  string
	Services []string
}

// StopPrevious stops services on previous. A nil previous is a successful
// no-op. An unreachable host yields Success=false without an error. Under
// pipeline.Warn a missing address or empty service list degrades to a
// successful empty outcome; under pipeline.Fatal it is a Validation error.
func (c *Controller) StopPrevious(
	ctx context.Context,
	previous *overlay.Peer,
	services []string,
	severity pipeline.Severity,
) (Outcome, error) {
	if previous == nil {
		c.Log.Info().Msg("no previous runner, skipping service stop")
		return Outcome{Success: true, Stopped: []string{}}, nil
	}
	in := request{
		Address:  previous.Address(),
		Services: append([]string(nil), services...),
	}
	return pipeline.Run[request, request, Outcome](ctx, c.Log, stage{c: c}, in, severity)
}

type stage struct {
	c *Controller
}

func (stage) Name() string { return "stop-services" }

func (stage) Validate(in request) []string {
	var problems []string
	if in.Address == "" {
		problems = append(problems, "remote host is required")
	}
	if len(in.Services) == 0 {
		problems = append(problems, "no services specified to stop")
	}
	return problems
}

func (stage) Plan(in request) request { return in }

func (s stage) Execute(ctx context.Context, plan request) (Outcome, error) {
	log := s.c.Log.With().Str("address", plan.Address).Logger()
	log.Info().Strs("services", plan.Services).Msg("stopping services on previous runner")

	if !s.c.Shell.CheckConnection(ctx, plan.Address) {
		log.Warn().Msg("cannot reach previous runner over ssh, services may still be running")
		return Outcome{Success: false, Stopped: []string{}}, nil
	}
	if err := s.c.Shell.StopServices(ctx, plan.Address, plan.Services); err != nil {
		return Outcome{}, err
	}
	return Outcome{Success: true, Stopped: plan.Services}, nil
}

func (s stage) Report(out Outcome) Outcome {
	if out.Success {
		s.c.Log.Info().Bool("ok", true).Int("count", len(out.Stopped)).Msg("stop requested for services")
		return out
	}
	s.c.Log.Warn().Msg("failed to stop services on previous runner")
	return Outcome{Success: false, Stopped: []string{}}
}

func (stage) Degraded() Outcome { return Outcome{Success: true, Stopped: []string{}} }
