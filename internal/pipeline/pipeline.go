// Package pipeline runs the validate -> plan -> execute -> report phases shared
// by the runner detector and the service controller.
package pipeline

import (
	"context"
	"strings"

	"github.com/danmuck/runnersync/internal/errs"
	"github.com/rs/zerolog"
)

// Severity decides what a validation failure does to the caller.
type Severity int

const (
	// Fatal turns validation problems into an errs.Validation error.
	Fatal Severity = iota
	// Warn logs validation problems and returns the stage's degraded outcome.
	Warn
)

func (s Severity) String() string {
	if s == Warn {
		return "warn"
	}
	return "fatal"
}

// Stage is one unit of decision logic. In is the parsed input, P the plan
// derived from it, and Out the outcome record handed to the next stage.
type Stage[In, P, Out any] interface {
	Name() string
	Validate(in In) []string
	Plan(in In) P
	Execute(ctx context.Context, plan P) (Out, error)
	Report(out Out) Out
	// Degraded is the benign outcome returned when validation fails under Warn.
	Degraded() Out
}

// Run drives stage through its phases. Execute errors are returned unchanged.
func Run[In, P, Out any](
	ctx context.Context,
	log zerolog.Logger,
	stage Stage[In, P, Out],
	in In,
	severity Severity,
) (Out, error) {
	name := stage.Name()
	if problems := stage.Validate(in); len(problems) > 0 {
		joined := strings.Join(problems, ", ")
		if severity == Fatal {
			var zero Out
			return zero, errs.Validationf("%s: validation failed: %s", name, joined)
		}
		log.Warn().Str("stage", name).Str("problems", joined).Msg("validation failed, skipping")
		return stage.Degraded(), nil
	}

	plan := stage.Plan(in)
	log.Debug().Str("stage", name).Interface("plan", plan).Msg("planned")

	out, err := stage.Execute(ctx, plan)
	if err != nil {
		var zero Out
		return zero, err
	}
	return stage.Report(out), nil
}
