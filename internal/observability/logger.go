package observability

import (
	"io"
	"os"
	"time"

	"github.com/danmuck/runnersync/internal/logging"
	"github.com/rs/zerolog"
)

// NewLogger builds the console logger for app. Output goes to stderr so
// command results printed on stdout stay clean.
func NewLogger(app string, cfg logging.Config) zerolog.Logger {
	return NewLoggerTo(os.Stderr, app, cfg)
}

func NewLoggerTo(out io.Writer, app string, cfg logging.Config) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
		NoColor:    cfg.NoColor,
	}
	if !cfg.Timestamp {
		output.PartsExclude = []string{zerolog.TimestampFieldName}
	}
	ctx := zerolog.New(output).Level(cfg.Level).With().Str("app", app)
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	return ctx.Logger()
}
