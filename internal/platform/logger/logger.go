package logger

import (
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

// Options controls the root logger.
type Options struct {
	Service string
	Debug   bool
	// OTLP fans records out to the OpenTelemetry log bridge in addition to
	// stdout. The bridge uses the global LoggerProvider.
	OTLP bool
	// Output defaults to os.Stdout.
	Output io.Writer
}

// New builds the process root logger. Components receive it (or a child made
// with With) through their WithLogger options.
func New(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	handlerOpts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if opts.Debug {
		handlerOpts.Level = slog.LevelDebug
	}

	var handler slog.Handler = slog.NewTextHandler(out, handlerOpts)
	if opts.OTLP {
		handler = slogmulti.Fanout(
			handler,
			otelslog.NewHandler(opts.Service),
		)
	}

	log := slog.New(handler)
	if opts.Service != "" {
		log = log.With(slog.String("service", opts.Service))
	}
	return log
}

// Discard returns a logger that drops everything. Used as the default when a
// component is built without WithLogger.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
