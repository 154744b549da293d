package logger

import (
	"io"
	"log/slog"
	"os"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

type Option func(*options)

type options struct {
	level  slog.Level
	format Format
	output io.Writer
	attrs  []slog.Attr
}

func WithLevel(l slog.Level) Option {
	return func(o *options) { o.level = l }
}

func WithOutput(w io.Writer) Option {
	return func(o *options) {
		if w != nil {
			o.output = w
		}
	}
}

func WithFormat(f Format) Option {
	return func(o *options) { o.format = f }
}

// WithEnvironment picks production (JSON, info) or development (text, debug)
// defaults and tags every record with service and env.
func WithEnvironment(env, service string) Option {
	return func(o *options) {
		switch env {
		case "production", "prod", "staging", "stage":
			o.level = slog.LevelInfo
			o.format = FormatJSON
		default:
			o.level = slog.LevelDebug
			o.format = FormatText
		}
		o.attrs = append(o.attrs,
			slog.String("service", service),
			slog.String("env", env),
		)
	}
}

// New creates a configured slog.Logger. Defaults to JSON at info level on stdout.
func New(opts ...Option) *slog.Logger {
	o := &options{
		level:  slog.LevelInfo,
		format: FormatJSON,
		output: os.Stdout,
	}
	for _, opt := range opts {
		opt(o)
	}

	handlerOpts := &slog.HandlerOptions{Level: o.level}
	var handler slog.Handler
	if o.format == FormatText {
		handler = slog.NewTextHandler(o.output, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(o.output, handlerOpts)
	}
	if len(o.attrs) > 0 {
		handler = handler.WithAttrs(o.attrs)
	}
	return slog.New(handler)
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
