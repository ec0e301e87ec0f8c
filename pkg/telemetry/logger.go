package telemetry

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a zerolog logger carrying the package, phase and attempt
// fields of the engine. Derived loggers share the writer of their parent.
type Logger struct {
	zlog zerolog.Logger
}

// NewLogger opens cfg.Output and creates a logger writing to it.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	var w io.Writer
	switch cfg.Output {
	case "stdout":
		w = os.Stdout
	case "stderr", "":
		w = os.Stderr
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		w = file
	}
	return NewLoggerWithWriter(cfg, w), nil
}

// NewLoggerWithWriter creates a logger writing to w.
func NewLoggerWithWriter(cfg LoggingConfig, w io.Writer) *Logger {
	switch cfg.TimeFormat {
	case "unix":
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	case "unixms":
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	default:
		zerolog.TimeFieldFormat = time.RFC3339
	}

	if cfg.Format == "console" {
		consoleTime := time.RFC3339
		if cfg.TimeFormat == "unix" {
			consoleTime = "unix"
		}
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: consoleTime}
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	ctx := zerolog.New(w).Level(level).With().Timestamp()
	if cfg.EnableCaller {
		ctx = ctx.Caller()
	}
	zlog := ctx.Logger()

	if cfg.EnableSampling {
		zlog = zlog.Sample(&zerolog.BurstSampler{
			Burst:       uint32(cfg.SamplingInitial),
			Period:      time.Second,
			NextSampler: &zerolog.BasicSampler{N: uint32(cfg.SamplingThereafter)},
		})
	}
	return &Logger{zlog: zlog}
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// Zerolog returns the underlying logger, for libraries that take one.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}

func (l *Logger) derive(fn func(zerolog.Context) zerolog.Context) *Logger {
	return &Logger{zlog: fn(l.zlog.With()).Logger()}
}

// NewComponentLogger tags the logger with an engine subsystem.
func (l *Logger) NewComponentLogger(subsystem string) *Logger {
	return l.derive(func(c zerolog.Context) zerolog.Context { return c.Str("subsystem", subsystem) })
}

// WithFields adds several fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return l.derive(func(c zerolog.Context) zerolog.Context { return c.Fields(fields) })
}

// WithField adds one field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.derive(func(c zerolog.Context) zerolog.Context { return c.Interface(key, value) })
}

// WithAttemptID adds the id correlating one executor run.
func (l *Logger) WithAttemptID(attemptID string) *Logger {
	return l.derive(func(c zerolog.Context) zerolog.Context { return c.Str("attempt_id", attemptID) })
}

// WithComponentID adds the component id.
func (l *Logger) WithComponentID(componentID string) *Logger {
	return l.derive(func(c zerolog.Context) zerolog.Context { return c.Str("component", componentID) })
}

// WithPackage adds the header fields of a package.
func (l *Logger) WithPackage(componentID, version, packageType string) *Logger {
	return l.derive(func(c zerolog.Context) zerolog.Context {
		return c.Str("component", componentID).Str("version", version).Str("package_type", packageType)
	})
}

// WithPhase adds the zero-based phase and the phase count.
func (l *Logger) WithPhase(phase, count int) *Logger {
	return l.derive(func(c zerolog.Context) zerolog.Context { return c.Int("phase", phase).Int("phases", count) })
}

// WithError adds the error field.
func (l *Logger) WithError(err error) *Logger {
	return l.derive(func(c zerolog.Context) zerolog.Context { return c.Err(err) })
}

func (l *Logger) Trace(msg string) { l.zlog.Trace().Msg(msg) }
func (l *Logger) Debug(msg string) { l.zlog.Debug().Msg(msg) }
func (l *Logger) Info(msg string)  { l.zlog.Info().Msg(msg) }
func (l *Logger) Warn(msg string)  { l.zlog.Warn().Msg(msg) }
func (l *Logger) Error(msg string) { l.zlog.Error().Msg(msg) }

func (l *Logger) Debugf(format string, args ...interface{}) { l.zlog.Debug().Msgf(format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.zlog.Info().Msgf(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.zlog.Warn().Msgf(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.zlog.Error().Msgf(format, args...) }
