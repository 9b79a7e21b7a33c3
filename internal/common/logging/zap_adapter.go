package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configure a zap-backed Logger.
type Options struct {
	Level zapcore.Level
	// Output defaults to stdout.
	Output io.Writer
	// Name is prepended to every line, e.g. "grouper-dispatcher".
	Name string
}

// ParseLevel reads a LOG_LEVEL value. Unknown or empty values mean info;
// "warning" is accepted for warn.
func ParseLevel(s string) zapcore.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		return zapcore.WarnLevel
	}
	level, err := zapcore.ParseLevel(s)
	if err != nil || s == "" {
		return zapcore.InfoLevel
	}
	return level
}

// ZapAdapter implements Logger on a zap.Logger.
type ZapAdapter struct {
	logger *zap.Logger
}

// NewZapLogger builds a console-encoded zap logger.
func NewZapLogger(opts Options) *ZapAdapter {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.EncodeDuration = zapcore.MillisDurationEncoder

	var out io.Writer = os.Stdout
	if opts.Output != nil {
		out = opts.Output
	}

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.AddSync(out), opts.Level)
	logger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	if opts.Name != "" {
		logger = logger.Named(opts.Name)
	}
	return &ZapAdapter{logger: logger}
}

func (z *ZapAdapter) Debug(msg string, fields ...Field) {
	z.logger.Debug(msg, toZap(fields)...)
}

func (z *ZapAdapter) Info(msg string, fields ...Field) {
	z.logger.Info(msg, toZap(fields)...)
}

func (z *ZapAdapter) Warn(msg string, fields ...Field) {
	z.logger.Warn(msg, toZap(fields)...)
}

// Error logs msg at error level with err under the key "error". err may be nil.
func (z *ZapAdapter) Error(msg string, err error, fields ...Field) {
	zf := toZap(fields)
	if err != nil {
		zf = append(zf, zap.Error(err))
	}
	z.logger.Error(msg, zf...)
}

func (z *ZapAdapter) WithFields(fields ...Field) Logger {
	if len(fields) == 0 {
		return z
	}
	return &ZapAdapter{logger: z.logger.With(toZap(fields)...)}
}

// WithContext returns a logger carrying the worker and message id found in ctx.
func (z *ZapAdapter) WithContext(ctx context.Context) Logger {
	var zf []zap.Field
	if worker, ok := ctx.Value(workerKey).(string); ok {
		zf = append(zf, zap.String(string(workerKey), worker))
	}
	if id, ok := ctx.Value(messageKey).(string); ok {
		zf = append(zf, zap.String(string(messageKey), id))
	}
	if len(zf) == 0 {
		return z
	}
	return &ZapAdapter{logger: z.logger.With(zf...)}
}

// Sync flushes buffered entries.
func (z *ZapAdapter) Sync() error {
	return z.logger.Sync()
}

func toZap(fields []Field) []zap.Field {
	zf := make([]zap.Field, len(fields))
	for i, f := range fields {
		if err, ok := f.Value.(error); ok {
			zf[i] = zap.NamedError(f.Key, err)
			continue
		}
		zf[i] = zap.Any(f.Key, f.Value)
	}
	return zf
}
