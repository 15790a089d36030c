// Package logging provides the zap-backed fabrichost.Logger used by the
// sample binaries.
package logging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/GoCodeAlone/fabrichost"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects level, encoding and output.
type Config struct {
	Level      string `yaml:"level" json:"level" toml:"level" env:"LOG_LEVEL" default:"info"`
	Encoding   string `yaml:"encoding" json:"encoding" toml:"encoding" env:"LOG_ENCODING" default:"json"`
	OutputPath string `yaml:"outputPath" json:"outputPath" toml:"outputPath" env:"LOG_OUTPUT" default:"stdout"`
}

// Logger wraps zap.Logger with key/value methods.
type Logger struct {
	*zap.Logger
}

var _ fabrichost.Logger = (*Logger)(nil)

// New builds a production zap logger from cfg.
func New(cfg Config) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zap.InfoLevel
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "json"
	}
	if cfg.OutputPath == "" {
		cfg.OutputPath = "stdout"
	}

	zapCfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Encoding:         cfg.Encoding,
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{cfg.OutputPath},
		ErrorOutputPaths: []string{"stderr"},
	}
	zapCfg.EncoderConfig.TimeKey = "timestamp"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapCfg.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder

	logger, err := zapCfg.Build(zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return &Logger{Logger: logger}, nil
}

// Wrap adapts an existing zap logger.
func Wrap(l *zap.Logger) *Logger {
	return &Logger{Logger: l.WithOptions(zap.AddCallerSkip(1))}
}

func (l *Logger) Error(msg string, args ...any) { l.Logger.Error(msg, argsToFields(args...)...) }
func (l *Logger) Warn(msg string, args ...any)  { l.Logger.Warn(msg, argsToFields(args...)...) }
func (l *Logger) Info(msg string, args ...any)  { l.Logger.Info(msg, argsToFields(args...)...) }
func (l *Logger) Debug(msg string, args ...any) { l.Logger.Debug(msg, argsToFields(args...)...) }

// Log maps slog levels onto zap. Anything at or above
// fabrichost.LevelCritical is written at error level with
// severity=critical, since zap has no critical level that does not panic
// or exit.
func (l *Logger) Log(_ context.Context, level slog.Level, msg string, args ...any) {
	fields := argsToFields(args...)
	switch {
	case level >= fabrichost.LevelCritical:
		l.Logger.Error(msg, append(fields, zap.String("severity", "critical"))...)
	case level >= slog.LevelError:
		l.Logger.Error(msg, fields...)
	case level >= slog.LevelWarn:
		l.Logger.Warn(msg, fields...)
	case level >= slog.LevelInfo:
		l.Logger.Info(msg, fields...)
	default:
		l.Logger.Debug(msg, fields...)
	}
}

func argsToFields(args ...any) []zap.Field {
	fields := make([]zap.Field, 0, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		if err, ok := args[i+1].(error); ok {
			fields = append(fields, zap.NamedError(key, err))
			continue
		}
		fields = append(fields, zap.Any(key, args[i+1]))
	}
	if len(args)%2 == 1 {
		fields = append(fields, zap.Any("!BADKEY", args[len(args)-1]))
	}
	return fields
}
