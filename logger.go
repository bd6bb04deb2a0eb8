package auth

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// BuildZap returns a console logger for dev and a JSON logger otherwise.
func BuildZap(env, level string) (*zap.Logger, error) {
	lvl := parseLevel(level)

	if strings.ToLower(strings.TrimSpace(env)) == "prod" {
		zcfg := zap.NewProductionConfig()
		zcfg.Level = zap.NewAtomicLevelAt(lvl)
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zcfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
		return zcfg.Build(zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel))
	}

	zcfg := zap.NewDevelopmentConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	zcfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	zcfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	zcfg.DisableStacktrace = true
	return zcfg.Build(zap.AddCallerSkip(1))
}

func parseLevel(lvl string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

type zapLogger struct {
	s *zap.SugaredLogger
}

// NewZapLogger adapts a zap logger to Logger.
func NewZapLogger(l *zap.Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return zapLogger{s: l.Sugar()}
}

func (z zapLogger) Debug(format string, args ...any) { z.s.Debugf(format, args...) }
func (z zapLogger) Info(format string, args ...any)  { z.s.Infof(format, args...) }
func (z zapLogger) Warn(format string, args ...any)  { z.s.Warnf(format, args...) }
func (z zapLogger) Error(format string, args ...any) { z.s.Errorf(format, args...) }
