// Package logging builds the engine's zap logger and the fields every
// component tags its entries with.
package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/warp/lecture-engine/generic"
)

// New returns a JSON production logger when env is "prod" and a console
// development logger otherwise. An unknown level falls back to info.
// Every entry carries the service, env and release.
func New(level, env, release string) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewDevelopmentConfig()
	if strings.EqualFold(env, "prod") {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build(zap.AddStacktrace(zap.ErrorLevel))
	if err != nil {
		return nil, err
	}
	fields := []zap.Field{zap.String("service", "lecture-engine"), zap.String("env", env)}
	if release != "" {
		fields = append(fields, zap.String("release", release))
	}
	return logger.With(fields...), nil
}

// Actor tags an entry with who performed the operation, as "id(role)".
func Actor(a generic.Actor) zap.Field {
	return zap.Stringer("actor", a)
}
