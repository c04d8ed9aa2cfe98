// Package logging constructs the process-wide logr.Logger backed by zap and
// defines the verbosity levels used across the autoscaler. Loggers travel
// through context: callers use logr.NewContext / logr.FromContextOrDiscard
// rather than package-level globals.
package logging

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Verbosity levels for logger.V(...). INFO is the default level; DEBUG is
// used for expected, high-frequency events (guard rejections, gate
// short-circuits); TRACE for per-node detail.
const (
	INFO  = 0
	DEBUG = 1
	TRACE = 2
)

// NewLogger builds a zap-backed logr.Logger. verbosity maps to the maximum
// V-level that will be emitted (0 = info only). When development is true the
// console encoder is used instead of JSON.
func NewLogger(verbosity int, development bool) (logr.Logger, error) {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	// zapr maps logr V-levels onto negative zap levels.
	cfg.Level = zap.NewAtomicLevelAt(zapcore.Level(-verbosity)) //nolint:gosec
	zl, err := cfg.Build()
	if err != nil {
		return logr.Logger{}, err
	}
	return zapr.NewLogger(zl), nil
}
