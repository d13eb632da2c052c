package logger

import (
	"go.uber.org/zap"
)

// New builds a production zap logger at the given verbosity ("debug",
// "info", "warn", "error").
func New(verbosity string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	level, err := zap.ParseAtomicLevel(verbosity)
	if err != nil {
		return nil, err
	}
	config.Level = level
	return config.Build()
}

// Bench returns the sub-logger used for per-stage device timing reports.
// It is a plain named logger so benchmark lines can be filtered or silenced
// independently of the rest of the output.
func Bench(log *zap.Logger) *zap.Logger {
	return log.Named("bench")
}
