// Package log builds the zap loggers used by rangesync components.
package log

import (
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu sync.RWMutex

	// where logs go by default.
	logWriter io.Writer = os.Stdout

	encoderConfig = zap.NewDevelopmentEncoderConfig()
	jsonLog       bool
)

// JSONLog turns JSON encoding on or off for loggers created afterwards.
func JSONLog(b bool) {
	mu.Lock()
	defer mu.Unlock()
	jsonLog = b
}

func encoder() zapcore.Encoder {
	mu.RLock()
	defer mu.RUnlock()
	if jsonLog {
		return zapcore.NewJSONEncoder(encoderConfig)
	}
	return zapcore.NewConsoleEncoder(encoderConfig)
}

// NewWithLevel creates a named logger with a fixed level and with a set of (optional) hooks.
func NewWithLevel(module string, level zap.AtomicLevel, hooks ...func(zapcore.Entry) error) *zap.Logger {
	mu.RLock()
	syncer := zapcore.AddSync(logWriter)
	mu.RUnlock()
	core := zapcore.NewCore(encoder(), syncer, level)
	return zap.New(zapcore.RegisterHooks(core, hooks...)).Named(module)
}

// NewFromLevelString is NewWithLevel for a textual level such as "info" or "debug".
func NewFromLevelString(module, level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	return NewWithLevel(module, lvl), nil
}
