package util

import (
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// LogLevelNone disables logging
	LogLevelNone = "none"

	// LogLevelInfo logs DPrintf messages of level 1 and below
	LogLevelInfo = "info"

	// LogLevelDebug logs every DPrintf message
	LogLevelDebug = "debug"
)

var debug = atomic.NewUint64(0)

var (
	logMu  sync.RWMutex
	logger = zap.NewNop().Sugar()
)

// SetLogger routes DPrintf output to l at the given verbosity. Messages with
// a level above verbosity are dropped before formatting.
func SetLogger(l *zap.Logger, verbosity uint64) {
	if l == nil {
		l = zap.NewNop()
	}
	logMu.Lock()
	logger = l.Sugar()
	logMu.Unlock()
	debug.Store(verbosity)
}

// GetLogger builds a zap logger at the given level name ("none", "info",
// "debug" or any zapcore level) and reports the DPrintf verbosity that goes
// with it.
func GetLogger(level string) (*zap.Logger, uint64, error) {
	if level == LogLevelNone || level == "" {
		return zap.NewNop(), 0, nil
	}
	cfg := zap.NewDevelopmentConfig()
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, 0, err
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	l, err := cfg.Build()
	if err != nil {
		return nil, 0, err
	}
	var verbosity uint64 = 1
	if lvl == zapcore.DebugLevel {
		verbosity = 20
	}
	return l, verbosity, nil
}

func DPrintf(level uint64, format string, a ...interface{}) {
	if level <= debug.Load() {
		logMu.RLock()
		l := logger
		logMu.RUnlock()
		if level <= 1 {
			l.Infof(format, a...)
		} else {
			l.Debugf(format, a...)
		}
	}
}

func RoundUp(n uint64, sz uint64) uint64 {
	return (n + sz - 1) / sz
}

func Min(n uint64, m uint64) uint64 {
	if n < m {
		return n
	} else {
		return m
	}
}

// SumOverflows reports whether a+b wraps around 2^64
func SumOverflows(a uint64, b uint64) bool {
	return a+b < a
}

func CloneByteSlice(s []byte) []byte {
	s2 := make([]byte, len(s))
	copy(s2, s)
	return s2
}
