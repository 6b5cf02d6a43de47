// Package logging configures zap for the CodeHive binaries. Each process
// owns one logger tagged with its component name ("relay", "agent"); room
// events log through ForRoom so every line about a room carries its code.
//
// CODEHIVE_LOG_LEVEL selects the level (debug/info/warn/error, default
// info); ENVIRONMENT=production switches the console encoder to JSON.
package logging

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu    sync.Mutex
	base  *zap.Logger
	sugar *zap.SugaredLogger
)

// Init builds the process logger. Calling it again is a no-op, so tests and
// library code may log without arranging initialization order.
func Init(component string) {
	mu.Lock()
	defer mu.Unlock()
	if base != nil {
		return
	}
	base = build(component)
	sugar = base.Sugar()
}

func build(component string) *zap.Logger {
	level := zapcore.InfoLevel
	if raw := os.Getenv("CODEHIVE_LOG_LEVEL"); raw != "" {
		if parsed, err := zapcore.ParseLevel(raw); err == nil {
			level = parsed
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if strings.EqualFold(os.Getenv("ENVIRONMENT"), "production") {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	logger := zap.New(zapcore.NewCore(enc, zapcore.Lock(os.Stderr), level), zap.AddCaller())
	if component != "" {
		logger = logger.With(zap.String("component", component))
	}
	return logger
}

// L returns the process logger. If Init was never called (tests, helpers)
// an untagged logger is built on first use.
func L() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	if base == nil {
		base = build("")
		sugar = base.Sugar()
	}
	return base
}

// S returns the printf-style view of L.
func S() *zap.SugaredLogger {
	L()
	mu.Lock()
	defer mu.Unlock()
	return sugar
}

// ForRoom returns a child logger carrying the room code. Relay handlers and
// sweeps log room events through this so lines correlate per room.
func ForRoom(code string) *zap.Logger {
	return L().With(zap.String("room", code))
}

// Sync flushes buffered entries. Call before process exit.
func Sync() {
	mu.Lock()
	defer mu.Unlock()
	if base != nil {
		_ = base.Sync()
	}
}
