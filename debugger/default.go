package debugger

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	defaultOnce    sync.Once
	defaultRuntime atomic.Pointer[Runtime]
)

// Default returns the process wide Runtime used by instrumented code, building it on first use
// from LoadConfig. A runtime that cannot attach to a controller falls back to local tracking
// only, so instrumented programs always keep running.
func Default() *Runtime {
	defaultOnce.Do(func() {
		cfg, cfgErr := LoadConfig()
		logger, err := NewLogger(cfg.LogLevel)
		if err != nil {
			logger = zap.NewNop()
		}
		if cfgErr != nil {
			logger.Warn("invalid debugger config, using defaults", zap.Error(cfgErr))
			enabled := cfg.Enabled
			cfg = DefaultConfig()
			cfg.Enabled = enabled
		}
		rt, err := NewRuntime(cfg, logger)
		if err != nil {
			logger.Warn("debugger unavailable, running detached", zap.Error(err))
			cfg.Enabled = false
			cfg.ArchiveDir = ""
			if rt, err = NewRuntime(cfg, logger); err != nil {
				panic(fmt.Sprintf("dbug: %v", err))
			}
		}
		defaultRuntime.Store(rt)
	})
	return defaultRuntime.Load()
}

// EnterFunction records entry into the named function on the default runtime. Defer Exit on
// the returned guard.
func EnterFunction(name string) *FrameGuard {
	file, line, _ := callerLocation(2)
	return Default().enterFunction(name, file, line)
}

// ExitFunction records the exit of the innermost function on the default runtime.
func ExitFunction(name string) {
	Default().ExitFunction(name)
}

// BreakPoint handles a debug point on the default runtime.
func BreakPoint(file string, line, column uint32) {
	_, _, fn := callerLocation(2)
	Default().breakPoint(file, line, column, fn, 0)
}

// RegisterVariable declares a variable from its textual representation on the default runtime.
func RegisterVariable(name, typeName, valueRepr string, isMutable bool) {
	Default().RegisterVariable(name, typeName, valueRepr, isMutable)
}

// RegisterValue declares a variable from a live value on the default runtime.
func RegisterValue(name string, value any, isMutable bool) {
	Default().RegisterValue(name, value, isMutable)
}

// GenerateAsyncTaskID issues a task id on the default runtime.
func GenerateAsyncTaskID(ctx context.Context) (context.Context, TaskID) {
	return Default().GenerateAsyncTaskID(ctx)
}

// EnterAsyncFunction enters an async unit of work on the default runtime. Defer Exit on the
// returned guard.
func EnterAsyncFunction(ctx context.Context, name string, id TaskID) *AsyncGuard {
	return Default().EnterAsyncFunction(ctx, name, id)
}

// ExitAsyncFunction completes an async unit of work on the default runtime.
func ExitAsyncFunction(name string, id TaskID) {
	Default().ExitAsyncFunction(name, id)
}

// AsyncBreakPoint handles a debug point inside the task carried by ctx on the default runtime.
func AsyncBreakPoint(ctx context.Context, file string, line, column uint32) {
	var id TaskID
	if tc, ok := TaskFromContext(ctx); ok {
		id = tc.ID
	}
	_, _, fn := callerLocation(2)
	Default().breakPoint(file, line, column, fn, id)
}

// Shutdown releases the default runtime, if it was ever used.
func Shutdown() error {
	if rt := defaultRuntime.Load(); rt != nil {
		return rt.Shutdown()
	}
	return nil
}
