package executor

import (
	"log/slog"

	"github.com/opal-lang/genc/concurrency"
)

// DebugLevel controls debug tracing emitted while evaluating a Value
// graph (development only), grounded on the teacher's
// runtime/executor.Config.Debug.
type DebugLevel int

const (
	DebugOff    DebugLevel = iota // no debug info (default)
	DebugPaths                    // log each node kind as it is entered
	DebugDetailed                 // same output as DebugPaths: each node kind as it is entered
)

// TelemetryLevel names a production-safe counter level, separate from
// the development-only DebugLevel (teacher: runtime/executor.Config.Telemetry).
// No executor reads Config.Telemetry, so no level produces counters.
type TelemetryLevel int

const (
	TelemetryOff   TelemetryLevel = iota // zero overhead (default)
	TelemetryBasic                       // produces no counters either (see TelemetryLevel)
)

// Config bundles the ambient concerns every executor layer is built on
// (spec SPEC_FULL §10.3): which scheduler drives concurrent work,
// which logger the logger intrinsic and debug tracing write to, and
// how much of either to produce. The zero Config is valid and matches
// a production-quiet default (thread-per-task scheduler, slog.Default,
// no debug tracing).
type Config struct {
	Debug     DebugLevel
	Telemetry TelemetryLevel

	// Scheduler is handed to handlers via handler.Request.Scheduler;
	// parallel_map dispatches its element calls on it. The executors
	// themselves evaluate struct fields and a call's function and
	// argument sequentially, without the scheduler. Nil defaults to
	// concurrency.ThreadPerTaskScheduler{}.
	Scheduler concurrency.Scheduler

	// Logger receives the logger intrinsic's passthrough argument at
	// Info level, and Debug-level evaluation tracing when Debug != DebugOff.
	// Nil defaults to slog.Default().
	Logger *slog.Logger

	// Policy, if non-nil, is consulted before every intrinsic dispatch;
	// a URI it denies fails the call with Unimplemented before the
	// handler's Execute ever runs (spec §9's embedder-restricted
	// intrinsic subset). *configwatch.Watcher satisfies this via its
	// Allows method, letting a host hot-reload the denylist without
	// rebuilding the executor stack.
	Policy PolicyChecker
}

// PolicyChecker gates which intrinsic URIs an executor may dispatch.
// configwatch.Policy and configwatch.Watcher both implement it.
type PolicyChecker interface {
	Allows(uri string) bool
}

func (c Config) scheduler() concurrency.Scheduler {
	if c.Scheduler != nil {
		return c.Scheduler
	}
	return concurrency.ThreadPerTaskScheduler{}
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
