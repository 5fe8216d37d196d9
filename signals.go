package syncz

import "github.com/zoobzio/capitan"

// Signal constants for syncz events.
// Signals follow the pattern: <component>.<event>.
const (
	// Condition signals.
	SignalConditionDestroyed capitan.Signal = "condition.destroyed"
	SignalConditionMisuse    capitan.Signal = "condition.use-after-destroy"

	// Pool signals.
	SignalPoolExecutorSpawned capitan.Signal = "pool.executor-spawned"
	SignalPoolExecutorExited  capitan.Signal = "pool.executor-exited"
	SignalPoolSaturated       capitan.Signal = "pool.saturated"
	SignalPoolClosed          capitan.Signal = "pool.closed"

	// Task signals.
	SignalTaskPanicked capitan.Signal = "task.panicked"
)

// Common field keys using capitan primitive types.
// All keys use primitive types to avoid custom struct serialization.
var (
	// Common fields.
	FieldName      = capitan.NewStringKey("name")       // Instance name
	FieldOp        = capitan.NewStringKey("op")         // Operation that was attempted
	FieldTimestamp = capitan.NewFloat64Key("timestamp") // Unix timestamp

	// Pool fields.
	FieldReady     = capitan.NewIntKey("ready")     // Ready-queue length
	FieldExecutors = capitan.NewIntKey("executors") // Live executor count
	FieldBound     = capitan.NewIntKey("bound")     // Executor concurrency bound

	// Task fields.
	FieldTask  = capitan.NewStringKey("task")  // Task name
	FieldPanic = capitan.NewStringKey("panic") // Recovered panic value
)
