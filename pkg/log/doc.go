// Package log provides structured logging built on zerolog.
//
// Init configures the global Logger from a Config (level, JSON vs. console
// output, destination writer). Component-scoped child loggers
// (WithComponent, WithExecutionID, WithWorkerID, WithTaskID, WithAlgorithm,
// WithContainerID) attach a single field and return a new zerolog.Logger
// value; they never mutate the global Logger.
package log
