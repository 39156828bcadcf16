// Package log wraps zerolog with a process-global logger and child-logger
// helpers for the fields every subsystem tags (component, tenant, run, item).
// Call Init once at startup; subsystems then derive scoped loggers via
// WithComponent and friends.
package log
