// Package logx is a thin structured-logging layer over zerolog.
//
// It provides a Service that owns the sinks (console, file, and an optional
// Telegram operator chat) and can re-apply configuration at runtime, plus a
// lightweight Logger value whose zero value is a safe no-op.
package logx
