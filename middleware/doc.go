// Package middleware provides composable middleware around step handlers.
//
// A [Middleware] wraps the handler that runs one job's step. Middleware are
// composed with [Chain]; the first middleware in the list is the outermost
// wrapper. The executor's default chain is
//
//	recover → tracing → metrics → logging → handler
//
// # Built-in Middleware
//
//   - [Recover]: converts handler panics into errors
//   - [Tracing]: wraps execution in an OpenTelemetry span
//   - [Metrics]: records per-step duration and outcome counters
//   - [Logging]: logs start and outcome of each step
//
// Middleware must call next to continue the chain unless it short-circuits
// on purpose.
package middleware
