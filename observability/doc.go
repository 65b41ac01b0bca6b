// Package observability records courier lifecycle metrics through
// OpenTelemetry.
//
// [MetricsExtension] is an ext.Extension that counts lifecycle events:
//
//	courier.trigger.compiled   triggers persisted
//	courier.job.queued         jobs made ready (chain heads, successors, released delays)
//	courier.job.delayed        deferred jobs parked
//	courier.job.completed      steps that succeeded
//	courier.job.failed         steps that failed
//	courier.job.canceled       jobs canceled before they ran
//	courier.message.sent       channel messages delivered
//
// Job counters carry a step_type attribute; courier.message.sent carries
// channel. Register it with the engine, passing a MeterProvider or relying
// on the global one.
package observability
