// Package engine wires the courier subsystems together and provides the
// application-level API for triggering and canceling notification
// workflows.
//
// The engine package exists to break an import cycle: the root courier
// package defines Entity, Config and the error types (imported by job,
// step, message, etc.) and therefore cannot import those packages back.
// Engine sits above every subsystem package and below the application.
//
// # Building an Engine
//
//	s, err := postgres.New(ctx, dsn)
//	eng, err := engine.New(s,
//	    engine.WithConfig(cfg.EngineConfig()),
//	    engine.WithProvider(step.SMS, twilioProvider),
//	    engine.WithProvider(step.Email, smtpProvider),
//	    engine.WithQueueConfig(queue.Config{Channel: step.SMS, RateLimit: 10}),
//	)
//
// # Triggering
//
//	res, err := eng.Trigger(ctx, tpl, trigger.Trigger{
//	    TemplateID: tpl.ID,
//	    To:         []string{"alice", "bob"},
//	    Payload:    map[string]any{"name": "Ada"},
//	})
//
// Trigger persists one job per step and subscriber and queues (or delays)
// the head of each chain. Start runs the scheduler loop and worker pool in
// the background; RunOnce performs a single release-and-drain pass
// instead.
//
// # Canceling
//
//	n, err := eng.Cancel(ctx, res.TransactionID)
//
// # Options
//
//   - [WithConfig] sets concurrency, poll and sweep intervals
//   - [WithProvider] registers a delivery provider for a channel
//   - [WithRenderer] replaces the handlebars renderer
//   - [WithExtension] registers a lifecycle extension
//   - [WithMiddleware] adds middleware after the default chain
//   - [WithQueueConfig] sets per-channel concurrency and rate limits
//   - [WithTracerProvider] and [WithMeterProvider] set OpenTelemetry providers
package engine
