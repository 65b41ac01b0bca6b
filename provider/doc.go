// Package provider renders step content and hands it to a delivery adapter.
//
// A [Renderer] expands a step's content template against the trigger
// payload; [HandlebarsRenderer] is the default. A [Provider] delivers the
// rendered result for one channel, and a [Registry] maps channels to
// providers. [Log] writes deliveries to a slog.Logger and [Recorder] keeps
// them in memory for tests and dry runs.
package provider
