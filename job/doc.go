// Package job defines the job entity, its status state machine, and the
// store interface.
//
// # Job Entity
//
// A [Job] is one step of a template for one subscriber of one trigger. It
// embeds [courier.Entity] for timestamps, carries a snapshot of its
// [step.Step] and the trigger payload (JSON), and links to the previous job
// of the same subscriber through PredecessorID.
//
// # Status
//
// Jobs move through a forward-only state machine:
//
//	pending → queued → running → completed
//	pending → queued → running → failed
//	pending → delayed → queued → ...
//	pending | queued | delayed → canceled
//
// [Status.CanTransition] encodes the table. Completed, failed and canceled
// are terminal.
//
// # Mutation
//
// A job's status only changes through [Store.CompareAndSetStatus], which
// applies a [Transition] if and only if the stored status is one of
// Transition.From. Every component that moves a job (scheduler, executor,
// cancellation) claims it that way, so two racing parties can never both
// win.
package job
