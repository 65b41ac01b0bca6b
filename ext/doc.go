// Package ext defines the extension system for courier.
//
// Extensions are notified of job lifecycle events and can react to them,
// for example by recording metrics or writing an audit trail. Each hook is a
// separate interface so extensions opt in only to the events they care about.
//
// # Implementing an Extension
//
//	type Audit struct{}
//
//	func (a *Audit) Name() string { return "audit" }
//
//	func (a *Audit) OnJobFailed(ctx context.Context, j *job.Job, err error) error {
//	    log.Printf("job %s failed: %v", j.ID, err)
//	    return nil
//	}
//
// # Hooks
//
//   - [TriggerCompiled]: a trigger's jobs were persisted
//   - [JobQueued]: a job became ready for a worker
//   - [JobDelayed]: a deferred job started waiting for its due time
//   - [JobStarted]: a worker claimed the job
//   - [JobCompleted]: the job's step succeeded
//   - [JobFailed]: the job's step failed and its chain halted
//   - [JobCanceled]: the job was canceled before it ran
//   - [MessageSent]: a channel step delivered a message
//   - [Shutdown]: the engine is stopping
//
// The [Registry] fans out each event to every registered extension that
// implements the corresponding hook interface.
package ext
