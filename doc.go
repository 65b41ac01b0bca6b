// Package courier is a notification workflow engine for Go. A trigger names
// a workflow template, a payload and a set of recipients; courier compiles it
// into one chain of jobs per recipient, delivers channel steps (SMS, email,
// push, in-app, chat) as soon as they are eligible and holds control steps
// (delay, digest) until their due time.
//
// courier is a library first. Pick a store, build an engine, trigger:
//
//	s := memory.New()
//	eng, err := engine.New(s,
//	    engine.WithProvider(step.SMS, smsProvider),
//	)
//	res, err := eng.Trigger(ctx, tpl, trigger.Trigger{
//	    TemplateID: tpl.ID,
//	    To:         []string{"subscriber-1"},
//	    Payload:    map[string]any{"name": "Ada"},
//	})
//	// later
//	n, err := eng.Cancel(ctx, res.TransactionID)
//
// # Architecture
//
// Every subsystem (job, message) defines its own store interface and the
// composite store.Store embeds them. Backends: memory, Postgres, SQLite,
// Redis and MongoDB.
//
// Jobs move through a status machine (see package job) and every mutation
// is a status-conditioned update against the store. There are no locks
// across workers: a worker that loses a compare-and-set simply walks away.
//
// Entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based.
package courier
