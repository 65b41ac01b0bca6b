// Package queue gates job execution per delivery channel.
//
// Each channel (sms, email, push, ...) may carry a concurrency cap and a
// token-bucket rate limit (golang.org/x/time/rate):
//
//	m := queue.NewManager(
//	    queue.Config{Channel: step.Email, MaxConcurrency: 5},
//	    queue.Config{Channel: step.SMS, RateLimit: 10, RateBurst: 20},
//	)
//	if m.Acquire(j.Type) {
//	    defer m.Release(j.Type)
//	    // execute the job
//	}
//
// A job refused by its gate stays queued and is picked up by a later poll.
// Channels without a [Config] have no limits beyond the pool-wide
// concurrency.
package queue
