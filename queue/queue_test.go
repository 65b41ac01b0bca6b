package queue

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/xraph/courier"
	"github.com/xraph/courier/step"
)

func TestNewManager_Empty(t *testing.T) {
	m := NewManager()
	if !m.Acquire(step.SMS) {
		t.Fatal("expected Acquire to succeed for unconfigured channel")
	}
	m.Release(step.SMS)
	if m.ActiveCount(step.SMS) != 0 {
		t.Fatal("unconfigured channels are not counted")
	}
}

func TestManager_MaxConcurrency(t *testing.T) {
	m := NewManager(Config{Channel: step.Email, MaxConcurrency: 2})

	if !m.Acquire(step.Email) || !m.Acquire(step.Email) {
		t.Fatal("first two Acquires should succeed")
	}
	if m.Acquire(step.Email) {
		t.Fatal("third Acquire should fail (max concurrency 2)")
	}
	if got := m.ActiveCount(step.Email); got != 2 {
		t.Fatalf("ActiveCount = %d, want 2", got)
	}

	m.Release(step.Email)
	if !m.Acquire(step.Email) {
		t.Fatal("Acquire should succeed after Release")
	}
	// Other channels are unaffected.
	if !m.Acquire(step.SMS) {
		t.Fatal("sms should not be gated by the email limit")
	}
}

func TestManager_RateLimit(t *testing.T) {
	tests := []struct {
		name    string
		burst   int
		allowed int
	}{
		{"default burst", 0, 1},
		{"burst of three", 3, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// One token per hour: nothing refills during the test.
			m := NewManager(Config{Channel: step.Push, RateLimit: 1.0 / 3600, RateBurst: tt.burst})
			got := 0
			for range 10 {
				if m.Acquire(step.Push) {
					got++
					m.Release(step.Push)
				}
			}
			if got != tt.allowed {
				t.Errorf("allowed %d, want %d", got, tt.allowed)
			}
		})
	}
}

func TestManager_RefusedByConcurrencyKeepsToken(t *testing.T) {
	m := NewManager(Config{Channel: step.Chat, MaxConcurrency: 1, RateLimit: 1.0 / 3600, RateBurst: 2})

	if !m.Acquire(step.Chat) {
		t.Fatal("first Acquire should succeed")
	}
	if m.Acquire(step.Chat) {
		t.Fatal("second Acquire should hit the concurrency cap")
	}
	m.Release(step.Chat)
	if !m.Acquire(step.Chat) {
		t.Fatal("the refused Acquire must not have spent the second token")
	}
}

func TestManager_SetConfig(t *testing.T) {
	m := NewManager(Config{Channel: step.SMS, MaxConcurrency: 1})
	if !m.Acquire(step.SMS) {
		t.Fatal("Acquire should succeed")
	}

	m.SetConfig(Config{Channel: step.SMS, MaxConcurrency: 2})
	if got := m.ActiveCount(step.SMS); got != 1 {
		t.Fatalf("active count lost on reconfigure: %d", got)
	}
	if !m.Acquire(step.SMS) {
		t.Fatal("raised limit should admit a second job")
	}
	if m.Acquire(step.SMS) {
		t.Fatal("third Acquire should fail")
	}
}

func TestManager_ReleaseUnderflow(t *testing.T) {
	m := NewManager(Config{Channel: step.InApp, MaxConcurrency: 1})
	m.Release(step.InApp)
	m.Release(step.InApp)
	if got := m.ActiveCount(step.InApp); got != 0 {
		t.Fatalf("ActiveCount = %d, want 0", got)
	}
}

func TestManager_ConcurrentAccess(t *testing.T) {
	const limit = 5
	m := NewManager(Config{Channel: step.Email, MaxConcurrency: limit})

	var (
		wg      sync.WaitGroup
		running atomic.Int64
		peak    atomic.Int64
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				if !m.Acquire(step.Email) {
					continue
				}
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				running.Add(-1)
				m.Release(step.Email)
			}
		}()
	}
	wg.Wait()

	if p := peak.Load(); p > limit {
		t.Fatalf("peak concurrency %d exceeded limit %d", p, limit)
	}
	if got := m.ActiveCount(step.Email); got != 0 {
		t.Fatalf("ActiveCount = %d after all releases", got)
	}
}

func TestFromSections(t *testing.T) {
	got := FromSections([]courier.ChannelSection{
		{Name: "sms", MaxConcurrency: 3, RateLimit: 2.5, RateBurst: 5},
	})
	want := Config{Channel: step.SMS, MaxConcurrency: 3, RateLimit: 2.5, RateBurst: 5}
	if len(got) != 1 || got[0] != want {
		t.Fatalf("FromSections = %+v, want [%+v]", got, want)
	}
}
