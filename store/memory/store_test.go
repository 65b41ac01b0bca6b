package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/xraph/courier"
	"github.com/xraph/courier/store"
	"github.com/xraph/courier/store/memory"
	"github.com/xraph/courier/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(_ *testing.T) store.Store { return memory.New() })
}

func TestLifecycle(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Ping(ctx); !errors.Is(err, courier.ErrStoreClosed) {
		t.Errorf("Ping after Close = %v, want ErrStoreClosed", err)
	}
}

func TestReturnsCopies(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	jobs := storetest.Chain("txn", "alice", "sms")
	if err := s.InsertJobs(ctx, jobs); err != nil {
		t.Fatalf("InsertJobs: %v", err)
	}

	// Mutating the inserted value and a read result must not reach the store.
	jobs[0].SubscriberID = "mallory"
	got, err := s.GetJob(ctx, jobs[0].ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	got.Payload[0] = 'x'

	again, err := s.GetJob(ctx, jobs[0].ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if again.SubscriberID != "alice" || again.Payload[0] != '{' {
		t.Errorf("store shares memory with callers: %+v", again)
	}
}
