package memory

import (
	"context"
	"testing"
	"time"

	"github.com/icarrero/agentpool/pkg/domain"
)

func TestResultRoundTrip(t *testing.T) {
	s := NewResultStore()
	ctx := context.Background()

	saved := &domain.JobResult{
		JobID:       "job-1",
		CallerID:    "caller",
		Status:      domain.JobStatusCompleted,
		Output:      "hello",
		Attempts:    1,
		Duration:    50 * time.Millisecond,
		CompletedAt: time.Now(),
	}
	if err := s.SaveResult(ctx, saved); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.GetResult(ctx, "job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Output != "hello" || got.Status != domain.JobStatusCompleted {
		t.Fatalf("got %+v", got)
	}

	// Mutating the returned copy must not affect the stored result.
	got.Output = "mutated"
	again, err := s.GetResult(ctx, "job-1")
	if err != nil {
		t.Fatalf("get again: %v", err)
	}
	if again.Output != "hello" {
		t.Fatal("stored result was mutated through the returned copy")
	}

	if _, err := s.GetResult(ctx, "missing"); err == nil {
		t.Fatal("missing result did not error")
	}
}

func TestSessionRoundTrip(t *testing.T) {
	s := NewResultStore()
	ctx := context.Background()

	history := []domain.Message{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
	}
	if err := s.SaveSession(ctx, "inst-1", history); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.LoadSession(ctx, "inst-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 || got[1].Content != "hello" {
		t.Fatalf("got %+v", got)
	}

	if err := s.DeleteSession(ctx, "inst-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.LoadSession(ctx, "inst-1"); err == nil {
		t.Fatal("deleted session still loads")
	}
}
