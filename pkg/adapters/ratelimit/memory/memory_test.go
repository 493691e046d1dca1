package memory

import (
	"context"
	"testing"
	"time"
)

func TestAllowWithinWindow(t *testing.T) {
	l := NewLimiter(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "caller")
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("request %d denied inside the window", i)
		}
	}

	ok, err := l.Allow(ctx, "caller")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if ok {
		t.Fatal("request over quota was admitted")
	}
}

func TestWindowSlides(t *testing.T) {
	l := NewLimiter(2, 50*time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if ok, _ := l.Allow(ctx, "caller"); !ok {
			t.Fatalf("request %d denied inside the window", i)
		}
	}
	if ok, _ := l.Allow(ctx, "caller"); ok {
		t.Fatal("request over quota was admitted")
	}

	time.Sleep(60 * time.Millisecond)

	if ok, _ := l.Allow(ctx, "caller"); !ok {
		t.Fatal("request denied after the window slid past old entries")
	}
}

func TestRejectionsAreNotRecorded(t *testing.T) {
	l := NewLimiter(1, 80*time.Millisecond)
	ctx := context.Background()

	if ok, _ := l.Allow(ctx, "caller"); !ok {
		t.Fatal("first request denied")
	}

	// Repeated probing while throttled must not extend the penalty.
	deadline := time.Now().Add(60 * time.Millisecond)
	for time.Now().Before(deadline) {
		if ok, _ := l.Allow(ctx, "caller"); ok {
			t.Fatal("request admitted while window full")
		}
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(40 * time.Millisecond)
	if ok, _ := l.Allow(ctx, "caller"); !ok {
		t.Fatal("probing while throttled extended the window")
	}
}

func TestCallersAreIndependent(t *testing.T) {
	l := NewLimiter(1, time.Minute)
	ctx := context.Background()

	if ok, _ := l.Allow(ctx, "a"); !ok {
		t.Fatal("caller a denied")
	}
	if ok, _ := l.Allow(ctx, "a"); ok {
		t.Fatal("caller a admitted over quota")
	}
	if ok, _ := l.Allow(ctx, "b"); !ok {
		t.Fatal("caller b throttled by caller a's window")
	}
}
