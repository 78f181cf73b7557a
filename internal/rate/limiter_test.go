package rate

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTokenBucketFirstCallImmediate(t *testing.T) {
	tb := NewTokenBucket(1, 1)
	defer tb.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := tb.Wait(ctx); err != nil {
		t.Fatalf("first wait: %v", err)
	}
}

func TestTokenBucketHonoursCancel(t *testing.T) {
	tb := NewTokenBucket(1, 1)
	defer tb.Stop()

	if err := tb.Wait(context.Background()); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := tb.Wait(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
}

func TestTokenBucketRefills(t *testing.T) {
	tb := NewTokenBucket(50, 1)
	defer tb.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 3; i++ {
		if err := tb.Wait(ctx); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
	}
}

func TestUnlimited(t *testing.T) {
	if err := (Unlimited{}).Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := (Unlimited{}).Wait(ctx); err == nil {
		t.Fatalf("expected error after cancel")
	}
}
