package rate

import (
	"context"
	"testing"
	"time"
)

func TestBucketFirstCallImmediate(t *testing.T) {
	b := NewBucket(1)
	defer b.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := b.Wait(ctx); err != nil {
		t.Fatalf("first wait should not block: %v", err)
	}
}

func TestBucketWaitCanceled(t *testing.T) {
	b := NewBucket(1)
	defer b.Stop()

	ctx := context.Background()
	if err := b.Wait(ctx); err != nil {
		t.Fatalf("first wait failed: %v", err)
	}

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.Wait(canceled); err == nil {
		t.Fatal("expected error after context cancel")
	}
}

func TestUnlimitedNeverBlocks(t *testing.T) {
	var l Limiter = Unlimited{}
	for i := 0; i < 100; i++ {
		if err := l.Wait(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
}
