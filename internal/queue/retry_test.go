package queue

import (
	"testing"
	"time"
)

func TestRetryPolicyNextDelay(t *testing.T) {
	policy := RetryPolicy{InitialDelay: time.Second, MaxDelay: 5 * time.Second, BackoffFactor: 2}
	d1 := policy.NextDelay(1)
	d2 := policy.NextDelay(2)
	d3 := policy.NextDelay(5)

	if d1 != time.Second {
		t.Fatalf("expected 1s, got %v", d1)
	}
	if d2 != 2*time.Second {
		t.Fatalf("expected 2s, got %v", d2)
	}
	if d3 != 5*time.Second {
		t.Fatalf("expected clamp to 5s, got %v", d3)
	}
	if d := (RetryPolicy{}).NextDelay(0); d != time.Second {
		t.Fatalf("expected default 1s, got %v", d)
	}
	if d := (RetryPolicy{InitialDelay: time.Hour, BackoffFactor: 10}).NextDelay(40); d <= 0 {
		t.Fatalf("expected positive delay without max, got %v", d)
	}
}

func TestRetryPolicyExhausted(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3}
	if policy.Exhausted(2) {
		t.Fatalf("2 of 3 attempts should not be exhausted")
	}
	if !policy.Exhausted(3) {
		t.Fatalf("3 of 3 attempts should be exhausted")
	}
	if (RetryPolicy{}).Exhausted(100) {
		t.Fatalf("zero ceiling means unlimited")
	}
}
