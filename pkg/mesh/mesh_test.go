package mesh

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestMeshCallSucceeds(t *testing.T) {
	rpc := func(ctx context.Context, node, action string, payload interface{}) (Response, error) {
		return map[string]interface{}{"node": node, "action": action, "echo": payload}, nil
	}
	m := New(rpc)

	resp, err := m.Call(context.Background(), "n1", "start_writer", "p", CallOptions{})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	got := resp.(map[string]interface{})
	if got["node"] != "n1" || got["action"] != "start_writer" {
		t.Fatalf("unexpected response: %+v", got)
	}
}

func TestMeshRetriesThenSucceeds(t *testing.T) {
	var attempts int32
	rpc := func(ctx context.Context, node, action string, payload interface{}) (Response, error) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return nil, errors.New("transient")
		}
		return "ok", nil
	}
	m := New(rpc)

	resp, err := m.Call(context.Background(), "n1", "stop", nil, CallOptions{
		RetryPolicy: &RetryPolicy{MaxRetries: 5, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond},
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if resp != "ok" {
		t.Fatalf("unexpected response %v", resp)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestMeshCircuitBreakerOpensAfterFailures(t *testing.T) {
	rpc := func(ctx context.Context, node, action string, payload interface{}) (Response, error) {
		return nil, errors.New("boom")
	}
	m := New(rpc)
	opts := CallOptions{RetryPolicy: &RetryPolicy{MaxRetries: 0}}

	for i := 0; i < 5; i++ {
		_, _ = m.Call(context.Background(), "n1", "stop", nil, opts)
	}

	_, err := m.Call(context.Background(), "n1", "stop", nil, opts)
	if err == nil {
		t.Fatal("expected circuit breaker to be open")
	}
}
