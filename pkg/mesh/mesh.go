// Package mesh provides a retrying, circuit-breaking RPC facade used by the
// coordinator whenever it must reach another cluster node: aux actions that
// perform work on a remote node, and the periodic cluster-resize reconciler.
package mesh

import (
	"context"
	"time"
)

// Response is whatever a remote call returns, opaque to the mesh.
type Response interface{}

// RPC is the low-level transport the mesh dials through. Implementations
// typically wrap a Raft runtime's inter-node RPC channel or a message-bus
// request/reply call; the mesh itself only adds retries and breaking.
type RPC func(ctx context.Context, node string, action string, payload interface{}) (Response, error)

// ServiceMesh performs calls to named cluster peers with retries and
// per-peer circuit breaking so a partitioned node cannot stall the caller
// indefinitely.
type ServiceMesh interface {
	// Register ensures bookkeeping (circuit breaker state) exists for a peer.
	Register(node string) error

	// Unregister drops bookkeeping for a peer that has left the cluster.
	Unregister(node string) error

	// Call performs a call against node, retrying per opts.RetryPolicy and
	// refusing to dial a peer whose breaker is open.
	Call(ctx context.Context, node string, action string, payload interface{}, opts CallOptions) (Response, error)
}

// CallOptions configures a single Call.
type CallOptions struct {
	Timeout        time.Duration
	RetryPolicy    *RetryPolicy
	CircuitBreaker *CircuitBreakerConfig
}

// RetryPolicy defines how to retry failed calls.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// CircuitBreakerConfig defines circuit breaker settings.
type CircuitBreakerConfig struct {
	FailureThreshold int
	ResetTimeout     time.Duration
}

// DefaultRetryPolicy returns a default retry policy.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     1 * time.Second,
		Multiplier:      2.0,
	}
}
