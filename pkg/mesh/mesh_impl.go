package mesh

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type meshImpl struct {
	rpc      RPC
	breakers map[string]*CircuitBreaker
	mu       sync.RWMutex
}

// New builds a ServiceMesh that dials peers through rpc.
func New(rpc RPC) ServiceMesh {
	return &meshImpl{
		rpc:      rpc,
		breakers: make(map[string]*CircuitBreaker),
	}
}

func (m *meshImpl) Register(node string) error {
	m.getCircuitBreaker(node)
	return nil
}

func (m *meshImpl) Unregister(node string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.breakers, node)
	return nil
}

func (m *meshImpl) Call(ctx context.Context, node string, action string, payload interface{}, opts CallOptions) (Response, error) {
	cb := m.getCircuitBreaker(node)
	if !cb.Allow() {
		return nil, fmt.Errorf("circuit breaker open for node %s", node)
	}

	retryPolicy := opts.RetryPolicy
	if retryPolicy == nil {
		retryPolicy = DefaultRetryPolicy()
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	var lastErr error
	for i := 0; i <= retryPolicy.MaxRetries; i++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		resp, err := m.rpc(callCtx, node, action, payload)
		cancel()
		if err == nil {
			cb.Success()
			return resp, nil
		}

		lastErr = err
		cb.Failure()

		if i < retryPolicy.MaxRetries {
			sleep := retryPolicy.InitialInterval * time.Duration(1<<uint(i))
			if sleep > retryPolicy.MaxInterval {
				sleep = retryPolicy.MaxInterval
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(sleep):
			}
		}
	}

	return nil, fmt.Errorf("call to %s/%s failed after %d retries: %w", node, action, retryPolicy.MaxRetries, lastErr)
}

func (m *meshImpl) getCircuitBreaker(node string) *CircuitBreaker {
	m.mu.RLock()
	cb, ok := m.breakers[node]
	m.mu.RUnlock()
	if ok {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.breakers[node]; ok {
		return cb
	}
	cb = NewCircuitBreaker(5, 10*time.Second)
	m.breakers[node] = cb
	return cb
}
