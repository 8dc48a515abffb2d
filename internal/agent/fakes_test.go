package agent

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// scriptedProvider answers with fn and counts calls.
type scriptedProvider struct {
	name      string
	callCount atomic.Int32
	fn        func(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	p.callCount.Add(1)
	return p.fn(ctx, req)
}

func okProvider(name, text string) *scriptedProvider {
	return &scriptedProvider{name: name, fn: func(context.Context, *CompletionRequest) (*CompletionResponse, error) {
		return &CompletionResponse{Text: text}, nil
	}}
}

func failProvider(name string, err error) *scriptedProvider {
	return &scriptedProvider{name: name, fn: func(context.Context, *CompletionRequest) (*CompletionResponse, error) {
		return nil, err
	}}
}

// hangingProvider blocks until its context is done.
func hangingProvider(name string) *scriptedProvider {
	return &scriptedProvider{name: name, fn: func(ctx context.Context, _ *CompletionRequest) (*CompletionResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
}

// classifiedErr mimics a provider error that knows its failover class.
type classifiedErr struct {
	reason    string
	retryable bool
}

func (e *classifiedErr) Error() string          { return "provider error: " + e.reason }
func (e *classifiedErr) Retryable() bool        { return e.retryable }
func (e *classifiedErr) FailoverReason() string { return e.reason }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
