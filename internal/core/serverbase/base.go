// SPDX-License-Identifier: MPL-2.0

package serverbase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrNotStartable is returned by TransitionToStarting when Start was already called.
var ErrNotStartable = errors.New("server cannot be started")

// Base is embedded by servers. A server is single-use: once it reaches a
// terminal state, create a new one.
type Base struct {
	state atomic.Int32

	mu      sync.Mutex
	lastErr error

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started chan struct{}
	errCh   chan error
	errOnce sync.Once
}

// NewBase returns a Base in StateCreated.
func NewBase() *Base {
	b := &Base{
		started: make(chan struct{}),
		errCh:   make(chan error, 1),
	}
	b.state.Store(int32(StateCreated))
	return b
}

// State returns the current state.
func (b *Base) State() State { return State(b.state.Load()) }

// IsRunning reports whether the server is in StateRunning.
func (b *Base) IsRunning() bool { return b.State() == StateRunning }

// Err delivers asynchronous server failures. It is closed by CloseErrChannel.
func (b *Base) Err() <-chan error { return b.errCh }

// LastError returns the error that moved the server to StateFailed.
func (b *Base) LastError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

// Context is cancelled when the server stops or fails. It is nil before Start.
func (b *Base) Context() context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ctx
}

// StartedChannel is closed once the server reaches StateRunning.
func (b *Base) StartedChannel() <-chan struct{} { return b.started }

// TransitionToStarting moves Created to Starting and creates the lifecycle
// context. A ctx that is already done fails the server instead.
func (b *Base) TransitionToStarting(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		b.TransitionToFailed(fmt.Errorf("context cancelled before start: %w", err))
		return b.LastError()
	}
	if !b.state.CompareAndSwap(int32(StateCreated), int32(StateStarting)) {
		return fmt.Errorf("%w in state %s", ErrNotStartable, b.State())
	}
	b.mu.Lock()
	b.ctx, b.cancel = context.WithCancel(context.Background())
	b.mu.Unlock()
	return nil
}

// TransitionToRunning moves Starting to Running and releases StartedChannel waiters.
func (b *Base) TransitionToRunning() {
	if b.state.CompareAndSwap(int32(StateStarting), int32(StateRunning)) {
		close(b.started)
	}
}

// TransitionToFailed records err, cancels the lifecycle context and
// publishes err on Err without blocking.
func (b *Base) TransitionToFailed(err error) {
	b.mu.Lock()
	b.lastErr = err
	cancel := b.cancel
	b.mu.Unlock()

	b.state.Store(int32(StateFailed))
	if cancel != nil {
		cancel()
	}
	b.SendError(err)
}

// TransitionToStopping moves Starting or Running to Stopping and cancels the
// lifecycle context. It reports false when there is nothing to stop; a server
// that was never started goes straight to StateStopped.
func (b *Base) TransitionToStopping() bool {
	for {
		cur := b.State()
		switch cur {
		case StateCreated:
			if b.state.CompareAndSwap(int32(cur), int32(StateStopped)) {
				return false
			}
		case StateStarting, StateRunning:
			if b.state.CompareAndSwap(int32(cur), int32(StateStopping)) {
				b.mu.Lock()
				cancel := b.cancel
				b.mu.Unlock()
				if cancel != nil {
					cancel()
				}
				return true
			}
		default:
			return false
		}
	}
}

// TransitionToStopped marks the server stopped. Call it after WaitForShutdown.
func (b *Base) TransitionToStopped() { b.state.Store(int32(StateStopped)) }

// WaitForReady blocks until the server is running or ctx is done.
func (b *Base) WaitForReady(ctx context.Context) error {
	select {
	case <-b.started:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for server ready: %w", ctx.Err())
	}
}

// AddGoroutine registers a background goroutine. Call before the go statement.
func (b *Base) AddGoroutine() { b.wg.Add(1) }

// DoneGoroutine must be deferred by every goroutine registered with AddGoroutine.
func (b *Base) DoneGoroutine() { b.wg.Done() }

// WaitForShutdown blocks until all registered goroutines have returned.
func (b *Base) WaitForShutdown() { b.wg.Wait() }

// SendError publishes err on Err, dropping it when an error is already pending.
func (b *Base) SendError(err error) {
	select {
	case b.errCh <- err:
	default:
	}
}

// CloseErrChannel closes Err. Repeated calls are no-ops.
func (b *Base) CloseErrChannel() {
	b.errOnce.Do(func() { close(b.errCh) })
}
