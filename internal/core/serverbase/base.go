// SPDX-License-Identifier: MPL-2.0

package serverbase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Base carries the state, context and goroutine tracking of one server.
// Servers embed it. A Base is single-use: after Stopped or Failed a new
// server must be created.
type Base struct {
	state atomic.Int32

	mu      sync.Mutex
	lastErr error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	ready  chan struct{}
	errCh  chan error
}

// NewBase returns a Base in StateCreated. errBuffer is the capacity of the
// Err channel; values below one mean one.
func NewBase(errBuffer int) *Base {
	return &Base{
		ready: make(chan struct{}),
		errCh: make(chan error, max(errBuffer, 1)),
	}
}

// State returns the current state.
func (b *Base) State() State { return State(b.state.Load()) }

// Serving reports whether the server accepts requests.
func (b *Base) Serving() bool { return b.State() == StateServing }

// Err delivers asynchronous serve errors.
func (b *Base) Err() <-chan error { return b.errCh }

// LastError returns the cause of StateFailed.
func (b *Base) LastError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

// Begin moves Created to Starting and creates the server context. A done
// ctx fails the server instead.
func (b *Base) Begin(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		b.Fail(fmt.Errorf("context done before start: %w", err))
		return b.LastError()
	}
	if !b.state.CompareAndSwap(int32(StateCreated), int32(StateStarting)) {
		return fmt.Errorf("cannot start server in state %s", b.State())
	}
	b.ctx, b.cancel = context.WithCancel(context.Background())
	return nil
}

// Serve moves Starting to Serving and releases WaitReady callers.
func (b *Base) Serve() {
	if b.state.CompareAndSwap(int32(StateStarting), int32(StateServing)) {
		close(b.ready)
	}
}

// Fail records err, moves to Failed and cancels the server context.
func (b *Base) Fail(err error) {
	b.mu.Lock()
	b.lastErr = err
	b.mu.Unlock()
	b.state.Store(int32(StateFailed))
	if b.cancel != nil {
		b.cancel()
	}
	b.SendError(err)
}

// Drain begins shutdown. It reports false when there is nothing to shut
// down: the server never started or is already stopping.
func (b *Base) Drain() bool {
	for {
		s := b.State()
		switch s {
		case StateCreated:
			if b.state.CompareAndSwap(int32(s), int32(StateStopped)) {
				return false
			}
		case StateStarting, StateServing:
			if b.state.CompareAndSwap(int32(s), int32(StateDraining)) {
				b.cancel()
				return true
			}
		default:
			return false
		}
	}
}

// Stopped marks the end of shutdown.
func (b *Base) Stopped() { b.state.Store(int32(StateStopped)) }

// WaitReady blocks until Serve or until ctx is done.
func (b *Base) WaitReady(ctx context.Context) error {
	select {
	case <-b.ready:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for server: %w", ctx.Err())
	}
}

// Context is cancelled when the server drains or fails. It is nil before Begin.
func (b *Base) Context() context.Context { return b.ctx }

// Go runs fn in a goroutine that Wait waits for.
func (b *Base) Go(fn func(ctx context.Context)) {
	b.wg.Go(func() { fn(b.ctx) })
}

// Wait blocks until every goroutine started with Go has returned.
func (b *Base) Wait() { b.wg.Wait() }

// SendError offers err on the Err channel and drops it when the buffer is full.
func (b *Base) SendError(err error) {
	select {
	case b.errCh <- err:
	default:
	}
}
