package common

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrDebounceCanceled is delivered to callers whose pending call was dropped by Cancel.
var ErrDebounceCanceled = errors.New("debounced call canceled")

type debounceResult[T any] struct {
	value T
	err   error
}

// Debouncer coalesces calls made within wait of each other into a single
// call of the most recent function, run on the trailing edge of the window.
// Every coalesced caller receives that call's result.
type Debouncer[T any] struct {
	wait time.Duration

	mu      sync.Mutex
	gen     uint64
	timer   *time.Timer
	fn      func() (T, error)
	waiters []chan debounceResult[T]
}

func NewDebouncer[T any](wait time.Duration) *Debouncer[T] {
	return &Debouncer[T]{wait: wait}
}

// Call schedules fn, replacing any pending function and restarting the
// window, then blocks until the coalesced call has run or ctx is done.
func (d *Debouncer[T]) Call(ctx context.Context, fn func() (T, error)) (T, error) {
	ch := make(chan debounceResult[T], 1)

	d.mu.Lock()
	d.fn = fn
	d.waiters = append(d.waiters, ch)
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = time.AfterFunc(d.wait, func() { d.fire(gen) })
	d.mu.Unlock()

	select {
	case res := <-ch:
		return res.value, res.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Cancel drops the pending call; its callers get ErrDebounceCanceled.
func (d *Debouncer[T]) Cancel() {
	d.mu.Lock()
	waiters := d.take()
	d.mu.Unlock()

	var zero T
	for _, w := range waiters {
		w <- debounceResult[T]{value: zero, err: ErrDebounceCanceled}
	}
}

// Flush runs the pending call now instead of waiting for the window to end.
func (d *Debouncer[T]) Flush() {
	d.mu.Lock()
	fn := d.fn
	waiters := d.take()
	d.mu.Unlock()

	d.run(fn, waiters)
}

// Pending reports whether a call is scheduled.
func (d *Debouncer[T]) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fn != nil
}

func (d *Debouncer[T]) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen {
		d.mu.Unlock()
		return
	}
	fn := d.fn
	waiters := d.take()
	d.mu.Unlock()

	d.run(fn, waiters)
}

// take clears the pending state; d.mu must be held.
func (d *Debouncer[T]) take() []chan debounceResult[T] {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	waiters := d.waiters
	d.fn = nil
	d.waiters = nil
	return waiters
}

func (d *Debouncer[T]) run(fn func() (T, error), waiters []chan debounceResult[T]) {
	if fn == nil {
		return
	}
	v, err := fn()
	for _, w := range waiters {
		w <- debounceResult[T]{value: v, err: err}
	}
}
