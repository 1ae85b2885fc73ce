// Package listener runs a handler over a channel on a background goroutine.
package listener

import (
	"context"
	"log/slog"
	"sync"
)

// Job is a background worker with an explicit lifecycle.
type Job interface {
	Start(ctx context.Context)
	Stop()
}

// Listener feeds every value received on in to handler until stopped.
// Handler errors go to the error callback and do not stop the listener.
type Listener[T any] struct {
	handler     func(input T) error
	stopHandler func()
	onError     func(error)

	in     <-chan T
	wg     sync.WaitGroup
	cancel func()
}

// Option configures a Listener.
type Option[T any] func(*Listener[T])

// WithStopHandler runs fn after the goroutine has exited.
func WithStopHandler[T any](fn func()) Option[T] {
	return func(l *Listener[T]) { l.stopHandler = fn }
}

// WithErrorHandler replaces the default error logging.
func WithErrorHandler[T any](fn func(error)) Option[T] {
	return func(l *Listener[T]) { l.onError = fn }
}

func New[T any](in <-chan T, handler func(T) error, opts ...Option[T]) *Listener[T] {
	l := &Listener[T]{
		in:          in,
		handler:     handler,
		cancel:      func() {},
		stopHandler: func() {},
		onError: func(err error) {
			slog.Error("listener handler failed", "error", err)
		},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Listener[T]) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	l.wg.Add(1)

	go func() {
		defer l.wg.Done()
		for l.run(ctx) {
		}
	}()
}

func (l *Listener[T]) run(ctx context.Context) bool {
	select {
	case inp, ok := <-l.in:
		if !ok {
			return false
		}
		if err := l.handler(inp); err != nil {
			l.onError(err)
		}
	case <-ctx.Done():
		return false
	}
	return true
}

// Stop cancels the goroutine, waits for it and runs the stop handler.
func (l *Listener[T]) Stop() {
	l.cancel()
	l.wg.Wait()
	l.stopHandler()
}
