package listener

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestListener_HandlesInput(t *testing.T) {
	in := make(chan int, 3)
	var sum atomic.Int64
	done := make(chan struct{})

	l := New(in, func(v int) error {
		if sum.Add(int64(v)) == 6 {
			close(done)
		}
		return nil
	})
	l.Start(context.Background())
	defer l.Stop()

	in <- 1
	in <- 2
	in <- 3

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Expected sum 6, got %d", sum.Load())
	}
}

func TestListener_ErrorsDoNotStop(t *testing.T) {
	in := make(chan int)
	var failures atomic.Int64
	handled := make(chan int, 2)

	l := New(in, func(v int) error {
		handled <- v
		if v == 1 {
			return errors.New("boom")
		}
		return nil
	}, WithErrorHandler[int](func(error) { failures.Add(1) }))
	l.Start(context.Background())
	defer l.Stop()

	in <- 1
	in <- 2
	<-handled
	<-handled

	if failures.Load() != 1 {
		t.Fatalf("Expected 1 failure, got %d", failures.Load())
	}
}

func TestListener_StopRunsStopHandler(t *testing.T) {
	in := make(chan int)
	stopped := false

	l := New(in, func(int) error { return nil }, WithStopHandler[int](func() { stopped = true }))
	l.Start(context.Background())
	l.Stop()

	if !stopped {
		t.Fatal("Expected stop handler to run")
	}
}
