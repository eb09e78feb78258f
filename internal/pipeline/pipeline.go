// Package pipeline runs import tasks through an ordered list of
// stages. Each stage runs on its own goroutine connected by channels,
// so a later task can enter an early stage while an earlier task is
// still in a late one, but every stage sees its inputs in producer
// order.
package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/tunevault/tunevault/internal/session/state"
)

// Stage transforms zero-or-more input tasks into zero-or-more output
// tasks. Prime runs once before any Send; Send returns the tasks to
// hand to the next stage (nil outputs are dropped).
type Stage interface {
	Prime(ctx context.Context) error
	Send(ctx context.Context, task *state.TaskState) ([]*state.TaskState, error)
}

// Producer feeds tasks into the pipeline by sending them on out. It
// must return promptly when ctx is cancelled.
type Producer func(ctx context.Context, out chan<- *state.TaskState) error

// Sink consumes the tasks that survive all stages, in producer order.
type Sink func(ctx context.Context, task *state.TaskState) error

// StageFunc adapts a function to a one-in-N-out stage with no Prime.
type StageFunc func(ctx context.Context, task *state.TaskState) ([]*state.TaskState, error)

func (f StageFunc) Prime(ctx context.Context) error { return nil }

func (f StageFunc) Send(ctx context.Context, task *state.TaskState) ([]*state.TaskState, error) {
	return f(ctx, task)
}

// Run primes every stage in order, then drives tasks from the producer
// through the stages to the sink. The first error cancels the whole
// pipeline; in-flight Sends finish before the unwind, so task progress
// is never left mid-stage.
func Run(ctx context.Context, producer Producer, order *StageOrder, sink Sink) error {
	stages := order.Stages()
	for _, s := range stages {
		if err := s.Prime(ctx); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	in := make(chan *state.TaskState)
	g.Go(func() error {
		defer close(in)
		return producer(ctx, in)
	})

	for _, s := range stages {
		s := s
		prev := in
		next := make(chan *state.TaskState)
		g.Go(func() error {
			defer close(next)
			for task := range prev {
				outs, err := s.Send(ctx, task)
				if err != nil {
					return err
				}
				for _, out := range outs {
					if out == nil {
						continue
					}
					select {
					case next <- out:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			}
			return nil
		})
		in = next
	}

	last := in
	g.Go(func() error {
		for task := range last {
			if err := sink(ctx, task); err != nil {
				return err
			}
		}
		return nil
	})

	return g.Wait()
}

// FromTasks is a producer over an in-memory task list, used when a
// variant resumes a stored session instead of reading files.
func FromTasks(tasks []*state.TaskState) Producer {
	return func(ctx context.Context, out chan<- *state.TaskState) error {
		for _, t := range tasks {
			select {
			case out <- t:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}
}
