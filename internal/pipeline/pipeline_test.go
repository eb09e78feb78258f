package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunevault/tunevault/internal/library"
	"github.com/tunevault/tunevault/internal/session/state"
)

func makeTasks(n int) []*state.TaskState {
	sess := state.NewSession(state.Folder{Path: "/inbox/x", Hash: "cafe"})
	tasks := make([]*state.TaskState, n)
	for i := range tasks {
		tasks[i] = sess.UpsertTask(&library.ImportTask{})
	}
	return tasks
}

func TestStageOrderAssembly(t *testing.T) {
	noop := StageFunc(func(ctx context.Context, task *state.TaskState) ([]*state.TaskState, error) {
		return []*state.TaskState{task}, nil
	})

	o := NewStageOrder().
		Append("lookup", noop).
		Append("apply", noop).
		Prepend("read", noop).
		InsertBefore("apply", "choose", noop).
		InsertAfter("read", "group", noop)

	assert.Equal(t, []string{"read", "group", "lookup", "choose", "apply"}, o.Names())
	assert.Len(t, o.Stages(), 5)
}

func TestStageOrderPanics(t *testing.T) {
	noop := StageFunc(func(ctx context.Context, task *state.TaskState) ([]*state.TaskState, error) {
		return nil, nil
	})
	o := NewStageOrder().Append("a", noop)

	assert.Panics(t, func() { o.Append("a", noop) }, "duplicate name")
	assert.Panics(t, func() { o.InsertBefore("missing", "b", noop) }, "unknown anchor")
}

func TestRunPreservesProducerOrder(t *testing.T) {
	tasks := makeTasks(20)

	var mu sync.Mutex
	var stageSeen, sinkSeen []*state.TaskState

	record := func(dst *[]*state.TaskState) StageFunc {
		return func(ctx context.Context, task *state.TaskState) ([]*state.TaskState, error) {
			mu.Lock()
			*dst = append(*dst, task)
			mu.Unlock()
			return []*state.TaskState{task}, nil
		}
	}

	order := NewStageOrder().
		Append("first", record(&stageSeen)).
		Append("second", StageFunc(func(ctx context.Context, task *state.TaskState) ([]*state.TaskState, error) {
			return []*state.TaskState{task}, nil
		}))

	err := Run(context.Background(), FromTasks(tasks), order, func(ctx context.Context, task *state.TaskState) error {
		mu.Lock()
		sinkSeen = append(sinkSeen, task)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, tasks, stageSeen)
	assert.Equal(t, tasks, sinkSeen)
}

func TestRunDropsNilOutputs(t *testing.T) {
	tasks := makeTasks(4)
	filter := StageFunc(func(ctx context.Context, task *state.TaskState) ([]*state.TaskState, error) {
		if task == tasks[1] {
			return nil, nil
		}
		return []*state.TaskState{task, nil}, nil
	})

	var seen []*state.TaskState
	err := Run(context.Background(), FromTasks(tasks), NewStageOrder().Append("filter", filter),
		func(ctx context.Context, task *state.TaskState) error {
			seen = append(seen, task)
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, []*state.TaskState{tasks[0], tasks[2], tasks[3]}, seen)
}

func TestRunSplitsTasks(t *testing.T) {
	tasks := makeTasks(1)
	extra := makeTasks(2)
	split := StageFunc(func(ctx context.Context, task *state.TaskState) ([]*state.TaskState, error) {
		return []*state.TaskState{task, extra[0], extra[1]}, nil
	})

	var seen []*state.TaskState
	err := Run(context.Background(), FromTasks(tasks), NewStageOrder().Append("split", split),
		func(ctx context.Context, task *state.TaskState) error {
			seen = append(seen, task)
			return nil
		})
	require.NoError(t, err)
	assert.Len(t, seen, 3)
}

func TestRunStageErrorCancelsPipeline(t *testing.T) {
	tasks := makeTasks(50)
	boom := errors.New("stage blew up")

	var processed int
	var mu sync.Mutex
	failing := StageFunc(func(ctx context.Context, task *state.TaskState) ([]*state.TaskState, error) {
		mu.Lock()
		processed++
		n := processed
		mu.Unlock()
		if n == 3 {
			return nil, boom
		}
		return []*state.TaskState{task}, nil
	})

	err := Run(context.Background(), FromTasks(tasks), NewStageOrder().Append("failing", failing),
		func(ctx context.Context, task *state.TaskState) error { return nil })
	assert.ErrorIs(t, err, boom)
}

func TestRunPrimeErrorShortCircuits(t *testing.T) {
	boom := errors.New("prime failed")
	st := &primeFailStage{err: boom}

	err := Run(context.Background(), FromTasks(makeTasks(1)), NewStageOrder().Append("p", st),
		func(ctx context.Context, task *state.TaskState) error { return nil })
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, st.sends, "Send never runs when Prime fails")
}

func TestRunHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	producer := func(ctx context.Context, out chan<- *state.TaskState) error {
		<-ctx.Done()
		return ctx.Err()
	}

	err := Run(ctx, producer, NewStageOrder().Append("noop",
		StageFunc(func(ctx context.Context, task *state.TaskState) ([]*state.TaskState, error) {
			return []*state.TaskState{task}, nil
		})),
		func(ctx context.Context, task *state.TaskState) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

type primeFailStage struct {
	err   error
	sends int
}

func (s *primeFailStage) Prime(ctx context.Context) error { return s.err }
func (s *primeFailStage) Send(ctx context.Context, task *state.TaskState) ([]*state.TaskState, error) {
	s.sends++
	return []*state.TaskState{task}, nil
}
