package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixbin/internal/queue"
)

type fakeQueue struct {
	mu    sync.Mutex
	tasks []queue.Task
	err   error
}

func (f *fakeQueue) Enqueue(_ context.Context, task queue.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.tasks = append(f.tasks, task)
	return nil
}

func (f *fakeQueue) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}

func TestSchedulerEnqueuesSweep(t *testing.T) {
	q := &fakeQueue{}
	s := NewScheduler(q, "* * * * * *", zerolog.Nop())
	require.NoError(t, s.Start())
	defer s.Stop(time.Second)

	assert.Eventually(t, func() bool { return q.count() > 0 }, 3*time.Second, 20*time.Millisecond)
	q.mu.Lock()
	assert.Equal(t, queue.TaskSweep, q.tasks[0].Type)
	q.mu.Unlock()
}

func TestSchedulerRejectsBadSchedule(t *testing.T) {
	s := NewScheduler(&fakeQueue{}, "every tuesday", zerolog.Nop())
	assert.Error(t, s.Start())
}

func TestSchedulerDisabled(t *testing.T) {
	s := NewScheduler(&fakeQueue{}, "", zerolog.Nop())
	assert.NoError(t, s.Start())
	s.Stop(time.Second)

	s = NewScheduler(nil, "* * * * * *", zerolog.Nop())
	assert.NoError(t, s.Start())
}

func TestEnqueueFailureIsLogged(t *testing.T) {
	q := &fakeQueue{err: errors.New("redis down")}
	s := NewScheduler(q, "* * * * * *", zerolog.Nop())
	s.enqueueSweep()
	assert.Zero(t, q.count())
}
