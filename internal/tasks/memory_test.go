package tasks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/contactbook/internal/model"
)

type searchFunc func(ctx context.Context, text string) ([]model.Contact, error)

func (f searchFunc) Search(ctx context.Context, text string) ([]model.Contact, error) {
	return f(ctx, text)
}

type reconcileFunc func(ctx context.Context) (*model.ReconcileReport, error)

func (f reconcileFunc) Run(ctx context.Context) (*model.ReconcileReport, error) { return f(ctx) }

func waitTerminal(t *testing.T, d Dispatcher, id string) *model.TaskStatus {
	t.Helper()
	var st *model.TaskStatus
	require.Eventually(t, func() bool {
		got, err := d.Poll(context.Background(), id)
		if err != nil {
			return false
		}
		st = got
		return st.State.Terminal()
	}, 5*time.Second, 5*time.Millisecond)
	return st
}

func TestMemory_SearchSucceeds(t *testing.T) {
	want := []model.Contact{{ID: 1, FirstName: "Ada"}}
	m := NewMemory(MemoryConfig{Workers: 2}, searchFunc(func(_ context.Context, text string) ([]model.Contact, error) {
		assert.Equal(t, "ada", text)
		return want, nil
	}), nil)
	m.Start(context.Background())
	defer m.Stop(time.Second) //nolint:errcheck

	id, err := m.SubmitSearch(context.Background(), "ada")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	st := waitTerminal(t, m, id)
	assert.Equal(t, model.TaskSucceeded, st.State)
	assert.Equal(t, model.TaskKindSearch, st.Kind)
	assert.Equal(t, "ada", st.Query)
	assert.Equal(t, want, st.Contacts)
	assert.NotNil(t, st.FinishedAt)
}

func TestMemory_EmptyResultIsNotNil(t *testing.T) {
	m := NewMemory(MemoryConfig{}, searchFunc(func(context.Context, string) ([]model.Contact, error) {
		return nil, nil
	}), nil)
	m.Start(context.Background())
	defer m.Stop(time.Second) //nolint:errcheck

	id, err := m.SubmitSearch(context.Background(), "nobody")
	require.NoError(t, err)
	st := waitTerminal(t, m, id)
	assert.Equal(t, model.TaskSucceeded, st.State)
	assert.NotNil(t, st.Contacts)
	assert.Empty(t, st.Contacts)
}

func TestMemory_FailureRecordsError(t *testing.T) {
	m := NewMemory(MemoryConfig{}, searchFunc(func(context.Context, string) ([]model.Contact, error) {
		return nil, errors.New("index offline")
	}), nil)
	m.Start(context.Background())
	defer m.Stop(time.Second) //nolint:errcheck

	id, err := m.SubmitSearch(context.Background(), "ada")
	require.NoError(t, err)
	st := waitTerminal(t, m, id)
	assert.Equal(t, model.TaskFailed, st.State)
	assert.Equal(t, "index offline", st.Error)
	assert.Nil(t, st.Contacts)
}

func TestMemory_PanicBecomesFailure(t *testing.T) {
	m := NewMemory(MemoryConfig{Workers: 1}, searchFunc(func(context.Context, string) ([]model.Contact, error) {
		panic("kaboom")
	}), nil)
	m.Start(context.Background())
	defer m.Stop(time.Second) //nolint:errcheck

	id, err := m.SubmitSearch(context.Background(), "ada")
	require.NoError(t, err)
	st := waitTerminal(t, m, id)
	assert.Equal(t, model.TaskFailed, st.State)
	assert.Contains(t, st.Error, "kaboom")

	// The worker survives the panic.
	id2, err := m.SubmitSearch(context.Background(), "again")
	require.NoError(t, err)
	assert.Equal(t, model.TaskFailed, waitTerminal(t, m, id2).State)
}

func TestMemory_Reconcile(t *testing.T) {
	m := NewMemory(MemoryConfig{}, nil, reconcileFunc(func(context.Context) (*model.ReconcileReport, error) {
		return &model.ReconcileReport{Total: 3, Enriched: 2}, nil
	}))
	m.Start(context.Background())
	defer m.Stop(time.Second) //nolint:errcheck

	id, err := m.SubmitReconcile(context.Background())
	require.NoError(t, err)
	st := waitTerminal(t, m, id)
	assert.Equal(t, model.TaskSucceeded, st.State)
	assert.Equal(t, model.TaskKindReconcile, st.Kind)
	require.NotNil(t, st.Report)
	assert.Equal(t, 2, st.Report.Enriched)
	assert.Nil(t, st.Contacts)
}

func TestMemory_PendingThenRunning(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	m := NewMemory(MemoryConfig{Workers: 1}, searchFunc(func(context.Context, string) ([]model.Contact, error) {
		close(started)
		<-release
		return []model.Contact{}, nil
	}), nil)

	// Before Start nothing consumes the queue.
	id, err := m.SubmitSearch(context.Background(), "ada")
	require.NoError(t, err)
	st, err := m.Poll(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.TaskPending, st.State)

	m.Start(context.Background())
	defer m.Stop(time.Second) //nolint:errcheck
	<-started

	st, err = m.Poll(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.TaskRunning, st.State)

	close(release)
	assert.Equal(t, model.TaskSucceeded, waitTerminal(t, m, id).State)
}

func TestMemory_QueueFull(t *testing.T) {
	m := NewMemory(MemoryConfig{Workers: 1, QueueSize: 1}, searchFunc(func(context.Context, string) ([]model.Contact, error) {
		return nil, nil
	}), nil)

	_, err := m.SubmitSearch(context.Background(), "one")
	require.NoError(t, err)
	id, err := m.SubmitSearch(context.Background(), "two")
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Empty(t, id)

	m.mu.RLock()
	assert.Len(t, m.tasks, 1)
	m.mu.RUnlock()
}

func TestMemory_PollUnknown(t *testing.T) {
	m := NewMemory(MemoryConfig{}, nil, nil)
	_, err := m.Poll(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestMemory_PollReturnsSnapshot(t *testing.T) {
	m := NewMemory(MemoryConfig{}, nil, nil)
	id, err := m.SubmitSearch(context.Background(), "ada")
	require.NoError(t, err)

	st, err := m.Poll(context.Background(), id)
	require.NoError(t, err)
	st.State = model.TaskFailed

	again, err := m.Poll(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.TaskPending, again.State)
}

func TestMemory_SweepExpired(t *testing.T) {
	m := NewMemory(MemoryConfig{ResultTTL: time.Hour}, nil, nil)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	old := now.Add(-2 * time.Hour)
	recent := now.Add(-time.Minute)
	m.tasks["old"] = &model.TaskStatus{ID: "old", State: model.TaskSucceeded, FinishedAt: &old}
	m.tasks["recent"] = &model.TaskStatus{ID: "recent", State: model.TaskFailed, FinishedAt: &recent}
	m.tasks["pending"] = &model.TaskStatus{ID: "pending", State: model.TaskPending, SubmittedAt: old}

	assert.Equal(t, 1, m.sweep())

	_, err := m.Poll(context.Background(), "old")
	assert.ErrorIs(t, err, ErrTaskNotFound)
	_, err = m.Poll(context.Background(), "recent")
	assert.NoError(t, err)
	_, err = m.Poll(context.Background(), "pending")
	assert.NoError(t, err)
}

func TestMemory_StopRejectsSubmits(t *testing.T) {
	m := NewMemory(MemoryConfig{}, nil, nil)
	m.Start(context.Background())
	require.NoError(t, m.Stop(time.Second))

	_, err := m.SubmitSearch(context.Background(), "ada")
	assert.ErrorIs(t, err, ErrStopped)
	// Idempotent.
	assert.NoError(t, m.Stop(time.Second))
}

func TestMemory_StopTimeoutCancelsTasks(t *testing.T) {
	started := make(chan struct{})
	m := NewMemory(MemoryConfig{Workers: 1}, searchFunc(func(ctx context.Context, _ string) ([]model.Contact, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}), nil)
	m.Start(context.Background())

	id, err := m.SubmitSearch(context.Background(), "slow")
	require.NoError(t, err)
	<-started

	err = m.Stop(20 * time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")

	st, err := m.Poll(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.TaskFailed, st.State)
}

func TestMemory_StopWaitsOutReconcile(t *testing.T) {
	started := make(chan struct{})
	finish := make(chan struct{})
	m := NewMemory(MemoryConfig{Workers: 1}, nil, reconcileFunc(func(ctx context.Context) (*model.ReconcileReport, error) {
		close(started)
		<-finish // cancellation is not observed
		return &model.ReconcileReport{Total: 1}, nil
	}))
	m.Start(context.Background())

	id, err := m.SubmitReconcile(context.Background())
	require.NoError(t, err)
	<-started

	stopped := make(chan error, 1)
	go func() { stopped <- m.Stop(20 * time.Millisecond) }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while the reconcile was still running")
	case <-time.After(100 * time.Millisecond):
	}

	close(finish)
	select {
	case err := <-stopped:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timed out")
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after the reconcile finished")
	}

	st, err := m.Poll(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.TaskSucceeded, st.State)
	require.NotNil(t, st.Report)
	assert.Equal(t, 1, st.Report.Total)
}

func TestMemory_ConcurrentSubmitAndPoll(t *testing.T) {
	m := NewMemory(MemoryConfig{Workers: 4, QueueSize: 200}, searchFunc(func(_ context.Context, text string) ([]model.Contact, error) {
		return []model.Contact{{FirstName: text}}, nil
	}), nil)
	m.Start(context.Background())
	defer m.Stop(time.Second) //nolint:errcheck

	var wg sync.WaitGroup
	ids := make([]string, 50)
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := m.SubmitSearch(context.Background(), "q")
			assert.NoError(t, err)
			ids[i] = id
		}()
	}
	wg.Wait()

	for _, id := range ids {
		st := waitTerminal(t, m, id)
		assert.Equal(t, model.TaskSucceeded, st.State)
	}
}
