package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contactbook/internal/model"
)

// MemoryConfig sizes the in-process dispatcher.
type MemoryConfig struct {
	Workers   int
	QueueSize int
	ResultTTL time.Duration
}

func (c *MemoryConfig) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 100
	}
	if c.ResultTTL <= 0 {
		c.ResultTTL = 24 * time.Hour
	}
}

type job struct {
	id    string
	kind  model.TaskKind
	query string
}

// Memory is an in-process Dispatcher backed by a bounded queue and a fixed
// worker pool. Task state lives only as long as the process.
type Memory struct {
	cfg        MemoryConfig
	searcher   Searcher
	reconciler Reconciler

	mu    sync.RWMutex
	tasks map[string]*model.TaskStatus

	queue   chan job
	stopped chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	now     func() time.Time
}

var _ Dispatcher = (*Memory)(nil)

// NewMemory creates an in-process dispatcher. Call Start before submitting.
func NewMemory(cfg MemoryConfig, s Searcher, r Reconciler) *Memory {
	cfg.applyDefaults()
	return &Memory{
		cfg:        cfg,
		searcher:   s,
		reconciler: r,
		tasks:      make(map[string]*model.TaskStatus),
		queue:      make(chan job, cfg.QueueSize),
		stopped:    make(chan struct{}),
		now:        time.Now,
	}
}

// Start launches the workers and the result sweeper. Tasks run under a
// context derived from ctx.
func (m *Memory) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	for i := range m.cfg.Workers {
		m.wg.Add(1)
		go m.worker(ctx, i)
	}
	m.wg.Add(1)
	go m.sweeper(ctx)
	zap.L().Info("task dispatcher started",
		zap.Int("workers", m.cfg.Workers),
		zap.Int("queue_size", m.cfg.QueueSize),
	)
}

// Stop stops accepting work and waits up to timeout for in-flight tasks.
// Queued tasks that never started stay pending. Tasks still running when
// the timeout expires have their context canceled, and Stop then waits for
// them to return. A reconcile run ignores cancellation, so a running one is
// waited out past the timeout.
func (m *Memory) Stop(timeout time.Duration) error {
	m.once.Do(func() { close(m.stopped) })

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if m.cancel != nil {
			m.cancel()
		}
		return nil
	case <-time.After(timeout):
		if m.cancel != nil {
			m.cancel()
		}
		<-done
		return eris.Errorf("tasks: stop timed out after %s", timeout)
	}
}

// SubmitSearch queues a search for text.
func (m *Memory) SubmitSearch(_ context.Context, text string) (string, error) {
	return m.submit(job{kind: model.TaskKindSearch, query: text})
}

// SubmitReconcile queues a reconciliation run.
func (m *Memory) SubmitReconcile(_ context.Context) (string, error) {
	return m.submit(job{kind: model.TaskKindReconcile})
}

func (m *Memory) submit(j job) (string, error) {
	select {
	case <-m.stopped:
		return "", ErrStopped
	default:
	}

	j.id = uuid.NewString()
	m.mu.Lock()
	m.tasks[j.id] = &model.TaskStatus{
		ID:          j.id,
		Kind:        j.kind,
		Query:       j.query,
		State:       model.TaskPending,
		SubmittedAt: m.now().UTC(),
	}
	m.mu.Unlock()

	select {
	case m.queue <- j:
		return j.id, nil
	default:
		m.mu.Lock()
		delete(m.tasks, j.id)
		m.mu.Unlock()
		return "", ErrQueueFull
	}
}

// Poll returns a snapshot of the task.
func (m *Memory) Poll(_ context.Context, taskID string) (*model.TaskStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	snap := *t
	return &snap, nil
}

func (m *Memory) worker(ctx context.Context, n int) {
	defer m.wg.Done()
	log := zap.L().With(zap.String("component", "tasks"), zap.Int("worker", n))
	for {
		select {
		case <-m.stopped:
			return
		case <-ctx.Done():
			return
		case j := <-m.queue:
			m.execute(ctx, log, j)
		}
	}
}

func (m *Memory) execute(ctx context.Context, log *zap.Logger, j job) {
	if !m.transition(j.id, func(t *model.TaskStatus) bool {
		if t.State != model.TaskPending {
			return false
		}
		t.State = model.TaskRunning
		return true
	}) {
		return
	}

	log = log.With(zap.String("task_id", j.id), zap.String("kind", string(j.kind)))
	log.Debug("task started")

	contacts, report, err := m.run(ctx, j)
	finished := m.now().UTC()

	m.transition(j.id, func(t *model.TaskStatus) bool {
		t.FinishedAt = &finished
		if err != nil {
			t.State = model.TaskFailed
			t.Error = err.Error()
			return true
		}
		t.State = model.TaskSucceeded
		t.Report = report
		if j.kind == model.TaskKindSearch {
			if contacts == nil {
				contacts = []model.Contact{}
			}
			t.Contacts = contacts
		}
		return true
	})

	if err != nil {
		log.Warn("task failed", zap.Error(err))
		return
	}
	log.Debug("task succeeded")
}

// run executes the task body, converting a panic into an error.
func (m *Memory) run(ctx context.Context, j job) (contacts []model.Contact, report *model.ReconcileReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			contacts, report = nil, nil
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()

	switch j.kind {
	case model.TaskKindSearch:
		contacts, err = m.searcher.Search(ctx, j.query)
	case model.TaskKindReconcile:
		report, err = m.reconciler.Run(ctx)
	default:
		err = eris.Errorf("tasks: unknown kind %q", j.kind)
	}
	return contacts, report, err
}

// transition applies fn to the task under the write lock.
func (m *Memory) transition(id string, fn func(*model.TaskStatus) bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return false
	}
	return fn(t)
}

func (m *Memory) sweeper(ctx context.Context) {
	defer m.wg.Done()
	interval := m.cfg.ResultTTL / 2
	if interval > time.Hour {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopped:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.sweep(); n > 0 {
				zap.L().Debug("swept expired tasks", zap.Int("count", n))
			}
		}
	}
}

// sweep drops terminal tasks older than the result TTL.
func (m *Memory) sweep() int {
	cutoff := m.now().Add(-m.cfg.ResultTTL)
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, t := range m.tasks {
		if t.State.Terminal() && t.FinishedAt != nil && t.FinishedAt.Before(cutoff) {
			delete(m.tasks, id)
			n++
		}
	}
	return n
}
