package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lysyi3m/trustfetch/app/sources"
)

var _ TaskSchedulerInterface = (*Scheduler)(nil)

var ErrIngestPending = errors.New("an ingestion is already queued or running")

type Scheduler struct {
	catalog     *sources.Catalog
	runner      Runner
	store       ItemStore
	interval    time.Duration
	workerCount int
	taskTimeout time.Duration
	retryBase   time.Duration
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	taskQueue   chan TaskInterface
	pending     atomic.Bool
}

func NewScheduler(catalog *sources.Catalog, runner Runner, store ItemStore, interval time.Duration, workerCount int) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		catalog:     catalog,
		runner:      runner,
		store:       store,
		interval:    interval,
		workerCount: max(workerCount, 1),
		taskTimeout: 5 * time.Minute,
		retryBase:   time.Second,
		ctx:         ctx,
		cancel:      cancel,
		taskQueue:   make(chan TaskInterface, 300),
	}
}

func (s *Scheduler) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.enqueueScheduledIngest()

		if s.interval <= 0 {
			return
		}

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.enqueueScheduledIngest()
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) EnqueueTask(task TaskInterface) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
	}

	select {
	case s.taskQueue <- task:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
		return fmt.Errorf("task queue is full")
	}
}

// EnqueueIngest queues an ingestion unless one is already queued or running.
func (s *Scheduler) EnqueueIngest() (string, error) {
	if !s.pending.CompareAndSwap(false, true) {
		return "", ErrIngestPending
	}

	task := NewIngestTask(s.catalog, s.runner, s.store)
	task.done = func() { s.pending.Store(false) }

	if err := s.EnqueueTask(task); err != nil {
		s.pending.Store(false)
		return "", err
	}

	slog.Debug("Task enqueued", "type", string(task.Type), "id", task.ID)
	return task.ID, nil
}

func (s *Scheduler) enqueueScheduledIngest() {
	if _, err := s.EnqueueIngest(); err != nil {
		if errors.Is(err, ErrIngestPending) {
			slog.Debug("Ingestion still pending, skipping tick")
			return
		}
		slog.Warn("Failed to enqueue IngestTask", "error", err)
	}
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case task := <-s.taskQueue:
			s.executeTask(id, task)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) executeTask(workerID int, task TaskInterface) {
	task.Start()

	taskCtx, cancel := context.WithTimeout(s.ctx, s.taskTimeout)
	defer cancel()

	err := task.Execute(taskCtx)
	if err == nil {
		finish(task)
		return
	}

	slog.Error("Worker task execution failed", "worker_id", workerID, "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", err)

	if !task.CanRetry() {
		slog.Error("Task failed after maximum retries", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "last_error", err)
		finish(task)
		return
	}

	task.IncrementRetryCount()
	retryDelay := task.RetryDelay(s.retryBase)

	slog.Warn("Task retry scheduled", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "delay", retryDelay.String())

	go func() {
		select {
		case <-time.After(retryDelay):
		case <-s.ctx.Done():
			slog.Debug("Scheduler stopped, skipping task retry", "type", string(task.GetType()), "id", task.GetID())
			finish(task)
			return
		}
		if retryErr := s.EnqueueTask(task); retryErr != nil {
			slog.Error("Failed to re-enqueue task for retry", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", retryErr)
			finish(task)
		}
	}()
}

func finish(task TaskInterface) {
	if f, ok := task.(interface{ finish() }); ok {
		f.finish()
	}
}
