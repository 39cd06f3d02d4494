// Package tasks runs the polling fleet: a ticker selects due sources,
// a bounded queue feeds a worker pool, and failed tasks are retried
// with exponential backoff.
package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/feedshed/feedshed/app/cfg"
	"github.com/feedshed/feedshed/app/database"
	"github.com/feedshed/feedshed/app/feed"
)

// staleCutoff is the age past which a source counts as unhealthy: no
// successful fetch, or no new post, for this long.
const staleCutoff = 30 * 24 * time.Hour

var _ TaskSchedulerInterface = (*Scheduler)(nil)

type Scheduler struct {
	sourceRepo       database.SourceRepository
	postRepo         database.PostRepository
	proxyRepo        database.ProxyRepository
	fetcher          *feed.Fetcher
	contentExtractor *feed.ContentExtractor
	httpClient       *http.Client
	userAgent        string
	interval         time.Duration
	batchSize        int
	onlyStalled      bool
	ctx              context.Context
	cancel           context.CancelFunc
	wg               sync.WaitGroup
	workerCount      int
	taskQueue        chan TaskInterface
}

func NewScheduler(sourceRepo database.SourceRepository, postRepo database.PostRepository,
	proxyRepo database.ProxyRepository, fetcher *feed.Fetcher,
	contentExtractor *feed.ContentExtractor, httpClient *http.Client) TaskSchedulerInterface {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := cfg.Get()

	return &Scheduler{
		sourceRepo:       sourceRepo,
		postRepo:         postRepo,
		proxyRepo:        proxyRepo,
		fetcher:          fetcher,
		contentExtractor: contentExtractor,
		httpClient:       httpClient,
		userAgent:        cfg.UserAgent,
		interval:         time.Duration(cfg.SchedulerInterval) * time.Second,
		batchSize:        cfg.BatchSize,
		onlyStalled:      cfg.OnlyStalled,
		workerCount:      cfg.WorkerCount,
		ctx:              ctx,
		cancel:           cancel,
		taskQueue:        make(chan TaskInterface, 300),
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

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.enqueueTasks()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.enqueueTasks()
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	close(s.taskQueue)
}

func (s *Scheduler) EnqueueTask(task TaskInterface) error {
	select {
	case s.taskQueue <- task:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
		return fmt.Errorf("task queue is full")
	}
}

func (s *Scheduler) EnqueueForcePoll(slug string) error {
	src, err := s.sourceRepo.GetSourceBySlug(slug)
	if err != nil {
		return fmt.Errorf("failed to look up source: %w", err)
	}
	if src == nil {
		return fmt.Errorf("unknown source: %s", slug)
	}
	return s.EnqueueTask(NewPollSourceTask(src.Slug, src.ID, true, s.fetcher, s.sourceRepo))
}

func (s *Scheduler) QueueDepth() int {
	return len(s.taskQueue)
}

// enqueueTasks runs once per tick: select due sources, apply the health
// policy, queue poll (and extraction) tasks, then purge sentinel proxy
// rows left behind by failed discovery runs.
func (s *Scheduler) enqueueTasks() {
	now := time.Now().UTC()

	due, err := s.sourceRepo.GetDueSources(now, s.batchSize, s.onlyStalled)
	if err != nil {
		slog.Error("Failed to select due sources", "error", err)
		return
	}
	if len(due) == 0 {
		slog.Debug("No sources due for polling")
		s.purgeSentinels()
		return
	}

	slog.Debug("Scheduling due sources", "count", len(due))

	for i := range due {
		src := &due[i]

		if s.applyHealthPolicy(src, now) {
			continue
		}

		task := NewPollSourceTask(src.Slug, src.ID, false, s.fetcher, s.sourceRepo)
		if err := s.EnqueueTask(task); err != nil {
			slog.Warn("Failed to enqueue PollSourceTask", "source", src.Slug, "error", err)
			continue
		}

		if src.ExtractContent {
			extractTask := NewExtractContentTask(src.Slug, src.ID, s.httpClient, s.contentExtractor, s.postRepo, s.userAgent)
			if err := s.EnqueueTask(extractTask); err != nil {
				slog.Warn("Failed to enqueue ExtractContentTask", "source", src.Slug, "error", err)
			}
		}
	}

	s.purgeSentinels()
}

// applyHealthPolicy degrades sources that have produced nothing for
// staleCutoff: first give up on the proxy strategy, then stop polling.
// Returns true when the source was disabled and must not be queued.
func (s *Scheduler) applyHealthPolicy(src *database.Source, now time.Time) bool {
	cutoff := now.Add(-staleCutoff)

	stale := (src.LastSuccess != nil && src.LastSuccess.Before(cutoff)) ||
		(src.LastCreated != nil && src.LastCreated.Before(cutoff))
	if !stale {
		return false
	}

	if src.IsCloudflare {
		src.IsCloudflare = false
		slog.Info("Source stale, dropping proxy strategy", "source", src.Slug)
		if err := s.sourceRepo.UpdateSource(src); err != nil {
			slog.Warn("Failed to save demoted source", "source", src.Slug, "error", err)
		}
		return false
	}

	src.UpdateEnabled = false
	slog.Info("Source stale, disabling updates", "source", src.Slug)
	if err := s.sourceRepo.UpdateSource(src); err != nil {
		slog.Warn("Failed to save disabled source", "source", src.Slug, "error", err)
	}
	return true
}

func (s *Scheduler) purgeSentinels() {
	n, err := s.proxyRepo.DeleteSentinelProxies()
	if err != nil {
		slog.Warn("Failed to purge sentinel proxies", "error", err)
		return
	}
	if n > 0 {
		slog.Debug("Purged sentinel proxies", "count", n)
	}
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case task, ok := <-s.taskQueue:
			if !ok {
				return
			}
			s.executeTask(id, task)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) executeTask(workerID int, task TaskInterface) {
	task.Start()

	taskCtx, cancel := context.WithTimeout(s.ctx, 5*time.Minute)
	defer cancel()

	err := task.Execute(taskCtx)

	if err != nil {
		slog.Error("Worker task execution failed", "worker_id", workerID, "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", err)

		if task.CanRetry() {
			task.IncrementRetryCount()
			retryDelay := time.Duration(1<<uint(task.GetRetryCount()-1)) * time.Second
			if retryDelay > 30*time.Second {
				retryDelay = 30 * time.Second
			}

			slog.Warn("Task retry scheduled", "type", string(task.GetType()), "source", task.GetSourceSlug(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "delay", retryDelay.String())

			go func() {
				time.Sleep(retryDelay)
				select {
				case <-s.ctx.Done():
					slog.Debug("Scheduler stopped, skipping task retry", "type", string(task.GetType()), "id", task.GetID())
					return
				default:
					if retryErr := s.EnqueueTask(task); retryErr != nil {
						slog.Error("Failed to re-enqueue task for retry", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", retryErr)
					}
				}
			}()
		} else {
			slog.Error("Task failed after maximum retries", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "last_error", err)
		}
	}
}
