package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/feedshed/feedshed/app/database"
	"github.com/feedshed/feedshed/app/feed"
)

// quarantinePush is how far a source is pushed into the future when
// polling it panics. Broken-beyond-the-state-machine sources must not
// hot-loop through the queue.
const quarantinePush = 1000 * 24 * time.Hour

type PollSourceTask struct {
	Task
	sourceID   string
	force      bool
	fetcher    *feed.Fetcher
	sourceRepo database.SourceRepository
}

func NewPollSourceTask(sourceSlug, sourceID string, force bool, fetcher *feed.Fetcher, sourceRepo database.SourceRepository) *PollSourceTask {
	return &PollSourceTask{
		Task:       NewTask(TaskTypePollSource, sourceSlug),
		sourceID:   sourceID,
		force:      force,
		fetcher:    fetcher,
		sourceRepo: sourceRepo,
	}
}

func (t *PollSourceTask) Execute(ctx context.Context) (err error) {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	src, err := t.sourceRepo.GetSource(t.sourceID)
	if err != nil {
		return fmt.Errorf("failed to load source: %w", err)
	}
	if src == nil {
		slog.Warn("Source disappeared before poll", "source", t.SourceSlug)
		return nil
	}

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		slog.Error("Panic while polling source, quarantining", "source", src.Slug, "panic", r)
		src.DuePoll = time.Now().UTC().Add(quarantinePush)
		if saveErr := t.sourceRepo.UpdateSource(src); saveErr != nil {
			slog.Error("Failed to quarantine source", "source", src.Slug, "error", saveErr)
		}
		err = nil // quarantined, not retried
	}()

	if err := t.fetcher.Poll(ctx, src, t.force); err != nil {
		return fmt.Errorf("failed to poll source %s: %w", src.Slug, err)
	}

	slog.Info("Task completed",
		"type", t.GetType(),
		"source", t.SourceSlug,
		"duration", t.GetDuration())

	return nil
}
