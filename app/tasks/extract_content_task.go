package tasks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/feedshed/feedshed/app/database"
	"github.com/feedshed/feedshed/app/feed"
)

// extractionBatchSize caps how many posts get their body replaced per
// task run; the rest are picked up on following ticks.
const extractionBatchSize = 20

const extractionTimeout = 30 * time.Second

type ExtractContentTask struct {
	Task
	sourceID         string
	httpClient       *http.Client
	contentExtractor *feed.ContentExtractor
	postRepo         database.PostRepository
	userAgent        string
}

func NewExtractContentTask(sourceSlug, sourceID string, httpClient *http.Client, contentExtractor *feed.ContentExtractor, postRepo database.PostRepository, userAgent string) *ExtractContentTask {
	return &ExtractContentTask{
		Task:             NewTask(TaskTypeExtractContent, sourceSlug),
		sourceID:         sourceID,
		httpClient:       httpClient,
		contentExtractor: contentExtractor,
		postRepo:         postRepo,
		userAgent:        userAgent,
	}
}

func (t *ExtractContentTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	posts, err := t.postRepo.GetPostsForExtraction(t.sourceID, extractionBatchSize)
	if err != nil {
		return fmt.Errorf("failed to get posts for content extraction: %w", err)
	}

	if len(posts) == 0 {
		slog.Debug("No posts need content extraction", "source", t.SourceSlug)
		return nil
	}

	successCount := 0
	errorCount := 0

	for _, post := range posts {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		extractCtx, cancel := context.WithTimeout(ctx, extractionTimeout)
		err := t.extractContentForPost(extractCtx, post)
		cancel()

		if err != nil {
			slog.Error("Failed to extract content for post", "post_id", post.ID, "url", post.Link, "error", err)
			errorCount++

			// Mark the attempt so the post is not retried every tick.
			now := time.Now().UTC()
			if err := t.postRepo.SetPostBodyExtracted(post.ID, post.Body, now); err != nil {
				slog.Error("Failed to record extraction attempt", "post_id", post.ID, "error", err)
			}
		} else {
			successCount++
		}
	}

	slog.Info("Task completed",
		"type", t.GetType(),
		"source", t.SourceSlug,
		"duration", t.GetDuration(),
		"success", successCount,
		"errors", errorCount)

	return nil
}

func (t *ExtractContentTask) extractContentForPost(ctx context.Context, post database.Post) error {
	if post.Link == "" {
		return fmt.Errorf("post has no link")
	}

	data, err := t.fetchArticleContent(ctx, post.Link)
	if err != nil {
		return fmt.Errorf("failed to fetch article content: %w", err)
	}

	extractedContent, err := t.contentExtractor.Run(data)
	if err != nil {
		return fmt.Errorf("failed to extract content: %w", err)
	}

	now := time.Now().UTC()
	if err := t.postRepo.SetPostBodyExtracted(post.ID, extractedContent, now); err != nil {
		return fmt.Errorf("failed to store extracted content: %w", err)
	}

	slog.Debug("Content extracted successfully", "post_id", post.ID, "url", post.Link, "content_length", len(extractedContent))
	return nil
}

func (t *ExtractContentTask) fetchArticleContent(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", t.userAgent)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(strings.ToLower(contentType), "text/html") {
		return nil, fmt.Errorf("content type is not HTML: %s", contentType)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return data, nil
}
