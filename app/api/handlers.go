package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feedshed/feedshed/app/database"
	"github.com/feedshed/feedshed/app/tasks"
)

type Handler struct {
	sourceRepo database.SourceRepository
	postRepo   database.PostRepository
	proxyRepo  database.ProxyRepository
	scheduler  tasks.TaskSchedulerInterface
	version    string
}

func NewHandler(sourceRepo database.SourceRepository, postRepo database.PostRepository,
	proxyRepo database.ProxyRepository, scheduler tasks.TaskSchedulerInterface, version string) *Handler {
	return &Handler{
		sourceRepo: sourceRepo,
		postRepo:   postRepo,
		proxyRepo:  proxyRepo,
		scheduler:  scheduler,
		version:    version,
	}
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
	}

	if sourceCount, err := h.sourceRepo.GetSourceCount(); err == nil {
		health["sources"] = sourceCount
	}

	c.JSON(http.StatusOK, health)
}

func (h *Handler) GetStats(c *gin.Context) {
	stats := map[string]interface{}{
		"queue_depth": h.scheduler.QueueDepth(),
	}

	if count, err := h.sourceRepo.GetSourceCount(); err == nil {
		stats["sources"] = count
	}
	if count, err := h.sourceRepo.GetLiveSourceCount(); err == nil {
		stats["live_sources"] = count
	}
	if count, err := h.postRepo.GetTotalPostCount(); err == nil {
		stats["posts"] = count
	}
	if count, err := h.proxyRepo.CountProxies(); err == nil {
		stats["proxies"] = count
	}

	c.JSON(http.StatusOK, stats)
}

func (h *Handler) APIListSources(c *gin.Context) {
	sources, err := h.sourceRepo.GetAllSources()
	if err != nil {
		slog.Error("Database error", "operation", "list_sources", "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	out := make([]map[string]interface{}, 0, len(sources))
	for i := range sources {
		out = append(out, sourceSummary(&sources[i]))
	}

	c.JSON(http.StatusOK, gin.H{"sources": out, "count": len(out)})
}

func (h *Handler) APIGetSource(c *gin.Context) {
	slug := c.Param("slug")

	src, err := h.sourceRepo.GetSourceBySlug(slug)
	if err != nil {
		slog.Error("Database error", "operation", "get_source", "source", slug, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	if src == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "source not found"})
		return
	}

	info := sourceSummary(src)
	info["etag"] = src.ETag
	info["last_modified"] = src.LastModified
	info["last_302_url"] = src.Last302URL
	info["max_index"] = src.MaxIndex
	info["num_subs"] = src.NumSubs
	info["extract_content"] = src.ExtractContent

	if count, err := h.postRepo.GetPostCount(src.ID); err == nil {
		info["post_count"] = count
	}

	c.JSON(http.StatusOK, info)
}

func (h *Handler) APIForcePoll(c *gin.Context) {
	slug := c.Param("slug")

	src, err := h.sourceRepo.GetSourceBySlug(slug)
	if err != nil {
		slog.Error("Database error", "operation", "force_poll", "source", slug, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	if src == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "source not found"})
		return
	}

	if err := h.scheduler.EnqueueForcePoll(slug); err != nil {
		slog.Error("Failed to enqueue forced poll", "source", slug, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "could not enqueue poll"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message": "poll enqueued",
		"source":  slug,
	})
}

func sourceSummary(src *database.Source) map[string]interface{} {
	info := map[string]interface{}{
		"slug":          src.Slug,
		"name":          src.Name,
		"feed_url":      src.FeedURL,
		"site_url":      src.SiteURL,
		"live":          src.Live,
		"update":        src.UpdateEnabled,
		"is_cloudflare": src.IsCloudflare,
		"interval":      src.Interval,
		"due_poll":      src.DuePoll,
		"last_result":   src.LastResult,
		"last_outcome":  src.LastOutcome,
		"status_code":   src.StatusCode,
	}
	if src.LastPolled != nil {
		info["last_polled"] = src.LastPolled
	}
	if src.LastSuccess != nil {
		info["last_success"] = src.LastSuccess
	}
	if src.LastChange != nil {
		info["last_change"] = src.LastChange
	}
	if src.LastCreated != nil {
		info["last_created"] = src.LastCreated
	}
	return info
}
