package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lysyi3m/trustfetch/app/feed"
	"github.com/lysyi3m/trustfetch/app/identity"
	"github.com/lysyi3m/trustfetch/app/item"
	"github.com/lysyi3m/trustfetch/app/sources"
	"github.com/lysyi3m/trustfetch/app/tasks"
)

const (
	DefaultItemsLimit = 50
	MaxItemsLimit     = 500
	FeedItemsLimit    = 100
)

func NewHandler(catalog *sources.Catalog, items ItemReader, verifier TrustVerifier,
	scheduler tasks.TaskSchedulerInterface, channel feed.Channel) *Handler {
	return &Handler{
		catalog:   catalog,
		items:     items,
		verifier:  verifier,
		scheduler: scheduler,
		generator: feed.NewGenerator(),
		channel:   channel,
	}
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"timestamp":        time.Now().In(time.Local).Format(time.RFC3339),
		"sources":          h.catalog.Len(),
		"trust_cache_size": h.verifier.CacheSize(),
	}

	if itemCount, err := h.items.GetItemCount(c.Request.Context()); err == nil {
		health["items"] = itemCount
	} else {
		slog.Error("Database error", "operation", "get_item_count", "error", err)
	}

	c.JSON(http.StatusOK, health)
}

func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.items.GetLatestRun(c.Request.Context())
	if err != nil {
		slog.Error("Database error", "operation", "get_latest_run", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	if stats == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No ingestion run recorded yet"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

func (h *Handler) GetItems(c *gin.Context) {
	limit := DefaultItemsLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, MaxItemsLimit)
	}

	items, err := h.items.GetItems(c.Request.Context(), limit)
	if err != nil {
		slog.Error("Database error", "operation", "get_items", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if items == nil {
		items = []item.NormalizedItem{}
	}

	c.JSON(http.StatusOK, itemsResponse{Items: items, Total: len(items)})
}

func (h *Handler) GetFeed(c *gin.Context) {
	items, err := h.items.GetItems(c.Request.Context(), FeedItemsLimit)
	if err != nil {
		slog.Error("Database error", "operation", "get_items", "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	rss, err := h.generator.Run(h.channel, items)
	if err != nil {
		slog.Error("RSS generation error", "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	c.Header("Content-Type", "application/xml; charset=utf-8")
	c.Header("X-Feed-Items", strconv.Itoa(len(items)))
	if len(items) > 0 {
		c.Header("X-Last-Updated", items[0].PublishedAt.Format(time.RFC3339))
	}

	c.String(http.StatusOK, rss)
}

func (h *Handler) VerifyAgent(c *gin.Context) {
	handle := c.Query("handle")
	if handle == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing handle parameter"})
		return
	}

	v, err := h.verifier.Verify(c.Request.Context(), handle)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidHandle) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		slog.Warn("Agent verification interrupted", "handle", handle, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Verification interrupted"})
		return
	}

	c.JSON(http.StatusOK, verifyResponse{
		Handle:   v.Handle.String(),
		Valid:    v.Valid,
		Manifest: v.Manifest,
		Error:    v.Error,
		CachedAt: v.CachedAt,
		Tier:     v.Tier,
		State:    v.State,
		Cached:   v.Cached,
	})
}

func (h *Handler) APITriggerIngest(c *gin.Context) {
	taskID, err := h.scheduler.EnqueueIngest()
	if err != nil {
		if errors.Is(err, tasks.ErrIngestPending) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		slog.Error("Error enqueueing ingest task", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to enqueue ingest task",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"message": "Ingestion enqueued",
		"task": gin.H{
			"id":   taskID,
			"type": tasks.TaskTypeIngest,
		},
	})
}

func (h *Handler) APIClearTrustCache(c *gin.Context) {
	cleared := h.verifier.CacheSize()
	h.verifier.ClearCache()

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"cleared": cleared,
	})
}
