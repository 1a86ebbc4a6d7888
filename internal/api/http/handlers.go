package http

import (
	"errors"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/quantfold/marketpipe/internal/api/ws"
	"github.com/quantfold/marketpipe/internal/dataset"
	"github.com/quantfold/marketpipe/internal/infrastructure/logging"
	"github.com/quantfold/marketpipe/internal/persist"
	"github.com/quantfold/marketpipe/internal/resilience"
)

// Handlers serves the ops surface: breaker status and resets, storage status,
// dataset landing, on-demand corruption checks, and the state-change stream.
type Handlers struct {
	manager   *resilience.Manager
	store     *dataset.Store
	records   *persist.Records
	sweep     *persist.Sweep
	recovery  *persist.Recovery
	hub       *ws.Hub
	log       *logging.Logger
	startTime time.Time
}

// NewHandlers creates the handler set.
func NewHandlers(
	manager *resilience.Manager,
	store *dataset.Store,
	records *persist.Records,
	sweep *persist.Sweep,
	recovery *persist.Recovery,
	hub *ws.Hub,
	log *logging.Logger,
) *Handlers {
	return &Handlers{
		manager:   manager,
		store:     store,
		records:   records,
		sweep:     sweep,
		recovery:  recovery,
		hub:       hub,
		log:       log,
		startTime: time.Now(),
	}
}

// Register attaches all routes to the router.
func (h *Handlers) Register(router *gin.Engine) {
	router.GET("/", h.Root)
	router.GET("/health", h.Health)

	router.GET("/resilience/status", h.ResilienceStatus)
	router.GET("/resilience/status/:name", h.ResourceStatus)
	router.POST("/resilience/reset", h.ResetAll)
	router.POST("/resilience/reset/:name", h.Reset)

	router.GET("/storage/status", h.StorageStatus)
	router.POST("/storage/check", h.StorageCheck)
	router.POST("/storage/sweep", h.StorageSweep)

	router.POST("/datasets/*name", h.LandDataset)

	router.GET("/ws", h.hub.HandleConnection)
}

// Root returns service identification.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "marketpipe",
		"status":  "running",
	})
}

// Health reports liveness plus a coarse readiness signal: degraded when any
// breaker is open.
func (h *Handlers) Health(c *gin.Context) {
	status := "healthy"
	openResources := []string{}
	for _, s := range h.manager.AllStatus() {
		if s.State == resilience.StateOpen {
			openResources = append(openResources, s.Name)
		}
	}
	if len(openResources) > 0 {
		status = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":         status,
		"uptime_seconds": time.Since(h.startTime).Seconds(),
		"open_circuits":  openResources,
		"subscribers":    h.hub.Subscribers(),
	})
}

// ResilienceStatus returns the snapshot of every registered breaker.
func (h *Handlers) ResilienceStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"resources": h.manager.AllStatus(),
	})
}

// ResourceStatus returns one breaker's snapshot, 404 when the resource was
// never used.
func (h *Handlers) ResourceStatus(c *gin.Context) {
	name := c.Param("name")
	status, ok := h.manager.Status(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown resource: " + name})
		return
	}
	c.JSON(http.StatusOK, status)
}

// ResetAll forces every breaker closed.
func (h *Handlers) ResetAll(c *gin.Context) {
	h.manager.ResetAll()
	h.log.Info("all breakers reset via ops endpoint")
	c.JSON(http.StatusOK, gin.H{"reset": "all"})
}

// Reset forces one breaker closed.
func (h *Handlers) Reset(c *gin.Context) {
	name := c.Param("name")
	if !h.manager.Reset(name) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown resource: " + name})
		return
	}
	h.log.Info("breaker reset via ops endpoint", zap.String("resource", name))
	c.JSON(http.StatusOK, gin.H{"reset": name})
}

// StorageStatus returns the integrity record snapshot and the last sweep
// report.
func (h *Handlers) StorageStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"records":    h.records.Snapshot(),
		"last_sweep": h.sweep.Last(),
	})
}

type checkRequest struct {
	Path string `json:"path" binding:"required"`
}

// StorageCheck runs an on-demand corruption check on one file, restoring from
// backup if needed.
func (h *Handlers) StorageCheck(c *gin.Context) {
	var req checkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path is required"})
		return
	}

	recovered, err := h.recovery.CheckAndRecover(req.Path)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{
			"path":      req.Path,
			"recovered": recovered,
			"error":     err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"path":      req.Path,
		"recovered": recovered,
	})
}

// StorageSweep triggers a full integrity pass and returns its report.
func (h *Handlers) StorageSweep(c *gin.Context) {
	report := h.sweep.Once()
	c.JSON(http.StatusOK, report)
}

// LandDataset lands the request body as a dataset under the store root with
// the full write guarantees (lock, backup, verify, atomic rename). Pipeline
// stages hand over pre-serialized artifacts here instead of writing files
// themselves.
func (h *Handlers) LandDataset(c *gin.Context) {
	name := strings.TrimPrefix(c.Param("name"), "/")
	if name == "" || path.Clean("/"+name) != "/"+name {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid dataset name"})
		return
	}

	payload, err := io.ReadAll(c.Request.Body)
	if err != nil || len(payload) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty payload"})
		return
	}

	res := h.store.Land(name, payload)
	if !res.Success {
		status := http.StatusInternalServerError
		var lockErr *persist.LockTimeoutError
		var integrityErr *persist.IntegrityError
		switch {
		case errors.As(res.Err, &lockErr):
			status = http.StatusConflict
		case errors.As(res.Err, &integrityErr):
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, res)
		return
	}

	h.log.Info("dataset landed",
		zap.String("name", name),
		zap.Int("bytes", res.BytesWritten),
	)
	c.JSON(http.StatusOK, res)
}
