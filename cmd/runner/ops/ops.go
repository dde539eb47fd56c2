package ops

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lemline/lemline/cmd/runner/definitions"
	"github.com/lemline/lemline/cmd/runner/message"
	"github.com/lemline/lemline/common/broker"
	"github.com/lemline/lemline/common/logger"
	"github.com/lemline/lemline/common/models"
	"github.com/lemline/lemline/common/repository"
)

// HealthChecker reports reachability of a backing component
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Handler exposes the operational HTTP surface: health probes,
// definition uploads, and instance starts.
type Handler struct {
	store  repository.DefinitionStore
	cache  *definitions.Cache
	broker broker.Broker
	checks map[string]HealthChecker
	log    *logger.Logger
}

func NewHandler(
	store repository.DefinitionStore,
	cache *definitions.Cache,
	b broker.Broker,
	checks map[string]HealthChecker,
	log *logger.Logger,
) *Handler {
	return &Handler{store: store, cache: cache, broker: b, checks: checks, log: log}
}

// Register mounts the routes on the router
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/healthz", h.Healthz)
	e.GET("/readyz", h.Readyz)
	e.POST("/v1/definitions", h.CreateDefinition)
	e.POST("/v1/instances", h.StartInstance)
}

func (h *Handler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Readyz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	for name, check := range h.checks {
		if err := check.Health(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status":    "unavailable",
				"component": name,
				"error":     err.Error(),
			})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
}

// CreateDefinition validates, compiles and stores a workflow document.
// The request body is the raw YAML or JSON source.
func (h *Handler) CreateDefinition(c echo.Context) error {
	source, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unreadable body"})
	}

	entry, err := definitions.Compile(source)
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	}

	doc := entry.Workflow.Document
	def := &models.Definition{
		ID:        uuid.New(),
		Name:      doc.Name,
		Version:   doc.Version,
		Source:    string(source),
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.Insert(c.Request().Context(), def); err != nil {
		h.log.Error("definition insert failed", "workflow", doc.Name, "version", doc.Version, "error", err)
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	}

	h.log.Info("definition stored", "workflow", doc.Name, "version", doc.Version)
	return c.JSON(http.StatusCreated, map[string]string{
		"name":    doc.Name,
		"version": doc.Version,
	})
}

type startRequest struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Input   any    `json:"input"`
}

// StartInstance publishes the first envelope of a new workflow instance
func (h *Handler) StartInstance(c echo.Context) error {
	var req startRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Name == "" || req.Version == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "name and version are required"})
	}

	if _, err := h.cache.Get(c.Request().Context(), req.Name, req.Version); err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	}

	env := message.New(req.Name, req.Version)
	root := message.NewNodeState()
	root.RawInput = req.Input
	env.States[""] = root

	body, err := env.Encode()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if err := h.broker.Publish(c.Request().Context(), body); err != nil {
		h.log.Error("instance publish failed", "workflow", req.Name, "version", req.Version, "error", err)
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusAccepted, map[string]string{
		"name":    req.Name,
		"version": req.Version,
		"status":  string(models.StatusPending),
	})
}
