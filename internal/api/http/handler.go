// Package http serves the read-only monitoring API: mirrored client
// states and the journaled event history.
package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/oshokin/alarm-central/internal/domain/alarm"
	"github.com/oshokin/alarm-central/internal/journal"
	"github.com/oshokin/alarm-central/internal/logger"
)

const (
	errFromInvalid  = "invalid 'from' time; use RFC3339 or YYYY-MM-DD"
	errToInvalid    = "invalid 'to' time; use RFC3339 or YYYY-MM-DD"
	errLimitInvalid = "invalid 'limit'; use a positive integer"

	layoutDate = "2006-01-02"

	// defaultEventLimit caps history responses when the caller gives no limit.
	defaultEventLimit = 200
)

// StatusProvider exposes mirrored client state.
type StatusProvider interface {
	ClientStatuses() []alarm.ClientStatus
	ClientStatus(clientID string) (alarm.ClientStatus, bool)
}

// Handler wires the HTTP layer to the mirror and the journal.
type Handler struct {
	statuses StatusProvider
	events   journal.Repository
}

// NewHandler constructs the handler with its dependencies.
func NewHandler(statuses StatusProvider, events journal.Repository) *Handler {
	return &Handler{statuses: statuses, events: events}
}

// InitRoutes builds the Gin router with all routes registered.
func (h *Handler) InitRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", h.health)

	api := router.Group("/api/v1")
	{
		api.GET("/clients", h.listClients)
		api.GET("/clients/:id", h.getClient)
		api.GET("/events", h.listEvents)
	}

	return router
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) listClients(c *gin.Context) {
	statuses := h.statuses.ClientStatuses()

	c.JSON(http.StatusOK, gin.H{"count": len(statuses), "clients": statuses})
}

func (h *Handler) getClient(c *gin.Context) {
	status, ok := h.statuses.ClientStatus(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown client"})

		return
	}

	c.JSON(http.StatusOK, status)
}

func (h *Handler) listEvents(c *gin.Context) {
	ctx := c.Request.Context()

	filter := journal.Filter{
		ClientID: strings.TrimSpace(c.Query("client_id")),
		Type:     strings.ToUpper(strings.TrimSpace(c.Query("type"))),
		Limit:    defaultEventLimit,
	}

	if qs := c.Query("from"); qs != "" {
		from, err := parseQueryTime(qs, false)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errFromInvalid})

			return
		}

		filter.From = from
	}

	if qs := c.Query("to"); qs != "" {
		to, err := parseQueryTime(qs, true)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errToInvalid})

			return
		}

		filter.To = to
	}

	if qs := c.Query("limit"); qs != "" {
		limit, ok := parseLimit(qs)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": errLimitInvalid})

			return
		}

		filter.Limit = limit
	}

	entries, err := h.events.List(ctx, filter)
	if err != nil {
		logger.Errorf(ctx, "Failed to list events: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list events"})

		return
	}

	c.JSON(http.StatusOK, gin.H{"count": len(entries), "events": entries})
}

// parseQueryTime accepts RFC3339 or a bare date. A bare date used as the
// end of a range is treated as end-of-day inclusive.
func parseQueryTime(qs string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, qs); err == nil {
		return t, nil
	}

	t, err := time.Parse(layoutDate, qs)
	if err != nil {
		return time.Time{}, err
	}

	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}

	return t, nil
}

func parseLimit(qs string) (int, bool) {
	limit, err := strconv.Atoi(qs)
	if err != nil || limit <= 0 {
		return 0, false
	}

	return limit, true
}
