package handlers

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"autoprint/internal/db"
)

type WebhookHandler struct{}

type CreateWebhookRequest struct {
	Name   string   `json:"name" binding:"required"`
	URL    string   `json:"url" binding:"required,url"`
	Secret string   `json:"secret"`
	Events []string `json:"events" binding:"required"`
}

type UpdateWebhookRequest struct {
	Name    string   `json:"name"`
	URL     string   `json:"url" binding:"omitempty,url"`
	Secret  string   `json:"secret"`
	Events  []string `json:"events"`
	Enabled *bool    `json:"enabled"`
}

type WebhookResponse struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Events    []string  `json:"events"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

func NewWebhookHandler() *WebhookHandler {
	return &WebhookHandler{}
}

// Webhooks only carry staff and broadcast events; per-student events
// stay on the live streams.
var validWebhookEvents = map[string]bool{
	"job_created":      true,
	"payment_verified": true,
	"payment_rejected": true,
	"job_confirmed":    true,
	"job_fetched":      true,
	"job_completed":    true,
	"job_failed":       true,
	"job_cancelled":    true,
	"job_skipped":      true,
	"job_expired":      true,
	"queue_update":     true,
	"queue_status":     true,
}

func (h *WebhookHandler) ListWebhooks(c *gin.Context) {
	webhooks, err := db.Webhooks.ListWebhooks(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	responses := make([]WebhookResponse, 0, len(webhooks))
	for _, w := range webhooks {
		responses = append(responses, webhookToResponse(w))
	}
	c.JSON(http.StatusOK, responses)
}

func (h *WebhookHandler) CreateWebhook(c *gin.Context) {
	var req CreateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}

	if len(req.Events) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: "At least one event must be specified"})
		return
	}
	for _, event := range req.Events {
		if !validWebhookEvents[event] {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_event", Message: fmt.Sprintf("Invalid event type: %s", event)})
			return
		}
	}

	eventsJSON, err := json.Marshal(req.Events)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "json_error", Message: "Failed to serialize events"})
		return
	}

	w := &db.Webhook{
		Name:       req.Name,
		URL:        req.URL,
		Secret:     req.Secret,
		EventsJSON: string(eventsJSON),
		Enabled:    true,
	}
	if err := db.Webhooks.CreateWebhook(c.Request.Context(), w); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, webhookToResponse(w))
}

func (h *WebhookHandler) GetWebhook(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_id", Message: "Invalid webhook ID"})
		return
	}

	w, err := db.Webhooks.GetWebhookByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, webhookToResponse(w))
}

func (h *WebhookHandler) UpdateWebhook(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_id", Message: "Invalid webhook ID"})
		return
	}

	w, err := db.Webhooks.GetWebhookByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	var req UpdateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}

	if req.Name != "" {
		w.Name = req.Name
	}
	if req.URL != "" {
		w.URL = req.URL
	}
	if req.Secret != "" {
		w.Secret = req.Secret
	}
	if len(req.Events) > 0 {
		for _, event := range req.Events {
			if !validWebhookEvents[event] {
				c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_event", Message: fmt.Sprintf("Invalid event type: %s", event)})
				return
			}
		}
		eventsJSON, err := json.Marshal(req.Events)
		if err != nil {
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "json_error", Message: "Failed to serialize events"})
			return
		}
		w.EventsJSON = string(eventsJSON)
	}
	if req.Enabled != nil {
		w.Enabled = *req.Enabled
	}

	if err := db.Webhooks.UpdateWebhook(c.Request.Context(), w); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, webhookToResponse(w))
}

func (h *WebhookHandler) DeleteWebhook(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_id", Message: "Invalid webhook ID"})
		return
	}

	if _, err := db.Webhooks.GetWebhookByID(c.Request.Context(), id); err != nil {
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "Webhook not found"})
			return
		}
		respondError(c, err)
		return
	}

	if err := db.Webhooks.DeleteWebhook(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func webhookToResponse(w *db.Webhook) WebhookResponse {
	var events []string
	if w.EventsJSON != "" {
		json.Unmarshal([]byte(w.EventsJSON), &events)
	}
	if events == nil {
		events = []string{}
	}

	return WebhookResponse{
		ID:        w.ID,
		Name:      w.Name,
		URL:       w.URL,
		Events:    events,
		Enabled:   w.Enabled,
		CreatedAt: w.CreatedAt,
	}
}

func RegisterWebhookRoutes(staff *gin.RouterGroup, h *WebhookHandler) {
	staff.GET("/webhooks", h.ListWebhooks)
	staff.POST("/webhooks", h.CreateWebhook)
	staff.GET("/webhooks/:id", h.GetWebhook)
	staff.PUT("/webhooks/:id", h.UpdateWebhook)
	staff.DELETE("/webhooks/:id", h.DeleteWebhook)
}
