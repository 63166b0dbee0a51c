package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"autoprint/internal/api/middleware"
	"autoprint/internal/notify"
)

// EventHandler serves the live event streams over SSE. Students see
// their own job events plus broadcasts; staff see everything.
type EventHandler struct {
	hub *notify.Hub
}

func NewEventHandler(hub *notify.Hub) *EventHandler {
	return &EventHandler{hub: hub}
}

func (h *EventHandler) StudentStream(c *gin.Context) {
	claims := middleware.ClaimsFrom(c)
	if claims == nil || claims.StudentID == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "Student session required"})
		return
	}

	sub := h.hub.SubscribeStudent(claims.StudentID)
	defer h.hub.Unsubscribe(sub)

	h.stream(c, sub)
}

func (h *EventHandler) StaffStream(c *gin.Context) {
	sub := h.hub.SubscribeStaff()
	defer h.hub.Unsubscribe(sub)

	h.stream(c, sub)
}

func (h *EventHandler) stream(c *gin.Context, sub *notify.Subscriber) {
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case msg, ok := <-sub.Events():
			if !ok {
				return false
			}
			c.SSEvent(msg.Event, msg)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func RegisterEventRoutes(student, staff *gin.RouterGroup, h *EventHandler) {
	student.GET("/events", h.StudentStream)
	staff.GET("/events", h.StaffStream)
}
