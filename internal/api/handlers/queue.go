package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"autoprint/internal/api/middleware"
	"autoprint/internal/core"
)

type QueueHandler struct {
	jobs *core.JobService
}

type ConfirmRequest struct {
	JobID string `json:"job_id" binding:"required"`
	UPID  string `json:"upid" binding:"required"`
}

func NewQueueHandler(jobs *core.JobService) *QueueHandler {
	return &QueueHandler{jobs: jobs}
}

// GetStatus is the public queue board: who is printing, who is waiting.
func (h *QueueHandler) GetStatus(c *gin.Context) {
	snap, err := h.jobs.Queue().Snapshot(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// GetMyPosition tells the calling student where their job sits.
func (h *QueueHandler) GetMyPosition(c *gin.Context) {
	claims := middleware.ClaimsFrom(c)
	if claims == nil || claims.StudentID == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "Student session required"})
		return
	}

	entry, err := h.jobs.Queue().PositionFor(c.Request.Context(), claims.StudentID)
	if err != nil {
		respondError(c, err)
		return
	}
	if entry == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "No active job in queue"})
		return
	}
	c.JSON(http.StatusOK, entry)
}

// Confirm is the student at the kiosk typing their UPID.
func (h *QueueHandler) Confirm(c *gin.Context) {
	claims := middleware.ClaimsFrom(c)
	if claims == nil || claims.StudentID == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "Student session required"})
		return
	}

	var req ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}

	job, err := h.jobs.Confirm(c.Request.Context(), req.JobID, claims.StudentID, req.UPID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, jobToResponse(job))
}

// CallNext manually advances the queue. The monitor does this on its
// own when auto-call is enabled.
func (h *QueueHandler) CallNext(c *gin.Context) {
	job, err := h.jobs.CallNext(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if job == nil {
		c.JSON(http.StatusOK, gin.H{"called": false, "message": "No queued job at the front"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"called": true, "job": jobToResponse(job)})
}

func (h *QueueHandler) SkipJob(c *gin.Context) {
	job, err := h.jobs.Skip(c.Request.Context(), c.Param("id"), staffActor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, jobToResponse(job))
}

func (h *QueueHandler) Compact(c *gin.Context) {
	moved, err := h.jobs.Queue().Compact(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"moved": moved})
}

func RegisterQueueRoutes(public, student, staff *gin.RouterGroup, h *QueueHandler) {
	public.GET("/queue", h.GetStatus)

	student.GET("/queue/position", h.GetMyPosition)
	student.POST("/queue/confirm", h.Confirm)

	staff.POST("/queue/call-next", h.CallNext)
	staff.POST("/jobs/:id/skip", h.SkipJob)
	staff.POST("/queue/compact", h.Compact)
}
