package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"autoprint/internal/core"
	"autoprint/internal/db"
)

// PrintHandler serves the printer agent: the Raspberry Pi next to the
// printer that fetches the confirmed job and reports how it went.
type PrintHandler struct {
	jobs      *core.JobService
	startedAt time.Time
}

type FetchRequest struct {
	UPID  string `json:"upid" binding:"required"`
	Agent string `json:"agent"`
}

type FetchResponse struct {
	Job      JobResponse  `json:"job"`
	Document *db.Document `json:"document"`
}

type CompleteRequest struct {
	UPID          string `json:"upid" binding:"required"`
	Success       *bool  `json:"success" binding:"required"`
	FailureReason string `json:"failure_reason"`
	PagesPrinted  *int   `json:"pages_printed"`
	Agent         string `json:"agent"`
}

func NewPrintHandler(jobs *core.JobService) *PrintHandler {
	return &PrintHandler{jobs: jobs, startedAt: time.Now()}
}

// Fetch hands the job and its document to the agent. One fetch per
// job; a second attempt with the same UPID is refused.
func (h *PrintHandler) Fetch(c *gin.Context) {
	var req FetchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}
	if req.Agent == "" {
		req.Agent = "printer"
	}

	job, doc, err := h.jobs.FetchForPrint(c.Request.Context(), req.UPID, req.Agent)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, FetchResponse{Job: jobToResponse(job), Document: doc})
}

// Complete closes the loop: success or failure, the job leaves the
// queue and cleanup is scheduled.
func (h *PrintHandler) Complete(c *gin.Context) {
	var req CompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}
	if req.Agent == "" {
		req.Agent = "printer"
	}

	job, err := h.jobs.Complete(c.Request.Context(), req.UPID, *req.Success, req.FailureReason, req.PagesPrinted, req.Agent)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, jobToResponse(job))
}

func (h *PrintHandler) Health(c *gin.Context) {
	printing, err := db.Jobs.CountByStatus(c.Request.Context(), string(core.StatusPrinting))
	if err != nil {
		respondError(c, err)
		return
	}
	queued, err := db.Jobs.CountByStatus(c.Request.Context(), string(core.StatusQueued))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"uptime_s":   int(time.Since(h.startedAt).Seconds()),
		"printing":   printing,
		"queued":     queued,
		"checked_at": time.Now(),
	})
}

func RegisterPrintRoutes(printer *gin.RouterGroup, h *PrintHandler) {
	printer.POST("/print/fetch", h.Fetch)
	printer.POST("/print/complete", h.Complete)
	printer.GET("/print/health", h.Health)
}
