package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"autoprint/internal/api/middleware"
	"autoprint/internal/core"
	"autoprint/internal/db"
)

type JobHandler struct {
	jobs *core.JobService
}

type CreateJobRequest struct {
	DocumentID string            `json:"document_id" binding:"required"`
	Priority   string            `json:"priority"`
	Options    core.PrintOptions `json:"options"`
}

type JobResponse struct {
	*db.PrintJob
	EstimatedSecs int `json:"estimated_secs"`
}

func NewJobHandler(jobs *core.JobService) *JobHandler {
	return &JobHandler{jobs: jobs}
}

func jobToResponse(j *db.PrintJob) JobResponse {
	return JobResponse{
		PrintJob: j,
		EstimatedSecs: core.EstimatePrintSeconds(j.Pages, j.Copies, core.PrintOptions{
			ColorMode: j.ColorMode,
			Duplex:    j.Duplex,
			Quality:   j.Quality,
		}),
	}
}

func (h *JobHandler) CreateJob(c *gin.Context) {
	claims := middleware.ClaimsFrom(c)
	if claims == nil || claims.StudentID == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "Student session required"})
		return
	}

	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}

	job, err := h.jobs.CreateJob(c.Request.Context(), core.CreateJobParams{
		StudentID:  claims.StudentID,
		DocumentID: req.DocumentID,
		Priority:   req.Priority,
		Options:    req.Options,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, jobToResponse(job))
}

func (h *JobHandler) GetJob(c *gin.Context) {
	job, err := db.Jobs.GetJobByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	claims := middleware.ClaimsFrom(c)
	if claims != nil && claims.Role == middleware.RoleStudent && job.StudentID != claims.StudentID {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "not_owner", Message: "Job belongs to another student"})
		return
	}

	c.JSON(http.StatusOK, jobToResponse(job))
}

// ListJobs is staff-only via routing; students see their own jobs
// through ListMyJobs.
func (h *JobHandler) ListJobs(c *gin.Context) {
	filter := db.JobFilter{
		StudentID: c.Query("student_id"),
		Status:    c.Query("status"),
		Limit:     100,
	}

	jobs, err := db.Jobs.ListJobs(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	responses := make([]JobResponse, 0, len(jobs))
	for _, j := range jobs {
		responses = append(responses, jobToResponse(j))
	}
	c.JSON(http.StatusOK, responses)
}

func (h *JobHandler) ListMyJobs(c *gin.Context) {
	claims := middleware.ClaimsFrom(c)
	if claims == nil || claims.StudentID == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "Student session required"})
		return
	}

	jobs, err := db.Jobs.ListJobs(c.Request.Context(), db.JobFilter{StudentID: claims.StudentID, Limit: 50})
	if err != nil {
		respondError(c, err)
		return
	}

	responses := make([]JobResponse, 0, len(jobs))
	for _, j := range jobs {
		responses = append(responses, jobToResponse(j))
	}
	c.JSON(http.StatusOK, responses)
}

func (h *JobHandler) CancelJob(c *gin.Context) {
	claims := middleware.ClaimsFrom(c)
	actor := middleware.RoleStaff
	if claims != nil && claims.Role == middleware.RoleStudent {
		actor = claims.StudentID

		job, err := db.Jobs.GetJobByID(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		if job.StudentID != claims.StudentID {
			c.JSON(http.StatusForbidden, ErrorResponse{Error: "not_owner", Message: "Job belongs to another student"})
			return
		}
	}

	job, err := h.jobs.Cancel(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, jobToResponse(job))
}

func (h *JobHandler) GetJobEvents(c *gin.Context) {
	if _, err := db.Jobs.GetJobByID(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	events, err := db.Events.ListForJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

func RegisterJobRoutes(student, staff *gin.RouterGroup, h *JobHandler) {
	student.POST("/jobs", h.CreateJob)
	student.GET("/jobs/mine", h.ListMyJobs)
	student.GET("/jobs/:id", h.GetJob)
	student.POST("/jobs/:id/cancel", h.CancelJob)

	staff.GET("/jobs", h.ListJobs)
	staff.GET("/jobs/:id/events", h.GetJobEvents)
}
