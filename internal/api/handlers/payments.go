package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"autoprint/internal/api/middleware"
	"autoprint/internal/core"
	"autoprint/internal/db"
)

type PaymentHandler struct {
	jobs *core.JobService
}

type CreatePaymentRequest struct {
	JobID     string `json:"job_id" binding:"required"`
	Method    string `json:"method" binding:"required"`
	Reference string `json:"reference"`
}

type RejectPaymentRequest struct {
	Reason string `json:"reason"`
}

func NewPaymentHandler(jobs *core.JobService) *PaymentHandler {
	return &PaymentHandler{jobs: jobs}
}

// CreatePayment records the student's claim that they paid. The job
// stays in awaiting_payment until staff verify the transfer.
func (h *PaymentHandler) CreatePayment(c *gin.Context) {
	claims := middleware.ClaimsFrom(c)
	if claims == nil || claims.StudentID == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "Student session required"})
		return
	}

	var req CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}

	job, err := db.Jobs.GetJobByID(c.Request.Context(), req.JobID)
	if err != nil {
		respondError(c, err)
		return
	}
	if job.StudentID != claims.StudentID {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "not_owner", Message: "Job belongs to another student"})
		return
	}
	if job.Status != string(core.StatusAwaitingPayment) {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "invalid_transition", Message: "Job is not awaiting payment"})
		return
	}

	payment := &db.Payment{
		ID:        uuid.NewString(),
		JobID:     job.ID,
		StudentID: claims.StudentID,
		Amount:    job.TotalCost,
		Method:    req.Method,
		Reference: req.Reference,
		Status:    "pending",
	}
	if err := db.Payments.CreatePayment(c.Request.Context(), payment); err != nil {
		respondError(c, err)
		return
	}
	if err := db.Jobs.SetPayment(c.Request.Context(), job.ID, payment.ID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, payment)
}

// GetJobPayment looks up the payment attached to a job.
func (h *PaymentHandler) GetJobPayment(c *gin.Context) {
	payment, err := db.Payments.GetPaymentByJobID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	claims := middleware.ClaimsFrom(c)
	if claims != nil && claims.Role == middleware.RoleStudent && payment.StudentID != claims.StudentID {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "not_owner", Message: "Payment belongs to another student"})
		return
	}

	c.JSON(http.StatusOK, payment)
}

func (h *PaymentHandler) GetPayment(c *gin.Context) {
	payment, err := db.Payments.GetPaymentByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	claims := middleware.ClaimsFrom(c)
	if claims != nil && claims.Role == middleware.RoleStudent && payment.StudentID != claims.StudentID {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "not_owner", Message: "Payment belongs to another student"})
		return
	}

	c.JSON(http.StatusOK, payment)
}

// VerifyPayment moves the job into the queue: position assigned, UPID
// issued, student notified.
func (h *PaymentHandler) VerifyPayment(c *gin.Context) {
	job, err := h.jobs.VerifyPayment(c.Request.Context(), c.Param("id"), staffActor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, jobToResponse(job))
}

func (h *PaymentHandler) RejectPayment(c *gin.Context) {
	var req RejectPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}

	job, err := h.jobs.RejectPayment(c.Request.Context(), c.Param("id"), staffActor(c), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, jobToResponse(job))
}

// staffActor names the acting session for the audit columns. A token
// carrying a student id keeps it (a staff member on a student session);
// a bare staff token audits as the role, the only identity the shared
// staff password provides.
func staffActor(c *gin.Context) string {
	if claims := middleware.ClaimsFrom(c); claims != nil {
		if claims.StudentID != "" {
			return claims.StudentID
		}
		if claims.Role != "" {
			return claims.Role
		}
	}
	return middleware.RoleStaff
}

func RegisterPaymentRoutes(student, staff *gin.RouterGroup, h *PaymentHandler) {
	student.POST("/payments", h.CreatePayment)
	student.GET("/payments/:id", h.GetPayment)
	student.GET("/jobs/:id/payment", h.GetJobPayment)

	staff.POST("/jobs/:id/payment/verify", h.VerifyPayment)
	staff.POST("/jobs/:id/payment/reject", h.RejectPayment)
}
