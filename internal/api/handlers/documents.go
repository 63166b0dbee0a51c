package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"autoprint/internal/api/middleware"
	"autoprint/internal/core"
	"autoprint/internal/db"
)

type DocumentHandler struct {
	cleaner *core.Cleaner
}

type CreateDocumentRequest struct {
	Name       string `json:"name" binding:"required"`
	Pages      int    `json:"pages" binding:"required,min=1"`
	SizeBytes  int64  `json:"size_bytes"`
	MimeType   string `json:"mime_type"`
	StorageKey string `json:"storage_key"`
}

func NewDocumentHandler(cleaner *core.Cleaner) *DocumentHandler {
	return &DocumentHandler{cleaner: cleaner}
}

// CreateDocument registers an already-uploaded document. The bytes live
// in the document store; this service only tracks the metadata it needs
// for costing and retention.
func (h *DocumentHandler) CreateDocument(c *gin.Context) {
	claims := middleware.ClaimsFrom(c)
	if claims == nil || claims.StudentID == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "Student session required"})
		return
	}

	var req CreateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}

	doc := &db.Document{
		ID:         uuid.NewString(),
		StudentID:  claims.StudentID,
		Name:       req.Name,
		Pages:      req.Pages,
		SizeBytes:  req.SizeBytes,
		MimeType:   req.MimeType,
		StorageKey: req.StorageKey,
	}
	if err := db.Documents.CreateDocument(c.Request.Context(), doc); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, doc)
}

func (h *DocumentHandler) GetDocument(c *gin.Context) {
	doc, err := db.Documents.GetDocumentByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	claims := middleware.ClaimsFrom(c)
	if claims != nil && claims.Role == middleware.RoleStudent && doc.StudentID != claims.StudentID {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "not_owner", Message: "Document belongs to another student"})
		return
	}

	c.JSON(http.StatusOK, doc)
}

// ForcePurge removes a document immediately, but never out from under
// an active job.
func (h *DocumentHandler) ForcePurge(c *gin.Context) {
	if err := h.cleaner.ForcePurge(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"purged": true})
}

// RunPurge triggers the due-document sweep outside its schedule.
func (h *DocumentHandler) RunPurge(c *gin.Context) {
	purged, err := h.cleaner.PurgeDue(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"purged": purged})
}

func RegisterDocumentRoutes(student, staff *gin.RouterGroup, h *DocumentHandler) {
	student.POST("/documents", h.CreateDocument)
	student.GET("/documents/:id", h.GetDocument)

	staff.POST("/documents/:id/purge", h.ForcePurge)
	staff.POST("/documents/purge-due", h.RunPurge)
}
