package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"autoprint/internal/core"
)

type WorkerHandler struct {
	worker *core.Worker
}

func NewWorkerHandler(worker *core.Worker) *WorkerHandler {
	return &WorkerHandler{worker: worker}
}

func (h *WorkerHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.worker.Status())
}

func (h *WorkerHandler) StartMonitor(c *gin.Context) {
	if err := h.worker.StartMonitor(c.Param("name")); err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.worker.Status())
}

func (h *WorkerHandler) StopMonitor(c *gin.Context) {
	if err := h.worker.StopMonitor(c.Param("name")); err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.worker.Status())
}

func (h *WorkerHandler) StartAll(c *gin.Context) {
	h.worker.Start()
	c.JSON(http.StatusOK, h.worker.Status())
}

func (h *WorkerHandler) StopAll(c *gin.Context) {
	h.worker.Stop()
	c.JSON(http.StatusOK, h.worker.Status())
}

func RegisterWorkerRoutes(staff *gin.RouterGroup, h *WorkerHandler) {
	staff.GET("/workers", h.Status)
	staff.POST("/workers/start", h.StartAll)
	staff.POST("/workers/stop", h.StopAll)
	staff.POST("/workers/:name/start", h.StartMonitor)
	staff.POST("/workers/:name/stop", h.StopMonitor)
}
