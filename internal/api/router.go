package api

import (
	"database/sql"
	"net/http"

	"github.com/gin-gonic/gin"

	"autoprint/internal/api/handlers"
	"autoprint/internal/api/middleware"
	"autoprint/internal/core"
	"autoprint/internal/notify"
)

// Deps carries everything the HTTP surface needs.
type Deps struct {
	DB     *sql.DB
	Jobs   *core.JobService
	Worker *core.Worker
	Hub    *notify.Hub
}

// NewRouter wires the four access scopes: public, student session,
// staff session, and printer agent.
func NewRouter(deps Deps) (*gin.Engine, error) {
	auth, err := middleware.NewAuthMiddleware(deps.DB)
	if err != nil {
		return nil, err
	}

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")

	authGroup := api.Group("/auth")
	{
		authGroup.POST("/setup", auth.SetupHandler)
		authGroup.POST("/login", auth.StaffLoginHandler)
		authGroup.POST("/student-login", auth.StudentLoginHandler)
		authGroup.POST("/logout", auth.LogoutHandler)
		authGroup.GET("/status", auth.StatusHandler)
	}

	public := api.Group("/public")
	student := api.Group("/student", auth.RequireStudent())
	staff := api.Group("/staff", auth.RequireStaff())
	printer := api.Group("/printer", auth.RequirePrinterKey())

	jobHandler := handlers.NewJobHandler(deps.Jobs)
	paymentHandler := handlers.NewPaymentHandler(deps.Jobs)
	queueHandler := handlers.NewQueueHandler(deps.Jobs)
	printHandler := handlers.NewPrintHandler(deps.Jobs)
	documentHandler := handlers.NewDocumentHandler(deps.Jobs.Cleaner())
	workerHandler := handlers.NewWorkerHandler(deps.Worker)
	webhookHandler := handlers.NewWebhookHandler()
	eventHandler := handlers.NewEventHandler(deps.Hub)

	handlers.RegisterJobRoutes(student, staff, jobHandler)
	handlers.RegisterPaymentRoutes(student, staff, paymentHandler)
	handlers.RegisterQueueRoutes(public, student, staff, queueHandler)
	handlers.RegisterPrintRoutes(printer, printHandler)
	handlers.RegisterDocumentRoutes(student, staff, documentHandler)
	handlers.RegisterWorkerRoutes(staff, workerHandler)
	handlers.RegisterWebhookRoutes(staff, webhookHandler)
	handlers.RegisterEventRoutes(student, staff, eventHandler)

	return r, nil
}
