package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"autoprint/internal/api"
	"autoprint/internal/config"
	"autoprint/internal/core"
	"autoprint/internal/db"
	"autoprint/internal/notify"
	"autoprint/internal/storage"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[main] failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[main] invalid config: %v", err)
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := db.Init(db.Config{Path: cfg.Database.Path}); err != nil {
		log.Fatalf("[main] failed to initialize database: %v", err)
	}
	defer db.Close()

	docStore, err := storage.NewDiskStore(cfg.Storage.DocumentsDir)
	if err != nil {
		log.Fatalf("[main] failed to open document store: %v", err)
	}

	hub := notify.NewHub(16)
	sender := notify.NewWebhookSender(notify.WebhookConfig{})
	sender.Start()
	defer sender.Stop()
	fanout := notify.NewFanout(hub, sender)

	queue := core.NewQueue(db.GetDB())
	cleaner := core.NewCleaner(db.GetDB(), queue, docStore, cfg.Cleanup.DocumentGrace, cfg.Cleanup.Retention)
	jobs := core.NewJobService(db.GetDB(), queue, cleaner, fanout, cfg.Pricing)

	worker := core.NewWorker(jobs, queue, cleaner, fanout, cfg.Queue, cfg.Cleanup)
	worker.Start()
	defer worker.Stop()

	router, err := api.NewRouter(api.Deps{
		DB:     db.GetDB(),
		Jobs:   jobs,
		Worker: worker,
		Hub:    hub,
	})
	if err != nil {
		log.Fatalf("[main] failed to build router: %v", err)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Printf("[main] listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[main] server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("[main] shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("[main] forced shutdown: %v", err)
	}
}
