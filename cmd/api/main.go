package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bryanwahyu/stageready/internal/application"
	appanalysis "github.com/bryanwahyu/stageready/internal/application/analysis"
	appprops "github.com/bryanwahyu/stageready/internal/application/properties"
	"github.com/bryanwahyu/stageready/internal/config"
	domanalysis "github.com/bryanwahyu/stageready/internal/domain/analysis"
	domprops "github.com/bryanwahyu/stageready/internal/domain/properties"
	"github.com/bryanwahyu/stageready/internal/domain/runlog"
	aiclient "github.com/bryanwahyu/stageready/internal/infra/ai/openai"
	mysqlp "github.com/bryanwahyu/stageready/internal/infra/db/mysql"
	postgresp "github.com/bryanwahyu/stageready/internal/infra/db/postgres"
	"github.com/bryanwahyu/stageready/internal/infra/httpserver"
	minioStore "github.com/bryanwahyu/stageready/internal/infra/storage"
	"github.com/bryanwahyu/stageready/internal/infra/vision"
	"github.com/bryanwahyu/stageready/internal/middleware"
)

func main() {
	// path config.yaml
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	// load config (credentials validated here, not on first use)
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	ctx := context.Background()

	// connect database
	var (
		repo    domprops.Repository
		errRepo runlog.Repository
		checker middleware.HealthChecker
	)
	switch cfg.Database.Driver {
	case "postgres":
		db, err := postgresp.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			log.Fatalf("postgres connect error: %v", err)
		}
		defer db.Close()
		repo = postgresp.NewPropertyRepository(db)
		checker = &middleware.DatabaseHealthChecker{DB: db}
	default:
		db, err := mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			log.Fatalf("mysql connect error: %v", err)
		}
		defer db.Close()
		repo = mysqlp.NewPropertyRepository(db)
		errRepo = mysqlp.NewRunErrorRepository(db)
		checker = &middleware.DatabaseHealthChecker{DB: db}
	}

	// init minio
	store, err := minioStore.New(ctx,
		cfg.Minio.Endpoint,
		cfg.Minio.Region,
		cfg.Minio.BucketName,
		cfg.Minio.AccessKey,
		cfg.Minio.SecretKey,
		cfg.Minio.UseSSL,
	)
	if err != nil {
		log.Fatalf("minio init error: %v", err)
	}

	// init vision model client + pipeline
	model := aiclient.NewClient(cfg.Vision.APIKey, cfg.Vision.Model)
	var pipeline domanalysis.Pipeline
	if cfg.Vision.Pipeline == "batch" {
		pipeline = &vision.BatchPipeline{
			Model:       model,
			Photos:      store,
			CallTimeout: time.Duration(cfg.Vision.CallTimeoutSeconds) * time.Second,
		}
	} else {
		pipeline = &vision.PerRoomPipeline{
			Model:        model,
			Photos:       store,
			Spacing:      time.Duration(cfg.Vision.SpacingSeconds) * time.Second,
			RetryBackoff: time.Duration(cfg.Vision.RetryBackoffSeconds) * time.Second,
			CallTimeout:  time.Duration(cfg.Vision.CallTimeoutSeconds) * time.Second,
		}
	}

	// init services
	propsSvc := &appprops.Service{
		Repo:   repo,
		Photos: store,
		Clock:  application.SystemClock{},
	}
	analysisSvc := &appanalysis.Service{
		Repo:     repo,
		Pipeline: pipeline,
		Errors:   errRepo,
		Metrics:  middleware.RunCounters{},
		Clock:    application.SystemClock{},
	}

	// init router
	mux := chi.NewRouter()
	mux.Use(middleware.LoggingMiddleware)
	mux.Use(middleware.MetricsMiddleware)
	mux.Use(middleware.RateLimitMiddleware(30, 10))
	mux.Get("/healthz", middleware.HealthHandler(map[string]middleware.HealthChecker{
		"database": checker,
		"storage":  store,
	}))
	mux.Get("/metrics", middleware.MetricsHandler)
	mux.Mount("/", httpserver.NewRouter(propsSvc, analysisSvc, errRepo, []byte(cfg.Webhook.Secret)))

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		// Analysis requests deliberately hold the connection while rooms are
		// processed; the write timeout has to cover a full per-room run.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// run server
	go func() {
		log.Printf("server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("shutting down server...")

	ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
