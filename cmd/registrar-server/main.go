package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/opensis/registrar/internal/models"
	"github.com/opensis/registrar/internal/ops"
	"github.com/opensis/registrar/internal/repository"
	"github.com/opensis/registrar/internal/server"
	"github.com/opensis/registrar/internal/service"
	"github.com/opensis/registrar/pkg/cache"
	"github.com/opensis/registrar/pkg/config"
	"github.com/opensis/registrar/pkg/database"
	"github.com/opensis/registrar/pkg/jobs"
	"github.com/opensis/registrar/pkg/logger"
	"github.com/opensis/registrar/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log, err := logger.New(cfg)
	if err != nil {
		panic("failed to build logger: " + err.Error())
	}
	defer log.Sync()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	// Redis is an accelerator, not a dependency: the engine degrades to
	// reading the settings table on every dispatch if it is unreachable.
	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		log.Warn("redis unavailable, maintenance flag reads go to postgres", zap.Error(err))
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	exportsArchive, err := storage.NewLocalStorage(cfg.Grading.ExportsDir)
	if err != nil {
		log.Fatal("failed to prepare exports directory", zap.Error(err))
	}
	if cfg.Grading.ExportsRetention > 0 {
		go func() {
			ticker := time.NewTicker(time.Hour)
			defer ticker.Stop()
			for range ticker.C {
				if err := exportsArchive.RemoveOlderThan(cfg.Grading.ExportsRetention); err != nil {
					log.Warn("exports retention sweep failed", zap.Error(err))
				}
			}
		}()
	}

	userRepo := repository.NewUserRepository(db)
	sectionRepo := repository.NewSectionRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	gradeRepo := repository.NewGradeRepository(db)
	settingRepo := repository.NewSettingRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	auditQueue := jobs.NewQueue("audit", func(ctx context.Context, job jobs.Job) error {
		entry, ok := job.Payload.(*models.AuditLog)
		if !ok {
			log.Error("audit job carried unexpected payload", zap.String("job_id", job.ID))
			return nil
		}
		return auditRepo.Create(ctx, entry)
	}, jobs.QueueConfig{
		Workers:    cfg.Audit.Workers,
		MaxRetries: cfg.Audit.MaxRetries,
		Logger:     log,
	})
	auditQueue.Start(context.Background())
	defer auditQueue.Stop()

	validate := validator.New()

	authService := service.NewAuthService(userRepo, auditRepo, validate, log)
	accessService := service.NewAccessService(userRepo, sectionRepo, enrollmentRepo, log)
	maintenanceService := service.NewMaintenanceService(settingRepo, auditRepo, redisClient, cfg.Server.MaintenanceCacheTTL, log)

	conflicts := service.ExactConflictChecker
	if cfg.Enrollment.StrictConflicts {
		conflicts = service.OverlapConflictChecker
	}
	enrollmentService := service.NewEnrollmentService(db, sectionRepo, enrollmentRepo, conflicts, cfg.Enrollment.DropDeadline, log)
	gradingService := service.NewGradingService(db, gradeRepo, enrollmentRepo, exportsArchive, auditQueue, log)
	metricsService := service.NewMetricsService()

	router := server.NewRouter(authService, accessService, enrollmentService, gradingService, maintenanceService, userRepo, metricsService, log)
	engine := server.NewServer(cfg.ListenAddr, router, cfg.Server.ReadTimeout, metricsService, log)
	opsServer := ops.NewServer(cfg.OpsAddr, cfg.Env, metricsService.Handler(), log)

	errCh := make(chan error, 2)
	go func() {
		if err := engine.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()
	go func() {
		if err := opsServer.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		log.Error("listener failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := engine.Shutdown(shutdownCtx); err != nil {
		log.Warn("request engine shutdown incomplete", zap.Error(err))
	}
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("ops server shutdown incomplete", zap.Error(err))
	}

	// Give the audit queue a moment to flush anything still buffered.
	time.Sleep(100 * time.Millisecond)
	log.Info("server stopped")
}
