package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/service-portal/internal/api/http"
	"github.com/spec-kit/service-portal/internal/api/http/handlers"
	"github.com/spec-kit/service-portal/internal/auth"
	"github.com/spec-kit/service-portal/internal/config"
	"github.com/spec-kit/service-portal/internal/events"
	"github.com/spec-kit/service-portal/internal/observability"
	"github.com/spec-kit/service-portal/internal/persistence"
	"github.com/spec-kit/service-portal/internal/repository"
	"github.com/spec-kit/service-portal/internal/service"
	"github.com/spec-kit/service-portal/internal/storage"
	"github.com/spec-kit/service-portal/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, cfg.App.Name, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis, err := persistence.NewRedis(ctx, cfg.Redis, logger)
	if err != nil {
		logger.Fatal("invalid redis configuration", zap.Error(err))
	}
	defer redis.Close()

	files, err := storage.NewLocalFileStore(cfg.Storage.BaseDir)
	if err != nil {
		logger.Fatal("failed to prepare attachment storage", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	pool := pg.PoolHandle()
	userRepo := repository.NewUserRepository(pool)
	companyRepo := repository.NewCompanyRepository(pool)
	requestRepo := repository.NewServiceRequestRepository(pool)
	subTaskRepo := repository.NewSubTaskRepository(pool)
	changeRepo := repository.NewAssignmentChangeRepository(pool)
	noteRepo := repository.NewNoteRepository(pool)
	attachmentRepo := repository.NewAttachmentRepository(pool)
	activityRepo := repository.NewActivityRepository(pool)
	txManager := repository.NewTxManager(pool)

	dispatcher := events.NewInMemoryDispatcher(logger.Named("events"))
	queue := persistence.NewNotificationQueue(redis, cfg.Notification.QueueKey)
	outbox := worker.NewAsyncQueue(queue, cfg.Notification.BufferSize, cfg.Notification.EnqueueTimeout(), logger.Named("outbox"))
	outboxCtx, stopOutbox := context.WithCancel(context.Background())
	outboxDone := make(chan struct{})
	go func() {
		defer close(outboxDone)
		outbox.Run(outboxCtx)
	}()
	notifications := service.NewNotificationService(dispatcher, userRepo, outbox, logger.Named("notifications"))
	notifications.RegisterHandlers()

	authService := service.NewAuthService(cfg.Auth, userRepo, logger)
	if err := authService.EnsureAdmin(ctx, cfg.Auth.BootstrapAdminEmail, cfg.Auth.BootstrapAdminPass, cfg.Auth.BootstrapAdminName); err != nil {
		logger.Fatal("failed to bootstrap administrator", zap.Error(err))
	}
	authMiddleware := auth.NewAuthMiddleware(authService.TokenManager(), userRepo)

	activityService := service.NewActivityService(activityRepo, requestRepo, logger)
	attachmentService := service.NewAttachmentService(service.AttachmentDependencies{
		AttachmentRepo: attachmentRepo,
		RequestRepo:    requestRepo,
		Files:          files,
		Activity:       activityService,
		TxManager:      txManager,
		MaxUploadBytes: cfg.Storage.MaxUploadBytes,
		Logger:         logger,
	})
	requestService := service.NewRequestService(service.RequestDependencies{
		RequestRepo: requestRepo,
		UserRepo:    userRepo,
		CompanyRepo: companyRepo,
		NoteRepo:    noteRepo,
		SubTaskRepo: subTaskRepo,
		Attachments: attachmentService,
		Activity:    activityService,
		TxManager:   txManager,
		Dispatcher:  dispatcher,
		Metrics:     metrics,
		Logger:      logger,
	})
	subTaskService := service.NewSubTaskService(service.SubTaskDependencies{
		SubTaskRepo: subTaskRepo,
		RequestRepo: requestRepo,
		UserRepo:    userRepo,
		Activity:    activityService,
		Dispatcher:  dispatcher,
		Logger:      logger,
	})
	changeService := service.NewAssignmentChangeService(service.AssignmentChangeDependencies{
		ChangeRepo:  changeRepo,
		RequestRepo: requestRepo,
		UserRepo:    userRepo,
		TxManager:   txManager,
		Activity:    activityService,
		Dispatcher:  dispatcher,
		Metrics:     metrics,
		Logger:      logger,
	})
	noteService := service.NewNoteService(noteRepo, requestRepo, activityService, dispatcher)
	directoryService := service.NewDirectoryService(service.DirectoryDependencies{
		CompanyRepo: companyRepo,
		UserRepo:    userRepo,
		TxManager:   txManager,
		Activity:    activityService,
		BcryptCost:  cfg.Auth.BcryptCost,
		Logger:      logger,
	})

	if cfg.Notification.WorkerEnabled {
		mailer := worker.LogMailer{Logger: logger.Named("mailer")}
		w := worker.NewNotificationWorker(queue, mailer, cfg.Notification.EmailFrom, cfg.Notification.PollInterval(), logger.Named("worker"))
		go w.Run(ctx)
	}

	app := fiber.New(fiber.Config{
		AppName:   cfg.App.Name,
		BodyLimit: int(cfg.Storage.MaxUploadBytes)*10 + 1<<20,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, map[string]handlers.Pinger{
			"postgres": pg,
			"redis":    redis,
		}),
		Auth:      handlers.NewAuthHandler(authService),
		Requests:  handlers.NewRequestsHandler(requestService),
		Directory: handlers.NewDirectoryHandler(directoryService),
		Workflow: handlers.NewWorkflowHandler(handlers.WorkflowServices{
			SubTasks:    subTaskService,
			Changes:     changeService,
			Notes:       noteService,
			Attachments: attachmentService,
			Activity:    activityService,
		}),
		AuthMiddleware: authMiddleware,
		Gatherer:       registry,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)
	cancel()

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
	// Flush buffered notifications once no handler can add more.
	stopOutbox()
	<-outboxDone
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
