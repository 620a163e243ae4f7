package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alimgiray/openwiden/internal/handlers"
	"github.com/alimgiray/openwiden/internal/middleware"
	"github.com/alimgiray/openwiden/internal/models"
	"github.com/alimgiray/openwiden/internal/repositories"
	"github.com/alimgiray/openwiden/internal/services"
	"github.com/alimgiray/openwiden/internal/vcs"
	ghclient "github.com/alimgiray/openwiden/internal/vcs/github"
	glclient "github.com/alimgiray/openwiden/internal/vcs/gitlab"
	"github.com/alimgiray/openwiden/internal/workers"
	"github.com/alimgiray/openwiden/pkg/config"
	"github.com/alimgiray/openwiden/pkg/database"
	"github.com/alimgiray/openwiden/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	oauth2github "golang.org/x/oauth2/github"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(cfg.Log.Level)
	gin.SetMode(cfg.Server.Mode)

	if err := database.Init(cfg.Database.Path); err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	registry := newRegistry(cfg)
	if len(registry.Providers()) == 0 {
		logger.Warnf("No provider OAuth application configured, logins are disabled")
	}

	// Repositories
	userRepo := repositories.NewUserRepository(database.DB)
	accountRepo := repositories.NewVCSAccountRepository(database.DB)
	repositoryRepo := repositories.NewRepositoryRepository(database.DB)
	organizationRepo := repositories.NewOrganizationRepository(database.DB)
	memberRepo := repositories.NewMemberRepository(database.DB)
	issueRepo := repositories.NewIssueRepository(database.DB)
	jobRepo := repositories.NewJobRepository(database.DB)
	notificationRepo := repositories.NewNotificationRepository(database.DB)

	// Services
	jobService := services.NewJobService(jobRepo)
	notificationService := services.NewNotificationService(notificationRepo)
	reconciler := services.NewReconcilerService(repositoryRepo, organizationRepo, memberRepo, issueRepo)
	credentialService := services.NewCredentialService(accountRepo, registry)
	remoteSyncService := services.NewRemoteSyncService(credentialService, reconciler, accountRepo, memberRepo)
	lifecycleService := services.NewLifecycleService(repositoryRepo, reconciler, remoteSyncService, jobService, notificationService)
	webhookService := services.NewWebhookService(reconciler, remoteSyncService)
	userService := services.NewUserService(userRepo, accountRepo, registry, jobService)
	repositoryService := services.NewRepositoryService(repositoryRepo, issueRepo)
	exportService := services.NewExportService(repositoryRepo)

	// Workers
	workerManager := workers.NewWorkerManager(
		jobRepo,
		workers.NewHandlers(remoteSyncService, lifecycleService, webhookService),
		cfg.Workers,
	)
	if recovered, err := lifecycleService.RecoverStranded(context.Background()); err != nil {
		logger.Fatalf("Failed to recover stranded repositories: %v", err)
	} else if recovered > 0 {
		logger.Warnf("Settled %d repositories interrupted mid add/remove", recovered)
	}
	if err := workerManager.StartAll(); err != nil {
		logger.Fatalf("Failed to start workers: %v", err)
	}

	schedulerCtx, stopScheduler := context.WithCancel(context.Background())
	defer stopScheduler()
	services.NewSchedulerService(accountRepo, jobService, cfg.Workers.ResyncHour).StartScheduler(schedulerCtx)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())
	router.Use(middleware.SessionMiddleware())

	setupRoutes(router, cfg,
		handlers.NewAuthHandler(userService),
		handlers.NewRepositoryHandler(repositoryService, lifecycleService, exportService),
		handlers.NewNotificationHandler(notificationService),
		handlers.NewTaskHandler(jobService),
		handlers.NewWebhookHandler(jobService, cfg.GitHub.WebhookSecret, cfg.GitLab.WebhookSecret),
		handlers.NewHealthHandler(database.DB),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Infof("Server starting on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Errorf("Server shutdown failed")
	}
	workerManager.StopAll()
	logger.Info("Server stopped")
}

// newRegistry registers every provider with a configured OAuth application
func newRegistry(cfg *config.Config) *vcs.Registry {
	var providers []vcs.Provider

	if cfg.GitHub.Enabled() {
		providers = append(providers, vcs.Provider{
			VCS: models.VCSGitHub,
			OAuth: &oauth2.Config{
				ClientID:     cfg.GitHub.ClientID,
				ClientSecret: cfg.GitHub.ClientSecret,
				RedirectURL:  cfg.GitHub.CallbackURL,
				Endpoint:     oauth2github.Endpoint,
				Scopes:       []string{"read:user", "user:email", "read:org"},
			},
			BaseURL:   cfg.GitHub.BaseURL,
			NewClient: ghclient.NewClient,
		})
	}

	if cfg.GitLab.Enabled() {
		base := strings.TrimSuffix(cfg.GitLab.BaseURL, "/")
		providers = append(providers, vcs.Provider{
			VCS: models.VCSGitLab,
			OAuth: &oauth2.Config{
				ClientID:     cfg.GitLab.ClientID,
				ClientSecret: cfg.GitLab.ClientSecret,
				RedirectURL:  cfg.GitLab.CallbackURL,
				Endpoint: oauth2.Endpoint{
					AuthURL:  base + "/oauth/authorize",
					TokenURL: base + "/oauth/token",
				},
				Scopes: []string{"read_user", "read_api"},
			},
			BaseURL:   base,
			NewClient: glclient.NewClient,
		})
	}

	return vcs.NewRegistry(providers...)
}

func setupRoutes(
	router *gin.Engine,
	cfg *config.Config,
	authHandler *handlers.AuthHandler,
	repositoryHandler *handlers.RepositoryHandler,
	notificationHandler *handlers.NotificationHandler,
	taskHandler *handlers.TaskHandler,
	webhookHandler *handlers.WebhookHandler,
	healthHandler *handlers.HealthHandler,
) {
	// Auth routes
	router.GET("/auth/:provider", authHandler.Login)
	router.GET("/auth/:provider/callback", authHandler.Callback)
	router.GET("/logout", authHandler.Logout)

	// Provider webhooks
	router.POST("/webhooks/github", webhookHandler.GitHub)
	router.POST("/webhooks/gitlab", webhookHandler.GitLab)

	// Public listing of added repositories
	router.GET("/repositories", repositoryHandler.Added)
	router.GET("/repositories/:id/issues", repositoryHandler.AddedIssues)

	// Protected routes
	api := router.Group("/api")
	api.Use(middleware.AuthRequired())
	{
		api.GET("/me", authHandler.Me)
		api.POST("/sync", authHandler.Sync)
		api.GET("/repositories", repositoryHandler.List)
		api.GET("/repositories/export", repositoryHandler.Export)
		api.GET("/repositories/:id/issues", repositoryHandler.Issues)
		api.POST("/repositories/:id/add", repositoryHandler.Add)
		api.POST("/repositories/:id/remove", repositoryHandler.Remove)
		api.GET("/notifications", notificationHandler.List)
		api.POST("/notifications/read", notificationHandler.MarkRead)
		api.GET("/tasks/:id", taskHandler.Get)
	}

	// Health check endpoint
	router.GET("/health", healthHandler.HealthCheck)
	router.NoRoute(handlers.NotFound)

	if cfg.GitHub.WebhookSecret == "" {
		logger.Warnf("GITHUB_WEBHOOK_SECRET is empty, github deliveries are not verified")
	}
}

// requestLogger logs every request through logrus
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Debugf("Handled request")
	}
}
