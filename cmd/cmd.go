package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flashpair-backend/internal/config"
	"flashpair-backend/internal/handlers"
	"flashpair-backend/internal/middleware"
	"flashpair-backend/internal/repository"
	"flashpair-backend/internal/repository/memory"
	"flashpair-backend/internal/services"
	"flashpair-backend/internal/storage"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

func Run() {
	flags := pflag.NewFlagSet("flashpair", pflag.ExitOnError)
	configPath := flags.StringP("config", "c", "config.yaml", "path to the YAML config file")
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("Failed to load configuration")
	}

	setupLogger(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("Failed to open datastore")
	}
	defer store.Close()

	blobs, err := openBlobStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("Failed to open blob storage")
	}

	app := newApp(cfg, store, blobs)
	if cfg.APNs.Enabled() {
		push, err := services.NewPushService(cfg.APNs.KeyFile, cfg.APNs.KeyID, cfg.APNs.TeamID, cfg.APNs.Topic, cfg.APNs.Production)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create APNs client")
		}
		app.push = push
		log.Info().Bool("production", cfg.APNs.Production).Msg("APNs push enabled")
	}

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go services.NewSweeper(app.messageService, cfg.Sweeper.Interval).Run(sweepCtx)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      app.router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("host", cfg.Server.Host).
			Int("port", cfg.Server.Port).
			Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	stopSweeper()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// hijacked WebSocket connections are not tracked by Shutdown
	app.wsHub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// app holds the services and handlers of one server instance
type app struct {
	store          repository.Store
	userService    *services.UserService
	pairService    *services.PairService
	messageService *services.MessageService
	wsHub          *services.WSHub
	push           handlers.PushNotifier
}

func newApp(cfg *config.Config, store repository.Store, blobs storage.BlobStore, opts ...services.Option) *app {
	return &app{
		store:          store,
		userService:    services.NewUserService(store, cfg.JWT.Secret, opts...),
		pairService:    services.NewPairService(store, opts...),
		messageService: services.NewMessageService(store, blobs, opts...),
		wsHub:          services.NewWSHub(),
	}
}

func (a *app) router() http.Handler {
	userHandler := handlers.NewUserHandler(a.userService)
	pairHandler := handlers.NewPairHandler(a.pairService, a.wsHub)
	imageHandler := handlers.NewImageHandler(a.messageService, a.userService, a.wsHub, a.push)
	healthHandler := handlers.NewHealthHandler(a.store)
	wsHandler := handlers.NewWebSocketHandler(a.wsHub, a.userService, a.pairService, a.messageService)

	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}).Handler)

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Post("/users", userHandler.CreateUser)
		r.Get("/health", healthHandler.Health)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(a.userService))

			r.Put("/users/push-token", userHandler.UpdatePushToken)

			r.Route("/pair", func(r chi.Router) {
				r.Post("/generate", pairHandler.GenerateCode)
				r.Post("/connect", pairHandler.Connect)
				r.Delete("/disconnect", pairHandler.Disconnect)
				r.Get("/status", pairHandler.Status)
			})

			r.Route("/images", func(r chi.Router) {
				r.Post("/", imageHandler.Upload)
				r.Get("/check", imageHandler.Check)
				r.Get("/{image_id}/view", imageHandler.View)
				r.Get("/{image_id}/info", imageHandler.Info)
			})
		})
	})

	r.Get("/ws", wsHandler.HandleWebSocket)

	return r
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (repository.Store, error) {
	if cfg.Driver == config.DriverMemory {
		log.Warn().Msg("Using in-memory datastore, data is lost on restart")
		return memory.New(), nil
	}

	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	log.Info().Msg("Database connection established")

	if err := repository.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return repository.NewPostgresStore(pool), nil
}

func openBlobStore(ctx context.Context, cfg *config.Config) (storage.BlobStore, error) {
	switch cfg.Storage.Driver {
	case config.StorageS3:
		return storage.NewS3Store(ctx, storage.S3Options{
			Region:    cfg.AWS.Region,
			Bucket:    cfg.AWS.S3Bucket,
			AccessKey: cfg.AWS.AccessKey,
			SecretKey: cfg.AWS.SecretKey,
			Endpoint:  cfg.AWS.Endpoint,
		})
	case config.StorageMinio:
		return storage.NewMinioStore(ctx, storage.MinioOptions{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			Bucket:    cfg.Minio.Bucket,
			UseSSL:    cfg.Minio.UseSSL,
		})
	case config.StorageMemory:
		return storage.NewMemoryStore(), nil
	default:
		return storage.NewLocalStore(cfg.Storage.LocalDir)
	}
}

// setupLogger configures zerolog logger
func setupLogger(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
