package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"fileversions/internal/auth"
	"fileversions/internal/config"
	"fileversions/internal/handler"
	"fileversions/internal/logger"
	"fileversions/internal/repository"
	"fileversions/internal/service"
	"fileversions/internal/service/s3"
)

func newRouter(versionHandler *handler.VersionHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Minute))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", auth.DefaultUserHeader},
		ExposedHeaders:   []string{"Link", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/v1", versionHandler.Routes)

	return r
}

// runExpireLoop периодически применяет политику хранения ко всем файлам
func runExpireLoop(ctx context.Context, versionService *service.VersionService, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deleted, err := versionService.ExpireAll(ctx, time.Now())
			if err != nil {
				log.Error().Err(err).Msg("error during versions auto expire")
			}
			if deleted > 0 {
				log.Info().Int("deleted", deleted).Msg("versions auto expire finished")
			}
		case <-ctx.Done():
			return
		}
	}
}

func main() {
	appConfig, err := config.NewConfig(".app.env")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	logger.Init(logger.Config{Level: appConfig.Log.Level, Pretty: appConfig.Log.Pretty})

	policy, err := service.ParseRetentionPolicy(appConfig.Versions.Retention)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid versions retention policy")
	}

	db, err := repository.NewPostgresDB(appConfig.Database.GetDSN(), 5, 5*time.Second)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := repository.RunMigrations(appConfig.Database.GetURL(), appConfig.Database.MigrationsDir); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	s3Config, err := s3.NewConfig(".s3.env")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load S3 config")
	}

	s3Client, err := s3.NewClient(s3Config)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create S3 client")
	}

	versionRepo := repository.NewVersionRepository(db)
	versionService := service.NewVersionService(versionRepo, s3Client, policy)
	versionHandler := handler.NewVersionHandler(
		versionService,
		auth.NewAuthenticator(appConfig.Auth.UserHeader),
		appConfig.Server.MaxUploadSize,
	)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%s", appConfig.Server.Port),
		Handler: newRouter(versionHandler),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("port", appConfig.Server.Port).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start HTTP server")
		}
	}()

	if policy.Enabled() {
		go runExpireLoop(ctx, versionService, appConfig.Versions.ExpireInterval)
	}

	<-ctx.Done()
	log.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server forced to shutdown")
	}

	log.Info().Msg("server exited properly")
}
