package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"github.com/sitechat/wa-relay-go/internal/config"
	"github.com/sitechat/wa-relay-go/internal/correlation"
	"github.com/sitechat/wa-relay-go/internal/database"
	"github.com/sitechat/wa-relay-go/internal/handler"
	"github.com/sitechat/wa-relay-go/internal/jobs"
	"github.com/sitechat/wa-relay-go/internal/middleware"
	"github.com/sitechat/wa-relay-go/internal/redis"
	"github.com/sitechat/wa-relay-go/internal/repository"
	"github.com/sitechat/wa-relay-go/internal/service"
	"github.com/sitechat/wa-relay-go/internal/sse"
	"github.com/sitechat/wa-relay-go/internal/whatsapp"
)

const qrFileName = "pairing-qr.png"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func serve(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setLogLevel(cfg.LogLevel)

	production := isProduction()
	if err := cfg.Validate(production); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	db, err := database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	siteRepo := repository.NewSiteRepository(db.DB)
	convRepo := repository.NewConversationRepository(db.DB)
	messageRepo := repository.NewMessageRepository(db.DB)
	adminSessionRepo := repository.NewAdminSessionRepository(db.DB)

	broker := sse.NewBroker(redisClient)
	defer broker.Close()

	normalizer := correlation.NewNormalizer(cfg.CountryCode)
	closing := correlation.NewClosingPhrase(cfg.ClosingPhrase)
	index := correlation.NewIndex()
	lifecycle := correlation.NewLifecycle(convRepo, index, broker, cfg.InactivityThreshold())

	manager := whatsapp.NewManager(whatsapp.NewMeowDialer(), whatsapp.ManagerConfig{
		CredentialDir: cfg.CredentialDir(),
		Backoff:       cfg.ReconnectBackoff(),
		SendTimeout:   config.SendTimeout,
		DedupeWindow:  config.DedupeWindow,
		DedupeMaxIDs:  config.DedupeMaxIDs,
	})
	defer manager.Stop()

	engine := correlation.NewEngine(siteRepo, convRepo, messageRepo, index, lifecycle, manager, broker,
		correlation.EngineConfig{
			Normalizer:      normalizer,
			ClosingPhrase:   closing,
			StrictAmbiguity: cfg.RequireQuoteWhenAmbiguous,
		})
	manager.SetInboundHandler(engine)
	manager.Subscribe(&pairingObserver{qrPath: filepath.Join(cfg.DataDir, qrFileName)})

	relayService := service.NewRelayService(siteRepo, convRepo, messageRepo, manager, index, lifecycle, broker,
		service.RelayConfig{
			Normalizer:       normalizer,
			ClosingPhrase:    closing,
			ReplyWaitTimeout: cfg.ReplyWaitTimeout(),
		})
	siteService := service.NewSiteService(siteRepo, normalizer)
	adminService := service.NewAdminService(adminSessionRepo, cfg.AdminPasswordHash, cfg.AdminSessionSecret)

	rateLimitMiddleware := middleware.NewRateLimitMiddleware(
		middleware.NewRedisRateLimiter(redisClient.Client), config.DefaultRateLimitPerMin, "widget",
	)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(production)

	widgetHandler := handler.NewWidgetHandler(relayService, cfg.ReplyWaitTimeout())
	eventsHandler := handler.NewEventsHandler(broker, relayService)
	adminHandler := handler.NewAdminHandler(
		adminService, siteService, relayService, middleware.RequireAdmin(adminService), production,
	)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.LimitBody(middleware.DefaultMaxBodySize))

	r.Get("/health", handler.Health(db, manager))
	r.Get("/favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	// Long-polling sends and event streams outlive the request timeout, so
	// the timeout is applied per route group.
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.WidgetCORS(cfg.CORSOrigins()))
		r.Use(rateLimitMiddleware.Handler)
		r.Get("/events", eventsHandler.ServeHTTP)
		r.Mount("/", widgetHandler.Routes())
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
		r.Use(securityHeadersMiddleware.Handler)
		r.Use(middleware.CSRF(production))
		r.Mount("/", adminHandler.Routes())
	})

	cleanupJob := jobs.NewCleanupJob(adminSessionRepo, config.CleanupJobInterval)
	cleanupJob.Start()
	defer cleanupJob.Stop()

	inactivityJob := jobs.NewInactivityJob(lifecycle, cfg.SweepInterval())
	inactivityJob.Start()
	defer inactivityJob.Stop()

	if err := manager.Connect(ctx); err != nil {
		// The manager keeps retrying on its own; the HTTP API reports the state.
		log.Error().Err(err).Msg("initial whatsapp connect failed")
	}

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
	return nil
}

// pairingObserver surfaces the pairing QR to whoever runs the server: on the
// terminal and as a PNG under DATA_DIR.
type pairingObserver struct {
	qrPath string
}

func (o *pairingObserver) OnPairingCode(code string) {
	if err := os.MkdirAll(filepath.Dir(o.qrPath), 0o700); err != nil {
		log.Error().Err(err).Msg("failed to create data dir for pairing qr")
	} else if err := qrcode.WriteFile(code, qrcode.Medium, 256, o.qrPath); err != nil {
		log.Error().Err(err).Msg("failed to write pairing qr")
	}

	qr, err := qrcode.New(code, qrcode.Low)
	if err != nil {
		log.Error().Err(err).Msg("failed to render pairing qr")
		return
	}
	fmt.Fprintln(os.Stderr, qr.ToSmallString(false))
	log.Info().Str("file", o.qrPath).Msg("scan the qr code with the operator's WhatsApp (Linked devices)")
}

func (o *pairingObserver) OnReady() {
	if err := os.Remove(o.qrPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to remove stale pairing qr")
	}
	log.Info().Msg("whatsapp ready")
}

func (o *pairingObserver) OnDisconnect(reason whatsapp.DisconnectReason) {
	log.Warn().Str("reason", string(reason)).Msg("whatsapp disconnected")
}
