package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/markbates/goth"
	gothvk "github.com/markbates/goth/providers/vk"
	"github.com/spf13/cobra"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/storiesoff/backend/internal"
	"github.com/storiesoff/backend/internal/authvk"
	"github.com/storiesoff/backend/internal/billing"
	billingpostgres "github.com/storiesoff/backend/internal/billing/postgres"
	"github.com/storiesoff/backend/internal/core/events"
	"github.com/storiesoff/backend/internal/ocr"
	"github.com/storiesoff/backend/internal/supabase"
	"github.com/storiesoff/backend/internal/transport"
	"github.com/storiesoff/backend/internal/transport/rest"
	"github.com/storiesoff/backend/internal/yookassa"
	"github.com/storiesoff/backend/pkg/logger"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle API requests`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config         *internal.Config
	DB             *sqlx.DB
	Router         *chi.Mux
	BillingHandler *billing.Handler
	WebhookHandler *billing.WebhookHandler
	VKHandler      *authvk.Handler
	OCRHandler     *ocr.Handler
	Logger         *slog.Logger
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	setupRoutes(deps)

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	slog.Info("Starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:         addr,
		Handler:      deps.Router,
		ReadTimeout:  deps.Config.Server.ReadTimeout,
		WriteTimeout: deps.Config.Server.WriteTimeout,
		IdleTimeout:  deps.Config.Server.IdleTimeout,
	}

	// Signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		slog.Info("Received signal, shutting down...", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}
		if err := deps.DB.Close(); err != nil {
			slog.Error("Database close error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}

	slog.Info("Server stopped")
}

func setupRoutes(deps *Dependencies) {
	rest.RegisterAllRoutes(
		deps.Router,
		deps.DB.DB,
		deps.BillingHandler,
		deps.WebhookHandler,
		deps.VKHandler,
		deps.OCRHandler,
		deps.Config.Supabase.JWTSecret,
		deps.Logger,
	)
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.Init(config.Observability.Logging.Level, config.Observability.Logging.Format)
	log := logger.LoggerWrapper()

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// gorm rides on the same pgx connection pool as the health checks
	gormDB, err := gorm.Open(gormpostgres.New(gormpostgres.Config{Conn: db.DB}), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize gorm: %w", err)
	}

	eventBus := events.NewEventBus(log)
	registerEventSubscribers(eventBus, log)

	baseHandler := transport.NewBaseHandler(log)

	// Billing: repository, provider gateway, entitlement granter, lifecycle service
	billingRepo := billingpostgres.NewBillingRepository(gormDB)
	gateway := yookassa.NewClient(yookassa.Config{
		ShopID:    config.YooKassa.ShopID,
		SecretKey: config.YooKassa.SecretKey,
		BaseURL:   config.YooKassa.BaseURL,
		Timeout:   config.YooKassa.Timeout,
	}, log)
	granter := billing.NewGranter(billingRepo, log)
	billingService := billing.NewService(
		billingRepo,
		gateway,
		granter,
		eventBus,
		config.YooKassa.WebhookSecret,
		config.YooKassa.ReturnURL,
		log,
	)
	billingHandler := billing.NewHandler(baseHandler, billingService, log)
	webhookHandler := billing.NewWebhookHandler(baseHandler, billingService, log)

	// VK sign-in over Supabase sessions
	supabaseClient := supabase.NewClient(supabase.Config{
		URL:            config.Supabase.URL,
		ServiceRoleKey: config.Supabase.ServiceRoleKey,
		AnonKey:        config.Supabase.AnonKey,
	}, log)
	vkProvider := newVKProvider(config)
	vkService := authvk.NewService(supabaseClient, config.VK.PasswordSalt, log)
	vkHandler := authvk.NewHandler(vkService, vkProvider, log)

	// OCR proxy
	ocrClient := ocr.NewClient(ocr.Config{
		ServiceURL: config.OCR.ServiceURL,
		Timeout:    config.OCR.Timeout,
	}, log)
	ocrHandler := ocr.NewHandler(ocrClient, log)

	return &Dependencies{
		Config:         config,
		Logger:         log,
		DB:             db,
		Router:         chi.NewRouter(),
		BillingHandler: billingHandler,
		WebhookHandler: webhookHandler,
		VKHandler:      vkHandler,
		OCRHandler:     ocrHandler,
	}, nil
}

func newVKProvider(config *internal.Config) goth.Provider {
	if config.VK.ClientID == "" || config.VK.ClientSecret == "" {
		return nil
	}
	callbackURL := config.Server.BaseURL + "/api/auth/vk/callback"
	return gothvk.New(config.VK.ClientID, config.VK.ClientSecret, callbackURL, "email")
}

// registerEventSubscribers attaches the in-process consumers. A failed grant
// after a completed payment needs someone to act on it, so it is logged loud
// enough for alerting to catch.
func registerEventSubscribers(eventBus *events.EventBus, log *slog.Logger) {
	eventBus.Subscribe(events.EventTypePaymentCompleted, func(ctx context.Context, event events.Event) error {
		log.Info("payment completed",
			"event_id", event.EventID(),
			"payload", event.Payload())
		return nil
	})

	eventBus.Subscribe(events.EventTypeEntitlementGrantFailed, func(ctx context.Context, event events.Event) error {
		log.Error("entitlement grant failed after completed payment, manual reconciliation needed",
			"event_id", event.EventID(),
			"payload", event.Payload())
		return nil
	})
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}
