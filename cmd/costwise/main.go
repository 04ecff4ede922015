package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/costwise-ai/costwise/internal/breaker"
	"github.com/costwise-ai/costwise/internal/cache"
	"github.com/costwise-ai/costwise/internal/classifier"
	"github.com/costwise-ai/costwise/internal/config"
	"github.com/costwise-ai/costwise/internal/engine"
	"github.com/costwise-ai/costwise/internal/kvstore"
	"github.com/costwise-ai/costwise/internal/providers"
	"github.com/costwise-ai/costwise/internal/providers/anthropic"
	"github.com/costwise-ai/costwise/internal/providers/openai"
	"github.com/costwise-ai/costwise/internal/savings"
	"github.com/costwise-ai/costwise/internal/security"
	"github.com/costwise-ai/costwise/internal/server"
	"github.com/costwise-ai/costwise/internal/store"
)

// Application represents the main application
type Application struct {
	config  *config.Config
	engine  *engine.Engine
	server  *server.Server
	logger  *logrus.Logger
	kvClose func() error
	dbClose func() error
}

// NewApplication creates a new application instance
func NewApplication(configPath string) (*Application, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logrus.New()
	if err := setupLogger(logger, cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}

	catalog, err := cfg.BuildCatalog()
	if err != nil {
		return nil, fmt.Errorf("failed to build pricing catalog: %w", err)
	}

	// Cache key-value store
	kv, err := kvstore.NewSQLite(cfg.Engine.CachePath, cfg.Engine.CacheOpTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache store: %w", err)
	}

	// Durable run and feedback store
	db, err := store.New(cfg.Engine.StorePath)
	if err != nil {
		kv.Close()
		return nil, fmt.Errorf("failed to open run store: %w", err)
	}

	gateway := cache.NewGateway(kv, cfg.Engine.CacheTTL, logger)
	cls := classifier.New(
		cfg.Engine.Classifier.Heuristics,
		cfg.Engine.Classifier.Thresholds,
		cfg.Engine.Classifier.Substitutions,
		cfg.Pricing.CheapestModel,
		logger,
	)
	brk := breaker.New(db, cfg.Engine.Breaker, logger)
	calc := savings.New(db, gateway, catalog, logger)

	eng := engine.New(gateway, cls, brk, calc, catalog, db, logger)

	provs, err := buildProviders(cfg, logger)
	if err != nil {
		kv.Close()
		db.Close()
		return nil, err
	}

	auth := security.NewAuthenticator(&cfg.Security.Auth, logger)
	rateLimiter := security.NewRateLimiter(&cfg.Security.RateLimit, logger)

	serverConfig := &server.Config{
		Port:           cfg.Server.Port,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
		Validation:     cfg.Server.Validation,
	}

	srv, err := server.NewServer(eng, provs, serverConfig, auth, rateLimiter, logger)
	if err != nil {
		kv.Close()
		db.Close()
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	return &Application{
		config:  cfg,
		engine:  eng,
		server:  srv,
		logger:  logger,
		kvClose: kv.Close,
		dbClose: db.Close,
	}, nil
}

// Run starts the application
func (app *Application) Run() error {
	app.logger.Info("Starting CostWise")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		app.logger.WithField("address", ":"+app.config.Server.Port).Info("HTTP server starting")
		if err := app.server.Start(); err != nil {
			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		app.logger.WithField("signal", sig.String()).Info("Shutdown signal received")
	}

	app.logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()

	if err := app.server.Stop(shutdownCtx); err != nil {
		app.logger.WithError(err).Error("Server shutdown error")
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	if err := app.kvClose(); err != nil {
		app.logger.WithError(err).Warn("Cache store close error")
	}
	if err := app.dbClose(); err != nil {
		app.logger.WithError(err).Warn("Run store close error")
	}

	app.logger.Info("Graceful shutdown completed")
	return nil
}

// setupLogger configures the logger based on configuration
func setupLogger(logger *logrus.Logger, config config.LoggingConfig) error {
	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %s: %w", config.Level, err)
	}
	logger.SetLevel(level)

	switch config.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	default:
		return fmt.Errorf("invalid log format: %s", config.Format)
	}

	switch config.Output {
	case "stdout":
		logger.SetOutput(os.Stdout)
	case "stderr":
		logger.SetOutput(os.Stderr)
	default:
		// Assume it's a file path
		file, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", config.Output, err)
		}
		logger.SetOutput(file)
	}

	return nil
}

// buildProviders constructs all configured upstream providers
func buildProviders(cfg *config.Config, logger *logrus.Logger) (map[string]providers.LLMProvider, error) {
	provs := make(map[string]providers.LLMProvider)

	if cfg.Providers.OpenAI != nil && cfg.Providers.OpenAI.APIKey != "" {
		provs["openai"] = openai.NewOpenAIProvider(cfg.Providers.OpenAI, logger)
		logger.WithField("provider", "openai").Info("OpenAI provider registered")
	}

	if cfg.Providers.Anthropic != nil && cfg.Providers.Anthropic.APIKey != "" {
		provs["anthropic"] = anthropic.NewAnthropicProvider(cfg.Providers.Anthropic, logger)
		logger.WithField("provider", "anthropic").Info("Anthropic provider registered")
	}

	if len(provs) == 0 {
		return nil, fmt.Errorf("no providers were registered - check your configuration and API keys")
	}

	logger.WithField("count", len(provs)).Info("Provider registration completed")
	return provs, nil
}

// printUsage prints application usage information
func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "\nOptions:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
	fmt.Fprintf(os.Stderr, "  OPENAI_API_KEY        OpenAI API key\n")
	fmt.Fprintf(os.Stderr, "  ANTHROPIC_API_KEY     Anthropic API key\n")
	fmt.Fprintf(os.Stderr, "  COSTWISE_PORT         Server port (default: 8080)\n")
	fmt.Fprintf(os.Stderr, "  COSTWISE_LOG_LEVEL    Log level (debug,info,warn,error,fatal)\n")
	fmt.Fprintf(os.Stderr, "  COSTWISE_LOG_FORMAT   Log format (json,text)\n")
	fmt.Fprintf(os.Stderr, "  COSTWISE_STORE_PATH   Path to the run store database\n")
	fmt.Fprintf(os.Stderr, "  COSTWISE_CACHE_PATH   Path to the cache database\n")
	fmt.Fprintf(os.Stderr, "  COSTWISE_JWT_SECRET   Secret for admin JWT tokens\n")
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  %s --config configs/config.yaml\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  OPENAI_API_KEY=sk-xxx %s\n", os.Args[0])
}

func main() {
	var (
		configPath = flag.String("config", "", "Path to configuration file")
		showHelp   = flag.Bool("help", false, "Show help message")
		version    = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showHelp {
		printUsage()
		os.Exit(0)
	}

	if *version {
		fmt.Printf("CostWise v1.0.0\n")
		os.Exit(0)
	}

	app, err := NewApplication(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Application error: %v\n", err)
		os.Exit(1)
	}
}
