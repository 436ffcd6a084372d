package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm/logger"

	"github.com/alerthub/alerthub/internal/alarm"
	"github.com/alerthub/alerthub/internal/alerts/adapters"
	"github.com/alerthub/alerthub/internal/config"
	"github.com/alerthub/alerthub/internal/correlation"
	"github.com/alerthub/alerthub/internal/database"
	"github.com/alerthub/alerthub/internal/handlers"
	"github.com/alerthub/alerthub/internal/incidents"
	"github.com/alerthub/alerthub/internal/issues"
	"github.com/alerthub/alerthub/internal/jobs"
	"github.com/alerthub/alerthub/internal/middleware"
	"github.com/alerthub/alerthub/internal/move"
	"github.com/alerthub/alerthub/internal/notify"
	"github.com/alerthub/alerthub/internal/patterns"
	"github.com/alerthub/alerthub/internal/ticket"
)

const version = "1.0.0"

func main() {
	// Load .env file if it exists (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading it (this is fine if using environment variables): %v", err)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting AlertHub %s...", version)

	// Initialize JWT authentication middleware
	if cfg.AdminPassword == "" {
		log.Fatalf("ADMIN_PASSWORD is not set")
	}

	// Hash the admin password
	passwordHash, err := middleware.HashPassword(cfg.AdminPassword)
	if err != nil {
		log.Fatalf("Failed to hash admin password: %v", err)
	}

	jwtAuthMiddleware := middleware.NewJWTAuthMiddleware(&middleware.JWTAuthConfig{
		Enabled:           true,
		AdminUsername:     cfg.AdminUsername,
		AdminPasswordHash: passwordHash,
		JWTSecret:         cfg.JWTSecret,
		JWTExpiryHours:    cfg.JWTExpiryHours,
		SkipPaths: []string{
			"/health",
			"/api/alerts",
			"/webhook/*",
			"/ws/alerts",
			"/auth/login",
		},
	})
	log.Printf("JWT authentication enabled for user: %s", cfg.AdminUsername)

	// API keys guard the machine ingest endpoint, which the JWT layer
	// skips. Everything else stays on JWT.
	apiKeyMiddleware := middleware.NewAuthMiddleware(&middleware.AuthConfig{
		SkipPaths: []string{
			"/health",
			"/auth/*",
			"/ws/alerts",
			"/api/alerts/*",
			"/api/patterns*",
			"/api/issues*",
		},
	})
	apiKeyMiddleware.SetAPIKeys(cfg.APIKeys)

	// Initialize database connection
	if err := database.Connect(cfg.DatabaseURL, logger.Warn, 10); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Run database migrations
	if err := database.AutoMigrate(); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}

	db := database.GetDB()
	alertStore := database.NewAlertStore(db)
	patternStore := database.NewPatternStore(db)
	issueStore := database.NewIssueStore(db)

	// Seed default patterns when the table is empty
	if err := patternStore.SeedFromFile(cfg.PatternSeedFile); err != nil {
		log.Printf("Warning: Failed to seed patterns from %s: %v", cfg.PatternSeedFile, err)
	}

	patternCache := patterns.NewCache(patternStore, time.Duration(cfg.PatternCacheTTLSeconds)*time.Second)

	// External ticket tracker (optional)
	ticketClient := ticket.NewClient(cfg.TicketBaseURL, cfg.TicketToken, cfg.TicketProjectKey)
	var transitioner alarm.Transitioner
	if ticketClient.Configured() {
		transitioner = ticketClient
		log.Printf("Ticket tracker enabled: %s", cfg.TicketBaseURL)
	} else {
		log.Printf("Ticket tracker disabled (set TICKET_BASE_URL and TICKET_TOKEN to enable)")
	}

	model := alarm.NewModel(transitioner)
	aggregator := incidents.NewAggregator(alertStore, model, 100)
	issueEngine := issues.NewEngine(issueStore, alertStore, cfg.IssueHostWeight, cfg.IssueCombinedWeight)

	var limiter correlation.RateLimiter
	if cfg.RateLimitPerMinute > 0 {
		limiter = correlation.NewOriginRateLimiter(cfg.RateLimitPerMinute, time.Minute)
		log.Printf("Ingest rate limit: %d alerts per origin per minute", cfg.RateLimitPerMinute)
	}

	engine := correlation.NewEngine(alertStore, patternStore, patternCache, model, aggregator, issueEngine, correlation.Config{
		AcquireTimeout:      time.Duration(cfg.AcquireTimeoutSeconds) * time.Second,
		GroupingWindow:      time.Duration(cfg.GroupingWindowSeconds) * time.Second,
		AllowedEnvironments: cfg.AllowedEnvironments,
		OriginBlacklist:     cfg.OriginBlacklist,
		Origin:              cfg.ServerOrigin,
		RateLimiter:         limiter,
	})

	dispatcher := ticket.NewDispatcher(cfg.TicketWorkers, cfg.TicketQueueSize)
	defer dispatcher.Close()

	notifier := notify.NewSlackNotifier(cfg.SlackBotToken, cfg.SlackChannel)
	if notifier.Configured() {
		log.Printf("Slack notifications enabled on channel %s", cfg.SlackChannel)
	} else {
		log.Printf("Slack notifications disabled (set SLACK_BOT_TOKEN and SLACK_CHANNEL to enable)")
	}

	streamHandler := handlers.NewStreamHandler()

	// Operator-driven closes and new issues also reach the channel. The
	// issue hook fires under the ingest guard, so the post goes through
	// the dispatcher.
	engine.OnClose = notifier.AlertClosed
	issueEngine.OnOpen = func(issue *database.Issue) {
		dispatcher.Submit("notify-issue", func() error {
			notifier.IssueOpened(issue)
			return nil
		})
	}

	// Side effects after each ingest decision: live stream, operator
	// notification and ticket creation for new incident parents.
	engine.After = func(result *correlation.Result) {
		streamHandler.BroadcastResult(result)

		if result.Outcome == correlation.OutcomeCorrelated && result.Alert.Status == alarm.StatusClosed {
			notifier.AlertClosed(result.Alert)
		}
		if result.Outcome != correlation.OutcomeCreated || !result.Alert.Attributes.Incident {
			return
		}
		notifier.AlertCreated(result.Alert)

		if !ticketClient.Configured() {
			return
		}
		alertID := result.Alert.ID
		dispatcher.Submit("create-ticket", func() error {
			fresh, err := alertStore.Get(alertID)
			if err != nil {
				return fmt.Errorf("load alert %s: %w", alertID, err)
			}
			if fresh.Attributes.TicketKey != "" {
				return nil
			}
			key, url, err := ticketClient.CreateTicket(fresh)
			if err != nil {
				return err
			}
			fresh.Attributes.TicketKey = key
			fresh.Attributes.TicketURL = url
			fresh.Attributes.TicketStatus = "Open"
			return alertStore.Save(fresh)
		})
	}

	orchestrator := move.NewOrchestrator(alertStore, patternStore, patternCache, aggregator)

	// Set up HTTP server routes
	mux := http.NewServeMux()
	handlers.NewHTTPHandler(version).SetupRoutes(mux)
	handlers.NewAlertHandler(engine, alertStore, orchestrator, patternStore).SetupRoutes(mux)
	handlers.NewPatternHandler(patternStore, patternCache).SetupRoutes(mux)
	handlers.NewIssueHandler(issueEngine, issueStore, alertStore).SetupRoutes(mux)
	handlers.NewAuthHandler(jwtAuthMiddleware).SetupRoutes(mux)
	streamHandler.SetupRoutes(mux)

	webhookHandler := handlers.NewWebhookHandler(engine,
		adapters.NewZabbixAdapter(),
		adapters.NewAlertmanagerAdapter(),
		adapters.NewGrafanaAdapter(),
		adapters.NewPagerDutyAdapter(),
		adapters.NewDatadogAdapter(),
	)
	webhookHandler.SetupRoutes(mux)
	log.Printf("Webhook adapters registered: %s", strings.Join(webhookHandler.Sources(), ", "))

	// Middleware chain: request id, CORS, API key, then JWT
	corsMiddleware := middleware.NewCORSMiddleware() // Allow all origins
	handler := middleware.RequestIDMiddleware(
		corsMiddleware.Wrap(
			apiKeyMiddleware.Wrap(
				jwtAuthMiddleware.Wrap(mux))))

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: handler,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("Starting HTTP server on port %d", cfg.HTTPPort)
		errCh := make(chan error, 1)
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
			close(errCh)
		}()
		select {
		case <-gCtx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			log.Println("Shutting down HTTP server...")
			return httpServer.Shutdown(shutdownCtx)
		case err := <-errCh:
			return err
		}
	})

	// Periodic housekeeping: expire timed out alerts, lift stale
	// shelves and acks
	housekeeping := jobs.NewHousekeeping(alertStore, engine,
		time.Duration(cfg.ShelveTimeoutSeconds)*time.Second,
		time.Duration(cfg.AckTimeoutSeconds)*time.Second)
	g.Go(func() error {
		housekeeping.Start(time.Duration(cfg.HousekeepingIntervalSeconds)*time.Second, gCtx.Done())
		return nil
	})

	log.Printf("Alert ingest endpoint: http://localhost:%d/api/alerts", cfg.HTTPPort)
	log.Printf("Health check endpoint: http://localhost:%d/health", cfg.HTTPPort)
	log.Printf("Live stream endpoint: ws://localhost:%d/ws/alerts", cfg.HTTPPort)

	if err := g.Wait(); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	if err := database.Close(); err != nil {
		log.Printf("Error closing database: %v", err)
	}
	log.Println("Shutdown complete")
}
