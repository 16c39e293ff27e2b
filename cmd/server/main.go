package main

import (
	"context"
	"strconv"
	"strings"
	"time"

	"popdesk/internal/auth"
	"popdesk/internal/config"
	"popdesk/internal/database"
	"popdesk/internal/emails"
	"popdesk/internal/fever"
	"popdesk/internal/gmail"
	"popdesk/internal/k8s"
	"popdesk/internal/notify"
	"popdesk/internal/openai"
	"popdesk/internal/server"
	syncengine "popdesk/internal/sync"
	"popdesk/internal/tickets"
)

// parsePlanIDs turns the comma-separated FEVER_PLAN_IDS value into ints,
// dropping segments that don't parse.
func parsePlanIDs(raw string) []int {
	var ids []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if id, err := strconv.Atoi(part); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

func main() {
	// Load configuration
	cfg := config.Load()

	// Setup logger
	logger := cfg.SetupLogger()

	// Initialize database connection
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Database connection failed")
	}
	store, err := database.NewStore(db)
	if err != nil {
		logger.Fatal().Err(err).Msg("Database migration failed")
	}
	logger.Info().Msg("Database connection established successfully")

	ctx := context.Background()

	// Gmail mailbox access is optional; sync routes answer 503 without it.
	var provider syncengine.Provider
	deps := server.Deps{DB: db, Store: store}
	if cfg.MailboxConfigured() {
		client, err := gmail.LoadClient(ctx, cfg.GmailCredentialsFile, cfg.GmailTokenFile)
		if err != nil {
			logger.Warn().Err(err).Msg("Gmail client unavailable, mailbox sync disabled")
		} else {
			provider = client
			deps.Sender = client
		}
	} else {
		logger.Info().Msg("Mailbox not configured, sync disabled")
	}

	// AI summaries are best-effort; tickets work without them.
	var summarizer tickets.Summarizer
	if cfg.OpenAIKey != "" {
		client, err := openai.NewClient(cfg.OpenAIKey, time.Duration(cfg.OpenAITimeout)*time.Second)
		if err != nil {
			logger.Warn().Err(err).Msg("OpenAI client unavailable, summaries disabled")
		} else {
			summarizer = client
		}
	}

	engine := tickets.NewEngine(store, summarizer)
	classifier := emails.NewClassifier(cfg.SupportAddresses)
	orchestrator := syncengine.NewOrchestrator(provider, store, engine, classifier, syncengine.Options{
		Timeout:          time.Duration(cfg.SyncTimeoutSeconds) * time.Second,
		FetchConcurrency: cfg.SyncFetchConcurrency,
		MaxResults:       cfg.SyncMaxResults,
	})

	notifier := notify.New(store, notify.Options{
		SlackWebhookURL: cfg.SlackWebhookURL,
		SendGridAPIKey:  cfg.SendGridAPIKey,
		TeamEmail:       cfg.TeamEmail,
		FromEmail:       cfg.MailboxAddress,
		StaleAfter:      time.Duration(cfg.StaleTicketHours) * time.Hour,
	})

	deps.Actions = engine
	deps.Syncer = orchestrator
	deps.Sweeper = notifier
	deps.AuthManager = auth.NewManager(cfg.AdminUsername, cfg.AdminPassword)

	if cfg.FeverConfigured() {
		deps.Orders = fever.NewClient(fever.Options{
			Host:     cfg.FeverHost,
			Username: cfg.FeverUsername,
			Password: cfg.FeverPassword,
			PlanIDs:  parsePlanIDs(cfg.FeverPlanIDs),
		})
		deps.OrderStore = store
	} else {
		logger.Info().Msg("Fever credentials not configured, order sync disabled")
	}

	if cfg.BackfillImage != "" {
		launcher, err := k8s.NewClient(cfg.Namespace)
		if err != nil {
			logger.Warn().Err(err).Msg("Kubernetes client unavailable, backfill jobs disabled")
		} else {
			deps.Launcher = launcher
		}
	}

	// Create and initialize server
	srv := server.New(cfg, logger, deps)
	srv.Initialize()

	// Start server
	if err := srv.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Server failed to start")
	}
}
