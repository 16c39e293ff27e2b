// Command sync-tickets runs one mailbox sync pass and exits. The backfill
// Kubernetes Job runs it with -full; a cron can run it without for an
// incremental pass.
package main

import (
	"context"
	"flag"
	"time"

	"popdesk/internal/config"
	"popdesk/internal/database"
	"popdesk/internal/emails"
	"popdesk/internal/gmail"
	"popdesk/internal/openai"
	syncengine "popdesk/internal/sync"
	"popdesk/internal/tickets"
)

func main() {
	full := flag.Bool("full", false, "ignore the incremental watermark and sync the whole mailbox")
	flag.Parse()

	cfg := config.Load()
	logger := cfg.SetupLogger()

	if !cfg.MailboxConfigured() {
		logger.Fatal().Msg("Mailbox is not configured")
	}

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Database connection failed")
	}
	store, err := database.NewStore(db)
	if err != nil {
		logger.Fatal().Err(err).Msg("Database migration failed")
	}

	ctx := context.Background()

	provider, err := gmail.LoadClient(ctx, cfg.GmailCredentialsFile, cfg.GmailTokenFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("Gmail client unavailable")
	}

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

	result, err := orchestrator.Sync(ctx, *full)
	if err != nil {
		logger.Fatal().Err(err).Bool("full", *full).Msg("Sync failed")
	}

	logger.Info().
		Bool("full", *full).
		Int("messages_processed", result.MessagesProcessed).
		Int("messages_inserted", result.MessagesInserted).
		Int("tickets_created", result.TicketsCreated).
		Int("tickets_updated", result.TicketsUpdated).
		Int("reconciled", result.Reconciled).
		Int("errors", len(result.Errors)).
		Msg("Sync complete")
}
