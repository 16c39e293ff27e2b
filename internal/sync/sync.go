// Package sync drives one mailbox synchronization pass: list candidate
// messages, drop already-applied ones, fetch bodies with bounded
// concurrency, normalize, persist, apply to tickets (inbound before
// outbound), and reconcile.
package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	gosync "sync"
	"time"

	"github.com/rs/zerolog/log"

	"popdesk/internal/emails"
	"popdesk/internal/gmail"
	"popdesk/internal/models"
	"popdesk/internal/tickets"
)

// ErrNotConfigured is returned before any provider call when mailbox
// credentials are missing, so callers can distinguish "not set up" from a
// failed sync.
var ErrNotConfigured = errors.New("mailbox sync is not configured")

// Provider is the mailbox surface the orchestrator consumes.
type Provider interface {
	List(ctx context.Context, query string, maxResults int) ([]gmail.Candidate, error)
	ReadFull(ctx context.Context, messageID string) (*gmail.FullMessage, error)
}

// Store is the persistence surface the orchestrator needs beyond the ticket
// engine's own store.
type Store interface {
	InsertMessage(ctx context.Context, msg *models.Message) (bool, error)
	MarkMessageApplied(ctx context.Context, messageID string) error
	FilterNewMessageIDs(ctx context.Context, ids []string) ([]string, error)
	GetLastSyncAt(ctx context.Context) (*time.Time, error)
	SetLastSyncAt(ctx context.Context, at time.Time) error
	MessageCount(ctx context.Context) (int, error)
	TicketCount(ctx context.Context) (int, error)
}

// Applier is the ticket engine surface driven per message.
type Applier interface {
	ApplyInbound(ctx context.Context, msg *models.Message, customerEmail, subject string) (*tickets.InboundResult, error)
	ApplyOutbound(ctx context.Context, msg *models.Message, recipients []string) (int, error)
	Reconcile(ctx context.Context) (int, error)
}

// Options tune one orchestrator instance.
type Options struct {
	// Timeout is the hard wall-clock budget for one pass. Committed work
	// stands when it trips; the next pass picks up the rest via dedup.
	Timeout time.Duration
	// FetchConcurrency bounds parallel body fetches (provider rate limits).
	FetchConcurrency int
	// MaxResults caps the candidate list per pass.
	MaxResults int
	// BackfillWindow is the listing window when no previous sync exists.
	BackfillWindow time.Duration
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.Timeout <= 0 {
		out.Timeout = 4 * time.Minute
	}
	if out.FetchConcurrency <= 0 {
		out.FetchConcurrency = 10
	}
	if out.MaxResults <= 0 {
		out.MaxResults = 500
	}
	if out.BackfillWindow <= 0 {
		out.BackfillWindow = 7 * 24 * time.Hour
	}
	return out
}

// Orchestrator runs sync passes. Safe for one invocation at a time; an
// overlapping invocation double-fetches at worst, and the per-message
// idempotency (dedup on insert, stale-outbound guard) keeps the result
// consistent.
type Orchestrator struct {
	provider   Provider
	store      Store
	applier    Applier
	classifier *emails.Classifier
	opts       Options
}

func NewOrchestrator(provider Provider, store Store, applier Applier, classifier *emails.Classifier, opts Options) *Orchestrator {
	return &Orchestrator{
		provider:   provider,
		store:      store,
		applier:    applier,
		classifier: classifier,
		opts:       opts.withDefaults(),
	}
}

// Sync runs one pass. fullBackfill ignores the last-sync watermark and
// lists the whole mailbox. The returned result carries partial-success
// semantics: per-message failures land in Errors and the pass keeps going.
func (o *Orchestrator) Sync(ctx context.Context, fullBackfill bool) (*models.SyncResult, error) {
	if o.provider == nil {
		return nil, ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	defer cancel()

	started := time.Now().UTC()
	result := &models.SyncResult{}

	query, err := o.buildQuery(ctx, fullBackfill)
	if err != nil {
		return nil, err
	}

	candidates, err := o.provider.List(ctx, query, o.opts.MaxResults)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	log.Info().Int("candidates", len(candidates)).Str("query", query).Msg("Listed mailbox candidates")

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}
	fresh, err := o.store.FilterNewMessageIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("dedup candidates: %w", err)
	}

	fetched := o.fetchAll(ctx, fresh, result)
	result.MessagesProcessed = len(fetched)

	// Global ordering is by provider timestamp; direction partitioning
	// below overrides processing order so inbound (ticket-creating) runs
	// first, while status decisions still consult the timestamps.
	sort.Slice(fetched, func(i, j int) bool {
		return fetched[i].Timestamp.Before(fetched[j].Timestamp)
	})

	// Staff forwards carry an internal sender but are ticket-creating, so
	// they partition with the inbound set.
	var inboundMsgs, outboundMsgs []*gmail.FullMessage
	for _, fm := range fetched {
		inboundDir := o.classifier.Direction(emails.ParseAddress(fm.From)) == models.DirectionInbound
		if inboundDir || emails.IsForward(fm.Subject) {
			inboundMsgs = append(inboundMsgs, fm)
		} else {
			outboundMsgs = append(outboundMsgs, fm)
		}
	}

	for _, fm := range inboundMsgs {
		o.processInbound(ctx, fm, result)
	}
	for _, fm := range outboundMsgs {
		o.processOutbound(ctx, fm, result)
	}

	reconciled, err := o.applier.Reconcile(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("reconcile: %v", err))
	}
	result.Reconciled = reconciled

	if err := o.store.SetLastSyncAt(ctx, started); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("record sync time: %v", err))
	}

	result.CompletedAt = time.Now().UTC()
	log.Info().
		Int("processed", result.MessagesProcessed).
		Int("inserted", result.MessagesInserted).
		Int("tickets_created", result.TicketsCreated).
		Int("tickets_updated", result.TicketsUpdated).
		Int("reconciled", result.Reconciled).
		Int("errors", len(result.Errors)).
		Dur("elapsed", time.Since(started)).
		Msg("Sync pass completed")

	return result, nil
}

// Status returns the watermark and table counts the dashboard polls for.
func (o *Orchestrator) Status(ctx context.Context) (*models.SyncStatus, error) {
	last, err := o.store.GetLastSyncAt(ctx)
	if err != nil {
		return nil, err
	}
	messages, err := o.store.MessageCount(ctx)
	if err != nil {
		return nil, err
	}
	ticketCount, err := o.store.TicketCount(ctx)
	if err != nil {
		return nil, err
	}
	return &models.SyncStatus{LastSyncAt: last, MessageCount: messages, TicketCount: ticketCount}, nil
}

// buildQuery derives the provider list query from the sync watermark.
func (o *Orchestrator) buildQuery(ctx context.Context, fullBackfill bool) (string, error) {
	if fullBackfill {
		return "", nil
	}

	last, err := o.store.GetLastSyncAt(ctx)
	if err != nil {
		return "", fmt.Errorf("load sync watermark: %w", err)
	}
	if last == nil {
		days := int(o.opts.BackfillWindow.Hours() / 24)
		if days < 1 {
			days = 1
		}
		return fmt.Sprintf("newer_than:%dd", days), nil
	}

	// One-hour overlap absorbs clock skew between us and the provider;
	// dedup drops the overlap for free.
	return fmt.Sprintf("after:%d", last.Add(-time.Hour).Unix()), nil
}

// fetchAll pulls full message bodies with bounded concurrency. Per-message
// fetch failures go to the error list; order of the output is not
// meaningful (callers sort).
func (o *Orchestrator) fetchAll(ctx context.Context, ids []string, result *models.SyncResult) []*gmail.FullMessage {
	var (
		mu      gosync.Mutex
		wg      gosync.WaitGroup
		fetched []*gmail.FullMessage
	)
	sem := make(chan struct{}, o.opts.FetchConcurrency)

	for _, id := range ids {
		if ctx.Err() != nil {
			mu.Lock()
			result.Errors = append(result.Errors, fmt.Sprintf("fetch aborted: %v", ctx.Err()))
			mu.Unlock()
			break
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()

			fm, err := o.provider.ReadFull(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("fetch %s: %v", id, err))
				return
			}
			fetched = append(fetched, fm)
		}(id)
	}
	wg.Wait()

	return fetched
}

// textBody returns the message's plain text, converting from HTML when no
// plain part exists. Quote markers are still present.
func textBody(fm *gmail.FullMessage) string {
	if fm.PlainBody != "" {
		return fm.PlainBody
	}
	if fm.HTMLBody != "" {
		return emails.HTMLToText(fm.HTMLBody)
	}
	return ""
}

// normalize converts a fetched provider message into a storable row.
func (o *Orchestrator) normalize(fm *gmail.FullMessage) *models.Message {
	fromAddr := emails.ParseAddress(fm.From)
	body := emails.StripQuotedText(textBody(fm))

	msg := &models.Message{
		ID:        fm.ID,
		ThreadID:  fm.ThreadID,
		FromAddr:  fromAddr,
		ToAddrs:   strings.Join(emails.ParseAddressList(fm.To), ","),
		CcAddrs:   strings.Join(emails.ParseAddressList(fm.Cc), ","),
		Subject:   fm.Subject,
		Snippet:   fm.Snippet,
		Body:      body,
		Timestamp: fm.Timestamp,
		Direction: o.classifier.Direction(fromAddr),
		IsNoise:   emails.IsNoise(fromAddr, fm.Subject),
	}
	if fm.MessageID != "" {
		mid := fm.MessageID
		msg.MessageID = &mid
	}
	return msg
}

// persist inserts the message row. Returns false when ticket side effects
// must be skipped because the row was never durably recorded.
func (o *Orchestrator) persist(ctx context.Context, msg *models.Message, result *models.SyncResult) bool {
	inserted, err := o.store.InsertMessage(ctx, msg)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("insert %s: %v", msg.ID, err))
		return false
	}
	if inserted {
		result.MessagesInserted++
	}
	return true
}

// processInbound normalizes, persists, and applies one ticket-creating
// message: customer mail, or a staff forward of customer mail.
func (o *Orchestrator) processInbound(ctx context.Context, fm *gmail.FullMessage, result *models.SyncResult) {
	msg := o.normalize(fm)

	customerEmail, subject := msg.FromAddr, msg.Subject
	if msg.Direction == models.DirectionOutbound {
		// Internal sender: this is a staff forward. Recover the customer
		// from the forwarded body (pre-strip, since quote stripping cuts
		// at the forward banner), or keep the raw row without ticket side
		// effects when the original sender is internal too.
		resolved, ok := o.classifier.ResolveForward(msg.Subject, textBody(fm))
		if !ok {
			if o.persist(ctx, msg, result) {
				o.markApplied(ctx, msg.ID, result)
			}
			return
		}
		msg.Direction = models.DirectionInbound
		customerEmail, subject = resolved.CustomerEmail, resolved.Subject
	}

	if !o.persist(ctx, msg, result) {
		return
	}
	if msg.IsNoise {
		o.markApplied(ctx, msg.ID, result)
		return
	}

	o.applyInbound(ctx, msg, customerEmail, subject, result)
}

// processOutbound persists one staff reply and applies it to every ticket
// addressed to a recipient.
func (o *Orchestrator) processOutbound(ctx context.Context, fm *gmail.FullMessage, result *models.SyncResult) {
	msg := o.normalize(fm)

	if !o.persist(ctx, msg, result) {
		return
	}
	if msg.IsNoise {
		o.markApplied(ctx, msg.ID, result)
		return
	}

	recipients := append(emails.ParseAddressList(fm.To), emails.ParseAddressList(fm.Cc)...)
	updated, err := o.applier.ApplyOutbound(ctx, msg, recipients)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("apply outbound %s: %v", msg.ID, err))
		return
	}
	result.TicketsUpdated += updated
	o.markApplied(ctx, msg.ID, result)
}

func (o *Orchestrator) applyInbound(ctx context.Context, msg *models.Message, customerEmail, subject string, result *models.SyncResult) {
	res, err := o.applier.ApplyInbound(ctx, msg, customerEmail, subject)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("apply inbound %s: %v", msg.ID, err))
		return
	}
	if res.Created {
		result.TicketsCreated++
	}
	if res.Updated {
		result.TicketsUpdated++
	}
	o.markApplied(ctx, msg.ID, result)
}

func (o *Orchestrator) markApplied(ctx context.Context, messageID string, result *models.SyncResult) {
	if err := o.store.MarkMessageApplied(ctx, messageID); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("mark applied %s: %v", messageID, err))
	}
}
