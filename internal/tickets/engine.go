package tickets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"popdesk/internal/database"
	"popdesk/internal/models"
)

// Store is the persistence surface the engine needs. *database.Store
// satisfies it; tests substitute a fake.
type Store interface {
	GetTicketByKey(ctx context.Context, key string) (*models.Ticket, error)
	GetMappedTicket(ctx context.Context, threadID string) (*models.Ticket, error)
	GetTicketsByThread(ctx context.Context, threadID string) ([]models.Ticket, error)
	LatestAwaitingCustomerTicket(ctx context.Context, customerEmail string) (*models.Ticket, error)
	CreateTicket(ctx context.Context, ticket *models.Ticket) error
	UpdateTicket(ctx context.Context, ticket *models.Ticket) error
	CreateThreadMapping(ctx context.Context, threadID, ticketKey string) error
	ListOpenTickets(ctx context.Context) ([]models.Ticket, error)
	AppendActivity(ctx context.Context, activity *models.Activity) error
}

// Summarizer produces a short ticket summary from the first message.
// Best-effort: failures are logged and the ticket proceeds without one.
type Summarizer interface {
	Summarize(ctx context.Context, subject, body string) (string, error)
}

// Engine applies messages to tickets.
type Engine struct {
	store      Store
	summarizer Summarizer // may be nil
}

// maxUpdateRetries bounds the re-read-and-retry loop on version conflicts.
const maxUpdateRetries = 3

// errNoTicket signals that an update targeted a nonexistent key.
var errNoTicket = errors.New("no such ticket")

func NewEngine(store Store, summarizer Summarizer) *Engine {
	return &Engine{store: store, summarizer: summarizer}
}

// InboundResult reports what ApplyInbound did.
type InboundResult struct {
	Created bool
	Updated bool
	Ticket  *models.Ticket
}

// ApplyInbound resolves the ticket a customer message belongs to and applies
// the inbound transition, creating the ticket when no resolution matches.
// customerEmail is the normalized customer address (post forward
// resolution); subject is the storage subject (forward prefix stripped).
func (e *Engine) ApplyInbound(ctx context.Context, msg *models.Message, customerEmail, subject string) (*InboundResult, error) {
	key := DeriveKey(msg.ThreadID, customerEmail)

	// Resolution precedence: direct key, then thread mapping, then the
	// awaiting-customer recency fallback. First match wins.
	ticket, err := e.store.GetTicketByKey(ctx, key)
	if err != nil {
		return nil, err
	}

	if ticket == nil {
		ticket, err = e.store.GetMappedTicket(ctx, msg.ThreadID)
		if err != nil {
			return nil, err
		}
	}

	if ticket == nil {
		ticket, err = e.store.LatestAwaitingCustomerTicket(ctx, customerEmail)
		if err != nil {
			return nil, err
		}
		if ticket != nil {
			// The provider opened a fresh thread for a reply to our
			// outbound. Bind the new thread to the ticket so later
			// messages resolve via the mapping.
			if err := e.store.CreateThreadMapping(ctx, msg.ThreadID, ticket.Key); err != nil {
				return nil, err
			}
		}
	}

	if ticket == nil {
		created, err := e.createTicket(ctx, msg, key, customerEmail, subject)
		if err != nil {
			return nil, err
		}
		return &InboundResult{Created: true, Ticket: created}, nil
	}

	updated, err := e.updateWithRetry(ctx, ticket.Key, func(t *models.Ticket) bool {
		registerInbound(t, msg.Timestamp)
		if t.ThreadID != msg.ThreadID {
			t.ThreadID = msg.ThreadID // ticket continues under the new thread
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	e.appendActivity(ctx, updated.Key, models.ActivityCustomerReplied, nil)
	e.ensureSummary(ctx, updated, subject, msg.Body)

	return &InboundResult{Updated: true, Ticket: updated}, nil
}

// ApplyOutbound resolves every ticket a staff message responds to and
// applies the outbound transition. Resolution is one-to-many: tickets bound
// to the thread plus tickets reachable via a mapping, kept only when the
// ticket's customer is actually among the recipients. Returns the number of
// tickets changed.
func (e *Engine) ApplyOutbound(ctx context.Context, msg *models.Message, recipients []string) (int, error) {
	byThread, err := e.store.GetTicketsByThread(ctx, msg.ThreadID)
	if err != nil {
		return 0, err
	}

	candidates := make(map[string]bool, len(byThread)+1)
	for _, t := range byThread {
		candidates[t.Key] = true
	}

	mapped, err := e.store.GetMappedTicket(ctx, msg.ThreadID)
	if err != nil {
		return 0, err
	}
	if mapped != nil {
		candidates[mapped.Key] = true
	}

	recipientSet := make(map[string]bool, len(recipients))
	for _, r := range recipients {
		recipientSet[strings.ToLower(strings.TrimSpace(r))] = true
	}

	updated := 0
	for key := range candidates {
		ticket, err := e.store.GetTicketByKey(ctx, key)
		if err != nil {
			return updated, err
		}
		if ticket == nil || !recipientSet[ticket.CustomerEmail] {
			continue
		}

		changed := false
		_, err = e.updateWithRetry(ctx, key, func(t *models.Ticket) bool {
			changed = registerOutbound(t, msg.Timestamp)
			return changed
		})
		if err != nil {
			return updated, err
		}
		if changed {
			updated++
		}
	}

	return updated, nil
}

// Reconcile sweeps all open tickets and repairs status and follow-up drift
// left by out-of-order processing within a batch. Idempotent. Returns the
// number of tickets corrected.
func (e *Engine) Reconcile(ctx context.Context) (int, error) {
	open, err := e.store.ListOpenTickets(ctx)
	if err != nil {
		return 0, err
	}

	fixed := 0
	for i := range open {
		key := open[i].Key
		changed := false
		_, err := e.updateWithRetry(ctx, key, func(t *models.Ticket) bool {
			if t.Status == models.StatusResolved {
				return false
			}
			if want := derivedStatus(t); t.Status != want {
				t.Status = want
				changed = true
			}
			if t.Status == models.StatusAwaitingTeam && t.LastOutboundAt != nil && !t.IsFollowUp {
				t.IsFollowUp = true
				changed = true
			}
			return changed
		})
		if err != nil {
			return fixed, fmt.Errorf("reconcile ticket %s: %w", key, err)
		}
		if changed {
			fixed++
		}
	}

	return fixed, nil
}

// createTicket inserts a fresh awaiting-team ticket for a first inbound.
func (e *Engine) createTicket(ctx context.Context, msg *models.Message, key, customerEmail, subject string) (*models.Ticket, error) {
	at := msg.Timestamp
	ticket := &models.Ticket{
		Key:           key,
		ThreadID:      msg.ThreadID,
		CustomerEmail: strings.ToLower(strings.TrimSpace(customerEmail)),
		Subject:       subject,
		Status:        models.StatusAwaitingTeam,
		LastInboundAt: &at,
	}

	if err := e.store.CreateTicket(ctx, ticket); err != nil {
		return nil, err
	}

	e.appendActivity(ctx, key, models.ActivityCreated, nil)
	e.ensureSummary(ctx, ticket, subject, msg.Body)

	return ticket, nil
}

// updateWithRetry re-reads and re-applies a mutation when the version guard
// trips, up to maxUpdateRetries times. apply returns false to signal that
// the re-read state needs no write (the update becomes a no-op).
func (e *Engine) updateWithRetry(ctx context.Context, key string, apply func(*models.Ticket) bool) (*models.Ticket, error) {
	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		ticket, err := e.store.GetTicketByKey(ctx, key)
		if err != nil {
			return nil, err
		}
		if ticket == nil {
			return nil, fmt.Errorf("ticket %s: %w", key, errNoTicket)
		}

		if !apply(ticket) {
			return ticket, nil
		}

		err = e.store.UpdateTicket(ctx, ticket)
		if err == nil {
			return ticket, nil
		}
		if !errors.Is(err, database.ErrVersionConflict) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("ticket %s: too many concurrent updates", key)
}

// ensureSummary generates a summary once per ticket, best-effort.
func (e *Engine) ensureSummary(ctx context.Context, ticket *models.Ticket, subject, body string) {
	if e.summarizer == nil || ticket.Summary != nil {
		return
	}

	summary, err := e.summarizer.Summarize(ctx, subject, body)
	if err != nil {
		log.Warn().Err(err).Str("ticket_key", ticket.Key).Msg("Summary generation failed")
		return
	}
	if summary == "" {
		return
	}

	_, err = e.updateWithRetry(ctx, ticket.Key, func(t *models.Ticket) bool {
		if t.Summary != nil {
			return false
		}
		t.Summary = &summary
		return true
	})
	if err != nil {
		log.Warn().Err(err).Str("ticket_key", ticket.Key).Msg("Failed to store summary")
	}
}

// appendActivity writes a timeline entry, best-effort. The activity log is
// for the UI only; a failed write never fails the sync.
func (e *Engine) appendActivity(ctx context.Context, ticketKey, kind string, actor *string) {
	activity := &models.Activity{
		ID:        uuid.NewString(),
		TicketKey: ticketKey,
		Kind:      kind,
		Actor:     actor,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.AppendActivity(ctx, activity); err != nil {
		log.Warn().Err(err).Str("ticket_key", ticketKey).Str("kind", kind).Msg("Failed to append activity")
	}
}
