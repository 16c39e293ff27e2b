package tickets

import (
	"context"
	"errors"
	"time"

	"popdesk/internal/models"
)

// Manual-action failures surfaced to the dashboard.
var (
	ErrTicketNotFound  = errors.New("ticket not found")
	ErrAlreadyClaimed  = errors.New("ticket is already claimed")
	ErrNotClaimedByYou = errors.New("ticket is claimed by someone else")
)

// Claim assigns a ticket to an actor. Fails when someone else already holds
// the claim; re-claiming your own ticket is a no-op.
func (e *Engine) Claim(ctx context.Context, key, actor string) (*models.Ticket, error) {
	var claimErr error
	ticket, err := e.updateWithRetry(ctx, key, func(t *models.Ticket) bool {
		if t.ClaimedBy != nil {
			if *t.ClaimedBy != actor {
				claimErr = ErrAlreadyClaimed
			}
			return false
		}
		now := time.Now().UTC()
		t.ClaimedBy = &actor
		t.ClaimedAt = &now
		return true
	})
	if err != nil {
		return nil, notFoundOr(err)
	}
	if claimErr != nil {
		return nil, claimErr
	}

	e.appendActivity(ctx, key, models.ActivityClaimed, &actor)
	return ticket, nil
}

// Unclaim releases a claim. Only the claimer can release it.
func (e *Engine) Unclaim(ctx context.Context, key, actor string) (*models.Ticket, error) {
	var claimErr error
	ticket, err := e.updateWithRetry(ctx, key, func(t *models.Ticket) bool {
		if t.ClaimedBy == nil {
			return false
		}
		if *t.ClaimedBy != actor {
			claimErr = ErrNotClaimedByYou
			return false
		}
		t.ClaimedBy = nil
		t.ClaimedAt = nil
		return true
	})
	if err != nil {
		return nil, notFoundOr(err)
	}
	if claimErr != nil {
		return nil, claimErr
	}

	e.appendActivity(ctx, key, models.ActivityUnclaimed, &actor)
	return ticket, nil
}

// MarkResponded resolves a ticket by hand, for conversations handled
// outside email (in person, on chat). Records the actor and consumes any
// open claim.
func (e *Engine) MarkResponded(ctx context.Context, key, actor string) (*models.Ticket, error) {
	ticket, err := e.updateWithRetry(ctx, key, func(t *models.Ticket) bool {
		now := time.Now().UTC()
		t.Status = models.StatusResolved
		t.RespondedBy = &actor
		t.RespondedAt = &now
		t.ClaimedBy = nil
		t.ClaimedAt = nil
		return true
	})
	if err != nil {
		return nil, notFoundOr(err)
	}

	e.appendActivity(ctx, key, models.ActivityResponded, &actor)
	return ticket, nil
}

// Reopen puts a resolved or answered ticket back in the team's queue.
func (e *Engine) Reopen(ctx context.Context, key, actor string) (*models.Ticket, error) {
	ticket, err := e.updateWithRetry(ctx, key, func(t *models.Ticket) bool {
		if t.Status == models.StatusAwaitingTeam {
			return false
		}
		t.Status = models.StatusAwaitingTeam
		return true
	})
	if err != nil {
		return nil, notFoundOr(err)
	}

	e.appendActivity(ctx, key, models.ActivityReopened, &actor)
	return ticket, nil
}

// RecordResponse applies a staff reply sent through the dashboard, outside
// the sync path. The same outbound transition runs, so the next sync pass
// observing the sent message is a stale no-op.
func (e *Engine) RecordResponse(ctx context.Context, key, actor string, at time.Time) (*models.Ticket, error) {
	ticket, err := e.updateWithRetry(ctx, key, func(t *models.Ticket) bool {
		if !registerOutbound(t, at) {
			return false
		}
		t.RespondedBy = &actor
		return true
	})
	if err != nil {
		return nil, notFoundOr(err)
	}

	e.appendActivity(ctx, key, models.ActivityResponded, &actor)
	return ticket, nil
}

func notFoundOr(err error) error {
	if err != nil && errors.Is(err, errNoTicket) {
		return ErrTicketNotFound
	}
	return err
}
