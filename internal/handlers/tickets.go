package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"popdesk/internal/cache"
	"popdesk/internal/gmail"
	"popdesk/internal/models"
	"popdesk/internal/tickets"
)

// TicketStore is the read surface the ticket routes need.
type TicketStore interface {
	ListTickets(ctx context.Context, status string, limit, offset int) ([]models.Ticket, error)
	CountTickets(ctx context.Context, status string) (int, error)
	GetTicketByKey(ctx context.Context, key string) (*models.Ticket, error)
	ListActivities(ctx context.Context, ticketKey string) ([]models.Activity, error)
	GetMessagesByThread(ctx context.Context, threadID string) ([]models.Message, error)
	GetOrderItemsByEmail(ctx context.Context, email string) ([]models.OrderItem, error)
}

// TicketActions is the manual-action surface of the ticket engine.
type TicketActions interface {
	Claim(ctx context.Context, key, actor string) (*models.Ticket, error)
	Unclaim(ctx context.Context, key, actor string) (*models.Ticket, error)
	MarkResponded(ctx context.Context, key, actor string) (*models.Ticket, error)
	Reopen(ctx context.Context, key, actor string) (*models.Ticket, error)
	RecordResponse(ctx context.Context, key, actor string, at time.Time) (*models.Ticket, error)
}

// Sender sends raw RFC-2822 payloads through the mail provider.
type Sender interface {
	SendRaw(ctx context.Context, raw []byte, threadID string) (string, error)
}

const ticketPageSize = 50

// ListTicketsHandler returns a page of tickets, optionally filtered by
// ?status=, newest activity first.
func ListTicketsHandler(store TicketStore, ticketCache *cache.Cache) echo.HandlerFunc {
	return func(c echo.Context) error {
		status := c.QueryParam("status")
		page, _ := strconv.Atoi(c.QueryParam("page"))
		if page < 1 {
			page = 1
		}

		cacheKey := fmt.Sprintf("tickets:%s:%d", status, page)
		if cached, ok := ticketCache.Get(cacheKey); ok {
			return c.JSON(http.StatusOK, cached)
		}

		ctx := c.Request().Context()
		list, err := store.ListTickets(ctx, status, ticketPageSize, (page-1)*ticketPageSize)
		if err != nil {
			log.Error().Err(err).Msg("Failed to list tickets")
			return c.JSON(http.StatusInternalServerError, models.ActionResponse{Error: "Failed to list tickets"})
		}
		total, err := store.CountTickets(ctx, status)
		if err != nil {
			log.Error().Err(err).Msg("Failed to count tickets")
			return c.JSON(http.StatusInternalServerError, models.ActionResponse{Error: "Failed to count tickets"})
		}

		response := models.TicketListResponse{Tickets: list, Total: total}
		ticketCache.Set(cacheKey, response, 15*time.Second)
		return c.JSON(http.StatusOK, response)
	}
}

// GetTicketHandler returns one ticket with its timeline, conversation, and
// the customer's orders.
func GetTicketHandler(store TicketStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		key := c.Param("key")

		ticket, err := store.GetTicketByKey(ctx, key)
		if err != nil {
			log.Error().Err(err).Str("ticket_key", key).Msg("Failed to load ticket")
			return c.JSON(http.StatusInternalServerError, models.ActionResponse{Error: "Failed to load ticket"})
		}
		if ticket == nil {
			return c.JSON(http.StatusNotFound, models.ActionResponse{Error: "Ticket not found"})
		}

		activities, err := store.ListActivities(ctx, key)
		if err != nil {
			log.Error().Err(err).Str("ticket_key", key).Msg("Failed to load activities")
			return c.JSON(http.StatusInternalServerError, models.ActionResponse{Error: "Failed to load ticket"})
		}
		messages, err := store.GetMessagesByThread(ctx, ticket.ThreadID)
		if err != nil {
			log.Error().Err(err).Str("ticket_key", key).Msg("Failed to load messages")
			return c.JSON(http.StatusInternalServerError, models.ActionResponse{Error: "Failed to load ticket"})
		}
		orders, err := store.GetOrderItemsByEmail(ctx, ticket.CustomerEmail)
		if err != nil {
			log.Error().Err(err).Str("ticket_key", key).Msg("Failed to load orders")
			return c.JSON(http.StatusInternalServerError, models.ActionResponse{Error: "Failed to load ticket"})
		}

		return c.JSON(http.StatusOK, map[string]interface{}{
			"ticket":     ticket,
			"activities": activities,
			"messages":   messages,
			"orders":     orders,
		})
	}
}

// actionHandler wraps one manual ticket action with shared request parsing
// and error mapping.
func actionHandler(ticketCache *cache.Cache, action func(ctx context.Context, key, actor string) (*models.Ticket, error)) echo.HandlerFunc {
	return func(c echo.Context) error {
		key := c.Param("key")

		var req models.TicketActionRequest
		if err := c.Bind(&req); err != nil || req.Actor == "" {
			return c.JSON(http.StatusBadRequest, models.ActionResponse{Error: "actor is required"})
		}

		ticket, err := action(c.Request().Context(), key, req.Actor)
		switch {
		case errors.Is(err, tickets.ErrTicketNotFound):
			return c.JSON(http.StatusNotFound, models.ActionResponse{Error: "Ticket not found"})
		case errors.Is(err, tickets.ErrAlreadyClaimed), errors.Is(err, tickets.ErrNotClaimedByYou):
			return c.JSON(http.StatusConflict, models.ActionResponse{Error: err.Error()})
		case err != nil:
			log.Error().Err(err).Str("ticket_key", key).Msg("Ticket action failed")
			return c.JSON(http.StatusInternalServerError, models.ActionResponse{Error: "Ticket action failed"})
		}

		ticketCache.Clear()
		return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "ticket": ticket})
	}
}

// ClaimHandler assigns a ticket to the requesting staff member.
func ClaimHandler(actions TicketActions, ticketCache *cache.Cache) echo.HandlerFunc {
	return actionHandler(ticketCache, actions.Claim)
}

// UnclaimHandler releases a claim.
func UnclaimHandler(actions TicketActions, ticketCache *cache.Cache) echo.HandlerFunc {
	return actionHandler(ticketCache, actions.Unclaim)
}

// MarkRespondedHandler resolves a ticket handled outside email.
func MarkRespondedHandler(actions TicketActions, ticketCache *cache.Cache) echo.HandlerFunc {
	return actionHandler(ticketCache, actions.MarkResponded)
}

// ReopenHandler puts a ticket back in the team's queue.
func ReopenHandler(actions TicketActions, ticketCache *cache.Cache) echo.HandlerFunc {
	return actionHandler(ticketCache, actions.Reopen)
}

// ReplyHandler sends a staff reply through the mail provider and applies
// the outbound transition immediately, without waiting for the next sync.
func ReplyHandler(store TicketStore, actions TicketActions, sender Sender, mailboxAddress string, ticketCache *cache.Cache) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		key := c.Param("key")

		var req models.ReplyRequest
		if err := c.Bind(&req); err != nil || req.Actor == "" || req.Body == "" {
			return c.JSON(http.StatusBadRequest, models.ActionResponse{Error: "actor and body are required"})
		}
		if sender == nil {
			return c.JSON(http.StatusServiceUnavailable, models.ActionResponse{Error: "Mail sending is not configured"})
		}

		ticket, err := store.GetTicketByKey(ctx, key)
		if err != nil {
			log.Error().Err(err).Str("ticket_key", key).Msg("Failed to load ticket")
			return c.JSON(http.StatusInternalServerError, models.ActionResponse{Error: "Failed to load ticket"})
		}
		if ticket == nil {
			return c.JSON(http.StatusNotFound, models.ActionResponse{Error: "Ticket not found"})
		}

		// Thread the reply off the customer's last message when we have
		// its RFC Message-ID.
		inReplyTo := ""
		if messages, err := store.GetMessagesByThread(ctx, ticket.ThreadID); err == nil {
			for i := len(messages) - 1; i >= 0; i-- {
				if messages[i].Direction == models.DirectionInbound && messages[i].MessageID != nil {
					inReplyTo = *messages[i].MessageID
					break
				}
			}
		}

		raw := gmail.BuildReply(mailboxAddress, ticket.CustomerEmail, ticket.Subject, inReplyTo, req.Body)
		if _, err := sender.SendRaw(ctx, raw, ticket.ThreadID); err != nil {
			log.Error().Err(err).Str("ticket_key", key).Msg("Failed to send reply")
			return c.JSON(http.StatusBadGateway, models.ActionResponse{Error: "Failed to send reply"})
		}

		updated, err := actions.RecordResponse(ctx, key, req.Actor, time.Now().UTC())
		if err != nil {
			// The mail went out; the next sync pass will observe it and
			// apply the transition anyway.
			log.Warn().Err(err).Str("ticket_key", key).Msg("Reply sent but ticket update failed")
			return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "ticket": ticket})
		}

		ticketCache.Clear()
		return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "ticket": updated})
	}
}
