// Package notify alerts the team about stale tickets: awaiting a team
// response for longer than the configured threshold. Alerts are deduped
// with a persisted per-ticket marker, so a redeploy never re-alerts.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"popdesk/internal/models"
)

// Store is the persistence surface the notifier needs.
type Store interface {
	StaleTickets(ctx context.Context, cutoff time.Time) ([]models.Ticket, error)
	MarkTicketNotified(ctx context.Context, ticketKey string, at time.Time) error
}

// Notifier sweeps for stale tickets and fans alerts out to a chat webhook
// and an email digest. Either channel may be unconfigured.
type Notifier struct {
	store           Store
	httpClient      *http.Client
	slackWebhookURL string
	sendgridAPIKey  string
	teamEmail       string
	fromEmail       string
	staleAfter      time.Duration
}

// Options configure a Notifier.
type Options struct {
	SlackWebhookURL string
	SendGridAPIKey  string
	TeamEmail       string
	FromEmail       string
	StaleAfter      time.Duration
}

func New(store Store, opts Options) *Notifier {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 24 * time.Hour
	}
	return &Notifier{
		store:           store,
		httpClient:      &http.Client{Timeout: 10 * time.Second},
		slackWebhookURL: opts.SlackWebhookURL,
		sendgridAPIKey:  opts.SendGridAPIKey,
		teamEmail:       opts.TeamEmail,
		fromEmail:       opts.FromEmail,
		staleAfter:      opts.StaleAfter,
	}
}

// SweepResult reports one stale-ticket sweep.
type SweepResult struct {
	Stale    int `json:"stale"`
	Notified int `json:"notified"`
}

// Sweep finds tickets awaiting a team response past the threshold, sends
// one alert per ticket, and persists the notified marker. A ticket whose
// alert fails keeps a nil marker and is retried on the next sweep.
func (n *Notifier) Sweep(ctx context.Context) (*SweepResult, error) {
	cutoff := time.Now().UTC().Add(-n.staleAfter)
	stale, err := n.store.StaleTickets(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query stale tickets: %w", err)
	}

	result := &SweepResult{Stale: len(stale)}
	if len(stale) == 0 {
		return result, nil
	}

	for i := range stale {
		t := &stale[i]
		if err := n.sendSlackAlert(ctx, t); err != nil {
			log.Warn().Err(err).Str("ticket_key", t.Key).Msg("Slack alert failed")
			continue
		}
		if err := n.store.MarkTicketNotified(ctx, t.Key, time.Now().UTC()); err != nil {
			log.Error().Err(err).Str("ticket_key", t.Key).Msg("Failed to persist notified marker")
			continue
		}
		result.Notified++
	}

	if err := n.sendEmailDigest(stale); err != nil {
		log.Warn().Err(err).Msg("Stale-ticket email digest failed")
	}

	log.Info().Int("stale", result.Stale).Int("notified", result.Notified).Msg("Stale-ticket sweep completed")
	return result, nil
}

// sendSlackAlert posts one ticket alert to the chat webhook.
func (n *Notifier) sendSlackAlert(ctx context.Context, t *models.Ticket) error {
	if n.slackWebhookURL == "" {
		return nil
	}

	age := "unknown"
	if t.LastInboundAt != nil {
		age = time.Since(*t.LastInboundAt).Round(time.Hour).String()
	}

	payload := map[string]string{
		"text": fmt.Sprintf(":envelope: Ticket from %s has been waiting %s for a response\nSubject: %s",
			t.CustomerEmail, age, t.Subject),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.slackWebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// sendEmailDigest sends one summary email covering the whole sweep.
func (n *Notifier) sendEmailDigest(stale []models.Ticket) error {
	if n.sendgridAPIKey == "" || n.teamEmail == "" {
		return nil
	}

	body := fmt.Sprintf("%d ticket(s) have been awaiting a team response for over %s:\n\n",
		len(stale), n.staleAfter)
	for _, t := range stale {
		waiting := "unknown"
		if t.LastInboundAt != nil {
			waiting = time.Since(*t.LastInboundAt).Round(time.Hour).String()
		}
		body += fmt.Sprintf("- %s | %s | waiting %s\n", t.CustomerEmail, t.Subject, waiting)
	}

	from := mail.NewEmail("Popdesk", n.fromEmail)
	to := mail.NewEmail("Support Team", n.teamEmail)
	subject := fmt.Sprintf("Stale support tickets: %d waiting", len(stale))
	message := mail.NewSingleEmail(from, subject, to, body, body)

	client := sendgrid.NewSendClient(n.sendgridAPIKey)
	response, err := client.Send(message)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("SendGrid API error: status %d, body: %s", response.StatusCode, response.Body)
	}
	return nil
}
