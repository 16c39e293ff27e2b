// Package gmail wraps the Gmail API surface the sync engine and the reply
// path need: candidate listing, full message fetch, and raw RFC-2822 send.
package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	gm "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Candidate identifies one listed message before its body is fetched.
type Candidate struct {
	ID       string
	ThreadID string
}

// FullMessage is a fully fetched provider message. PlainBody and HTMLBody
// carry the decoded text/plain and text/html parts; either may be empty.
type FullMessage struct {
	ID        string
	ThreadID  string
	MessageID string // RFC-822 Message-ID header, best-effort
	From      string
	To        string
	Cc        string
	Subject   string
	Snippet   string
	PlainBody string
	HTMLBody  string
	Timestamp time.Time // Provider-assigned send time (internalDate)
}

// Client talks to the Gmail API for one mailbox.
type Client struct {
	svc *gm.Service
}

// NewClient builds a Gmail client from an authenticated HTTP client or
// other client options.
func NewClient(ctx context.Context, opts ...option.ClientOption) (*Client, error) {
	svc, err := gm.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return &Client{svc: svc}, nil
}

// NewClientFromService wraps an existing Gmail service (used by tests and
// by the auth bootstrap).
func NewClientFromService(svc *gm.Service) *Client {
	return &Client{svc: svc}
}

// List returns candidate message IDs matching a Gmail query, following
// pagination up to maxResults.
func (c *Client) List(ctx context.Context, query string, maxResults int) ([]Candidate, error) {
	var candidates []Candidate
	pageToken := ""

	for {
		call := c.svc.Users.Messages.List("me").Q(query).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		remaining := maxResults - len(candidates)
		if remaining <= 0 {
			break
		}
		if remaining < 100 {
			call = call.MaxResults(int64(remaining))
		}

		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}

		for _, msg := range resp.Messages {
			candidates = append(candidates, Candidate{ID: msg.Id, ThreadID: msg.ThreadId})
		}

		pageToken = resp.NextPageToken
		if pageToken == "" || len(candidates) >= maxResults {
			break
		}
	}

	return candidates, nil
}

// ReadFull fetches a complete message by ID, decoding the body parts.
func (c *Client) ReadFull(ctx context.Context, messageID string) (*FullMessage, error) {
	msg, err := c.svc.Users.Messages.Get("me", messageID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", messageID, err)
	}

	headers := headerMap(msg.Payload.Headers)
	plain, html := extractBodies(msg.Payload)

	return &FullMessage{
		ID:        msg.Id,
		ThreadID:  msg.ThreadId,
		MessageID: headers["message-id"],
		From:      headers["from"],
		To:        headers["to"],
		Cc:        headers["cc"],
		Subject:   headers["subject"],
		Snippet:   msg.Snippet,
		PlainBody: plain,
		HTMLBody:  html,
		Timestamp: time.UnixMilli(msg.InternalDate).UTC(),
	}, nil
}

// SendRaw sends an RFC-2822 payload, optionally bound to an existing
// provider thread. Gmail rejects an unknown thread ID with a not-found
// error; in that case the send is retried unthreaded so the reply still
// goes out.
func (c *Client) SendRaw(ctx context.Context, raw []byte, threadID string) (string, error) {
	encoded := base64.URLEncoding.EncodeToString(raw)

	msg := &gm.Message{Raw: encoded}
	if threadID != "" {
		msg.ThreadId = threadID
	}

	sent, err := c.svc.Users.Messages.Send("me", msg).Context(ctx).Do()
	if err != nil && threadID != "" && isNotFound(err) {
		msg.ThreadId = ""
		sent, err = c.svc.Users.Messages.Send("me", msg).Context(ctx).Do()
	}
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}

	return sent.Id, nil
}

// BuildReply assembles a minimal RFC-2822 reply payload. inReplyTo is the
// RFC-822 Message-ID of the message being answered and may be empty.
func BuildReply(from, to, subject, inReplyTo, body string) []byte {
	var b strings.Builder

	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	if inReplyTo != "" {
		fmt.Fprintf(&b, "In-Reply-To: %s\r\n", inReplyTo)
		fmt.Fprintf(&b, "References: %s\r\n", inReplyTo)
	}
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)

	return []byte(b.String())
}

// extractBodies walks a message payload and returns the decoded text/plain
// and text/html parts, recursing through nested multiparts.
func extractBodies(payload *gm.MessagePart) (plain, html string) {
	if payload == nil {
		return "", ""
	}

	if payload.Body != nil && payload.Body.Data != "" && len(payload.Parts) == 0 {
		decoded, err := decodeBase64URL(payload.Body.Data)
		if err == nil {
			switch {
			case strings.HasPrefix(payload.MimeType, "text/html"):
				return "", decoded
			default:
				return decoded, ""
			}
		}
	}

	for _, part := range payload.Parts {
		p, h := extractBodies(part)
		if plain == "" {
			plain = p
		}
		if html == "" {
			html = h
		}
		if plain != "" && html != "" {
			break
		}
	}

	return plain, html
}

// headerMap converts Gmail API headers into a lowercase-keyed map; header
// name casing varies between sending clients.
func headerMap(headers []*gm.MessagePartHeader) map[string]string {
	m := make(map[string]string, len(headers))
	for _, h := range headers {
		m[strings.ToLower(h.Name)] = h.Value
	}
	return m
}

// decodeBase64URL decodes Gmail's base64url-encoded content, tolerating
// missing padding.
func decodeBase64URL(data string) (string, error) {
	decoded, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(strings.TrimRight(data, "="))
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}

// isNotFound reports whether the error is a Gmail 404, which is how the
// API signals an invalid thread ID on send.
func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 404
	}
	return false
}
