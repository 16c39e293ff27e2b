package emails

import (
	"testing"

	"popdesk/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		expected string
	}{
		{
			name:     "name and address",
			header:   "Jane Doe <jane@example.com>",
			expected: "jane@example.com",
		},
		{
			name:     "bare address",
			header:   "jane@example.com",
			expected: "jane@example.com",
		},
		{
			name:     "upper case is normalized",
			header:   "Jane Doe <Jane.Doe@Example.COM>",
			expected: "jane.doe@example.com",
		},
		{
			name:     "unquoted comma in display name",
			header:   "Doe, Jane <jane@example.com>",
			expected: "jane@example.com",
		},
		{
			name:     "empty header",
			header:   "",
			expected: "",
		},
		{
			name:     "garbage",
			header:   "not an address",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseAddress(tt.header))
		})
	}
}

func TestParseAddressList(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		expected []string
	}{
		{
			name:     "two addresses",
			header:   "Jane <jane@example.com>, bob@example.com",
			expected: []string{"jane@example.com", "bob@example.com"},
		},
		{
			name:     "skips unparseable segment",
			header:   "garbage segment, bob@example.com",
			expected: []string{"bob@example.com"},
		},
		{
			name:     "empty header",
			header:   "",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseAddressList(tt.header))
		})
	}
}

func TestClassifierDirection(t *testing.T) {
	classifier := NewClassifier([]string{"support@popup.city", "@team.popup.city"})

	tests := []struct {
		name     string
		from     string
		expected string
	}{
		{
			name:     "customer is inbound",
			from:     "a@x.com",
			expected: models.DirectionInbound,
		},
		{
			name:     "exact internal address is outbound",
			from:     "support@popup.city",
			expected: models.DirectionOutbound,
		},
		{
			name:     "internal address case-insensitive",
			from:     "Support@Popup.City",
			expected: models.DirectionOutbound,
		},
		{
			name:     "internal domain suffix is outbound",
			from:     "ops@team.popup.city",
			expected: models.DirectionOutbound,
		},
		{
			name:     "lookalike domain is inbound",
			from:     "support@popup.city.evil.com",
			expected: models.DirectionInbound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, classifier.Direction(tt.from))
		})
	}
}

func TestIsNoise(t *testing.T) {
	tests := []struct {
		name     string
		from     string
		subject  string
		expected bool
	}{
		{"mailer daemon", "mailer-daemon@googlemail.com", "", true},
		{"postmaster", "postmaster@example.com", "", true},
		{"no-reply", "no-reply@stripe.com", "", true},
		{"noreply", "noreply@github.com", "", true},
		{"notifications", "notifications@slack.com", "", true},
		{"bounce subject", "mta7.am0.yahoodns.net@x.com", "Undeliverable: Help with my badge", true},
		{"vacation responder", "jane@x.com", "Automatic reply: Help with my badge", true},
		{"regular customer", "a@x.com", "Help with my badge", false},
		{"noise word mid-address", "team-noreply-fans@x.com", "hi", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsNoise(tt.from, tt.subject))
		})
	}
}
