package emails

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsForward(t *testing.T) {
	tests := []struct {
		subject  string
		expected bool
	}{
		{"Fwd: Help with my badge", true},
		{"Fw: payment issue", true},
		{"FWD: urgent", true},
		{"  fwd: leading space", true},
		{"Re: Fwd is not a prefix here", false},
		{"Forward planning for the event", false},
		{"Help with my badge", false},
	}

	for _, tt := range tests {
		t.Run(tt.subject, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsForward(tt.subject))
		})
	}
}

func TestResolveForward(t *testing.T) {
	classifier := NewClassifier([]string{"support@popup.city", "@popup.city"})

	tests := []struct {
		name          string
		subject       string
		body          string
		expectOK      bool
		expectedEmail string
		expectedSubj  string
	}{
		{
			name:    "banner followed by from line",
			subject: "Fwd: Help with my badge",
			body: "Please handle this one.\n\n" +
				"---------- Forwarded message ---------\n" +
				"From: Jane Doe <jane@x.com>\n" +
				"Date: Mon, Jun 3, 2024\n" +
				"Subject: Help with my badge\n\n" +
				"My badge stopped working.\n",
			expectOK:      true,
			expectedEmail: "jane@x.com",
			expectedSubj:  "Help with my badge",
		},
		{
			name:          "no banner falls back to head scan",
			subject:       "Fw: ticket trouble",
			body:          "From: bob@customer.org\n\nOriginal text here.\n",
			expectOK:      true,
			expectedEmail: "bob@customer.org",
			expectedSubj:  "ticket trouble",
		},
		{
			name:     "from line outside first 500 chars is not found",
			subject:  "Fwd: deep forward",
			body:     strings.Repeat("filler text line\n", 40) + "From: jane@x.com\n",
			expectOK: false,
		},
		{
			name:    "staff-to-staff forward is rejected",
			subject: "Fwd: internal escalation",
			body: "---------- Forwarded message ---------\n" +
				"From: Ops Person <ops@popup.city>\n\nhello\n",
			expectOK: false,
		},
		{
			name:     "no address found",
			subject:  "Fwd: empty forward",
			body:     "nothing useful in here\n",
			expectOK: false,
		},
		{
			name:     "not a forward subject",
			subject:  "Help with my badge",
			body:     "From: jane@x.com\n",
			expectOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, ok := classifier.ResolveForward(tt.subject, tt.body)
			if !tt.expectOK {
				assert.False(t, ok)
				return
			}

			require.True(t, ok)
			assert.Equal(t, tt.expectedEmail, result.CustomerEmail)
			assert.Equal(t, tt.expectedSubj, result.Subject)
		})
	}
}
