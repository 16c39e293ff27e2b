package gmail

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gm "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// Scopes needed by the sync (read) and reply (send) paths.
var DefaultScopes = []string{
	gm.GmailReadonlyScope,
	gm.GmailSendScope,
}

// LoadClient authenticates against Gmail with an OAuth client credentials
// file and a cached token file, returning a ready Client. Refreshed tokens
// are written back to the token file so the next invocation reuses them.
func LoadClient(ctx context.Context, credentialsFile, tokenFile string) (*Client, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials from %s: %w", credentialsFile, err)
	}

	config, err := google.ConfigFromJSON(data, DefaultScopes...)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	token, err := loadToken(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("load token from %s: %w", tokenFile, err)
	}

	ts := config.TokenSource(ctx, token)
	refreshed, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	if refreshed.AccessToken != token.AccessToken {
		if saveErr := saveToken(tokenFile, refreshed); saveErr != nil {
			// Non-fatal: the refreshed token still works for this run.
			fmt.Fprintf(os.Stderr, "warning: could not save refreshed token: %v\n", saveErr)
		}
	}

	svc, err := gm.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}

	return &Client{svc: svc}, nil
}

func loadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	return &token, nil
}

func saveToken(path string, token *oauth2.Token) error {
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
