// Package google adapts the Sheets, Drive and Gmail APIs to the ports used
// by the month-end services. Every API call goes through a ratelimit.Limiter.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	goauth "golang.org/x/oauth2/google"
	"google.golang.org/api/option"
)

// Credentials selects how the adapters authenticate.
type Credentials struct {
	// ServiceAccountJSON authenticates Sheets and Drive, and Gmail through
	// domain-wide delegation when no user token is configured.
	ServiceAccountJSON []byte

	// OAuthClientJSON and OAuthToken, produced by cmd/oauth-init, let Gmail
	// send as the user who authorised the token.
	OAuthClientJSON []byte
	OAuthToken      *oauth2.Token
}

// LoadServiceAccount returns inline JSON, or the contents of file, falling
// back to GOOGLE_APPLICATION_CREDENTIALS.
func LoadServiceAccount(ctx context.Context, inline, file string) ([]byte, error) {
	inline = strings.TrimSpace(inline)
	file = strings.TrimSpace(file)
	if inline == "" && file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	switch {
	case inline != "":
		slog.InfoContext(ctx, "Using inline service account credentials", "json_length", len(inline))
		return []byte(inline), nil
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		slog.InfoContext(ctx, "Read service account credentials", "path", file, "size", len(b))
		return b, nil
	}
	return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
}

// LoadOAuthToken reads a token file written by cmd/oauth-init.
func LoadOAuthToken(path string) (*oauth2.Token, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read oauth token: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(b, &tok); err != nil {
		return nil, fmt.Errorf("decode oauth token: %w", err)
	}
	return &tok, nil
}

// newHTTPClient is a pooled client for the Google APIs.
func newHTTPClient() *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{Transport: transport, Timeout: 60 * time.Second}
}

// authedClient wraps ts around the pooled transport.
func authedClient(ctx context.Context, ts oauth2.TokenSource) *http.Client {
	base := newHTTPClient()
	c := oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, base), ts)
	c.Timeout = base.Timeout
	return c
}

// serviceAccountOptions authenticates as the service account itself.
func serviceAccountOptions(ctx context.Context, creds Credentials, scopes ...string) ([]option.ClientOption, error) {
	if len(creds.ServiceAccountJSON) == 0 {
		return nil, errors.New("service account credentials required")
	}
	gc, err := goauth.CredentialsFromJSON(ctx, creds.ServiceAccountJSON, scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse service account: %w", err)
	}
	return []option.ClientOption{option.WithHTTPClient(authedClient(ctx, gc.TokenSource))}, nil
}

// gmailOptions prefers a user OAuth token and falls back to the service
// account impersonating sender.
func gmailOptions(ctx context.Context, creds Credentials, sender string, scope string) ([]option.ClientOption, error) {
	if len(creds.OAuthClientJSON) > 0 && creds.OAuthToken != nil {
		cfg, err := goauth.ConfigFromJSON(creds.OAuthClientJSON, scope)
		if err != nil {
			return nil, fmt.Errorf("oauth config: %w", err)
		}
		slog.InfoContext(ctx, "Gmail using user OAuth token")
		return []option.ClientOption{option.WithHTTPClient(authedClient(ctx, cfg.TokenSource(ctx, creds.OAuthToken)))}, nil
	}
	if len(creds.ServiceAccountJSON) == 0 {
		return nil, errors.New("gmail requires an oauth token or service account credentials")
	}
	if sender == "" {
		return nil, errors.New("gmail delegation requires a sender address")
	}
	jwt, err := goauth.JWTConfigFromJSON(creds.ServiceAccountJSON, scope)
	if err != nil {
		return nil, fmt.Errorf("parse service account: %w", err)
	}
	jwt.Subject = sender
	slog.InfoContext(ctx, "Gmail using service account delegation", "sender", sender)
	return []option.ClientOption{option.WithHTTPClient(authedClient(ctx, jwt.TokenSource(ctx)))}, nil
}
