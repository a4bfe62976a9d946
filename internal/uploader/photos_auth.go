package uploader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/imroc/req/v3"
	"github.com/openmined/photosync/internal/utils"
)

const (
	DefaultTokenURI = "https://oauth2.googleapis.com/token"

	// refresh a little before the server considers the token expired
	tokenExpirySkew = time.Minute
)

// Token is the authorized-user credential file produced by the one-time
// consent flow. Field names match the file the Google auth libraries write.
type Token struct {
	AccessToken  string   `json:"token"`
	RefreshToken string   `json:"refresh_token"`
	TokenURI     string   `json:"token_uri,omitempty"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	Scopes       []string `json:"scopes,omitempty"`
	Expiry       string   `json:"expiry,omitempty"`

	// older files use access_token
	LegacyAccessToken string `json:"access_token,omitempty"`
}

// ExpiryTime parses Expiry. A zero time means "unknown".
func (t *Token) ExpiryTime() time.Time {
	if t.Expiry == "" {
		return time.Time{}
	}
	if ts, err := time.Parse(time.RFC3339Nano, t.Expiry); err == nil {
		return ts
	}
	// naive timestamps are UTC in these files
	if ts, err := time.ParseInLocation("2006-01-02T15:04:05.999999999", t.Expiry, time.UTC); err == nil {
		return ts
	}
	return time.Time{}
}

// Valid reports whether the access token can be used as is.
func (t *Token) Valid(now time.Time) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	expiry := t.ExpiryTime()
	if expiry.IsZero() {
		// unknown expiry: trust it only if there is no way to refresh
		return t.RefreshToken == ""
	}
	return now.Add(tokenExpirySkew).Before(expiry)
}

type tokenRefreshResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope"`
}

// TokenSource hands out a valid access token, refreshing and persisting it
// when it has expired.
type TokenSource struct {
	path   string
	client *req.Client
	now    func() time.Time

	mu    sync.Mutex
	token *Token
}

func NewTokenSource(path string, client *req.Client) *TokenSource {
	return &TokenSource{
		path:   path,
		client: client,
		now:    time.Now,
	}
}

// AccessToken returns a usable bearer token.
func (s *TokenSource) AccessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token == nil {
		tok, err := readTokenFile(s.path)
		if err != nil {
			return "", err
		}
		s.token = tok
	}

	if s.token.Valid(s.now()) {
		return s.token.AccessToken, nil
	}

	if err := s.refresh(ctx); err != nil {
		return "", err
	}
	return s.token.AccessToken, nil
}

// Invalidate forces the next AccessToken call to refresh.
func (s *TokenSource) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != nil {
		s.token.Expiry = s.now().Add(-time.Hour).UTC().Format(time.RFC3339)
	}
}

func (s *TokenSource) refresh(ctx context.Context) error {
	if s.token.RefreshToken == "" {
		return fmt.Errorf("%w: token expired and no refresh token in %s", ErrNoCredentials, s.path)
	}

	tokenURI := s.token.TokenURI
	if tokenURI == "" {
		tokenURI = DefaultTokenURI
	}

	var result tokenRefreshResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"grant_type":    "refresh_token",
			"refresh_token": s.token.RefreshToken,
			"client_id":     s.token.ClientID,
			"client_secret": s.token.ClientSecret,
		}).
		SetSuccessResult(&result).
		Post(tokenURI)
	if err := handleAPIError(resp, err, "token refresh"); err != nil {
		return fmt.Errorf("%w: %w", ErrNoCredentials, err)
	}
	if result.AccessToken == "" {
		return fmt.Errorf("%w: token refresh returned no access token", ErrNoCredentials)
	}

	s.token.AccessToken = result.AccessToken
	s.token.LegacyAccessToken = ""
	if result.ExpiresIn > 0 {
		s.token.Expiry = s.now().Add(time.Duration(result.ExpiresIn) * time.Second).UTC().Format(time.RFC3339)
	} else {
		s.token.Expiry = ""
	}

	if err := writeTokenFile(s.path, s.token); err != nil {
		// the refreshed token still works for this process
		slog.Warn("photos: failed to persist refreshed token", "path", s.path, "error", err)
	} else {
		slog.Debug("photos: token refreshed", "path", s.path, "expiry", s.token.Expiry)
	}
	return nil
}

func readTokenFile(path string) (*Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: token file %s not found, run the consent flow first", ErrNoCredentials, path)
		}
		return nil, fmt.Errorf("read token file: %w", err)
	}

	var tok Token
	if err := jsonUnmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("%w: decode token file %s: %w", ErrNoCredentials, path, err)
	}
	if tok.AccessToken == "" {
		tok.AccessToken = tok.LegacyAccessToken
	}
	tok.AccessToken = strings.TrimSpace(tok.AccessToken)
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, fmt.Errorf("%w: token file %s has neither access nor refresh token", ErrNoCredentials, path)
	}
	return &tok, nil
}

func writeTokenFile(path string, tok *Token) error {
	data, err := jsonMarshal(tok)
	if err != nil {
		return err
	}
	return utils.WriteFileAtomic(path, data, 0o600)
}
