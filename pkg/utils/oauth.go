package utils

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/jakechorley/community-connect/internal/config"
)

const (
	AuthPort     = 3000
	authTimeout  = 5 * time.Minute
	callbackPath = "/oauth/callback"
)

// ScopeGmailSend is the only Google scope the notification transport needs
const ScopeGmailSend = "https://www.googleapis.com/auth/gmail.send"

// GetOAuthConfig creates an OAuth2 config from the OAuth client configuration
func GetOAuthConfig(oauthCfg *config.OAuthClientConfig) (*oauth2.Config, error) {
	raw, err := json.Marshal(oauthCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal oauth config: %w", err)
	}

	googleConfig, err := google.ConfigFromJSON(raw, ScopeGmailSend)
	if err != nil {
		return nil, fmt.Errorf("failed to create google config: %w", err)
	}
	googleConfig.RedirectURL = fmt.Sprintf("http://localhost:%d%s", AuthPort, callbackPath)

	return googleConfig, nil
}

// missingScopes compares a space separated scope list against the scopes we ask for
func missingScopes(granted string) []string {
	have := strings.Fields(granted)
	if slices.Contains(have, ScopeGmailSend) {
		return nil
	}
	return []string{ScopeGmailSend}
}

// TokenStore keeps one Gmail token per environment as a JSON file under dir,
// with an in-memory copy of every token it has handed out.
type TokenStore struct {
	dir string

	mu    sync.Mutex
	cache map[string]*oauth2.Token
}

// NewTokenStore returns a store rooted at dir
func NewTokenStore(dir string) *TokenStore {
	return &TokenStore{dir: dir, cache: make(map[string]*oauth2.Token)}
}

// DefaultTokenStore returns the store under ~/.community-connect/tokens
func DefaultTokenStore() (*TokenStore, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	return NewTokenStore(filepath.Join(home, ".community-connect", "tokens")), nil
}

func (s *TokenStore) path(env string) string {
	return filepath.Join(s.dir, "gmail-"+env+".json")
}

// Load reads the stored token for env. A missing file returns nil, nil.
func (s *TokenStore) Load(env string) (*oauth2.Token, error) {
	data, err := os.ReadFile(s.path(env))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	token := new(oauth2.Token)
	if err := json.Unmarshal(data, token); err != nil {
		return nil, fmt.Errorf("failed to parse token file %s: %w", s.path(env), err)
	}
	return token, nil
}

// Save writes the token for env, readable by the owner only
func (s *TokenStore) Save(env string, token *oauth2.Token) error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}
	if err := os.WriteFile(s.path(env), data, 0600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

// Delete forgets the token for env. Deleting a missing token is not an error.
func (s *TokenStore) Delete(env string) error {
	s.mu.Lock()
	delete(s.cache, env)
	s.mu.Unlock()

	if err := os.Remove(s.path(env)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete token file: %w", err)
	}
	return nil
}

// Token returns a usable token for env without user interaction, refreshing a
// stored token that has expired. It fails with a hint to run the authorize
// command when there is nothing usable on disk.
func (s *TokenStore) Token(ctx context.Context, oauthConfig *oauth2.Config, env string, logger *zap.Logger) (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cached := s.cache[env]; cached.Valid() {
		return cached, nil
	}

	stored, err := s.Load(env)
	switch {
	case err != nil:
		return nil, err
	case stored == nil:
		return nil, fmt.Errorf("no gmail token for environment %q, run the authorize command", env)
	case stored.Valid():
		s.cache[env] = stored
		return stored, nil
	case stored.RefreshToken == "":
		return nil, fmt.Errorf("gmail token for environment %q expired, run the authorize command", env)
	}

	fresh, err := oauthConfig.TokenSource(ctx, stored).Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh gmail token: %w", err)
	}
	if fresh.AccessToken != stored.AccessToken {
		logger.Info("Gmail token refreshed", zap.Time("expiry", fresh.Expiry))
		if err := s.Save(env, fresh); err != nil {
			logger.Warn("Failed to save refreshed token", zap.Error(err))
		}
	}

	s.cache[env] = fresh
	return fresh, nil
}

// Authorize runs the consent flow in the user's browser and stores the token
// Google returns. The grant must include the gmail.send scope.
func (s *TokenStore) Authorize(ctx context.Context, oauthConfig *oauth2.Config, env string, logger *zap.Logger) (*oauth2.Token, error) {
	state := uuid.NewString()
	fmt.Printf("\nVisit this URL to authorize gmail sending:\n%s\n\n",
		oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce))

	code, err := awaitAuthCode(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("failed to get authorization code: %w", err)
	}

	token, err := oauthConfig.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code for token: %w", err)
	}
	granted, _ := token.Extra("scope").(string)
	if missing := missingScopes(granted); len(missing) > 0 {
		return nil, fmt.Errorf("authorization did not grant %v", missing)
	}

	if err := s.Save(env, token); err != nil {
		return nil, err
	}
	logger.Info("Gmail token stored", zap.String("dir", s.dir))

	s.mu.Lock()
	s.cache[env] = token
	s.mu.Unlock()

	return token, nil
}

type callbackResult struct {
	code string
	err  error
}

// callbackHandler receives Google's redirect and reports the first outcome on results
func callbackHandler(state string, results chan<- callbackResult) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		res := callbackResult{code: query.Get("code")}
		switch {
		case query.Get("error") != "":
			res.err = fmt.Errorf("authorization denied: %s", query.Get("error"))
		case query.Get("state") != state:
			res.err = errors.New("state mismatch in oauth callback")
		case res.code == "":
			res.err = errors.New("no authorization code received")
		}

		if res.err != nil {
			http.Error(w, "Authorization failed", http.StatusBadRequest)
		} else {
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, `<html><head><title>Authorized</title></head>
<body><h1>Community Connect can now send email.</h1><p>You can close this window.</p></body></html>`)
		}

		select {
		case results <- res:
		default:
		}
	}
}

// awaitAuthCode serves the redirect URI until Google calls back or the flow times out
func awaitAuthCode(ctx context.Context, state string) (string, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", AuthPort))
	if err != nil {
		return "", fmt.Errorf("failed to listen for oauth callback: %w", err)
	}

	results := make(chan callbackResult, 1)
	mux := http.NewServeMux()
	mux.Handle(callbackPath, callbackHandler(state, results))
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() { _ = server.Serve(listener) }()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	ctx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()

	select {
	case res := <-results:
		return res.code, res.err
	case <-ctx.Done():
		return "", fmt.Errorf("no authorization within %v", authTimeout)
	}
}
