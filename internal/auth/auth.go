// Package auth supplies request headers for protected streams.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"gorm.io/gorm"

	"github.com/justchokingaround/hlsgrab/internal/config"
	"github.com/justchokingaround/hlsgrab/internal/downloader"
)

// ErrRefreshUnsupported is returned by providers that cannot obtain new
// credentials.
var ErrRefreshUnsupported = errors.New("credential refresh not supported")

// New builds the provider selected by cfg.Type. db may be nil, in which
// case OAuth2 tokens are only cached in memory.
func New(cfg *config.AuthConfig, db *gorm.DB, logger *slog.Logger) (downloader.AuthProvider, error) {
	switch strings.ToLower(cfg.Type) {
	case "", "static":
		return NewStatic(cfg.Headers), nil
	case "oauth2":
		return NewOAuth2(cfg, db, logger)
	default:
		return nil, fmt.Errorf("unknown auth type: %s", cfg.Type)
	}
}

// Static returns the same header set for every stream
type Static struct {
	headers map[string]string
}

// NewStatic creates a static provider. Viper lowercases map keys, so keys
// are canonicalized here.
func NewStatic(headers map[string]string) *Static {
	canonical := make(map[string]string, len(headers))
	for k, v := range headers {
		canonical[http.CanonicalHeaderKey(k)] = v
	}
	return &Static{headers: canonical}
}

// Headers returns a copy of the configured headers
func (s *Static) Headers(ctx context.Context, streamID string) (map[string]string, error) {
	out := make(map[string]string, len(s.headers))
	for k, v := range s.headers {
		out[k] = v
	}
	return out, nil
}

// Refresh always fails; static headers cannot be renewed
func (s *Static) Refresh(ctx context.Context, streamID string) (map[string]string, error) {
	return nil, ErrRefreshUnsupported
}

// OAuth2 sends a client-credentials bearer token and fetches a new one
// when the server rejects it.
type OAuth2 struct {
	cfg     *clientcredentials.Config
	extra   map[string]string
	storage *TokenStorage
	logger  *slog.Logger

	mu    sync.Mutex
	token *oauth2.Token
}

// NewOAuth2 creates a client-credentials provider
func NewOAuth2(cfg *config.AuthConfig, db *gorm.DB, logger *slog.Logger) (*OAuth2, error) {
	if cfg.TokenURL == "" || cfg.ClientID == "" {
		return nil, fmt.Errorf("oauth2 auth requires token_url and client_id")
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &OAuth2{
		cfg: &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		},
		extra:  NewStatic(cfg.Headers).headers,
		logger: logger.With("component", "auth"),
	}

	if db != nil {
		p.storage = NewTokenStorage(db, cfg.TokenURL+"#"+cfg.ClientID)
		token, err := p.storage.LoadToken()
		if err != nil {
			p.logger.Warn("failed to load cached token", "error", err)
		} else {
			p.token = token
		}
	}

	return p, nil
}

// Headers returns the configured headers plus a valid bearer token,
// fetching one if none is cached.
func (p *OAuth2) Headers(ctx context.Context, streamID string) (map[string]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.token.Valid() {
		if err := p.fetchLocked(ctx); err != nil {
			return nil, err
		}
	}
	return p.headersLocked(), nil
}

// Refresh discards the current token and fetches a new one
func (p *OAuth2) Refresh(ctx context.Context, streamID string) (map[string]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.logger.Info("refreshing access token", "stream_id", streamID)
	if err := p.fetchLocked(ctx); err != nil {
		return nil, err
	}
	return p.headersLocked(), nil
}

func (p *OAuth2) fetchLocked(ctx context.Context) error {
	token, err := p.cfg.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to obtain access token: %w", err)
	}
	p.token = token

	if p.storage != nil {
		if err := p.storage.SaveToken(token); err != nil {
			p.logger.Warn("failed to cache token", "error", err)
		}
	}
	return nil
}

func (p *OAuth2) headersLocked() map[string]string {
	out := make(map[string]string, len(p.extra)+1)
	for k, v := range p.extra {
		out[k] = v
	}
	out["Authorization"] = p.token.Type() + " " + p.token.AccessToken
	return out
}
