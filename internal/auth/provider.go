// Package auth supplies OAuth2 access tokens for the Drive API and caches
// them in the settings store.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/goodtune/skilltrack/internal/config"
	"github.com/goodtune/skilltrack/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// ErrNoCredential is returned when no token is cached, none can be refreshed
// and an interactive login was not allowed.
var ErrNoCredential = errors.New("auth: no credential available")

// Consent runs the interactive part of an authorization code or implicit
// grant and returns what arrived on the redirect.
type Consent interface {
	Authorize(ctx context.Context, authURL, state string) (Callback, error)
}

// Provider hands out access tokens.
type Provider struct {
	settings storage.SettingStore
	oauth    *oauth2.Config
	consent  Consent
	logger   zerolog.Logger

	// serializes refresh and consent so concurrent callers share one login
	mu sync.Mutex
}

// NewProvider creates a token provider. consent may be nil, in which case
// interactive requests fail with ErrNoCredential.
func NewProvider(cfg config.AuthConfig, settings storage.SettingStore, consent Consent, logger zerolog.Logger) *Provider {
	return &Provider{
		settings: settings,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
		},
		consent: consent,
		logger:  logger.With().Str("component", "auth").Logger(),
	}
}

// Token returns an access token: the cached one, else one refreshed
// silently, else, when interactive, one obtained through the consent flow.
func (p *Provider) Token(ctx context.Context, interactive bool) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	token, err := p.settings.Get(ctx, storage.SettingAuthToken)
	if err == nil && token != "" {
		return token, nil
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("read cached token: %w", err)
	}

	token, err = p.refresh(ctx)
	if err == nil {
		return token, nil
	}
	if !errors.Is(err, ErrNoCredential) {
		p.logger.Warn().Err(err).Msg("Silent token refresh failed")
	}

	if !interactive || p.consent == nil {
		return "", ErrNoCredential
	}
	return p.login(ctx)
}

// Invalidate drops the cached access token, e.g. after the API answered 401.
// The refresh token is kept so the next request can renew silently.
func (p *Provider) Invalidate(ctx context.Context) error {
	p.logger.Info().Msg("Invalidating cached access token")
	return p.settings.Delete(ctx, storage.SettingAuthToken)
}

// HasCredential reports whether a token or refresh token is stored.
func (p *Provider) HasCredential(ctx context.Context) bool {
	for _, key := range []string{storage.SettingAuthToken, storage.SettingRefreshToken} {
		if value, err := p.settings.Get(ctx, key); err == nil && value != "" {
			return true
		}
	}
	return false
}

func (p *Provider) refresh(ctx context.Context) (string, error) {
	refreshToken, err := p.settings.Get(ctx, storage.SettingRefreshToken)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && refreshToken == "") {
		return "", ErrNoCredential
	}
	if err != nil {
		return "", fmt.Errorf("read refresh token: %w", err)
	}

	token, err := p.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return "", fmt.Errorf("refresh token: %w", err)
	}
	if err := p.store(ctx, token); err != nil {
		return "", err
	}

	p.logger.Debug().Msg("Refreshed access token")
	return token.AccessToken, nil
}

func (p *Provider) login(ctx context.Context) (string, error) {
	state := uuid.NewString()
	authURL := p.oauth.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)

	p.logger.Info().Msg("Starting interactive login")
	callback, err := p.consent.Authorize(ctx, authURL, state)
	if err != nil {
		return "", fmt.Errorf("authorize: %w", err)
	}
	if callback.Error != "" {
		return "", fmt.Errorf("authorize: %s", callback.Error)
	}
	if callback.State != state {
		return "", fmt.Errorf("authorize: state mismatch")
	}

	var token *oauth2.Token
	switch {
	case callback.AccessToken != "":
		token = &oauth2.Token{AccessToken: callback.AccessToken, TokenType: "Bearer"}
	case callback.Code != "":
		token, err = p.oauth.Exchange(ctx, callback.Code)
		if err != nil {
			return "", fmt.Errorf("exchange code: %w", err)
		}
	default:
		return "", fmt.Errorf("authorize: redirect carried no token or code")
	}

	if err := p.store(ctx, token); err != nil {
		return "", err
	}
	p.logger.Info().Bool("offline", token.RefreshToken != "").Msg("Login completed")
	return token.AccessToken, nil
}

func (p *Provider) store(ctx context.Context, token *oauth2.Token) error {
	if token.AccessToken == "" {
		return fmt.Errorf("token response carried no access token")
	}
	if err := p.settings.Set(ctx, storage.SettingAuthToken, token.AccessToken); err != nil {
		return fmt.Errorf("cache access token: %w", err)
	}
	if token.RefreshToken != "" {
		if err := p.settings.Set(ctx, storage.SettingRefreshToken, token.RefreshToken); err != nil {
			return fmt.Errorf("cache refresh token: %w", err)
		}
	}
	return nil
}
