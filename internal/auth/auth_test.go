package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/goodtune/skilltrack/internal/config"
	"github.com/goodtune/skilltrack/internal/storage"
	"github.com/rs/zerolog"
)

type memorySettings struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemorySettings() *memorySettings {
	return &memorySettings{values: map[string]string{}}
}

func (m *memorySettings) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return "", storage.ErrNotFound
	}
	return v, nil
}

func (m *memorySettings) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *memorySettings) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// fakeConsent answers the consent flow without a browser.
type fakeConsent struct {
	callback func(state string) Callback
	authURL  string
	calls    int
}

func (f *fakeConsent) Authorize(_ context.Context, authURL, state string) (Callback, error) {
	f.calls++
	f.authURL = authURL
	return f.callback(state), nil
}

func newTokenServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.PostForm.Get("grant_type") {
		case "refresh_token":
			if r.PostForm.Get("refresh_token") != "refresh-1" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "refreshed-access",
				"token_type":   "Bearer",
				"expires_in":   3600,
			})
		case "authorization_code":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "exchanged-access",
				"refresh_token": "refresh-1",
				"token_type":    "Bearer",
				"expires_in":    3600,
			})
		default:
			http.Error(w, "unsupported grant", http.StatusBadRequest)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(tokenURL string) config.AuthConfig {
	return config.AuthConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		AuthURL:      "https://accounts.example.com/auth",
		TokenURL:     tokenURL,
		RedirectURL:  "http://127.0.0.1:8087/oauth2/callback",
		Scopes:       []string{"https://www.googleapis.com/auth/drive.appdata"},
	}
}

func TestTokenUsesCache(t *testing.T) {
	settings := newMemorySettings()
	settings.values[storage.SettingAuthToken] = "cached"
	consent := &fakeConsent{}

	provider := NewProvider(testConfig("http://127.0.0.1:1/token"), settings, consent, zerolog.Nop())
	token, err := provider.Token(context.Background(), true)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if token != "cached" {
		t.Fatalf("expected cached token, got %q", token)
	}
	if consent.calls != 0 {
		t.Fatal("consent must not run when a token is cached")
	}
}

func TestTokenRefreshesSilently(t *testing.T) {
	srv := newTokenServer(t)
	settings := newMemorySettings()
	settings.values[storage.SettingRefreshToken] = "refresh-1"

	provider := NewProvider(testConfig(srv.URL), settings, nil, zerolog.Nop())
	token, err := provider.Token(context.Background(), false)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if token != "refreshed-access" {
		t.Fatalf("expected refreshed token, got %q", token)
	}
	if settings.values[storage.SettingAuthToken] != "refreshed-access" {
		t.Fatal("expected refreshed token to be cached")
	}
}

func TestTokenWithoutCredential(t *testing.T) {
	tests := []struct {
		name        string
		interactive bool
		consent     Consent
	}{
		{name: "background attempt", interactive: false, consent: &fakeConsent{}},
		{name: "interactive without consent flow", interactive: true, consent: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := NewProvider(testConfig("http://127.0.0.1:1/token"), newMemorySettings(), tt.consent, zerolog.Nop())
			if _, err := provider.Token(context.Background(), tt.interactive); !errors.Is(err, ErrNoCredential) {
				t.Fatalf("expected ErrNoCredential, got %v", err)
			}
		})
	}
}

func TestTokenInteractiveCodeExchange(t *testing.T) {
	srv := newTokenServer(t)
	settings := newMemorySettings()
	consent := &fakeConsent{callback: func(state string) Callback {
		return Callback{Code: "auth-code", State: state}
	}}

	provider := NewProvider(testConfig(srv.URL), settings, consent, zerolog.Nop())
	token, err := provider.Token(context.Background(), true)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if token != "exchanged-access" {
		t.Fatalf("expected exchanged token, got %q", token)
	}
	if settings.values[storage.SettingRefreshToken] != "refresh-1" {
		t.Fatal("expected refresh token to be stored")
	}

	u, err := url.Parse(consent.authURL)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	if u.Query().Get("prompt") != "consent" || u.Query().Get("access_type") != "offline" {
		t.Errorf("unexpected auth url parameters: %s", u.RawQuery)
	}
}

func TestTokenInteractiveImplicitGrant(t *testing.T) {
	settings := newMemorySettings()
	consent := &fakeConsent{callback: func(state string) Callback {
		return ParseCallback(&url.URL{Fragment: "access_token=implicit&token_type=Bearer&state=" + state})
	}}

	provider := NewProvider(testConfig("http://127.0.0.1:1/token"), settings, consent, zerolog.Nop())
	token, err := provider.Token(context.Background(), true)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if token != "implicit" {
		t.Fatalf("expected implicit token, got %q", token)
	}
}

func TestTokenRejectsStateMismatch(t *testing.T) {
	consent := &fakeConsent{callback: func(string) Callback {
		return Callback{AccessToken: "forged", State: "other"}
	}}

	settings := newMemorySettings()
	provider := NewProvider(testConfig("http://127.0.0.1:1/token"), settings, consent, zerolog.Nop())
	if _, err := provider.Token(context.Background(), true); err == nil {
		t.Fatal("expected state mismatch error")
	}
	if _, ok := settings.values[storage.SettingAuthToken]; ok {
		t.Fatal("forged token must not be cached")
	}
}

func TestInvalidateKeepsRefreshToken(t *testing.T) {
	settings := newMemorySettings()
	settings.values[storage.SettingAuthToken] = "stale"
	settings.values[storage.SettingRefreshToken] = "refresh-1"

	provider := NewProvider(testConfig("http://127.0.0.1:1/token"), settings, nil, zerolog.Nop())
	if err := provider.Invalidate(context.Background()); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, ok := settings.values[storage.SettingAuthToken]; ok {
		t.Fatal("expected access token removed")
	}
	if !provider.HasCredential(context.Background()) {
		t.Fatal("expected refresh token to remain a credential")
	}
}

func TestParseCallback(t *testing.T) {
	tests := []struct {
		raw  string
		want Callback
	}{
		{
			raw:  "http://127.0.0.1/cb?code=abc&state=s1",
			want: Callback{Code: "abc", State: "s1"},
		},
		{
			raw:  "http://127.0.0.1/cb#access_token=tok&state=s2",
			want: Callback{AccessToken: "tok", State: "s2"},
		},
		{
			raw:  "http://127.0.0.1/cb?error=access_denied",
			want: Callback{Error: "access_denied"},
		},
	}

	for _, tt := range tests {
		u, err := url.Parse(tt.raw)
		if err != nil {
			t.Fatalf("parse %s: %v", tt.raw, err)
		}
		if got := ParseCallback(u); got != tt.want {
			t.Errorf("ParseCallback(%s) = %+v, want %+v", tt.raw, got, tt.want)
		}
	}
}

func TestLoopbackConsent(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	redirect := fmt.Sprintf("http://127.0.0.1:%d/oauth2/callback", port)
	consent := &LoopbackConsent{
		RedirectURL: redirect,
		OpenBrowser: true,
		Logger:      zerolog.Nop(),
		Open: func(string) error {
			// play the browser: follow the redirect after consent
			go func() {
				for i := 0; i < 50; i++ {
					resp, err := http.Get(redirect + "?code=abc&state=s1")
					if err == nil {
						_ = resp.Body.Close()
						return
					}
					time.Sleep(20 * time.Millisecond)
				}
			}()
			return nil
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cb, err := consent.Authorize(ctx, "https://accounts.example.com/auth", "s1")
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if cb.Code != "abc" || cb.State != "s1" {
		t.Fatalf("unexpected callback: %+v", cb)
	}
}
