package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"github.com/pkg/browser"
	"github.com/rs/zerolog"
)

// Callback holds the parameters delivered to the redirect URL.
type Callback struct {
	Code        string
	AccessToken string
	State       string
	Error       string
}

// ParseCallback reads the redirect parameters from the query and, for the
// implicit grant, the fragment. Fragment values win.
func ParseCallback(u *url.URL) Callback {
	values := u.Query()
	if u.Fragment != "" {
		if fragment, err := url.ParseQuery(u.Fragment); err == nil {
			for key, v := range fragment {
				values[key] = v
			}
		}
	}
	return Callback{
		Code:        values.Get("code"),
		AccessToken: values.Get("access_token"),
		State:       values.Get("state"),
		Error:       values.Get("error"),
	}
}

func (c Callback) empty() bool {
	return c.Code == "" && c.AccessToken == "" && c.Error == ""
}

// fragmentRelay moves an implicit-grant fragment into the query so the
// loopback server can see it.
const fragmentRelay = `<!doctype html>
<html><body><script>
if (location.hash.length > 1) {
  location.replace(location.pathname + "?" + location.hash.substring(1));
} else {
  document.body.textContent = "Missing authorization response.";
}
</script></body></html>`

const doneHTML = `<!doctype html><html><body>Signed in. You can close this window.</body></html>`

// LoopbackConsent opens the authorization URL in the browser and waits for
// the redirect on a local listener bound to the redirect URL.
type LoopbackConsent struct {
	RedirectURL string
	OpenBrowser bool
	// Open opens a URL; defaults to the system browser.
	Open   func(url string) error
	Logger zerolog.Logger
}

// Authorize implements Consent.
func (c *LoopbackConsent) Authorize(ctx context.Context, authURL, state string) (Callback, error) {
	redirect, err := url.Parse(c.RedirectURL)
	if err != nil {
		return Callback{}, fmt.Errorf("parse redirect url: %w", err)
	}

	ln, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return Callback{}, fmt.Errorf("listen on %s: %w", redirect.Host, err)
	}

	results := make(chan Callback, 1)
	path := redirect.Path
	if path == "" {
		path = "/"
	}
	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		cb := ParseCallback(r.URL)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if cb.empty() {
			_, _ = w.Write([]byte(fragmentRelay))
			return
		}
		_, _ = w.Write([]byte(doneHTML))
		select {
		case results <- cb:
		default:
		}
	})

	srv := &http.Server{Handler: mux}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.Logger.Error().Err(err).Msg("Loopback server error")
		}
	}()
	defer func() { _ = srv.Close() }()

	open := c.Open
	if open == nil {
		open = browser.OpenURL
	}
	if c.OpenBrowser {
		if err := open(authURL); err != nil {
			c.Logger.Warn().Err(err).Str("url", authURL).Msg("Failed to open browser, visit the URL manually")
		}
	} else {
		c.Logger.Info().Str("url", authURL).Msg("Visit the URL to sign in")
	}

	select {
	case cb := <-results:
		return cb, nil
	case <-ctx.Done():
		return Callback{}, ctx.Err()
	}
}
