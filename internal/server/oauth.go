package server

import (
	"context"
	"fmt"
	"html/template"
	"net/http"
	"sync"

	"github.com/desertthunder/themeroom/internal/shared"
	"golang.org/x/oauth2"
)

var callbackPage = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>themeroom</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
               display: flex; align-items: center; justify-content: center; height: 100vh;
               margin: 0; background: #1d1b22; }
        .card { text-align: center; background: #2a2730; padding: 2rem; border-radius: 8px; }
        h1 { color: {{if .OK}}#E85D75{{else}}#F2A541{{end}}; margin: 0 0 1rem 0; }
        p { color: #bbb; margin: 0; }
    </style>
</head>
<body>
    <div class="card">
        <h1>{{.Title}}</h1>
        <p>{{.Detail}}</p>
    </div>
</body>
</html>
`))

type callbackView struct {
	OK     bool
	Title  string
	Detail string
}

type callbackResult struct {
	token *oauth2.Token
	err   error
}

// OAuthHandler serves the authorization code callback for `auth login`. It accepts exactly
// one callback; the code is exchanged with a PKCE verifier bound to this handler.
type OAuthHandler struct {
	config   *oauth2.Config
	state    string
	verifier string

	mu     sync.Mutex
	served bool
	once   sync.Once
	result chan callbackResult
}

// NewOAuthHandler creates a handler with a fresh state token and PKCE verifier.
func NewOAuthHandler(config *oauth2.Config) *OAuthHandler {
	return &OAuthHandler{
		config:   config,
		state:    shared.GenerateID(),
		verifier: oauth2.GenerateVerifier(),
		result:   make(chan callbackResult, 1),
	}
}

// AuthCodeURL is the URL the user visits to sign in.
func (h *OAuthHandler) AuthCodeURL() string {
	return h.config.AuthCodeURL(h.state, oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(h.verifier))
}

func (h *OAuthHandler) Routes() []string {
	return []string{"/callback"}
}

func (h *OAuthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.served {
		h.mu.Unlock()
		http.Error(w, "Callback already processed", http.StatusBadRequest)
		return
	}
	h.served = true
	h.mu.Unlock()

	token, err := h.exchange(r)
	h.finish(callbackResult{token: token, err: err})

	view := callbackView{OK: true, Title: "✓ Signed in to themeroom", Detail: "You can close this window and return to the terminal."}
	status := http.StatusOK
	if err != nil {
		view = callbackView{Title: "Sign in failed", Detail: err.Error()}
		status = http.StatusBadRequest
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	callbackPage.Execute(w, view)
}

func (h *OAuthHandler) exchange(r *http.Request) (*oauth2.Token, error) {
	q := r.URL.Query()
	if q.Get("state") != h.state {
		return nil, fmt.Errorf("%w: invalid state parameter", shared.ErrNotAuthenticated)
	}
	code := q.Get("code")
	if code == "" {
		return nil, fmt.Errorf("%w: authorization failed: %s %s", shared.ErrNotAuthenticated, q.Get("error"), q.Get("error_description"))
	}
	token, err := h.config.Exchange(r.Context(), code, oauth2.VerifierOption(h.verifier))
	if err != nil {
		return nil, fmt.Errorf("%w: token exchange failed: %w", shared.ErrAPIRequest, err)
	}
	return token, nil
}

// Fail ends the flow with err, e.g. when the callback server dies.
func (h *OAuthHandler) Fail(err error) {
	h.finish(callbackResult{err: err})
}

func (h *OAuthHandler) finish(res callbackResult) {
	h.once.Do(func() {
		h.result <- res
		close(h.result)
	})
}

// Wait blocks until the callback completes, Fail is called, or ctx ends.
func (h *OAuthHandler) Wait(ctx context.Context) (*oauth2.Token, error) {
	select {
	case res := <-h.result:
		if res.err != nil {
			return nil, res.err
		}
		if res.token == nil {
			return nil, fmt.Errorf("%w: no token received", shared.ErrNotAuthenticated)
		}
		return res.token, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
