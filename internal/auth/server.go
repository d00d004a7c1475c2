package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

const (
	// CallbackPort is the port for the OAuth callback server
	CallbackPort = 8089
	// AuthTimeout is how long to wait for the user to complete auth
	AuthTimeout = 5 * time.Minute
)

// CallbackURL is the redirect URL registered for the terminal client
func CallbackURL() string {
	return fmt.Sprintf("http://localhost:%d/callback", CallbackPort)
}

const successPage = `<!DOCTYPE html>
<html>
<head><title>Strava connected</title></head>
<body style="font-family: Georgia, serif; background: #f4ecd8; color: #704214; display: flex; justify-content: center; align-items: center; height: 100vh; margin: 0;">
<div style="text-align: center;">
<h1>Connected!</h1>
<p>You can close this window and return to the terminal.</p>
</div>
</body>
</html>`

// callbackHandler receives exactly one authorization redirect
type callbackHandler struct {
	state string
	codes chan string
	errs  chan error
}

func newCallbackHandler(state string) *callbackHandler {
	return &callbackHandler{
		state: state,
		codes: make(chan string, 1),
		errs:  make(chan error, 1),
	}
}

func (h *callbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("state") != h.state {
		h.fail(errors.New("state mismatch - possible CSRF attack"))
		http.Error(w, "State mismatch", http.StatusBadRequest)
		return
	}
	if msg := q.Get("error"); msg != "" {
		h.fail(fmt.Errorf("auth error: %s", msg))
		http.Error(w, "Authentication failed", http.StatusBadRequest)
		return
	}
	code := q.Get("code")
	if code == "" {
		h.fail(errors.New("no code in callback"))
		http.Error(w, "No authorization code", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/html")
	fmt.Fprint(w, successPage)
	select {
	case h.codes <- code:
	default:
	}
}

func (h *callbackHandler) fail(err error) {
	select {
	case h.errs <- err:
	default:
	}
}

// Authenticate runs the OAuth flow with a local callback server.
// prompt is handed the authorize URL to show to the user.
func Authenticate(ctx context.Context, cfg *oauth2.Config, prompt func(authURL string)) (Credential, error) {
	state, err := GenerateState()
	if err != nil {
		return Credential{}, fmt.Errorf("generating state: %w", err)
	}

	h := newCallbackHandler(state)
	mux := http.NewServeMux()
	mux.Handle("/callback", h)

	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", CallbackPort))
	if err != nil {
		return Credential{}, fmt.Errorf("starting callback server: %w", err)
	}

	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.fail(fmt.Errorf("server error: %w", err))
		}
	}()
	defer shutdownServer(server)

	prompt(AuthCodeURL(cfg, state))

	var code string
	select {
	case code = <-h.codes:
	case err := <-h.errs:
		return Credential{}, err
	case <-time.After(AuthTimeout):
		return Credential{}, fmt.Errorf("authentication timeout after %v", AuthTimeout)
	case <-ctx.Done():
		return Credential{}, ctx.Err()
	}

	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return Credential{}, fmt.Errorf("exchanging code for token: %w", err)
	}
	return CredentialFromToken(token)
}

// GenerateState creates a random hex token, used for OAuth state and session CSRF tokens
func GenerateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// shutdownServer gracefully shuts down the HTTP server
func shutdownServer(server *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	server.Shutdown(ctx)
}
