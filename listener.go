package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
)

// ErrStateMismatch indicates the OAuth redirect carried a state parameter
// that does not match the one generated for this authorization attempt.
// A mismatch means a stale or forged redirect, so the flow is aborted.
var ErrStateMismatch = errors.New("oauth state mismatch")

// stateTokenLength is the length of the anti-forgery token echoed through
// the redirect.
const stateTokenLength = 30

// newStateToken returns a fresh URL-safe random state token. One is
// generated per authorization attempt and never persisted.
func newStateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate state token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)[:stateTokenLength], nil
}

const callbackSuccessPage = `<!DOCTYPE html>
<html>
<head><title>Authorization complete</title></head>
<body>
<h1>Authorization complete</h1>
<p>You can close this window and return to the terminal.</p>
</body>
</html>
`

// callbackResult is what the redirect handler hands back to the waiting
// flow: either an authorization code or the reason the flow failed.
type callbackResult struct {
	code string
	err  error
}

// listenCallback binds the local callback port. Binding is fail-fast: if
// the port is taken, the error surfaces immediately with no fallback port.
func listenCallback(port int) (net.Listener, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("callback port %d unavailable: %w", port, err)
	}
	return ln, nil
}

// awaitAuthorizationCode serves exactly one OAuth redirect on ln and returns
// the authorization code it carried. It takes ownership of ln and the
// listener is closed before returning, success or failure, so the port is
// freed deterministically and no second redirect is ever serviced.
//
// Validation order matters: the state check runs first, so a mismatched
// redirect fails even when it also carries a valid code.
func awaitAuthorizationCode(ctx context.Context, ln net.Listener, expectedState string) (string, error) {
	resultCh := make(chan callbackResult, 1)
	var once sync.Once

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			q := r.URL.Query()
			switch {
			case q.Get("state") != expectedState:
				http.Error(w, "state mismatch", http.StatusBadRequest)
				resultCh <- callbackResult{err: ErrStateMismatch}

			case q.Get("code") != "":
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				fmt.Fprint(w, callbackSuccessPage)
				resultCh <- callbackResult{code: q.Get("code")}

			case q.Get("error") != "":
				http.Error(w, q.Get("error"), http.StatusInternalServerError)
				resultCh <- callbackResult{
					err: fmt.Errorf("authorization failed: provider reported %q", q.Get("error")),
				}

			default:
				http.Error(w, "missing code", http.StatusBadRequest)
				resultCh <- callbackResult{
					err: errors.New("malformed redirect: neither code nor error present"),
				}
			}
		})
	})

	srv := &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() { _ = srv.Serve(ln) }()

	select {
	case res := <-resultCh:
		// Shutdown waits for the in-flight handler so the browser gets
		// its response before the socket disappears.
		shutCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
		return res.code, res.err

	case <-ctx.Done():
		_ = srv.Close()
		return "", ctx.Err()
	}
}
