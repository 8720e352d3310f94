package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"golang.org/x/oauth2"

	"github.com/go-authgate/reddit-cli/tui"
)

// newTestClient builds a Client with a temp config file and the Noop
// displayer. Endpoint fields are overridden per test.
func newTestClient(t *testing.T, creds Credentials) *Client {
	t.Helper()

	httpClient, err := retry.NewClient()
	if err != nil {
		t.Fatalf("Failed to create retry client: %v", err)
	}

	path := filepath.Join(t.TempDir(), "config.json")
	return newClient(testClientConfig(path), creds, httpClient, tui.NoopDisplayer{})
}

func tokenJSON(access, refreshToken string) string {
	return `{"access_token":"` + access + `","refresh_token":"` + refreshToken +
		`","token_type":"bearer","expires_in":3600,"scope":"identity read"}`
}

func TestExchangeAuthorizationCode(t *testing.T) {
	c := newTestClient(t, Credentials{})

	wantAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte("test-client:"))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != wantAuth {
			t.Errorf("Authorization = %q, want %q", got, wantAuth)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("Failed to parse form: %v", err)
		}
		if got := r.FormValue("grant_type"); got != "authorization_code" {
			t.Errorf("grant_type = %q, want authorization_code", got)
		}
		if got := r.FormValue("code"); got != "one-time-code" {
			t.Errorf("code = %q, want one-time-code", got)
		}
		if got := r.FormValue("redirect_uri"); got != c.cfg.OAuthCallback {
			t.Errorf("redirect_uri = %q, want %q", got, c.cfg.OAuthCallback)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(tokenJSON("new-access-token", "new-refresh-token")))
	}))
	defer server.Close()
	c.tokenURL = server.URL

	if err := c.exchangeAuthorizationCode(context.Background(), "one-time-code"); err != nil {
		t.Fatalf("exchangeAuthorizationCode() error = %v", err)
	}

	if c.creds.AccessToken != "new-access-token" || c.creds.RefreshToken != "new-refresh-token" {
		t.Errorf("Credentials not updated, got %+v", c.creds)
	}

	// The exchange must persist the pair alongside the unchanged config.
	saved, doc := loadConfigFile(c.cfg.ConfigFile)
	if saved != c.creds {
		t.Errorf("Persisted credentials = %+v, want %+v", saved, c.creds)
	}
	if doc.ClientID != c.cfg.ClientID || doc.OAuthCallback != c.cfg.OAuthCallback {
		t.Errorf("Config fields changed on save: %+v", doc)
	}
}

func TestRefreshAccessToken(t *testing.T) {
	c := newTestClient(t, Credentials{RefreshToken: "stored-refresh-token"})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("Failed to parse form: %v", err)
		}
		if got := r.FormValue("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q, want refresh_token", got)
		}
		if got := r.FormValue("refresh_token"); got != "stored-refresh-token" {
			t.Errorf("refresh_token = %q, want stored-refresh-token", got)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(tokenJSON("minted-access-token", "rotated-refresh-token")))
	}))
	defer server.Close()
	c.tokenURL = server.URL

	if err := c.refreshAccessToken(context.Background()); err != nil {
		t.Fatalf("refreshAccessToken() error = %v", err)
	}

	if c.creds.AccessToken != "minted-access-token" {
		t.Errorf("AccessToken = %q, want minted-access-token", c.creds.AccessToken)
	}
	if c.creds.RefreshToken != "rotated-refresh-token" {
		t.Errorf("RefreshToken = %q, want rotated-refresh-token", c.creds.RefreshToken)
	}
}

func TestDecodeTokenResponse(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{
			name: "valid token pair",
			body: tokenJSON("access", "refresh"),
		},
		{
			name:    "missing refresh_token",
			body:    `{"access_token":"access","token_type":"bearer"}`,
			wantErr: true,
		},
		{
			name:    "missing access_token",
			body:    `{"refresh_token":"refresh"}`,
			wantErr: true,
		},
		{
			name:    "empty object",
			body:    `{}`,
			wantErr: true,
		},
		{
			name:    "not JSON",
			body:    `<html>rate limited</html>`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			creds, err := decodeTokenResponse([]byte(tt.body))

			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected error, got nil")
				}
				// The raw body is surfaced for diagnosis.
				if !strings.Contains(err.Error(), tt.body) {
					t.Errorf("Error does not carry the raw body: %v", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("decodeTokenResponse() error = %v", err)
			}
			if creds.AccessToken == "" || creds.RefreshToken == "" {
				t.Errorf("Incomplete credentials: %+v", creds)
			}
		})
	}
}

func TestTokenRequest_Non2xx(t *testing.T) {
	c := newTestClient(t, Credentials{RefreshToken: "expired-refresh-token"})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer server.Close()
	c.tokenURL = server.URL

	err := c.refreshAccessToken(context.Background())
	if err == nil {
		t.Fatal("Expected error for non-2xx token response, got nil")
	}

	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		t.Fatalf("Expected *oauth2.RetrieveError, got %T: %v", err, err)
	}
	if !strings.Contains(string(retrieveErr.Body), "invalid_grant") {
		t.Errorf("Expected provider error body, got: %s", retrieveErr.Body)
	}
}

func TestRequest_RefreshAndRetryOn401(t *testing.T) {
	c := newTestClient(t, Credentials{
		AccessToken:  "stale-access-token",
		RefreshToken: "valid-refresh-token",
	})

	var refreshCount atomic.Int32
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshCount.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(tokenJSON("fresh-access-token", "valid-refresh-token")))
	}))
	defer tokenServer.Close()
	c.tokenURL = tokenServer.URL

	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("Authorization") {
		case "Bearer stale-access-token":
			w.WriteHeader(http.StatusUnauthorized)
		case "Bearer fresh-access-token":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"kind":"Listing"}`))
		default:
			t.Errorf("Unexpected Authorization header: %q", r.Header.Get("Authorization"))
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	defer apiServer.Close()
	c.apiURL = apiServer.URL

	body, err := c.Get(context.Background(), "/api/v1/me", nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	var parsed map[string]string
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("Failed to parse body: %v", err)
	}
	if parsed["kind"] != "Listing" {
		t.Errorf("Expected body of the retried response, got %s", body)
	}

	if got := refreshCount.Load(); got != 1 {
		t.Errorf("Expected exactly 1 refresh, got %d", got)
	}
}

func TestRequest_FatalAfterRetry(t *testing.T) {
	c := newTestClient(t, Credentials{
		AccessToken:  "revoked-access-token",
		RefreshToken: "refresh-token",
	})

	var refreshCount atomic.Int32
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshCount.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(tokenJSON("still-revoked-token", "refresh-token")))
	}))
	defer tokenServer.Close()
	c.tokenURL = tokenServer.URL

	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":"insufficient_scope"}`))
	}))
	defer apiServer.Close()
	c.apiURL = apiServer.URL

	_, err := c.Get(context.Background(), "/api/v1/me", nil)
	if err == nil {
		t.Fatal("Expected fatal error after refresh-and-retry, got nil")
	}

	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("Expected *RequestError, got %T: %v", err, err)
	}
	if reqErr.Status != http.StatusForbidden {
		t.Errorf("Status = %d, want 403", reqErr.Status)
	}
	if !strings.Contains(reqErr.URL, "/api/v1/me") {
		t.Errorf("URL = %q, want it to contain the request path", reqErr.URL)
	}
	if !strings.Contains(reqErr.Body, "insufficient_scope") {
		t.Errorf("Body = %q, want the response body", reqErr.Body)
	}

	if got := refreshCount.Load(); got != 1 {
		t.Errorf("Expected exactly 1 refresh (no further retries), got %d", got)
	}
}

func TestRequest_LazyRefreshBeforeFirstCall(t *testing.T) {
	// Access token absent but a refresh token is held: the first request
	// must trigger exactly one refresh and never open the listener.
	c := newTestClient(t, Credentials{RefreshToken: "persisted-refresh-token"})

	var refreshCount atomic.Int32
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshCount.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(tokenJSON("lazy-access-token", "persisted-refresh-token")))
	}))
	defer tokenServer.Close()
	c.tokenURL = tokenServer.URL

	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer lazy-access-token" {
			t.Errorf("Authorization = %q, want the freshly minted token", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer apiServer.Close()
	c.apiURL = apiServer.URL

	if _, err := c.Get(context.Background(), "/api/v1/me", nil); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if got := refreshCount.Load(); got != 1 {
		t.Errorf("Expected exactly 1 refresh before the first call, got %d", got)
	}
}

func TestGet_EncodesQueryParams(t *testing.T) {
	c := newTestClient(t, Credentials{AccessToken: "access-token"})

	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("a") != "1" || q.Get("b") != "x" {
			t.Errorf("Query params did not round-trip: %v", q)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer apiServer.Close()
	c.apiURL = apiServer.URL

	params := url.Values{}
	params.Set("a", "1")
	params.Set("b", "x")

	if _, err := c.Get(context.Background(), "/search", params); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
}

func TestPost_UsesQueryString(t *testing.T) {
	c := newTestClient(t, Credentials{AccessToken: "access-token"})

	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if got := r.URL.Query().Get("id"); got != "t3_abc" {
			t.Errorf("id = %q, want t3_abc", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer apiServer.Close()
	c.apiURL = apiServer.URL

	params := url.Values{}
	params.Set("id", "t3_abc")

	if _, err := c.Post(context.Background(), "/api/save", params); err != nil {
		t.Fatalf("Post() error = %v", err)
	}
}

func TestRequest_CallerCannotOverrideAuthorization(t *testing.T) {
	c := newTestClient(t, Credentials{AccessToken: "real-access-token"})

	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer real-access-token" {
			t.Errorf("Authorization = %q, caller header must not win", got)
		}
		if got := r.Header.Get("X-Extra"); got != "kept" {
			t.Errorf("X-Extra = %q, caller headers should be merged", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer apiServer.Close()
	c.apiURL = apiServer.URL

	header := http.Header{}
	header.Set("Authorization", "Bearer forged-token")
	header.Set("X-Extra", "kept")

	_, err := c.Request(context.Background(), "/api/v1/me", RequestOptions{Header: header})
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
}

func TestBuildAuthURL(t *testing.T) {
	c := newTestClient(t, Credentials{})

	raw := c.buildAuthURL("the-state-token")
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("buildAuthURL produced an invalid URL: %v", err)
	}

	q := u.Query()
	if got := q.Get("client_id"); got != "test-client" {
		t.Errorf("client_id = %q, want test-client", got)
	}
	if got := q.Get("response_type"); got != "code" {
		t.Errorf("response_type = %q, want code", got)
	}
	if got := q.Get("state"); got != "the-state-token" {
		t.Errorf("state = %q, want the-state-token", got)
	}
	if got := q.Get("redirect_uri"); got != c.cfg.OAuthCallback {
		t.Errorf("redirect_uri = %q, want %q", got, c.cfg.OAuthCallback)
	}
	if got := q.Get("duration"); got != "permanent" {
		t.Errorf("duration = %q, want permanent", got)
	}
	if got := q.Get("scope"); got != strings.Join(defaultScopes, ",") {
		t.Errorf("scope = %q, want the comma-joined scope set", got)
	}
}

// recordingDisplayer captures the authorization URL so the test can play
// the browser's role in the redirect.
type recordingDisplayer struct {
	tui.NoopDisplayer
	authURL chan string
}

func (d *recordingDisplayer) AuthURLReady(url string) {
	d.authURL <- url
}

func TestAuthorize_FirstRunFullFlow(t *testing.T) {
	// Missing credential file: the first request runs the full interactive
	// authorization flow and ends with a valid config file on disk.
	httpClient, err := retry.NewClient()
	if err != nil {
		t.Fatalf("Failed to create retry client: %v", err)
	}

	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("Failed to parse form: %v", err)
		}
		if got := r.FormValue("grant_type"); got != "authorization_code" {
			t.Errorf("grant_type = %q, want authorization_code", got)
		}
		if got := r.FormValue("code"); got != "browser-code" {
			t.Errorf("code = %q, want browser-code", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(tokenJSON("first-access-token", "first-refresh-token")))
	}))
	defer tokenServer.Close()

	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer first-access-token" {
			t.Errorf("Authorization = %q, want the exchanged token", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"name":"new-user"}`))
	}))
	defer apiServer.Close()

	// Reserve an ephemeral port for the callback listener.
	probe, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to probe for a free port: %v", err)
	}
	port := probe.Addr().(*net.TCPAddr).Port
	probe.Close()

	configFile := filepath.Join(t.TempDir(), "config.json")
	cfg := ClientConfig{
		ClientID:      "test-client",
		Port:          port,
		OAuthCallback: "http://localhost:" + strconv.Itoa(port),
		ConfigFile:    configFile,
	}

	d := &recordingDisplayer{authURL: make(chan string, 1)}
	c := newClient(cfg, Credentials{}, httpClient, d)
	c.tokenURL = tokenServer.URL
	c.apiURL = apiServer.URL

	type getResult struct {
		body json.RawMessage
		err  error
	}
	done := make(chan getResult, 1)
	go func() {
		body, err := c.Get(context.Background(), "/api/v1/me", nil)
		done <- getResult{body: body, err: err}
	}()

	// Play the browser: take the printed URL, extract the state, redirect.
	var authURL string
	select {
	case authURL = <-d.authURL:
	case <-time.After(5 * time.Second):
		t.Fatal("Authorization URL was never produced")
	}

	u, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("Invalid authorization URL: %v", err)
	}
	state := u.Query().Get("state")
	if len(state) != stateTokenLength {
		t.Fatalf("Unexpected state token %q in auth URL", state)
	}

	redirect := "http://127.0.0.1:" + strconv.Itoa(port) + "/?state=" + url.QueryEscape(state) + "&code=browser-code"
	resp, err := http.Get(redirect)
	if err != nil {
		t.Fatalf("Redirect request failed: %v", err)
	}
	resp.Body.Close()

	var res getResult
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Get() did not finish after the redirect")
	}
	if res.err != nil {
		t.Fatalf("Get() error = %v", res.err)
	}
	if !strings.Contains(string(res.body), "new-user") {
		t.Errorf("Unexpected response body: %s", res.body)
	}

	// The flow must leave a valid credential file behind.
	saved, _ := loadConfigFile(configFile)
	if saved.AccessToken != "first-access-token" || saved.RefreshToken != "first-refresh-token" {
		t.Errorf("Persisted credentials = %+v", saved)
	}
}

