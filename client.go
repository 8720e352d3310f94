package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"golang.org/x/oauth2"

	"github.com/go-authgate/reddit-cli/tui"
)

// Provider endpoints. This client is hardcoded to one provider; the token
// endpoint authenticates with HTTP Basic auth of "client_id:" (empty secret).
const (
	authorizeEndpoint = "https://www.reddit.com/api/v1/authorize"
	tokenEndpoint     = "https://www.reddit.com/api/v1/access_token"
	apiBaseURL        = "https://oauth.reddit.com"
)

// defaultClientID is the installed-app id used when none is configured.
const defaultClientID = "ohXpoqrZYub1kg"

// userAgent identifies this client on every outbound request. The provider
// throttles generic user agents aggressively.
const userAgent = "reddit-cli/1.0 (github.com/go-authgate/reddit-cli)"

// defaultScopes is the fixed permission set requested during authorization,
// joined with commas in the authorize URL. It is not configurable.
var defaultScopes = []string{
	"identity",
	"read",
	"history",
	"mysubreddits",
	"save",
	"submit",
	"edit",
	"vote",
	"subscribe",
	"privatemessages",
}

// Timeout configuration for different operations
const (
	tokenExchangeTimeout = 10 * time.Second
	apiRequestTimeout    = 30 * time.Second
)

// ClientConfig is the resolved, immutable client configuration. Each field
// follows flag > env > persisted value > built-in default precedence; the
// callback URL default is derived from the port, so it resolves last.
type ClientConfig struct {
	ClientID      string
	Port          int
	OAuthCallback string
	ConfigFile    string
}

// RequestError is a fatal API failure: the request still failed after the
// single refresh-and-retry, so the run is aborted.
type RequestError struct {
	URL    string
	Status int
	Body   string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request to %s failed with status %d: %s", e.URL, e.Status, e.Body)
}

// Client performs authenticated API calls against the provider, obtaining
// and refreshing tokens as needed. It owns its Credentials exclusively;
// construction is cheap and performs no I/O.
type Client struct {
	cfg   ClientConfig
	creds Credentials
	http  *retry.Client
	d     tui.Displayer

	// Endpoint overrides for tests; production uses the provider constants.
	authURL  string
	tokenURL string
	apiURL   string
}

// newClient builds a Client from pre-resolved configuration and previously
// persisted credentials (both may be empty on first run).
func newClient(cfg ClientConfig, creds Credentials, httpClient *retry.Client, d tui.Displayer) *Client {
	return &Client{
		cfg:      cfg,
		creds:    creds,
		http:     httpClient,
		d:        d,
		authURL:  authorizeEndpoint,
		tokenURL: tokenEndpoint,
		apiURL:   apiBaseURL,
	}
}

// buildAuthURL constructs the URL the operator opens in a browser to grant
// access. duration=permanent asks the provider for a refresh token.
func (c *Client) buildAuthURL(state string) string {
	params := url.Values{}
	params.Set("client_id", c.cfg.ClientID)
	params.Set("response_type", "code")
	params.Set("state", state)
	params.Set("redirect_uri", c.cfg.OAuthCallback)
	params.Set("duration", "permanent")
	params.Set("scope", strings.Join(defaultScopes, ","))

	return c.authURL + "?" + params.Encode()
}

// authorize runs the interactive authorization flow: print the authorize
// URL, await the one-shot redirect on the local port, then exchange the
// code for a token pair. Interactive by nature, it blocks until a redirect
// arrives or ctx is cancelled.
func (c *Client) authorize(ctx context.Context) error {
	state, err := newStateToken()
	if err != nil {
		return err
	}

	// Bind before printing the URL so a taken port fails fast, before the
	// operator is sent to the browser.
	ln, err := listenCallback(c.cfg.Port)
	if err != nil {
		return err
	}

	c.d.AuthURLReady(c.buildAuthURL(state))
	c.d.WaitingForCallback(c.cfg.Port)

	code, err := awaitAuthorizationCode(ctx, ln, state)
	if err != nil {
		return err
	}
	c.d.CodeReceived()

	c.d.ExchangingCode()
	if err := c.exchangeAuthorizationCode(ctx, code); err != nil {
		return err
	}
	c.d.AuthSuccess()
	return nil
}

// exchangeAuthorizationCode trades a one-time authorization code for a
// token pair and persists it.
func (c *Client) exchangeAuthorizationCode(ctx context.Context, code string) error {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", c.cfg.OAuthCallback)

	return c.tokenRequest(ctx, form)
}

// refreshAccessToken mints a new access token from the held refresh token
// and persists the result. Failures propagate: there is no internal retry,
// and during bootstrap there are no credentials to fall back to.
func (c *Client) refreshAccessToken(ctx context.Context) error {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", c.creds.RefreshToken)

	return c.tokenRequest(ctx, form)
}

// tokenRequest is the shared completion step for both grant flows: call the
// token endpoint, require a full token pair in the response, then update
// in-memory credentials and persist them before returning.
func (c *Client) tokenRequest(ctx context.Context, form url.Values) error {
	ctx, cancel := context.WithTimeout(ctx, tokenExchangeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.tokenURL,
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)
	req.SetBasicAuth(c.cfg.ClientID, "")

	resp, err := c.http.DoWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &oauth2.RetrieveError{
			Response: resp,
			Body:     body,
		}
	}

	creds, err := decodeTokenResponse(body)
	if err != nil {
		return err
	}

	c.creds = creds
	if err := saveConfigFile(c.cfg.ConfigFile, c.creds, c.cfg); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	c.d.CredentialsSaved(c.cfg.ConfigFile)

	return nil
}

// decodeTokenResponse parses a token endpoint response. Both access_token
// and refresh_token must be present; a missing field is a protocol
// violation and the raw body is included for diagnosis.
func decodeTokenResponse(body []byte) (Credentials, error) {
	var tokenResp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return Credentials{}, fmt.Errorf("failed to parse token response: %w: %s", err, body)
	}

	if tokenResp.AccessToken == "" || tokenResp.RefreshToken == "" {
		return Credentials{}, fmt.Errorf(
			"malformed token response (missing access_token or refresh_token): %s",
			body,
		)
	}

	return Credentials{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
	}, nil
}

// ensureAccessToken lazily acquires the first access token: via refresh when
// a refresh token is held, via the full interactive flow otherwise.
func (c *Client) ensureAccessToken(ctx context.Context) error {
	if c.creds.AccessToken != "" {
		return nil
	}

	if c.creds.RefreshToken != "" {
		c.d.Refreshing()
		if err := c.refreshAccessToken(ctx); err != nil {
			c.d.RefreshFailed(err)
			return err
		}
		c.d.RefreshOK()
		return nil
	}

	c.d.CredentialsNotFound()
	return c.authorize(ctx)
}

// RequestOptions carries per-call options for Request. Caller headers are
// merged into the request but can never override Authorization.
type RequestOptions struct {
	Method string
	Params url.Values
	Header http.Header
}

// Request performs one logical API call: bearer injection, lazy first-token
// acquisition, and exactly one refresh-and-retry when the response status
// reports an authorization failure. A still-unsuccessful retry is fatal for
// the run and surfaces as a *RequestError carrying URL, status, and body.
func (c *Client) Request(ctx context.Context, path string, opts RequestOptions) (json.RawMessage, error) {
	if err := c.ensureAccessToken(ctx); err != nil {
		return nil, err
	}

	status, body, reqURL, err := c.do(ctx, path, opts)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		c.d.AccessTokenRejected(status)
		if err := c.refreshAccessToken(ctx); err != nil {
			return nil, err
		}
		c.d.TokenRefreshedRetrying()

		status, body, reqURL, err = c.do(ctx, path, opts)
		if err != nil {
			return nil, err
		}
	}

	if status < 200 || status >= 300 {
		reqErr := &RequestError{URL: reqURL, Status: status, Body: string(body)}
		c.d.RequestFailed(reqErr.URL, reqErr.Status, reqErr.Body)
		return nil, reqErr
	}

	return json.RawMessage(body), nil
}

// do issues a single HTTP attempt with the current access token.
func (c *Client) do(ctx context.Context, path string, opts RequestOptions) (int, []byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, apiRequestTimeout)
	defer cancel()

	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	reqURL := c.apiURL + "/" + strings.TrimPrefix(path, "/")
	if len(opts.Params) > 0 {
		reqURL += "?" + opts.Params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return 0, nil, reqURL, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)
	for key, values := range opts.Header {
		req.Header[http.CanonicalHeaderKey(key)] = values
	}
	// Bearer injection happens last: caller headers must not override it.
	req.Header.Set("Authorization", "Bearer "+c.creds.AccessToken)

	resp, err := c.http.DoWithContext(ctx, req)
	if err != nil {
		return 0, nil, reqURL, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, reqURL, fmt.Errorf("failed to read response: %w", err)
	}

	return resp.StatusCode, body, reqURL, nil
}

// Get requests path with params encoded as a query string.
func (c *Client) Get(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	return c.Request(ctx, path, RequestOptions{Method: http.MethodGet, Params: params})
}

// Post posts to path with params encoded as a query string.
func (c *Client) Post(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	return c.Request(ctx, path, RequestOptions{Method: http.MethodPost, Params: params})
}
