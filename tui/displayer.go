package tui

import (
	"fmt"
	"io"

	tea "charm.land/bubbletea/v2"
)

// Displayer abstracts all operator-facing output from the OAuth flow and
// the request loop. API response payloads never go through it; they are
// written to stdout so they stay pipeable.
type Displayer interface {
	Banner()
	CredentialsFound()
	CredentialsNotFound()
	Refreshing()
	RefreshOK()
	RefreshFailed(err error)
	AuthURLReady(url string)
	WaitingForCallback(port int)
	CodeReceived()
	ExchangingCode()
	AuthSuccess()
	CredentialsSaved(path string)
	AccessTokenRejected(status int)
	TokenRefreshedRetrying()
	Requesting(method, path string)
	RequestOK(path string)
	RequestFailed(url string, status int, body string)
	Done(requests int)
	Fatal(err error)
}

// PlainDisplayer writes plain text output to w.
// Used when stderr is not a TTY (pipes, CI, SSH without pty).
type PlainDisplayer struct {
	w io.Writer
}

// NewPlainDisplayer creates a PlainDisplayer that writes to w.
func NewPlainDisplayer(w io.Writer) *PlainDisplayer {
	return &PlainDisplayer{w: w}
}

func (p *PlainDisplayer) Banner() {
	fmt.Fprintln(p.w, "=== reddit-cli ===")
	fmt.Fprintln(p.w)
}

func (p *PlainDisplayer) CredentialsFound() {
	fmt.Fprintln(p.w, "Found existing credentials.")
}

func (p *PlainDisplayer) CredentialsNotFound() {
	fmt.Fprintln(p.w, "No credentials found, starting authorization flow...")
}

func (p *PlainDisplayer) Refreshing() {
	fmt.Fprintln(p.w, "Refreshing access token...")
}

func (p *PlainDisplayer) RefreshOK() {
	fmt.Fprintln(p.w, "Token refreshed successfully.")
}

func (p *PlainDisplayer) RefreshFailed(err error) {
	fmt.Fprintf(p.w, "Refresh failed: %v\n", err)
}

func (p *PlainDisplayer) AuthURLReady(url string) {
	fmt.Fprintln(p.w, "----------------------------------------")
	fmt.Fprintf(p.w, "Please open this link to authorize:\n%s\n", url)
	fmt.Fprintln(p.w, "----------------------------------------")
}

func (p *PlainDisplayer) WaitingForCallback(port int) {
	fmt.Fprintf(p.w, "Waiting for the OAuth redirect on http://localhost:%d ...\n", port)
}

func (p *PlainDisplayer) CodeReceived() {
	fmt.Fprintln(p.w, "Authorization code received.")
}

func (p *PlainDisplayer) ExchangingCode() {
	fmt.Fprintln(p.w, "Exchanging authorization code for tokens...")
}

func (p *PlainDisplayer) AuthSuccess() {
	fmt.Fprintln(p.w, "Authorization successful!")
}

func (p *PlainDisplayer) CredentialsSaved(path string) {
	fmt.Fprintf(p.w, "Credentials saved to %s\n", path)
}

func (p *PlainDisplayer) AccessTokenRejected(status int) {
	fmt.Fprintf(p.w, "Access token rejected (%d), refreshing...\n", status)
}

func (p *PlainDisplayer) TokenRefreshedRetrying() {
	fmt.Fprintln(p.w, "Token refreshed, retrying request...")
}

func (p *PlainDisplayer) Requesting(method, path string) {
	fmt.Fprintf(p.w, "%s %s\n", method, path)
}

func (p *PlainDisplayer) RequestOK(path string) {
	fmt.Fprintf(p.w, "OK %s\n", path)
}

func (p *PlainDisplayer) RequestFailed(url string, status int, body string) {
	fmt.Fprintf(p.w, "Request failed: %s\nStatus: %d\nBody: %s\n", url, status, body)
}

func (p *PlainDisplayer) Done(requests int) {
	fmt.Fprintf(p.w, "Done: %d request(s) completed.\n", requests)
}

func (p *PlainDisplayer) Fatal(err error) {
	fmt.Fprintf(p.w, "Error: %v\n", err)
}

// NoopDisplayer is a no-op implementation used in tests.
type NoopDisplayer struct{}

func (NoopDisplayer) Banner()                                 {}
func (NoopDisplayer) CredentialsFound()                       {}
func (NoopDisplayer) CredentialsNotFound()                    {}
func (NoopDisplayer) Refreshing()                             {}
func (NoopDisplayer) RefreshOK()                              {}
func (NoopDisplayer) RefreshFailed(_ error)                   {}
func (NoopDisplayer) AuthURLReady(_ string)                   {}
func (NoopDisplayer) WaitingForCallback(_ int)                {}
func (NoopDisplayer) CodeReceived()                           {}
func (NoopDisplayer) ExchangingCode()                         {}
func (NoopDisplayer) AuthSuccess()                            {}
func (NoopDisplayer) CredentialsSaved(_ string)               {}
func (NoopDisplayer) AccessTokenRejected(_ int)               {}
func (NoopDisplayer) TokenRefreshedRetrying()                 {}
func (NoopDisplayer) Requesting(_, _ string)                  {}
func (NoopDisplayer) RequestOK(_ string)                      {}
func (NoopDisplayer) RequestFailed(_ string, _ int, _ string) {}
func (NoopDisplayer) Done(_ int)                              {}
func (NoopDisplayer) Fatal(_ error)                           {}

// ProgramDisplayer sends BubbleTea messages to a running tea.Program.
type ProgramDisplayer struct {
	p *tea.Program
}

// NewProgramDisplayer creates a ProgramDisplayer that sends messages to p.
func NewProgramDisplayer(p *tea.Program) *ProgramDisplayer {
	return &ProgramDisplayer{p: p}
}

func (t *ProgramDisplayer) Banner() {
	t.p.Send(MsgBanner{})
}

func (t *ProgramDisplayer) CredentialsFound() {
	t.p.Send(MsgCredentialsFound{})
}

func (t *ProgramDisplayer) CredentialsNotFound() {
	t.p.Send(MsgCredentialsNotFound{})
}

func (t *ProgramDisplayer) Refreshing() {
	t.p.Send(MsgRefreshing{})
}

func (t *ProgramDisplayer) RefreshOK() {
	t.p.Send(MsgRefreshOK{})
}

func (t *ProgramDisplayer) RefreshFailed(err error) {
	t.p.Send(MsgRefreshFailed{Err: err})
}

func (t *ProgramDisplayer) AuthURLReady(url string) {
	t.p.Send(MsgAuthURLReady{URL: url})
}

func (t *ProgramDisplayer) WaitingForCallback(port int) {
	t.p.Send(MsgWaitingForCallback{Port: port})
}

func (t *ProgramDisplayer) CodeReceived() {
	t.p.Send(MsgCodeReceived{})
}

func (t *ProgramDisplayer) ExchangingCode() {
	t.p.Send(MsgExchangingCode{})
}

func (t *ProgramDisplayer) AuthSuccess() {
	t.p.Send(MsgAuthSuccess{})
}

func (t *ProgramDisplayer) CredentialsSaved(path string) {
	t.p.Send(MsgCredentialsSaved{Path: path})
}

func (t *ProgramDisplayer) AccessTokenRejected(status int) {
	t.p.Send(MsgAccessTokenRejected{Status: status})
}

func (t *ProgramDisplayer) TokenRefreshedRetrying() {
	t.p.Send(MsgTokenRefreshedRetrying{})
}

func (t *ProgramDisplayer) Requesting(method, path string) {
	t.p.Send(MsgRequesting{Method: method, Path: path})
}

func (t *ProgramDisplayer) RequestOK(path string) {
	t.p.Send(MsgRequestOK{Path: path})
}

func (t *ProgramDisplayer) RequestFailed(url string, status int, body string) {
	t.p.Send(MsgRequestFailed{URL: url, Status: status, Body: body})
}

func (t *ProgramDisplayer) Done(requests int) {
	t.p.Send(MsgDone{Requests: requests})
}

func (t *ProgramDisplayer) Fatal(err error) {
	t.p.Send(MsgFatal{Err: err})
}
