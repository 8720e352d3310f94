package tui

// MsgBanner signals that the banner/title should be displayed.
type MsgBanner struct{}

// MsgCredentialsFound signals that persisted credentials were found on disk.
type MsgCredentialsFound struct{}

// MsgCredentialsNotFound signals that no credentials exist (first run).
type MsgCredentialsNotFound struct{}

// MsgRefreshing signals that a token refresh is in progress.
type MsgRefreshing struct{}

// MsgRefreshOK signals that the token was refreshed successfully.
type MsgRefreshOK struct{}

// MsgRefreshFailed signals that token refresh failed.
type MsgRefreshFailed struct{ Err error }

// MsgAuthURLReady carries the authorization URL the operator must open.
type MsgAuthURLReady struct{ URL string }

// MsgWaitingForCallback signals that the local listener is awaiting the redirect.
type MsgWaitingForCallback struct{ Port int }

// MsgCodeReceived signals that the authorization code arrived on the callback.
type MsgCodeReceived struct{}

// MsgExchangingCode signals that the code-for-token exchange has started.
type MsgExchangingCode struct{}

// MsgAuthSuccess signals that the authorization flow completed.
type MsgAuthSuccess struct{}

// MsgCredentialsSaved signals that credentials were persisted to disk.
type MsgCredentialsSaved struct{ Path string }

// MsgAccessTokenRejected signals an authorization failure (401/403) on an API call.
type MsgAccessTokenRejected struct{ Status int }

// MsgTokenRefreshedRetrying signals that the token was refreshed and the call is retried.
type MsgTokenRefreshedRetrying struct{}

// MsgRequesting signals that an API request is starting.
type MsgRequesting struct {
	Method string
	Path   string
}

// MsgRequestOK signals that an API request succeeded.
type MsgRequestOK struct{ Path string }

// MsgRequestFailed carries the details of a fatal API failure.
type MsgRequestFailed struct {
	URL    string
	Status int
	Body   string
}

// MsgDone signals that all requested paths were served.
type MsgDone struct{ Requests int }

// MsgFatal signals a fatal error that terminates the run.
type MsgFatal struct{ Err error }
