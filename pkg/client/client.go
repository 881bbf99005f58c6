package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Backend endpoints.
const (
	pathLogin          = "/api/v2/auth/login"
	pathLogout         = "/api/v2/auth/logout"
	pathVersion        = "/api/v2/app/version"
	pathPreferences    = "/api/v2/app/preferences"
	pathTorrentsInfo   = "/api/v2/torrents/info"
	pathTorrentsProps  = "/api/v2/torrents/properties"
	pathTorrentsFiles  = "/api/v2/torrents/files"
	pathTorrentsTrack  = "/api/v2/torrents/trackers"
	pathTorrentsAdd    = "/api/v2/torrents/add"
	pathTorrentsPrefix = "/api/v2/torrents/"
	pathSearchStart    = "/api/v2/search/start"
	pathSearchStatus   = "/api/v2/search/status"
	pathSearchResults  = "/api/v2/search/results"
	pathSearchStop     = "/api/v2/search/stop"
	pathSearchDelete   = "/api/v2/search/delete"
)

const (
	defaultRequestTimeout     = 30 * time.Second
	defaultSearchPollInterval = time.Second
	defaultSearchMaxWait      = 30 * time.Second

	maxResponseBytes = 4 << 20
	maxErrorBody     = 512
)

// Credentials identify the backend and the account used to log in.
type Credentials struct {
	BaseURL        string
	Username       string
	Password       string
	RequestTimeout time.Duration // per request; default 30s
}

// Observer receives one callback per backend round trip and per login
// attempt. status is 0 when the request never got a response.
type Observer interface {
	ObserveRequest(method, path string, status int, d time.Duration)
	ObserveLogin(success bool)
}

type nopObserver struct{}

func (nopObserver) ObserveRequest(string, string, int, time.Duration) {}
func (nopObserver) ObserveLogin(bool)                                 {}

// Client is a qBittorrent Web API client. It holds one session shared by
// all calls and is safe for concurrent use.
type Client struct {
	baseURL    string
	creds      Credentials
	timeout    time.Duration
	httpClient *http.Client
	logger     *zap.Logger
	observer   Observer

	session Session
	logins  singleflight.Group

	searchPollInterval time.Duration
	searchMaxWait      time.Duration
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client. Its Timeout should be zero or
// larger than the request timeout; per-request deadlines come from contexts.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("nil http client")
		}
		c.httpClient = hc
		return nil
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

// WithObserver registers request/login callbacks, typically metrics.
func WithObserver(o Observer) Option {
	return func(c *Client) error {
		if o != nil {
			c.observer = o
		}
		return nil
	}
}

// WithSearchPolling sets how often a running search job is polled and how
// long SearchTorrents waits for it before collecting what is available.
func WithSearchPolling(interval, maxWait time.Duration) Option {
	return func(c *Client) error {
		if interval <= 0 || maxWait <= 0 {
			return fmt.Errorf("search polling interval and max wait must be positive")
		}
		c.searchPollInterval = interval
		c.searchMaxWait = maxWait
		return nil
	}
}

// WithInsecureSkipVerify disables TLS certificate verification.
// Only use this against a backend with a self-signed certificate.
func WithInsecureSkipVerify() Option {
	return func(c *Client) error {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
		c.httpClient = &http.Client{Transport: transport}
		return nil
	}
}

// New creates a Client for the backend described by creds. No network
// traffic happens until the first call.
//
//	c, err := client.New(client.Credentials{
//	    BaseURL:  "http://localhost:8080",
//	    Username: "admin",
//	    Password: "adminadmin",
//	}, client.WithLogger(logger))
func New(creds Credentials, opts ...Option) (*Client, error) {
	base, err := normalizeBaseURL(creds.BaseURL)
	if err != nil {
		return nil, err
	}
	timeout := creds.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	c := &Client{
		baseURL:            base,
		creds:              creds,
		timeout:            timeout,
		httpClient:         &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()},
		logger:             zap.NewNop(),
		observer:           nopObserver{},
		searchPollInterval: defaultSearchPollInterval,
		searchMaxWait:      defaultSearchMaxWait,
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Scoped creates a client, logs in, runs fn, and closes the client on every
// exit path, including a panic in fn.
func Scoped(ctx context.Context, creds Credentials, fn func(context.Context, *Client) error, opts ...Option) error {
	c, err := New(creds, opts...)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		if err := c.Close(closeCtx); err != nil {
			c.logger.Debug("logout failed", zap.Error(err))
		}
	}()

	if err := c.Authenticate(ctx); err != nil {
		return err
	}
	return fn(ctx, c)
}

func normalizeBaseURL(raw string) (string, error) {
	if raw == "" {
		return "", errors.New("base URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("base URL %q must use http or https", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("base URL %q has no host", raw)
	}
	return strings.TrimRight(u.String(), "/"), nil
}

// BaseURL returns the normalized backend URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Session exposes the client's session state (read-only use).
func (c *Client) Session() *Session { return &c.session }

// Authenticate logs in unless a session is already active.
func (c *Client) Authenticate(ctx context.Context) error {
	if c.session.Active() {
		return nil
	}
	return c.login(ctx)
}

// Reauthenticate drops the current session and logs in again.
func (c *Client) Reauthenticate(ctx context.Context) error {
	c.session.clear()
	return c.login(ctx)
}

// login runs at most one login at a time. Concurrent callers share the
// in-flight attempt; each may stop waiting when its own ctx is done without
// aborting the attempt for the others.
func (c *Client) login(ctx context.Context) error {
	ch := c.logins.DoChan("login", func() (any, error) {
		if c.session.Active() {
			return nil, nil
		}
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return nil, c.loginOnce(lctx)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return transportError(http.MethodPost, pathLogin, ctx.Err())
	}
}

func (c *Client) loginOnce(ctx context.Context) error {
	form := url.Values{
		"username": {c.creds.Username},
		"password": {c.creds.Password},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+pathLogin, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", c.baseURL)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observer.ObserveRequest(http.MethodPost, pathLogin, 0, time.Since(start))
		c.observer.ObserveLogin(false)
		return transportError(http.MethodPost, pathLogin, err)
	}
	defer resp.Body.Close()
	c.observer.ObserveRequest(http.MethodPost, pathLogin, resp.StatusCode, time.Since(start))

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		c.observer.ObserveLogin(false)
		return transportError(http.MethodPost, pathLogin, err)
	}

	authErr := func(msg string) error {
		c.observer.ObserveLogin(false)
		c.logger.Warn("qBittorrent login rejected",
			zap.String("base_url", c.baseURL),
			zap.Int("status", resp.StatusCode),
			zap.String("reason", msg),
		)
		return &AuthenticationError{StatusCode: resp.StatusCode, Message: msg}
	}

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return authErr("client address banned after too many failed login attempts")
	case resp.StatusCode != http.StatusOK:
		return authErr(fmt.Sprintf("unexpected login status %d", resp.StatusCode))
	case strings.TrimSpace(string(body)) != "Ok.":
		return authErr("invalid username or password")
	}

	cookie := sessionCookie(resp.Cookies())
	if cookie == nil {
		return authErr("login response carried no session cookie")
	}

	c.session.set(cookie.Name, cookie.Value, time.Now().UTC())
	c.observer.ObserveLogin(true)
	c.logger.Info("authenticated with qBittorrent", zap.String("base_url", c.baseURL))
	return nil
}

// sessionCookie picks the session cookie. Older backends call it SID; newer
// ones allow a configurable QBT_SID_<port> name.
func sessionCookie(cookies []*http.Cookie) *http.Cookie {
	for _, ck := range cookies {
		if ck.Value == "" {
			continue
		}
		if ck.Name == "SID" || strings.HasPrefix(ck.Name, "QBT_SID") {
			return ck
		}
	}
	return nil
}

func sessionRejected(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

// do is the single path for every authenticated backend call. A rejected
// session is re-established once and the call retried once.
func (c *Client) do(ctx context.Context, method, path string, query, form url.Values) ([]byte, error) {
	if err := c.Authenticate(ctx); err != nil {
		return nil, err
	}

	body, status, token, err := c.send(ctx, method, path, query, form)
	if err != nil {
		return nil, err
	}
	if !sessionRejected(status) {
		return checkStatus(method, path, status, body)
	}

	c.logger.Info("session rejected, re-authenticating",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", status),
	)
	c.session.invalidate(token)
	if err := c.Authenticate(ctx); err != nil {
		return nil, err
	}

	body, status, token, err = c.send(ctx, method, path, query, form)
	if err != nil {
		return nil, err
	}
	if sessionRejected(status) {
		c.session.invalidate(token)
		return nil, &AuthenticationError{
			StatusCode: status,
			Message:    fmt.Sprintf("%s %s rejected after re-authentication", method, path),
		}
	}
	return checkStatus(method, path, status, body)
}

// send performs one HTTP round trip with the current session cookie and
// returns the token it used so a rejection can invalidate exactly that one.
func (c *Client) send(ctx context.Context, method, path string, query, form url.Values) (body []byte, status int, token string, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	var reqBody io.Reader
	if form != nil {
		reqBody = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, 0, "", fmt.Errorf("build request: %w", err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Referer", c.baseURL)

	name, token, ok := c.session.Token()
	if ok {
		req.AddCookie(&http.Cookie{Name: name, Value: token})
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observer.ObserveRequest(method, path, 0, time.Since(start))
		return nil, 0, token, transportError(method, path, err)
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	c.observer.ObserveRequest(method, path, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, resp.StatusCode, token, transportError(method, path, fmt.Errorf("read response: %w", err))
	}
	return body, resp.StatusCode, token, nil
}

func checkStatus(method, path string, status int, body []byte) ([]byte, error) {
	if status >= 200 && status < 300 {
		return body, nil
	}
	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody]
	}
	return nil, &APIError{Reason: ReasonBackend, Method: method, Path: path, StatusCode: status, Body: text}
}

// Version returns the backend application version, e.g. "v4.6.2".
func (c *Client) Version(ctx context.Context) (string, error) {
	body, err := c.do(ctx, http.MethodGet, pathVersion, nil, nil)
	if err != nil {
		return "", err
	}
	v := strings.TrimSpace(string(body))
	if v == "" {
		return "", decodeError(http.MethodGet, pathVersion, errors.New("empty version"))
	}
	return v, nil
}

// Close logs out (best effort), drops the session and releases idle
// connections. The client can still be used afterwards; the next call
// logs in again.
func (c *Client) Close(ctx context.Context) error {
	defer c.httpClient.CloseIdleConnections()

	if !c.session.Active() {
		return nil
	}
	_, status, _, err := c.send(ctx, http.MethodPost, pathLogout, nil, url.Values{})
	c.session.clear()
	if err != nil {
		return err
	}
	if status >= 300 {
		return fmt.Errorf("logout returned HTTP %d", status)
	}
	return nil
}
