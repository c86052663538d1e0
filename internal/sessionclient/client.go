package sessionclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"campushub.org/internal/obs"
)

var (
	// ErrUnauthenticated is returned when a request is still rejected after
	// its one retry with a renewed token.
	ErrUnauthenticated = errors.New("sessionclient: unauthenticated")
	// ErrSessionExpired is returned to every caller waiting on a failed refresh.
	ErrSessionExpired = errors.New("sessionclient: session expired")
)

const (
	defaultRefreshPath    = "/v1/auth/refresh-token"
	defaultLoginPath      = "/login"
	defaultMaxRetries     = 3
	defaultBackoffUnit    = 200 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
	defaultRefreshTimeout = 10 * time.Second
)

// Request is a replayable API call.
type Request struct {
	Method string
	Path   string
	Body   []byte
	Header http.Header
}

func (r *Request) build(ctx context.Context, baseURL, access string) (*http.Request, error) {
	var body io.Reader
	if len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, baseURL+r.Path, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if len(r.Body) > 0 && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}
	return req, nil
}

// Client wraps an http.Client with bearer attachment and token renewal.
type Client struct {
	baseURL        string
	http           *http.Client
	tokens         *TokenStore
	refreshPath    string
	loginPath      string
	authPages      []string
	location       func() string
	onExpired      func(redirect string)
	maxRetries     int
	backoffUnit    time.Duration
	maxBackoff     time.Duration
	refreshTimeout time.Duration

	// mu orders "is the stored token newer than mine" against the store
	// update at the end of a refresh, so a late 401 either sees the new
	// token or joins the refresh still in flight.
	mu      sync.Mutex
	refresh singleflight.Group
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithRetry bounds transport-error retries: at most max extra attempts,
// waiting unit<<attempt between them, capped at ceiling.
func WithRetry(max int, unit, ceiling time.Duration) Option {
	return func(c *Client) {
		if max >= 0 {
			c.maxRetries = max
		}
		if unit > 0 {
			c.backoffUnit = unit
		}
		if ceiling > 0 {
			c.maxBackoff = ceiling
		}
	}
}

// WithRefreshTimeout bounds a single refresh exchange. A refresh that times
// out ends the session.
func WithRefreshTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.refreshTimeout = d
		}
	}
}

// WithLocation reports where the user currently is, used as the
// post-login destination.
func WithLocation(fn func() string) Option {
	return func(c *Client) {
		if fn != nil {
			c.location = fn
		}
	}
}

// OnSessionExpired is called with the login redirect after a failed refresh.
func OnSessionExpired(fn func(redirect string)) Option {
	return func(c *Client) { c.onExpired = fn }
}

// WithLoginPath sets the login entry point and the auth-entry pages on which
// no redirect is issued.
func WithLoginPath(login string, authPages ...string) Option {
	return func(c *Client) {
		if login != "" {
			c.loginPath = login
		}
		if len(authPages) > 0 {
			c.authPages = authPages
		}
	}
}

// New builds a client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &http.Client{Timeout: 30 * time.Second},
		tokens:         &TokenStore{},
		refreshPath:    defaultRefreshPath,
		loginPath:      defaultLoginPath,
		location:       func() string { return "" },
		maxRetries:     defaultMaxRetries,
		backoffUnit:    defaultBackoffUnit,
		maxBackoff:     defaultMaxBackoff,
		refreshTimeout: defaultRefreshTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if len(c.authPages) == 0 {
		c.authPages = []string{c.loginPath, "/register", "/forgot-password", "/reset-password"}
	}
	return c
}

// Tokens exposes the client's store.
func (c *Client) Tokens() *TokenStore { return c.tokens }

// Do sends req with the current access token. A 401 renews the session once
// and replays req with the new token; a second 401 is ErrUnauthenticated.
func (c *Client) Do(ctx context.Context, req *Request) (*http.Response, error) {
	used := c.tokens.Get().Access
	resp, err := c.send(ctx, req, used)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	drain(resp)

	access, err := c.renew(ctx, used)
	if err != nil {
		return nil, err
	}
	resp, err = c.send(ctx, req, access)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp)
		return nil, ErrUnauthenticated
	}
	return resp, nil
}

// renew returns an access token newer than used, refreshing at most once
// for all concurrent callers.
func (c *Client) renew(ctx context.Context, used string) (string, error) {
	c.mu.Lock()
	if cur := c.tokens.Get().Access; cur != "" && cur != used {
		c.mu.Unlock()
		return cur, nil
	}
	shared := context.WithoutCancel(ctx)
	ch := c.refresh.DoChan("refresh", func() (any, error) {
		return c.doRefresh(shared)
	})
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (c *Client) doRefresh(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.refreshTimeout)
	defer cancel()

	current := c.tokens.Get()
	if current.Refresh == "" {
		return "", c.expire(errors.New("no refresh token"))
	}
	body, err := json.Marshal(map[string]string{"refreshToken": current.Refresh})
	if err != nil {
		return "", c.expire(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.refreshPath, bytes.NewReader(body))
	if err != nil {
		return "", c.expire(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", c.expire(err)
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK {
		return "", c.expire(fmt.Errorf("refresh returned status %d", resp.StatusCode))
	}
	var env envelope[sessionData]
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return "", c.expire(fmt.Errorf("decode refresh response: %w", err))
	}
	if env.Data.AccessToken == "" {
		return "", c.expire(errors.New("refresh response carried no access token"))
	}

	next := Tokens{Access: env.Data.AccessToken, Refresh: env.Data.RefreshToken}
	if next.Refresh == "" {
		next.Refresh = current.Refresh
	}
	c.mu.Lock()
	c.tokens.Set(next)
	c.mu.Unlock()

	obs.Logger().Debug("session refreshed",
		slog.String("event", "session.refreshed"),
		slog.String("module", "sessionclient"),
	)
	return next.Access, nil
}

// expire clears the session and sends the user to login, unless they are
// already on an auth-entry page.
func (c *Client) expire(cause error) error {
	c.mu.Lock()
	c.tokens.Clear()
	c.mu.Unlock()

	obs.Logger().Info("session expired",
		slog.String("event", "session.expired"),
		slog.String("module", "sessionclient"),
		slog.String("error", cause.Error()),
	)
	if c.onExpired != nil {
		loc := c.location()
		if !c.onAuthPage(loc) {
			redirect := c.loginPath
			if loc != "" {
				redirect += "?redirect=" + url.QueryEscape(loc)
			}
			c.onExpired(redirect)
		}
	}
	return fmt.Errorf("%w: %v", ErrSessionExpired, cause)
}

func (c *Client) onAuthPage(loc string) bool {
	if i := strings.IndexAny(loc, "?#"); i >= 0 {
		loc = loc[:i]
	}
	loc = strings.TrimRight(loc, "/")
	for _, p := range c.authPages {
		if loc == strings.TrimRight(p, "/") {
			return true
		}
	}
	return false
}

// send performs one logical call, retrying transport failures with bounded
// exponential backoff.
func (c *Client) send(ctx context.Context, r *Request, access string) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(c.backoff(attempt))
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
		}
		req, err := r.build(ctx, c.baseURL, access)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		obs.Logger().Debug("request failed, retrying",
			slog.String("event", "session.transport_retry"),
			slog.String("module", "sessionclient"),
			slog.String("path", r.Path),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}
	return nil, fmt.Errorf("sessionclient: %s %s: %w", r.Method, r.Path, lastErr)
}

func (c *Client) backoff(attempt int) time.Duration {
	d := c.backoffUnit << (attempt - 1)
	if d <= 0 || d > c.maxBackoff {
		return c.maxBackoff
	}
	return d
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	_ = resp.Body.Close()
}
