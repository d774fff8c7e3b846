// Package client is the request pipeline every console screen funnels
// through: it attaches bearer credentials, normalizes the backend's response
// envelope, and coordinates single-flight access-token renewal on 401.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/fleetops/console-client/internal/authbus"
	"github.com/fleetops/console-client/internal/credstore"
	"github.com/fleetops/console-client/internal/envelope"
	"github.com/fleetops/console-client/internal/logger"
	"github.com/fleetops/console-client/internal/metrics"
	"github.com/fleetops/console-client/internal/refresh"
)

const defaultTimeout = 30 * time.Second

var validate = validator.New()

// Config assembles a Client. Only BaseURL is required; every collaborator
// has a default suitable for headless use.
type Config struct {
	BaseURL   string `validate:"required,url"`
	Timeout   time.Duration
	UserAgent string

	HTTPClient HTTPDoer
	Store      credstore.Store
	Bus        *authbus.Bus
	Navigator  Navigator
	Metrics    *metrics.Metrics
}

// Client is safe for concurrent use by any number of goroutines.
type Client struct {
	baseURL   string
	userAgent string
	http      HTTPDoer
	store     credstore.Store
	bus       *authbus.Bus
	nav       Navigator
	coord     *refresh.Coordinator
	metrics   *metrics.Metrics
}

// tokenResponse mirrors the token endpoint's payload. The refresh endpoint
// may omit refreshToken when it does not rotate; an absent accessToken is a
// refresh failure, never an empty session.
type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// New validates the config and assembles the pipeline.
func New(cfg Config) (*Client, error) {
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid client config: %w", err)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "fleetops-console-client/1"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = NewHTTPDoer(cfg.Timeout)
	}
	if cfg.Store == nil {
		cfg.Store = credstore.NewMemStore()
	}
	if cfg.Bus == nil {
		cfg.Bus = authbus.New()
	}
	if cfg.Navigator == nil {
		cfg.Navigator = nopNavigator{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New(nil)
	}

	c := &Client{
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		http:      cfg.HTTPClient,
		store:     cfg.Store,
		bus:       cfg.Bus,
		nav:       cfg.Navigator,
		metrics:   cfg.Metrics,
	}
	c.coord = refresh.New(c.refreshCredentials)
	return c, nil
}

// Bus returns the auth event bus so hosts can observe session changes.
func (c *Client) Bus() *authbus.Bus {
	return c.bus
}

// CurrentUser returns the cached profile of the signed-in user, if any.
func (c *Client) CurrentUser() *credstore.UserProfile {
	return c.store.Get().User
}

// Do runs one request through the full pipeline and returns the normalized
// payload (or the raw body for WithBinary requests).
func (c *Client) Do(ctx context.Context, method, path string, body any, opts ...Option) ([]byte, error) {
	o := buildOptions(opts)

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("could not marshal request body: %w", err)
		}
	}

	correlationID := uuid.NewString()
	retried := false

	for {
		creds := c.store.Get()
		resp, err := c.send(ctx, method, path, payload, creds.AccessToken, correlationID, o)
		if err != nil {
			return nil, envelope.Transport(err)
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, envelope.Transport(err)
		}

		c.metrics.Requests.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()

		switch resp.StatusCode {
		case http.StatusUnauthorized:
			nerr := envelope.Failure(resp.StatusCode, respBody)
			if retried {
				// The freshly issued token was rejected again. Do not queue a
				// second time; terminate the session.
				c.forceSignOut(authbus.ReasonTokenRejected)
				return nil, nerr
			}
			retried = true
			if c.store.Get().RefreshToken == "" {
				c.forceSignOut(authbus.ReasonNoRefreshToken)
				return nil, nerr
			}
			if err := c.coord.Await(ctx); err != nil {
				return nil, err
			}
			continue

		case http.StatusForbidden:
			// Credentials stay untouched: the session may simply lack a
			// permission for this one resource.
			if !c.nav.At(LocationForbidden) {
				c.nav.Goto(LocationForbidden)
			}
			nerr := envelope.Failure(resp.StatusCode, respBody)
			nerr.Kind = envelope.KindForbidden
			return nil, nerr
		}

		if resp.StatusCode >= http.StatusBadRequest {
			return nil, envelope.Failure(resp.StatusCode, respBody)
		}
		if o.binary {
			return respBody, nil
		}
		return envelope.Normalize(resp.StatusCode, respBody)
	}
}

// JSON runs Do and decodes the normalized payload into out.
func (c *Client) JSON(ctx context.Context, method, path string, body, out any, opts ...Option) error {
	raw, err := c.Do(ctx, method, path, body, opts...)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("could not unmarshal response body: %w", err)
	}
	return nil
}

// SignIn exchanges operator credentials for a token pair and caches the
// signed-in profile.
func (c *Client) SignIn(ctx context.Context, email, password string) (*credstore.UserProfile, error) {
	var tr tokenResponse
	err := c.JSON(ctx, http.MethodPost, "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &tr)
	if err != nil {
		return nil, err
	}
	if tr.AccessToken == "" || tr.RefreshToken == "" {
		return nil, fmt.Errorf("login response contained no token pair")
	}

	profile := credstore.ProfileFromToken(tr.AccessToken)
	c.store.Set(credstore.Credentials{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		User:         profile,
	})
	c.bus.Publish(authbus.Event{Type: authbus.SignedIn})

	logger.Get().Info().Str("email", email).Msg("signed in")
	return profile, nil
}

// SignOut clears the session on user request. Safe to call repeatedly.
func (c *Client) SignOut() {
	c.forceSignOut(authbus.ReasonUserRequested)
}

// WatchRemoteSignOut subscribes to the credential store's change feed, if it
// has one, so a sign-out performed by another instance sharing the durable
// store terminates this session too.
func (c *Client) WatchRemoteSignOut(ctx context.Context) error {
	watcher, ok := c.store.(credstore.Watcher)
	if !ok {
		return nil
	}
	return watcher.Watch(ctx, func() {
		// The watch adapter already dropped the local mirror and the durable
		// record is gone; re-broadcasting here would echo between instances.
		c.metrics.ForcedSignOuts.WithLabelValues(string(authbus.ReasonRemote)).Inc()
		c.bus.Publish(authbus.Event{Type: authbus.SignedOut, Reason: authbus.ReasonRemote})
		if !c.nav.At(LocationSignIn) {
			c.nav.Goto(LocationSignIn)
		}
		logger.Get().Info().Msg("signed out by another instance")
	})
}

// refreshCredentials is the coordinator's renewal function: one outbound call
// to the token endpoint per storm, persisting the new pair on success and
// terminating the session on any failure.
func (c *Client) refreshCredentials(ctx context.Context) error {
	creds := c.store.Get()
	if creds.RefreshToken == "" {
		return c.refreshFailed(&envelope.NormalizedError{
			Kind:    envelope.KindRefresh,
			Message: "no refresh token available",
		})
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/refresh", nil)
	if err != nil {
		return c.refreshFailed(&envelope.NormalizedError{Kind: envelope.KindRefresh, Message: err.Error()})
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Refresh-Token", creds.RefreshToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return c.refreshFailed(&envelope.NormalizedError{Kind: envelope.KindRefresh, Message: err.Error()})
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return c.refreshFailed(&envelope.NormalizedError{Kind: envelope.KindRefresh, Message: err.Error()})
	}

	if resp.StatusCode != http.StatusOK {
		nerr := envelope.Failure(resp.StatusCode, body)
		nerr.Kind = envelope.KindRefresh
		return c.refreshFailed(nerr)
	}

	raw, err := envelope.Normalize(resp.StatusCode, body)
	if err != nil {
		nerr := envelope.Failure(resp.StatusCode, body)
		nerr.Kind = envelope.KindRefresh
		return c.refreshFailed(nerr)
	}

	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil || tr.AccessToken == "" {
		return c.refreshFailed(&envelope.NormalizedError{
			Kind:       envelope.KindRefresh,
			Message:    "refresh response contained no access token",
			HTTPStatus: resp.StatusCode,
		})
	}

	// The endpoint may not rotate the refresh token; keep the old one then.
	nextRefresh := tr.RefreshToken
	if nextRefresh == "" {
		nextRefresh = creds.RefreshToken
	}
	profile := credstore.ProfileFromToken(tr.AccessToken)
	if profile == nil {
		profile = creds.User
	}

	c.store.Set(credstore.Credentials{
		AccessToken:  tr.AccessToken,
		RefreshToken: nextRefresh,
		User:         profile,
	})
	c.metrics.TokenRefreshes.WithLabelValues("success").Inc()
	c.bus.Publish(authbus.Event{Type: authbus.TokenRefreshed})

	logger.Get().Debug().Msg("access token refreshed")
	return nil
}

func (c *Client) refreshFailed(nerr *envelope.NormalizedError) error {
	c.metrics.TokenRefreshes.WithLabelValues("failure").Inc()
	c.forceSignOut(authbus.ReasonRefreshFailed)
	return nerr
}

func (c *Client) forceSignOut(reason authbus.Reason) {
	c.store.Clear()
	c.metrics.ForcedSignOuts.WithLabelValues(string(reason)).Inc()
	c.bus.Publish(authbus.Event{Type: authbus.SignedOut, Reason: reason})
	if !c.nav.At(LocationSignIn) {
		c.nav.Goto(LocationSignIn)
	}
	logger.Get().Warn().Str("reason", string(reason)).Msg("session terminated")
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte, token, correlationID string, o requestOptions) (*http.Response, error) {
	u := c.baseURL + path
	if len(o.query) > 0 {
		u += "?" + o.query.Encode()
	}

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, err
	}

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Correlation-Id", correlationID)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range o.headers {
		req.Header.Set(k, v)
	}

	return c.http.Do(req)
}
