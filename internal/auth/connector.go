// Package auth runs the OAuth authorization-code + PKCE flow for every
// provider and keeps their tokens fresh in the token store.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/jun/docpick/internal/logging"
	"github.com/jun/docpick/internal/metrics"
	"github.com/jun/docpick/internal/model"
	"github.com/jun/docpick/internal/tokenstore"
)

// State is the connection state of one (user, provider) pair.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Authorizing  State = "AUTHORIZING"
	Connected    State = "CONNECTED"
	Refreshing   State = "REFRESHING"
)

// DefaultHTTPTimeout applies to token endpoint calls and to clients
// returned by EnsureAccess.
const DefaultHTTPTimeout = 30 * time.Second

type transient struct {
	state State
	until time.Time
}

// Connector owns one provider's authorization flow.
type Connector struct {
	cfg     ProviderConfig
	tokens  tokenstore.TokenStore
	pending PendingStore
	client  *http.Client
	now     func() time.Time

	mu        sync.Mutex
	transient map[string]transient
}

// ConnectorOption configures a Connector.
type ConnectorOption func(*Connector)

// WithHTTPClient sets the client used for token endpoint calls.
func WithHTTPClient(c *http.Client) ConnectorOption {
	return func(cn *Connector) { cn.client = c }
}

// WithNow overrides the connector clock.
func WithNow(now func() time.Time) ConnectorOption {
	return func(cn *Connector) { cn.now = now }
}

func NewConnector(cfg ProviderConfig, tokens tokenstore.TokenStore, pending PendingStore, opts ...ConnectorOption) *Connector {
	c := &Connector{
		cfg:       cfg,
		tokens:    tokens,
		pending:   pending,
		client:    &http.Client{Timeout: DefaultHTTPTimeout},
		now:       time.Now,
		transient: make(map[string]transient),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Provider returns the provider this connector serves.
func (c *Connector) Provider() model.Provider { return c.cfg.Provider }

// SupportsRefresh reports whether the provider issues refresh tokens.
func (c *Connector) SupportsRefresh() bool { return c.cfg.SupportsRefresh }

func (c *Connector) log(ctx context.Context, userID string) *zap.Logger {
	return logging.WithContext(ctx).With(
		zap.String("provider", string(c.cfg.Provider)),
		zap.String("user_id", userID),
	)
}

func (c *Connector) setTransient(userID string, s State, d time.Duration) {
	c.mu.Lock()
	c.transient[userID] = transient{state: s, until: c.now().Add(d)}
	c.mu.Unlock()
}

func (c *Connector) clearTransient(userID string) {
	c.mu.Lock()
	delete(c.transient, userID)
	c.mu.Unlock()
}

func (c *Connector) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.client)
}

// Status reports the current state. Steady states derive from the stored
// token; AUTHORIZING and REFRESHING are held while a flow is in progress.
func (c *Connector) Status(ctx context.Context, userID string) State {
	c.mu.Lock()
	tr, ok := c.transient[userID]
	if ok && !c.now().Before(tr.until) {
		delete(c.transient, userID)
		ok = false
	}
	c.mu.Unlock()
	if ok {
		return tr.state
	}

	tok := c.tokens.Get(ctx, userID, c.cfg.Provider)
	if tok == nil {
		return Disconnected
	}
	now := c.now()
	if tok.AccessValid(now) || (c.cfg.SupportsRefresh && tok.RefreshValid(now)) {
		return Connected
	}
	return Disconnected
}

// statePrefix routes a shared callback to the right connector.
func (c *Connector) statePrefix() string {
	return c.cfg.Provider.Slug() + "."
}

// ProviderFromState extracts the provider encoded in an authorization state.
func ProviderFromState(state string) (model.Provider, bool) {
	slug, _, ok := strings.Cut(state, ".")
	if !ok {
		return "", false
	}
	p, err := model.ParseProvider(slug)
	return p, err == nil
}

// BeginAuthorization stores a fresh PKCE verifier under a new state and
// returns the provider's authorize URL.
func (c *Connector) BeginAuthorization(ctx context.Context, userID string) (string, error) {
	verifier := oauth2.GenerateVerifier()
	state := c.statePrefix() + uuid.NewString()

	err := c.pending.Save(ctx, model.PendingAuthorization{
		State:        state,
		UserID:       userID,
		Provider:     c.cfg.Provider,
		CodeVerifier: verifier,
		ExpiresAt:    expiresAt(c.now()),
	})
	if err != nil {
		return "", err
	}
	c.setTransient(userID, Authorizing, PendingTTL)

	conf := &oauth2.Config{
		ClientID:    c.cfg.ClientID,
		RedirectURL: c.cfg.RedirectURL,
		Endpoint:    c.cfg.Endpoint,
		Scopes:      c.cfg.Scopes,
	}
	opts := append([]oauth2.AuthCodeOption{oauth2.S256ChallengeOption(verifier)}, c.cfg.AuthParams...)
	return conf.AuthCodeURL(state, opts...), nil
}

// CompleteAuthorization redeems the callback. It returns false when the
// user cancelled or denied, when the state is unknown or expired, and on
// any exchange or storage failure.
func (c *Connector) CompleteAuthorization(ctx context.Context, state, code, providerError string) bool {
	ok := c.complete(ctx, state, code, providerError)
	metrics.RecordAuthorization(string(c.cfg.Provider), ok)
	return ok
}

func (c *Connector) complete(ctx context.Context, state, code, providerError string) bool {
	p, err := c.pending.Take(ctx, state)
	if err != nil {
		logging.WithContext(ctx).Warn("pending authorization lookup failed",
			zap.String("provider", string(c.cfg.Provider)), zap.Error(err))
		return false
	}
	if p == nil || p.Provider != c.cfg.Provider {
		logging.WithContext(ctx).Info("unknown or expired authorization state",
			zap.String("provider", string(c.cfg.Provider)))
		return false
	}
	defer c.clearTransient(p.UserID)
	log := c.log(ctx, p.UserID)

	if providerError != "" || code == "" {
		log.Info("authorization not granted", zap.String("error", providerError))
		return false
	}

	conf, err := c.cfg.oauth2Config(ctx)
	if err != nil {
		log.Error("client secret unavailable", zap.Error(err))
		return false
	}
	issuedAt := c.now()
	tok, err := conf.Exchange(c.oauthContext(ctx), code, oauth2.VerifierOption(p.CodeVerifier))
	if err != nil {
		log.Warn("code exchange failed", zap.Error(err))
		return false
	}

	if err := c.tokens.Put(ctx, p.UserID, c.providerToken(tok, issuedAt, "")); err != nil {
		log.Error("token store write failed", zap.Error(err))
		return false
	}
	log.Info("provider connected")
	return true
}

// Approver shows the authorize URL to the user and waits for the
// provider's redirect.
type Approver interface {
	Approve(ctx context.Context, authURL string) (Callback, error)
}

// Callback carries the query parameters of the provider's redirect.
type Callback struct {
	State string
	Code  string
	Error string
}

// Connect runs the whole flow in one call.
func (c *Connector) Connect(ctx context.Context, userID string, approver Approver) bool {
	authURL, err := c.BeginAuthorization(ctx, userID)
	if err != nil {
		c.log(ctx, userID).Warn("begin authorization failed", zap.Error(err))
		return false
	}
	cb, err := approver.Approve(ctx, authURL)
	if err != nil {
		c.log(ctx, userID).Info("authorization abandoned", zap.Error(err))
		c.clearTransient(userID)
		return false
	}
	return c.CompleteAuthorization(ctx, cb.State, cb.Code, cb.Error)
}

// Refresh redeems the stored refresh token. It returns false without any
// network call when the provider has no refresh support or no refresh
// token is stored. A rejected refresh token is cleared; a transport
// failure leaves the stored token untouched.
func (c *Connector) Refresh(ctx context.Context, userID string) bool {
	if !c.cfg.SupportsRefresh {
		return false
	}
	stored := c.tokens.Get(ctx, userID, c.cfg.Provider)
	if stored == nil || stored.RefreshToken == "" {
		return false
	}
	log := c.log(ctx, userID)
	if !stored.RefreshValid(c.now()) {
		log.Info("refresh token expired")
		c.tokens.Clear(ctx, userID, c.cfg.Provider)
		return false
	}

	c.setTransient(userID, Refreshing, DefaultHTTPTimeout)
	defer c.clearTransient(userID)

	ok := c.refresh(ctx, userID, stored, log)
	metrics.RecordRefresh(string(c.cfg.Provider), ok)
	return ok
}

func (c *Connector) refresh(ctx context.Context, userID string, stored *model.ProviderToken, log *zap.Logger) bool {
	conf, err := c.cfg.oauth2Config(ctx)
	if err != nil {
		log.Error("client secret unavailable", zap.Error(err))
		return false
	}

	issuedAt := c.now()
	src := conf.TokenSource(c.oauthContext(ctx), &oauth2.Token{
		RefreshToken: stored.RefreshToken,
		Expiry:       issuedAt.Add(-time.Hour), // force refresh
	})
	tok, err := src.Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && rejected(re) {
			log.Info("refresh token rejected", zap.String("error_code", re.ErrorCode))
			c.tokens.Clear(ctx, userID, c.cfg.Provider)
			return false
		}
		log.Warn("token refresh failed", zap.Error(err))
		return false
	}

	next := c.providerToken(tok, issuedAt, stored.RefreshToken)
	if next.RefreshExpiresAt.IsZero() && next.RefreshToken == stored.RefreshToken {
		next.RefreshExpiresAt = stored.RefreshExpiresAt
	}
	if err := c.tokens.Put(ctx, userID, next); err != nil {
		log.Error("token store write failed", zap.Error(err))
		return false
	}
	return true
}

func rejected(re *oauth2.RetrieveError) bool {
	switch re.ErrorCode {
	case "invalid_grant", "invalid_token", "unauthorized_client":
		return true
	}
	return re.Response != nil && re.Response.StatusCode == http.StatusUnauthorized
}

// Disconnect forgets the stored token.
func (c *Connector) Disconnect(ctx context.Context, userID string) {
	c.clearTransient(userID)
	c.tokens.Clear(ctx, userID, c.cfg.Provider)
	c.log(ctx, userID).Info("provider disconnected")
}

// EnsureAccess returns a client authorized with a currently valid access
// token, refreshing first when the stored one has expired. False means the
// user has to connect again.
func (c *Connector) EnsureAccess(ctx context.Context, userID string) (*http.Client, bool) {
	tok := c.tokens.Get(ctx, userID, c.cfg.Provider)
	if tok == nil {
		return nil, false
	}
	if !tok.AccessValid(c.now()) {
		if !c.Refresh(ctx, userID) {
			return nil, false
		}
		if tok = c.tokens.Get(ctx, userID, c.cfg.Provider); tok == nil {
			return nil, false
		}
	}

	client := oauth2.NewClient(c.oauthContext(ctx), oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: tok.AccessToken,
		TokenType:   "Bearer",
		Expiry:      tok.ExpiresAt,
	}))
	client.Timeout = c.client.Timeout
	if client.Timeout == 0 {
		client.Timeout = DefaultHTTPTimeout
	}
	return client, true
}

// providerToken converts a grant. fallbackRefresh is kept when the
// provider did not rotate the refresh token.
func (c *Connector) providerToken(tok *oauth2.Token, issuedAt time.Time, fallbackRefresh string) model.ProviderToken {
	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = fallbackRefresh
	}
	if !c.cfg.SupportsRefresh {
		refresh = ""
	}

	var pt model.ProviderToken
	switch {
	case tok.ExpiresIn > 0:
		pt = model.NewProviderToken(c.cfg.Provider, tok.AccessToken, refresh, issuedAt, time.Duration(tok.ExpiresIn)*time.Second)
	case !tok.Expiry.IsZero():
		pt = model.NewProviderToken(c.cfg.Provider, tok.AccessToken, refresh, issuedAt, tok.Expiry.Sub(issuedAt))
	default:
		pt = model.NewProviderToken(c.cfg.Provider, tok.AccessToken, refresh, issuedAt, time.Hour)
	}
	if secs := extraSeconds(tok.Extra("refresh_token_expires_in")); secs > 0 {
		pt.RefreshExpiresAt = issuedAt.Add(time.Duration(secs) * time.Second)
	}
	return pt
}

func extraSeconds(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case json.Number:
		i, _ := n.Int64()
		return i
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	}
	return 0
}
