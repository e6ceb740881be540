package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/jun/docpick/internal/auth"
	"github.com/jun/docpick/internal/logging"
	"github.com/jun/docpick/internal/model"
)

// ProviderHandler connects and disconnects OAuth providers.
type ProviderHandler struct {
	registry    *auth.Registry
	jwtSecret   string
	frontendURL string
}

func NewProviderHandler(registry *auth.Registry, jwtSecret, frontendURL string) *ProviderHandler {
	return &ProviderHandler{registry: registry, jwtSecret: jwtSecret, frontendURL: frontendURL}
}

type providerStatus struct {
	Provider        model.Provider `json:"provider"`
	State           auth.State     `json:"state"`
	SupportsRefresh bool           `json:"supportsRefresh"`
}

func (h *ProviderHandler) connector(req events.APIGatewayProxyRequest) (*auth.Connector, *events.APIGatewayProxyResponse) {
	p, err := pathProvider(req)
	if err != nil {
		resp, _ := errorResponse(http.StatusNotFound, "UNKNOWN_PROVIDER", err.Error())
		return nil, &resp
	}
	c, err := h.registry.Get(p)
	if err != nil {
		resp, _ := errorResponse(http.StatusNotFound, "PROVIDER_NOT_CONFIGURED", err.Error())
		return nil, &resp
	}
	return c, nil
}

// List returns the connection state of every configured provider.
func (h *ProviderHandler) List(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return unauthorized()
	}
	states := h.registry.Status(ctx, userID)
	out := make([]providerStatus, 0, len(states))
	for _, p := range h.registry.Configured() {
		c, _ := h.registry.Get(p)
		out = append(out, providerStatus{Provider: p, State: states[p], SupportsRefresh: c.SupportsRefresh()})
	}
	return jsonResponse(http.StatusOK, map[string]any{"providers": out})
}

// Connect redirects the browser to the provider's consent page.
func (h *ProviderHandler) Connect(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return unauthorized()
	}
	c, resp := h.connector(req)
	if resp != nil {
		return *resp, nil
	}
	authURL, err := c.BeginAuthorization(ctx, userID)
	if err != nil {
		logging.WithContext(ctx).Error("begin authorization failed",
			zap.String("provider", string(c.Provider())), zap.Error(err))
		return errorResponse(http.StatusBadGateway, "AUTHORIZATION_FAILED", "Failed to start authorization")
	}
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusFound,
		Headers:    map[string]string{"Location": authURL},
	}, nil
}

// Callback completes an authorization and sends the browser back to the
// frontend. The state identifies both the provider and the user.
func (h *ProviderHandler) Callback(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	q := req.QueryStringParameters
	p, ok := h.registry.Complete(ctx, q["state"], q["code"], q["error"])

	v := url.Values{}
	if p != "" {
		v.Set("provider", p.Slug())
	}
	v.Set("connected", fmt.Sprint(ok))
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusFound,
		Headers:    map[string]string{"Location": h.frontendURL + "/?" + v.Encode()},
	}, nil
}

// Refresh renews the access token on demand.
func (h *ProviderHandler) Refresh(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return unauthorized()
	}
	c, resp := h.connector(req)
	if resp != nil {
		return *resp, nil
	}
	ok := c.Refresh(ctx, userID)
	return jsonResponse(http.StatusOK, map[string]any{
		"provider":  c.Provider(),
		"refreshed": ok,
		"state":     c.Status(ctx, userID),
	})
}

// Disconnect forgets the user's tokens for a provider.
func (h *ProviderHandler) Disconnect(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return unauthorized()
	}
	c, resp := h.connector(req)
	if resp != nil {
		return *resp, nil
	}
	c.Disconnect(ctx, userID)
	return noContent()
}
