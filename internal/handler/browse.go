package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/jun/docpick/internal/adapter"
	"github.com/jun/docpick/internal/browse"
	"github.com/jun/docpick/internal/ingest"
	"github.com/jun/docpick/internal/logging"
	"github.com/jun/docpick/internal/model"
)

// BrowseHandler drives remote folder pickers.
type BrowseHandler struct {
	manager    *browse.Manager
	selections *ingest.Selections
	jwtSecret  string
}

func NewBrowseHandler(manager *browse.Manager, selections *ingest.Selections, jwtSecret string) *BrowseHandler {
	return &BrowseHandler{manager: manager, selections: selections, jwtSecret: jwtSecret}
}

type entryRequest struct {
	EntryID string `json:"entryId"`
}

type selectResponse struct {
	Selection *model.RemoteSelection `json:"selection,omitempty"`
	View      browse.View            `json:"view"`
}

// browseError maps navigation and provider errors to responses. The
// session is kept in every case so the user can retry.
func browseError(ctx context.Context, err error) (events.APIGatewayProxyResponse, error) {
	switch {
	case errors.Is(err, browse.ErrSessionNotFound), errors.Is(err, browse.ErrClosed):
		return errorResponse(http.StatusNotFound, "SESSION_NOT_FOUND", "Browse session not found")
	case errors.Is(err, browse.ErrEntryNotFound), errors.Is(err, adapter.ErrNotFound):
		return errorResponse(http.StatusNotFound, "ENTRY_NOT_FOUND", err.Error())
	case errors.Is(err, browse.ErrListingInProgress):
		return errorResponse(http.StatusConflict, "LISTING_IN_PROGRESS", err.Error())
	case errors.Is(err, browse.ErrNoMorePages):
		return errorResponse(http.StatusConflict, "NO_MORE_PAGES", err.Error())
	case errors.Is(err, browse.ErrSuperseded):
		return errorResponse(http.StatusConflict, "SUPERSEDED", err.Error())
	case errors.Is(err, browse.ErrAtRoot), errors.Is(err, browse.ErrNotAFolder):
		return errorResponse(http.StatusBadRequest, "INVALID_NAVIGATION", err.Error())
	case errors.Is(err, adapter.ErrNotConnected), errors.Is(err, adapter.ErrUnauthorized):
		return errorResponse(http.StatusConflict, "NOT_CONNECTED", "Provider is not connected")
	}
	logging.WithContext(ctx).Warn("browse failed", zap.Error(err))
	return errorResponse(http.StatusBadGateway, "PROVIDER_UNAVAILABLE", "The provider could not be reached, please try again")
}

// session resolves the caller's session; a non-nil response is an error to return.
func (h *BrowseHandler) session(ctx context.Context, req events.APIGatewayProxyRequest) (*browse.Navigator, string, *events.APIGatewayProxyResponse) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		resp, _ := unauthorized()
		return nil, "", &resp
	}
	nav, err := h.manager.Get(userID, req.PathParameters["id"])
	if err != nil {
		resp, _ := browseError(ctx, err)
		return nil, "", &resp
	}
	return nav, userID, nil
}

// Open starts a session at the provider root and returns its first page.
func (h *BrowseHandler) Open(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return unauthorized()
	}
	p, err := pathProvider(req)
	if err != nil {
		return errorResponse(http.StatusNotFound, "UNKNOWN_PROVIDER", err.Error())
	}
	if _, ok := model.RemoteKind(p); !ok {
		return errorResponse(http.StatusBadRequest, "NOT_A_FILE_SOURCE", string(p)+" has no files to browse")
	}
	nav, v, err := h.manager.Open(ctx, userID, p)
	if err != nil {
		resp, rerr := browseError(ctx, err)
		if nav != nil {
			// The session survives a failed first page; Location lets the client retry it.
			resp.Headers["Location"] = "/browse/sessions/" + nav.ID()
		}
		return resp, rerr
	}
	return jsonResponse(http.StatusCreated, v)
}

// Get returns the session state and loaded entries.
func (h *BrowseHandler) Get(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	nav, _, resp := h.session(ctx, req)
	if resp != nil {
		return *resp, nil
	}
	return jsonResponse(http.StatusOK, nav.View())
}

func (h *BrowseHandler) navigate(ctx context.Context, req events.APIGatewayProxyRequest, step func(*browse.Navigator) (browse.View, error)) (events.APIGatewayProxyResponse, error) {
	nav, _, resp := h.session(ctx, req)
	if resp != nil {
		return *resp, nil
	}
	v, err := step(nav)
	if err != nil {
		return browseError(ctx, err)
	}
	return jsonResponse(http.StatusOK, v)
}

// Enter descends into a folder entry.
func (h *BrowseHandler) Enter(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	var body entryRequest
	if err := decodeBody(req, &body); err != nil || body.EntryID == "" {
		return errorResponse(http.StatusBadRequest, "INVALID_BODY", "entryId is required")
	}
	return h.navigate(ctx, req, func(nav *browse.Navigator) (browse.View, error) {
		return nav.Enter(ctx, body.EntryID)
	})
}

// Back returns to the parent folder.
func (h *BrowseHandler) Back(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	return h.navigate(ctx, req, func(nav *browse.Navigator) (browse.View, error) {
		return nav.Back(ctx)
	})
}

// More loads the next page of the current folder.
func (h *BrowseHandler) More(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	return h.navigate(ctx, req, func(nav *browse.Navigator) (browse.View, error) {
		return nav.LoadMore(ctx)
	})
}

// Select picks a file as the user's upload source, or enters a folder.
func (h *BrowseHandler) Select(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	var body entryRequest
	if err := decodeBody(req, &body); err != nil || body.EntryID == "" {
		return errorResponse(http.StatusBadRequest, "INVALID_BODY", "entryId is required")
	}
	nav, userID, resp := h.session(ctx, req)
	if resp != nil {
		return *resp, nil
	}
	sel, v, err := nav.Select(ctx, body.EntryID)
	if err != nil {
		return browseError(ctx, err)
	}
	if sel != nil {
		h.selections.SetRemote(userID, *sel)
	}
	return jsonResponse(http.StatusOK, selectResponse{Selection: sel, View: v})
}

// Close ends the session.
func (h *BrowseHandler) Close(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return unauthorized()
	}
	if err := h.manager.Close(userID, req.PathParameters["id"]); err != nil {
		return browseError(ctx, err)
	}
	return noContent()
}
