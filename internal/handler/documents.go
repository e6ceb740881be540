package handler

import (
	"context"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/jun/docpick/internal/cache"
	"github.com/jun/docpick/internal/docapi"
	"github.com/jun/docpick/internal/logging"
)

// DocumentLister is the read side of the document API.
type DocumentLister interface {
	ListDocuments(ctx context.Context) ([]docapi.Document, error)
}

// DocumentsHandler serves the user's document list from the view cache.
type DocumentsHandler struct {
	docs      DocumentLister
	views     *cache.Views
	jwtSecret string
}

func NewDocumentsHandler(docs DocumentLister, views *cache.Views, jwtSecret string) *DocumentsHandler {
	return &DocumentsHandler{docs: docs, views: views, jwtSecret: jwtSecret}
}

// List returns the user's documents. A successful upload invalidates the
// cached list, so the next call refetches it.
func (h *DocumentsHandler) List(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return unauthorized()
	}
	ctx = docapi.WithBearer(ctx, SessionToken(req))
	docs, err := cache.Load(ctx, h.views, userID, cache.UserDocuments, h.docs.ListDocuments)
	if err != nil {
		logging.WithContext(ctx).Warn("list documents failed", zap.Error(err))
		return errorResponse(http.StatusBadGateway, "DOCUMENTS_UNAVAILABLE", "Failed to load documents")
	}
	if docs == nil {
		docs = []docapi.Document{}
	}
	return jsonResponse(http.StatusOK, map[string]any{"documents": docs})
}
