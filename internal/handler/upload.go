package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/jun/docpick/internal/adapter"
	"github.com/jun/docpick/internal/docapi"
	"github.com/jun/docpick/internal/ingest"
	"github.com/jun/docpick/internal/logging"
	"github.com/jun/docpick/internal/model"
)

// UploadHandler stages a user's document source and submits it.
type UploadHandler struct {
	coord     *ingest.Coordinator
	jwtSecret string
}

func NewUploadHandler(coord *ingest.Coordinator, jwtSecret string) *UploadHandler {
	return &UploadHandler{coord: coord, jwtSecret: jwtSecret}
}

// selectionRequest sets or clears one local source. An empty name (or
// link) clears the slot for that kind.
type selectionRequest struct {
	Kind     model.SourceKind `json:"kind"`
	Name     string           `json:"name"`
	MIMEType string           `json:"mimeType"`
	Content  []byte           `json:"content"`
	Link     string           `json:"link"`
}

type fileSummary struct {
	Name     string `json:"name"`
	MIMEType string `json:"mimeType"`
	Size     int    `json:"size"`
}

type selectionSummary struct {
	File   *fileSummary           `json:"file,omitempty"`
	Image  *fileSummary           `json:"image,omitempty"`
	Link   *string                `json:"link,omitempty"`
	Remote *model.RemoteSelection `json:"remote,omitempty"`
}

func summarize(sel ingest.Selection) selectionSummary {
	file := func(f *model.LocalFile) *fileSummary {
		if f == nil {
			return nil
		}
		return &fileSummary{Name: f.Name, MIMEType: f.MIMEType, Size: len(f.Content)}
	}
	return selectionSummary{File: file(sel.File), Image: file(sel.Image), Link: sel.Link, Remote: sel.Remote}
}

type submitRequest struct {
	DocumentType model.DocumentType `json:"documentType"`
	Title        string             `json:"title"`
}

// GetSelection returns what the user has staged, without file contents.
func (h *UploadHandler) GetSelection(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return unauthorized()
	}
	return jsonResponse(http.StatusOK, summarize(h.coord.Selections().Get(userID)))
}

// PutSelection stages a device file, a captured image or a pasted link.
func (h *UploadHandler) PutSelection(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return unauthorized()
	}
	var body selectionRequest
	if err := decodeBody(req, &body); err != nil {
		return errorResponse(http.StatusBadRequest, "INVALID_BODY", "Invalid request body")
	}

	var file *model.LocalFile
	if body.Name != "" {
		file = &model.LocalFile{Name: body.Name, MIMEType: body.MIMEType, Content: body.Content}
	}
	var apply func(*ingest.Selection)
	switch body.Kind {
	case model.DirectUpload:
		apply = func(s *ingest.Selection) { s.File = file }
	case model.ImageUpload:
		apply = func(s *ingest.Selection) { s.Image = file }
	case model.LinkInput:
		link := strings.TrimSpace(body.Link)
		apply = func(s *ingest.Selection) {
			s.Link = nil
			if link != "" {
				s.Link = &link
			}
		}
	default:
		return errorResponse(http.StatusBadRequest, "INVALID_KIND", "kind must be DIRECT_UPLOAD, IMAGE_UPLOAD or LINK_INPUT")
	}

	sels := h.coord.Selections()
	sels.Update(userID, apply)
	return jsonResponse(http.StatusOK, summarize(sels.Get(userID)))
}

// ClearSelection drops every staged source, including a remote pick.
func (h *UploadHandler) ClearSelection(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return unauthorized()
	}
	h.coord.Selections().Clear(userID)
	return noContent()
}

// Submit uploads the single staged source as a document.
func (h *UploadHandler) Submit(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return unauthorized()
	}
	var body submitRequest
	if err := decodeBody(req, &body); err != nil {
		return errorResponse(http.StatusBadRequest, "INVALID_BODY", "Invalid request body")
	}

	intent, err := h.coord.Selections().Intent(userID, body.DocumentType, body.Title)
	if err != nil {
		return uploadError(ctx, err)
	}
	ctx = docapi.WithBearer(ctx, SessionToken(req))
	if err := h.coord.Ingest(ctx, userID, intent); err != nil {
		return uploadError(ctx, err)
	}
	return jsonResponse(http.StatusCreated, map[string]any{
		"uploaded":     true,
		"sourceKind":   intent.SourceKind,
		"documentType": intent.DocumentType,
	})
}

// uploadError maps ingestion failures. The selection survives every one
// of them so the user can fix the input and resubmit.
func uploadError(ctx context.Context, err error) (events.APIGatewayProxyResponse, error) {
	var ve *ingest.ValidationError
	switch {
	case errors.As(err, &ve):
		return jsonResponse(http.StatusBadRequest, validationBody{
			apiError: apiError{Error: ve.Detail, Code: "VALIDATION_FAILED"},
			Rule:     ve.Rule,
		})
	case errors.Is(err, ingest.ErrEmptySelection):
		return errorResponse(http.StatusBadRequest, "NO_SELECTION", err.Error())
	case errors.Is(err, ingest.ErrAmbiguousSelection):
		return errorResponse(http.StatusConflict, "AMBIGUOUS_SELECTION", "Clear all but one document source and try again")
	case errors.Is(err, adapter.ErrNotConnected), errors.Is(err, adapter.ErrUnauthorized):
		return errorResponse(http.StatusConflict, "NOT_CONNECTED", "Reconnect the provider and try again")
	case errors.Is(err, adapter.ErrNotFound):
		return errorResponse(http.StatusNotFound, "FILE_NOT_FOUND", "The selected file no longer exists")
	}
	logging.WithContext(ctx).Warn("submit failed", zap.Error(err))
	return errorResponse(http.StatusBadGateway, "UPLOAD_FAILED", "Upload failed, please try again")
}

type validationBody struct {
	apiError
	Rule string `json:"rule"`
}
