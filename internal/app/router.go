package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/jun/docpick/internal/logging"
	"github.com/jun/docpick/internal/metrics"
)

type handlerFunc func(context.Context, events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error)

// route matches a method and a path pattern. Segments in braces bind
// PathParameters.
type route struct {
	method  string
	pattern string
	h       handlerFunc
}

func (a *App) routeTable() []route {
	return []route{
		{"GET", "/providers", a.providers.List},
		{"GET", "/providers/callback", a.providers.Callback},
		{"GET", "/providers/{provider}/connect", a.providers.Connect},
		{"POST", "/providers/{provider}/refresh", a.providers.Refresh},
		{"DELETE", "/providers/{provider}", a.providers.Disconnect},

		{"POST", "/browse/{provider}", a.browse.Open},
		{"GET", "/browse/sessions/{id}", a.browse.Get},
		{"POST", "/browse/sessions/{id}/enter", a.browse.Enter},
		{"POST", "/browse/sessions/{id}/back", a.browse.Back},
		{"POST", "/browse/sessions/{id}/more", a.browse.More},
		{"POST", "/browse/sessions/{id}/select", a.browse.Select},
		{"DELETE", "/browse/sessions/{id}", a.browse.Close},

		{"GET", "/uploads/selection", a.uploads.GetSelection},
		{"PUT", "/uploads/selection", a.uploads.PutSelection},
		{"DELETE", "/uploads/selection", a.uploads.ClearSelection},
		{"POST", "/uploads", a.uploads.Submit},

		{"GET", "/documents", a.documents.List},
	}
}

// match reports whether path fits pattern and binds its parameters.
func match(pattern, path string, params map[string]string) bool {
	want := strings.Split(strings.Trim(pattern, "/"), "/")
	got := strings.Split(strings.Trim(path, "/"), "/")
	if len(want) != len(got) {
		return false
	}
	bound := map[string]string{}
	for i, seg := range want {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			if got[i] == "" {
				return false
			}
			bound[seg[1:len(seg)-1]] = got[i]
			continue
		}
		if seg != got[i] {
			return false
		}
	}
	for k, v := range bound {
		params[k] = v
	}
	return true
}

// HandleRequest routes API Gateway requests to the appropriate handler.
func (a *App) HandleRequest(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	start := time.Now()
	ctx, requestID := logging.WithRequestID(ctx, req.RequestContext.RequestID)
	log := logging.WithContext(ctx).With(zap.String("method", req.HTTPMethod), zap.String("path", req.Path))

	// CORS Preflight
	if req.HTTPMethod == http.MethodOptions {
		return a.corsResponse(events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}), nil
	}

	// CloudFront forwards X-Origin-Verify; anything else reached the gateway directly.
	if !a.cfg.DevMode && (a.apiGatewaySecret == "" || headerValue(req.Headers, "X-Origin-Verify") != a.apiGatewaySecret) {
		log.Warn("blocked request without a valid X-Origin-Verify header")
		return events.APIGatewayProxyResponse{StatusCode: http.StatusForbidden, Body: "Forbidden: Access denied"}, nil
	}

	// Strip /api prefix if present (for CloudFront proxying)
	path := strings.TrimPrefix(req.Path, "/api")
	if req.PathParameters == nil {
		req.PathParameters = make(map[string]string)
	}

	for _, rt := range a.routes {
		if rt.method != req.HTTPMethod || !match(rt.pattern, path, req.PathParameters) {
			continue
		}
		resp, err := rt.h(ctx, req)
		resp = a.corsResponse(must(ctx, resp, err))
		resp.Headers["X-Request-ID"] = requestID
		d := time.Since(start)
		metrics.RecordRequest(rt.method+" "+rt.pattern, resp.StatusCode, d)
		log.Info("request handled", zap.String("route", rt.pattern), zap.Int("status", resp.StatusCode), zap.Duration("duration", d))
		return resp, nil
	}

	metrics.RecordRequest("unmatched", http.StatusNotFound, time.Since(start))
	return a.corsResponse(events.APIGatewayProxyResponse{
		StatusCode: http.StatusNotFound,
		Body:       "Not Found: " + req.HTTPMethod + " " + path,
	}), nil
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// corsResponse adds CORS headers to an API Gateway response.
func (a *App) corsResponse(resp events.APIGatewayProxyResponse) events.APIGatewayProxyResponse {
	if resp.Headers == nil {
		resp.Headers = make(map[string]string)
	}
	resp.Headers["Access-Control-Allow-Origin"] = a.cfg.FrontendURL
	resp.Headers["Access-Control-Allow-Credentials"] = "true"
	resp.Headers["Access-Control-Allow-Methods"] = "GET,POST,PUT,DELETE,OPTIONS"
	resp.Headers["Access-Control-Allow-Headers"] = "Content-Type,Authorization"
	resp.Headers["Access-Control-Expose-Headers"] = "Location,X-Request-ID"
	return resp
}

// must unwraps a handler response, turning an error into a 500.
func must(ctx context.Context, resp events.APIGatewayProxyResponse, err error) events.APIGatewayProxyResponse {
	if err != nil {
		logging.WithContext(ctx).Error("handler error", zap.Error(err))
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError, Body: "Internal Server Error"}
	}
	return resp
}
