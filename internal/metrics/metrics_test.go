package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordUpload(t *testing.T) {
	before := testutil.ToFloat64(uploadsTotal.WithLabelValues("DROPBOX", "success"))
	RecordUpload("DROPBOX", true)
	RecordUpload("DROPBOX", false)

	if got := testutil.ToFloat64(uploadsTotal.WithLabelValues("DROPBOX", "success")); got != before+1 {
		t.Errorf("Expected %v successes, got %v", before+1, got)
	}
}

func TestRecordMaterialization_CountsBytesOnSuccessOnly(t *testing.T) {
	before := testutil.ToFloat64(materializedBytes.WithLabelValues("ONEDRIVE"))
	RecordMaterialization("ONEDRIVE", 2048, true)
	RecordMaterialization("ONEDRIVE", 4096, false)

	if got := testutil.ToFloat64(materializedBytes.WithLabelValues("ONEDRIVE")); got != before+2048 {
		t.Errorf("Expected %v bytes, got %v", before+2048, got)
	}
}

func TestHandler_ExposesMetrics(t *testing.T) {
	RecordRequest("GET /providers", 200, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "docpick_requests_total") {
		t.Error("Expected docpick_requests_total in output")
	}
}
