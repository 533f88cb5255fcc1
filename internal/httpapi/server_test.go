package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/joelkehle/pharmagpt/internal/interaction"
)

type fakeProcessor struct {
	res       interaction.PipelineResult
	err       error
	got       interaction.Request
	requestID string
}

func (f *fakeProcessor) Run(ctx context.Context, req interaction.Request) (interaction.PipelineResult, error) {
	f.got = req
	f.requestID = interaction.RequestIDFrom(ctx)
	return f.res, f.err
}

type fakeReader struct {
	rows    []interaction.Record
	listErr error
	filter  interaction.ListFilter
}

func (f *fakeReader) ListInteractions(_ context.Context, filter interaction.ListFilter) ([]interaction.Record, error) {
	f.filter = filter
	return f.rows, f.listErr
}

func (f *fakeReader) GetInteraction(_ context.Context, id int64) (interaction.Record, error) {
	for _, r := range f.rows {
		if r.ID == id {
			return r, nil
		}
	}
	return interaction.Record{}, interaction.ErrNotFound
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func sp(s string) *string { return &s }

func newServerForTest(p *fakeProcessor, r *fakeReader) http.Handler {
	return NewServer(Options{Pipeline: p, Interactions: r, Health: fakePinger{}})
}

func postRaw(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
	return out
}

func TestRoot(t *testing.T) {
	rr := get(t, newServerForTest(&fakeProcessor{}, &fakeReader{}), "/")
	if rr.Code != http.StatusOK || decodeBody(t, rr)["message"] != "PharmaGPT API is running" {
		t.Fatalf("unexpected root response %d %s", rr.Code, rr.Body.String())
	}
	if rr := get(t, newServerForTest(&fakeProcessor{}, &fakeReader{}), "/nope"); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown path status=%d", rr.Code)
	}
}

func TestProcessSuccess(t *testing.T) {
	p := &fakeProcessor{res: interaction.PipelineResult{State: interaction.State{
		Extracted:          interaction.Extracted{HCPName: sp("Dr. Patel")},
		InteractionID:      4,
		SuggestedFollowups: []string{"a", "b"},
		HistorySummary:     interaction.HistoryNoRecords,
	}}}
	h := newServerForTest(p, &fakeReader{})

	rr := postRaw(t, h, "/api/interactions/process", `{"text":"Met Dr. Patel","context":{"is_edit":true}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["message"] != "I've processed your interaction with Dr. Patel." {
		t.Fatalf("unexpected message %v", body["message"])
	}
	if body["interaction_id"].(float64) != 4 {
		t.Fatalf("unexpected id %v", body["interaction_id"])
	}
	if res, ok := body["suggested_resources"].([]any); !ok || len(res) != 0 {
		t.Fatalf("resources should be an empty list: %v", body["suggested_resources"])
	}
	extracted := body["extracted_data"].(map[string]any)
	if extracted["hcpName"] != "Dr. Patel" {
		t.Fatalf("unexpected extracted_data %v", extracted)
	}
	if p.got.Text != "Met Dr. Patel" || !interaction.IsEdit(p.got.Context) {
		t.Fatalf("request not forwarded: %+v", p.got)
	}
	if p.requestID == "" || rr.Header().Get(RequestIDHeader) != p.requestID {
		t.Fatalf("request id not propagated: ctx=%q header=%q", p.requestID, rr.Header().Get(RequestIDHeader))
	}
}

func TestProcessKeepsIncomingRequestID(t *testing.T) {
	p := &fakeProcessor{}
	h := newServerForTest(p, &fakeReader{})
	req := httptest.NewRequest(http.MethodPost, "/api/interactions/process", strings.NewReader(`{"text":"x"}`))
	req.Header.Set(RequestIDHeader, "abc-123")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if p.requestID != "abc-123" || rr.Header().Get(RequestIDHeader) != "abc-123" {
		t.Fatalf("incoming id should be kept, got %q", p.requestID)
	}
}

func TestProcessErrors(t *testing.T) {
	h := newServerForTest(&fakeProcessor{}, &fakeReader{})
	if rr := postRaw(t, h, "/api/interactions/process", `{"text":`); rr.Code != http.StatusBadRequest {
		t.Fatalf("malformed json status=%d", rr.Code)
	}

	h = newServerForTest(&fakeProcessor{err: &interaction.ValidationError{Field: "text", Message: "text is required"}}, &fakeReader{})
	rr := postRaw(t, h, "/api/interactions/process", `{"text":"  "}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("blank text status=%d", rr.Code)
	}

	stageErr := &interaction.StageError{Stage: interaction.StageExtract, Err: errors.New("extraction failed: empty response")}
	h = newServerForTest(&fakeProcessor{err: stageErr}, &fakeReader{})
	rr = postRaw(t, h, "/api/interactions/process", `{"text":"hello"}`)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("pipeline failure status=%d", rr.Code)
	}
	want := "An internal error occurred while processing your request. Please try again or rephrase. Error: log_interaction: extraction failed: empty response"
	if got := decodeBody(t, rr)["detail"]; got != want {
		t.Fatalf("unexpected detail %q", got)
	}

	if rr := get(t, h, "/api/interactions/process"); rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET process status=%d", rr.Code)
	}
}

func TestListInteractionsLimits(t *testing.T) {
	r := &fakeReader{rows: []interaction.Record{{ID: 2}, {ID: 1}}}
	h := newServerForTest(&fakeProcessor{}, r)

	rr := get(t, h, "/api/interactions?hcp_name=Dr.%20Smith")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if r.filter.HCPName != "Dr. Smith" || r.filter.Limit != 20 {
		t.Fatalf("unexpected filter %+v", r.filter)
	}
	if decodeBody(t, rr)["count"].(float64) != 2 {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}

	get(t, h, "/api/interactions?limit=500")
	if r.filter.Limit != 100 {
		t.Fatalf("limit should be capped, got %d", r.filter.Limit)
	}

	r.listErr = errors.New("database is locked")
	if rr := get(t, h, "/api/interactions"); rr.Code != http.StatusInternalServerError {
		t.Fatalf("list error status=%d", rr.Code)
	}
}

func TestGetInteractionAndReport(t *testing.T) {
	r := &fakeReader{rows: []interaction.Record{{ID: 7, HCPName: sp("Dr. Johnson"), Products: []string{"NeuroCalm"}}}}
	h := newServerForTest(&fakeProcessor{}, r)

	rr := get(t, h, "/api/interactions/7")
	if rr.Code != http.StatusOK || decodeBody(t, rr)["hcpName"] != "Dr. Johnson" {
		t.Fatalf("get status=%d body=%s", rr.Code, rr.Body.String())
	}
	if rr := get(t, h, "/api/interactions/8"); rr.Code != http.StatusNotFound {
		t.Fatalf("missing status=%d", rr.Code)
	}
	if rr := get(t, h, "/api/interactions/abc"); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad id status=%d", rr.Code)
	}

	rr = get(t, h, "/api/interactions/7/report")
	if rr.Code != http.StatusOK || !strings.HasPrefix(rr.Header().Get("Content-Type"), "text/html") {
		t.Fatalf("report status=%d type=%s", rr.Code, rr.Header().Get("Content-Type"))
	}
	if !strings.Contains(rr.Body.String(), "<li>NeuroCalm</li>") {
		t.Fatalf("report missing product: %s", rr.Body.String())
	}

	rr = get(t, h, "/api/interactions/7/report?format=markdown")
	if !strings.HasPrefix(rr.Body.String(), "# Interaction Report #7") {
		t.Fatalf("unexpected markdown: %s", rr.Body.String())
	}
}

func TestHealth(t *testing.T) {
	h := NewServer(Options{Pipeline: &fakeProcessor{}, Interactions: &fakeReader{}, Health: fakePinger{err: errors.New("closed")}})
	if rr := get(t, h, "/healthz"); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("unhealthy status=%d", rr.Code)
	}
	if rr := get(t, newServerForTest(&fakeProcessor{}, &fakeReader{}), "/healthz"); rr.Code != http.StatusOK {
		t.Fatalf("healthy status=%d", rr.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := newServerForTest(&fakeProcessor{}, &fakeReader{})
	req := httptest.NewRequest(http.MethodOptions, "/api/interactions/process", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "content-type")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("preflight status=%d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "http://localhost:5173" ||
		rr.Header().Get("Access-Control-Allow-Credentials") != "true" ||
		rr.Header().Get("Access-Control-Allow-Headers") != "content-type" {
		t.Fatalf("unexpected cors headers %v", rr.Header())
	}
}

func TestCORSPreflightIsCounted(t *testing.T) {
	h := newServerForTest(&fakeProcessor{}, &fakeReader{})
	counter := httpRequests.WithLabelValues("/api/interactions/process", "204")
	before := testutil.ToFloat64(counter)

	req := httptest.NewRequest(http.MethodOptions, "/api/interactions/process", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("preflight status=%d", rr.Code)
	}
	if got := testutil.ToFloat64(counter); got != before+1 {
		t.Fatalf("preflight not counted: before=%v after=%v", before, got)
	}
}

func TestCORSRestrictedOrigins(t *testing.T) {
	h := NewServer(Options{Pipeline: &fakeProcessor{}, Interactions: &fakeReader{}, AllowedOrigins: []string{"https://app.example.com"}})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("disallowed origin should get no cors headers")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newServerForTest(&fakeProcessor{}, &fakeReader{})
	get(t, h, "/")
	rr := get(t, h, "/metrics")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "pharmagpt_http_requests_total") {
		t.Fatalf("metrics missing counter: %d", rr.Code)
	}
}

func TestRouteLabel(t *testing.T) {
	for path, want := range map[string]string{
		"/api/interactions/12":        "/api/interactions/{id}",
		"/api/interactions/12/report": "/api/interactions/{id}/report",
		"/api/interactions/process":   "/api/interactions/process",
		"/favicon.ico":                "other",
	} {
		if got := routeLabel(path); got != want {
			t.Fatalf("routeLabel(%q)=%q want %q", path, got, want)
		}
	}
}
