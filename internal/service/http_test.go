package service

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/okralabs/uiheal/drift"
	"github.com/okralabs/uiheal/heal"
	"github.com/okralabs/uiheal/trajectory"
	"github.com/okralabs/uiheal/uimap"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testService(t *testing.T, store *trajectory.Store) *Service {
	t.Helper()
	return New(heal.Config{}, drift.Config{}, store, testLogger())
}

func loginMap() *uimap.UIMap {
	return &uimap.UIMap{
		Screen: uimap.Screen{Width: 1280, Height: 720, Hash: "h1"},
		Elements: []uimap.Element{
			{ID: "E001", Text: "Sign In", Role: uimap.RoleButton, BBox: uimap.BoundingBox{X: 100, Y: 200, Width: 80, Height: 30}},
			{ID: "E002", Text: "Welcome back", Role: uimap.RoleText, BBox: uimap.BoundingBox{X: 100, Y: 150, Width: 120, Height: 20}},
		},
	}
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	router := testService(t, nil).Router()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want ok", body["status"])
	}
}

func TestResolveEndpoint(t *testing.T) {
	router := testService(t, nil).Router()

	rec := postJSON(t, router, "/v1/resolve", resolveRequest{
		TargetID: "E001",
		UIMap:    loginMap(),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}

	var res heal.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !res.Success || res.Element.ID != "E001" || res.Score != 1.0 {
		t.Errorf("result = %+v, want exact hit on E001", res)
	}
}

func TestResolveEndpointHeals(t *testing.T) {
	router := testService(t, nil).Router()

	text := "Sign In"
	role := uimap.RoleButton
	bbox := uimap.BoundingBox{X: 100, Y: 200, Width: 80, Height: 30}

	m := loginMap()
	m.Elements[0] = uimap.Element{
		ID: "E009", Text: "Log In", Role: uimap.RoleButton,
		BBox: uimap.BoundingBox{X: 102, Y: 201, Width: 80, Height: 30},
	}

	rec := postJSON(t, router, "/v1/resolve", resolveRequest{
		TargetID:  "E001",
		UIMap:     m,
		Signature: &heal.Signature{Text: &text, Role: &role, BBox: &bbox},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}

	var res heal.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !res.Success || res.Element.ID != "E009" {
		t.Fatalf("result = %+v, want healed to E009", res)
	}
	if res.Event == nil || res.Event.HealedTarget != "E009" {
		t.Errorf("event = %+v, want healing event", res.Event)
	}
}

func TestResolveEndpointRejectsBadRequests(t *testing.T) {
	router := testService(t, nil).Router()

	rec := postJSON(t, router, "/v1/resolve", resolveRequest{TargetID: "E001"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing uiMap = %d, want 400", rec.Code)
	}

	rec = postJSON(t, router, "/v1/resolve", resolveRequest{UIMap: loginMap()})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing targetId = %d, want 400", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/resolve", bytes.NewReader([]byte("{bad")))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("malformed body = %d, want 400", rr.Code)
	}
}

func TestDriftEndpoint(t *testing.T) {
	router := testService(t, nil).Router()

	expected := loginMap()
	actual := loginMap()
	actual.Elements = actual.Elements[1:] // E001 gone

	rec := postJSON(t, router, "/v1/drift", driftRequest{
		Expected: expected,
		Actual:   actual,
		Config:   &drift.Config{AnchorElementIDs: []string{"E001"}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}

	var report drift.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !report.HasAlerts {
		t.Fatal("HasAlerts = false, want missing anchor alert")
	}
	found := false
	for _, a := range report.Alerts {
		if a.Type == drift.AlertMissingAnchor && a.Severity == drift.SeverityHigh {
			found = true
		}
	}
	if !found {
		t.Errorf("alerts = %+v, want high missing_anchor", report.Alerts)
	}

	// Identical maps are quiet.
	rec = postJSON(t, router, "/v1/drift", driftRequest{Expected: expected, Actual: expected})
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.HasAlerts {
		t.Errorf("HasAlerts = true on identical maps: %+v", report.Alerts)
	}

	rec = postJSON(t, router, "/v1/drift", driftRequest{Expected: expected})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing actual = %d, want 400", rec.Code)
	}
}

func TestSignatureEndpoint(t *testing.T) {
	router := testService(t, nil).Router()

	rec := postJSON(t, router, "/v1/signature", signatureRequest{
		ElementID: "E001",
		UIMap:     loginMap(),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}

	var sig heal.Signature
	if err := json.Unmarshal(rec.Body.Bytes(), &sig); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sig.Text == nil || *sig.Text != "Sign In" {
		t.Errorf("sig.Text = %v, want Sign In", sig.Text)
	}
	if sig.Role == nil || *sig.Role != uimap.RoleButton {
		t.Errorf("sig.Role = %v, want button", sig.Role)
	}

	rec = postJSON(t, router, "/v1/signature", signatureRequest{
		ElementID: "E404",
		UIMap:     loginMap(),
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown element = %d, want 404", rec.Code)
	}
}

func TestRunsEndpoint(t *testing.T) {
	// Without a store the endpoint is disabled.
	router := testService(t, nil).Router()
	req := httptest.NewRequest(http.MethodGet, "/v1/runs", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("no store = %d, want 501", rec.Code)
	}

	store := trajectory.OpenMemory(t)
	if _, err := store.CreateRun(context.Background(), "login-flow", "https://example.test"); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	router = testService(t, store).Router()
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var runs []trajectory.Run
	if err := json.Unmarshal(rec.Body.Bytes(), &runs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(runs) != 1 || runs[0].Scenario != "login-flow" {
		t.Errorf("runs = %+v", runs)
	}
}

func TestSetConfigs(t *testing.T) {
	svc := testService(t, nil)
	svc.SetHealConfig(heal.Config{ConfidenceThreshold: 0.99})
	svc.SetDriftConfig(drift.Config{ElementCountChangeThreshold: 0.01})

	// A near-miss that would pass the default threshold now fails.
	text := "Sign Inn"
	res, err := svc.resolve(resolveRequest{
		TargetID:  "E404",
		UIMap:     loginMap(),
		Signature: &heal.Signature{Text: &text},
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Success {
		t.Errorf("resolve succeeded at threshold 0.99: %+v", res)
	}
}
