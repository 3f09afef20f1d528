package handlers

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/clawwork/livebench/internal/store"
	"github.com/clawwork/livebench/internal/tenant"
)

func newArtifactApp(t *testing.T) (*fiber.App, tenant.Context) {
	t.Helper()
	tctx := testTenantCtx(t)
	h := NewArtifactHandler(store.NewAgentData("", nil, testLogger()))

	app := fiber.New()
	app.Use(withTenant(tctx))
	app.Get("/api/artifacts/random", h.Random)
	app.Get("/api/artifacts/file", h.File)
	return app, tctx
}

func TestRandomArtifacts_Endpoint(t *testing.T) {
	app, tctx := newArtifactApp(t)
	writeTelemetry(t, tctx, "agent-1", "sandbox/2026-01-01/report.pdf", "%PDF-1.4")

	resp, err := app.Test(httptest.NewRequest("GET", "/api/artifacts/random?count=5", nil), -1)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var out struct {
		Artifacts []store.Artifact `json:"artifacts"`
	}
	decodeBody(t, resp, &out)
	if len(out.Artifacts) != 1 || out.Artifacts[0].Filename != "report.pdf" {
		t.Errorf("unexpected artifacts: %+v", out.Artifacts)
	}
}

func TestRandomArtifacts_CountBounds(t *testing.T) {
	app, _ := newArtifactApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/artifacts/random?count=1000", nil), -1)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestArtifactFile(t *testing.T) {
	app, tctx := newArtifactApp(t)
	writeTelemetry(t, tctx, "agent-1", "sandbox/2026-01-01/report.pdf", "%PDF-1.4")

	path := url.QueryEscape("agent-1/sandbox/2026-01-01/report.pdf")
	resp, err := app.Test(httptest.NewRequest("GET", "/api/artifacts/file?path="+path, nil), -1)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("unexpected content type %q", ct)
	}
}

func TestArtifactFile_Traversal(t *testing.T) {
	app, _ := newArtifactApp(t)

	path := url.QueryEscape("../other/secret.pdf")
	resp, err := app.Test(httptest.NewRequest("GET", "/api/artifacts/file?path="+path, nil), -1)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestArtifactFile_Missing(t *testing.T) {
	app, _ := newArtifactApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/artifacts/file?path=agent-1%2Fnope.pdf", nil), -1)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}
