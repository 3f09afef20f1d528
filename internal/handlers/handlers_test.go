package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/clawwork/livebench/internal/logger"
	"github.com/clawwork/livebench/internal/middleware"
	"github.com/clawwork/livebench/internal/tenant"
)

func testTenantCtx(t *testing.T) tenant.Context {
	t.Helper()
	resolver := tenant.NewResolver(t.TempDir(), false)
	tctx, err := resolver.Resolve("acme")
	if err != nil {
		t.Fatalf("resolve tenant: %v", err)
	}
	return tctx
}

// withTenant stands in for the auth gate in handler tests.
func withTenant(tctx tenant.Context) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals(middleware.TenantCtxKey, tctx)
		return c.Next()
	}
}

func testLogger() logger.Logger {
	return logger.NewFromConfig("error", "text")
}

func getRequest(path string) *http.Request {
	return httptest.NewRequest("GET", path, nil)
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		t.Fatalf("decode body %q: %v", body, err)
	}
}
