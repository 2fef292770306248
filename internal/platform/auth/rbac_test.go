package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func contextWithRoles(e *echo.Echo, roles []string) echo.Context {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := context.WithValue(req.Context(), UserRolesKey, roles)
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec)
}

func okHandler(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

func TestRequireRole_Allowed(t *testing.T) {
	e := echo.New()
	c := contextWithRoles(e, []string{"billing"})

	if err := RequireRole("billing", "physician")(okHandler)(c); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRequireRole_AdminBypass(t *testing.T) {
	e := echo.New()
	c := contextWithRoles(e, []string{"admin"})

	if err := RequireRole("billing")(okHandler)(c); err != nil {
		t.Errorf("expected admin to bypass, got %v", err)
	}
}

func TestRequireRole_Forbidden(t *testing.T) {
	e := echo.New()
	c := contextWithRoles(e, []string{"nurse"})

	err := RequireRole("billing")(okHandler)(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %v", err)
	}
}

func TestRequireRole_NoRoles(t *testing.T) {
	e := echo.New()
	c := contextWithRoles(e, nil)

	if err := RequireRole("billing")(okHandler)(c); err == nil {
		t.Error("expected error for request without roles")
	}
}
