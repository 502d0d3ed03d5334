package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/omnibothq/omnibot/internal/logger"
)

type routeHandler struct {
	path string
	fn   echo.HandlerFunc
}

func (h *routeHandler) Register(e *echo.Echo) {
	e.GET(h.path, h.fn)
}

func TestNewDefaultsAddr(t *testing.T) {
	t.Parallel()

	s := New("", logger.Discard())
	if s.addr != ":8080" {
		t.Fatalf("addr = %q, want :8080", s.addr)
	}
}

func TestHandlersRegister(t *testing.T) {
	t.Parallel()

	ok := &routeHandler{path: "/ok", fn: func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}}
	s := New(":0", logger.Discard(), nil, ok)

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	res := httptest.NewRecorder()
	s.Echo().ServeHTTP(res, req)

	if res.Code != http.StatusOK || res.Body.String() != "ok" {
		t.Fatalf("status = %d, body = %q", res.Code, res.Body.String())
	}
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	boom := &routeHandler{path: "/boom", fn: func(c echo.Context) error {
		panic("handler exploded")
	}}
	s := New(":0", logger.Discard(), boom)

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	res := httptest.NewRecorder()
	s.Echo().ServeHTTP(res, req)

	if res.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 from the recover middleware", res.Code)
	}
}
