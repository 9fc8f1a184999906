package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/vivamoms/consult/internal/domain/access"
	"github.com/vivamoms/consult/internal/platform/apperror"
)

type stubResolver struct {
	actors map[string]access.Actor
	err    error
}

func (s *stubResolver) ResolveCurrentUser(_ context.Context, token string) (access.Actor, error) {
	if s.err != nil {
		return access.Actor{}, s.err
	}
	a, ok := s.actors[token]
	if !ok {
		return access.Actor{}, apperror.Unauthenticated("unknown session")
	}
	return a, nil
}

func runAuth(t *testing.T, resolver Resolver, req *http.Request) (*access.Actor, error) {
	t.Helper()
	e := echo.New()
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath(req.URL.Path)

	var seen *access.Actor
	h := Authenticate(resolver, AuthSkipper)(func(c echo.Context) error {
		if a, ok := ActorFromContext(c.Request().Context()); ok {
			seen = &a
		}
		return c.NoContent(http.StatusOK)
	})
	return seen, h(c)
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	var httpErr *echo.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	return httpErr.Code
}

func TestAuthenticate_ValidSession(t *testing.T) {
	doc := access.Actor{ID: uuid.New(), Role: access.RoleDoctor, IsActive: true}
	resolver := &stubResolver{actors: map[string]access.Actor{"tok": doc}}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/consultations", nil)
	req.Header.Set("Authorization", "Bearer tok")

	seen, err := runAuth(t, resolver, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen == nil || *seen != doc {
		t.Errorf("expected actor %+v in context, got %+v", doc, seen)
	}
}

func TestAuthenticate_QueryToken(t *testing.T) {
	chw := access.Actor{ID: uuid.New(), Role: access.RoleCHW, IsActive: true}
	resolver := &stubResolver{actors: map[string]access.Actor{"ws-tok": chw}}

	seen, err := runAuth(t, resolver, httptest.NewRequest(http.MethodGet, "/ws?access_token=ws-tok", nil))
	if err != nil || seen == nil || seen.ID != chw.ID {
		t.Fatalf("expected query token to resolve, got %+v (%v)", seen, err)
	}
}

func TestAuthenticate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
		{"unknown session", "Bearer nope"},
	}
	resolver := &stubResolver{actors: map[string]access.Actor{}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/messages", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			_, err := runAuth(t, resolver, req)
			if got := statusOf(t, err); got != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", got)
			}
		})
	}
}

func TestAuthenticate_ResolverInternalError(t *testing.T) {
	boom := errors.New("db down")
	req := httptest.NewRequest(http.MethodGet, "/api/v1/messages", nil)
	req.Header.Set("Authorization", "Bearer tok")

	_, err := runAuth(t, &stubResolver{err: boom}, req)
	if !errors.Is(err, boom) {
		t.Errorf("expected internal error to pass through, got %v", err)
	}
}

func TestAuthenticate_SkipsPublicPaths(t *testing.T) {
	for _, path := range []string{"/health", "/health/db", "/metrics"} {
		t.Run(path, func(t *testing.T) {
			if _, err := runAuth(t, &stubResolver{}, httptest.NewRequest(http.MethodGet, path, nil)); err != nil {
				t.Errorf("expected %s to skip auth, got %v", path, err)
			}
		})
	}
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/consultations", nil), httptest.NewRecorder())
	c.SetPath("/api/v1/consultations")
	if AuthSkipper(c) {
		t.Error("api routes must not be public")
	}
}

func TestActor_Missing(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	if _, err := Actor(c); !apperror.Is(err, apperror.KindUnauthenticated) {
		t.Errorf("expected unauthenticated, got %v", err)
	}
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name string
		role access.Role
		want int
	}{
		{"doctor allowed", access.RoleDoctor, http.StatusOK},
		{"admin bypass", access.RoleAdmin, http.StatusOK},
		{"chw denied", access.RoleCHW, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			actor := access.Actor{ID: uuid.New(), Role: tt.role, IsActive: true}
			req = req.WithContext(WithActor(req.Context(), actor))
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := RequireRole(access.RoleDoctor)(func(c echo.Context) error {
				return c.NoContent(http.StatusOK)
			})(c)
			if tt.want == http.StatusOK {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if got := statusOf(t, err); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}
