package apperror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestKindOf_Wrapped(t *testing.T) {
	err := fmt.Errorf("assign: %w", StateConflict("consultation is %s", "assigned"))
	if KindOf(err) != KindStateConflict {
		t.Fatalf("expected state_conflict, got %s", KindOf(err))
	}
	if !errors.Is(err, ErrStateConflict) {
		t.Error("expected errors.Is to match the sentinel")
	}
	if errors.Is(err, ErrForbidden) {
		t.Error("did not expect a forbidden match")
	}
}

func TestKindOf_Plain(t *testing.T) {
	if KindOf(errors.New("boom")) != KindInternal {
		t.Error("expected plain errors to be internal")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := map[Kind]int{
		KindUnauthenticated: http.StatusUnauthorized,
		KindForbidden:       http.StatusForbidden,
		KindNotFound:        http.StatusNotFound,
		KindStateConflict:   http.StatusConflict,
		KindValidation:      http.StatusBadRequest,
		KindInternal:        http.StatusInternalServerError,
	}
	for kind, want := range tests {
		if got := HTTPStatus(kind); got != want {
			t.Errorf("%s: expected %d, got %d", kind, want, got)
		}
	}
}

func TestToHTTP_HidesInternal(t *testing.T) {
	he := ToHTTP(errors.New("connection refused on 10.0.0.3"))
	if he.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", he.Code)
	}
	if he.Message != "internal server error" {
		t.Errorf("internal message leaked: %v", he.Message)
	}
}

func TestHTTPErrorHandler(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	HTTPErrorHandler(Forbidden("not your encounter"), c)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	var body ErrorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "forbidden" || body.Message != "not your encounter" {
		t.Errorf("unexpected body: %+v", body)
	}
}
