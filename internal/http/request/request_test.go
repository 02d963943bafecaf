package request

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type sample struct {
	PublishableKey string `json:"publishableKey" validate:"required"`
	Locale         string `json:"locale" validate:"omitempty,len=2"`
}

func TestDecode(t *testing.T) {
	var got sample
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"publishableKey":"pk_test_1","locale":"en"}`))
	if err := Decode(req, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.PublishableKey != "pk_test_1" {
		t.Fatalf("unexpected value %+v", got)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	if err := Decode(req, &got); !errors.Is(err, ErrEmptyBody) {
		t.Fatalf("expected empty body error, got %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"publishableKey":`))
	if err := Decode(req, &got); err == nil || !strings.HasPrefix(err.Error(), "invalid JSON") {
		t.Fatalf("expected invalid json error, got %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"locale":"eng"}`))
	err := Decode(req, &sample{})
	if err == nil || !strings.HasPrefix(err.Error(), "validation error") {
		t.Fatalf("expected validation error, got %v", err)
	}
	fields := FieldErrors(err)
	if fields["PublishableKey"] != "required" || fields["Locale"] != "len" {
		t.Fatalf("unexpected field errors %v", fields)
	}
}
