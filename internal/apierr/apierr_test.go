package apierr

import (
	"errors"
	"net/http"
	"testing"
)

func TestKindOf(t *testing.T) {
	wrapped := Wrap(KindTooLarge, "file too large", errors.New("boom"))
	if got := KindOf(wrapped); got != KindTooLarge {
		t.Errorf("expected %s, got %s", KindTooLarge, got)
	}

	if got := KindOf(errors.New("plain")); got != KindInternal {
		t.Errorf("expected %s for unclassified error, got %s", KindInternal, got)
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindInvalidArgument, http.StatusBadRequest},
		{KindNotFound, http.StatusNotFound},
		{KindTimeout, http.StatusRequestTimeout},
		{KindTooLarge, http.StatusRequestEntityTooLarge},
		{KindUnsupportedType, http.StatusUnsupportedMediaType},
		{KindTooManyRequests, http.StatusTooManyRequests},
		{KindUpstream, http.StatusInternalServerError},
		{KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := HTTPStatus(tt.kind); got != tt.want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", tt.kind, got, tt.want)
		}
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(KindInternal, "write failed", cause)
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
}
