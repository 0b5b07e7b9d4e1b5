package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOf_UnwrapsChain(t *testing.T) {
	err := fmt.Errorf("book: %w", Authorization("calendar not connected"))
	if KindOf(err) != KindAuthorization {
		t.Fatalf("expected authorization kind, got %q", KindOf(err))
	}
	if MessageOf(err) != "calendar not connected" {
		t.Fatalf("unexpected message %q", MessageOf(err))
	}
}

func TestKindOf_PlainErrorIsInternal(t *testing.T) {
	err := errors.New("boom")
	if KindOf(err) != KindInternal {
		t.Fatalf("expected internal")
	}
	if MessageOf(err) != "internal error" {
		t.Fatalf("internal cause must not leak")
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindValidation:    http.StatusBadRequest,
		KindNotFound:      http.StatusNotFound,
		KindAuthorization: http.StatusForbidden,
		KindRateLimited:   http.StatusTooManyRequests,
		KindUpstream:      http.StatusBadGateway,
		KindInternal:      http.StatusInternalServerError,
	}
	for k, want := range cases {
		if got := HTTPStatus(k); got != want {
			t.Fatalf("%s: expected %d, got %d", k, want, got)
		}
	}
}

func TestUpstreamKeepsCause(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := Upstream("realtime session request failed", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause in chain")
	}
}
