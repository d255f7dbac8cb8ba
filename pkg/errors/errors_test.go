package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		publicMsg string
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, publicMsg: "validation failed", detailsOK: true},
		{code: CodeForbidden, status: http.StatusForbidden, publicMsg: "access denied"},
		{code: CodeNotFound, status: http.StatusNotFound, publicMsg: "resource not found"},
		{code: CodeConflict, status: http.StatusConflict, publicMsg: "conflict detected", detailsOK: true},
		{code: CodeInvalidTransition, status: http.StatusConflict, publicMsg: "invalid order status transition", detailsOK: true},
		{code: CodeUnknownTransaction, status: http.StatusNotFound, publicMsg: "unknown transaction"},
		{code: CodeGateway, status: http.StatusBadGateway, publicMsg: "payment gateway unavailable", retryable: true},
		{code: CodeInternal, status: http.StatusInternalServerError, publicMsg: "internal server error", retryable: true},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.PublicMessage != tt.publicMsg {
			t.Fatalf("code %s expected public message %q got %q", tt.code, tt.publicMsg, meta.PublicMessage)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
		}
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal status, got %d", meta.HTTPStatus)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stdErrors.New("connection reset")
	wrapped := Wrap(CodeGateway, cause, "initiate session")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("Wrap did not preserve cause")
	}
	if wrapped.Code() != CodeGateway {
		t.Fatalf("unexpected code %s", wrapped.Code())
	}
	if !IsRetryable(wrapped) {
		t.Fatalf("gateway errors should be retryable")
	}
}

func TestHasCodeThroughFmtWrapping(t *testing.T) {
	base := New(CodeInvalidTransition, "processing -> cancelled").WithDetails(map[string]string{"from": "processing"})
	err := fmt.Errorf("cancel order: %w", base)

	if !HasCode(err, CodeInvalidTransition) {
		t.Fatalf("expected invalid transition code in chain")
	}
	if HasCode(err, CodeConflict) {
		t.Fatalf("unexpected conflict code")
	}
	if As(err).Details() == nil {
		t.Fatalf("details should survive wrapping")
	}
	if HasCode(nil, CodeInternal) {
		t.Fatalf("nil error should not carry a code")
	}
}

func TestErrorString(t *testing.T) {
	if got := New(CodeNotFound, "order not found").Error(); got != "NOT_FOUND: order not found" {
		t.Fatalf("unexpected message %q", got)
	}
	wrapped := Wrap(CodeDependency, stdErrors.New("dial tcp"), "load order")
	if got := wrapped.Error(); got != "DEPENDENCY_ERROR: load order: dial tcp" {
		t.Fatalf("unexpected message %q", got)
	}
	var nilErr *Error
	if nilErr.Error() != "" || nilErr.Code() != CodeInternal || nilErr.WithDetails("x") != nil {
		t.Fatalf("nil receiver should be inert")
	}
}

func TestServerCodesHideMessages(t *testing.T) {
	for _, code := range []Code{CodeGateway, CodeInternal, CodeDependency} {
		if MetadataFor(code).ExposeMessage {
			t.Fatalf("%s must not expose its message", code)
		}
	}
	if !MetadataFor(CodeDependency).DetailsAllowed || !MetadataFor(CodeDependency).Retryable {
		t.Fatalf("dependency errors carry details and are retryable")
	}
}
