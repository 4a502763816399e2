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
		{code: CodeUnauthorized, status: http.StatusUnauthorized, publicMsg: "authentication required"},
		{code: CodeForbidden, status: http.StatusForbidden, publicMsg: "access denied"},
		{code: CodeNotFound, status: http.StatusNotFound, publicMsg: "resource not found"},
		{code: CodeConflict, status: http.StatusConflict, publicMsg: "conflict detected"},
		{code: CodeStateConflict, status: http.StatusUnprocessableEntity, publicMsg: "state transition disallowed", detailsOK: true},
		{code: CodeInternal, status: http.StatusInternalServerError, publicMsg: "internal server error", retryable: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, publicMsg: "dependency unavailable", retryable: true, detailsOK: true},
		{code: CodeInvalidAmount, status: http.StatusBadRequest, publicMsg: "amount must be strictly positive", detailsOK: true},
		{code: CodeConfigurationMissing, status: http.StatusServiceUnavailable, publicMsg: "required configuration missing", retryable: true, detailsOK: true},
		{code: CodeInsufficientBalance, status: http.StatusUnprocessableEntity, publicMsg: "insufficient balance", detailsOK: true},
		{code: CodeDuplicatePendingApproval, status: http.StatusConflict, publicMsg: "an approval request is already open for this entity", detailsOK: true},
		{code: CodeNotPending, status: http.StatusConflict, publicMsg: "approval request is no longer pending", detailsOK: true},
		{code: CodeIntegrityCheckFailed, status: http.StatusInternalServerError, publicMsg: "integrity check failed"},
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

func TestErrorConstructors(t *testing.T) {
	base := New(CodeValidation, "missing foo")
	if base.Code() != CodeValidation {
		t.Fatalf("expected validation code, got %s", base.Code())
	}
	if base.Message() != "missing foo" {
		t.Fatalf("unexpected message %q", base.Message())
	}
	if base.Details() != nil {
		t.Fatalf("details should be nil by default")
	}

	detail := map[string]any{"field": "foo"}
	base.WithDetails(detail)
	if base.Details() == nil {
		t.Fatalf("details should be preserved")
	}

	cause := stdErrors.New("boom")
	wrapped := Wrap(CodeConflict, cause, "ctx")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("Wrap did not preserve cause")
	}
	if wrapped.Code() != CodeConflict {
		t.Fatalf("unexpected code %s", wrapped.Code())
	}
}

func TestAsReturnsTypedError(t *testing.T) {
	err := New(CodeForbidden, "no entry")
	if got := As(err); got == nil || got.Code() != CodeForbidden {
		t.Fatalf("As failed to return typed error")
	}
	if As(nil) != nil {
		t.Fatalf("As(nil) should return nil")
	}
}

func TestIsCodeFollowsWrapChain(t *testing.T) {
	typed := New(CodeEntryImmutable, "entry has a reference")
	wrapped := fmt.Errorf("update entry: %w", typed)

	if !IsCode(wrapped, CodeEntryImmutable) {
		t.Fatalf("expected IsCode to match through fmt wrapping")
	}
	if IsCode(wrapped, CodeNotPending) {
		t.Fatalf("unexpected match for different code")
	}
	if IsCode(stdErrors.New("plain"), CodeInternal) {
		t.Fatalf("plain errors never match a code")
	}
}

func TestIsRetryableFollowsMetadata(t *testing.T) {
	if !IsRetryable(fmt.Errorf("apply: %w", Wrap(CodeDependency, stdErrors.New("conn reset"), "insert entry"))) {
		t.Fatalf("dependency errors should be retryable")
	}
	if !IsRetryable(New(CodeConfigurationMissing, "rate missing")) {
		t.Fatalf("missing configuration should be retryable")
	}
	if IsRetryable(New(CodeInsufficientBalance, "balance too low")) {
		t.Fatalf("business rejections are final")
	}
	if IsRetryable(stdErrors.New("plain")) {
		t.Fatalf("untyped errors carry no retry metadata")
	}
}
