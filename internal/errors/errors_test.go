package errors

import (
	stdErrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestWrapPreservesCodeThroughFmt(t *testing.T) {
	cause := stdErrors.New("connection reset")
	wrapped := fmt.Errorf("row 1: %w", Wrap(CodeQuoteFailed, cause, "报价请求失败"))

	if CodeOf(wrapped) != CodeQuoteFailed {
		t.Fatalf("unexpected code: %s", CodeOf(wrapped))
	}
	if !RetryableError(wrapped) {
		t.Fatalf("quote failures should be retryable on the next tick")
	}
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("expected cause to be reachable")
	}
	if !stdErrors.Is(wrapped, New(CodeQuoteFailed, "")) {
		t.Fatalf("expected errors.Is to match by code")
	}
}

func TestSigningFailureIsNotRetryable(t *testing.T) {
	err := New(CodeSigningFailed, "")
	if RetryableError(err) {
		t.Fatalf("signing failures must not be marked retryable")
	}
	if !ShouldAlert(err) {
		t.Fatalf("signing failures should alert")
	}
	if err.Message() != "order signing failed" {
		t.Fatalf("expected default message, got %q", err.Message())
	}
}

func TestOverrides(t *testing.T) {
	err := New(CodeChainCallFailed, "collect", WithRetryable(false), WithSeverity(SeverityInfo), WithMetadata("asset", "0xabc"))
	if err.Retryable() {
		t.Fatalf("override should win")
	}
	if err.Severity() != SeverityInfo {
		t.Fatalf("unexpected severity %s", err.Severity())
	}
	if err.Metadata()["asset"] != "0xabc" {
		t.Fatalf("metadata missing: %+v", err.Metadata())
	}
}

func TestReasonTruncates(t *testing.T) {
	if Reason(nil) != "" {
		t.Fatalf("nil error should have empty reason")
	}
	long := stdErrors.New(strings.Repeat("x", 600))
	if got := len(Reason(long)); got != 512 {
		t.Fatalf("expected 512 chars, got %d", got)
	}
}

func TestUnknownCodeFallsBack(t *testing.T) {
	if AttributesOf("NOPE").Severity != SeverityCritical {
		t.Fatalf("unknown codes should fall back to UNKNOWN attributes")
	}
	if CodeOf(stdErrors.New("plain")) != CodeUnknown {
		t.Fatalf("plain errors have unknown code")
	}
}
