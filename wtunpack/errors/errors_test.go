package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *Error
		wantStr string
	}{
		{
			name:    "basic error",
			err:     &Error{Code: "TEST_ERROR", Message: "test message"},
			wantStr: "[TEST_ERROR] test message",
		},
		{
			name: "error with cause",
			err: &Error{
				Code:    "TEST_ERROR",
				Message: "test message",
				Cause:   stderrors.New("underlying error"),
			},
			wantStr: "[TEST_ERROR] test message: underlying error",
		},
		{
			name: "error with details",
			err: &Error{
				Code:    "TEST_ERROR",
				Message: "test message",
				Details: map[string]interface{}{"entry": "a.blk", "offset": 12},
			},
			wantStr: "(entry=a.blk offset=12)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Error()
			if !strings.Contains(got, tt.wantStr) {
				t.Errorf("Error() = %q, want to contain %q", got, tt.wantStr)
			}
		})
	}
}

func TestError_WithCause(t *testing.T) {
	cause := stderrors.New("root cause")
	err := ErrFormat.WithCause(cause)

	if err.Cause != cause {
		t.Errorf("WithCause() cause = %v, want %v", err.Cause, cause)
	}
	if !stderrors.Is(err, cause) {
		t.Error("WithCause() should allow errors.Is to reach the cause")
	}
	if ErrFormat.Cause != nil {
		t.Error("WithCause() must not mutate the sentinel")
	}
}

func TestError_IsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("file %q: %w", "char.vromfs.bin",
		ErrOutputTooLarge.WithDetail("entry", "x.blk").WithDetail("limit", 10))

	if !stderrors.Is(err, ErrOutputTooLarge) {
		t.Fatal("errors.Is should match wrapped derived error by code")
	}
	if stderrors.Is(err, ErrFormat) {
		t.Fatal("errors.Is should not match a different code")
	}
	if got := GetErrorCode(err); got != "OUTPUT_TOO_LARGE" {
		t.Fatalf("GetErrorCode() = %q, want OUTPUT_TOO_LARGE", got)
	}
	if !IsError(err) {
		t.Fatal("IsError() = false, want true")
	}
}

func TestError_WithDetailCopies(t *testing.T) {
	base := ErrFormat.WithDetail("file", "a")
	derived := base.WithDetail("entry", "b")

	if _, ok := base.Details["entry"]; ok {
		t.Fatal("WithDetail() mutated the receiver")
	}
	if derived.Details["file"] != "a" || derived.Details["entry"] != "b" {
		t.Fatalf("Details = %v", derived.Details)
	}
}

func TestFormatf(t *testing.T) {
	err := Formatf("bad magic %q", "XXXX")
	if err.Code != "FORMAT" {
		t.Errorf("Code = %q, want FORMAT", err.Code)
	}
	if err.Message != `bad magic "XXXX"` {
		t.Errorf("Message = %q", err.Message)
	}
	if GetErrorCode(stderrors.New("plain")) != "" {
		t.Error("GetErrorCode() of a plain error should be empty")
	}
}
