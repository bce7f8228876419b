package rpcbench

import (
	"errors"
	"testing"
)

func TestErrorCodeString(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want string
	}{
		{CodeOK, "OK"},
		{CodeInvalidArgument, "INVALID_ARGUMENT"},
		{CodeDeadlineExceeded, "DEADLINE_EXCEEDED"},
		{CodeNotFound, "NOT_FOUND"},
		{CodeInternal, "INTERNAL"},
		{CodeUnavailable, "UNAVAILABLE"},
		{ErrorCode(77), "ErrorCode(77)"},
	}
	for _, tt := range tests {
		if got := tt.code.String(); got != tt.want {
			t.Errorf("ErrorCode(%d).String() = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestErrorCodeFrom(t *testing.T) {
	for v := 0; v <= 5; v++ {
		if got := ErrorCodeFrom(uint8(v)); got != ErrorCode(v) {
			t.Errorf("ErrorCodeFrom(%d) = %v", v, got)
		}
	}
	for _, v := range []uint8{6, 42, 255} {
		if got := ErrorCodeFrom(v); got != CodeInternal {
			t.Errorf("ErrorCodeFrom(%d) = %v, want INTERNAL", v, got)
		}
	}
}

func TestResult(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		r := Success(EchoResponse{Message: "hi"})
		if !r.OK() {
			t.Fatal("Success result is not OK")
		}
		if r.Err() != nil {
			t.Errorf("Err() = %v, want nil", r.Err())
		}
		if r.Value.Message != "hi" {
			t.Errorf("Value.Message = %q", r.Value.Message)
		}
	})

	t.Run("failure", func(t *testing.T) {
		r := Failure[EchoResponse](CodeNotFound, "no such thing")
		if r.OK() {
			t.Fatal("Failure result is OK")
		}
		var rerr *Error
		if !errors.As(r.Err(), &rerr) {
			t.Fatalf("Err() = %T, want *Error", r.Err())
		}
		if rerr.Code != CodeNotFound || rerr.Error() != "NOT_FOUND: no such thing" {
			t.Errorf("Err() = %v", rerr)
		}
	})

	t.Run("failure with OK code is promoted", func(t *testing.T) {
		r := Failure[int](CodeOK, "bad")
		if r.OK() || r.Code != CodeInternal {
			t.Errorf("Failure(CodeOK) code = %v, want INTERNAL", r.Code)
		}
	})
}
