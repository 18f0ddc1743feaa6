package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestServiceError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *ServiceError
		expected string
	}{
		{
			name: "error with cause",
			err: &ServiceError{
				Type:      ErrorTypeStore,
				Operation: "open_env",
				Message:   "cannot open environment",
				Cause:     errors.New("no such file or directory"),
			},
			expected: "store operation 'open_env' failed: cannot open environment (caused by: no such file or directory)",
		},
		{
			name: "error without cause",
			err: &ServiceError{
				Type:      ErrorTypePolicy,
				Operation: "dust_sweep",
				Message:   "pool wallet is required",
			},
			expected: "policy operation 'dust_sweep' failed: pool wallet is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("ServiceError.Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestServiceError_Unwrap(t *testing.T) {
	cause := errors.New("mdb_txn_commit: MDB_MAP_FULL")
	err := &ServiceError{Type: ErrorTypeStore, Operation: "commit", Message: "commit failed", Cause: cause}

	if unwrapped := err.Unwrap(); unwrapped != cause {
		t.Errorf("ServiceError.Unwrap() = %v, want %v", unwrapped, cause)
	}

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause through Unwrap")
	}

	errNoCause := &ServiceError{Type: ErrorTypeStore, Operation: "commit", Message: "commit failed"}
	if unwrapped := errNoCause.Unwrap(); unwrapped != nil {
		t.Errorf("ServiceError.Unwrap() = %v, want nil", unwrapped)
	}
}

func TestServiceError_WithContext(t *testing.T) {
	err := New(ErrorTypeDecode, "decode_share", "short buffer").
		WithContext("table", "shares").
		WithContext("size", 12)

	if len(err.Context) != 2 {
		t.Errorf("Expected 2 context items, got %d", len(err.Context))
	}

	if err.Context["table"] != "shares" {
		t.Errorf("Expected table = 'shares', got %v", err.Context["table"])
	}

	if err.Context["size"] != 12 {
		t.Errorf("Expected size = 12, got %v", err.Context["size"])
	}
}

func TestNew(t *testing.T) {
	err := New(ErrorTypeValidation, "load_config", "RETENTION_DAYS must be positive")

	if err.Type != ErrorTypeValidation {
		t.Errorf("Expected type %v, got %v", ErrorTypeValidation, err.Type)
	}

	if err.Operation != "load_config" {
		t.Errorf("Expected operation 'load_config', got '%s'", err.Operation)
	}

	if err.Timestamp.IsZero() {
		t.Error("Expected timestamp to be set")
	}

	if err.Retryable {
		t.Error("Expected validation error to not be retryable")
	}
}

func TestPolicy(t *testing.T) {
	err := Policy("dust_sweep", "pool wallet is required")

	if !IsType(err, ErrorTypePolicy) {
		t.Errorf("Policy() type = %v, want %v", err.Type, ErrorTypePolicy)
	}
	if err.Retryable {
		t.Error("policy violations must not be retryable")
	}
}

func TestWrap(t *testing.T) {
	cause := errors.New("original error")
	err := Wrap(cause, ErrorTypeNetwork, "publish", "wrapped message")

	if err.Type != ErrorTypeNetwork {
		t.Errorf("Expected type %v, got %v", ErrorTypeNetwork, err.Type)
	}

	if err.Cause != cause {
		t.Errorf("Expected cause %v, got %v", cause, err.Cause)
	}

	if nilErr := Wrap(nil, ErrorTypeNetwork, "test", "test"); nilErr != nil {
		t.Errorf("Expected nil when wrapping nil error, got %v", nilErr)
	}

	inner := &ServiceError{Type: ErrorTypeKafka, Operation: "write", Message: "broker down", Retryable: true}
	outer := Wrap(inner, ErrorTypeInternal, "retry", "gave up")

	if outer.Cause != inner {
		t.Error("Expected wrapped ServiceError as cause")
	}
	if !outer.Retryable {
		t.Error("Wrap should preserve retryability of an inner ServiceError")
	}
}

func TestIsType(t *testing.T) {
	err := New(ErrorTypeStore, "open_env", "missing")

	if !IsType(err, ErrorTypeStore) {
		t.Error("Expected IsType to return true for matching type")
	}

	if IsType(err, ErrorTypeDecode) {
		t.Error("Expected IsType to return false for non-matching type")
	}

	wrapped := fmt.Errorf("cleanup shares: %w", err)
	if !IsType(wrapped, ErrorTypeStore) {
		t.Error("IsType should see through fmt.Errorf wrapping")
	}

	if IsType(errors.New("regular error"), ErrorTypeStore) {
		t.Error("Expected IsType to return false for regular error")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"network", New(ErrorTypeNetwork, "test", "test"), true},
		{"kafka", New(ErrorTypeKafka, "test", "test"), true},
		{"store", New(ErrorTypeStore, "test", "test"), false},
		{"decode", New(ErrorTypeDecode, "test", "test"), false},
		{"policy", New(ErrorTypePolicy, "test", "test"), false},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"unknown", errors.New("unknown error"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetContext(t *testing.T) {
	err := New(ErrorTypeDatabase, "save_run", "insert failed").
		WithContext("run_id", "abc").
		WithContext("rows", 3)

	ctx := GetContext(err)
	if len(ctx) != 2 {
		t.Errorf("Expected 2 context items, got %d", len(ctx))
	}

	if ctx["run_id"] != "abc" {
		t.Errorf("Expected run_id = 'abc', got %v", ctx["run_id"])
	}

	if ctx := GetContext(errors.New("regular error")); ctx != nil {
		t.Errorf("Expected nil context for regular error, got %v", ctx)
	}
}

func TestIsRetryableByDefault(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"context canceled", context.Canceled, false},
		{"context timeout", context.DeadlineExceeded, false},
		{"connection refused", errors.New("connection refused"), true},
		{"connection reset", errors.New("connection reset by peer"), true},
		{"network unreachable", errors.New("network unreachable"), true},
		{"timeout error", errors.New("timeout occurred"), true},
		{"temporary failure", errors.New("temporary failure in name resolution"), true},
		{"too many connections", errors.New("too many connections"), true},
		{"lmdb map full", errors.New("mdb_put: MDB_MAP_FULL: Environment mapsize limit reached"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableByDefault(tt.err); got != tt.expected {
				t.Errorf("isRetryableByDefault() = %v, want %v", got, tt.expected)
			}
		})
	}
}
