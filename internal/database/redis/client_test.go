package redis

import (
	"context"
	"testing"
	"time"

	"github.com/bardlex/poolclean/pkg/errors"
)

func TestCutoffScore(t *testing.T) {
	tests := []struct {
		cutoff time.Time
		want   string
	}{
		{time.Unix(1700000000, 0), "(1700000000"},
		{time.Unix(1700000000, 999), "(1700000000"},
		{time.Unix(0, 0), "(0"},
	}

	for _, tt := range tests {
		if got := cutoffScore(tt.cutoff); got != tt.want {
			t.Errorf("cutoffScore(%v) = %q, want %q", tt.cutoff, got, tt.want)
		}
	}
}

func TestNewClient_InvalidURL(t *testing.T) {
	_, err := NewClient(context.Background(), &Config{URL: "localhost:6379"})
	if !errors.IsType(err, errors.ErrorTypeValidation) {
		t.Errorf("NewClient() error = %v, want validation error", err)
	}
}

func TestNewClient_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewClient(ctx, &Config{URL: "redis://127.0.0.1:1/0", DialTimeout: 100 * time.Millisecond})
	if err == nil {
		t.Fatal("NewClient() should fail when Redis is unreachable")
	}
	if !errors.IsType(err, errors.ErrorTypeNetwork) {
		t.Errorf("NewClient() error = %v, want network error", err)
	}
}

func TestDefaultSeriesKeys(t *testing.T) {
	if len(DefaultSeriesKeys) != 2 || DefaultSeriesKeys[0] != "pool:blocks" || DefaultSeriesKeys[1] != "pool:blocks_detailed" {
		t.Errorf("DefaultSeriesKeys = %v", DefaultSeriesKeys)
	}
}
