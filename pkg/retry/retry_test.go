package retry

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/bardlex/poolclean/pkg/errors"
)

func fast(attempts int) *Config {
	return &Config{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    10 * time.Millisecond,
		Multiplier:  2.0,
	}
}

func TestPresets(t *testing.T) {
	tests := []struct {
		name     string
		config   *Config
		attempts int
		base     time.Duration
		max      time.Duration
	}{
		{"default", DefaultConfig(), 3, 100 * time.Millisecond, 5 * time.Second},
		{"publish", PublishConfig(), 5, 50 * time.Millisecond, 2 * time.Second},
		{"ledger", LedgerConfig(), 3, 200 * time.Millisecond, 3 * time.Second},
		{"lock", LockConfig(), 2, 25 * time.Millisecond, 250 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.config.MaxAttempts != tt.attempts {
				t.Errorf("MaxAttempts = %d, want %d", tt.config.MaxAttempts, tt.attempts)
			}
			if tt.config.BaseDelay != tt.base {
				t.Errorf("BaseDelay = %v, want %v", tt.config.BaseDelay, tt.base)
			}
			if tt.config.MaxDelay != tt.max {
				t.Errorf("MaxDelay = %v, want %v", tt.config.MaxDelay, tt.max)
			}
		})
	}
}

func TestDo(t *testing.T) {
	network := errors.New(errors.ErrorTypeNetwork, "publish", "connection reset")
	tests := []struct {
		name      string
		attempts  int
		failures  int
		err       error
		wantCalls int
		wantType  errors.ErrorType
		wantErr   bool
	}{
		{"success after retry", 3, 1, network, 2, "", false},
		{"attempts exhausted", 2, 5, network, 2, errors.ErrorTypeInternal, true},
		{"policy not retried", 3, 5, errors.Policy("dust_sweep", "no wallet"), 1, errors.ErrorTypePolicy, true},
		{"store not retried", 3, 5, errors.New(errors.ErrorTypeStore, "put", "MDB_MAP_FULL"), 1, errors.ErrorTypeStore, true},
		{"plain error not retried", 3, 5, stderrors.New("boom"), 1, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Do(context.Background(), fast(tt.attempts), func() error {
				calls++
				if calls <= tt.failures {
					return tt.err
				}
				return nil
			})

			if (err != nil) != tt.wantErr {
				t.Fatalf("Do() error = %v, wantErr %v", err, tt.wantErr)
			}
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if tt.wantType != "" && !errors.IsType(err, tt.wantType) {
				t.Errorf("Do() error = %v, want type %s", err, tt.wantType)
			}
		})
	}
}

func TestDo_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	config := &Config{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: time.Second, Multiplier: 1}

	calls := 0
	err := Do(ctx, config, func() error {
		calls++
		cancel()
		return errors.New(errors.ErrorTypeNetwork, "publish", "broker unavailable")
	})
	if err != context.Canceled {
		t.Errorf("Do() error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	got, err := DoWithResult(context.Background(), nil, func() (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New(errors.ErrorTypeTimeout, "acquire_lock", "i/o timeout")
		}
		return "token", nil
	})
	if err != nil || got != "token" {
		t.Errorf("DoWithResult() = %q, %v; want token, nil", got, err)
	}

	n, err := DoWithResult(context.Background(), fast(2), func() (int, error) {
		return 7, errors.New(errors.ErrorTypeKafka, "publish", "leader not available")
	})
	if err == nil || n != 0 {
		t.Errorf("DoWithResult() = %d, %v; want zero value and an error", n, err)
	}
}

func TestOnRetry(t *testing.T) {
	var attempts []int
	config := fast(3)
	config.OnRetry = func(attempt int, _ time.Duration, _ error) {
		attempts = append(attempts, attempt)
	}

	_ = Do(context.Background(), config, func() error {
		return errors.New(errors.ErrorTypeNetwork, "publish", "connection refused")
	})
	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("OnRetry attempts = %v, want [1 2]", attempts)
	}
}

func TestConfig_delay(t *testing.T) {
	config := &Config{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2.0}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
		{9, time.Second},
	}
	for _, tt := range tests {
		if got := config.delay(tt.attempt); got != tt.want {
			t.Errorf("delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}

	config.Jitter = true
	if got := config.delay(0); got < 100*time.Millisecond || got > 110*time.Millisecond {
		t.Errorf("delay with jitter = %v, want within 100ms..110ms", got)
	}
}
