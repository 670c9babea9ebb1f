package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"supportdraft/internal/domain"
)

func TestWithRetry(t *testing.T) {
	unavailable := fmt.Errorf("query: %w", domain.ErrStoreUnavailable)

	testCases := []struct {
		name      string
		retries   int
		failures  int
		failWith  error
		wantCalls int
		wantErr   error
	}{
		{name: "success first try", retries: 2, failures: 0, wantCalls: 1},
		{name: "recovers after one failure", retries: 2, failures: 1, failWith: unavailable, wantCalls: 2},
		{name: "gives up after retries", retries: 2, failures: 10, failWith: unavailable, wantCalls: 3, wantErr: domain.ErrStoreUnavailable},
		{name: "zero retries", retries: 0, failures: 10, failWith: unavailable, wantCalls: 1, wantErr: domain.ErrStoreUnavailable},
		{name: "invalid input not retried", retries: 2, failures: 10, failWith: domain.ErrInvalidInput, wantCalls: 1, wantErr: domain.ErrInvalidInput},
		{name: "unknown error not retried", retries: 2, failures: 10, failWith: errors.New("boom"), wantCalls: 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			calls := 0
			err := withRetry(context.Background(), tc.retries, time.Millisecond, func(ctx context.Context) error {
				calls++
				if calls <= tc.failures {
					return tc.failWith
				}
				return nil
			})

			if calls != tc.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tc.wantCalls)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Errorf("err = %v, want %v", err, tc.wantErr)
			}
			if tc.failures == 0 && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestWithRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := withRetry(ctx, 5, time.Hour, func(ctx context.Context) error {
		calls++
		return domain.ErrStoreUnavailable
	})

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Errorf("err = %v, want ErrStoreUnavailable", err)
	}
}
