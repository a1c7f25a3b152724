package repository

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/giants/redistrict/internal/common/redistricterrors"
)

func TestWithRetry(t *testing.T) {
	persistenceErr := redistricterrors.NewPersistence("create job", errors.New("connection reset"))
	tests := map[string]struct {
		failures      []error
		attempts      uint
		expectedCalls int
		expectErr     bool
	}{
		"succeeds first time":              {attempts: 3, expectedCalls: 1},
		"succeeds after persistence error": {failures: []error{persistenceErr}, attempts: 3, expectedCalls: 2},
		"gives up":                         {failures: []error{persistenceErr, persistenceErr, persistenceErr}, attempts: 3, expectedCalls: 3, expectErr: true},
		"zero attempts runs once":          {failures: []error{persistenceErr}, attempts: 0, expectedCalls: 1, expectErr: true},
		"stale status is not retried":      {failures: []error{&redistricterrors.ErrStaleStatus{JobId: "a"}}, attempts: 3, expectedCalls: 1, expectErr: true},
		"not found is not retried":         {failures: []error{&redistricterrors.ErrNotFound{Value: "a"}}, attempts: 3, expectedCalls: 1, expectErr: true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			calls := 0
			err := WithRetry(context.Background(), RetryPolicy{Attempts: tc.attempts}, "test", func() error {
				calls++
				if calls <= len(tc.failures) {
					return tc.failures[calls-1]
				}
				return nil
			})
			assert.Equal(t, tc.expectedCalls, calls)
			if tc.expectErr {
				assert.Equal(t, tc.failures[calls-1], err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWithRetry_StopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := WithRetry(ctx, RetryPolicy{Attempts: 5}, "test", func() error {
		calls++
		return redistricterrors.NewPersistence("create job", errors.New("boom"))
	})
	assert.Equal(t, 1, calls)
	assert.True(t, redistricterrors.IsPersistence(err))
}
