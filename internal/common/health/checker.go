package health

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

type Checker interface {
	Check() error
}

// TimeoutChecker adapts a context-aware check, bounding each call by timeout.
type TimeoutChecker struct {
	name    string
	timeout time.Duration
	check   func(ctx context.Context) error
}

func NewTimeoutChecker(name string, timeout time.Duration, check func(ctx context.Context) error) *TimeoutChecker {
	return &TimeoutChecker{name: name, timeout: timeout, check: check}
}

func (c *TimeoutChecker) Check() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := c.check(ctx); err != nil {
		return errors.WithMessage(err, c.name)
	}
	return nil
}
