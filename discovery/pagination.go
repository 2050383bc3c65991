package discovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pevans/finharvest/browser"
)

var (
	// ErrLoadMoreFailed is returned when the "load more" script keeps
	// failing after every retry.
	ErrLoadMoreFailed = errors.New("load more failed")

	// ErrTooManyLoads is returned when the "load more" control is still
	// visible after the maximum number of loads.
	ErrTooManyLoads = errors.New("too many loads")
)

// Pagination bounds the expansion of a listing page.
type Pagination struct {
	// Polling is used for the quiescence wait after each load.
	Polling browser.Polling
	// ClickAttempts is how many times a failing load is retried.
	ClickAttempts int
	// ClickBackoff is the pause before each attempt.
	ClickBackoff time.Duration
	// MaxLoads caps the number of successful loads per page.
	MaxLoads int
}

// DefaultPagination returns the pagination bounds used by the harvester.
func DefaultPagination() Pagination {
	return Pagination{
		Polling:       browser.DefaultPolling(),
		ClickAttempts: 25,
		ClickBackoff:  200 * time.Millisecond,
		MaxLoads:      500,
	}
}

// ExpandListing triggers "load more" until the control disappears and returns
// the number of loads performed. A page without the control is already fully
// expanded. Unset bounds take their defaults.
func ExpandListing(ctx context.Context, b browser.Browser, page *PageContext, opts Pagination) (int, error) {
	opts = opts.WithDefaults()

	if err := browser.WaitReady(ctx, b, opts.Polling); err != nil {
		return 0, err
	}

	loads := 0
	for {
		// The control is replaced on every load; look it up again each time.
		visible, err := b.Visible(ctx, page.LoadMoreID())
		if err != nil {
			return loads, err
		}
		if !visible {
			return loads, nil
		}

		if loads >= opts.MaxLoads {
			return loads, fmt.Errorf("%w: control still visible after %d loads", ErrTooManyLoads, loads)
		}

		if err := loadMore(ctx, b, page, opts); err != nil {
			return loads, err
		}
		loads++

		if err := browser.WaitReady(ctx, b, opts.Polling); err != nil {
			return loads, err
		}
	}
}

// WithDefaults returns opts with unset bounds taken from DefaultPagination.
func (opts Pagination) WithDefaults() Pagination {
	def := DefaultPagination()
	opts.Polling = opts.Polling.WithDefaults()
	if opts.ClickAttempts < 1 {
		opts.ClickAttempts = def.ClickAttempts
	}
	if opts.ClickBackoff < 0 {
		opts.ClickBackoff = def.ClickBackoff
	}
	if opts.MaxLoads < 1 {
		opts.MaxLoads = def.MaxLoads
	}
	return opts
}

// loadMore runs the page's load script, retrying transient failures with a
// fixed backoff. The backoff also precedes the first attempt.
func loadMore(ctx context.Context, b browser.Browser, page *PageContext, opts Pagination) error {
	attempts := max(opts.ClickAttempts, 1)

	if err := browser.Sleep(ctx, opts.ClickBackoff); err != nil {
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(opts.ClickBackoff), uint64(attempts-1)),
		ctx,
	)
	err := backoff.Retry(func() error {
		err := b.Evaluate(ctx, page.LoadMoreScript(), nil)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}, policy)
	if err == nil {
		return nil
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrLoadMoreFailed, attempts, err)
}
