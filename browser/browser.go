// Package browser defines the page automation surface the harvester needs and
// the polling helpers built on top of it.
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var (
	// ErrNotReady is returned when a page does not reach the complete ready
	// state before the polling deadline.
	ErrNotReady = errors.New("page not ready")

	// ErrElementNotFound is returned when no element carries the requested ID.
	ErrElementNotFound = errors.New("element not found")

	errIncomplete = errors.New("ready state not complete")
)

// ReadyStateScript reads the document ready state.
const ReadyStateScript = "document.readyState"

// Browser drives a single rendered page. Implementations are not safe for
// concurrent use; one harvester owns one Browser.
type Browser interface {
	// Navigate loads url in the current tab.
	Navigate(ctx context.Context, url string) error
	// Content returns the rendered HTML of the whole page.
	Content(ctx context.Context) (string, error)
	// Evaluate runs script in the page and decodes its result into res. A
	// nil res discards the result.
	Evaluate(ctx context.Context, script string, res any) error
	// ElementHTML returns the outer HTML of the element with the given ID.
	ElementHTML(ctx context.Context, id string) (string, error)
	// Visible reports whether the element with the given ID exists and is
	// displayed.
	Visible(ctx context.Context, id string) (bool, error)
	// Close releases the session.
	Close() error
}

// Polling bounds a wait loop.
type Polling struct {
	Interval time.Duration
	Timeout  time.Duration
}

// DefaultPolling returns the polling used for page quiescence checks.
func DefaultPolling() Polling {
	return Polling{
		Interval: 200 * time.Millisecond,
		Timeout:  60 * time.Second,
	}
}

// WaitReady polls the document ready state until it reports "complete". The
// first check happens after one interval so that a navigation triggered just
// before the call has a chance to reset the state.
func WaitReady(ctx context.Context, b Browser, p Polling) error {
	p = p.WithDefaults()

	waitCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	var (
		state   string
		lastErr error
	)
	check := func() error {
		err := b.Evaluate(waitCtx, ReadyStateScript, &state)
		if waitCtx.Err() != nil {
			return backoff.Permanent(waitCtx.Err())
		}
		lastErr = err
		if err != nil {
			return err
		}
		if state != "complete" {
			return errIncomplete
		}
		return nil
	}

	err := Sleep(waitCtx, p.Interval)
	if err == nil {
		err = backoff.Retry(check, backoff.WithContext(backoff.NewConstantBackOff(p.Interval), waitCtx))
	}
	if err == nil {
		return nil
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if lastErr != nil {
		return fmt.Errorf("%w after %v: %v", ErrNotReady, p.Timeout, lastErr)
	}
	return fmt.Errorf("%w after %v: ready state %q", ErrNotReady, p.Timeout, state)
}

// WithDefaults returns p with non-positive fields taken from DefaultPolling.
func (p Polling) WithDefaults() Polling {
	def := DefaultPolling()
	if p.Interval <= 0 {
		p.Interval = def.Interval
	}
	if p.Timeout <= 0 {
		p.Timeout = def.Timeout
	}
	return p
}

// Sleep pauses for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
