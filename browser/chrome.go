package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/chromedp/chromedp"
)

// ChromeOptions configures the headless Chrome session.
type ChromeOptions struct {
	// ExecPath overrides the Chrome binary lookup when set.
	ExecPath string
	// Headless hides the browser window.
	Headless  bool
	UserAgent string
	// Logf receives chromedp protocol errors. Nil discards them.
	Logf func(string, ...any)
}

// Chrome implements Browser on top of a single chromedp tab.
type Chrome struct {
	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	closeOnce   sync.Once
	closeErr    error
}

// NewChrome starts a browser process and opens one tab. The session lives
// until Close is called; ctx only bounds the start-up.
func NewChrome(ctx context.Context, opts ChromeOptions) (*Chrome, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocOpts...)

	var ctxOpts []chromedp.ContextOption
	if opts.Logf != nil {
		ctxOpts = append(ctxOpts, chromedp.WithErrorf(opts.Logf))
	}
	tabCtx, cancelTab := chromedp.NewContext(allocCtx, ctxOpts...)

	c := &Chrome{
		ctx:         tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
	}

	// The first Run allocates the browser; it must use the tab context
	// itself, otherwise the browser would die with the start-up deadline.
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(tabCtx) }()

	select {
	case err := <-started:
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to start browser: %w", err)
		}
	case <-ctx.Done():
		c.Close()
		return nil, fmt.Errorf("failed to start browser: %w", ctx.Err())
	}

	return c, nil
}

// run executes actions in the tab, aborting them when ctx is done.
func (c *Chrome) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(c.ctx)
	defer cancel()

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

// Navigate implements Browser.
func (c *Chrome) Navigate(ctx context.Context, url string) error {
	if err := c.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// Content implements Browser.
func (c *Chrome) Content(ctx context.Context) (string, error) {
	var html string
	if err := c.Evaluate(ctx, "document.documentElement.outerHTML", &html); err != nil {
		return "", fmt.Errorf("failed to read page content: %w", err)
	}
	return html, nil
}

// Evaluate implements Browser.
func (c *Chrome) Evaluate(ctx context.Context, script string, res any) error {
	return c.run(ctx, chromedp.Evaluate(script, res))
}

// ElementHTML implements Browser. The lookup goes through script evaluation
// rather than a chromedp selector so a missing element fails immediately
// instead of waiting for it to appear.
func (c *Chrome) ElementHTML(ctx context.Context, id string) (string, error) {
	script := fmt.Sprintf(`(function(){var e=document.getElementById(%s);return e?e.outerHTML:null;})()`, jsString(id))

	var html *string
	if err := c.Evaluate(ctx, script, &html); err != nil {
		return "", fmt.Errorf("failed to read element %s: %w", id, err)
	}
	if html == nil {
		return "", fmt.Errorf("%w: %s", ErrElementNotFound, id)
	}
	return *html, nil
}

// Visible implements Browser.
func (c *Chrome) Visible(ctx context.Context, id string) (bool, error) {
	script := fmt.Sprintf(`(function(){
		var e=document.getElementById(%s);
		if(!e){return false;}
		var s=window.getComputedStyle(e);
		return s.display!=="none" && s.visibility!=="hidden" && e.getClientRects().length>0;
	})()`, jsString(id))

	var visible bool
	if err := c.Evaluate(ctx, script, &visible); err != nil {
		return false, fmt.Errorf("failed to check visibility of %s: %w", id, err)
	}
	return visible, nil
}

// Close shuts the browser down. It is safe to call more than once.
func (c *Chrome) Close() error {
	c.closeOnce.Do(func() {
		err := chromedp.Cancel(c.ctx)
		c.cancelTab()
		c.cancelAlloc()
		if err != nil && !errors.Is(err, context.Canceled) {
			c.closeErr = fmt.Errorf("failed to close browser: %w", err)
		}
	})
	return c.closeErr
}

// jsString quotes s as a JavaScript string literal.
func jsString(s string) string {
	data, _ := json.Marshal(s)
	return string(data)
}
