// Package browsertest provides a scripted, in-memory browser.Browser for
// tests.
package browsertest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/pevans/finharvest/browser"
)

// ErrStale mimics a transient failure of a page script, such as a handler
// that is being replaced while the page reloads part of itself.
var ErrStale = errors.New("stale element")

// LoadMore scripts a "load more" control on a page.
type LoadMore struct {
	// ID of the control element.
	ID string
	// Script that triggers one load.
	Script string
	// Remaining is the number of loads before the control hides itself.
	Remaining int
	// FailFirst makes the first N triggers fail with ErrStale.
	FailFirst int
	// Items are appended to the element named by Container, one per load.
	Container string
	Items     []string
}

// Page is a rendered page served by the fake.
type Page struct {
	// HTML is returned by Content.
	HTML string
	// Elements maps element IDs to their outer HTML.
	Elements map[string]string
	// LoadMore is the page's pagination control, if any.
	LoadMore *LoadMore
	// NotReadyPolls is the number of ready-state polls answered with
	// "loading" after the page is navigated to.
	NotReadyPolls int
}

// Fake implements browser.Browser over a fixed set of pages keyed by URL.
type Fake struct {
	mu sync.Mutex

	Pages map[string]*Page
	// NavigateErrors makes navigation to the given URLs fail.
	NavigateErrors map[string]error

	current     *Page
	notReady    int
	navigations []string
	scripts     []string
	closed      bool
}

// New returns an empty fake browser.
func New() *Fake {
	return &Fake{
		Pages:          map[string]*Page{},
		NavigateErrors: map[string]error{},
	}
}

// Navigate implements browser.Browser.
func (f *Fake) Navigate(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	f.navigations = append(f.navigations, url)
	if err, ok := f.NavigateErrors[url]; ok {
		f.current = nil
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	page, ok := f.Pages[url]
	if !ok {
		f.current = nil
		return fmt.Errorf("failed to navigate to %s: net::ERR_NAME_NOT_RESOLVED", url)
	}
	f.current = page
	f.notReady = page.NotReadyPolls
	return nil
}

// Content implements browser.Browser.
func (f *Fake) Content(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.current == nil {
		return "", errors.New("no page loaded")
	}
	return f.current.HTML, nil
}

// Evaluate implements browser.Browser. It understands the ready-state probe
// and the current page's load-more script; any other script fails.
func (f *Fake) Evaluate(ctx context.Context, script string, res any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	f.scripts = append(f.scripts, script)

	if script == browser.ReadyStateScript {
		state := "complete"
		if f.notReady > 0 {
			f.notReady--
			state = "loading"
		}
		return assign(state, res)
	}

	if f.current == nil {
		return errors.New("no page loaded")
	}
	lm := f.current.LoadMore
	if lm == nil || script != lm.Script {
		return fmt.Errorf("ReferenceError: unknown script %q", script)
	}
	if lm.FailFirst > 0 {
		lm.FailFirst--
		return ErrStale
	}
	if lm.Remaining == 0 {
		return errors.New("TypeError: nothing more to load")
	}
	lm.Remaining--
	if len(lm.Items) > 0 && lm.Container != "" {
		f.current.Elements[lm.Container] = appendChild(f.current.Elements[lm.Container], lm.Items[0])
		lm.Items = lm.Items[1:]
	}
	return assign(nil, res)
}

// ElementHTML implements browser.Browser.
func (f *Fake) ElementHTML(ctx context.Context, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.current == nil {
		return "", errors.New("no page loaded")
	}
	html, ok := f.current.Elements[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", browser.ErrElementNotFound, id)
	}
	return html, nil
}

// Visible implements browser.Browser. Only the load-more control can be
// visible; it hides once its loads are exhausted.
func (f *Fake) Visible(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.current == nil {
		return false, errors.New("no page loaded")
	}
	lm := f.current.LoadMore
	if lm != nil && lm.ID == id {
		return lm.Remaining > 0, nil
	}
	_, ok := f.current.Elements[id]
	return ok, nil
}

// Close implements browser.Browser.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	return nil
}

// Navigations returns every URL passed to Navigate, in order.
func (f *Fake) Navigations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.navigations...)
}

// Scripts returns every script passed to Evaluate, in order.
func (f *Fake) Scripts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.scripts...)
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.closed
}

// assign decodes v into res the way a JSON-returning page script would.
func assign(v, res any) error {
	if res == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, res)
}

// appendChild inserts child before the closing tag of html.
func appendChild(html, child string) string {
	for i := len(html) - 1; i >= 0; i-- {
		if html[i] == '<' {
			return html[:i] + child + html[i:]
		}
	}
	return html + child
}
