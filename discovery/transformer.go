package discovery

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/pevans/finharvest/browser"
	"github.com/pevans/finharvest/scraper"
)

// ErrTransformerNotFound is returned when a page carries no recognizable
// transformer identifier.
var ErrTransformerNotFound = errors.New("transformer identifier not found")

// PageContext binds a listing layout to the transformer identifier of one
// page load. The site re-randomizes the identifier on every load, so a
// PageContext must be resolved again after each navigation.
type PageContext struct {
	Transformer string
	layout      scraper.ListingConfig
}

// NewPageContext returns the context for an already known transformer.
func NewPageContext(transformer string, layout scraper.ListingConfig) *PageContext {
	return &PageContext{
		Transformer: transformer,
		layout:      layout,
	}
}

// ContainerID returns the ID of the element wrapping the listing items.
func (p *PageContext) ContainerID() string {
	return p.expand(p.layout.ContainerIDTemplate)
}

// LoadMoreID returns the ID of the "load more" control.
func (p *PageContext) LoadMoreID() string {
	return p.expand(p.layout.LoadMoreIDTemplate)
}

// LoadMoreScript returns the page script that loads the next batch.
func (p *PageContext) LoadMoreScript() string {
	return p.expand(p.layout.LoadMoreScriptTemplate)
}

func (p *PageContext) expand(template string) string {
	return strings.ReplaceAll(template, scraper.TransformerToken, p.Transformer)
}

// transformerPattern builds the matcher from the container template. Only the
// wrapper ID is matched: the bare ID is a prefix of every other variant and
// would match ambiguously.
func transformerPattern(layout scraper.ListingConfig) (*regexp.Regexp, error) {
	before, after, ok := strings.Cut(layout.ContainerIDTemplate, scraper.TransformerToken)
	if !ok {
		return nil, fmt.Errorf("container template %q has no %s placeholder", layout.ContainerIDTemplate, scraper.TransformerToken)
	}
	return regexp.Compile(regexp.QuoteMeta(before) + `(\d+)` + regexp.QuoteMeta(after))
}

// FindTransformer extracts the transformer identifier from rendered page
// content.
func FindTransformer(content string, layout scraper.ListingConfig) (string, bool) {
	re, err := transformerPattern(layout)
	if err != nil {
		return "", false
	}
	m := re.FindStringSubmatch(content)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ResolveTransformer waits for the current page to settle and resolves its
// transformer identifier.
func ResolveTransformer(ctx context.Context, b browser.Browser, layout scraper.ListingConfig, polling browser.Polling) (*PageContext, error) {
	if err := browser.WaitReady(ctx, b, polling); err != nil {
		return nil, err
	}

	content, err := b.Content(ctx)
	if err != nil {
		return nil, err
	}

	transformer, ok := FindTransformer(content, layout)
	if !ok {
		return nil, ErrTransformerNotFound
	}

	return NewPageContext(transformer, layout), nil
}
