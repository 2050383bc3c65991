package finharvest

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/pevans/finharvest/browser"
	"github.com/pevans/finharvest/dataset"
	"github.com/pevans/finharvest/discovery"
	"github.com/pevans/finharvest/scraper"
	"github.com/sirupsen/logrus"
)

// Source kinds recorded in a SourceOutcome.
const (
	KindListing = "listing"
	KindFeed    = "feed"
)

const (
	// DefaultSourceTimeout bounds the time spent on one source for one date.
	DefaultSourceTimeout = 10 * time.Minute
	// DefaultUserAgent identifies the harvester to feed servers.
	DefaultUserAgent = "finharvest/1.0"
)

// FeedFetcher downloads and parses the feed at url.
type FeedFetcher func(ctx context.Context, url string) (*gofeed.Feed, error)

// HTTPFeedFetcher returns a FeedFetcher that downloads feeds over HTTP.
func HTTPFeedFetcher(client *http.Client, userAgent string) FeedFetcher {
	return func(ctx context.Context, url string) (*gofeed.Feed, error) {
		return FetchFeed(ctx, client, url, userAgent)
	}
}

// SourceOutcome is the result of collecting one source for one date.
type SourceOutcome struct {
	Source  string
	Kind    string
	URL     string
	Records int
	Loads   int
	Err     error
}

// Failed reports whether the source contributed nothing because of an error.
func (o SourceOutcome) Failed() bool {
	return o.Err != nil
}

// DayResult holds everything collected for one date.
type DayResult struct {
	Date     time.Time
	Records  []dataset.NewsRecord
	Outcomes []SourceOutcome
}

// Failures returns the number of sources that failed.
func (d *DayResult) Failures() int {
	n := 0
	for _, o := range d.Outcomes {
		if o.Failed() {
			n++
		}
	}
	return n
}

// CollectorConfig configures a Collector.
type CollectorConfig struct {
	Sources       *scraper.Sources
	Polling       browser.Polling
	Pagination    discovery.Pagination
	SourceTimeout time.Duration
}

// DefaultCollectorConfig returns the built-in catalogue with default timings.
func DefaultCollectorConfig() *CollectorConfig {
	return &CollectorConfig{
		Sources:       scraper.DefaultSources(),
		Polling:       browser.DefaultPolling(),
		Pagination:    discovery.DefaultPagination(),
		SourceTimeout: DefaultSourceTimeout,
	}
}

func (c CollectorConfig) withDefaults() *CollectorConfig {
	if c.Sources == nil {
		c.Sources = scraper.DefaultSources()
	}
	c.Polling = c.Polling.WithDefaults()
	c.Pagination = c.Pagination.WithDefaults()
	if c.SourceTimeout <= 0 {
		c.SourceTimeout = DefaultSourceTimeout
	}
	return &c
}

// Collector gathers the records of every configured source for a single
// date. It drives the browser session it is given but never closes it.
type Collector struct {
	browser   browser.Browser
	fetchFeed FeedFetcher
	config    *CollectorConfig
	log       logrus.FieldLogger
}

// NewCollector creates a collector. A nil fetchFeed downloads feeds with the
// default HTTP client; a nil config uses DefaultCollectorConfig, and unset
// fields of a partial config take their defaults.
func NewCollector(b browser.Browser, fetchFeed FeedFetcher, config *CollectorConfig, log logrus.FieldLogger) *Collector {
	cfg := DefaultCollectorConfig()
	if config != nil {
		cfg = config.withDefaults()
	}
	if fetchFeed == nil {
		fetchFeed = HTTPFeedFetcher(&http.Client{Timeout: time.Minute}, DefaultUserAgent)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &Collector{
		browser:   b,
		fetchFeed: fetchFeed,
		config:    cfg,
		log:       log,
	}
}

// ListingURL returns the listing page of a category for date.
func ListingURL(baseURL string, date time.Time) string {
	return strings.TrimSuffix(baseURL, "/") + "/" + dataset.FormatDate(date) + "/"
}

// CollectDay collects every listing category and then every feed for date.
// A failing source is logged and recorded in its outcome; the remaining
// sources still run. Records keep source order.
func (c *Collector) CollectDay(ctx context.Context, date time.Time) *DayResult {
	day := dataset.Day(date)
	result := &DayResult{
		Date:    day,
		Records: []dataset.NewsRecord{},
	}
	log := c.log.WithField("date", dataset.FormatDate(day))

	for _, category := range c.config.Sources.Categories {
		if ctx.Err() != nil {
			return result
		}

		pageURL := ListingURL(category.BaseURL, day)
		outcome := SourceOutcome{Source: category.Name, Kind: KindListing, URL: pageURL}
		records := c.runSource(ctx, log, &outcome, func(ctx context.Context) ([]dataset.NewsRecord, int, error) {
			return c.collectListing(ctx, pageURL, day)
		})
		result.Records = append(result.Records, records...)
		result.Outcomes = append(result.Outcomes, outcome)
	}

	for _, feed := range c.config.Sources.Feeds {
		if ctx.Err() != nil {
			return result
		}

		outcome := SourceOutcome{Source: feed.Name, Kind: KindFeed, URL: feed.URL}
		records := c.runSource(ctx, log, &outcome, func(ctx context.Context) ([]dataset.NewsRecord, int, error) {
			return c.collectFeed(ctx, feed.URL, day)
		})
		result.Records = append(result.Records, records...)
		result.Outcomes = append(result.Outcomes, outcome)
	}

	return result
}

// runSource runs collect under the per-source deadline and turns errors and
// panics into the outcome.
func (c *Collector) runSource(
	ctx context.Context,
	log logrus.FieldLogger,
	outcome *SourceOutcome,
	collect func(context.Context) ([]dataset.NewsRecord, int, error),
) []dataset.NewsRecord {
	log = log.WithFields(logrus.Fields{
		"source": outcome.Source,
		"kind":   outcome.Kind,
	})

	ctx, cancel := context.WithTimeout(ctx, c.config.SourceTimeout)
	defer cancel()

	records, loads, err := guard(ctx, collect)
	outcome.Loads = loads
	if err != nil {
		outcome.Err = err
		log.WithError(err).WithField("url", outcome.URL).Warn("Source failed")
		return nil
	}

	outcome.Records = len(records)
	log.WithFields(logrus.Fields{
		"records": len(records),
		"loads":   loads,
	}).Info("Source collected")
	return records
}

func guard(
	ctx context.Context,
	collect func(context.Context) ([]dataset.NewsRecord, int, error),
) (records []dataset.NewsRecord, loads int, err error) {
	defer func() {
		if r := recover(); r != nil {
			records, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return collect(ctx)
}

func (c *Collector) collectListing(ctx context.Context, pageURL string, day time.Time) ([]dataset.NewsRecord, int, error) {
	if err := c.browser.Navigate(ctx, pageURL); err != nil {
		return nil, 0, fmt.Errorf("failed to navigate: %w", err)
	}

	// The identifier changes on every load, so it is resolved after each
	// navigation
	page, err := discovery.ResolveTransformer(ctx, c.browser, c.config.Sources.Listing, c.config.Polling)
	if err != nil {
		return nil, 0, err
	}

	loads, err := discovery.ExpandListing(ctx, c.browser, page, c.config.Pagination)
	if err != nil {
		return nil, loads, fmt.Errorf("failed to expand listing: %w", err)
	}

	containerHTML, err := c.browser.ElementHTML(ctx, page.ContainerID())
	if err != nil {
		return nil, loads, fmt.Errorf("failed to read container %s: %w", page.ContainerID(), err)
	}

	records, err := discovery.ExtractItems(containerHTML, c.config.Sources.Listing, pageURL, day)
	if err != nil {
		return nil, loads, fmt.Errorf("failed to extract items: %w", err)
	}
	return records, loads, nil
}

func (c *Collector) collectFeed(ctx context.Context, url string, day time.Time) ([]dataset.NewsRecord, int, error) {
	feed, err := c.fetchFeed(ctx, url)
	if err != nil {
		return nil, 0, err
	}
	return FeedRecordsForDate(feed, day), 0, nil
}
