package finharvest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/pevans/finharvest/browser"
	"github.com/pevans/finharvest/browser/browsertest"
	"github.com/pevans/finharvest/dataset"
	"github.com/pevans/finharvest/discovery"
	"github.com/pevans/finharvest/scraper"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	companiesBase = "https://www.finam.ru/publications/section/companies/date/"
	marketBase    = "https://www.finam.ru/publications/section/market/date/"
	reviewsFeed   = "https://www.finam.ru/analytics/rsspoint/"
)

var jan16 = time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC)

// Test helper: a listing page with one item and a control that loads one more
func listingPage(transformer, prefix string) *browsertest.Page {
	page := discovery.NewPageContext(transformer, scraper.DefaultListingConfig())
	item := func(name string) string {
		return fmt.Sprintf(`<div class="mb2x">
			<a class="cl-blue bold font-l" href="/publications/item/%[1]s/">%[1]s</a>
			<div class="font-xs cl-darkgrey mr05x"><span>Interfax</span></div>
			<div class="font-s cl-black">About %[1]s</div>
		</div>`, name)
	}
	container := fmt.Sprintf(`<div id="%s">%s</div>`, page.ContainerID(), item(prefix+"-1"))

	return &browsertest.Page{
		HTML:     "<html><body>" + container + "</body></html>",
		Elements: map[string]string{page.ContainerID(): container},
		LoadMore: &browsertest.LoadMore{
			ID:        page.LoadMoreID(),
			Script:    page.LoadMoreScript(),
			Remaining: 1,
			Container: page.ContainerID(),
			Items:     []string{item(prefix + "-2")},
		},
	}
}

// Test helper: a feed fetcher serving the RSS fixture
func staticFeed(t *testing.T) FeedFetcher {
	feed, err := ParseFeed([]byte(testRSS))
	require.NoError(t, err)
	return func(ctx context.Context, url string) (*gofeed.Feed, error) {
		return feed, nil
	}
}

func testSources() *scraper.Sources {
	return &scraper.Sources{
		Listing: scraper.DefaultListingConfig(),
		Categories: []scraper.Category{
			{Name: "companies", BaseURL: companiesBase},
			{Name: "market", BaseURL: marketBase},
		},
		Feeds: []scraper.FeedSource{
			{Name: "reviews", URL: reviewsFeed},
		},
	}
}

func testCollectorConfig() *CollectorConfig {
	return &CollectorConfig{
		Sources: testSources(),
		Polling: browser.Polling{Interval: time.Millisecond, Timeout: time.Second},
		Pagination: discovery.Pagination{
			Polling:       browser.Polling{Interval: time.Millisecond, Timeout: time.Second},
			ClickAttempts: 3,
			ClickBackoff:  time.Millisecond,
			MaxLoads:      10,
		},
		SourceTimeout: 5 * time.Second,
	}
}

func recordTitles(records []dataset.NewsRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Title)
	}
	return out
}

// TestListingURL verifies the date-partitioned page address
func TestListingURL(t *testing.T) {
	assert.Equal(t, companiesBase+"2024-01-16/", ListingURL(companiesBase, jan16))
	assert.Equal(t, "https://example.com/list/2024-01-16/", ListingURL("https://example.com/list", jan16))
}

// TestCollectDay_AllSources verifies records from every source in order
func TestCollectDay_AllSources(t *testing.T) {
	fake := browsertest.New()
	fake.Pages[ListingURL(companiesBase, jan16)] = listingPage("42", "companies")
	fake.Pages[ListingURL(marketBase, jan16)] = listingPage("977", "market")
	logger, _ := test.NewNullLogger()

	c := NewCollector(fake, staticFeed(t), testCollectorConfig(), logger)
	day := c.CollectDay(context.Background(), jan16.Add(15*time.Hour))

	assert.Equal(t, jan16, day.Date)
	assert.Equal(t,
		[]string{"companies-1", "companies-2", "market-1", "market-2", "Brent rallies"},
		recordTitles(day.Records))
	for _, r := range day.Records {
		assert.Equal(t, jan16, r.Date)
	}
	assert.Equal(t, "https://www.finam.ru/publications/item/companies-1/", day.Records[0].Link)

	require.Len(t, day.Outcomes, 3)
	assert.Equal(t, SourceOutcome{Source: "companies", Kind: KindListing, URL: companiesBase + "2024-01-16/", Records: 2, Loads: 1}, day.Outcomes[0])
	assert.Equal(t, SourceOutcome{Source: "reviews", Kind: KindFeed, URL: reviewsFeed, Records: 1}, day.Outcomes[2])
	assert.Zero(t, day.Failures())
	assert.False(t, fake.Closed(), "collector must not close the session")
}

// TestCollectDay_NavigationFailure verifies one failing category does not stop the others
func TestCollectDay_NavigationFailure(t *testing.T) {
	fake := browsertest.New()
	fake.Pages[ListingURL(companiesBase, jan16)] = listingPage("42", "companies")
	fake.NavigateErrors[ListingURL(marketBase, jan16)] = errors.New("net::ERR_CONNECTION_RESET")
	logger, hook := test.NewNullLogger()

	c := NewCollector(fake, staticFeed(t), testCollectorConfig(), logger)
	day := c.CollectDay(context.Background(), jan16)

	assert.Equal(t, []string{"companies-1", "companies-2", "Brent rallies"}, recordTitles(day.Records))
	assert.Equal(t, 1, day.Failures())
	assert.ErrorContains(t, day.Outcomes[1].Err, "ERR_CONNECTION_RESET")

	var warned bool
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel {
			warned = true
			assert.Equal(t, "market", entry.Data["source"])
			assert.Equal(t, "2024-01-16", entry.Data["date"])
		}
	}
	assert.True(t, warned, "failure should be logged")
}

// TestCollectDay_TransformerMissing verifies an identifier miss is recorded per source
func TestCollectDay_TransformerMissing(t *testing.T) {
	fake := browsertest.New()
	fake.Pages[ListingURL(companiesBase, jan16)] = &browsertest.Page{HTML: "<html><body>Captcha</body></html>"}
	fake.Pages[ListingURL(marketBase, jan16)] = listingPage("5", "market")
	logger, _ := test.NewNullLogger()

	c := NewCollector(fake, staticFeed(t), testCollectorConfig(), logger)
	day := c.CollectDay(context.Background(), jan16)

	assert.ErrorIs(t, day.Outcomes[0].Err, discovery.ErrTransformerNotFound)
	assert.Equal(t, []string{"market-1", "market-2", "Brent rallies"}, recordTitles(day.Records))
}

// TestCollectDay_FeedFailure verifies feed errors are recoverable
func TestCollectDay_FeedFailure(t *testing.T) {
	fake := browsertest.New()
	fake.Pages[ListingURL(companiesBase, jan16)] = listingPage("42", "companies")
	fake.Pages[ListingURL(marketBase, jan16)] = listingPage("43", "market")
	logger, _ := test.NewNullLogger()

	failing := func(ctx context.Context, url string) (*gofeed.Feed, error) {
		return nil, errors.New("failed to parse feed: http error: 503")
	}
	c := NewCollector(fake, failing, testCollectorConfig(), logger)
	day := c.CollectDay(context.Background(), jan16)

	assert.Len(t, day.Records, 4)
	assert.True(t, day.Outcomes[2].Failed())
}

// TestCollectDay_Panic verifies a panicking source is contained
func TestCollectDay_Panic(t *testing.T) {
	fake := browsertest.New()
	fake.Pages[ListingURL(companiesBase, jan16)] = listingPage("42", "companies")
	fake.Pages[ListingURL(marketBase, jan16)] = listingPage("43", "market")
	logger, _ := test.NewNullLogger()

	panicking := func(ctx context.Context, url string) (*gofeed.Feed, error) {
		panic("feed exploded")
	}
	c := NewCollector(fake, panicking, testCollectorConfig(), logger)
	day := c.CollectDay(context.Background(), jan16)

	assert.Len(t, day.Records, 4)
	assert.ErrorContains(t, day.Outcomes[2].Err, "feed exploded")
}

// TestCollectDay_SourceTimeout verifies a stuck page is cut off by the per-source deadline
func TestCollectDay_SourceTimeout(t *testing.T) {
	stuck := listingPage("42", "companies")
	stuck.NotReadyPolls = 1_000_000
	fake := browsertest.New()
	fake.Pages[ListingURL(companiesBase, jan16)] = stuck
	fake.Pages[ListingURL(marketBase, jan16)] = listingPage("43", "market")
	logger, _ := test.NewNullLogger()

	config := testCollectorConfig()
	config.Polling.Timeout = time.Minute
	config.SourceTimeout = 50 * time.Millisecond

	c := NewCollector(fake, staticFeed(t), config, logger)
	day := c.CollectDay(context.Background(), jan16)

	assert.ErrorIs(t, day.Outcomes[0].Err, context.DeadlineExceeded)
	assert.Equal(t, []string{"market-1", "market-2", "Brent rallies"}, recordTitles(day.Records))
}

// TestCollectDay_EmptyDay verifies a day without news is a valid empty result
func TestCollectDay_EmptyDay(t *testing.T) {
	empty := func(transformer string) *browsertest.Page {
		page := discovery.NewPageContext(transformer, scraper.DefaultListingConfig())
		container := fmt.Sprintf(`<div id="%s"></div>`, page.ContainerID())
		return &browsertest.Page{
			HTML:     container,
			Elements: map[string]string{page.ContainerID(): container},
		}
	}
	fake := browsertest.New()
	fake.Pages[ListingURL(companiesBase, jan16)] = empty("1")
	fake.Pages[ListingURL(marketBase, jan16)] = empty("2")
	logger, _ := test.NewNullLogger()

	c := NewCollector(fake, staticFeed(t), testCollectorConfig(), logger)
	day := c.CollectDay(context.Background(), time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC))

	assert.NotNil(t, day.Records)
	assert.Empty(t, day.Records)
	assert.Zero(t, day.Failures())
}

// TestCollectDay_Cancelled verifies no further sources run after cancellation
func TestCollectDay_Cancelled(t *testing.T) {
	fake := browsertest.New()
	logger, _ := test.NewNullLogger()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewCollector(fake, staticFeed(t), testCollectorConfig(), logger)
	day := c.CollectDay(ctx, jan16)

	assert.Empty(t, day.Records)
	assert.Empty(t, fake.Navigations())
}

// TestNewCollector_PartialConfig verifies unset timings take their defaults
func TestNewCollector_PartialConfig(t *testing.T) {
	sources := testSources()
	config := &CollectorConfig{Sources: sources}

	c := NewCollector(browsertest.New(), staticFeed(t), config, nil)

	assert.Same(t, sources, c.config.Sources)
	assert.Equal(t, browser.DefaultPolling(), c.config.Polling)
	assert.Equal(t, discovery.DefaultPagination(), c.config.Pagination)
	assert.Equal(t, DefaultSourceTimeout, c.config.SourceTimeout)
	assert.Zero(t, config.SourceTimeout, "the caller's config is not modified")
}

// TestCollectDay_PartialConfig verifies a partial config collects listings instead of failing them
func TestCollectDay_PartialConfig(t *testing.T) {
	fake := browsertest.New()
	fake.Pages[ListingURL(companiesBase, jan16)] = listingPage("42", "companies")
	fake.Pages[ListingURL(marketBase, jan16)] = listingPage("977", "market")
	logger, _ := test.NewNullLogger()

	config := &CollectorConfig{
		Sources:    testSources(),
		Polling:    browser.Polling{Interval: time.Millisecond},
		Pagination: discovery.Pagination{Polling: browser.Polling{Interval: time.Millisecond}},
	}
	c := NewCollector(fake, staticFeed(t), config, logger)
	day := c.CollectDay(context.Background(), jan16)

	assert.Zero(t, day.Failures())
	assert.Equal(t,
		[]string{"companies-1", "companies-2", "market-1", "market-2", "Brent rallies"},
		recordTitles(day.Records))
}
