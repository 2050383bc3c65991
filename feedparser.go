package finharvest

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/pevans/finharvest/dataset"
	"github.com/pevans/finharvest/discovery"
)

// publishedLayouts are tried in order against the raw timestamp of a feed
// entry. gofeed normalizes parsed times, which can lose the offset the
// publisher used; the entry's calendar date depends on that offset.
var publishedLayouts = []string{
	time.RFC1123Z,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	time.RFC3339,
	time.RFC822Z,
	"2006-01-02 15:04:05 -0700",
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 MST",
	time.RFC822,
}

// FetchFeed downloads and parses an RSS or Atom feed from the given URL. A
// nil client falls back to gofeed's default.
func FetchFeed(ctx context.Context, client *http.Client, url, userAgent string) (*gofeed.Feed, error) {
	fp := gofeed.NewParser()
	fp.Client = client
	if userAgent != "" {
		fp.UserAgent = userAgent
	}

	feed, err := fp.ParseURLWithContext(url, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}
	return feed, nil
}

// ParseFeed parses raw RSS or Atom content.
func ParseFeed(data []byte) (*gofeed.Feed, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}
	return feed, nil
}

// FeedItemToRecord converts a feed entry to a NewsRecord. The returned time
// is the published instant in the publisher's own location. ok is false when
// the entry carries no usable timestamp.
func FeedItemToRecord(item *gofeed.Item) (record dataset.NewsRecord, published time.Time, ok bool) {
	published, ok = publishedAt(item)
	if !ok {
		return dataset.NewsRecord{}, time.Time{}, false
	}

	// Summary: <description> (RSS) or <summary> (Atom), with the full
	// content as a fallback
	summary := item.Description
	if strings.TrimSpace(summary) == "" {
		summary = item.Content
	}

	record = dataset.NewsRecord{
		Link:        strings.TrimSpace(item.Link),
		Date:        dataset.Day(published),
		Source:      itemAuthor(item),
		Title:       strings.Join(strings.Fields(item.Title), " "),
		Description: discovery.HTMLToText(summary),
	}
	return record, published, true
}

// FeedRecordsForDate returns the records of the entries published on the
// calendar date of date. The comparison is made in each entry's own
// location, so an entry stamped 01:30 +03:00 belongs to that local day
// even though it is the previous day in UTC.
func FeedRecordsForDate(feed *gofeed.Feed, date time.Time) []dataset.NewsRecord {
	target := dataset.Day(date)
	records := []dataset.NewsRecord{}
	if feed == nil {
		return records
	}

	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		record, published, ok := FeedItemToRecord(item)
		if !ok || !dataset.Day(published).Equal(target) {
			continue
		}
		records = append(records, record)
	}
	return records
}

// itemAuthor returns the first author name: <author> (RSS/Atom), then any of
// the structured Atom authors, then Dublin Core <dc:creator>.
func itemAuthor(item *gofeed.Item) string {
	if item.Author != nil && strings.TrimSpace(item.Author.Name) != "" {
		return strings.TrimSpace(item.Author.Name)
	}
	for _, author := range item.Authors {
		if author != nil && strings.TrimSpace(author.Name) != "" {
			return strings.TrimSpace(author.Name)
		}
	}
	if item.DublinCoreExt != nil {
		for _, creator := range item.DublinCoreExt.Creator {
			if strings.TrimSpace(creator) != "" {
				return strings.TrimSpace(creator)
			}
		}
	}
	return ""
}

func publishedAt(item *gofeed.Item) (time.Time, bool) {
	for _, raw := range []string{item.Published, item.Updated} {
		if t, ok := parseTimestamp(raw); ok {
			return t, true
		}
	}

	if item.PublishedParsed != nil {
		return *item.PublishedParsed, true
	}
	if item.UpdatedParsed != nil {
		return *item.UpdatedParsed, true
	}
	return time.Time{}, false
}

func parseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}

	for _, layout := range publishedLayouts {
		t, err := time.Parse(layout, raw)
		if err != nil {
			continue
		}
		// time.Parse invents a zero offset for zone abbreviations it does
		// not know (MSK, EET, ...); resolve the ones publishers use and
		// leave the rest to gofeed
		if name, offset := t.Zone(); offset == 0 && strings.Contains(layout, "MST") && !isUTC(name) {
			loc := abbreviationLocation(name)
			if loc == nil {
				continue
			}
			if t, err = time.ParseInLocation(layout, raw, loc); err != nil {
				continue
			}
		}
		return t, true
	}
	return time.Time{}, false
}

// zoneAbbreviations maps abbreviations seen in feeds to their zone and the
// offset used when the zone database is unavailable.
var zoneAbbreviations = map[string]struct {
	name   string
	offset int
}{
	"MSK": {"Europe/Moscow", 3 * 60 * 60},
}

func abbreviationLocation(abbr string) *time.Location {
	zone, ok := zoneAbbreviations[strings.ToUpper(abbr)]
	if !ok {
		return nil
	}
	if loc, err := time.LoadLocation(zone.name); err == nil {
		return loc
	}
	return time.FixedZone(abbr, zone.offset)
}

func isUTC(zone string) bool {
	switch zone {
	case "UTC", "GMT", "UT", "Z":
		return true
	}
	return false
}
