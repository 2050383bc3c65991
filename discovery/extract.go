package discovery

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/pevans/finharvest/dataset"
	"github.com/pevans/finharvest/scraper"
)

// HasClasses reports whether classAttr contains every class in want. Order
// does not matter and extra classes are allowed; an empty want never matches.
func HasClasses(classAttr string, want []string) bool {
	if len(want) == 0 {
		return false
	}

	have := strings.Fields(classAttr)
	for _, class := range want {
		if !slices.Contains(have, class) {
			return false
		}
	}
	return true
}

// FindMultiClass returns the descendants of sel whose class attribute
// carries every space-separated class in classes. The site decorates its
// elements with extra classes, so an exact class match would miss them.
func FindMultiClass(sel *goquery.Selection, classes string) *goquery.Selection {
	want := strings.Fields(classes)
	return sel.Find("[class]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return HasClasses(s.AttrOr("class", ""), want)
	})
}

// ExtractItems parses the HTML of an expanded listing container into news
// records for date. Relative links are resolved against pageURL. Fields that
// cannot be found are left empty; the record is still returned.
func ExtractItems(containerHTML string, layout scraper.ListingConfig, pageURL string, date time.Time) ([]dataset.NewsRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(containerHTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		base = nil
	}

	day := dataset.Day(date)
	records := []dataset.NewsRecord{}
	FindMultiClass(doc.Selection, layout.ItemClass).Each(func(_ int, item *goquery.Selection) {
		records = append(records, extractItem(item, layout, base, day))
	})

	return records, nil
}

func extractItem(item *goquery.Selection, layout scraper.ListingConfig, base *url.URL, day time.Time) dataset.NewsRecord {
	record := dataset.NewsRecord{Date: day}

	// Title and link: the first anchor with visible text
	anchor := FindMultiClass(item, layout.TitleClasses).FilterFunction(func(_ int, s *goquery.Selection) bool {
		return goquery.NodeName(s) == "a" && normalizeSpace(s.Text()) != ""
	}).First()
	if anchor.Length() > 0 {
		record.Title = normalizeSpace(anchor.Text())
		record.Link = resolveLink(base, anchor.AttrOr("href", ""))
	}

	// Source: a label nested in the source block
	label := FindMultiClass(item, layout.SourceClasses).First().Find(layout.SourceLabelSelector).First()
	record.Source = normalizeSpace(label.Text())

	// Description: markup converted to plain text
	if html, err := FindMultiClass(item, layout.DescriptionClasses).First().Html(); err == nil {
		record.Description = HTMLToText(html)
	}

	return record
}

// resolveLink makes href absolute relative to base. Unparseable links are
// returned as-is.
func resolveLink(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || base == nil {
		return href
	}

	u, err := base.Parse(href)
	if err != nil {
		return href
	}
	return u.String()
}
