package dataset

import (
	"fmt"
	"time"
)

// DateLayout is the on-disk format of the Date column.
const DateLayout = "2006-01-02"

// NewsRecord represents a single harvested news item. Records are appended to
// the dataset and never modified afterwards.
type NewsRecord struct {
	Link        string
	Date        time.Time
	Source      string
	Title       string
	Description string
}

// Day truncates t to its calendar date, keeping the year, month and day as
// seen in t's own location. The result is midnight UTC.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// NextDay returns the calendar date following d.
func NextDay(d time.Time) time.Time {
	return Day(d).AddDate(0, 0, 1)
}

// ParseDate parses a YYYY-MM-DD string into a calendar date.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return d, nil
}

// FormatDate formats a calendar date as YYYY-MM-DD.
func FormatDate(d time.Time) string {
	return d.Format(DateLayout)
}

// row returns the record as a dataset row in column order.
func (r NewsRecord) row() []string {
	return []string{
		r.Link,
		FormatDate(r.Date),
		r.Source,
		r.Title,
		r.Description,
	}
}
