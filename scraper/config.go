package scraper

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// TransformerToken is the placeholder for the per-page-load random number in
// ListingConfig templates.
const TransformerToken = "{transformer}"

// Sources is the catalogue of everything harvested for one date.
type Sources struct {
	Listing    ListingConfig `yaml:"listing"`
	Categories []Category    `yaml:"categories"`
	Feeds      []FeedSource  `yaml:"feeds"`
}

// Category is a date-partitioned listing section. The page for a date lives
// at BaseURL followed by the date and a slash.
type Category struct {
	Name    string `yaml:"name"`
	BaseURL string `yaml:"base_url"`
}

// FeedSource is an RSS or Atom feed filtered by publication date.
type FeedSource struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// ListingConfig describes how listing pages are laid out. ID and script
// templates contain TransformerToken; class sets are space-separated tokens
// matched as a superset against an element's class attribute.
type ListingConfig struct {
	ContainerIDTemplate    string `yaml:"container_id"`
	LoadMoreIDTemplate     string `yaml:"load_more_id"`
	LoadMoreScriptTemplate string `yaml:"load_more_script"`

	ItemClass           string `yaml:"item_class"`
	TitleClasses        string `yaml:"title_classes"`
	SourceClasses       string `yaml:"source_classes"`
	SourceLabelSelector string `yaml:"source_label_selector"`
	DescriptionClasses  string `yaml:"description_classes"`
}

// DefaultListingConfig returns the layout of the Finam publication listings.
func DefaultListingConfig() ListingConfig {
	return ListingConfig{
		ContainerIDTemplate:    "finfin-local-plugin-block-item-publication-list-transformer-" + TransformerToken + "-wrapper",
		LoadMoreIDTemplate:     "finfin-local-plugin-block-item-publication-list-transformer-" + TransformerToken + "-load",
		LoadMoreScriptTemplate: "finfin.local.plugin_block_item_publication_list_transformer_" + TransformerToken + ".more.load(this)",

		ItemClass:           "mb2x",
		TitleClasses:        "cl-blue bold font-l",
		SourceClasses:       "font-xs cl-darkgrey mr05x",
		SourceLabelSelector: "span",
		DescriptionClasses:  "font-s cl-black",
	}
}

// DefaultSources returns the built-in catalogue: four Finam publication
// sections and the "reviews and ideas" feed.
func DefaultSources() *Sources {
	return &Sources{
		Listing: DefaultListingConfig(),
		Categories: []Category{
			{Name: "Новости компаний", BaseURL: "https://www.finam.ru/publications/section/companies/date/"},
			{Name: "Новости и комментарии", BaseURL: "https://www.finam.ru/publications/section/market/date/"},
			{Name: "Сценарии и прогнозы", BaseURL: "https://www.finam.ru/publications/section/forecasts/date/"},
			{Name: "Новости международных рынков", BaseURL: "https://www.finam.ru/publications/section/international/date/"},
		},
		Feeds: []FeedSource{
			{Name: "Обзор и идеи", URL: "https://www.finam.ru/analytics/rsspoint/"},
		},
	}
}

// ApplyDefaults fills empty layout fields from DefaultListingConfig.
func (l *ListingConfig) ApplyDefaults() {
	d := DefaultListingConfig()
	fill := func(field *string, def string) {
		if strings.TrimSpace(*field) == "" {
			*field = def
		}
	}

	fill(&l.ContainerIDTemplate, d.ContainerIDTemplate)
	fill(&l.LoadMoreIDTemplate, d.LoadMoreIDTemplate)
	fill(&l.LoadMoreScriptTemplate, d.LoadMoreScriptTemplate)
	fill(&l.ItemClass, d.ItemClass)
	fill(&l.TitleClasses, d.TitleClasses)
	fill(&l.SourceClasses, d.SourceClasses)
	fill(&l.SourceLabelSelector, d.SourceLabelSelector)
	fill(&l.DescriptionClasses, d.DescriptionClasses)
}

// Validate checks the catalogue for missing names, bad URLs and templates
// without a transformer placeholder.
func (s *Sources) Validate() error {
	var errs []error

	if len(s.Categories) == 0 && len(s.Feeds) == 0 {
		errs = append(errs, errors.New("no categories or feeds configured"))
	}

	for i, c := range s.Categories {
		if c.Name == "" {
			errs = append(errs, fmt.Errorf("category %d: name is required", i))
		}
		if err := validateURL(c.BaseURL); err != nil {
			errs = append(errs, fmt.Errorf("category %q: %w", c.Name, err))
		}
	}

	for i, f := range s.Feeds {
		if f.Name == "" {
			errs = append(errs, fmt.Errorf("feed %d: name is required", i))
		}
		if err := validateURL(f.URL); err != nil {
			errs = append(errs, fmt.Errorf("feed %q: %w", f.Name, err))
		}
	}

	if len(s.Categories) > 0 {
		templates := map[string]string{
			"container_id":     s.Listing.ContainerIDTemplate,
			"load_more_id":     s.Listing.LoadMoreIDTemplate,
			"load_more_script": s.Listing.LoadMoreScriptTemplate,
		}
		for _, name := range []string{"container_id", "load_more_id", "load_more_script"} {
			if strings.Count(templates[name], TransformerToken) != 1 {
				errs = append(errs, fmt.Errorf("listing %s must contain %s exactly once", name, TransformerToken))
			}
		}
		if strings.TrimSpace(s.Listing.ItemClass) == "" {
			errs = append(errs, errors.New("listing item_class is required"))
		}
	}

	return errors.Join(errs...)
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid url %q: must use http or https scheme", raw)
	}
	return nil
}
