package config

import (
	"fmt"
	"os"

	"github.com/pevans/finharvest/scraper"
	"gopkg.in/yaml.v3"
)

// LoadSourcesFile loads the source catalogue from a YAML file. An empty path
// returns the built-in catalogue. Layout fields missing from the file fall
// back to the built-in Finam layout.
func LoadSourcesFile(path string) (*scraper.Sources, error) {
	if path == "" {
		return scraper.DefaultSources(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sources file: %w", err)
	}

	var sources scraper.Sources
	if err := yaml.Unmarshal(data, &sources); err != nil {
		return nil, fmt.Errorf("failed to parse sources file: %w", err)
	}

	sources.Listing.ApplyDefaults()
	if err := sources.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sources file %s: %w", path, err)
	}

	return &sources, nil
}

// WriteSourcesFile writes the built-in catalogue to path as a starting point
// for customization. It refuses to overwrite an existing file.
func WriteSourcesFile(path string) error {
	data, err := yaml.Marshal(scraper.DefaultSources())
	if err != nil {
		return fmt.Errorf("failed to marshal sources: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create sources file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write sources file: %w", err)
	}
	return f.Close()
}
