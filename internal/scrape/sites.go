// Package scrape loads per-site scraping profiles and extracts series
// metadata from rendered pages.
package scrape

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
)

// SearchSelectors locate search results on a site's search page.
type SearchSelectors struct {
	ResultsContainer string `json:"results_container"`
	ResultTitle      string `json:"result_title"`
	ResultURL        string `json:"result_url"`
	ResultCover      string `json:"result_cover"`
}

// SeriesSelectors locate metadata fields on a series page.
type SeriesSelectors struct {
	Title       string `json:"title"`
	Publisher   string `json:"publisher"`
	Status      string `json:"status"`
	Year        string `json:"year"`
	Description string `json:"description"`
	Tags        string `json:"tags"`
	CoverURL    string `json:"cover_url"`
}

// Site is one configured source site.
type Site struct {
	Name              string          `json:"name"`
	SearchURLTemplate string          `json:"search_url_template"`
	Selectors         SearchSelectors `json:"selectors"`
	SeriesSelectors   SeriesSelectors `json:"series_selectors"`
}

// SearchURL substitutes the query into the site's search template.
func (s *Site) SearchURL(term string) string {
	return strings.ReplaceAll(s.SearchURLTemplate, "{query}", url.QueryEscape(strings.TrimSpace(term)))
}

// Hostname returns the host of the site's search template.
func (s *Site) Hostname() string {
	parsed, err := url.Parse(s.SearchURLTemplate)
	if err != nil {
		return ""
	}
	return parsed.Hostname()
}

// Sites is an ordered collection of site profiles.
type Sites []Site

// LoadSites reads the sites configuration file. A missing or unreadable
// file is an error: operations that scrape must not run without profiles.
func LoadSites(path string) (Sites, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sites config: %w", err)
	}
	var sites Sites
	if err := json.Unmarshal(raw, &sites); err != nil {
		return nil, fmt.Errorf("parse sites config %s: %w", path, err)
	}
	return sites, nil
}

// SiteFor returns the site profile whose search host appears in sourceURL,
// or nil when no profile matches.
func (s Sites) SiteFor(sourceURL string) *Site {
	for i := range s {
		host := s[i].Hostname()
		if host != "" && strings.Contains(sourceURL, host) {
			return &s[i]
		}
	}
	return nil
}

// ByName returns the site with the given name, or nil.
func (s Sites) ByName(name string) *Site {
	for i := range s {
		if s[i].Name == name {
			return &s[i]
		}
	}
	return nil
}

// Names lists the configured site names in order.
func (s Sites) Names() []string {
	names := make([]string, 0, len(s))
	for i := range s {
		names = append(names, s[i].Name)
	}
	return names
}
