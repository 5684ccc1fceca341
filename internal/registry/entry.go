package registry

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Frequency selects the scheduler pool a watch entry belongs to.
type Frequency string

const (
	FrequencyHourly    Frequency = "hourly"
	FrequencyHalfDaily Frequency = "half_daily"
	FrequencyDaily     Frequency = "daily"
	FrequencyWeekly    Frequency = "weekly"
)

// Frequencies returns all known pool frequencies in interval order.
func Frequencies() []Frequency {
	return []Frequency{FrequencyHourly, FrequencyHalfDaily, FrequencyDaily, FrequencyWeekly}
}

// ParseFrequency converts a string into a known Frequency.
func ParseFrequency(value string) (Frequency, bool) {
	normalized := Frequency(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case FrequencyHourly, FrequencyHalfDaily, FrequencyDaily, FrequencyWeekly:
		return normalized, true
	}
	return "", false
}

// Interval returns the wall-clock spacing between checks for the pool.
func (f Frequency) Interval() time.Duration {
	switch f {
	case FrequencyHourly:
		return time.Hour
	case FrequencyHalfDaily:
		return 12 * time.Hour
	case FrequencyWeekly:
		return 7 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// Entry is one watched series. FolderName is the stable identity key and is
// immutable once chosen; SourceURLs stays sorted and never empty while the
// entry exists.
type Entry struct {
	FolderName string    `json:"series_folder_name"`
	SourceURLs []string  `json:"series_urls"`
	Library    string    `json:"library"`
	UseSolver  bool      `json:"use_solver"`
	Frequency  Frequency `json:"frequency"`
}

// Validate reports whether the entry carries every required field.
func (e Entry) Validate() error {
	if strings.TrimSpace(e.FolderName) == "" {
		return fmt.Errorf("watch entry missing folder name")
	}
	if len(e.SourceURLs) == 0 {
		return fmt.Errorf("watch entry %q has no source URLs", e.FolderName)
	}
	if strings.TrimSpace(e.Library) == "" {
		return fmt.Errorf("watch entry %q missing library", e.FolderName)
	}
	if _, ok := ParseFrequency(string(e.Frequency)); !ok {
		return fmt.Errorf("watch entry %q has unknown frequency %q", e.FolderName, e.Frequency)
	}
	return nil
}

// HasSource reports whether url is already one of the entry's sources.
func (e Entry) HasSource(url string) bool {
	for _, existing := range e.SourceURLs {
		if existing == url {
			return true
		}
	}
	return false
}

// normalizeSources trims, deduplicates, and sorts the source URL set.
func (e *Entry) normalizeSources() {
	seen := make(map[string]struct{}, len(e.SourceURLs))
	urls := make([]string, 0, len(e.SourceURLs))
	for _, raw := range e.SourceURLs {
		url := strings.TrimSpace(raw)
		if url == "" {
			continue
		}
		if _, dup := seen[url]; dup {
			continue
		}
		seen[url] = struct{}{}
		urls = append(urls, url)
	}
	sort.Strings(urls)
	e.SourceURLs = urls
}

func (e Entry) marshal() (string, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("marshal watch entry %q: %w", e.FolderName, err)
	}
	return string(raw), nil
}

func unmarshalEntry(raw string) (Entry, error) {
	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return Entry{}, fmt.Errorf("decode watch entry: %w", err)
	}
	if entry.Frequency == "" {
		entry.Frequency = FrequencyDaily
	}
	return entry, nil
}
