// Package library manages the on-disk layout of a series: its folder,
// the series.json metadata document, cover image, and chapter archives.
package library

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"tankobon/internal/textutil"
)

const (
	// SeriesJSONName is the metadata document file name inside a series
	// folder.
	SeriesJSONName = "series.json"
	// CoverFileName is the cover image file name inside a series folder.
	CoverFileName = "cover.jpg"
	// ArchiveExt is the chapter archive extension.
	ArchiveExt = ".cbz"

	seriesJSONVersion = "1.0.2"
)

// SeriesMetadata is the metadata block of a series.json document.
type SeriesMetadata struct {
	Type                 string `json:"type"`
	Publisher            string `json:"publisher"`
	Name                 string `json:"name"`
	Year                 int    `json:"year"`
	DescriptionText      string `json:"description_text"`
	DescriptionFormatted string `json:"description_formatted"`
	BookType             string `json:"booktype"`
	ComicImage           string `json:"comic_image"`
	TotalIssues          int    `json:"total_issues"`
	Status               string `json:"status"`
}

// SeriesDocument is the top level series.json structure.
type SeriesDocument struct {
	Version  string         `json:"version"`
	Metadata SeriesMetadata `json:"metadata"`
}

// NewSeriesDocument builds a document with the fixed format fields set.
func NewSeriesDocument(meta SeriesMetadata) SeriesDocument {
	if meta.Type == "" {
		meta.Type = "comicSeries"
	}
	if meta.BookType == "" {
		meta.BookType = "Webtoon"
	}
	return SeriesDocument{Version: seriesJSONVersion, Metadata: meta}
}

// SeriesPath returns the folder of a series inside a library root.
func SeriesPath(libraryRoot, folderName string) string {
	return filepath.Join(libraryRoot, folderName)
}

// SeriesJSONPath returns the metadata document path for a series folder.
func SeriesJSONPath(seriesPath string) string {
	return filepath.Join(seriesPath, SeriesJSONName)
}

// WriteSeriesJSON persists the document into the series folder.
func WriteSeriesJSON(seriesPath string, doc SeriesDocument) error {
	raw, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal series document: %w", err)
	}
	if err := os.WriteFile(SeriesJSONPath(seriesPath), raw, 0o644); err != nil {
		return fmt.Errorf("write series document: %w", err)
	}
	return nil
}

// ReadSeriesJSON loads the metadata document of a series folder. Returns
// nil when the document does not exist.
func ReadSeriesJSON(seriesPath string) (*SeriesDocument, error) {
	raw, err := os.ReadFile(SeriesJSONPath(seriesPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read series document: %w", err)
	}
	var doc SeriesDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse series document: %w", err)
	}
	return &doc, nil
}

// HasSeriesJSON reports whether a series folder already carries a
// metadata document.
func HasSeriesJSON(seriesPath string) bool {
	_, err := os.Stat(SeriesJSONPath(seriesPath))
	return err == nil
}

// DownloadedChapters returns the set of sanitized chapter names that
// already exist as archives in the series folder. A missing folder yields
// an empty set.
func DownloadedChapters(seriesPath string) (map[string]struct{}, error) {
	entries, err := os.ReadDir(seriesPath)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]struct{}{}, nil
		}
		return nil, fmt.Errorf("read series folder: %w", err)
	}
	downloaded := make(map[string]struct{})
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ArchiveExt) {
			continue
		}
		downloaded[strings.TrimSuffix(name, ArchiveExt)] = struct{}{}
	}
	return downloaded, nil
}

// MissingChapters returns the labels whose sanitized form has no archive
// in downloaded, preserving input order.
func MissingChapters(labels []string, downloaded map[string]struct{}) []string {
	var missing []string
	for _, label := range labels {
		if _, ok := downloaded[textutil.SanitizeFileName(label)]; !ok {
			missing = append(missing, label)
		}
	}
	return missing
}

// ArchivePath returns the destination archive path for a chapter label.
func ArchivePath(seriesPath, label string) string {
	return filepath.Join(seriesPath, textutil.SanitizeFileName(label)+ArchiveExt)
}
