package scrape

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Metadata holds the fields scraped from a series page. Empty fields were
// not found on the page.
type Metadata struct {
	Title       string
	Publisher   string
	Status      string
	Year        string
	Description string
	Tags        []string
}

// Merge fills empty fields of m from other without overwriting existing
// values.
func (m *Metadata) Merge(other Metadata) {
	if m.Title == "" {
		m.Title = other.Title
	}
	if m.Publisher == "" {
		m.Publisher = other.Publisher
	}
	if m.Status == "" {
		m.Status = other.Status
	}
	if m.Year == "" {
		m.Year = other.Year
	}
	if m.Description == "" {
		m.Description = other.Description
	}
	if len(m.Tags) == 0 {
		m.Tags = other.Tags
	}
}

// selectText extracts either the text content of the first match or, for
// meta tags, the content attribute.
func selectText(doc *goquery.Document, selector string) string {
	if selector == "" {
		return ""
	}
	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return ""
	}
	if goquery.NodeName(sel) == "meta" {
		content, _ := sel.Attr("content")
		return strings.TrimSpace(content)
	}
	return strings.TrimSpace(sel.Text())
}

// SeriesMetadata extracts series fields from a rendered page using the
// site's selectors.
func SeriesMetadata(html string, site *Site) (Metadata, error) {
	var meta Metadata
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return meta, err
	}
	if site == nil {
		return meta, nil
	}

	selectors := site.SeriesSelectors
	meta.Title = selectText(doc, selectors.Title)
	meta.Publisher = selectText(doc, selectors.Publisher)
	meta.Status = selectText(doc, selectors.Status)
	meta.Year = selectText(doc, selectors.Year)
	meta.Description = selectText(doc, selectors.Description)
	if selectors.Tags != "" {
		doc.Find(selectors.Tags).Each(func(_ int, sel *goquery.Selection) {
			tag := strings.TrimSpace(sel.Text())
			if tag != "" {
				meta.Tags = append(meta.Tags, tag)
			}
		})
	}
	return meta, nil
}

// CoverURL finds the cover image URL on a series page. The site selector
// is tried first, then the Open Graph image tag. Relative URLs are
// resolved against pageURL. Returns "" when nothing was found.
func CoverURL(html, pageURL string, site *Site) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	if site != nil && site.SeriesSelectors.CoverURL != "" {
		if src, ok := doc.Find(site.SeriesSelectors.CoverURL).First().Attr("src"); ok && src != "" {
			return resolveURL(pageURL, src)
		}
	}

	if content, ok := doc.Find(`meta[property="og:image"]`).First().Attr("content"); ok && content != "" {
		return content
	}
	return ""
}

func resolveURL(base, ref string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}

// NormalizeStatus maps scraped status strings onto the two values the
// library format understands.
func NormalizeStatus(status string) string {
	normalized := strings.ToLower(strings.TrimSpace(status))
	for _, marker := range []string{"continuing", "ongoing", "publishing"} {
		if strings.Contains(normalized, marker) {
			return "Continuing"
		}
	}
	for _, marker := range []string{"ended", "completed", "finished"} {
		if strings.Contains(normalized, marker) {
			return "Ended"
		}
	}
	return "Continuing"
}
