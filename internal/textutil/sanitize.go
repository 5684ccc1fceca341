// Package textutil provides text helpers for filesystem-safe names and
// human-readable site labels.
package textutil

import (
	"net/url"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// SanitizeFileName reduces a title or chapter label to a filesystem-safe name.
// The input is NFKC-normalized, then filtered to letters, digits, spaces,
// periods, underscores, and hyphens. The result is trimmed of surrounding
// whitespace.
//
// Archive names and the missing-chapter delta both go through this function,
// so it must stay stable: changing it orphans previously downloaded archives.
func SanitizeFileName(name string) string {
	normalized := norm.NFKC.String(name)
	var b strings.Builder
	b.Grow(len(normalized))
	for _, r := range normalized {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == ' ' || r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// DisplaySiteName derives a clean, human-readable site name from a URL,
// e.g. "https://www.some-site.org/title/x" becomes "Some Site".
func DisplaySiteName(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Hostname() == "" {
		return rawURL
	}
	hostname := strings.TrimPrefix(parsed.Hostname(), "www.")
	parts := strings.Split(hostname, ".")
	domain := parts[0]
	if len(parts) > 1 {
		domain = parts[len(parts)-2]
	}
	words := strings.Split(strings.ReplaceAll(domain, "-", " "), " ")
	for i, word := range words {
		if word == "" {
			continue
		}
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}
