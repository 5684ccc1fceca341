package chapters

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// SeedRecord is the raw metadata record of the first chapter seen during
// discovery. Discovery tools attach series level fields (name, publisher,
// release year, cover) to every chapter record, so the first one seeds
// the series metadata document.
type SeedRecord map[string]any

// String returns the first non-empty string value among the given keys.
func (r SeedRecord) String(keys ...string) string {
	for _, key := range keys {
		if value, ok := r[key]; ok {
			switch v := value.(type) {
			case string:
				if strings.TrimSpace(v) != "" {
					return v
				}
			case float64:
				return strings.TrimSuffix(fmt.Sprintf("%v", v), ".0")
			}
		}
	}
	return ""
}

// Extract parses a discovery metadata dump. Dumps come in several shapes
// depending on the tool's extractor: a single record, a list of records,
// a list of [type, url, record] triples, or line-delimited JSON. All
// shapes funnel through the same record handling, so labeling and
// deduplication behave identically regardless of source.
func Extract(dump []byte) ([]Chapter, SeedRecord) {
	var chapters []Chapter
	var seed SeedRecord

	appendRecord := func(record map[string]any) {
		if record == nil {
			return
		}
		if seed == nil {
			seed = SeedRecord(record)
		}
		chapter, ok := chapterFromRecord(record)
		if !ok {
			return
		}
		chapters = append(chapters, chapter)
	}

	var document any
	if err := json.Unmarshal(dump, &document); err != nil {
		// Not one document; try line-delimited JSON.
		scanner := bufio.NewScanner(bytes.NewReader(dump))
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var lineDoc any
			if err := json.Unmarshal(line, &lineDoc); err != nil {
				continue
			}
			walkDocument(lineDoc, appendRecord)
		}
		return chapters, seed
	}

	walkDocument(document, appendRecord)
	return chapters, seed
}

func walkDocument(document any, appendRecord func(map[string]any)) {
	switch doc := document.(type) {
	case []any:
		if len(doc) == 0 {
			return
		}
		if triple, ok := asTriple(doc); ok {
			appendRecord(triple)
			return
		}
		for _, item := range doc {
			switch entry := item.(type) {
			case []any:
				if triple, ok := asTriple(entry); ok {
					appendRecord(triple)
				}
			case map[string]any:
				appendRecord(entry)
			}
		}
	case map[string]any:
		if entries, ok := doc["entries"].([]any); ok {
			for _, item := range entries {
				if record, ok := item.(map[string]any); ok {
					appendRecord(record)
				}
			}
			return
		}
		appendRecord(doc)
	}
}

// asTriple recognizes the [type, url, record] shape and folds the url
// into the record.
func asTriple(items []any) (map[string]any, bool) {
	if len(items) < 3 {
		return nil, false
	}
	url, ok := items[1].(string)
	if !ok {
		return nil, false
	}
	record, ok := items[2].(map[string]any)
	if !ok {
		return nil, false
	}
	record["url"] = url
	return record, true
}

// chapterFromRecord derives the chapter URL and label from one record.
// Records missing either the url or an ordinal are skipped.
func chapterFromRecord(record map[string]any) (Chapter, bool) {
	url, _ := record["url"].(string)
	if url == "" {
		return Chapter{}, false
	}

	ordinal := ordinalFromRecord(record)
	if ordinal == "" {
		return Chapter{}, false
	}
	return Chapter{URL: url, Label: Label(ordinal)}, true
}

// ordinalFromRecord prefers the major/minor chapter pair, concatenating
// the minor part verbatim, and falls back to the generic ordinal field.
func ordinalFromRecord(record map[string]any) string {
	if major, ok := record["chapter"]; ok && major != nil {
		majorStr := numericString(major)
		if minor, ok := record["chapter_minor"]; ok && minor != nil {
			minorStr := strings.TrimSpace(numericString(minor))
			if minorStr != "" {
				return majorStr + minorStr
			}
		}
		return majorStr
	}
	if num, ok := record["num"]; ok && num != nil {
		return numericString(num)
	}
	return ""
}

// numericString renders JSON numbers without a trailing ".0" so integer
// ordinals keep their plain form.
func numericString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
