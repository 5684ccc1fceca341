package chapters

import (
	"reflect"
	"testing"
)

func TestExtractRecordList(t *testing.T) {
	dump := []byte(`[
		{"url": "https://x.example.com/c/15", "chapter": 15, "chapter_minor": "", "manga": "Alpha"},
		{"url": "https://x.example.com/c/15-1", "chapter": 15, "chapter_minor": ".1"},
		{"url": "https://x.example.com/c/2", "chapter": 2}
	]`)

	chapters, seed := Extract(dump)
	want := []string{"Chapter 0015", "Chapter 0015.1", "Chapter 0002"}
	if !reflect.DeepEqual(Labels(chapters), want) {
		t.Fatalf("unexpected labels %v, want %v", Labels(chapters), want)
	}
	if seed.String("manga") != "Alpha" {
		t.Fatalf("expected seed record from first chapter, got %v", seed)
	}
}

func TestExtractTripleList(t *testing.T) {
	dump := []byte(`[
		[2, "https://x.example.com/c/3", {"chapter": 3}],
		[2, "https://x.example.com/c/4", {"num": "4"}]
	]`)

	chapters, _ := Extract(dump)
	want := []string{"Chapter 0003", "Chapter 0004"}
	if !reflect.DeepEqual(Labels(chapters), want) {
		t.Fatalf("unexpected labels %v, want %v", Labels(chapters), want)
	}
}

func TestExtractSingleRecord(t *testing.T) {
	dump := []byte(`{"url": "https://x.example.com/c/9", "num": 9}`)
	chapters, _ := Extract(dump)
	if len(chapters) != 1 || chapters[0].Label != "Chapter 0009" {
		t.Fatalf("unexpected chapters %v", chapters)
	}
}

func TestExtractEntriesDocument(t *testing.T) {
	dump := []byte(`{"entries": [
		{"url": "https://x.example.com/c/1", "chapter": 1},
		{"url": "https://x.example.com/c/2", "chapter": 2}
	]}`)
	chapters, _ := Extract(dump)
	if len(chapters) != 2 {
		t.Fatalf("expected two chapters, got %v", chapters)
	}
}

func TestExtractLineDelimited(t *testing.T) {
	dump := []byte(`[2, "https://x.example.com/c/5", {"chapter": 5}]
{"url": "https://x.example.com/c/6", "chapter": 6}
not json at all
`)
	chapters, _ := Extract(dump)
	want := []string{"Chapter 0005", "Chapter 0006"}
	if !reflect.DeepEqual(Labels(chapters), want) {
		t.Fatalf("unexpected labels %v, want %v", Labels(chapters), want)
	}
}

func TestExtractSkipsMalformedRecords(t *testing.T) {
	dump := []byte(`[
		{"chapter": 1},
		{"url": "https://x.example.com/c/no-ordinal"},
		{"url": "https://x.example.com/c/2", "chapter": 2}
	]`)
	chapters, _ := Extract(dump)
	if len(chapters) != 1 || chapters[0].URL != "https://x.example.com/c/2" {
		t.Fatalf("unexpected chapters %v", chapters)
	}
}

func TestExtractFractionalOrdinalNumbers(t *testing.T) {
	dump := []byte(`[{"url": "https://x.example.com/c/7-5", "num": 7.5}]`)
	chapters, _ := Extract(dump)
	if len(chapters) != 1 || chapters[0].Label != "Chapter 0007.5" {
		t.Fatalf("unexpected chapters %v", chapters)
	}
}
