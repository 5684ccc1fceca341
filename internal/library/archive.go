package library

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ComicInfo is the chapter sidecar document bundled into each archive.
type ComicInfo struct {
	XMLName xml.Name `xml:"ComicInfo"`
	XSINS   string   `xml:"xmlns:xsi,attr"`
	XSDNS   string   `xml:"xmlns:xsd,attr"`
	Title   string   `xml:"Title"`
}

// WriteComicInfo writes a ComicInfo.xml sidecar into a chapter directory.
func WriteComicInfo(chapterDir, title string) error {
	info := ComicInfo{
		XSINS: "http://www.w3.org/2001/XMLSchema-instance",
		XSDNS: "http://www.w3.org/2001/XMLSchema",
		Title: title,
	}
	raw, err := xml.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal comic info: %w", err)
	}
	payload := append([]byte(xml.Header), raw...)
	if err := os.WriteFile(filepath.Join(chapterDir, "ComicInfo.xml"), payload, 0o644); err != nil {
		return fmt.Errorf("write comic info: %w", err)
	}
	return nil
}

// PackArchive zips the contents of chapterDir into destPath. Entry names
// are relative to chapterDir. The destination is written atomically via a
// temp file so readers never see a partial archive.
func PackArchive(chapterDir, destPath string) error {
	tmpPath := destPath + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}

	writer := zip.NewWriter(out)
	walkErr := filepath.Walk(chapterDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(chapterDir, path)
		if err != nil {
			return err
		}
		entry, err := writer.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()
		_, err = io.Copy(entry, file)
		return err
	})

	if walkErr != nil {
		_ = writer.Close()
		_ = out.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("pack archive: %w", walkErr)
	}
	if err := writer.Close(); err != nil {
		_ = out.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("finalize archive: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close archive: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("move archive into place: %w", err)
	}
	return nil
}
