package convert

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"go-manga-download/internal/models"
)

// CBZConverter packs page files into a comic book zip archive. Page bytes go
// in exactly as downloaded, deflate-compressed but never re-encoded.
type CBZConverter struct{}

func (c *CBZConverter) Ext() string { return ".cbz" }

func (c *CBZConverter) Convert(chapterID, chapterDir string, pages []models.Page, outPath string) error {
	ordered, err := orderedPages(chapterID, models.FormatCBZ, chapterDir, pages)
	if err != nil {
		return err
	}

	err = writeAtomic(outPath, func(f *os.File) error {
		zw := zip.NewWriter(f)
		for _, p := range ordered {
			if err := addPageToZip(zw, chapterDir, p); err != nil {
				_ = zw.Close()
				return &ConversionError{ChapterID: chapterID, Format: models.FormatCBZ, Page: p.Index, Err: err}
			}
		}
		if err := zw.Close(); err != nil {
			return &ConversionError{ChapterID: chapterID, Format: models.FormatCBZ, Err: fmt.Errorf("finalizing archive: %w", err)}
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Debugf("Packed %d pages of chapter %s into %s", len(ordered), chapterID, outPath)
	return nil
}

func addPageToZip(zw *zip.Writer, chapterDir string, p models.Page) error {
	src, err := os.Open(filepath.Join(chapterDir, p.Filename()))
	if err != nil {
		return fmt.Errorf("opening page file: %w", err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("stating page file: %w", err)
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("building zip header: %w", err)
	}
	hdr.Name = p.Filename()
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("creating zip entry: %w", err)
	}
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("writing zip entry: %w", err)
	}
	return nil
}
