package convert

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go-manga-download/internal/models"
)

// ConversionError reports a failed chapter conversion. Page is the index of
// the offending page, or 0 when the failure is not tied to a single page.
type ConversionError struct {
	ChapterID string
	Format    models.Format
	Page      int
	Err       error
}

func (e *ConversionError) Error() string {
	if e.Page > 0 {
		return fmt.Sprintf("converting chapter %s to %s: page %d: %v", e.ChapterID, e.Format, e.Page, e.Err)
	}
	return fmt.Sprintf("converting chapter %s to %s: %v", e.ChapterID, e.Format, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// Converter assembles a chapter's downloaded pages into a single output file.
// Implementations must be safe for concurrent use across chapters.
type Converter interface {
	// Ext is the output file extension, including the dot.
	Ext() string
	// Convert writes the archive for the given pages, which are read from
	// chapterDir. The output appears at outPath atomically or not at all.
	Convert(chapterID, chapterDir string, pages []models.Page, outPath string) error
}

// For returns the converter for a format. FormatImages returns a nil
// converter: raw pages on disk are already the final output. The format set
// is closed; anything else is a configuration error.
func For(f models.Format) (Converter, error) {
	switch f {
	case models.FormatImages:
		return nil, nil
	case models.FormatCBZ:
		return &CBZConverter{}, nil
	case models.FormatPDF:
		return &PDFConverter{JPEGQuality: 90}, nil
	}
	return nil, fmt.Errorf("no converter for format %q", f)
}

// orderedPages validates and sorts the page list for conversion: indices
// must be unique and contiguous from 1, and every page file must exist.
// Conversion never guesses around holes.
func orderedPages(chapterID string, format models.Format, chapterDir string, pages []models.Page) ([]models.Page, error) {
	if len(pages) == 0 {
		return nil, &ConversionError{ChapterID: chapterID, Format: format, Err: fmt.Errorf("chapter has no pages")}
	}
	sorted := make([]models.Page, len(pages))
	copy(sorted, pages)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	for i, p := range sorted {
		if want := i + 1; p.Index != want {
			return nil, &ConversionError{
				ChapterID: chapterID, Format: format, Page: p.Index,
				Err: fmt.Errorf("page sequence has a gap: expected index %d, found %d", want, p.Index),
			}
		}
		path := filepath.Join(chapterDir, p.Filename())
		if _, err := os.Stat(path); err != nil {
			return nil, &ConversionError{
				ChapterID: chapterID, Format: format, Page: p.Index,
				Err: fmt.Errorf("page file %s not on disk: %w", path, err),
			}
		}
	}
	return sorted, nil
}

// writeAtomic runs build against a temp file in outPath's directory and
// renames it into place only if build succeeds. A failed build leaves no
// partial output behind.
func writeAtomic(outPath string, build func(f *os.File) error) error {
	dir := filepath.Dir(outPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating output directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(outPath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	clean := true
	defer func() {
		if clean {
			_ = os.Remove(tmpName)
		}
	}()

	if err := build(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, outPath); err != nil {
		return fmt.Errorf("renaming %s to %s: %w", tmpName, outPath, err)
	}
	clean = false
	return nil
}
