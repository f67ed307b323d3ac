package convert

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"

	_ "image/gif"
	_ "image/png"

	"github.com/go-pdf/fpdf"
	log "github.com/sirupsen/logrus"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"go-manga-download/internal/models"
)

// PDFConverter renders one PDF page per image, each page sized to the
// image's own dimensions so the aspect ratio is never distorted. JPEG, PNG
// and GIF pages are embedded as-is; WebP and BMP are transcoded to JPEG
// because the PDF imaging model has no native encoding for them.
type PDFConverter struct {
	JPEGQuality int
}

func (c *PDFConverter) Ext() string { return ".pdf" }

func (c *PDFConverter) Convert(chapterID, chapterDir string, pages []models.Page, outPath string) error {
	ordered, err := orderedPages(chapterID, models.FormatPDF, chapterDir, pages)
	if err != nil {
		return err
	}

	err = writeAtomic(outPath, func(f *os.File) error {
		doc := fpdf.NewCustom(&fpdf.InitType{UnitStr: "pt", Size: fpdf.SizeType{Wd: 1, Ht: 1}})
		doc.SetMargins(0, 0, 0)
		doc.SetAutoPageBreak(false, 0)

		for _, p := range ordered {
			if err := c.addPage(doc, chapterDir, p); err != nil {
				return &ConversionError{ChapterID: chapterID, Format: models.FormatPDF, Page: p.Index, Err: err}
			}
		}
		if err := doc.Output(f); err != nil {
			return &ConversionError{ChapterID: chapterID, Format: models.FormatPDF, Err: fmt.Errorf("writing document: %w", err)}
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Debugf("Rendered %d pages of chapter %s into %s", len(ordered), chapterID, outPath)
	return nil
}

func (c *PDFConverter) addPage(doc *fpdf.Fpdf, chapterDir string, p models.Page) error {
	data, err := os.ReadFile(filepath.Join(chapterDir, p.Filename()))
	if err != nil {
		return fmt.Errorf("reading page file: %w", err)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decoding image dimensions: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("image has degenerate dimensions %dx%d", cfg.Width, cfg.Height)
	}

	imageType := pdfImageType(p.Filename())
	if imageType == "" {
		// Transcode formats the PDF imaging model cannot carry.
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("decoding image for transcode: %w", err)
		}
		var buf bytes.Buffer
		quality := c.JPEGQuality
		if quality <= 0 {
			quality = jpeg.DefaultQuality
		}
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return fmt.Errorf("transcoding image to JPEG: %w", err)
		}
		data = buf.Bytes()
		imageType = "JPEG"
	}

	name := p.Filename()
	opts := fpdf.ImageOptions{ImageType: imageType}
	doc.RegisterImageOptionsReader(name, opts, bytes.NewReader(data))
	if doc.Err() {
		return fmt.Errorf("registering image: %w", doc.Error())
	}

	w, h := float64(cfg.Width), float64(cfg.Height)
	doc.AddPageFormat("P", fpdf.SizeType{Wd: w, Ht: h})
	doc.ImageOptions(name, 0, 0, w, h, false, opts, 0, "")
	if doc.Err() {
		return fmt.Errorf("placing image: %w", doc.Error())
	}
	return nil
}

// pdfImageType maps a page filename to the embedded image type fpdf accepts
// natively, or "" when the page must be transcoded first.
func pdfImageType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "JPEG"
	case ".png":
		return "PNG"
	case ".gif":
		return "GIF"
	}
	return ""
}
