package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-manga-download/internal/convert"
	"go-manga-download/internal/models"
)

// Matches the zero-padded scheme the downloader writes (page_001.jpg).
var pageFilePattern = regexp.MustCompile(`^page_(\d{3,})\.(jpg|jpeg|png|webp|bmp|gif)$`)

func init() {
	rootCmd.AddCommand(convertCmd)

	convertCmd.Flags().StringP("format", "f", "cbz", "Target format: cbz or pdf")
	convertCmd.Flags().StringP("output", "o", "", "Output file path (defaults next to the chapter directory)")
}

var convertCmd = &cobra.Command{
	Use:   "convert <chapter-dir>",
	Short: "Pack an already-downloaded chapter directory into CBZ or PDF",
	Long: `Scans a directory of page files (page_001.jpg, page_002.png, ...) and
packs them into a single archive, without touching the network.`,
	Args: cobra.ExactArgs(1),
	RunE: runConvert,
}

func runConvert(cmd *cobra.Command, args []string) error {
	chapterDir := filepath.Clean(args[0])
	formatStr, _ := cmd.Flags().GetString("format")
	outPath, _ := cmd.Flags().GetString("output")

	format, err := models.ParseFormat(formatStr)
	if err != nil {
		return err
	}
	converter, err := convert.For(format)
	if err != nil {
		return err
	}
	if converter == nil {
		return fmt.Errorf("format %q needs no conversion", format)
	}

	pages, err := scanPageFiles(chapterDir)
	if err != nil {
		return err
	}
	if len(pages) == 0 {
		return fmt.Errorf("no page files found in %s", chapterDir)
	}

	if outPath == "" {
		outPath = chapterDir + converter.Ext()
	}
	chapterID := filepath.Base(chapterDir)
	if err := converter.Convert(chapterID, chapterDir, pages, outPath); err != nil {
		return err
	}
	log.Infof("Packed %d pages into %s", len(pages), outPath)
	return nil
}

// scanPageFiles reconstructs the page list from the files on disk.
func scanPageFiles(dir string) ([]models.Page, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading chapter directory %s: %w", dir, err)
	}
	var pages []models.Page
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := pageFilePattern.FindStringSubmatch(strings.ToLower(e.Name()))
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil || idx < 1 {
			continue
		}
		// The name doubles as the URL so Page.Filename resolves back to it.
		pages = append(pages, models.Page{Index: idx, URL: e.Name()})
	}
	return pages, nil
}
