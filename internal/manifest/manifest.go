package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go-manga-download/internal/models"

	log "github.com/sirupsen/logrus"
)

// Load reads a manga descriptor from a JSON file. The descriptor is produced
// by an external metadata scraper; this tool only validates enough of it to
// schedule downloads.
func Load(path string) (*models.Manga, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}
	var m models.Manga
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	if err := Validate(&m); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	log.Infof("Loaded manifest for %q: %d chapters, %d pages", m.Title, len(m.Chapters), m.TotalPages())
	return &m, nil
}

// Validate checks the structural invariants the download engine relies on.
func Validate(m *models.Manga) error {
	if m.Title == "" && m.ID == "" {
		return fmt.Errorf("manga has neither title nor id")
	}
	if len(m.Chapters) == 0 {
		return fmt.Errorf("manga has no chapters")
	}
	seen := make(map[string]struct{}, len(m.Chapters))
	for _, ch := range m.Chapters {
		if ch.ID == "" {
			return fmt.Errorf("chapter %.1f has no id", ch.Number)
		}
		if _, dup := seen[ch.ID]; dup {
			return fmt.Errorf("duplicate chapter id %q", ch.ID)
		}
		seen[ch.ID] = struct{}{}
		indices := make(map[int]struct{}, len(ch.Pages))
		for _, p := range ch.Pages {
			if p.URL == "" {
				return fmt.Errorf("chapter %s page %d has no url", ch.ID, p.Index)
			}
			if p.Index < 1 {
				return fmt.Errorf("chapter %s has page index %d, indices are 1-based", ch.ID, p.Index)
			}
			if _, dup := indices[p.Index]; dup {
				return fmt.Errorf("chapter %s has duplicate page index %d", ch.ID, p.Index)
			}
			indices[p.Index] = struct{}{}
		}
	}
	return nil
}

// SelectChapters filters a manga's chapters by a selector string:
//
//	"" or "all"  every chapter
//	"12"         the single chapter numbered 12 (decimals like "12.5" work)
//	"3-10"       chapters numbered 3 through 10 inclusive
//
// The returned manga shares chapter data with the input but carries only the
// selection.
func SelectChapters(m *models.Manga, selector string) (*models.Manga, error) {
	selector = strings.TrimSpace(strings.ToLower(selector))
	if selector == "" || selector == "all" {
		return m, nil
	}

	var start, end float64
	if lo, hi, ok := strings.Cut(selector, "-"); ok {
		var err error
		if start, err = strconv.ParseFloat(strings.TrimSpace(lo), 64); err != nil {
			return nil, fmt.Errorf("bad chapter range %q: %w", selector, err)
		}
		if end, err = strconv.ParseFloat(strings.TrimSpace(hi), 64); err != nil {
			return nil, fmt.Errorf("bad chapter range %q: %w", selector, err)
		}
		if end < start {
			return nil, fmt.Errorf("bad chapter range %q: end before start", selector)
		}
	} else {
		n, err := strconv.ParseFloat(selector, 64)
		if err != nil {
			return nil, fmt.Errorf("bad chapter selector %q: %w", selector, err)
		}
		start, end = n, n
	}

	selected := m.ChaptersInRange(start, end)
	if len(selected) == 0 {
		return nil, fmt.Errorf("no chapters match selector %q", selector)
	}
	out := *m
	out.Chapters = selected
	return &out, nil
}
