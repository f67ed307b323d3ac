package models

import (
	"fmt"
	"path"
	"strings"
)

type (
	Config struct {
		// Paths
		SavePath       string `toml:"SavePath"`
		DatabasePath   string `toml:"DatabasePath"`
		BleveIndexPath string `toml:"BleveIndexPath"`

		// Downloader Behavior
		Concurrency         int     `toml:"Concurrency"`
		MaxRetries          int     `toml:"MaxRetries"`
		FetchTimeoutSec     int     `toml:"FetchTimeoutSec"`
		RetryBaseDelayMs    int     `toml:"RetryBaseDelayMs"`
		RetryMaxDelayMs     int     `toml:"RetryMaxDelayMs"`
		ChapterFailureRatio float64 `toml:"ChapterFailureRatio"`
		UserAgent           string  `toml:"UserAgent"`

		// Output Behavior
		Format    string `toml:"Format"`  // images, cbz, pdf
		Quality   string `toml:"Quality"` // high, medium, low
		KeepPages bool   `toml:"KeepPages"`

		// Other
		LogHttpRequests bool `toml:"LogHttpRequests"`
	}

	// Page is one downloadable unit of a chapter, as produced by the
	// external metadata collaborator.
	Page struct {
		Index int    `json:"index"`
		URL   string `json:"url"`
	}

	Chapter struct {
		ID     string  `json:"id"`
		Title  string  `json:"title"`
		Number float64 `json:"number"`
		Pages  []Page  `json:"pages"`
	}

	Manga struct {
		ID       string    `json:"id"`
		Title    string    `json:"title"`
		Chapters []Chapter `json:"chapters"`
	}
)

// Filename returns the on-disk name for a page, e.g. "page_003.jpg".
// The extension is taken from the source URL path, defaulting to .jpg.
func (p Page) Filename() string {
	ext := strings.ToLower(path.Ext(p.URL))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".webp", ".bmp", ".gif":
	default:
		ext = ".jpg"
	}
	return fmt.Sprintf("page_%03d%s", p.Index, ext)
}

// FolderName returns a clean directory name for a chapter, e.g.
// "Chapter_12" or "Chapter_12.5" for decimal chapter numbers.
func (c Chapter) FolderName() string {
	if c.Number == float64(int64(c.Number)) {
		return fmt.Sprintf("Chapter_%d", int64(c.Number))
	}
	return fmt.Sprintf("Chapter_%.1f", c.Number)
}

// TotalPages counts pages across all chapters.
func (m *Manga) TotalPages() int {
	n := 0
	for _, ch := range m.Chapters {
		n += len(ch.Pages)
	}
	return n
}

// ChaptersInRange returns chapters whose number falls within [start, end].
func (m *Manga) ChaptersInRange(start, end float64) []Chapter {
	var out []Chapter
	for _, ch := range m.Chapters {
		if ch.Number >= start && ch.Number <= end {
			out = append(out, ch)
		}
	}
	return out
}

// Format is the requested output container. The set is closed: adding a
// format means adding a converter variant, not touching the engine.
type Format string

const (
	FormatImages Format = "images"
	FormatCBZ    Format = "cbz"
	FormatPDF    Format = "pdf"
)

func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatImages, "":
		return FormatImages, nil
	case FormatCBZ:
		return FormatCBZ, nil
	case FormatPDF:
		return FormatPDF, nil
	}
	return "", fmt.Errorf("unknown output format %q (expected images, cbz or pdf)", s)
}

// Quality selects which source URL variant the upstream scraper requests.
// The download core passes it through without decoding it.
type Quality string

const (
	QualityHigh   Quality = "high"
	QualityMedium Quality = "medium"
	QualityLow    Quality = "low"
)

func ParseQuality(s string) (Quality, error) {
	switch Quality(strings.ToLower(strings.TrimSpace(s))) {
	case QualityHigh, "":
		return QualityHigh, nil
	case QualityMedium:
		return QualityMedium, nil
	case QualityLow:
		return QualityLow, nil
	}
	return "", fmt.Errorf("unknown quality tier %q (expected high, medium or low)", s)
}

// JobState is the job controller's state machine.
type JobState string

const (
	JobCreated     JobState = "created"
	JobExpanding   JobState = "expanding"
	JobDownloading JobState = "downloading"
	JobConverting  JobState = "converting"
	JobPaused      JobState = "paused"
	JobCompleted   JobState = "completed"
	JobFailed      JobState = "failed"
	JobCancelled   JobState = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

type ChapterState string

const (
	ChapterPending     ChapterState = "pending"
	ChapterDownloading ChapterState = "downloading"
	ChapterConverting  ChapterState = "converting"
	ChapterCompleted   ChapterState = "completed"
	ChapterFailed      ChapterState = "failed"
)

// Terminal reports whether the chapter has reached a final state.
func (s ChapterState) Terminal() bool {
	return s == ChapterCompleted || s == ChapterFailed
}

// ChapterOutcome is the per-chapter entry of a JobResult.
type ChapterOutcome struct {
	ChapterID   string       `json:"chapterId"`
	Title       string       `json:"title"`
	State       ChapterState `json:"state"`
	TotalPages  int          `json:"totalPages"`
	FailedPages int          `json:"failedPages"`
	ArchivePath string       `json:"archivePath,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// JobResult is the terminal report handed to the presentation layer.
// No job ever ends without one, whatever went wrong.
type JobResult struct {
	RunID    string           `json:"runId"`
	JobKey   string           `json:"jobKey"`
	State    JobState         `json:"state"`
	Chapters []ChapterOutcome `json:"chapters"`
	Errors   []string         `json:"errors,omitempty"`
}

// Completed reports whether every chapter reached ChapterCompleted.
func (r *JobResult) Completed() bool {
	if r.State != JobCompleted {
		return false
	}
	for _, ch := range r.Chapters {
		if ch.State != ChapterCompleted {
			return false
		}
	}
	return true
}
