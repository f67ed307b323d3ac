package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/gosuri/uilive"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go-manga-download/index"
	"go-manga-download/internal/fetch"
	"go-manga-download/internal/helpers"
	"go-manga-download/internal/job"
	"go-manga-download/internal/manifest"
	"go-manga-download/internal/models"
	"go-manga-download/internal/progress"
	"go-manga-download/internal/resume"
)

var (
	styleSuccess = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	styleFailure = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	styleMuted   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func init() {
	rootCmd.AddCommand(downloadCmd)

	downloadCmd.Flags().StringP("manifest", "m", "", "Path to the manga manifest JSON (required)")
	downloadCmd.Flags().StringP("chapters", "c", "all", "Chapter selector: 'all', a number like '12', or a range like '3-10'")
	downloadCmd.Flags().StringP("format", "f", "", "Output format: images, cbz or pdf (overrides config)")
	downloadCmd.Flags().StringP("quality", "q", "", "Quality tier: high, medium or low (overrides config)")
	downloadCmd.Flags().Int("concurrency", 0, "Number of download workers, 1-8 (overrides config)")
	downloadCmd.Flags().Bool("keep-pages", false, "Keep raw page files after archiving")
	downloadCmd.Flags().Bool("no-index", false, "Skip updating the search index")
	_ = downloadCmd.MarkFlagRequired("manifest")

	viper.BindPFlag("download.chapters", downloadCmd.Flags().Lookup("chapters"))
	viper.BindPFlag("download.format", downloadCmd.Flags().Lookup("format"))
	viper.BindPFlag("download.quality", downloadCmd.Flags().Lookup("quality"))
	viper.BindPFlag("download.concurrency", downloadCmd.Flags().Lookup("concurrency"))
	viper.BindPFlag("download.keep_pages", downloadCmd.Flags().Lookup("keep-pages"))
}

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download the chapters described by a manifest",
	Long: `Reads a manga manifest, downloads the selected chapters through the
worker pool and packs each finished chapter into the configured format.
Interrupted jobs resume from the pages already confirmed on disk.`,
	RunE: runDownload,
}

func runDownload(cmd *cobra.Command, args []string) error {
	manifestPath, _ := cmd.Flags().GetString("manifest")
	selector := viper.GetString("download.chapters")
	noIndex, _ := cmd.Flags().GetBool("no-index")

	opts, err := downloadOptions(cmd)
	if err != nil {
		return err
	}
	return executeDownload(cmd.Context(), manifestPath, selector, opts, noIndex)
}

// executeDownload runs one job end to end. Shared by the download and batch
// commands.
func executeDownload(ctx context.Context, manifestPath, selector string, opts job.Options, noIndex bool) error {
	manga, err := manifest.Load(manifestPath)
	if err != nil {
		return err
	}
	manga, err = manifest.SelectChapters(manga, selector)
	if err != nil {
		return err
	}

	store, err := resume.Open(globalConfig.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening resume database: %w", err)
	}
	defer store.Close()

	client := fetch.NewClient(globalHttpTransport, time.Duration(globalConfig.FetchTimeoutSec)*time.Second, globalConfig.UserAgent)
	ctrl := job.NewController(client, store, opts)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go liveProgress(ctrl, done)

	result := ctrl.Run(ctx, manga)
	close(done)

	printSummary(result, ctrl.Tracker().Snapshot())

	if !noIndex {
		indexResult(manga, result, opts.Format)
	}

	if result.State == models.JobCancelled {
		log.Warn("Job cancelled; run the same command again to resume")
		return nil
	}
	if len(result.Errors) > 0 {
		return fmt.Errorf("job finished with %d error(s)", len(result.Errors))
	}
	return nil
}

// configOptions builds job options from the loaded configuration alone.
func configOptions() (job.Options, error) {
	format, err := models.ParseFormat(globalConfig.Format)
	if err != nil {
		return job.Options{}, err
	}
	quality, err := models.ParseQuality(globalConfig.Quality)
	if err != nil {
		return job.Options{}, err
	}

	retry := fetch.DefaultRetryPolicy()
	if globalConfig.MaxRetries > 0 {
		retry.MaxAttempts = globalConfig.MaxRetries
	}
	if globalConfig.RetryBaseDelayMs > 0 {
		retry.BaseDelay = time.Duration(globalConfig.RetryBaseDelayMs) * time.Millisecond
	}
	if globalConfig.RetryMaxDelayMs > 0 {
		retry.MaxDelay = time.Duration(globalConfig.RetryMaxDelayMs) * time.Millisecond
	}

	return job.Options{
		SavePath:            globalConfig.SavePath,
		Format:              format,
		Quality:             quality,
		Workers:             globalConfig.Concurrency,
		Retry:               retry,
		ChapterFailureRatio: globalConfig.ChapterFailureRatio,
		RemovePages:         !globalConfig.KeepPages,
	}, nil
}

// downloadOptions merges config values with the viper-bound overrides into
// job options. The download.* keys resolve through viper so flags and any
// other viper source feed the same resolution path.
func downloadOptions(cmd *cobra.Command) (job.Options, error) {
	opts, err := configOptions()
	if err != nil {
		return job.Options{}, err
	}

	if formatStr := viper.GetString("download.format"); formatStr != "" {
		if opts.Format, err = models.ParseFormat(formatStr); err != nil {
			return job.Options{}, err
		}
	}
	if qualityStr := viper.GetString("download.quality"); qualityStr != "" {
		if opts.Quality, err = models.ParseQuality(qualityStr); err != nil {
			return job.Options{}, err
		}
	}
	if workers := viper.GetInt("download.concurrency"); workers > 0 {
		opts.Workers = workers
	}
	// keep_pages needs the Changed gate: false is both the flag default and a
	// meaningful value.
	if cmd.Flags().Changed("keep-pages") {
		opts.RemovePages = !viper.GetBool("download.keep_pages")
	}
	return opts, nil
}

// liveProgress repaints a single status line while the job runs.
func liveProgress(ctrl *job.Controller, done <-chan struct{}) {
	writer := uilive.New()
	writer.Start()
	defer writer.Stop()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			if tr := ctrl.Tracker(); tr != nil {
				fmt.Fprintln(writer, progressLine(tr.Snapshot(), ctrl.State()))
			}
			return
		case <-ticker.C:
			if tr := ctrl.Tracker(); tr != nil {
				fmt.Fprintln(writer, progressLine(tr.Snapshot(), ctrl.State()))
			}
		}
	}
}

func progressLine(snap progress.Snapshot, state models.JobState) string {
	return fmt.Sprintf("[%s] pages %d/%d (%d failed) | chapters %d/%d | %s (%s/s)",
		state,
		snap.CompletedPages, snap.TotalPages, snap.FailedPages,
		snap.CompletedChapters, snap.TotalChapters,
		helpers.BytesToSize(uint64(snap.Bytes)),
		helpers.BytesToSize(uint64(snap.BytesPerSec)))
}

func printSummary(result *models.JobResult, snap progress.Snapshot) {
	fmt.Println()
	for _, ch := range result.Chapters {
		switch ch.State {
		case models.ChapterCompleted:
			fmt.Printf("%s %s -> %s\n", styleSuccess.Render("done"), ch.Title, ch.ArchivePath)
		case models.ChapterFailed:
			fmt.Printf("%s %s: %s\n", styleFailure.Render("fail"), ch.Title, ch.Error)
		default:
			fmt.Printf("%s %s (%s)\n", styleMuted.Render("skip"), ch.Title, ch.State)
		}
	}
	fmt.Printf("\nJob %s: %s, %d/%d pages, %s downloaded\n",
		result.RunID, result.State, snap.CompletedPages, snap.TotalPages,
		helpers.BytesToSize(uint64(snap.Bytes)))
}

// indexResult records completed chapters in the search index.
func indexResult(manga *models.Manga, result *models.JobResult, format models.Format) {
	idx, err := index.OpenOrCreateIndex(globalConfig.BleveIndexPath)
	if err != nil {
		log.WithError(err).Warn("Failed to open search index, skipping indexing")
		return
	}
	defer idx.Close()

	numbers := make(map[string]float64, len(manga.Chapters))
	titles := make(map[string]string, len(manga.Chapters))
	for _, ch := range manga.Chapters {
		numbers[ch.ID] = ch.Number
		titles[ch.ID] = ch.Title
	}

	indexed := 0
	for _, ch := range result.Chapters {
		if ch.State != models.ChapterCompleted || ch.ArchivePath == "" {
			continue
		}
		item := index.Item{
			ID:            result.JobKey + "/" + ch.ChapterID,
			MangaID:       manga.ID,
			MangaTitle:    manga.Title,
			ChapterID:     ch.ChapterID,
			ChapterTitle:  titles[ch.ChapterID],
			ChapterNumber: numbers[ch.ChapterID],
			Format:        string(format),
			ArchivePath:   ch.ArchivePath,
			PageCount:     float64(ch.TotalPages),
			DownloadedAt:  time.Now().UTC(),
		}
		if err := index.IndexItem(idx, item); err != nil {
			log.WithError(err).Warnf("Failed to index chapter %s", ch.ChapterID)
			continue
		}
		indexed++
	}
	if indexed > 0 {
		log.Infof("Indexed %d chapter(s)", indexed)
	}
}
