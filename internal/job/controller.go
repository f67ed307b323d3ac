package job

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"go-manga-download/internal/convert"
	"go-manga-download/internal/fetch"
	"go-manga-download/internal/helpers"
	"go-manga-download/internal/models"
	"go-manga-download/internal/progress"
	"go-manga-download/internal/queue"
	"go-manga-download/internal/resume"
)

// Options configures one download job.
type Options struct {
	SavePath            string
	Format              models.Format
	Quality             models.Quality
	Workers             int
	ConvertWorkers      int
	Retry               fetch.RetryPolicy
	ChapterFailureRatio float64
	// RemovePages drops a chapter's raw page files (and its resume record)
	// once the archive is safely in place. Default is to keep them.
	RemovePages bool
}

// Controller drives a single job through its lifecycle: expand the chapter
// list into page tasks, download them through the worker pool, convert
// finished chapters, and always hand back a JobResult. One controller, one
// job, one Run call.
type Controller struct {
	opts    Options
	fetcher queue.Fetcher
	store   *resume.Store

	mu         sync.Mutex
	state      models.JobState
	pausedFrom models.JobState
	pool       *queue.Pool
	tracker    *progress.Tracker
}

// chapterPlan carries everything the controller tracks for one chapter while
// the job runs. Conversion goroutines write the outcome fields; the
// controller only reads them after the conversion group is waited on.
type chapterPlan struct {
	chapter   models.Chapter
	dir       string
	outPath   string
	remaining int
	failed    int
	firstErr  error

	state       models.ChapterState
	archivePath string
	outcomeErr  error
}

func NewController(fetcher queue.Fetcher, store *resume.Store, opts Options) *Controller {
	if opts.ConvertWorkers < 1 {
		opts.ConvertWorkers = 2
	}
	return &Controller{
		opts:    opts,
		fetcher: fetcher,
		store:   store,
		state:   models.JobCreated,
	}
}

// State returns the job's current lifecycle state.
func (c *Controller) State() models.JobState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Tracker exposes the job's progress tracker once Run has started, for the
// presentation layer to poll. Nil before Run.
func (c *Controller) Tracker() *progress.Tracker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracker
}

// Pause stops new page dequeues. In-flight pages finish and are recorded.
// Jobs pause from the downloading or converting phase; in the latter case
// running conversions drain but no further chapter downloads dispatch.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if (c.state != models.JobDownloading && c.state != models.JobConverting) || c.pool == nil {
		return
	}
	c.pool.Pause()
	c.pausedFrom = c.state
	c.state = models.JobPaused
	log.Info("Job paused")
}

// Resume reopens dispatch after a pause, returning to the phase the pause
// interrupted.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != models.JobPaused || c.pool == nil {
		return
	}
	c.pool.Resume()
	c.state = c.pausedFrom
	log.Info("Job resumed")
}

// Run executes the job to a terminal state. It always returns a JobResult:
// failures and cancellation are reported through it, never swallowed.
func (c *Controller) Run(ctx context.Context, manga *models.Manga) *models.JobResult {
	runID := uuid.NewString()
	jobKey := manga.ID
	if jobKey == "" {
		jobKey = helpers.Slugify(manga.Title)
	}
	result := &models.JobResult{RunID: runID, JobKey: jobKey}

	converter, err := convert.For(c.opts.Format)
	if err != nil {
		c.setState(models.JobFailed)
		result.State = models.JobFailed
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	tracker := progress.NewTracker(runID)
	c.mu.Lock()
	c.tracker = tracker
	c.state = models.JobExpanding
	c.mu.Unlock()
	log.Infof("Job %s: expanding %d chapters of %q", runID, len(manga.Chapters), manga.Title)

	mangaDir := filepath.Join(c.opts.SavePath, helpers.Slugify(manga.Title))
	plans, tasks := c.expand(manga, jobKey, mangaDir, converter, tracker)

	pool := queue.NewPool(c.opts.Workers, c.fetcher, c.opts.Retry)
	c.mu.Lock()
	c.pool = pool
	c.state = models.JobDownloading
	c.mu.Unlock()
	log.Infof("Job %s: downloading %d pages with %d workers", runID, len(tasks), pool.Workers())

	var group errgroup.Group
	group.SetLimit(c.opts.ConvertWorkers)

	// Chapters already satisfied by the resume record convert immediately.
	for _, p := range plans {
		if p.remaining == 0 && p.state == models.ChapterPending {
			c.finishChapter(jobKey, p, converter, &group)
		}
	}

	for res := range pool.Run(ctx, tasks) {
		plan := plans[res.Task.ChapterID]
		if res.Err == nil {
			if err := c.store.Record(jobKey, res.Task.ChapterID, res.Task.PageIndex, resume.PageRecord{
				Size:     res.Bytes,
				Checksum: res.Checksum,
			}); err != nil {
				log.WithError(err).Warnf("Failed to record page %d of chapter %s", res.Task.PageIndex, res.Task.ChapterID)
			}
			tracker.Observe(res.Task.ChapterID, res.Task.PageIndex, res.Bytes, false)
		} else {
			log.WithError(res.Err).Warnf("Chapter %s page %d failed", res.Task.ChapterID, res.Task.PageIndex)
			tracker.Observe(res.Task.ChapterID, res.Task.PageIndex, 0, true)
			plan.failed++
			if plan.firstErr == nil {
				plan.firstErr = res.Err
			}
		}
		plan.remaining--
		if plan.remaining == 0 {
			c.finishChapter(jobKey, plan, converter, &group)
		}
	}

	cancelled := ctx.Err() != nil
	if !cancelled {
		c.setState(models.JobConverting)
	}
	if err := group.Wait(); err != nil {
		log.WithError(err).Error("Conversion group reported an error")
	}

	return c.finalize(result, manga, plans, cancelled)
}

// expand builds the per-chapter plans and the task list, consulting the
// resume store so confirmed pages are skipped rather than re-fetched.
func (c *Controller) expand(manga *models.Manga, jobKey, mangaDir string, converter convert.Converter, tracker *progress.Tracker) (map[string]*chapterPlan, []queue.Task) {
	plans := make(map[string]*chapterPlan, len(manga.Chapters))
	var tasks []queue.Task

	for _, ch := range manga.Chapters {
		plan := &chapterPlan{
			chapter: ch,
			dir:     filepath.Join(mangaDir, ch.FolderName()),
			state:   models.ChapterPending,
		}
		if converter != nil {
			plan.outPath = filepath.Join(mangaDir, ch.FolderName()+converter.Ext())
		}
		plans[ch.ID] = plan

		if len(ch.Pages) == 0 {
			plan.state = models.ChapterFailed
			plan.outcomeErr = fmt.Errorf("chapter %s has no pages", ch.ID)
			tracker.AddChapter(ch.ID, ch.Title, 0, 0)
			continue
		}

		// An archive already on disk satisfies the chapter outright, even
		// when the raw pages were cleaned up after a previous run.
		if plan.outPath != "" {
			if _, err := os.Stat(plan.outPath); err == nil {
				plan.state = models.ChapterCompleted
				plan.archivePath = plan.outPath
				tracker.AddChapter(ch.ID, ch.Title, len(ch.Pages), len(ch.Pages))
				for _, p := range ch.Pages {
					tracker.MarkResumed(ch.ID, p.Index)
				}
				log.Debugf("Chapter %s already archived at %s", ch.ID, plan.outPath)
				continue
			}
		}

		confirmed := c.confirmedPages(jobKey, ch, plan.dir)
		tracker.AddChapter(ch.ID, ch.Title, len(ch.Pages), len(confirmed))
		for idx := range confirmed {
			tracker.MarkResumed(ch.ID, idx)
		}

		for _, p := range ch.Pages {
			if _, ok := confirmed[p.Index]; ok {
				continue
			}
			plan.remaining++
			tasks = append(tasks, queue.Task{
				JobID:     jobKey,
				ChapterID: ch.ID,
				PageIndex: p.Index,
				URL:       p.URL,
				DestPath:  filepath.Join(plan.dir, p.Filename()),
			})
		}
		if len(confirmed) > 0 {
			log.Infof("Chapter %s: resuming, %d of %d pages already confirmed", ch.ID, len(confirmed), len(ch.Pages))
		}
	}
	return plans, tasks
}

// confirmedPages loads and verifies the chapter's resume record. Corrupt or
// stale records are dropped and the chapter re-downloads in full.
func (c *Controller) confirmedPages(jobKey string, ch models.Chapter, chapterDir string) map[int]struct{} {
	rec, err := c.store.Load(jobKey, ch.ID)
	if err != nil {
		var corrupt *resume.CorruptRecordError
		if errors.As(err, &corrupt) {
			log.WithError(err).Warnf("Dropping corrupt resume record for chapter %s", ch.ID)
			_ = c.store.Invalidate(jobKey, ch.ID)
		} else if !errors.Is(err, resume.ErrNotFound) {
			log.WithError(err).Warnf("Failed to load resume record for chapter %s", ch.ID)
		}
		return nil
	}

	confirmed, ok := resume.Confirmed(rec, ch, chapterDir, helpers.VerifyPageFile)
	if !ok {
		_ = c.store.Invalidate(jobKey, ch.ID)
		return nil
	}
	return confirmed
}

// finishChapter decides the chapter's outcome once every page task has
// reported, dispatching a conversion when all pages landed successfully.
func (c *Controller) finishChapter(jobKey string, plan *chapterPlan, converter convert.Converter, group *errgroup.Group) {
	ch := plan.chapter
	total := len(ch.Pages)

	if plan.failed > 0 {
		ratio := float64(plan.failed) / float64(total)
		if converter != nil || ratio > c.opts.ChapterFailureRatio {
			plan.state = models.ChapterFailed
			plan.outcomeErr = fmt.Errorf("%d of %d pages failed: %w", plan.failed, total, plan.firstErr)
			log.Warnf("Chapter %s failed: %d of %d pages", ch.ID, plan.failed, total)
			return
		}
		// Raw-image output tolerates losses within the configured ratio.
		plan.state = models.ChapterCompleted
		plan.archivePath = plan.dir
		log.Warnf("Chapter %s completed with %d missing pages (within tolerance)", ch.ID, plan.failed)
		return
	}

	if converter == nil {
		plan.state = models.ChapterCompleted
		plan.archivePath = plan.dir
		return
	}

	plan.state = models.ChapterConverting
	group.Go(func() error {
		if err := converter.Convert(ch.ID, plan.dir, ch.Pages, plan.outPath); err != nil {
			plan.state = models.ChapterFailed
			plan.outcomeErr = err
			return nil
		}
		plan.state = models.ChapterCompleted
		plan.archivePath = plan.outPath
		if c.opts.RemovePages {
			c.removePages(jobKey, plan)
		}
		return nil
	})
}

// removePages deletes the raw page directory after a successful conversion
// and drops the resume record, since the archive is now the durable output.
func (c *Controller) removePages(jobKey string, plan *chapterPlan) {
	if err := os.RemoveAll(plan.dir); err != nil {
		log.WithError(err).Warnf("Failed to remove page directory %s", plan.dir)
		return
	}
	if err := c.store.Invalidate(jobKey, plan.chapter.ID); err != nil {
		log.WithError(err).Warnf("Failed to drop resume record for chapter %s", plan.chapter.ID)
	}
}

// finalize assembles the JobResult and settles the terminal state. Chapter
// failures stay chapter-scoped: they appear in the error list but do not fail
// the job, which is reserved for setup errors.
func (c *Controller) finalize(result *models.JobResult, manga *models.Manga, plans map[string]*chapterPlan, cancelled bool) *models.JobResult {
	for _, ch := range manga.Chapters {
		plan := plans[ch.ID]
		outcome := models.ChapterOutcome{
			ChapterID:   ch.ID,
			Title:       ch.Title,
			State:       plan.state,
			TotalPages:  len(ch.Pages),
			FailedPages: plan.failed,
			ArchivePath: plan.archivePath,
		}
		if cancelled && !outcome.State.Terminal() {
			outcome.State = models.ChapterDownloading
			outcome.ArchivePath = ""
		}
		if plan.outcomeErr != nil {
			outcome.Error = plan.outcomeErr.Error()
			result.Errors = append(result.Errors, plan.outcomeErr.Error())
		}
		result.Chapters = append(result.Chapters, outcome)
	}

	if cancelled {
		result.State = models.JobCancelled
	} else {
		result.State = models.JobCompleted
	}
	c.setState(result.State)
	log.Infof("Job %s finished: %s", result.RunID, result.State)
	return result
}

func (c *Controller) setState(s models.JobState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Terminal() {
		return
	}
	c.state = s
}
