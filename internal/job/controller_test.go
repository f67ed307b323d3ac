package job

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"go-manga-download/internal/fetch"
	"go-manga-download/internal/models"
	"go-manga-download/internal/queue"
	"go-manga-download/internal/resume"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManga(srv *httptest.Server, chapters, pagesPer int) *models.Manga {
	m := &models.Manga{ID: "test-manga", Title: "Test Manga"}
	for c := 1; c <= chapters; c++ {
		ch := models.Chapter{
			ID:     fmt.Sprintf("ch-%d", c),
			Title:  fmt.Sprintf("Chapter %d", c),
			Number: float64(c),
		}
		for p := 1; p <= pagesPer; p++ {
			ch.Pages = append(ch.Pages, models.Page{
				Index: p,
				URL:   fmt.Sprintf("%s/c%d/p%d.jpg", srv.URL, c, p),
			})
		}
		m.Chapters = append(m.Chapters, ch)
	}
	return m
}

func countingServer(t *testing.T, fail func(path string) bool) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if fail != nil && fail(r.URL.Path) {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, "image-bytes-for-%s", r.URL.Path)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newTestController(t *testing.T, opts Options) (*Controller, *resume.Store) {
	t.Helper()
	store, err := resume.Open(filepath.Join(t.TempDir(), "resume_db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	if opts.Workers == 0 {
		opts.Workers = 2
	}
	opts.Retry = fetch.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	return NewController(fetch.NewClient(nil, 5*time.Second, ""), store, opts), store
}

func TestJobCompletesAndArchives(t *testing.T) {
	srv, hits := countingServer(t, nil)
	manga := testManga(srv, 2, 3)
	saveDir := t.TempDir()

	ctrl, _ := newTestController(t, Options{SavePath: saveDir, Format: models.FormatCBZ, RemovePages: true})
	result := ctrl.Run(context.Background(), manga)

	assert.Equal(t, models.JobCompleted, result.State)
	assert.True(t, result.Completed())
	assert.Empty(t, result.Errors)
	assert.EqualValues(t, 6, atomic.LoadInt32(hits))
	assert.Equal(t, models.JobCompleted, ctrl.State())

	require.Len(t, result.Chapters, 2)
	for _, ch := range result.Chapters {
		assert.Equal(t, models.ChapterCompleted, ch.State)
		require.NotEmpty(t, ch.ArchivePath)
		info, err := os.Stat(ch.ArchivePath)
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0))
	}

	snap := ctrl.Tracker().Snapshot()
	assert.Equal(t, 6, snap.CompletedPages)
	assert.Equal(t, 2, snap.CompletedChapters)
	assert.True(t, snap.Done())

	// RemovePages drops the raw pages once the archive exists.
	mangaDir := filepath.Join(saveDir, "test_manga")
	for _, ch := range manga.Chapters {
		_, err := os.Stat(filepath.Join(mangaDir, ch.FolderName()))
		assert.True(t, os.IsNotExist(err), "raw pages for %s should be cleaned up", ch.ID)
	}
}

func TestJobPartialFailureIsolation(t *testing.T) {
	srv, _ := countingServer(t, func(path string) bool { return path == "/c1/p2.jpg" })
	manga := testManga(srv, 2, 3)

	ctrl, _ := newTestController(t, Options{SavePath: t.TempDir(), Format: models.FormatCBZ})
	result := ctrl.Run(context.Background(), manga)

	assert.Equal(t, models.JobCompleted, result.State, "chapter failures stay chapter-scoped")
	assert.False(t, result.Completed())
	assert.NotEmpty(t, result.Errors)

	require.Len(t, result.Chapters, 2)
	byID := map[string]models.ChapterOutcome{}
	for _, ch := range result.Chapters {
		byID[ch.ChapterID] = ch
	}

	failed := byID["ch-1"]
	assert.Equal(t, models.ChapterFailed, failed.State)
	assert.Equal(t, 1, failed.FailedPages)
	assert.Empty(t, failed.ArchivePath)
	assert.NotEmpty(t, failed.Error)

	ok := byID["ch-2"]
	assert.Equal(t, models.ChapterCompleted, ok.State, "one bad chapter must not sink its siblings")
	_, err := os.Stat(ok.ArchivePath)
	assert.NoError(t, err)
}

func TestJobResumeRefetchesNothing(t *testing.T) {
	srv, hits := countingServer(t, nil)
	manga := testManga(srv, 2, 3)
	saveDir := t.TempDir()

	store, err := resume.Open(filepath.Join(t.TempDir(), "resume_db"))
	require.NoError(t, err)
	defer store.Close()

	opts := Options{
		SavePath:    saveDir,
		Format:      models.FormatCBZ,
		Workers:     2,
		RemovePages: true,
		Retry:       fetch.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	}
	client := fetch.NewClient(nil, 5*time.Second, "")

	first := NewController(client, store, opts).Run(context.Background(), manga)
	require.Equal(t, models.JobCompleted, first.State)
	require.EqualValues(t, 6, atomic.LoadInt32(hits))

	second := NewController(client, store, opts).Run(context.Background(), manga)
	assert.Equal(t, models.JobCompleted, second.State)
	assert.EqualValues(t, 6, atomic.LoadInt32(hits), "a completed job must re-fetch nothing")
	for _, ch := range second.Chapters {
		assert.Equal(t, models.ChapterCompleted, ch.State)
		assert.NotEmpty(t, ch.ArchivePath)
	}
}

func TestJobResumeSkipsConfirmedPages(t *testing.T) {
	srv, hits := countingServer(t, func(path string) bool { return path == "/c1/p3.jpg" })
	manga := testManga(srv, 1, 3)
	saveDir := t.TempDir()

	store, err := resume.Open(filepath.Join(t.TempDir(), "resume_db"))
	require.NoError(t, err)
	defer store.Close()

	opts := Options{
		SavePath: saveDir,
		Format:   models.FormatCBZ,
		Workers:  1,
		Retry:    fetch.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	}
	client := fetch.NewClient(nil, 5*time.Second, "")

	first := NewController(client, store, opts).Run(context.Background(), manga)
	require.False(t, first.Completed())
	require.NotEmpty(t, first.Errors)
	firstHits := atomic.LoadInt32(hits)

	// The source recovers; only the missing page may be fetched again.
	srv2, hits2 := countingServer(t, nil)
	for i := range manga.Chapters[0].Pages {
		p := &manga.Chapters[0].Pages[i]
		p.URL = fmt.Sprintf("%s/c1/p%d.jpg", srv2.URL, p.Index)
	}
	require.EqualValues(t, 3, firstHits)

	second := NewController(client, store, opts).Run(context.Background(), manga)
	assert.Equal(t, models.JobCompleted, second.State)
	assert.EqualValues(t, 1, atomic.LoadInt32(hits2), "confirmed pages must not be re-fetched")
}

func TestJobCancellationLeavesConsistentState(t *testing.T) {
	release := make(chan struct{})
	var served int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&served, 1)
		if n > 2 {
			<-release
		}
		fmt.Fprintf(w, "image-bytes-for-%s", r.URL.Path)
	}))
	defer srv.Close()
	defer close(release)

	manga := testManga(srv, 1, 6)
	saveDir := t.TempDir()

	ctrl, store := newTestController(t, Options{SavePath: saveDir, Format: models.FormatCBZ, Workers: 2})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan *models.JobResult, 1)
	go func() { done <- ctrl.Run(ctx, manga) }()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&served) >= 3 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	result := <-done

	assert.Equal(t, models.JobCancelled, result.State)
	assert.Equal(t, models.JobCancelled, ctrl.State())

	// The record holds exactly the pages confirmed before cancellation.
	rec, err := store.Load("test-manga", "ch-1")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(rec.Pages), 2)
	assert.Less(t, len(rec.Pages), 6)
	chapterDir := filepath.Join(saveDir, "test_manga", "Chapter_1")
	for idx, pr := range rec.Pages {
		path := filepath.Join(chapterDir, fmt.Sprintf("page_%03d.jpg", idx))
		info, err := os.Stat(path)
		require.NoError(t, err, "recorded page %d must exist on disk", idx)
		assert.Equal(t, pr.Size, info.Size())
	}

	_, err = os.Stat(filepath.Join(saveDir, "test_manga", "Chapter_1.cbz"))
	assert.True(t, os.IsNotExist(err), "a cancelled chapter must not produce an archive")
}

func TestJobImagesFormatToleratesLossesWithinRatio(t *testing.T) {
	srv, _ := countingServer(t, func(path string) bool { return path == "/c1/p2.jpg" })
	manga := testManga(srv, 1, 4)

	ctrl, _ := newTestController(t, Options{
		SavePath:            t.TempDir(),
		Format:              models.FormatImages,
		ChapterFailureRatio: 0.5,
	})
	result := ctrl.Run(context.Background(), manga)

	assert.Equal(t, models.JobCompleted, result.State)
	require.Len(t, result.Chapters, 1)
	assert.Equal(t, models.ChapterCompleted, result.Chapters[0].State)
	assert.Equal(t, 1, result.Chapters[0].FailedPages)
	assert.DirExists(t, result.Chapters[0].ArchivePath)
}

func TestJobZeroRatioFailsOnFirstLoss(t *testing.T) {
	srv, _ := countingServer(t, func(path string) bool { return path == "/c1/p2.jpg" })
	manga := testManga(srv, 1, 4)

	ctrl, _ := newTestController(t, Options{
		SavePath: t.TempDir(),
		Format:   models.FormatImages,
	})
	result := ctrl.Run(context.Background(), manga)

	assert.False(t, result.Completed())
	assert.Equal(t, models.ChapterFailed, result.Chapters[0].State)
	assert.NotEmpty(t, result.Errors)
}

func TestJobEmptyChapterFails(t *testing.T) {
	srv, _ := countingServer(t, nil)
	manga := testManga(srv, 1, 2)
	manga.Chapters = append(manga.Chapters, models.Chapter{ID: "ch-empty", Title: "Empty", Number: 2})

	ctrl, _ := newTestController(t, Options{SavePath: t.TempDir(), Format: models.FormatCBZ})
	result := ctrl.Run(context.Background(), manga)

	assert.False(t, result.Completed())
	assert.NotEmpty(t, result.Errors)
	byID := map[string]models.ChapterOutcome{}
	for _, ch := range result.Chapters {
		byID[ch.ChapterID] = ch
	}
	assert.Equal(t, models.ChapterFailed, byID["ch-empty"].State)
	assert.Equal(t, models.ChapterCompleted, byID["ch-1"].State)
}

func TestJobPauseAndResume(t *testing.T) {
	srv, _ := countingServer(t, nil)
	manga := testManga(srv, 1, 6)

	ctrl, _ := newTestController(t, Options{SavePath: t.TempDir(), Format: models.FormatImages})
	ctrl.Pause() // no-op before the job is downloading
	assert.Equal(t, models.JobCreated, ctrl.State())

	result := ctrl.Run(context.Background(), manga)
	assert.Equal(t, models.JobCompleted, result.State)

	ctrl.Resume() // no-op in a terminal state
	assert.Equal(t, models.JobCompleted, ctrl.State())
}

func TestJobPauseDuringConversionPhase(t *testing.T) {
	ctrl, _ := newTestController(t, Options{SavePath: t.TempDir(), Format: models.FormatCBZ})
	ctrl.pool = queue.NewPool(1, ctrl.fetcher, ctrl.opts.Retry)

	ctrl.mu.Lock()
	ctrl.state = models.JobConverting
	ctrl.mu.Unlock()

	ctrl.Pause()
	assert.Equal(t, models.JobPaused, ctrl.State())

	ctrl.Resume()
	assert.Equal(t, models.JobConverting, ctrl.State(), "resume returns to the phase the pause interrupted")
}

func TestJobUnknownFormatFailsFast(t *testing.T) {
	srv, hits := countingServer(t, nil)
	manga := testManga(srv, 1, 2)

	ctrl, _ := newTestController(t, Options{SavePath: t.TempDir(), Format: models.Format("epub")})
	result := ctrl.Run(context.Background(), manga)

	assert.Equal(t, models.JobFailed, result.State)
	assert.NotEmpty(t, result.Errors)
	assert.Zero(t, atomic.LoadInt32(hits))
}
