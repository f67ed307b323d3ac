package progress

import (
	"fmt"
	"sync"
	"time"
)

// ChapterProgress is the per-chapter slice of a snapshot.
type ChapterProgress struct {
	Title     string
	Completed int
	Failed    int
	Total     int
}

// Snapshot is an immutable copy of the tracker's counters. Observers only
// ever see these copies, never the mutable internals.
type Snapshot struct {
	JobID             string
	CompletedPages    int
	FailedPages       int
	TotalPages        int
	CompletedChapters int
	TotalChapters     int
	Bytes             int64
	BytesPerSec       float64
	Chapters          map[string]ChapterProgress
}

// Done reports whether every page has been accounted for, one way or the other.
func (s Snapshot) Done() bool {
	return s.TotalPages > 0 && s.CompletedPages+s.FailedPages >= s.TotalPages
}

// Tracker aggregates task completion events into per-chapter and per-job
// counters. All mutation happens under one mutex; counters are monotonic
// within a job and each page is counted at most once.
type Tracker struct {
	mu       sync.Mutex
	jobID    string
	started  time.Time
	chapters map[string]*ChapterProgress
	seen     map[string]struct{}
	bytes    int64
	updates  chan Snapshot
}

func NewTracker(jobID string) *Tracker {
	return &Tracker{
		jobID:    jobID,
		started:  time.Now(),
		chapters: make(map[string]*ChapterProgress),
		seen:     make(map[string]struct{}),
		updates:  make(chan Snapshot, 1),
	}
}

// AddChapter registers a chapter with its page total. Pages confirmed by the
// resume record count as already completed so resumed jobs report true state.
func (t *Tracker) AddChapter(chapterID, title string, totalPages, alreadyComplete int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.chapters[chapterID]; ok {
		return
	}
	t.chapters[chapterID] = &ChapterProgress{Title: title, Total: totalPages, Completed: alreadyComplete}
	t.publishLocked()
}

// MarkResumed reserves a page confirmed by the resume record so a duplicate
// completion event for it can never double-count.
func (t *Tracker) MarkResumed(chapterID string, pageIndex int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seen[pageKey(chapterID, pageIndex)] = struct{}{}
}

// Observe records the completion (or failure) of one page task. Duplicate
// events for the same page are ignored.
func (t *Tracker) Observe(chapterID string, pageIndex int, bytes int64, failed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := pageKey(chapterID, pageIndex)
	if _, dup := t.seen[key]; dup {
		return
	}
	t.seen[key] = struct{}{}

	cp, ok := t.chapters[chapterID]
	if !ok {
		// Event for a chapter that was never registered; tolerate it.
		cp = &ChapterProgress{Total: 0}
		t.chapters[chapterID] = cp
	}
	if failed {
		cp.Failed++
	} else {
		cp.Completed++
		t.bytes += bytes
	}
	t.publishLocked()
}

// Snapshot returns the current aggregate state. Safe to call from any
// goroutine at any time, which suits a polling presentation layer.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Updates exposes a push channel carrying the latest snapshot. The send is
// non-blocking: a slow observer sees the freshest state, not every step.
func (t *Tracker) Updates() <-chan Snapshot {
	return t.updates
}

func (t *Tracker) snapshotLocked() Snapshot {
	snap := Snapshot{
		JobID:    t.jobID,
		Bytes:    t.bytes,
		Chapters: make(map[string]ChapterProgress, len(t.chapters)),
	}
	for id, cp := range t.chapters {
		snap.Chapters[id] = *cp
		snap.CompletedPages += cp.Completed
		snap.FailedPages += cp.Failed
		snap.TotalPages += cp.Total
		snap.TotalChapters++
		if cp.Total > 0 && cp.Completed == cp.Total {
			snap.CompletedChapters++
		}
	}
	if elapsed := time.Since(t.started).Seconds(); elapsed > 0 {
		snap.BytesPerSec = float64(t.bytes) / elapsed
	}
	return snap
}

func (t *Tracker) publishLocked() {
	snap := t.snapshotLocked()
	select {
	case t.updates <- snap:
	default:
		// Drop the stale snapshot and replace it with the fresh one.
		select {
		case <-t.updates:
		default:
		}
		select {
		case t.updates <- snap:
		default:
		}
	}
}

func pageKey(chapterID string, pageIndex int) string {
	return fmt.Sprintf("%s\x00%d", chapterID, pageIndex)
}
