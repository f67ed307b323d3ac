package queue

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go-manga-download/internal/fetch"
	"go-manga-download/internal/helpers"

	log "github.com/sirupsen/logrus"
)

// Task is one page download: fetch the URL and land the bytes at DestPath.
type Task struct {
	JobID     string
	ChapterID string
	PageIndex int
	URL       string
	DestPath  string
}

// Result is emitted for every submitted task, success or failure. Errors
// never cross worker boundaries any other way.
type Result struct {
	Task     Task
	Bytes    int64
	Checksum string
	Err      error
}

// Fetcher is the single-attempt retrieval the pool drives through its
// retry policy.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

const (
	minWorkers = 1
	maxWorkers = 8
)

// Pool dispatches page tasks to a fixed set of workers. Dispatch order is
// FIFO by submission; completion order is whatever the network gives back.
type Pool struct {
	workers int
	fetcher Fetcher
	retry   fetch.RetryPolicy
	gate    *gate
}

// NewPool clamps workers into [1, 8], matching the source site's tolerance
// for parallel connections.
func NewPool(workers int, fetcher Fetcher, retry fetch.RetryPolicy) *Pool {
	if workers < minWorkers {
		workers = minWorkers
	}
	if workers > maxWorkers {
		workers = maxWorkers
	}
	return &Pool{
		workers: workers,
		fetcher: fetcher,
		retry:   retry,
		gate:    newGate(),
	}
}

// Workers returns the effective worker count.
func (p *Pool) Workers() int { return p.workers }

// Pause stops workers from dequeuing further tasks. In-flight tasks run to
// completion or failure.
func (p *Pool) Pause() { p.gate.pause() }

// Resume reopens the dequeue gate.
func (p *Pool) Resume() { p.gate.resume() }

// Run executes the given tasks and returns the result channel, closed once
// every dequeued task has reported and the workers have exited. Cancelling
// ctx stops dequeues; tasks never dequeued simply produce no result.
func (p *Pool) Run(ctx context.Context, tasks []Task) <-chan Result {
	taskCh := make(chan Task, len(tasks))
	for _, t := range tasks {
		taskCh <- t
	}
	close(taskCh)

	results := make(chan Result, len(tasks))
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.worker(ctx, id, taskCh, results)
		}(i)
	}
	go func() {
		wg.Wait()
		close(results)
	}()
	return results
}

func (p *Pool) worker(ctx context.Context, id int, tasks <-chan Task, results chan<- Result) {
	log.Debugf("Worker %d starting", id)
	defer log.Debugf("Worker %d finished", id)

	for {
		// The pause gate is checked between dequeues, never mid-task.
		select {
		case <-ctx.Done():
			return
		case <-p.gate.wait():
		}
		select {
		case <-ctx.Done():
			return
		case t, ok := <-tasks:
			if !ok {
				return
			}
			results <- p.runTask(ctx, id, t)
		}
	}
}

// runTask fetches one page through the retry policy and writes it into
// place atomically. Any panic or error becomes a failure Result.
func (p *Pool) runTask(ctx context.Context, id int, t Task) (res Result) {
	res = Result{Task: t}
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Worker %d: panic processing %s: %v", id, t.URL, r)
			res.Err = fmt.Errorf("panic processing task: %v", r)
		}
	}()

	log.Debugf("Worker %d: fetching chapter %s page %d", id, t.ChapterID, t.PageIndex)
	data, err := p.retry.Execute(ctx, func(ctx context.Context) ([]byte, error) {
		return p.fetcher.Fetch(ctx, t.URL)
	})
	if err != nil {
		res.Err = err
		return res
	}

	if err := writeFileAtomic(t.DestPath, data); err != nil {
		res.Err = err
		return res
	}

	res.Bytes = int64(len(data))
	res.Checksum = helpers.ChecksumBytes(data)
	return res
}

// writeFileAtomic lands data at dest via a temp file in the same directory
// and a rename, so a crash mid-write never leaves a plausible-looking
// partial page behind.
func writeFileAtomic(dest string, data []byte) error {
	dir := filepath.Dir(dest)
	if !helpers.CheckAndMakeDir(dir) {
		return fmt.Errorf("creating directory %s for %s", dir, dest)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(dest)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temporary file for %s: %w", dest, err)
	}
	tmpName := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			if removeErr := os.Remove(tmpName); removeErr != nil && !os.IsNotExist(removeErr) {
				log.WithError(removeErr).Warnf("Failed to remove temporary file %s", tmpName)
			}
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temporary file %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temporary file %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return fmt.Errorf("renaming %s to %s: %w", tmpName, dest, err)
	}
	cleanup = false
	return nil
}

// gate serializes pause/resume. The channel is closed while the pool is
// running; a fresh open channel blocks waiters until resume.
type gate struct {
	mu sync.Mutex
	ch chan struct{}
}

func newGate() *gate {
	g := &gate{ch: make(chan struct{})}
	close(g.ch)
	return g
}

func (g *gate) pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.ch:
		g.ch = make(chan struct{})
	default:
		// already paused
	}
}

func (g *gate) resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.ch:
		// already open
	default:
		close(g.ch)
	}
}

func (g *gate) wait() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ch
}
