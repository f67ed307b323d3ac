package resume

import (
	"os"
	"path/filepath"
	"testing"

	"go-manga-download/internal/helpers"
	"go-manga-download/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "resume_db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndLoadRoundtrip(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Record("one_piece", "ch-1", 1, PageRecord{Size: 100, Checksum: "AA"}))
	require.NoError(t, s.Record("one_piece", "ch-1", 2, PageRecord{Size: 200, Checksum: "BB"}))
	require.NoError(t, s.Record("one_piece", "ch-2", 1, PageRecord{Size: 300, Checksum: "CC"}))

	rec, err := s.Load("one_piece", "ch-1")
	require.NoError(t, err)
	assert.Len(t, rec.Pages, 2)
	assert.Equal(t, PageRecord{Size: 100, Checksum: "AA"}, rec.Pages[1])
	assert.Equal(t, PageRecord{Size: 200, Checksum: "BB"}, rec.Pages[2])

	rec2, err := s.Load("one_piece", "ch-2")
	require.NoError(t, err)
	assert.Len(t, rec2.Pages, 1)
}

func TestLoadMissingRecord(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Load("nothing", "here")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInvalidate(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Record("job", "ch-1", 1, PageRecord{Size: 1}))
	require.NoError(t, s.Invalidate("job", "ch-1"))

	_, err := s.Load("job", "ch-1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Invalidating a missing record is not an error.
	assert.NoError(t, s.Invalidate("job", "ch-1"))
}

func TestDeleteJob(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Record("job-a", "ch-1", 1, PageRecord{Size: 1}))
	require.NoError(t, s.Record("job-a", "ch-2", 1, PageRecord{Size: 1}))
	require.NoError(t, s.Record("job-b", "ch-1", 1, PageRecord{Size: 1}))

	require.NoError(t, s.DeleteJob("job-a"))

	_, err := s.Load("job-a", "ch-1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Load("job-a", "ch-2")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Load("job-b", "ch-1")
	assert.NoError(t, err, "other jobs must be untouched")
}

func TestRecordSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resume_db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Record("job", "ch-1", 3, PageRecord{Size: 42, Checksum: "DD"}))
	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	rec, err := s2.Load("job", "ch-1")
	require.NoError(t, err)
	assert.Equal(t, PageRecord{Size: 42, Checksum: "DD"}, rec.Pages[3])
}

func TestConfirmedVerifiesFiles(t *testing.T) {
	dir := t.TempDir()
	content := []byte("page one bytes")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "page_001.jpg"), content, 0644))

	ch := models.Chapter{
		ID: "ch-1",
		Pages: []models.Page{
			{Index: 1, URL: "https://x/1.jpg"},
			{Index: 2, URL: "https://x/2.jpg"},
		},
	}
	rec := ChapterRecord{Pages: map[int]PageRecord{
		1: {Size: int64(len(content)), Checksum: helpers.ChecksumBytes(content)},
		2: {Size: 99, Checksum: "missing file"},
	}}

	confirmed, ok := Confirmed(rec, ch, dir, helpers.VerifyPageFile)
	require.True(t, ok)
	assert.Contains(t, confirmed, 1)
	assert.NotContains(t, confirmed, 2, "a recorded page whose file is gone must re-download")
}

func TestConfirmedInvalidatesOnRepagination(t *testing.T) {
	ch := models.Chapter{
		ID:    "ch-1",
		Pages: []models.Page{{Index: 1, URL: "https://x/1.jpg"}},
	}
	rec := ChapterRecord{Pages: map[int]PageRecord{
		1: {Size: 10},
		7: {Size: 10}, // no longer in the chapter's page list
	}}

	_, ok := Confirmed(rec, ch, t.TempDir(), helpers.VerifyPageFile)
	assert.False(t, ok, "a record referencing an unknown page must be discarded wholesale")
}

func TestConcurrentRecords(t *testing.T) {
	s := openTestStore(t)

	done := make(chan struct{})
	for w := 0; w < 4; w++ {
		go func(w int) {
			defer func() { done <- struct{}{} }()
			for i := 1; i <= 20; i++ {
				_ = s.Record("job", "ch-1", w*100+i, PageRecord{Size: int64(i)})
			}
		}(w)
	}
	for i := 0; i < 4; i++ {
		<-done
	}

	rec, err := s.Load("job", "ch-1")
	require.NoError(t, err)
	assert.Len(t, rec.Pages, 80, "concurrent records must not lose updates")
}
