package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"go-manga-download/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleManifest = `{
  "id": "one-piece",
  "title": "One Piece",
  "chapters": [
    {"id": "c1", "title": "Romance Dawn", "number": 1,
     "pages": [{"index": 1, "url": "https://img.example/1/1.jpg"},
               {"index": 2, "url": "https://img.example/1/2.png"}]},
    {"id": "c2", "title": "They Call Him Zoro", "number": 2,
     "pages": [{"index": 1, "url": "https://img.example/2/1.jpg"}]}
  ]
}`

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "manga.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadManifest(t *testing.T) {
	m, err := Load(writeManifest(t, sampleManifest))
	require.NoError(t, err)
	assert.Equal(t, "One Piece", m.Title)
	require.Len(t, m.Chapters, 2)
	assert.Equal(t, 3, m.TotalPages())
	assert.Equal(t, "page_002.png", m.Chapters[0].Pages[1].Filename())
}

func TestLoadManifestRejectsGarbage(t *testing.T) {
	_, err := Load(writeManifest(t, "{not json"))
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(m *models.Manga)
		wantErr string
	}{
		{"valid", func(m *models.Manga) {}, ""},
		{"no identity", func(m *models.Manga) { m.ID, m.Title = "", "" }, "neither title nor id"},
		{"no chapters", func(m *models.Manga) { m.Chapters = nil }, "no chapters"},
		{"duplicate chapter id", func(m *models.Manga) { m.Chapters[1].ID = m.Chapters[0].ID }, "duplicate chapter id"},
		{"missing page url", func(m *models.Manga) { m.Chapters[0].Pages[0].URL = "" }, "has no url"},
		{"zero page index", func(m *models.Manga) { m.Chapters[0].Pages[0].Index = 0 }, "1-based"},
		{"duplicate page index", func(m *models.Manga) { m.Chapters[0].Pages[1].Index = 1 }, "duplicate page index"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Load(writeManifest(t, sampleManifest))
			require.NoError(t, err)
			tt.mutate(m)
			err = Validate(m)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestSelectChapters(t *testing.T) {
	m, err := Load(writeManifest(t, sampleManifest))
	require.NoError(t, err)

	all, err := SelectChapters(m, "all")
	require.NoError(t, err)
	assert.Len(t, all.Chapters, 2)

	single, err := SelectChapters(m, "2")
	require.NoError(t, err)
	require.Len(t, single.Chapters, 1)
	assert.Equal(t, "c2", single.Chapters[0].ID)

	ranged, err := SelectChapters(m, "1-2")
	require.NoError(t, err)
	assert.Len(t, ranged.Chapters, 2)

	_, err = SelectChapters(m, "99")
	assert.Error(t, err, "empty selection is an error, not a silent no-op")

	_, err = SelectChapters(m, "5-2")
	assert.Error(t, err)

	_, err = SelectChapters(m, "abc")
	assert.Error(t, err)
}
