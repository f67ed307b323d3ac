package index

import (
	"os"
	"time"

	"github.com/blevesearch/bleve/v2"
	log "github.com/sirupsen/logrus"
)

const defaultIndexPath = "manga.bleve"

// Item is one downloaded chapter as recorded in the search index. All fields
// are searchable by their lowercase JSON tag names (e.g. the query
// '+mangaTitle:berserk' or '+format:cbz').
type Item struct {
	ID            string    `json:"id"` // <job_key>/<chapter_id>
	MangaID       string    `json:"mangaId,omitempty"`
	MangaTitle    string    `json:"mangaTitle"`
	ChapterID     string    `json:"chapterId"`
	ChapterTitle  string    `json:"chapterTitle,omitempty"`
	ChapterNumber float64   `json:"chapterNumber"`
	Format        string    `json:"format"`
	ArchivePath   string    `json:"archivePath"`
	PageCount     float64   `json:"pageCount"`
	DownloadedAt  time.Time `json:"downloadedAt"`
}

// OpenOrCreateIndex opens an existing Bleve index or creates a new one if it
// doesn't exist.
func OpenOrCreateIndex(indexPath string) (bleve.Index, error) {
	if indexPath == "" {
		indexPath = defaultIndexPath
	}

	idx, err := bleve.Open(indexPath)
	if err == bleve.ErrorIndexPathDoesNotExist {
		log.Infof("Creating new index at: %s", indexPath)
		mapping := bleve.NewIndexMapping()
		return bleve.New(indexPath, mapping)
	} else if err != nil {
		return nil, err
	}
	log.Debugf("Opened existing index at: %s", indexPath)
	return idx, nil
}

// IndexItem adds or updates a chapter in the index.
func IndexItem(idx bleve.Index, item Item) error {
	return idx.Index(item.ID, item)
}

// SearchIndex runs a query-string search and returns all stored fields.
func SearchIndex(idx bleve.Index, query string) (*bleve.SearchResult, error) {
	searchQuery := bleve.NewQueryStringQuery(query)
	searchRequest := bleve.NewSearchRequest(searchQuery)
	searchRequest.Fields = []string{"*"}
	searchRequest.Size = 100
	return idx.Search(searchRequest)
}

// DeleteIndex removes the index directory. Use with caution!
func DeleteIndex(indexPath string) error {
	if indexPath == "" {
		indexPath = defaultIndexPath
	}
	log.Warnf("Deleting index at: %s", indexPath)
	return os.RemoveAll(indexPath)
}
