package resume

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go-manga-download/internal/models"

	"git.mills.io/prologic/bitcask"
	log "github.com/sirupsen/logrus"
)

// ErrNotFound is returned when no record exists for a key.
var ErrNotFound = errors.New("resume record not found")

// gzipMagicBytes are the first two bytes of a gzip stream.
var gzipMagicBytes = []byte{0x1f, 0x8b}

// CorruptRecordError marks an unreadable resume record. It is never fatal:
// the caller drops the record and re-downloads the affected chapter in full.
type CorruptRecordError struct {
	Key string
	Err error
}

func (e *CorruptRecordError) Error() string {
	return fmt.Sprintf("corrupt resume record %q: %v", e.Key, e.Err)
}

func (e *CorruptRecordError) Unwrap() error { return e.Err }

// PageRecord is one confirmed page: byte length plus BLAKE3 checksum of the
// file as renamed into place.
type PageRecord struct {
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
}

// ChapterRecord is the durable value stored per (job, chapter).
type ChapterRecord struct {
	Pages map[int]PageRecord `json:"pages"`
}

// Store persists which pages of a job have been confirmed on disk, so an
// interrupted job restarts with only the missing pages. Values are
// gzip-compressed JSON in a bitcask database.
type Store struct {
	db *bitcask.Bitcask
	mu sync.RWMutex
}

// Open initializes the store, creating the database directory if needed.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	db, err := bitcask.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open resume database at %s: %w", path, err)
	}
	log.Debugf("Resume database opened at %s", path)
	return &Store{db: db}, nil
}

// Close safely closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Load returns the chapter record for (jobKey, chapterID). A missing key
// yields ErrNotFound; an unreadable value yields *CorruptRecordError.
func (s *Store) Load(jobKey, chapterID string) (ChapterRecord, error) {
	key := recordKey(jobKey, chapterID)

	s.mu.RLock()
	raw, err := s.db.Get(key)
	s.mu.RUnlock()
	if err != nil {
		if errors.Is(err, bitcask.ErrKeyNotFound) {
			return ChapterRecord{}, ErrNotFound
		}
		return ChapterRecord{}, fmt.Errorf("error getting key %s: %w", string(key), err)
	}

	value, err := decompressIfGzipped(raw)
	if err != nil {
		return ChapterRecord{}, &CorruptRecordError{Key: string(key), Err: err}
	}

	var rec ChapterRecord
	if err := json.Unmarshal(value, &rec); err != nil {
		return ChapterRecord{}, &CorruptRecordError{Key: string(key), Err: err}
	}
	if rec.Pages == nil {
		rec.Pages = make(map[int]PageRecord)
	}
	return rec, nil
}

// Record marks one page as confirmed. Callers must only invoke this after
// the page file has been durably renamed into place, never before.
func (s *Store) Record(jobKey, chapterID string, pageIndex int, page PageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey(jobKey, chapterID)
	rec := ChapterRecord{Pages: make(map[int]PageRecord)}
	if raw, err := s.db.Get(key); err == nil {
		if value, derr := decompressIfGzipped(raw); derr == nil {
			// A corrupt existing record is simply replaced.
			_ = json.Unmarshal(value, &rec)
			if rec.Pages == nil {
				rec.Pages = make(map[int]PageRecord)
			}
		}
	} else if !errors.Is(err, bitcask.ErrKeyNotFound) {
		return fmt.Errorf("error getting key %s: %w", string(key), err)
	}

	rec.Pages[pageIndex] = page
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("error marshalling record for %s: %w", string(key), err)
	}
	compressed, err := compressGzip(value, gzip.BestCompression)
	if err != nil {
		return fmt.Errorf("error compressing record for %s: %w", string(key), err)
	}
	if err := s.db.Put(key, compressed); err != nil {
		return fmt.Errorf("error putting key %s: %w", string(key), err)
	}
	return nil
}

// Invalidate removes the record for a chapter, forcing a full re-download.
// Used when the source-side page list no longer matches what was recorded.
func (s *Store) Invalidate(jobKey, chapterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey(jobKey, chapterID)
	if err := s.db.Delete(key); err != nil && !errors.Is(err, bitcask.ErrKeyNotFound) {
		return fmt.Errorf("error deleting key %s: %w", string(key), err)
	}
	return nil
}

// DeleteJob removes every chapter record belonging to a job.
func (s *Store) DeleteJob(jobKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := []byte(jobKey + "/")
	var keys [][]byte
	err := s.db.Scan(prefix, func(key []byte) error {
		k := make([]byte, len(key))
		copy(k, key)
		keys = append(keys, k)
		return nil
	})
	if err != nil {
		return fmt.Errorf("error scanning records for %s: %w", jobKey, err)
	}
	for _, key := range keys {
		if err := s.db.Delete(key); err != nil && !errors.Is(err, bitcask.ErrKeyNotFound) {
			return fmt.Errorf("error deleting key %s: %w", string(key), err)
		}
	}
	return nil
}

// Confirmed verifies a loaded record against the chapter's current page list
// and the files on disk. It returns the set of page indices that are safe to
// skip. Recorded indices absent from the current page list invalidate the
// whole record: the source repaginated and nothing recorded can be trusted.
func Confirmed(rec ChapterRecord, ch models.Chapter, chapterDir string, verify func(path string, size int64, checksum string) bool) (map[int]struct{}, bool) {
	current := make(map[int]models.Page, len(ch.Pages))
	for _, p := range ch.Pages {
		current[p.Index] = p
	}
	for idx := range rec.Pages {
		if _, ok := current[idx]; !ok {
			log.Warnf("Resume record for chapter %s references unknown page %d; discarding record", ch.ID, idx)
			return nil, false
		}
	}

	confirmed := make(map[int]struct{})
	for idx, pr := range rec.Pages {
		path := filepath.Join(chapterDir, current[idx].Filename())
		if verify(path, pr.Size, pr.Checksum) {
			confirmed[idx] = struct{}{}
		} else {
			log.Debugf("Recorded page %d of chapter %s failed verification; will re-download", idx, ch.ID)
		}
	}
	return confirmed, true
}

func recordKey(jobKey, chapterID string) []byte {
	return []byte(jobKey + "/" + chapterID)
}

// decompressIfGzipped decompresses the value if it carries a gzip header.
func decompressIfGzipped(value []byte) ([]byte, error) {
	if !bytes.HasPrefix(value, gzipMagicBytes) {
		return value, nil
	}
	gr, err := gzip.NewReader(bytes.NewReader(value))
	if err != nil {
		return nil, fmt.Errorf("creating gzip reader: %w", err)
	}
	defer gr.Close()
	out, err := io.ReadAll(gr)
	if err != nil {
		return nil, fmt.Errorf("decompressing value: %w", err)
	}
	return out, nil
}

// compressGzip compresses the value at the given level.
func compressGzip(value []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	gw, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := gw.Write(value); err != nil {
		_ = gw.Close()
		return nil, fmt.Errorf("writing compressed value: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}
