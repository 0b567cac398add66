// Package storage keeps uploaded documents on the local filesystem.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"

	"github.com/doc-summarizer/backend/internal/models"
)

var filesBucket = []byte("files")

// ErrNotFound is returned for unknown file IDs.
var ErrNotFound = errors.New("file not found")

// Store defines the interface for file storage.
type Store interface {
	Save(name, mediaType string, r io.Reader) (*models.FileInfo, error)
	Get(id string) (*models.FileInfo, error)
	List(limit int) ([]*models.FileInfo, error)
	Delete(id string) error
	Rename(id string, newName string) (*models.FileInfo, error)
	ReadFile(id string) ([]byte, error)
	SetStatus(id string, status models.FileStatus) error
	SaveChunk(uploadID string, chunkIndex int, r io.Reader) error
	CompleteChunkedUpload(uploadID, name, mediaType string, totalChunks int) (*models.FileInfo, error)
}

// LocalStore implements Store using the local filesystem. Metadata lives
// in memory and, when an index path is given, in a bbolt file so uploads
// survive restarts.
type LocalStore struct {
	mu        sync.RWMutex
	uploadDir string
	files     map[string]*models.FileInfo
	index     *bbolt.DB
}

// NewLocalStore creates a new LocalStore. An empty indexPath keeps
// metadata in memory only.
func NewLocalStore(uploadDir, indexPath string) (*LocalStore, error) {
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}

	s := &LocalStore{
		uploadDir: uploadDir,
		files:     make(map[string]*models.FileInfo),
	}
	if indexPath == "" {
		return s, nil
	}

	db, err := bbolt.Open(indexPath, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening file index: %w", err)
	}
	s.index = db
	if err := s.load(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// load reads the index, dropping entries whose bytes are gone from disk.
func (s *LocalStore) load() error {
	var stale [][]byte
	err := s.index.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(filesBucket)
		if err != nil {
			return err
		}
		return b.ForEach(func(k, v []byte) error {
			var info models.FileInfo
			if err := msgpack.Unmarshal(v, &info); err != nil {
				stale = append(stale, append([]byte(nil), k...))
				return nil
			}
			if _, err := os.Stat(filepath.Join(s.uploadDir, info.ID)); err != nil {
				stale = append(stale, append([]byte(nil), k...))
				return nil
			}
			// An extraction interrupted by a restart will never finish.
			if info.Status == models.FileStatusExtracting {
				info.Status = models.FileStatusUploaded
			}
			s.files[info.ID] = &info
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("loading file index: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}
	return s.index.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(filesBucket)
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// persist writes info to the index. Callers hold s.mu.
func (s *LocalStore) persist(info *models.FileInfo) error {
	if s.index == nil {
		return nil
	}
	data, err := msgpack.Marshal(info)
	if err != nil {
		return fmt.Errorf("encoding file metadata: %w", err)
	}
	return s.index.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(filesBucket).Put([]byte(info.ID), data)
	})
}

func (s *LocalStore) unpersist(id string) error {
	if s.index == nil {
		return nil
	}
	return s.index.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(filesBucket).Delete([]byte(id))
	})
}

// Close releases the metadata index.
func (s *LocalStore) Close() error {
	if s.index == nil {
		return nil
	}
	return s.index.Close()
}

// Save writes r to a new file and records its metadata.
func (s *LocalStore) Save(name, mediaType string, r io.Reader) (*models.FileInfo, error) {
	id := uuid.New().String()
	path := filepath.Join(s.uploadDir, id)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating file: %w", err)
	}
	defer f.Close()

	size, err := io.Copy(f, r)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("writing file: %w", err)
	}

	info, err := s.register(id, name, mediaType, size)
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	return info, nil
}

func (s *LocalStore) register(id, name, mediaType string, size int64) (*models.FileInfo, error) {
	info := &models.FileInfo{
		ID:         id,
		Name:       name,
		MediaType:  mediaType,
		Size:       size,
		UploadedAt: time.Now(),
		Status:     models.FileStatusUploaded,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persist(info); err != nil {
		return nil, err
	}
	s.files[id] = info

	cp := *info
	return &cp, nil
}

// Get returns a copy of the file metadata.
func (s *LocalStore) Get(id string) (*models.FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.files[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	cp := *info
	return &cp, nil
}

// List returns the most recent files, newest first.
func (s *LocalStore) List(limit int) ([]*models.FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*models.FileInfo, 0, len(s.files))
	for _, info := range s.files {
		cp := *info
		list = append(list, &cp)
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].UploadedAt.After(list[j].UploadedAt)
	})

	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}

	return list, nil
}

// Delete removes a file from storage.
func (s *LocalStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	path := filepath.Join(s.uploadDir, id)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting file: %w", err)
	}

	delete(s.files, id)
	return s.unpersist(id)
}

// Rename updates the display name of a file.
func (s *LocalStore) Rename(id string, newName string) (*models.FileInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.files[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	updated := *info
	updated.Name = newName
	if err := s.persist(&updated); err != nil {
		return nil, err
	}
	*info = updated
	cp := updated
	return &cp, nil
}

// ReadFile returns the stored bytes of a file.
func (s *LocalStore) ReadFile(id string) ([]byte, error) {
	s.mu.RLock()
	_, ok := s.files[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	data, err := os.ReadFile(filepath.Join(s.uploadDir, id))
	if err != nil {
		return nil, fmt.Errorf("reading file %s: %w", id, err)
	}
	return data, nil
}

// SetStatus records the extraction state of a file.
func (s *LocalStore) SetStatus(id string, status models.FileStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.files[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	updated := *info
	updated.Status = status
	if err := s.persist(&updated); err != nil {
		return err
	}
	*info = updated
	return nil
}

// SaveChunk saves a single chunk to a temporary location.
func (s *LocalStore) SaveChunk(uploadID string, chunkIndex int, r io.Reader) error {
	if uploadID == "" || filepath.Base(uploadID) != uploadID {
		return fmt.Errorf("invalid upload id %q", uploadID)
	}
	chunkDir := filepath.Join(s.uploadDir, "chunks", uploadID)
	if err := os.MkdirAll(chunkDir, 0755); err != nil {
		return fmt.Errorf("creating chunk directory: %w", err)
	}

	path := filepath.Join(chunkDir, fmt.Sprintf("chunk_%d", chunkIndex))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating chunk file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("writing chunk: %w", err)
	}

	return nil
}

// CompleteChunkedUpload assembles all chunks into a final file.
func (s *LocalStore) CompleteChunkedUpload(uploadID, name, mediaType string, totalChunks int) (*models.FileInfo, error) {
	if uploadID == "" || filepath.Base(uploadID) != uploadID {
		return nil, fmt.Errorf("invalid upload id %q", uploadID)
	}
	id := uuid.New().String()
	finalPath := filepath.Join(s.uploadDir, id)
	chunkDir := filepath.Join(s.uploadDir, "chunks", uploadID)

	out, err := os.Create(finalPath)
	if err != nil {
		return nil, fmt.Errorf("creating final file: %w", err)
	}

	var totalSize int64
	for i := 0; i < totalChunks; i++ {
		n, err := appendChunk(out, filepath.Join(chunkDir, fmt.Sprintf("chunk_%d", i)))
		if err != nil {
			out.Close()
			os.Remove(finalPath)
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}
		totalSize += n
	}
	if err := out.Close(); err != nil {
		os.Remove(finalPath)
		return nil, fmt.Errorf("closing final file: %w", err)
	}

	os.RemoveAll(chunkDir)

	info, err := s.register(id, name, mediaType, totalSize)
	if err != nil {
		os.Remove(finalPath)
		return nil, err
	}
	return info, nil
}

func appendChunk(dst io.Writer, path string) (int64, error) {
	in, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer in.Close()
	return io.Copy(dst, in)
}
