// Package output persists extracted records.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pevans/plugcrawl"
)

// Entry is one stored record together with its bookkeeping.
type Entry struct {
	ID        uuid.UUID        `json:"id"`
	URL       string           `json:"url,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	Record    plugcrawl.Record `json:"record"`
}

// FileStore keeps one JSON file per record in a directory.
type FileStore struct {
	dir string
}

// ReadError describes a failure to read a single record file.
type ReadError struct {
	Filename string
	Err      error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("%s: %v", e.Filename, e.Err)
}

// ListResult contains the stored entries and any per-file errors that
// occurred while listing them.
type ListResult struct {
	Entries []Entry
	Errors  []ReadError
}

// NewFileStore creates a store in dir, creating the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	// 0700: owner-only access
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the storage directory.
func (fs *FileStore) Dir() string {
	return fs.dir
}

// Add writes rec to a new file and returns its entry.
func (fs *FileStore) Add(rec plugcrawl.Record) (Entry, error) {
	entry := Entry{
		ID:        uuid.New(),
		CreatedAt: time.Now().UTC(),
		Record:    rec,
	}
	entry.URL, _ = rec["url"].(string)

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return Entry{}, fmt.Errorf("failed to marshal record: %w", err)
	}

	filename := filepath.Join(fs.dir, entry.ID.String()+".json")
	// 0600: owner-only read/write
	if err := os.WriteFile(filename, data, 0o600); err != nil {
		return Entry{}, fmt.Errorf("failed to write record: %w", err)
	}

	return entry, nil
}

// List returns every stored entry, oldest first. Corrupted files are
// collected in the result's Errors rather than failing the whole listing.
func (fs *FileStore) List() (*ListResult, error) {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read output directory: %w", err)
	}

	result := &ListResult{}
	for _, de := range entries {
		if de.IsDir() || filepath.Ext(de.Name()) != ".json" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(fs.dir, de.Name()))
		if err != nil {
			result.Errors = append(result.Errors, ReadError{Filename: de.Name(), Err: err})
			continue
		}

		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			result.Errors = append(result.Errors, ReadError{Filename: de.Name(), Err: err})
			continue
		}

		result.Entries = append(result.Entries, entry)
	}

	sort.SliceStable(result.Entries, func(i, j int) bool {
		return result.Entries[i].CreatedAt.Before(result.Entries[j].CreatedAt)
	})
	return result, nil
}

// Get retrieves an entry by its ID. It returns nil if no such entry exists.
func (fs *FileStore) Get(id uuid.UUID) (*Entry, error) {
	data, err := os.ReadFile(filepath.Join(fs.dir, id.String()+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // Not found (not an error)
		}
		return nil, fmt.Errorf("failed to read record: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &entry, nil
}

// Delete removes an entry by its ID.
func (fs *FileStore) Delete(id uuid.UUID) error {
	if err := os.Remove(filepath.Join(fs.dir, id.String()+".json")); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}
