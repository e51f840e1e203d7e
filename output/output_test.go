package output

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pevans/plugcrawl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper: create a test run store
func createTestRunStore(t *testing.T) *RunStore {
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	store, err := NewRunStore(dbPath)
	require.NoError(t, err, "should create run store")
	t.Cleanup(func() { store.Close() })
	return store
}

// TestFileStore_AddAndGet verifies a record survives a write and read
func TestFileStore_AddAndGet(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	fs, err := NewFileStore(dir)
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())

	entry, err := fs.Add(plugcrawl.Record{"url": "http://a.example", "title": "A", "price": 10})
	require.NoError(t, err)
	assert.Equal(t, "http://a.example", entry.URL)

	info, err = os.Stat(filepath.Join(dir, entry.ID.String()+".json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := fs.Get(entry.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "A", got.Record["title"])
	assert.Equal(t, float64(10), got.Record["price"], "numbers decode as float64")
}

func TestFileStore_GetMissing(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	got, err := fs.Get(uuid.New())
	require.NoError(t, err)
	assert.Nil(t, got)
}

// TestFileStore_ListCollectsErrors verifies a corrupted file does not fail
// the whole listing
func TestFileStore_ListCollectsErrors(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	require.NoError(t, err)

	first, err := fs.Add(plugcrawl.Record{"n": 1})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = fs.Add(plugcrawl.Record{"n": 2})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	result, err := fs.List()
	require.NoError(t, err)
	require.Len(t, result.Entries, 2)
	assert.Equal(t, first.ID, result.Entries[0].ID, "oldest first")
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "broken.json", result.Errors[0].Filename)

	require.NoError(t, fs.Delete(first.ID))
	result, err = fs.List()
	require.NoError(t, err)
	assert.Len(t, result.Entries, 1)
}

// TestRunStore_Lifecycle verifies records and errors are counted against a
// run until it is finished
func TestRunStore_Lifecycle(t *testing.T) {
	store := createTestRunStore(t)

	run, err := store.CreateRun([]string{"products", "offers"})
	require.NoError(t, err)
	assert.False(t, run.IsFinished())

	_, err = store.AddRecord(run.RunID, plugcrawl.Record{"url": "http://a.example", "title": "A"})
	require.NoError(t, err)
	_, err = store.AddRecord(run.RunID, plugcrawl.Record{"url": "http://b.example", "title": "B"})
	require.NoError(t, err)
	require.NoError(t, store.AddError(run.RunID))

	finished, err := store.FinishRun(run.RunID)
	require.NoError(t, err)
	assert.True(t, finished.IsFinished())
	assert.Equal(t, 2, finished.Records)
	assert.Equal(t, 1, finished.Errors)
	assert.Equal(t, []string{"products", "offers"}, finished.Scenarios)
	assert.True(t, run.StartedAt.Equal(finished.StartedAt))

	records, err := store.ListRecords(run.RunID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "http://a.example", records[0].URL)
	assert.Equal(t, "B", records[1].Payload["title"])

	_, err = store.AddRecord(run.RunID, plugcrawl.Record{"url": "http://c.example"})
	assert.ErrorIs(t, err, ErrRunFinished)
	_, err = store.FinishRun(run.RunID)
	assert.ErrorIs(t, err, ErrRunFinished)

	records, err = store.ListRecords(run.RunID)
	require.NoError(t, err)
	assert.Len(t, records, 2, "rejected record is rolled back")
}

func TestRunStore_NotFound(t *testing.T) {
	store := createTestRunStore(t)

	_, err := store.GetRun(uuid.New())
	assert.ErrorIs(t, err, ErrRunNotFound)

	_, err = store.AddRecord(uuid.New(), plugcrawl.Record{})
	assert.ErrorIs(t, err, ErrRunNotFound)

	_, err = store.ListRecords(uuid.New())
	assert.ErrorIs(t, err, ErrRunNotFound)
}

// TestRunStore_ListRuns verifies runs are listed most recent first and
// persist across reopen
func TestRunStore_ListRuns(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	store, err := NewRunStore(dbPath)
	require.NoError(t, err)

	first, err := store.CreateRun(nil)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := store.CreateRun([]string{"x"})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = NewRunStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	runs, err := store.ListRuns(0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.RunID, runs[0].RunID)
	assert.Equal(t, first.RunID, runs[1].RunID)
	assert.Empty(t, runs[1].Scenarios)

	runs, err = store.ListRuns(1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
