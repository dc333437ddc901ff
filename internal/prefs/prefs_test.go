package prefs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetGetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.toml")

	store := NewFileStore(path)
	assert.NoError(t, store.Set("favorites", "a,b,c"))

	v, ok := store.Get("favorites")
	assert.True(t, ok)
	assert.Equal(t, "a,b,c", v)

	reloaded := NewFileStore(path)
	v, ok = reloaded.Get("favorites")
	assert.True(t, ok)
	assert.Equal(t, "a,b,c", v)
}

func TestMissingFileStartsEmpty(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "nope", "prefs.toml"))
	_, ok := store.Get("favorites")
	assert.False(t, ok)
}

func TestCorruptFileDegradesToEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.toml")
	assert.NoError(t, os.WriteFile(path, []byte("{{{ not toml"), 0o644))

	store := NewFileStore(path)
	_, ok := store.Get("favorites")
	assert.False(t, ok)

	// A corrupt store still accepts new writes.
	assert.NoError(t, store.Set("favorites", "x"))
	v, ok := NewFileStore(path).Get("favorites")
	assert.True(t, ok)
	assert.Equal(t, "x", v)
}

func TestSetCreatesMissingDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "prefs.toml")
	store := NewFileStore(path)
	assert.NoError(t, store.Set("favorites", "y"))

	_, err := os.Stat(path)
	assert.NoError(t, err)
}
