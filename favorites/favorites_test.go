package favorites

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToggleAndAll(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "favorites.json"))

	all, err := s.All()
	require.NoError(t, err)
	assert.Empty(t, all)

	nowFav, err := s.Toggle("list")
	require.NoError(t, err)
	assert.True(t, nowFav)

	nowFav, err = s.Toggle("say hello")
	require.NoError(t, err)
	assert.True(t, nowFav)

	all, err = s.All()
	require.NoError(t, err)
	assert.Equal(t, []string{"list", "say hello"}, all)

	nowFav, err = s.Toggle("list")
	require.NoError(t, err)
	assert.False(t, nowFav)

	all, err = s.All()
	require.NoError(t, err)
	assert.Equal(t, []string{"say hello"}, all)
}

func TestSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "favorites.json")
	s := NewFileStore(path)
	_, err := s.Toggle("list")
	require.NoError(t, err)

	reopened := NewFileStore(path)
	all, err := reopened.All()
	require.NoError(t, err)
	assert.Equal(t, []string{"list"}, all)
}

func TestRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "favorites.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s := NewFileStore(path)
	_, err := s.All()
	require.Error(t, err)
}
