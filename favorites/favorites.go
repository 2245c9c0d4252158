// Package favorites keeps the user's favorite console commands. It is
// a small keyed set behind an explicit interface so the UI does not
// care where it persists.
package favorites

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Store is the favorite-command set. Toggle adds an absent command and
// removes a present one, reporting whether it is now a favorite.
type Store interface {
	All() ([]string, error)
	Toggle(command string) (bool, error)
}

// FileStore persists favorites as a JSON array in a single file,
// written atomically via a temp-file rename.
type FileStore struct {
	path string

	mut sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// DefaultPath places the favorites file under the user config dir.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("finding user config dir: %w", err)
	}
	return filepath.Join(dir, "consoled", "favorites.json"), nil
}

func (s *FileStore) load() (map[string]struct{}, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]struct{}{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading favorites: %w", err)
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parsing favorites: %w", err)
	}
	set := make(map[string]struct{}, len(list))
	for _, c := range list {
		set[c] = struct{}{}
	}
	return set, nil
}

func (s *FileStore) save(set map[string]struct{}) error {
	list := make([]string, 0, len(set))
	for c := range set {
		list = append(list, c)
	}
	sort.Strings(list)
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding favorites: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating favorites dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing favorites: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing favorites: %w", err)
	}
	return nil
}

// All returns the favorites in sorted order.
func (s *FileStore) All() ([]string, error) {
	s.mut.Lock()
	defer s.mut.Unlock()
	set, err := s.load()
	if err != nil {
		return nil, err
	}
	list := make([]string, 0, len(set))
	for c := range set {
		list = append(list, c)
	}
	sort.Strings(list)
	return list, nil
}

// Toggle flips membership for command and reports the new state.
func (s *FileStore) Toggle(command string) (bool, error) {
	s.mut.Lock()
	defer s.mut.Unlock()
	set, err := s.load()
	if err != nil {
		return false, err
	}
	if _, ok := set[command]; ok {
		delete(set, command)
	} else {
		set[command] = struct{}{}
	}
	if err := s.save(set); err != nil {
		return false, err
	}
	_, nowFavorite := set[command]
	return nowFavorite, nil
}
