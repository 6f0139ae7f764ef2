package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrCorrupt indicates the state file exists but cannot be decoded.
// Callers should treat this as fatal rather than silently starting fresh,
// since an empty state would re-dispatch the entire backlog.
var ErrCorrupt = errors.New("state file corrupt")

// RepoState holds the per-repository watermarks separating processed from
// unprocessed activity. Both fields are absent until first advanced.
type RepoState struct {
	LastIssueComment int64  `json:"lastIssueComment,omitempty"`
	LastPRUpdatedAt  string `json:"lastPrUpdatedAt,omitempty"`
}

// State maps "owner/repo" to its watermarks.
type State map[string]*RepoState

// Repo returns the record for fullName, creating it if absent.
func (s State) Repo(fullName string) *RepoState {
	rs, ok := s[fullName]
	if !ok {
		rs = &RepoState{}
		s[fullName] = rs
	}
	return rs
}

// Store loads and saves watcher state from a JSON file. The loaded snapshot
// is cached for the remainder of the process; only Save refreshes the cache.
type Store struct {
	path  string
	cache State
}

// NewStore creates a store backed by the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load returns the persisted state. A missing file yields an empty state;
// an unreadable or undecodable file yields an error wrapping ErrCorrupt.
// Repeated calls return the cached snapshot.
func (s *Store) Load() (State, error) {
	if s.cache != nil {
		return s.cache, nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.cache = State{}
			return s.cache, nil
		}
		return nil, fmt.Errorf("failed to read state file %s: %w", s.path, err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}
	if st == nil {
		st = State{}
	}
	s.cache = st
	return s.cache, nil
}

// Save serializes the full state, replacing any previous snapshot. The write
// goes through a temp file in the same directory followed by a rename, so a
// concurrent reader sees either the old or the new snapshot, never a partial
// one.
func (s *Store) Save(st State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	s.cache = st
	return nil
}
