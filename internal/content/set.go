package content

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/cookfarm/cookfarm/internal/metadata"
	"github.com/cookfarm/cookfarm/pkg/types"
	"github.com/cookfarm/cookfarm/pkg/utils"
)

// StorePath returns the file that backs store name. Authoritative stores
// (empty owner) are <dir>/<name>.bulk, private ones <dir>/<name>.<owner>.private.
func StorePath(dir, name, owner string) string {
	if owner == "" {
		return filepath.Join(dir, name+".bulk")
	}
	return filepath.Join(dir, name+"."+owner+".private")
}

// Set lazily opens the stores of one owner inside one directory
type Set struct {
	dir       string
	owner     string
	alignment int64

	mu     sync.Mutex
	stores map[string]*Store
}

// NewSet creates a store set. An empty owner makes it the authoritative set.
func NewSet(dir, owner string, alignment int64) *Set {
	return &Set{
		dir:       dir,
		owner:     owner,
		alignment: alignment,
		stores:    make(map[string]*Store),
	}
}

// Owner returns the owner tag of every store in the set
func (s *Set) Owner() string { return s.owner }

// Dir returns the directory the store files live in
func (s *Set) Dir() string { return s.dir }

// Alignment returns the block size
func (s *Set) Alignment() int64 { return s.alignment }

// Get returns the named store, opening it on first use
func (s *Set) Get(name string) (*Store, error) {
	if !types.ValidStoreName(name) {
		return nil, fmt.Errorf("invalid content store name %q", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.stores[name]; ok {
		return st, nil
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	st, err := Open(StorePath(s.dir, name, s.owner), name, s.owner, s.alignment)
	if err != nil {
		return nil, err
	}
	s.stores[name] = st
	return st, nil
}

// Write places p under key in the named store
func (s *Set) Write(idx metadata.Index, store, key string, p Payload) (metadata.Record, error) {
	st, err := s.Get(store)
	if err != nil {
		return metadata.Record{}, err
	}
	return st.Write(idx, key, p)
}

// Read returns the payload bytes of a record held by this set
func (s *Set) Read(rec metadata.Record) ([]byte, error) {
	if rec.Owner != s.owner {
		return nil, fmt.Errorf("record owned by %q read from set owned by %q", rec.Owner, s.owner)
	}
	st, err := s.Get(rec.Store)
	if err != nil {
		return nil, err
	}
	return st.Read(rec)
}

// Names returns the names of the open stores, sorted
func (s *Set) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.stores))
	for name := range s.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Sync flushes every open store
func (s *Set) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, st := range s.stores {
		errs = append(errs, st.Sync())
	}
	return errors.Join(errs...)
}

// Close closes every open store. The set can be reused afterwards; stores
// are reopened on demand.
func (s *Set) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for name, st := range s.stores {
		errs = append(errs, st.Close())
		delete(s.stores, name)
	}
	return errors.Join(errs...)
}

// Files returns every store file of this owner present in the directory
func (s *Set) Files() ([]string, error) {
	pattern := "*.bulk"
	if s.owner != "" {
		pattern = "*." + s.owner + ".private"
	}
	files, err := filepath.Glob(filepath.Join(s.dir, pattern))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// Remove closes the set and deletes its store files
func (s *Set) Remove() error {
	if err := s.Close(); err != nil {
		return err
	}
	files, err := s.Files()
	if err != nil {
		return err
	}
	fsu := utils.NewFileSystemUtils()
	for _, f := range files {
		if err := fsu.Remove(f); err != nil {
			return fmt.Errorf("remove content store: %w", err)
		}
	}
	return nil
}
