// Package content implements the append-only, block-aligned binary stores
// that hold deduplicated payloads.
package content

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/cookfarm/cookfarm/internal/metadata"
)

// ErrClosed is returned when a closed store is used
var ErrClosed = errors.New("content store closed")

// Payload is one blob to place in a store
type Payload struct {
	Data         []byte
	Identity     string
	ElementCount int64
	Flags        uint32
}

// Store is a single store file. Records are aligned to a fixed block size and
// the gap between a payload's end and the next boundary is zero filled.
type Store struct {
	name      string
	owner     string
	path      string
	alignment int64

	mu   sync.Mutex
	file *os.File
	end  int64
}

// Open opens or creates the store file at path. Name and owner are stamped
// into every record the store produces.
func Open(path, name, owner string, alignment int64) (*Store, error) {
	if alignment < 1 {
		alignment = 1
	}
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open content store %s: %w", path, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat content store %s: %w", path, err)
	}

	return &Store{
		name:      name,
		owner:     owner,
		path:      path,
		alignment: alignment,
		file:      file,
		end:       metadata.AlignUp(info.Size(), alignment),
	}, nil
}

// Name returns the logical store name
func (s *Store) Name() string { return s.name }

// Owner returns the owner tag, empty for an authoritative store
func (s *Store) Owner() string { return s.owner }

// Path returns the file backing the store
func (s *Store) Path() string { return s.path }

// End returns the aligned end-of-file offset where the next append lands
func (s *Store) End() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.end
}

// Write places p under key. An existing record with the same identity that
// lives in this store is overwritten in place when the new payload fits its
// aligned slot; anything else is appended. Bytes given up either way are
// added to the index's waste counter.
func (s *Store) Write(idx metadata.Index, key string, p Payload) (metadata.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return metadata.Record{}, ErrClosed
	}

	newAligned := metadata.AlignUp(int64(len(p.Data)), s.alignment)
	old, exists := idx.Lookup(key)
	local := exists && old.SameLocation(s.name, s.owner)

	if local && old.Identity == p.Identity && newAligned <= old.AlignedSize(s.alignment) {
		rec := s.record(old.Offset, p)
		if err := s.writeAt(old.Offset, p.Data); err != nil {
			return metadata.Record{}, err
		}
		idx.Put(key, rec)
		idx.AddWaste(old.AlignedSize(s.alignment) - newAligned)
		return rec, nil
	}

	return s.appendLocked(idx, key, p, old, local)
}

func (s *Store) appendLocked(idx metadata.Index, key string, p Payload, old metadata.Record, supersedes bool) (metadata.Record, error) {
	offset := s.end
	if err := s.writeAt(offset, p.Data); err != nil {
		return metadata.Record{}, err
	}
	s.end = offset + metadata.AlignUp(int64(len(p.Data)), s.alignment)

	rec := s.record(offset, p)
	idx.Put(key, rec)
	if supersedes {
		idx.AddWaste(old.AlignedSize(s.alignment))
	}
	return rec, nil
}

func (s *Store) record(offset int64, p Payload) metadata.Record {
	return metadata.Record{
		Store:        s.name,
		Owner:        s.owner,
		Offset:       offset,
		Size:         int64(len(p.Data)),
		ElementCount: p.ElementCount,
		Flags:        p.Flags,
		Identity:     p.Identity,
	}
}

// writeAt writes data followed by zero padding up to the next boundary
func (s *Store) writeAt(offset int64, data []byte) error {
	if _, err := s.file.WriteAt(data, offset); err != nil {
		return fmt.Errorf("write content store %s at %d: %w", s.path, offset, err)
	}
	size := int64(len(data))
	if pad := metadata.AlignUp(size, s.alignment) - size; pad > 0 {
		if _, err := s.file.WriteAt(make([]byte, pad), offset+size); err != nil {
			return fmt.Errorf("pad content store %s at %d: %w", s.path, offset+size, err)
		}
	}
	return nil
}

// Read returns the payload bytes of rec
func (s *Store) Read(rec metadata.Record) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil, ErrClosed
	}
	if !rec.SameLocation(s.name, s.owner) {
		return nil, fmt.Errorf("record for %s/%q read from store %s/%q", rec.Store, rec.Owner, s.name, s.owner)
	}

	buf := make([]byte, rec.Size)
	if _, err := s.file.ReadAt(buf, rec.Offset); err != nil && !(errors.Is(err, io.EOF) && rec.Size == 0) {
		return nil, fmt.Errorf("read content store %s at %d: %w", s.path, rec.Offset, err)
	}
	return buf, nil
}

// Sync flushes the store to disk
func (s *Store) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	return s.file.Sync()
}

// Close flushes and closes the store file
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	syncErr := s.file.Sync()
	closeErr := s.file.Close()
	s.file = nil
	return errors.Join(syncErr, closeErr)
}
