package persistent

import (
	"github.com/pkg/errors"
)

// NewMemoryStore creates new in-memory store initialized with data.
func NewMemoryStore(data []byte) *MemoryStore {
	return &MemoryStore{
		data: data,
	}
}

// MemoryStore defines in-memory store. Used for testing and for reading unpacked archives.
type MemoryStore struct {
	data   []byte
	offset uint64
	closed bool
}

// Bytes returns the content of the store.
func (s *MemoryStore) Bytes() []byte {
	return s.data
}

// Write writes data to the store.
func (s *MemoryStore) Write(data []byte) error {
	if s.closed {
		return errors.New("store is closed")
	}
	end := s.offset + uint64(len(data))
	if end > uint64(len(s.data)) {
		s.data = append(s.data, make([]byte, end-uint64(len(s.data)))...)
	}
	copy(s.data[s.offset:], data)
	s.offset = end
	return nil
}

// Read reads data from the store.
func (s *MemoryStore) Read(buf []byte, minSize int) (int, error) {
	if s.closed {
		return 0, errors.New("store is closed")
	}
	var n int
	if s.offset < uint64(len(s.data)) {
		n = copy(buf, s.data[s.offset:])
	}
	s.offset += uint64(n)
	if n < minSize {
		return n, errors.WithStack(ErrTruncated)
	}
	return n, nil
}

// Offset returns the position of the cursor.
func (s *MemoryStore) Offset() (uint64, error) {
	return s.offset, nil
}

// Seek moves the cursor.
func (s *MemoryStore) Seek(offset uint64) error {
	s.offset = offset
	return nil
}

// ReadAt reads data at offset.
func (s *MemoryStore) ReadAt(buf []byte, offset uint64) error {
	if offset+uint64(len(buf)) > uint64(len(s.data)) {
		return errors.Wrapf(ErrTruncated, "can't read log position %d", offset)
	}
	copy(buf, s.data[offset:])
	return nil
}

// WriteAt writes data at offset.
func (s *MemoryStore) WriteAt(data []byte, offset uint64) error {
	if offset+uint64(len(data)) > uint64(len(s.data)) {
		return errors.Errorf("can't patch log position %d", offset)
	}
	copy(s.data[offset:], data)
	return nil
}

// Size returns size of the store.
func (s *MemoryStore) Size() (uint64, error) {
	return uint64(len(s.data)), nil
}

// Sync does nothing.
func (s *MemoryStore) Sync() error {
	return nil
}

// Close closes the store.
func (s *MemoryStore) Close() error {
	s.closed = true
	return nil
}
