package persistent

import (
	"github.com/pkg/errors"
)

// NewDummyStore creates new dummy store.
func NewDummyStore() *DummyStore {
	return &DummyStore{}
}

// DummyStore defines no-op store used when recording is disabled.
type DummyStore struct {
	offset uint64
}

// Write drops the data and moves the cursor.
func (s *DummyStore) Write(data []byte) error {
	s.offset += uint64(len(data))
	return nil
}

// Read returns an error because there is nothing to read.
func (s *DummyStore) Read(_ []byte, minSize int) (int, error) {
	if minSize > 0 {
		return 0, errors.WithStack(ErrTruncated)
	}
	return 0, nil
}

// Offset returns the number of bytes dropped so far.
func (s *DummyStore) Offset() (uint64, error) {
	return s.offset, nil
}

// Seek moves the cursor.
func (s *DummyStore) Seek(offset uint64) error {
	s.offset = offset
	return nil
}

// ReadAt returns an error because there is nothing to read.
func (s *DummyStore) ReadAt(_ []byte, offset uint64) error {
	return errors.Wrapf(ErrTruncated, "dummy store can't be read at %d", offset)
}

// WriteAt is a no-op implementation.
func (s *DummyStore) WriteAt(_ []byte, _ uint64) error {
	return nil
}

// Size returns the number of bytes dropped so far.
func (s *DummyStore) Size() (uint64, error) {
	return s.offset, nil
}

// Sync does nothing.
func (s *DummyStore) Sync() error {
	return nil
}

// Close does nothing.
func (s *DummyStore) Close() error {
	return nil
}
