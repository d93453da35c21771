package persistent

import (
	"github.com/pkg/errors"
)

// ErrTruncated is returned when the store ends before the requested data.
var ErrTruncated = errors.New("log appears truncated")

// Store is the backing storage of the log.
type Store interface {
	// Write appends data at the cursor.
	Write(data []byte) error

	// Read reads at least minSize bytes and at most len(buf) bytes at the cursor.
	// With minSize equal to zero a single read is attempted and zero is returned at the end of the store.
	Read(buf []byte, minSize int) (int, error)

	// Offset returns the position of the cursor.
	Offset() (uint64, error)

	// Seek moves the cursor.
	Seek(offset uint64) error

	// ReadAt reads len(buf) bytes at offset without moving the cursor.
	ReadAt(buf []byte, offset uint64) error

	// WriteAt writes data at offset without moving the cursor.
	WriteAt(data []byte, offset uint64) error

	// Size returns size of the store.
	Size() (uint64, error)

	// Sync syncs pending writes.
	Sync() error

	// Close closes the store.
	Close() error
}
