package persistent

import (
	"io"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// CreateFileStore creates or truncates the log file and opens it for writing.
func CreateFileStore(path string) (*FileStore, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC|unix.O_NOCTTY|unix.O_CLOEXEC, 0o600)
	if err != nil {
		return nil, errors.Wrapf(err, "can't create log file '%s'", path)
	}
	return NewFileStore(file, path), nil
}

// OpenFileStore opens existing log file for reading.
func OpenFileStore(path string) (*FileStore, error) {
	file, err := os.OpenFile(path, os.O_RDONLY|unix.O_NOCTTY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "can't open log file '%s'", path)
	}
	return NewFileStore(file, path), nil
}

// NewFileStore creates new file-based store.
func NewFileStore(file *os.File, path string) *FileStore {
	return &FileStore{
		file: file,
		fd:   int(file.Fd()),
		path: path,
	}
}

// FileStore defines persistent file-based store.
type FileStore struct {
	file *os.File
	fd   int
	path string
}

// File returns the underlying file.
func (s *FileStore) File() *os.File {
	return s.file
}

// Path returns the path the store was opened with.
func (s *FileStore) Path() string {
	return s.path
}

// Write writes data to the store.
func (s *FileStore) Write(data []byte) error {
	for len(data) > 0 {
		n, err := unix.Write(s.fd, data)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return errors.Wrapf(err, "writing to log file '%s' failed", s.path)
		}
		if n == 0 {
			return errors.Errorf("writing to log file '%s': unexpected non-blocking mode", s.path)
		}
		data = data[n:]
	}
	return nil
}

// Read reads data from the store.
func (s *FileStore) Read(buf []byte, minSize int) (int, error) {
	var read int
	for {
		n, err := unix.Read(s.fd, buf[read:])
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return read, errors.Wrapf(err, "reading log file '%s' failed", s.path)
		}
		if n == 0 {
			if read < minSize {
				return read, errors.WithStack(ErrTruncated)
			}
			return read, nil
		}
		read += n
		if read >= minSize {
			return read, nil
		}
	}
}

// Offset returns the position of the cursor.
func (s *FileStore) Offset() (uint64, error) {
	offset, err := unix.Seek(s.fd, 0, io.SeekCurrent)
	if err != nil {
		return 0, errors.Wrapf(err, "can't get position in log file '%s'", s.path)
	}
	return uint64(offset), nil
}

// Seek moves the cursor.
func (s *FileStore) Seek(offset uint64) error {
	if _, err := unix.Seek(s.fd, int64(offset), io.SeekStart); err != nil {
		return errors.Wrapf(err, "can't seek log file '%s' to %d", s.path, offset)
	}
	return nil
}

// ReadAt reads data at offset.
func (s *FileStore) ReadAt(buf []byte, offset uint64) error {
	n, err := unix.Pread(s.fd, buf, int64(offset))
	if err != nil {
		return errors.Wrapf(err, "can't read log position %d", offset)
	}
	if n != len(buf) {
		return errors.Wrapf(ErrTruncated, "can't read log position %d", offset)
	}
	return nil
}

// WriteAt writes data at offset.
func (s *FileStore) WriteAt(data []byte, offset uint64) error {
	n, err := unix.Pwrite(s.fd, data, int64(offset))
	if err != nil {
		return errors.Wrapf(err, "can't patch log position %d", offset)
	}
	if n != len(data) {
		return errors.Errorf("can't patch log position %d", offset)
	}
	return nil
}

// Size returns size of the store.
func (s *FileStore) Size() (uint64, error) {
	var st unix.Stat_t
	if err := unix.Fstat(s.fd, &st); err != nil {
		return 0, errors.Wrapf(err, "can't stat log file '%s'", s.path)
	}
	return uint64(st.Size), nil
}

// Sync syncs pending writes.
func (s *FileStore) Sync() error {
	return errors.WithStack(s.file.Sync())
}

// Close closes the file.
func (s *FileStore) Close() error {
	return errors.WithStack(s.file.Close())
}

// Reopen opens the same file again so the new store has its own cursor, positioned where this one is.
// On Linux the file is reopened through /proc/self/fd so it works even if the path has changed meanwhile.
func (s *FileStore) Reopen() (*FileStore, error) {
	offset, err := s.Offset()
	if err != nil {
		return nil, err
	}

	name := "/proc/self/fd/" + strconv.Itoa(s.fd)
	var st unix.Stat_t
	if err := unix.Lstat(name, &st); err != nil {
		name = s.path
	}

	file, err := os.OpenFile(name, os.O_RDONLY|unix.O_NOCTTY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "can't reopen log file '%s'", s.path)
	}
	store := NewFileStore(file, s.path)
	if err := store.Seek(offset); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}
