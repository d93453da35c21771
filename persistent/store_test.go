package persistent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func newFileStore(t *testing.T) *FileStore {
	s, err := CreateFileStore(filepath.Join(t.TempDir(), "revdb.log"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"file":   newFileStore(t),
		"memory": NewMemoryStore(nil),
	}
}

func TestWriteRead(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			requireT := require.New(t)

			requireT.NoError(s.Write([]byte{0x01, 0x02, 0x03}))
			requireT.NoError(s.Write([]byte{0x04, 0x05}))

			offset, err := s.Offset()
			requireT.NoError(err)
			requireT.EqualValues(5, offset)

			size, err := s.Size()
			requireT.NoError(err)
			requireT.EqualValues(5, size)

			requireT.NoError(s.Seek(1))
			buf := make([]byte, 10)
			n, err := s.Read(buf, 2)
			requireT.NoError(err)
			requireT.Equal(4, n)
			requireT.Equal([]byte{0x02, 0x03, 0x04, 0x05}, buf[:n])

			n, err = s.Read(buf, 0)
			requireT.NoError(err)
			requireT.Zero(n)

			_, err = s.Read(buf, 1)
			requireT.ErrorIs(err, ErrTruncated)
		})
	}
}

func TestReadAtWriteAt(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			requireT := require.New(t)

			requireT.NoError(s.Write([]byte{0x01, 0x02, 0x03}))
			requireT.NoError(s.WriteAt([]byte{0xff}, 1))

			b := make([]byte, 3)
			requireT.NoError(s.ReadAt(b, 0))
			requireT.Equal([]byte{0x01, 0xff, 0x03}, b)

			offset, err := s.Offset()
			requireT.NoError(err)
			requireT.EqualValues(3, offset)

			requireT.Error(s.ReadAt(b, 1))
		})
	}
}

func TestReopen(t *testing.T) {
	requireT := require.New(t)

	s := newFileStore(t)
	requireT.NoError(s.Write([]byte("0123456789")))
	requireT.NoError(s.Seek(4))

	s2, err := s.Reopen()
	requireT.NoError(err)
	t.Cleanup(func() {
		_ = s2.Close()
	})

	buf := make([]byte, 3)
	_, err = s2.Read(buf, 3)
	requireT.NoError(err)
	requireT.Equal("456", string(buf))

	// Cursors are independent.
	offset, err := s.Offset()
	requireT.NoError(err)
	requireT.EqualValues(4, offset)

	requireT.Equal(s.Path(), s2.Path())
}

func TestOpenMissingFile(t *testing.T) {
	_, err := OpenFileStore(filepath.Join(t.TempDir(), "missing.log"))
	require.Error(t, err)
	require.True(t, errors.Is(err, os.ErrNotExist))
}

func TestDummyStore(t *testing.T) {
	requireT := require.New(t)

	s := NewDummyStore()
	requireT.NoError(s.Write(make([]byte, 10)))
	offset, err := s.Offset()
	requireT.NoError(err)
	requireT.EqualValues(10, offset)

	_, err = s.Read(make([]byte, 1), 1)
	requireT.ErrorIs(err, ErrTruncated)
	requireT.Error(s.ReadAt(make([]byte, 1), 0))
	requireT.NoError(s.Sync())
	requireT.NoError(s.Close())
}
