package alloc

import (
	"os"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Allocate allocates aligned memory which is not scanned by the garbage collector.
// It is used for engine bookkeeping which must not hold references to host objects.
func Allocate(size, alignment uint64) (unsafe.Pointer, func(), error) {
	if size == 0 {
		return nil, nil, errors.New("allocation of zero bytes requested")
	}
	if alignment == 0 {
		alignment = 1
	}

	alignmentUintptr := uintptr(alignment)
	allocatedSize := uintptr(size) + alignmentUintptr
	dataP, err := unix.MmapPtr(-1, 0, nil, allocatedSize, unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_POPULATE)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "memory allocation of %d bytes failed", size)
	}

	dataPOrig := dataP

	diff := uint64((uintptr(dataP)+alignmentUintptr-1)/alignmentUintptr*alignmentUintptr - uintptr(dataP))
	dataP = unsafe.Add(dataP, diff)

	return dataP, func() {
		// munmap requires the size rounded up to the page size, otherwise nothing is released.
		pageSize := uintptr(os.Getpagesize())
		_ = unix.MunmapPtr(dataPOrig, (allocatedSize+pageSize-1)/pageSize*pageSize)
	}, nil
}

// Bytes allocates byte slice backed by memory returned by Allocate.
func Bytes(size uint64) ([]byte, func(), error) {
	p, deallocFunc, err := Allocate(size, uint64(os.Getpagesize()))
	if err != nil {
		return nil, nil, err
	}
	return unsafe.Slice((*byte)(p), size), deallocFunc, nil
}
