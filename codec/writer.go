package codec

import (
	"github.com/pkg/errors"

	"github.com/outofforest/photon"
	"github.com/outofforest/revdb/alloc"
	"github.com/outofforest/revdb/persistent"
	"github.com/outofforest/revdb/types"
)

// NewWriter creates new log writer. If store is nil, recording is disabled and packets are dropped.
func NewWriter(store persistent.Store, bufferSize uint64) (*Writer, func(), error) {
	if err := validateBufferSize(bufferSize); err != nil {
		return nil, nil, err
	}

	buf, deallocFunc, err := alloc.Bytes(bufferSize)
	if err != nil {
		return nil, nil, err
	}

	w := &Writer{
		store:    store,
		disabled: store == nil,
		buf:      buf,
		pos:      types.PacketHeaderLength,
		limit:    int(bufferSize),
	}
	if w.disabled {
		w.store = persistent.NewDummyStore()
	}

	return w, deallocFunc, nil
}

// Writer frames emitted values into packets and flushes them to the store.
type Writer struct {
	store    persistent.Store
	disabled bool

	buf   []byte
	pos   int
	limit int
}

// Disabled tells if recording is disabled.
func (w *Writer) Disabled() bool {
	return w.disabled
}

// WriteRaw writes data directly to the store, outside any packet.
func (w *Writer) WriteRaw(data []byte) error {
	if w.pos != types.PacketHeaderLength {
		return errors.New("raw write requested while packet is pending")
	}
	return w.store.Write(data)
}

// Reserve returns space for value of the provided size in the current packet.
// If the value does not fit, pending packet is flushed first, so values never straddle packets.
func (w *Writer) Reserve(size int) ([]byte, error) {
	if size > w.limit-types.PacketHeaderLength {
		return nil, errors.Errorf("value of %d bytes exceeds packet capacity", size)
	}
	if w.pos+size > w.limit {
		if err := w.Flush(); err != nil {
			return nil, err
		}
	}
	b := w.buf[w.pos : w.pos+size]
	w.pos += size
	return b, nil
}

// ReserveAt works like Reserve and also returns the log offset of the reserved space.
// One is returned as the offset if recording is disabled.
func (w *Writer) ReserveAt(size int) ([]byte, uint64, error) {
	b, err := w.Reserve(size)
	if err != nil {
		return nil, 0, err
	}
	if w.disabled {
		return b, 1, nil
	}
	base, err := w.store.Offset()
	if err != nil {
		return nil, 0, err
	}
	return b, base + uint64(w.pos-size), nil
}

// Available returns the number of bytes which still fit into the current packet.
func (w *Writer) Available() int {
	return w.limit - w.pos
}

// Flush writes the pending packet to the store.
func (w *Writer) Flush() error {
	size := w.pos - types.PacketHeaderLength
	if size == 0 {
		return nil
	}
	if size > types.MaxPacketSize {
		return errors.Errorf("packet of %d bytes is too large", size)
	}
	*photon.FromBytes[int16](w.buf) = int16(size)
	return w.flushBuffer()
}

// WriteFinalizerTrigger flushes the pending packet and writes the finalizer marker.
func (w *Writer) WriteFinalizerTrigger(stopPoint types.StopPoint) error {
	if err := w.Flush(); err != nil {
		return err
	}

	*photon.FromBytes[int16](w.buf) = types.AsyncFinalizerTrigger
	*photon.FromBytes[types.StopPoint](w.buf[types.PacketHeaderLength:]) = stopPoint
	w.pos += types.UInt64Length
	return w.flushBuffer()
}

// Offset returns the log offset the next emitted byte is written at.
// One is returned if recording is disabled.
func (w *Writer) Offset() (uint64, error) {
	if w.disabled {
		return 1, nil
	}
	base, err := w.store.Offset()
	if err != nil {
		return 0, err
	}
	return base + uint64(w.pos), nil
}

// Patch replaces byte at offset after verifying it still holds the expected value.
func (w *Writer) Patch(offset uint64, oldValue, newValue byte) error {
	if w.disabled {
		return nil
	}

	base, err := w.store.Offset()
	if err != nil {
		return err
	}

	if offset < base {
		var got [1]byte
		if err := w.store.ReadAt(got[:], offset); err != nil {
			return errors.Wrapf(err, "can't read log position %d for checking", offset)
		}
		if got[0] != oldValue {
			return errors.Errorf("bad byte at log position %d (%d instead of %d)", offset, got[0], oldValue)
		}
		return w.store.WriteAt([]byte{newValue}, offset)
	}

	bufOffset := offset - base
	if bufOffset < types.PacketHeaderLength || bufOffset >= uint64(w.pos) {
		return errors.Errorf("invalid patch position %d", offset)
	}
	if w.buf[bufOffset] != oldValue {
		return errors.Errorf("bad byte at log position %d (%d instead of %d)", offset, w.buf[bufOffset], oldValue)
	}
	w.buf[bufOffset] = newValue
	return nil
}

// Sync syncs the store.
func (w *Writer) Sync() error {
	return w.store.Sync()
}

// Close closes the store.
func (w *Writer) Close() error {
	return w.store.Close()
}

func (w *Writer) flushBuffer() error {
	size := w.pos
	w.pos = types.PacketHeaderLength
	return w.store.Write(w.buf[:size])
}

func validateBufferSize(bufferSize uint64) error {
	if bufferSize < types.PacketHeaderLength+types.UInt64Length ||
		bufferSize > types.PacketHeaderLength+types.MaxPacketSize {
		return errors.Errorf("invalid buffer size %d", bufferSize)
	}
	return nil
}
