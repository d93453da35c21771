package codec

import (
	"unsafe"

	"github.com/pkg/errors"

	"github.com/outofforest/photon"
	"github.com/outofforest/revdb/types"
)

// Emit appends value to the log.
func Emit[T types.Primitive](w *Writer, v T) error {
	b, err := w.Reserve(int(unsafe.Sizeof(v)))
	if err != nil {
		return err
	}
	copy(b, photon.NewFromValue(&v).B)
	return nil
}

// Replay reads value from the log.
func Replay[T types.Primitive](r *Reader) (T, error) {
	var v T
	if err := r.Read(photon.NewFromValue(&v).B); err != nil {
		return v, err
	}
	return v, nil
}

// ReplayLast reads the final value from the log.
func ReplayLast[T types.Primitive](r *Reader) (T, error) {
	var v T
	if err := r.ReadLast(photon.NewFromValue(&v).B); err != nil {
		return v, err
	}
	return v, nil
}

// EmitBytes appends length-prefixed byte slice to the log. The payload is split to fill the packets.
func EmitBytes(w *Writer, data []byte) error {
	if err := Emit(w, uint64(len(data))); err != nil {
		return err
	}
	for len(data) > 0 {
		available := w.Available()
		if available == 0 {
			if err := w.Flush(); err != nil {
				return err
			}
			available = w.Available()
		}
		n := min(available, len(data))
		b, err := w.Reserve(n)
		if err != nil {
			return err
		}
		copy(b, data[:n])
		data = data[n:]
	}
	return nil
}

// ReplayBytes reads byte slice stored by EmitBytes.
func ReplayBytes(r *Reader) ([]byte, error) {
	size, err := Replay[uint64](r)
	if err != nil {
		return nil, err
	}
	logSize, err := r.store.Size()
	if err != nil {
		return nil, err
	}
	if size > logSize {
		return nil, errors.Errorf("bad log format: byte slice of %d bytes exceeds log size", size)
	}

	data := make([]byte, size)
	for b := data; len(b) > 0; {
		n := min(r.Available(), len(b))
		if n == 0 {
			return nil, errors.New("bad log format: byte slice crosses finalizer marker")
		}
		if err := r.Read(b[:n]); err != nil {
			return nil, err
		}
		b = b[n:]
	}
	return data, nil
}
