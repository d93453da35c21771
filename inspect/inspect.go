package inspect

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/zeebo/blake3"

	"github.com/outofforest/photon"
	"github.com/outofforest/revdb/codec"
	"github.com/outofforest/revdb/persistent"
	"github.com/outofforest/revdb/types"
)

const chunkSize = 64 * 1024

// Report describes the log.
type Report struct {
	Session uuid.UUID
	Version uint64
	Ptr1    uint64
	Ptr2    uint64
	Args    []string

	Size         uint64
	HeaderSize   uint64
	Packets      uint64
	PayloadBytes uint64
	Markers      []types.StopPoint

	// Total is the number of stop points stored as the last value of the log.
	Total types.StopPoint

	Fingerprint [32]byte
}

// File inspects the log file.
func File(path string) (Report, error) {
	store, err := persistent.OpenFileStore(path)
	if err != nil {
		return Report{}, err
	}
	defer store.Close()

	return Store(store)
}

// Store inspects the log kept in the store. Store must be positioned at the beginning of the log.
func Store(store persistent.Store) (Report, error) {
	r, deallocFunc, err := codec.NewReader(store, types.DefaultBufferSize, func() types.StopPoint { return 0 })
	if err != nil {
		return Report{}, err
	}
	defer deallocFunc()

	args, header, err := codec.ReadHeader(r)
	if err != nil {
		return Report{}, err
	}

	report := Report{
		Session: header.Session,
		Version: header.Version,
		Ptr1:    header.Ptr1,
		Ptr2:    header.Ptr2,
		Args:    args,
	}
	if report.HeaderSize, err = store.Offset(); err != nil {
		return Report{}, err
	}
	if report.Size, err = store.Size(); err != nil {
		return Report{}, err
	}

	var last []byte
	buf := make([]byte, types.MaxPacketSize)
	for {
		var packetHeader [types.PacketHeaderLength]byte
		n, err := store.Read(packetHeader[:], 0)
		if err != nil {
			return Report{}, err
		}
		if n == 0 {
			break
		}
		if n < len(packetHeader) {
			if _, err := store.Read(packetHeader[n:], len(packetHeader)-n); err != nil {
				return Report{}, err
			}
		}

		size := *photon.FromBytes[int16](packetHeader[:])
		if size == types.AsyncFinalizerTrigger {
			var stopPoint types.StopPoint
			if _, err := store.Read(photon.NewFromValue(&stopPoint).B, types.UInt64Length); err != nil {
				return Report{}, err
			}
			if len(report.Markers) > 0 && stopPoint <= report.Markers[len(report.Markers)-1] {
				return Report{}, errors.Errorf("finalizer marker %d does not follow marker %d", stopPoint,
					report.Markers[len(report.Markers)-1])
			}
			report.Markers = append(report.Markers, stopPoint)
			continue
		}
		if size < 0 {
			return Report{}, errors.Errorf("bad packet header %d", size)
		}

		if _, err := store.Read(buf[:size], int(size)); err != nil {
			return Report{}, err
		}
		report.Packets++
		report.PayloadBytes += uint64(size)
		last = buf[:size]
	}

	if len(last) < types.UInt64Length {
		return Report{}, errors.WithStack(persistent.ErrTruncated)
	}
	report.Total = *photon.FromBytes[types.StopPoint](last[len(last)-types.UInt64Length:])

	if report.Fingerprint, err = Fingerprint(store); err != nil {
		return Report{}, err
	}
	return report, nil
}

// Fingerprint computes blake3 hash of the whole log.
func Fingerprint(store persistent.Store) ([32]byte, error) {
	size, err := store.Size()
	if err != nil {
		return [32]byte{}, err
	}

	h := blake3.New()
	buf := make([]byte, chunkSize)
	for offset := uint64(0); offset < size; {
		chunk := buf[:min(uint64(len(buf)), size-offset)]
		if err := store.ReadAt(chunk, offset); err != nil {
			return [32]byte{}, err
		}
		if _, err := h.Write(chunk); err != nil {
			return [32]byte{}, errors.WithStack(err)
		}
		offset += uint64(len(chunk))
	}

	var fingerprint [32]byte
	copy(fingerprint[:], h.Sum(nil))
	return fingerprint, nil
}
