package codec

import (
	"github.com/pkg/errors"

	"github.com/outofforest/photon"
	"github.com/outofforest/revdb/alloc"
	"github.com/outofforest/revdb/persistent"
	"github.com/outofforest/revdb/types"
)

// NewReader creates new log reader. Function stopPoint returns the stop point reached by the replaying program,
// it is used to validate finalizer markers.
func NewReader(
	store persistent.Store,
	bufferSize uint64,
	stopPoint func() types.StopPoint,
) (*Reader, func(), error) {
	if err := validateBufferSize(bufferSize); err != nil {
		return nil, nil, err
	}

	buf, deallocFunc, err := alloc.Bytes(bufferSize)
	if err != nil {
		return nil, nil, err
	}

	return &Reader{
		store:          store,
		stopPoint:      stopPoint,
		buf:            buf,
		finalizerBreak: types.NoBreak,
	}, deallocFunc, nil
}

// Reader reads values back from the log.
// The reader is always one packet ahead of the program, so the finalizer marker following a packet is
// discovered as soon as the packet is consumed.
type Reader struct {
	store     persistent.Store
	stopPoint func() types.StopPoint

	buf []byte
	// pos is the read position, limit is the end of the current packet and end is the end of data read from store.
	pos, limit, end int

	finalizerBreak types.StopPoint
}

// Store returns the backing store.
func (r *Reader) Store() persistent.Store {
	return r.store
}

// ReadRaw reads data directly from the store. It is used before the reader is primed.
func (r *Reader) ReadRaw(buf []byte) error {
	if r.end != 0 {
		return errors.New("raw read requested after reader was primed")
	}
	_, err := r.store.Read(buf, len(buf))
	return err
}

// Prime fetches the first packet.
func (r *Reader) Prime() error {
	return r.fetch()
}

// FinalizerBreak returns the stop point announced by the pending finalizer marker.
func (r *Reader) FinalizerBreak() types.StopPoint {
	return r.finalizerBreak
}

// ClearFinalizerBreak is called when the finalizer break is reached. Fetching is enabled again.
func (r *Reader) ClearFinalizerBreak() error {
	if r.finalizerBreak == types.NoBreak {
		return errors.New("no finalizer break is pending")
	}
	r.finalizerBreak = types.NoBreak
	return r.fetch()
}

// Read fills dst with the next bytes of the current packet.
func (r *Reader) Read(dst []byte) error {
	if r.pos+len(dst) > r.limit {
		if r.finalizerBreak != types.NoBreak {
			return errors.Errorf("log read before finalizer break %d is reached", r.finalizerBreak)
		}
		return errors.New("bad log format: value straddles packet boundary")
	}
	copy(dst, r.buf[r.pos:])
	r.pos += len(dst)
	if r.pos == r.limit {
		return r.fetch()
	}
	return nil
}

// Available returns the number of bytes left in the current packet.
func (r *Reader) Available() int {
	return r.limit - r.pos
}

// ReadLast reads the final value of the log. Nothing is fetched afterwards.
func (r *Reader) ReadLast(dst []byte) error {
	if r.finalizerBreak != types.NoBreak {
		return errors.Errorf("log ends before finalizer break %d", r.finalizerBreak)
	}
	if r.pos+len(dst) > r.limit {
		return errors.New("bad log format: final value straddles packet boundary")
	}
	copy(dst, r.buf[r.pos:])
	r.pos += len(dst)
	return nil
}

// CheckAtEnd verifies that all the data in the log have been consumed.
func (r *Reader) CheckAtEnd() error {
	if r.pos != r.limit || r.end != r.limit {
		return errors.New("log error: too much data: corrupted file, bug, or non-deterministic run")
	}
	var dummy [1]byte
	n, err := r.store.Read(dummy[:], 0)
	if err != nil {
		return err
	}
	if n > 0 {
		return errors.New("log error: too much data: corrupted file, bug, or non-deterministic run")
	}
	return nil
}

// Offset returns the log offset of the next byte to be consumed by the program.
func (r *Reader) Offset() (uint64, error) {
	offset, err := r.store.Offset()
	if err != nil {
		return 0, err
	}
	return offset - uint64(r.end-r.pos), nil
}

func (r *Reader) fetch() error {
	if r.finalizerBreak != types.NoBreak {
		return errors.Errorf("log read before finalizer break %d is reached", r.finalizerBreak)
	}
	if r.limit != r.pos {
		return errors.New("bad log format: incomplete packet")
	}

	keep := r.end - r.pos
	if keep < types.PacketHeaderLength {
		if err := r.fetchMore(keep, types.PacketHeaderLength); err != nil {
			return err
		}
		keep = r.end - r.pos
	}

	header := *photon.FromBytes[int16](r.buf[r.pos:])
	if header < 0 {
		if header != types.AsyncFinalizerTrigger {
			return errors.Errorf("bad packet header %d", header)
		}

		const fullPacketSize = types.PacketHeaderLength + types.UInt64Length
		if keep < fullPacketSize {
			if err := r.fetchMore(keep, fullPacketSize); err != nil {
				return err
			}
		}
		bp := *photon.FromBytes[types.StopPoint](r.buf[r.pos+types.PacketHeaderLength:])
		r.pos += fullPacketSize
		if bp <= r.stopPoint() || bp == types.NoBreak {
			return errors.Errorf("invalid finalizer break point %d", bp)
		}
		r.finalizerBreak = bp
		// Nothing more is fetched until the finalizer break point is reached.
		r.limit = r.pos
		return nil
	}

	fullPacketSize := types.PacketHeaderLength + int(header)
	if fullPacketSize > len(r.buf) {
		return errors.Errorf("bad log format: packet of %d bytes exceeds buffer", header)
	}
	if keep < fullPacketSize {
		if err := r.fetchMore(keep, fullPacketSize); err != nil {
			return err
		}
	}
	r.limit = r.pos + fullPacketSize
	r.pos += types.PacketHeaderLength
	return nil
}

func (r *Reader) fetchMore(keep, expectedSize int) error {
	if r.pos != 0 {
		copy(r.buf, r.buf[r.pos:r.pos+keep])
	}
	n, err := r.store.Read(r.buf[keep:], expectedSize-keep)
	if err != nil {
		return err
	}
	r.pos = 0
	r.end = keep + n
	return nil
}
