package codec

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/outofforest/photon"
	"github.com/outofforest/revdb/persistent"
	"github.com/outofforest/revdb/types"
)

const sentinel uint64 = 0xdeadbeef

func replay[T types.Primitive](t *testing.T, r *Reader) T {
	v, err := Replay[T](r)
	require.NoError(t, err)
	return v
}

func finish(t *testing.T, r *Reader) {
	v, err := ReplayLast[uint64](r)
	require.NoError(t, err)
	require.Equal(t, sentinel, v)
	require.NoError(t, r.CheckAtEnd())
}

func TestRoundTrip(t *testing.T) {
	requireT := require.New(t)

	store := persistent.NewMemoryStore(nil)
	w := NewWriterForTest(t, store, 32)
	for i := range 100 {
		requireT.NoError(Emit(w, int8(-i)))
		requireT.NoError(Emit(w, int16(-300*i)))
		requireT.NoError(Emit(w, int32(i*100000)))
		requireT.NoError(Emit(w, int64(-i)<<40))
		requireT.NoError(Emit(w, uint8(i)))
		requireT.NoError(Emit(w, uint16(i*300)))
		requireT.NoError(Emit(w, uint32(i)<<20))
		requireT.NoError(Emit(w, uint64(i)<<50))
		requireT.NoError(Emit(w, float32(i)/3))
		requireT.NoError(Emit(w, float64(i)/7))
		requireT.NoError(Emit(w, i%2 == 0))
	}
	requireT.NoError(Emit(w, sentinel))
	requireT.NoError(w.Flush())

	r := NewReaderForTest(t, store.Bytes(), 32, nil)
	requireT.NoError(r.Prime())
	for i := range 100 {
		requireT.Equal(int8(-i), replay[int8](t, r))
		requireT.Equal(int16(-300*i), replay[int16](t, r))
		requireT.Equal(int32(i*100000), replay[int32](t, r))
		requireT.Equal(int64(-i)<<40, replay[int64](t, r))
		requireT.Equal(uint8(i), replay[uint8](t, r))
		requireT.Equal(uint16(i*300), replay[uint16](t, r))
		requireT.Equal(uint32(i)<<20, replay[uint32](t, r))
		requireT.Equal(uint64(i)<<50, replay[uint64](t, r))
		requireT.Equal(float32(i)/3, replay[float32](t, r))
		requireT.Equal(float64(i)/7, replay[float64](t, r))
		requireT.Equal(i%2 == 0, replay[bool](t, r))
	}
	finish(t, r)
}

func TestValuesNeverStraddlePackets(t *testing.T) {
	requireT := require.New(t)

	store := persistent.NewMemoryStore(nil)
	w := NewWriterForTest(t, store, 32)
	for i := range 10 {
		requireT.NoError(Emit(w, uint64(i)))
	}
	requireT.NoError(w.Flush())

	var sizes []int16
	for data := store.Bytes(); len(data) > 0; {
		size := *photon.FromBytes[int16](data)
		sizes = append(sizes, size)
		data = data[types.PacketHeaderLength+int(size):]
	}
	requireT.Equal([]int16{24, 24, 24, 8}, sizes)

	r := NewReaderForTest(t, store.Bytes(), 32, nil)
	requireT.NoError(r.Prime())
	for i := range 9 {
		requireT.EqualValues(i, replay[uint64](t, r))
	}
	v, err := ReplayLast[uint64](r)
	requireT.NoError(err)
	requireT.EqualValues(9, v)
	requireT.NoError(r.CheckAtEnd())
}

func TestValueExceedingPacket(t *testing.T) {
	requireT := require.New(t)

	w := NewWriterForTest(t, persistent.NewMemoryStore(nil), 32)
	_, err := w.Reserve(31)
	requireT.Error(err)
	_, err = w.Reserve(30)
	requireT.NoError(err)
}

func TestInvalidBufferSize(t *testing.T) {
	requireT := require.New(t)

	_, _, err := NewWriter(nil, 4)
	requireT.Error(err)
	_, _, err = NewWriter(nil, types.MaxPacketSize+3)
	requireT.Error(err)
	_, _, err = NewReader(persistent.NewMemoryStore(nil), 4, nil)
	requireT.Error(err)
}

func TestFinalizerMarker(t *testing.T) {
	requireT := require.New(t)

	store := persistent.NewMemoryStore(nil)
	w := NewWriterForTest(t, store, 64)
	requireT.NoError(Emit(w, uint64(1)))
	requireT.NoError(Emit(w, uint64(2)))
	requireT.NoError(w.WriteFinalizerTrigger(5))
	requireT.NoError(Emit(w, uint64(3)))
	requireT.NoError(Emit(w, sentinel))
	requireT.NoError(w.Flush())

	var stopPoint types.StopPoint
	r := NewReaderForTest(t, store.Bytes(), 64, func() types.StopPoint { return stopPoint })
	requireT.NoError(r.Prime())

	offset, err := r.Offset()
	requireT.NoError(err)
	requireT.EqualValues(types.PacketHeaderLength, offset)

	requireT.Equal(types.NoBreak, r.FinalizerBreak())
	requireT.EqualValues(1, replay[uint64](t, r))
	requireT.Equal(types.NoBreak, r.FinalizerBreak())

	// Marker is discovered as soon as the packet preceding it is consumed.
	requireT.EqualValues(2, replay[uint64](t, r))
	requireT.Equal(types.StopPoint(5), r.FinalizerBreak())

	_, err = Replay[uint64](r)
	requireT.Error(err)

	stopPoint = 5
	requireT.NoError(r.ClearFinalizerBreak())
	requireT.Equal(types.NoBreak, r.FinalizerBreak())
	requireT.Error(r.ClearFinalizerBreak())

	requireT.EqualValues(3, replay[uint64](t, r))
	finish(t, r)
}

func TestFinalizerMarkerInThePast(t *testing.T) {
	requireT := require.New(t)

	store := persistent.NewMemoryStore(nil)
	w := NewWriterForTest(t, store, 64)
	requireT.NoError(Emit(w, uint64(1)))
	requireT.NoError(w.WriteFinalizerTrigger(5))
	requireT.NoError(Emit(w, sentinel))
	requireT.NoError(w.Flush())

	r := NewReaderForTest(t, store.Bytes(), 64, func() types.StopPoint { return 5 })
	requireT.NoError(r.Prime())
	_, err := Replay[uint64](r)
	requireT.Error(err)
}

func TestBadPacketHeader(t *testing.T) {
	requireT := require.New(t)

	data := []byte{0x00, 0x00}
	*photon.FromBytes[int16](data) = -1

	r := NewReaderForTest(t, data, 64, nil)
	requireT.Error(r.Prime())
}

func TestPatchBuffered(t *testing.T) {
	requireT := require.New(t)

	store := persistent.NewMemoryStore(nil)
	w := NewWriterForTest(t, store, 64)

	offset, err := w.Offset()
	requireT.NoError(err)
	requireT.EqualValues(types.PacketHeaderLength, offset)

	requireT.NoError(Emit(w, byte(types.LivenessDead)))
	requireT.Error(w.Patch(offset, byte(types.LivenessAlive), byte(types.LivenessDead)))
	requireT.Error(w.Patch(offset+1, byte(types.LivenessDead), byte(types.LivenessAlive)))
	requireT.NoError(w.Patch(offset, byte(types.LivenessDead), byte(types.LivenessAlive)))
	requireT.NoError(w.Flush())

	requireT.Equal(byte(types.LivenessAlive), store.Bytes()[offset])
}

func TestPatchFlushed(t *testing.T) {
	requireT := require.New(t)

	store := persistent.NewMemoryStore(nil)
	w := NewWriterForTest(t, store, 64)

	requireT.NoError(Emit(w, uint64(1)))
	offset, err := w.Offset()
	requireT.NoError(err)
	requireT.EqualValues(types.PacketHeaderLength+types.UInt64Length, offset)

	requireT.NoError(Emit(w, byte(types.LivenessDead)))
	requireT.NoError(w.Flush())
	requireT.NoError(Emit(w, uint64(2)))

	requireT.Error(w.Patch(offset, byte(types.LivenessAlive), byte(types.LivenessDead)))
	requireT.NoError(w.Patch(offset, byte(types.LivenessDead), byte(types.LivenessAlive)))
	requireT.Equal(byte(types.LivenessAlive), store.Bytes()[offset])

	requireT.Error(w.Patch(offset, byte(types.LivenessDead), byte(types.LivenessAlive)))
}

func TestDisabledWriter(t *testing.T) {
	requireT := require.New(t)

	w := NewWriterForTest(t, nil, 64)
	requireT.True(w.Disabled())

	offset, err := w.Offset()
	requireT.NoError(err)
	requireT.EqualValues(1, offset)

	requireT.NoError(Emit(w, uint64(1)))
	requireT.NoError(w.Patch(1, 0, 1))
	requireT.NoError(w.Flush())
}

func TestBytes(t *testing.T) {
	requireT := require.New(t)

	payload := make([]byte, 100)
	_, err := rand.Read(payload)
	requireT.NoError(err)

	store := persistent.NewMemoryStore(nil)
	w := NewWriterForTest(t, store, 32)
	requireT.NoError(Emit(w, uint32(7)))
	requireT.NoError(EmitBytes(w, payload))
	requireT.NoError(EmitBytes(w, nil))
	requireT.NoError(Emit(w, sentinel))
	requireT.NoError(w.Flush())

	r := NewReaderForTest(t, store.Bytes(), 32, nil)
	requireT.NoError(r.Prime())
	requireT.EqualValues(7, replay[uint32](t, r))

	data, err := ReplayBytes(r)
	requireT.NoError(err)
	requireT.Equal(payload, data)

	data, err = ReplayBytes(r)
	requireT.NoError(err)
	requireT.Empty(data)

	finish(t, r)
}

func writeLog(t *testing.T, args []string, header types.Header) []byte {
	store := persistent.NewMemoryStore(nil)
	w := NewWriterForTest(t, store, 64)
	require.NoError(t, WriteHeader(w, args, header))
	require.NoError(t, Emit(w, uint64(1)))
	require.NoError(t, Emit(w, sentinel))
	require.NoError(t, w.Flush())
	return store.Bytes()
}

func TestHeader(t *testing.T) {
	requireT := require.New(t)

	data := writeLog(t, []string{"prog", "--flag", "x y"}, types.Header{
		Version: types.Version,
		Session: [16]byte{0x01, 0x02},
		Ptr1:    10,
		Ptr2:    20,
	})

	r := NewReaderForTest(t, data, 64, nil)
	args, header, err := ReadHeader(r)
	requireT.NoError(err)
	requireT.Equal([]string{"prog", "--flag", "x y"}, args)
	requireT.Equal(types.Header{
		Version: types.Version,
		Session: [16]byte{0x01, 0x02},
		Ptr1:    10,
		Ptr2:    20,
		Argc:    3,
	}, header)

	requireT.NoError(r.Prime())
	requireT.EqualValues(1, replay[uint64](t, r))
	finish(t, r)

	total, err := ReadTrailer(persistent.NewMemoryStore(data))
	requireT.NoError(err)
	requireT.EqualValues(sentinel, total)
}

func TestHeaderWithoutArgs(t *testing.T) {
	requireT := require.New(t)

	data := writeLog(t, nil, types.Header{Version: types.Version})
	r := NewReaderForTest(t, data, 64, nil)
	args, header, err := ReadHeader(r)
	requireT.NoError(err)
	requireT.Empty(args)
	requireT.Zero(header.Argc)
}

func TestHeaderReservedCharacters(t *testing.T) {
	w := NewWriterForTest(t, persistent.NewMemoryStore(nil), 64)
	require.Error(t, WriteHeader(w, []string{"a\tb"}, types.Header{Version: types.Version}))
}

func TestHeaderBadSignature(t *testing.T) {
	requireT := require.New(t)

	data := writeLog(t, []string{"prog"}, types.Header{Version: types.Version})
	data[0] = 'X'

	r := NewReaderForTest(t, data, 64, nil)
	_, _, err := ReadHeader(r)
	requireT.Error(err)
}

func TestHeaderVersionMismatch(t *testing.T) {
	requireT := require.New(t)

	data := writeLog(t, []string{"prog"}, types.Header{Version: types.Version + 1})

	r := NewReaderForTest(t, data, 64, nil)
	_, _, err := ReadHeader(r)
	requireT.Error(err)
}

func TestTruncatedLog(t *testing.T) {
	requireT := require.New(t)

	data := writeLog(t, []string{"prog"}, types.Header{Version: types.Version})
	data = data[:len(data)-1]

	r := NewReaderForTest(t, data, 64, nil)
	_, _, err := ReadHeader(r)
	requireT.NoError(err)
	requireT.ErrorIs(r.Prime(), persistent.ErrTruncated)
}

func TestTooMuchData(t *testing.T) {
	requireT := require.New(t)

	data := writeLog(t, []string{"prog"}, types.Header{Version: types.Version})
	data = append(data, 0x01, 0x00, 0xff)

	r := NewReaderForTest(t, data, 64, nil)
	_, _, err := ReadHeader(r)
	requireT.NoError(err)
	requireT.NoError(r.Prime())
	requireT.EqualValues(1, replay[uint64](t, r))

	v, err := ReplayLast[uint64](r)
	requireT.NoError(err)
	requireT.Equal(sentinel, v)
	requireT.Error(r.CheckAtEnd())
}

func TestReaderOffset(t *testing.T) {
	requireT := require.New(t)

	store := persistent.NewMemoryStore(nil)
	w := NewWriterForTest(t, store, 64)
	requireT.NoError(Emit(w, uint64(1)))
	requireT.NoError(Emit(w, uint32(2)))
	expected, err := w.Offset()
	requireT.NoError(err)
	requireT.NoError(Emit(w, sentinel))
	requireT.NoError(w.Flush())

	r := NewReaderForTest(t, store.Bytes(), 64, nil)
	requireT.NoError(r.Prime())
	replay[uint64](t, r)
	replay[uint32](t, r)

	offset, err := r.Offset()
	requireT.NoError(err)
	requireT.Equal(expected, offset)
}

func TestReserveAtAcrossFlush(t *testing.T) {
	requireT := require.New(t)

	store := persistent.NewMemoryStore(nil)
	w := NewWriterForTest(t, store, 16)
	requireT.NoError(Emit(w, uint64(1)))
	requireT.NoError(Emit(w, uint32(2)))

	// Byte does not fit, so the packet is flushed before it is reserved.
	b, offset, err := w.ReserveAt(1)
	requireT.NoError(err)
	requireT.EqualValues(16+types.PacketHeaderLength, offset)
	b[0] = byte(types.LivenessDead)

	requireT.NoError(w.Patch(offset, byte(types.LivenessDead), byte(types.LivenessAlive)))
	requireT.NoError(w.Flush())
	requireT.Equal(byte(types.LivenessAlive), store.Bytes()[offset])
}
