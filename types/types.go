package types

import (
	"golang.org/x/exp/constraints"
)

const (
	// UInt64Length is the number of bytes taken by uint64.
	UInt64Length = 8

	// Signature starts every log file.
	Signature = "RevDB:"

	// Version is the log format version stored in the header.
	Version uint64 = 0x00FF0003

	// InitVersion is sent to the controller in the init answer.
	InitVersion int64 = 0xd80100

	// PacketHeaderLength is the number of bytes taken by the packet length prefix.
	PacketHeaderLength = 2

	// MaxPacketSize is the largest payload a regular packet may carry.
	MaxPacketSize = 32767

	// DefaultBufferSize is the default size of the packet buffer, including the length prefix.
	DefaultBufferSize = 16384

	// AsyncFinalizerTrigger is the packet code of the finalizer marker.
	AsyncFinalizerTrigger int16 = -186 // 0xff46

	// MaxRecordedBreakpoints is the number of breakpoints remembered per stop point in record-and-continue mode.
	MaxRecordedBreakpoints = 50

	// BreakpointFutureID is the breakpoint number reported when a watched future object gets allocated.
	BreakpointFutureID int64 = -2

	// NoBreak means that no break is requested.
	NoBreak StopPoint = ^StopPoint(0)

	// NoUniqueIDBreak means that no future object is watched.
	NoUniqueIDBreak UniqueID = ^UniqueID(0)

	// FirstUniqueID is the first identifier assigned to an object.
	FirstUniqueID UniqueID = 1

	// SavedStateUniqueID is the first identifier assigned to objects created while a command is handled.
	SavedStateUniqueID UniqueID = 1 << 63

	// EndOfIDs terminates a sequence of logged object identifiers.
	EndOfIDs int64 = -1
)

type (
	// StopPoint counts synchronization points.
	StopPoint uint64

	// UniqueID identifies tracked allocation.
	UniqueID uint64
)

// Primitive lists value types which can be recorded in the log.
type Primitive interface {
	constraints.Integer | constraints.Float | ~bool
}

// Mode is the operating mode of the engine.
type Mode string

const (
	// ModeRecord records nondeterministic decisions.
	ModeRecord Mode = "record"

	// ModeReplay reads decisions back from the log.
	ModeReplay Mode = "replay"
)

// Liveness is the byte recorded for weak reference dereference.
type Liveness byte

const (
	// LivenessDead means the target is dead before the next dereference.
	LivenessDead Liveness = 0xf2

	// LivenessAlive means the target is still alive at the next dereference.
	LivenessAlive Liveness = 0xeb
)

// BreakpointMode defines how breakpoints reported by the host are handled.
type BreakpointMode byte

const (
	// BreakpointIgnore ignores breakpoints.
	BreakpointIgnore BreakpointMode = 'i'

	// BreakpointRecord records breakpoints and continues.
	BreakpointRecord BreakpointMode = 'r'

	// BreakpointBreak stops at the next stop point.
	BreakpointBreak BreakpointMode = 'b'
)

// Header is stored in the log right after the argument list.
type Header struct {
	Version uint64
	Session [16]byte
	Ptr1    uint64
	Ptr2    uint64
	Argc    uint64
}
