package types

// CommandLength is the number of bytes taken by the command on the wire.
const CommandLength = 32

// Built-in commands sent by the controller.
const (
	CmdFork      int32 = -1
	CmdQuit      int32 = -2
	CmdForward   int32 = -3
	CmdFutureIDs int32 = -4
	CmdPing      int32 = -5
)

// Answers sent by the replaying process.
const (
	AnswerInit       int32 = -20
	AnswerReady      int32 = -21
	AnswerForked     int32 = -22
	AnswerAtEnd      int32 = -23
	AnswerBreakpoint int32 = -24
	AnswerFailed     int32 = -25
)

// Command is the fixed-size part of every message exchanged over the control socket.
// Answers use the same layout.
type Command struct {
	Cmd       int32
	ExtraSize uint32
	Arg1      int64
	Arg2      int64
	Arg3      int64
}

// IsBuiltin tells if command is handled by the engine itself.
func (c Command) IsBuiltin() bool {
	return c.Cmd < 0
}
