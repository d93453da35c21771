package revdb

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/photon"
	"github.com/outofforest/revdb/types"
)

// CommandFunc handles custom command sent by the controller.
// Log is not accessible while command is handled, so any state change made by the command is not recorded.
type CommandFunc func(ctx context.Context, e *Engine, cmd types.Command, extra []byte) error

// Command is the custom command.
type Command struct {
	Opcode int32
	Name   string
	Func   CommandFunc
}

// AllocHook is called when the object awaited by the controller gets its unique ID.
type AllocHook func(ctx context.Context, e *Engine, uid types.UniqueID, obj any) error

// RegisterCommand registers custom command.
func (e *Engine) RegisterCommand(c Command) error {
	if c.Opcode < 0 {
		return errors.Errorf("opcode %d of command '%s' is reserved", c.Opcode, c.Name)
	}
	if c.Func == nil {
		return errors.Errorf("command '%s' has no handler", c.Name)
	}
	if existing, exists := e.commands[c.Opcode]; exists {
		return errors.Errorf("opcode %d is already used by command '%s'", c.Opcode, existing.Name)
	}
	e.commands[c.Opcode] = c
	return nil
}

// RegisterAllocHook sets the allocation hook.
func (e *Engine) RegisterAllocHook(hook AllocHook) {
	e.allocHook = hook
}

// SendAnswer sends answer to the controller. It is used by custom commands.
func (e *Engine) SendAnswer(cmd int32, arg1, arg2, arg3 int64, extra []byte) error {
	if e.conn == nil {
		return errors.New("controller is not attached")
	}
	return e.fail(e.answer(cmd, arg1, arg2, arg3, extra))
}

func (e *Engine) answer(cmd int32, arg1, arg2, arg3 int64, extra []byte) error {
	return e.conn.Write(types.Command{
		Cmd:  cmd,
		Arg1: arg1,
		Arg2: arg2,
		Arg3: arg3,
	}, extra)
}

func (e *Engine) saveState() {
	e.saved = savedState{
		stopPointSeen: e.stopPointSeen,
		uniqueIDSeen:  e.uniqueIDSeen,
		uniqueIDBreak: e.uniqueIDBreak,
		watchEnabled:  e.watchEnabled,
	}
	e.io = ioSaved
	e.uniqueIDSeen = types.SavedStateUniqueID
	e.uniqueIDBreak = types.NoUniqueIDBreak
	e.watchEnabled = false
}

func (e *Engine) restoreState() {
	e.io = ioRegular
	e.stopPointSeen = e.saved.stopPointSeen
	e.uniqueIDSeen = e.saved.uniqueIDSeen
	e.uniqueIDBreak = e.saved.uniqueIDBreak
	e.watchEnabled = e.saved.watchEnabled
	e.setBreakpoints()
}

func (e *Engine) setBreakpoints() {
	e.uniqueIDBreak = e.uidBreak
	e.watchEnabled = e.breakpointMode != types.BreakpointIgnore
}

// execute runs the function in the protected mode: errors and panics are returned to the caller.
func (e *Engine) execute(fn func(ctx context.Context) error) (err error) {
	e.io = ioExecuting
	defer func() {
		e.io = ioSaved
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
		}
	}()
	return fn(e.ctx)
}

func (e *Engine) replayStopPoint() error {
	if e.reader.FinalizerBreak() == e.stopPointSeen {
		if err := e.replayFinalizers(); err != nil {
			return err
		}
	}

	if e.resume != nil && e.stopPointSeen == e.interactiveBreak {
		if err := e.resumeBranch(); err != nil {
			return err
		}
	}

	for e.interactiveBreak == e.stopPointSeen {
		e.saveState()
		var err error
		if e.pendingAfterForward {
			e.pendingAfterForward = false
			err = e.answerRecordedBreakpoints()
		} else {
			err = e.handleCommand()
		}
		if err != nil {
			return err
		}
		e.restoreState()
	}
	return nil
}

func (e *Engine) handleCommand() error {
	if err := e.answer(types.AnswerReady, int64(e.saved.stopPointSeen), int64(e.saved.uniqueIDSeen), 0,
		nil); err != nil {
		return err
	}

	cmd, extra, err := e.conn.Read()
	if err != nil {
		return err
	}

	if !cmd.IsBuiltin() {
		return e.commandCustom(cmd, extra)
	}

	switch cmd.Cmd {
	case types.CmdFork:
		return e.commandFork()
	case types.CmdQuit:
		logger.Get(e.ctx).Debug("Quit requested", zap.Uint64("stopPoint", uint64(e.saved.stopPointSeen)))
		return errors.WithStack(ErrQuit)
	case types.CmdForward:
		return e.commandForward(cmd)
	case types.CmdFutureIDs:
		return e.commandFutureIDs(extra)
	case types.CmdPing:
		return nil
	default:
		return errors.Errorf("unknown command %d", cmd.Cmd)
	}
}

func (e *Engine) commandForward(cmd types.Command) error {
	if cmd.Arg1 < 0 {
		return errors.Errorf("forward by negative number of steps %d", cmd.Arg1)
	}

	mode := types.BreakpointMode(cmd.Arg2)
	switch mode {
	case types.BreakpointIgnore, types.BreakpointRecord, types.BreakpointBreak:
	default:
		return errors.Errorf("bad value of breakpoint mode %d", cmd.Arg2)
	}

	e.interactiveBreak = e.saved.stopPointSeen + types.StopPoint(cmd.Arg1)
	e.breakpointMode = mode
	if mode == types.BreakpointRecord {
		e.recordedStopPoint = types.NoBreak
		e.recordedBreakpoints = e.recordedBreakpoints[:0]
		e.pendingAfterForward = true
	}
	return nil
}

func (e *Engine) commandFutureIDs(extra []byte) error {
	if len(extra)%types.UInt64Length != 0 {
		return errors.Errorf("future ids payload of %d bytes is not a multiple of %d", len(extra),
			types.UInt64Length)
	}

	e.futureIDs = make([]types.UniqueID, 0, len(extra)/types.UInt64Length)
	for i := 0; i < len(extra); i += types.UInt64Length {
		e.futureIDs = append(e.futureIDs, *photon.FromBytes[types.UniqueID](extra[i:]))
	}
	e.setUIDBreak()
	return nil
}

func (e *Engine) commandCustom(cmd types.Command, extra []byte) error {
	c, exists := e.commands[cmd.Cmd]
	if !exists {
		return errors.Errorf("unknown command %d", cmd.Cmd)
	}

	if err := e.execute(func(ctx context.Context) error {
		return c.Func(ctx, e, cmd, extra)
	}); err != nil {
		if e.err != nil {
			return e.err
		}
		logger.Get(e.ctx).Warn("Command failed", zap.String("command", c.Name), zap.Error(err))
		return e.answer(types.AnswerFailed, int64(cmd.Cmd), 0, 0, []byte(err.Error()))
	}
	return nil
}

func (e *Engine) setUIDBreak() {
	if len(e.futureIDs) == 0 {
		e.uidBreak = types.NoUniqueIDBreak
		return
	}
	e.uidBreak = e.futureIDs[0]
}

func (e *Engine) uniqueIDBreakHit(uid types.UniqueID, obj any) error {
	watchEnabled := e.watchEnabled
	e.saveState()
	if e.allocHook != nil {
		if err := e.execute(func(ctx context.Context) error {
			return e.allocHook(ctx, e, uid, obj)
		}); err != nil {
			if e.err != nil {
				return e.err
			}
			logger.Get(e.ctx).Warn("Allocation hook failed", zap.Uint64("uid", uint64(uid)), zap.Error(err))
		}
	}
	if len(e.futureIDs) > 0 {
		e.futureIDs = e.futureIDs[1:]
	}
	e.setUIDBreak()
	e.restoreState()
	e.watchEnabled = watchEnabled

	return e.Breakpoint(types.BreakpointFutureID)
}
