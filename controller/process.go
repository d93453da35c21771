package controller

import (
	"os"
	"os/exec"

	"github.com/pkg/errors"

	"github.com/outofforest/photon"
	"github.com/outofforest/revdb/control"
	"github.com/outofforest/revdb/forker"
	"github.com/outofforest/revdb/types"
)

// ErrAtEnd is returned when the replayed program has finished.
var ErrAtEnd = errors.New("replayed program reached the end of the log")

// Breakpoint is the breakpoint reported by the replaying process.
type Breakpoint struct {
	StopPoint types.StopPoint
	Num       int64
}

// Answer is the answer received from the replaying process.
type Answer struct {
	types.Command
	Extra []byte
}

// Attach attaches to freshly started replaying process. Init answer is expected first.
func Attach(conn *control.Conn, pid int) (*Process, error) {
	cmd, _, err := conn.Read()
	if err != nil {
		return nil, err
	}
	if cmd.Cmd != types.AnswerInit {
		return nil, errors.Errorf("expected init answer, got %d", cmd.Cmd)
	}
	if cmd.Arg1 != types.InitVersion {
		return nil, errors.Errorf("unsupported protocol version %#x", cmd.Arg1)
	}

	p := &Process{
		conn:  conn,
		pid:   pid,
		total: types.StopPoint(cmd.Arg2),
	}
	if _, err := p.wait(); err != nil && !errors.Is(err, ErrAtEnd) {
		return nil, err
	}
	return p, nil
}

// Spawn starts the binary in replay mode and attaches to it.
func Spawn(path, log string, stdout, stderr *os.File) (*Process, *exec.Cmd, error) {
	conn, childConn, err := control.Socketpair()
	if err != nil {
		return nil, nil, err
	}
	defer childConn.Close()

	cmd := exec.Command(path, forker.ReplayFlag, log, "3")
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.ExtraFiles = []*os.File{childConn.File()}
	if err := cmd.Start(); err != nil {
		_ = conn.Close()
		return nil, nil, errors.Wrapf(err, "can't start '%s'", path)
	}

	p, err := Attach(conn, cmd.Process.Pid)
	if err != nil {
		_ = conn.Close()
		_ = cmd.Wait()
		return nil, nil, err
	}
	return p, cmd, nil
}

// Process is the replaying process stopped at some stop point.
type Process struct {
	conn *control.Conn
	pid  int

	total          types.StopPoint
	stopPoint      types.StopPoint
	createdObjects uint64
	atEnd          bool
}

// PID returns the process id.
func (p *Process) PID() int {
	return p.pid
}

// TotalTime returns the number of stop points stored in the log.
func (p *Process) TotalTime() types.StopPoint {
	return p.total
}

// StopPoint returns the stop point process is stopped at.
func (p *Process) StopPoint() types.StopPoint {
	return p.stopPoint
}

// CreatedObjects returns the number of objects created by the program so far.
func (p *Process) CreatedObjects() uint64 {
	return p.createdObjects
}

// AtEnd tells if replayed program has finished.
func (p *Process) AtEnd() bool {
	return p.atEnd
}

// Ping checks that process is responsive.
func (p *Process) Ping() error {
	_, err := p.roundTrip(types.Command{Cmd: types.CmdPing}, nil)
	return err
}

// Forward runs the program by the number of steps. Breakpoints reported on the way are returned.
func (p *Process) Forward(steps uint64, mode types.BreakpointMode) ([]Breakpoint, error) {
	answers, err := p.roundTrip(types.Command{
		Cmd:  types.CmdForward,
		Arg1: int64(steps),
		Arg2: int64(mode),
	}, nil)

	var breakpoints []Breakpoint
	for _, a := range answers {
		if a.Cmd == types.AnswerBreakpoint {
			breakpoints = append(breakpoints, Breakpoint{
				StopPoint: types.StopPoint(a.Arg1),
				Num:       a.Arg3,
			})
		}
	}
	return breakpoints, err
}

// FutureIDs sets the unique IDs of objects the process should stop at once they are created.
func (p *Process) FutureIDs(ids []types.UniqueID) error {
	extra := make([]byte, 0, len(ids)*types.UInt64Length)
	for _, id := range ids {
		extra = append(extra, photon.NewFromValue(&id).B...)
	}
	_, err := p.roundTrip(types.Command{Cmd: types.CmdFutureIDs}, extra)
	return err
}

// Command sends custom command and returns the answers sent by the command handler.
func (p *Process) Command(opcode int32, arg1, arg2, arg3 int64, extra []byte) ([]Answer, error) {
	if opcode < 0 {
		return nil, errors.Errorf("opcode %d is reserved", opcode)
	}
	answers, err := p.roundTrip(types.Command{
		Cmd:  opcode,
		Arg1: arg1,
		Arg2: arg2,
		Arg3: arg3,
	}, extra)
	if err != nil {
		return answers, err
	}
	for _, a := range answers {
		if a.Cmd == types.AnswerFailed && a.Arg1 == int64(opcode) {
			return answers, errors.Errorf("command %d failed: %s", opcode, a.Extra)
		}
	}
	return answers, nil
}

// Fork creates the copy of the process stopped at the same stop point.
func (p *Process) Fork() (*Process, error) {
	if p.atEnd {
		return nil, errors.WithStack(ErrAtEnd)
	}

	conn, childConn, err := control.Socketpair()
	if err != nil {
		return nil, err
	}

	if err := p.conn.Write(types.Command{Cmd: types.CmdFork}, nil); err != nil {
		_ = conn.Close()
		_ = childConn.Close()
		return nil, err
	}
	err = p.conn.SendFD(childConn.File())
	_ = childConn.Close()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	answers, err := p.wait()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	pid := -1
	for _, a := range answers {
		if a.Cmd == types.AnswerForked {
			pid = int(a.Arg1)
		}
	}
	if pid < 0 {
		_ = conn.Close()
		return nil, errors.New("fork was not confirmed")
	}

	child := &Process{
		conn:  conn,
		pid:   pid,
		total: p.total,
	}
	if _, err := child.wait(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return child, nil
}

// Quit asks the process to exit and closes the connection.
func (p *Process) Quit() error {
	var err error
	if !p.atEnd {
		err = p.conn.Write(types.Command{Cmd: types.CmdQuit}, nil)
	}
	if err2 := p.conn.Close(); err == nil {
		err = err2
	}
	return err
}

func (p *Process) roundTrip(cmd types.Command, extra []byte) ([]Answer, error) {
	if p.atEnd {
		return nil, errors.WithStack(ErrAtEnd)
	}
	if err := p.conn.Write(cmd, extra); err != nil {
		return nil, err
	}
	return p.wait()
}

// wait collects answers until process is ready for the next command.
func (p *Process) wait() ([]Answer, error) {
	var answers []Answer
	for {
		cmd, extra, err := p.conn.Read()
		if err != nil {
			return answers, err
		}
		switch cmd.Cmd {
		case types.AnswerReady:
			p.stopPoint = types.StopPoint(cmd.Arg1)
			p.createdObjects = uint64(cmd.Arg2) - uint64(types.FirstUniqueID)
			return answers, nil
		case types.AnswerAtEnd:
			p.atEnd = true
			p.stopPoint = p.total
			return answers, errors.WithStack(ErrAtEnd)
		default:
			answers = append(answers, Answer{Command: cmd, Extra: extra})
		}
	}
}
