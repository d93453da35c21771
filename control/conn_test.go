package control

import (
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/outofforest/revdb/types"
)

func newPair(t *testing.T) (*Conn, *Conn) {
	c1, c2, err := Socketpair()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = c1.Close()
		_ = c2.Close()
	})
	return c1, c2
}

func TestCommand(t *testing.T) {
	requireT := require.New(t)

	c1, c2 := newPair(t)

	requireT.NoError(c1.Write(types.Command{
		Cmd:  types.CmdForward,
		Arg1: 3,
		Arg2: int64(types.BreakpointBreak),
		Arg3: -7,
	}, nil))
	requireT.NoError(c1.Write(types.Command{
		Cmd:  5,
		Arg1: 1,
	}, []byte("hello")))

	cmd, extra, err := c2.Read()
	requireT.NoError(err)
	requireT.Equal(types.Command{
		Cmd:  types.CmdForward,
		Arg1: 3,
		Arg2: int64(types.BreakpointBreak),
		Arg3: -7,
	}, cmd)
	requireT.Nil(extra)
	requireT.True(cmd.IsBuiltin())

	cmd, extra, err = c2.Read()
	requireT.NoError(err)
	requireT.Equal(types.Command{
		Cmd:       5,
		ExtraSize: 5,
		Arg1:      1,
	}, cmd)
	requireT.Equal("hello", string(extra))
	requireT.False(cmd.IsBuiltin())
}

func TestCommandLength(t *testing.T) {
	requireT := require.New(t)

	c1, c2 := newPair(t)
	requireT.NoError(c1.Write(types.Command{Cmd: types.CmdPing}, nil))
	requireT.NoError(c1.Close())

	buf, err := io.ReadAll(c2.File())
	requireT.NoError(err)
	requireT.Len(buf, types.CommandLength)
}

func TestReadFromClosedSocket(t *testing.T) {
	requireT := require.New(t)

	c1, c2 := newPair(t)
	requireT.NoError(c1.Close())

	_, _, err := c2.Read()
	requireT.ErrorIs(err, io.EOF)
}

func TestPassFD(t *testing.T) {
	requireT := require.New(t)

	c1, c2 := newPair(t)
	child1, child2 := newPair(t)

	requireT.NoError(c1.Write(types.Command{Cmd: types.CmdFork}, nil))
	requireT.NoError(c1.SendFD(child2.File()))

	cmd, _, err := c2.Read()
	requireT.NoError(err)
	requireT.Equal(types.CmdFork, cmd.Cmd)

	file, err := c2.RecvFD()
	requireT.NoError(err)
	received := NewConn(file)
	t.Cleanup(func() {
		_ = received.Close()
	})

	requireT.NoError(received.Write(types.Command{Cmd: types.AnswerReady, Arg1: 10}, nil))
	cmd, _, err = child1.Read()
	requireT.NoError(err)
	requireT.Equal(types.Command{Cmd: types.AnswerReady, Arg1: 10}, cmd)
}

func TestPassRegularFile(t *testing.T) {
	requireT := require.New(t)

	c1, c2 := newPair(t)

	f, err := os.CreateTemp(t.TempDir(), "revdb")
	requireT.NoError(err)
	_, err = f.WriteString("log")
	requireT.NoError(err)
	requireT.NoError(f.Close())

	f, err = os.Open(f.Name())
	requireT.NoError(err)
	t.Cleanup(func() {
		_ = f.Close()
	})

	requireT.NoError(c1.SendFD(f))
	f2, err := c2.RecvFD()
	requireT.NoError(err)
	t.Cleanup(func() {
		_ = f2.Close()
	})

	buf, err := io.ReadAll(f2)
	requireT.NoError(err)
	requireT.Equal("log", string(buf))
}
