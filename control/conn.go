package control

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/outofforest/photon"
	"github.com/outofforest/revdb/types"
)

// Socketpair creates pair of connected control sockets.
func Socketpair() (*Conn, *Conn, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, errors.Wrap(err, "can't create control socket pair")
	}
	return NewConn(os.NewFile(uintptr(fds[0]), "revdb-control")),
		NewConn(os.NewFile(uintptr(fds[1]), "revdb-control")), nil
}

// NewConn creates control connection on top of the socket file.
func NewConn(file *os.File) *Conn {
	return &Conn{
		file: file,
		fd:   int(file.Fd()),
	}
}

// Conn is the control connection between the controller and the replaying process.
type Conn struct {
	file *os.File
	fd   int
}

// File returns the socket file.
func (c *Conn) File() *os.File {
	return c.file
}

// Write sends command followed by the extra payload.
func (c *Conn) Write(cmd types.Command, extra []byte) error {
	if uint64(len(extra)) > uint64(^uint32(0)) {
		return errors.Errorf("payload of %d bytes is too large", len(extra))
	}
	cmd.ExtraSize = uint32(len(extra))
	if err := c.writeAll(photon.NewFromValue(&cmd).B); err != nil {
		return err
	}
	return c.writeAll(extra)
}

// Read receives command and its extra payload.
func (c *Conn) Read() (types.Command, []byte, error) {
	var cmd types.Command
	if err := c.readAll(photon.NewFromValue(&cmd).B); err != nil {
		return types.Command{}, nil, err
	}
	if cmd.ExtraSize == 0 {
		return cmd, nil, nil
	}
	extra := make([]byte, cmd.ExtraSize)
	if err := c.readAll(extra); err != nil {
		return types.Command{}, nil, err
	}
	return cmd, extra, nil
}

// SendFD passes file descriptor to the other side.
func (c *Conn) SendFD(file *os.File) error {
	rights := unix.UnixRights(int(file.Fd()))
	if err := unix.Sendmsg(c.fd, []byte{0x00}, rights, nil, 0); err != nil {
		return errors.Wrap(err, "can't send file descriptor")
	}
	return nil
}

// RecvFD receives file descriptor sent by the other side.
func (c *Conn) RecvFD() (*os.File, error) {
	var buf [1]byte
	oob := make([]byte, unix.CmsgSpace(4))
	for {
		n, oobn, _, _, err := unix.Recvmsg(c.fd, buf[:], oob, unix.MSG_CMSG_CLOEXEC)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return nil, errors.Wrap(err, "can't receive file descriptor")
		}
		if n == 0 {
			return nil, errors.Wrap(io.EOF, "control socket closed")
		}

		msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
		if err != nil {
			return nil, errors.Wrap(err, "can't parse control message")
		}
		if len(msgs) != 1 {
			return nil, errors.Errorf("expected one control message, got %d", len(msgs))
		}
		fds, err := unix.ParseUnixRights(&msgs[0])
		if err != nil {
			return nil, errors.Wrap(err, "can't parse file descriptors")
		}
		if len(fds) != 1 {
			for _, fd := range fds {
				_ = unix.Close(fd)
			}
			return nil, errors.Errorf("expected one file descriptor, got %d", len(fds))
		}
		return os.NewFile(uintptr(fds[0]), "revdb-control"), nil
	}
}

// Close closes the socket.
func (c *Conn) Close() error {
	return errors.WithStack(c.file.Close())
}

func (c *Conn) writeAll(buf []byte) error {
	for len(buf) > 0 {
		n, err := unix.Write(c.fd, buf)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return errors.Wrap(err, "can't write to control socket")
		}
		if n == 0 {
			return errors.New("can't write to control socket")
		}
		buf = buf[n:]
	}
	return nil
}

func (c *Conn) readAll(buf []byte) error {
	for len(buf) > 0 {
		n, err := unix.Read(c.fd, buf)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return errors.Wrap(err, "can't read from control socket")
		}
		if n == 0 {
			return errors.Wrap(io.EOF, "can't read from control socket")
		}
		buf = buf[n:]
	}
	return nil
}
