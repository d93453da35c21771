package revdb

import (
	"github.com/pkg/errors"

	"github.com/outofforest/revdb/codec"
	"github.com/outofforest/revdb/types"
)

// Record records the value returned by fn. In replay mode fn is not called and the value is read from the log.
func Record[T types.Primitive](e *Engine, fn func() T) (T, error) {
	var v T
	if err := e.checkIO(); err != nil {
		return v, err
	}

	if e.config.Mode == types.ModeRecord {
		v = fn()
		return v, e.fail(codec.Emit(e.writer, v))
	}

	v, err := codec.Replay[T](e.reader)
	return v, e.fail(err)
}

// RecordBytes records the byte slice returned by fn. In replay mode fn is not called and the slice is read
// from the log.
func RecordBytes(e *Engine, fn func() []byte) ([]byte, error) {
	if err := e.checkIO(); err != nil {
		return nil, err
	}

	if e.config.Mode == types.ModeRecord {
		v := fn()
		return v, e.fail(codec.EmitBytes(e.writer, v))
	}

	v, err := codec.ReplayBytes(e.reader)
	return v, e.fail(err)
}

func (e *Engine) checkIO() error {
	if e.err != nil {
		return e.err
	}
	switch e.io {
	case ioRegular:
		return nil
	case ioExecuting:
		return errors.WithStack(ErrIODisabled)
	default:
		return e.fail(errors.WithStack(ErrIODisabled))
	}
}
