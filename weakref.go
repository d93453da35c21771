package revdb

import (
	"weak"

	"github.com/pkg/errors"

	"github.com/outofforest/revdb/codec"
	"github.com/outofforest/revdb/types"
)

// NewWeakRef creates weak reference to the target.
// The liveness of the target observed by every dereference is stored in the log, so in replay mode the reference
// dies exactly when it died during recording.
func NewWeakRef[T any](e *Engine, target *T) (*WeakRef[T], error) {
	r := &WeakRef[T]{e: e}
	if e.config.Mode == types.ModeRecord {
		r.weak = weak.Make(target)
	} else {
		r.strong = target
	}

	if e.err != nil {
		return nil, e.err
	}
	if e.io != ioRegular {
		return r, nil
	}

	if e.config.Mode == types.ModeRecord {
		offset, err := r.emitDead()
		if err != nil {
			return nil, e.fail(err)
		}
		r.offset = offset
		return r, nil
	}

	r.offset = 1
	if err := r.replayLiveness(); err != nil {
		return nil, err
	}
	return r, nil
}

// NewPrebuiltWeakRef creates weak reference which is not tracked in the log.
// It must be used only for targets living for the whole life of the program.
func NewPrebuiltWeakRef[T any](e *Engine, target *T) *WeakRef[T] {
	r := &WeakRef[T]{e: e}
	if e.config.Mode == types.ModeRecord {
		r.weak = weak.Make(target)
	} else {
		r.strong = target
	}
	return r
}

// WeakRef is the weak reference. It is not safe for concurrent use.
type WeakRef[T any] struct {
	e *Engine

	// weak is used during recording.
	weak weak.Pointer[T]

	// strong is used during replaying, it is cleared when log says the target is dead.
	strong *T

	// offset is the log offset of the liveness byte written by the previous dereference.
	// Zero means the reference is not tracked.
	offset uint64
}

// Deref returns the target or nil if it is dead.
func (r *WeakRef[T]) Deref() (*T, error) {
	e := r.e
	if e.err != nil {
		return nil, e.err
	}

	var target *T
	if e.config.Mode == types.ModeRecord {
		target = r.weak.Value()
	} else {
		target = r.strong
	}

	if target == nil || e.io != ioRegular || r.offset == 0 {
		return target, nil
	}

	if e.config.Mode == types.ModeRecord {
		if err := e.writer.Patch(r.offset, byte(types.LivenessDead), byte(types.LivenessAlive)); err != nil {
			return nil, e.fail(err)
		}
		offset, err := r.emitDead()
		if err != nil {
			return nil, e.fail(err)
		}
		r.offset = offset
		return target, nil
	}

	if err := r.replayLiveness(); err != nil {
		return nil, err
	}
	return target, nil
}

// emitDead writes pessimistic liveness byte. It is patched by the next dereference if the target is still alive.
func (r *WeakRef[T]) emitDead() (uint64, error) {
	b, offset, err := r.e.writer.ReserveAt(1)
	if err != nil {
		return 0, err
	}
	b[0] = byte(types.LivenessDead)
	return offset, nil
}

func (r *WeakRef[T]) replayLiveness() error {
	e := r.e
	liveness, err := codec.Replay[byte](e.reader)
	if err != nil {
		return e.fail(err)
	}
	switch types.Liveness(liveness) {
	case types.LivenessAlive:
	case types.LivenessDead:
		r.strong = nil
	default:
		return e.fail(errors.Errorf("bad weak reference byte %d in log", liveness))
	}
	return nil
}
