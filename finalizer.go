package revdb

import (
	"github.com/pkg/errors"

	"github.com/outofforest/revdb/codec"
	"github.com/outofforest/revdb/types"
)

type destructor struct {
	obj      Object
	callback func(obj Object)
}

type dyingObject struct {
	obj        Object
	destructor func(obj Object)
	queue      *FinalizerQueue
}

// RegisterDestructor registers callback called once the object becomes unreachable.
// Callback is called at the stop point following the moment the collector reported the object,
// so it runs at the same place of the program in both modes.
func (e *Engine) RegisterDestructor(obj Object, callback func(obj Object)) error {
	if e.err != nil {
		return e.err
	}

	if e.config.Mode == types.ModeRecord {
		e.collector.SetFinalizer(obj, func(obj Object) {
			e.dying.Push(dyingObject{obj: obj, destructor: callback})
		})
		return nil
	}

	return e.fail(e.destructors.Add(obj.UniqueID(), destructor{obj: obj, callback: callback}))
}

// NewFinalizerQueue creates new finalizer queue. Trigger is called at every stop point where objects are
// reported as unreachable.
func (e *Engine) NewFinalizerQueue(trigger func() error) *FinalizerQueue {
	fq := &FinalizerQueue{
		e:       e,
		trigger: trigger,
	}
	e.finalizerQueues = append(e.finalizerQueues, fq)
	return fq
}

// FinalizerQueue delivers unreachable objects to the program in the order recorded in the log.
type FinalizerQueue struct {
	e       *Engine
	trigger func() error
	pending []Object
}

// Register registers object in the queue. Object may be registered only once.
func (fq *FinalizerQueue) Register(obj Object) error {
	e := fq.e
	if e.err != nil {
		return e.err
	}

	if e.config.Mode == types.ModeRecord {
		e.collector.SetFinalizer(obj, func(obj Object) {
			e.dying.Push(dyingObject{obj: obj, queue: fq})
		})
		return nil
	}

	return e.fail(e.finalizers.Add(obj.UniqueID(), obj))
}

// NextDead returns the next unreachable object or nil if there are no more.
func (fq *FinalizerQueue) NextDead() (Object, error) {
	e := fq.e
	if err := e.checkIO(); err != nil {
		return nil, err
	}

	if e.config.Mode == types.ModeRecord {
		if len(fq.pending) == 0 {
			return nil, e.fail(codec.Emit(e.writer, types.EndOfIDs))
		}
		obj := fq.pending[0]
		fq.pending[0] = nil
		fq.pending = fq.pending[1:]
		return obj, e.fail(codec.Emit(e.writer, int64(obj.UniqueID())))
	}

	uid, err := codec.Replay[int64](e.reader)
	if err != nil {
		return nil, e.fail(err)
	}
	if uid == types.EndOfIDs {
		return nil, nil
	}
	obj, err := e.finalizers.Pop(types.UniqueID(uid))
	if err != nil {
		return nil, e.fail(err)
	}
	return obj, nil
}

func (e *Engine) recordFinalizers() error {
	if err := e.writer.WriteFinalizerTrigger(e.stopPointSeen); err != nil {
		return err
	}

	for range e.dyingReader.Count() {
		d, _ := e.dyingReader.Read()
		if d.queue != nil {
			d.queue.pending = append(d.queue.pending, d.obj)
			continue
		}
		if err := codec.Emit(e.writer, int64(d.obj.UniqueID())); err != nil {
			return err
		}
		d.destructor(d.obj)
		if e.err != nil {
			return e.err
		}
	}
	if err := codec.Emit(e.writer, types.EndOfIDs); err != nil {
		return err
	}
	return e.triggerFinalizerQueues()
}

func (e *Engine) replayFinalizers() error {
	if err := e.reader.ClearFinalizerBreak(); err != nil {
		return err
	}

	for {
		uid, err := codec.Replay[int64](e.reader)
		if err != nil {
			return err
		}
		if uid == types.EndOfIDs {
			break
		}
		d, err := e.destructors.Pop(types.UniqueID(uid))
		if err != nil {
			return err
		}
		d.callback(d.obj)
		if e.err != nil {
			return e.err
		}
	}
	return e.triggerFinalizerQueues()
}

func (e *Engine) triggerFinalizerQueues() error {
	for _, fq := range e.finalizerQueues {
		if fq.trigger == nil {
			continue
		}
		if err := fq.trigger(); err != nil {
			return errors.Wrap(err, "finalizer queue trigger failed")
		}
	}
	return nil
}
