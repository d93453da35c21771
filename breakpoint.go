package revdb

import (
	"context"

	"github.com/outofforest/revdb/types"
)

// Breakpoint reports that the program hit the breakpoint num.
// Depending on the mode requested by the controller the breakpoint is ignored, recorded or stops the program
// at the next stop point.
func (e *Engine) Breakpoint(num int64) error {
	if e.err != nil {
		return e.err
	}
	if e.io != ioRegular {
		return nil
	}

	switch e.breakpointMode {
	case types.BreakpointRecord:
		if e.recordedStopPoint != e.stopPointSeen {
			e.recordedStopPoint = e.stopPointSeen
			e.recordedBreakpoints = e.recordedBreakpoints[:0]
		}
		if len(e.recordedBreakpoints) < types.MaxRecordedBreakpoints {
			e.recordedBreakpoints = append(e.recordedBreakpoints, num)
		}
		return nil
	case types.BreakpointBreak:
		e.interactiveBreak = e.stopPointSeen + 1
		return e.fail(e.answer(types.AnswerBreakpoint, int64(e.stopPointBreak()), 0, num, nil))
	default:
		return nil
	}
}

// WatchEnabled tells if watch expressions should be evaluated.
func (e *Engine) WatchEnabled() bool {
	if e.io != ioRegular {
		return e.saved.watchEnabled
	}
	return e.watchEnabled
}

// Watch evaluates watch expression in protected mode, without access to the log.
// The result decides if watch expressions are evaluated later on.
func (e *Engine) Watch(fn func(ctx context.Context) (bool, error)) error {
	if e.err != nil {
		return e.err
	}
	if !e.watchEnabled || e.io != ioRegular {
		return nil
	}

	var enabled bool
	e.saveState()
	err := e.execute(func(ctx context.Context) error {
		var err error
		enabled, err = fn(ctx)
		return err
	})
	e.restoreState()
	if e.err != nil {
		return e.err
	}
	if err != nil {
		return err
	}
	e.watchEnabled = enabled
	return nil
}

func (e *Engine) answerRecordedBreakpoints() error {
	for _, num := range e.recordedBreakpoints {
		if err := e.answer(types.AnswerBreakpoint, int64(e.recordedStopPoint), 0, num, nil); err != nil {
			return err
		}
	}
	e.recordedBreakpoints = e.recordedBreakpoints[:0]
	return nil
}
