package controller

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/outofforest/revdb/types"
)

// NewTimeline creates timeline navigating the replay. Paused fork is kept every interval stop points,
// so jumping backwards only replays from the closest checkpoint.
func NewTimeline(p *Process, interval uint64) (*Timeline, error) {
	if interval == 0 {
		return nil, errors.New("checkpoint interval must be positive")
	}
	return &Timeline{
		current:  p,
		interval: types.StopPoint(interval),
	}, nil
}

// Timeline moves the replay to any stop point.
type Timeline struct {
	current     *Process
	interval    types.StopPoint
	checkpoints []*Process
}

// Current returns the process currently driven by the timeline.
func (t *Timeline) Current() *Process {
	return t.current
}

// Checkpoints returns stop points of kept checkpoints.
func (t *Timeline) Checkpoints() []types.StopPoint {
	stopPoints := make([]types.StopPoint, 0, len(t.checkpoints))
	for _, cp := range t.checkpoints {
		stopPoints = append(stopPoints, cp.StopPoint())
	}
	return stopPoints
}

// JumpTo moves the replay to the stop point.
func (t *Timeline) JumpTo(target types.StopPoint) error {
	if target > t.current.TotalTime() {
		return errors.Errorf("stop point %d is beyond the end of the log %d", target, t.current.TotalTime())
	}

	if target < t.current.StopPoint() || t.current.AtEnd() {
		if err := t.rewind(target); err != nil {
			return err
		}
	}

	for t.current.StopPoint() < target {
		next := (t.current.StopPoint()/t.interval + 1) * t.interval
		if err := t.checkpoint(next); err != nil {
			return err
		}

		next = min(next, target)
		if _, err := t.current.Forward(uint64(next-t.current.StopPoint()), types.BreakpointIgnore); err != nil {
			if errors.Is(err, ErrAtEnd) {
				return nil
			}
			return err
		}
	}
	return nil
}

// Close quits all the processes.
func (t *Timeline) Close() error {
	var err error
	for _, p := range append(t.checkpoints, t.current) {
		if err2 := p.Quit(); err == nil {
			err = err2
		}
	}
	t.checkpoints = nil
	return err
}

// checkpoint keeps paused fork of current process unless the interval ending at next is covered already.
func (t *Timeline) checkpoint(next types.StopPoint) error {
	low := next - t.interval
	i := sort.Search(len(t.checkpoints), func(i int) bool {
		return t.checkpoints[i].StopPoint() >= low
	})
	if i < len(t.checkpoints) && t.checkpoints[i].StopPoint() < next {
		return nil
	}

	cp, err := t.current.Fork()
	if err != nil {
		return err
	}
	t.checkpoints = append(t.checkpoints, nil)
	copy(t.checkpoints[i+1:], t.checkpoints[i:])
	t.checkpoints[i] = cp
	return nil
}

// rewind replaces current process by the fork of the closest checkpoint preceding the target.
// Checkpoints placed after the target are discarded.
func (t *Timeline) rewind(target types.StopPoint) error {
	i := sort.Search(len(t.checkpoints), func(i int) bool {
		return t.checkpoints[i].StopPoint() > target
	})
	if i == 0 {
		return errors.Errorf("no checkpoint precedes stop point %d", target)
	}

	for _, cp := range t.checkpoints[i:] {
		if err := cp.Quit(); err != nil {
			return err
		}
	}
	t.checkpoints = t.checkpoints[:i]

	p, err := t.checkpoints[i-1].Fork()
	if err != nil {
		return err
	}
	if err := t.current.Quit(); err != nil {
		return err
	}
	t.current = p
	return nil
}
