package revdb

import (
	"context"
	"slices"
	"strconv"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/parallel"
	"github.com/outofforest/revdb/forker"
	"github.com/outofforest/revdb/types"
)

func (e *Engine) commandFork() error {
	socket, err := e.conn.RecvFD()
	if err != nil {
		return err
	}

	offset, err := e.reader.Offset()
	if err != nil {
		_ = socket.Close()
		return err
	}

	logStore, err := e.logStore.Reopen()
	if err != nil {
		_ = socket.Close()
		return err
	}

	req := forker.Request{
		Resume: forker.Resume{
			StopPoint: e.saved.stopPointSeen,
			Offset:    offset,
			Mode:      e.breakpointMode,
			FutureIDs: slices.Clone(e.futureIDs),
		},
		LogPath: e.logStore.Path(),
		Log:     logStore.File(),
		Socket:  socket,
	}
	pid, err := e.spawner.Spawn(req)
	if err != nil {
		return err
	}

	logger.Get(e.ctx).Debug("Branch forked",
		zap.Int("pid", pid),
		zap.Uint64("stopPoint", uint64(req.StopPoint)),
		zap.Uint64("offset", offset))

	return e.answer(types.AnswerForked, int64(pid), 0, 0, nil)
}

// resumeBranch is called once forked branch reaches the stop point of its parent.
func (e *Engine) resumeBranch() error {
	offset, err := e.reader.Offset()
	if err != nil {
		return err
	}
	if offset != e.resume.Offset {
		return errors.Errorf("branch reached stop point %d at log offset %d but parent was at %d",
			e.stopPointSeen, offset, e.resume.Offset)
	}

	e.breakpointMode = e.resume.Mode
	e.futureIDs = e.resume.FutureIDs
	e.setUIDBreak()
	e.setBreakpoints()
	e.resume = nil

	logger.Get(e.ctx).Debug("Branch resumed", zap.Uint64("stopPoint", uint64(e.stopPointSeen)))
	return nil
}

// NewInProcessSpawner creates spawner running branches as goroutines of the current process.
// Program must register its commands on the engine it receives, so each branch serves its own state.
func NewInProcessSpawner(group *parallel.Group, config Config, program Program) *InProcessSpawner {
	return &InProcessSpawner{
		group:   group,
		config:  config,
		program: program,
	}
}

// InProcessSpawner spawns branches as goroutines.
// Returned pids are synthetic and unique within the spawner.
type InProcessSpawner struct {
	group   *parallel.Group
	config  Config
	program Program

	lastPID int64
}

// Spawn spawns the branch.
func (s *InProcessSpawner) Spawn(req forker.Request) (int, error) {
	pid := int(atomic.AddInt64(&s.lastPID, 1))

	config := s.config
	config.Mode = types.ModeReplay
	config.Log = req.LogPath
	config.LogFile = req.Log
	config.Socket = req.Socket
	config.Resume = &req.Resume
	config.Spawner = s

	s.group.Spawn("branch-"+strconv.Itoa(pid), parallel.Continue, func(ctx context.Context) error {
		return Run(ctx, config, s.program)
	})
	return pid, nil
}
