package forker

import (
	"context"
	"io"
	"os"
	"os/exec"
	"strconv"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/parallel"
)

// ExecConfig is the configuration of exec spawner.
type ExecConfig struct {
	// Path is the binary to execute. Current executable is used if empty.
	Path string

	// Env is the environment of spawned branches. Environment of the current process is used if nil.
	Env []string

	Stdout io.Writer
	Stderr io.Writer
}

// NewExecSpawner creates spawner executing the host binary again in replay mode.
// Branches are waited for by tasks spawned in the group.
func NewExecSpawner(group *parallel.Group, config ExecConfig) *ExecSpawner {
	return &ExecSpawner{
		group:  group,
		config: config,
	}
}

// ExecSpawner spawns branches as new processes.
type ExecSpawner struct {
	group  *parallel.Group
	config ExecConfig
}

// Spawn spawns the branch.
func (s *ExecSpawner) Spawn(req Request) (int, error) {
	defer req.Close()

	path := s.config.Path
	if path == "" {
		var err error
		path, err = os.Executable()
		if err != nil {
			return 0, errors.WithStack(err)
		}
	}

	cmd := exec.Command(path, ResumeArgs(req)...)
	cmd.Env = s.config.Env
	cmd.Stdout = s.config.Stdout
	cmd.Stderr = s.config.Stderr
	cmd.ExtraFiles = []*os.File{req.Socket, req.Log}

	if err := cmd.Start(); err != nil {
		return 0, errors.Wrapf(err, "can't spawn branch '%s'", path)
	}

	pid := cmd.Process.Pid
	s.group.Spawn("branch-"+strconv.Itoa(pid), parallel.Continue, func(ctx context.Context) error {
		err := cmd.Wait()
		logger.Get(ctx).Debug("Branch exited", zap.Int("pid", pid), zap.Error(err))
		return nil
	})

	return pid, nil
}
