package revdb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/outofforest/logger"
	"github.com/outofforest/parallel"
	"github.com/outofforest/revdb/control"
	"github.com/outofforest/revdb/types"
)

// NewContextForTest returns context with logger for unit tests.
func NewContextForTest(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(logger.WithLogger(context.Background(), logger.New(logger.DefaultConfig)))
	t.Cleanup(cancel)
	return ctx
}

// RecordForTest records the program to the log created in temporary directory and returns its path.
func RecordForTest(t *testing.T, config Config, program Program) string {
	config.Mode = types.ModeRecord
	if config.Log == "" {
		config.Log = filepath.Join(t.TempDir(), "revdb.log")
	}
	require.NoError(t, Run(NewContextForTest(t), config, program))
	return config.Log
}

// ReplayForTest replays the log in background. Forked branches run in the same process.
// It returns the controller side of the control socket and the function waiting until the replay and all
// the branches exit.
func ReplayForTest(t *testing.T, config Config, log string, program Program) (*control.Conn, func() error) {
	conn, engineConn, err := control.Socketpair()
	require.NoError(t, err)

	config.Mode = types.ModeReplay
	config.Log = log
	config.Socket = engineConn.File()

	group := parallel.NewGroup(NewContextForTest(t))
	config.Spawner = NewInProcessSpawner(group, config, program)
	group.Spawn("replay", parallel.Continue, func(ctx context.Context) error {
		return Run(ctx, config, program)
	})

	var waited bool
	wait := func() error {
		waited = true
		err := group.Wait()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	t.Cleanup(func() {
		_ = conn.Close()
		if !waited {
			group.Exit(nil)
			_ = group.Wait()
		}
	})

	return conn, wait
}
