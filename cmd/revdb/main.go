package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/revdb"
	"github.com/outofforest/revdb/archive"
	"github.com/outofforest/revdb/controller"
	"github.com/outofforest/revdb/forker"
	"github.com/outofforest/revdb/inspect"
	"github.com/outofforest/revdb/types"
)

func main() {
	ctx := logger.WithLogger(context.Background(), logger.New(logger.DefaultConfig))

	var err error
	if len(os.Args) > 1 && os.Args[1] == forker.ReplayFlag {
		err = replayDemo(ctx, os.Args)
	} else {
		err = newRootCommand().ExecuteContext(ctx)
	}
	if err != nil {
		logger.Get(ctx).Error("Command failed", zap.Error(err))
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "revdb",
		Short:         "Record and replay deterministic runs of programs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(
		newInspectCommand(),
		newPackCommand(),
		newUnpackCommand(),
		newDemoCommand(),
		newReplayCommand(),
	)
	return cmd
}

func newInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <log>",
		Short: "Print information about the log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := inspect.File(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "session:      %s\n", report.Session)
			fmt.Fprintf(out, "version:      %#x\n", report.Version)
			fmt.Fprintf(out, "build:        %#x %#x\n", report.Ptr1, report.Ptr2)
			fmt.Fprintf(out, "arguments:    %s\n", strings.Join(report.Args, " "))
			fmt.Fprintf(out, "size:         %d\n", report.Size)
			fmt.Fprintf(out, "packets:      %d (%d bytes)\n", report.Packets, report.PayloadBytes)
			fmt.Fprintf(out, "markers:      %d\n", len(report.Markers))
			fmt.Fprintf(out, "stop points:  %d\n", report.Total)
			fmt.Fprintf(out, "fingerprint:  %x\n", report.Fingerprint)
			return nil
		},
	}
}

func newPackCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pack <log> <archive>",
		Short: "Compress the log",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return archive.PackFile(args[1], args[0])
		},
	}
}

func newUnpackCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unpack <archive> <log>",
		Short: "Decompress the log",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return archive.UnpackFile(args[1], args[0])
		},
	}
}

func newDemoCommand() *cobra.Command {
	var log string
	var steps uint32

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Record the demo program",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := revdb.ConfigFromArgs(os.Args, os.Getenv)
			if err != nil {
				return err
			}
			if log != "" {
				config.Log = log
			}
			if config.Log == "" {
				return errors.Errorf("log path is required, use --log or %s", revdb.LogEnv)
			}
			return revdb.Run(cmd.Context(), config, demo(steps))
		},
	}
	cmd.Flags().StringVar(&log, "log", "", "path of the log to record")
	cmd.Flags().Uint32Var(&steps, "steps", 200, "number of steps")
	return cmd
}

func newReplayCommand() *cobra.Command {
	var stopPoints []uint
	var interval uint64

	cmd := &cobra.Command{
		Use:   "replay <log>",
		Short: "Replay the demo log and print its state at the stop points",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := os.Executable()
			if err != nil {
				return errors.WithStack(err)
			}
			p, process, err := controller.Spawn(path, args[0], os.Stdout, os.Stderr)
			if err != nil {
				return err
			}

			timeline, err := controller.NewTimeline(p, interval)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, sp := range stopPoints {
				if err := timeline.JumpTo(types.StopPoint(sp)); err != nil {
					_ = timeline.Close()
					return err
				}
				current := timeline.Current()
				if current.AtEnd() {
					fmt.Fprintf(out, "%d: end of log\n", current.StopPoint())
					continue
				}
				answers, err := current.Command(opcodeStatus, 0, 0, 0, nil)
				if err != nil {
					_ = timeline.Close()
					return err
				}
				for _, a := range answers {
					if a.Cmd == answerStatus {
						fmt.Fprintf(out, "%d: total %d, alive %d, objects %d\n", current.StopPoint(), a.Arg1, a.Arg2,
							a.Arg3)
					}
				}
			}

			if err := timeline.Close(); err != nil {
				return err
			}
			return errors.WithStack(process.Wait())
		},
	}
	cmd.Flags().UintSliceVar(&stopPoints, "at", []uint{100, 50, 150}, "stop points to visit")
	cmd.Flags().Uint64Var(&interval, "interval", 25, "distance between kept checkpoints")
	return cmd
}

func replayDemo(ctx context.Context, args []string) error {
	config, err := revdb.ConfigFromArgs(args, os.Getenv)
	if err != nil {
		return err
	}
	return revdb.Run(ctx, config, demo(0))
}
