package forker

import (
	"os"
	"strconv"

	"github.com/pkg/errors"

	"github.com/outofforest/revdb/types"
)

const (
	// ReplayFlag selects the replay mode.
	ReplayFlag = "--revdb-replay"

	// ResumeFlag tells the replaying process that it is a forked branch.
	ResumeFlag = "--revdb-resume"

	// SocketFD is the descriptor of the control socket in the spawned branch.
	SocketFD = 3

	// LogFD is the descriptor of the log file in the spawned branch.
	LogFD = 4
)

// Resume describes the point the forked branch continues from.
type Resume struct {
	StopPoint types.StopPoint
	Offset    uint64
	Mode      types.BreakpointMode
	FutureIDs []types.UniqueID
}

// Request is the request to spawn the branch.
type Request struct {
	Resume

	// LogPath is the path of the log, reported to the branch.
	LogPath string

	// Log is the log file opened for the branch. It has its own cursor.
	Log *os.File

	// Socket is the control socket of the branch.
	Socket *os.File
}

// Close closes descriptors carried by the request.
func (r Request) Close() {
	if r.Log != nil {
		_ = r.Log.Close()
	}
	if r.Socket != nil {
		_ = r.Socket.Close()
	}
}

// Spawner starts the branch continuing from the stop point the fork was requested at.
// Spawner takes the ownership of the descriptors carried by the request.
type Spawner interface {
	Spawn(req Request) (int, error)
}

// ResumeArgs returns the command line arguments of the spawned branch.
func ResumeArgs(req Request) []string {
	args := []string{
		ReplayFlag, req.LogPath, strconv.Itoa(SocketFD),
		ResumeFlag,
		strconv.FormatUint(uint64(req.StopPoint), 10),
		strconv.FormatUint(req.Offset, 10),
		string(rune(req.Mode)),
		strconv.Itoa(LogFD),
	}
	for _, id := range req.FutureIDs {
		args = append(args, strconv.FormatUint(uint64(id), 10))
	}
	return args
}

// ParseResumeArgs parses arguments following the resume flag.
func ParseResumeArgs(args []string) (Resume, int, error) {
	if len(args) < 4 {
		return Resume{}, 0, errors.Errorf("syntax: %s <stop-point> <offset> <mode> <log-fd> [future-ids...]",
			ResumeFlag)
	}

	stopPoint, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return Resume{}, 0, errors.Wrapf(err, "invalid stop point '%s'", args[0])
	}
	offset, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return Resume{}, 0, errors.Wrapf(err, "invalid log offset '%s'", args[1])
	}
	if len(args[2]) != 1 {
		return Resume{}, 0, errors.Errorf("invalid breakpoint mode '%s'", args[2])
	}
	mode := types.BreakpointMode(args[2][0])
	switch mode {
	case types.BreakpointIgnore, types.BreakpointRecord, types.BreakpointBreak:
	default:
		return Resume{}, 0, errors.Errorf("invalid breakpoint mode '%s'", args[2])
	}
	logFD, err := strconv.Atoi(args[3])
	if err != nil || logFD < 0 {
		return Resume{}, 0, errors.Errorf("invalid log descriptor '%s'", args[3])
	}

	var futureIDs []types.UniqueID
	for _, arg := range args[4:] {
		id, err := strconv.ParseUint(arg, 10, 64)
		if err != nil {
			return Resume{}, 0, errors.Wrapf(err, "invalid future id '%s'", arg)
		}
		futureIDs = append(futureIDs, types.UniqueID(id))
	}

	return Resume{
		StopPoint: types.StopPoint(stopPoint),
		Offset:    offset,
		Mode:      mode,
		FutureIDs: futureIDs,
	}, logFD, nil
}
