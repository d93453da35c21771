package revdb

import (
	"os"
	"strconv"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/outofforest/revdb/forker"
	"github.com/outofforest/revdb/types"
)

// LogEnv is the environment variable holding the path of the log to record.
const LogEnv = "REVDB_LOG"

// Config stores engine configuration.
type Config struct {
	// Mode selects between recording and replaying.
	Mode types.Mode `yaml:"mode"`

	// Log is the path of the log. Recording is disabled if it is empty.
	Log string `yaml:"log"`

	// BufferSize is the size of the packet buffer, including the length prefix.
	BufferSize uint64 `yaml:"buffer_size"`

	// SocketFD is the descriptor of the control socket used if Socket is nil.
	SocketFD int `yaml:"socket_fd"`

	// Args are the arguments of the recorded process.
	Args []string `yaml:"-"`

	// LogFile is the inherited log file used instead of opening the Log path.
	LogFile *os.File `yaml:"-"`

	// Socket is the control socket.
	Socket *os.File `yaml:"-"`

	// Resume is set when the replaying process is a forked branch.
	Resume *forker.Resume `yaml:"-"`

	// Spawner spawns forked branches.
	Spawner forker.Spawner `yaml:"-"`

	// Collector reports unreachable objects during recording.
	Collector Collector `yaml:"-"`

	// Commands are the custom commands available from the first stop point.
	Commands []Command `yaml:"-"`

	// AllocHook is called when the awaited future object is allocated.
	AllocHook AllocHook `yaml:"-"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Mode:       types.ModeRecord,
		BufferSize: types.DefaultBufferSize,
		SocketFD:   forker.SocketFD,
	}
}

// LoadConfig loads configuration from yaml file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "can't read config file '%s'", path)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, errors.Wrapf(err, "can't parse config file '%s'", path)
	}
	switch config.Mode {
	case types.ModeRecord, types.ModeReplay:
	default:
		return Config{}, errors.Errorf("unknown mode '%s'", config.Mode)
	}
	return config, nil
}

// ConfigFromArgs selects the mode from the process arguments:
//
//	prog --revdb-replay <log> <socket-fd> [--revdb-resume <stop-point> <offset> <mode> <log-fd> [future-ids...]]
//
// Otherwise the process records to the log named by the REVDB_LOG environment variable.
func ConfigFromArgs(args []string, getenv func(string) string) (Config, error) {
	config := DefaultConfig()

	if len(args) < 2 || args[1] != forker.ReplayFlag {
		config.Mode = types.ModeRecord
		config.Log = getenv(LogEnv)
		config.Args = args
		return config, nil
	}

	if len(args) < 4 || (len(args) > 4 && args[4] != forker.ResumeFlag) {
		prog := "prog"
		if len(args) > 0 {
			prog = args[0]
		}
		return Config{}, errors.Errorf("syntax: %s %s <log> <socket-fd> [%s ...]", prog, forker.ReplayFlag,
			forker.ResumeFlag)
	}

	socketFD, err := strconv.Atoi(args[3])
	if err != nil || socketFD < 0 {
		return Config{}, errors.Errorf("invalid socket descriptor '%s'", args[3])
	}

	config.Mode = types.ModeReplay
	config.Log = args[2]
	config.SocketFD = socketFD

	if len(args) > 4 {
		resume, logFD, err := forker.ParseResumeArgs(args[5:])
		if err != nil {
			return Config{}, err
		}
		config.Resume = &resume
		config.LogFile = os.NewFile(uintptr(logFD), config.Log)
	}

	return config, nil
}
