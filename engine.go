package revdb

import (
	"context"
	"os"
	"reflect"
	"runtime/debug"

	"github.com/cespare/xxhash"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/parallel"
	"github.com/outofforest/revdb/codec"
	"github.com/outofforest/revdb/control"
	"github.com/outofforest/revdb/forker"
	"github.com/outofforest/revdb/persistent"
	"github.com/outofforest/revdb/queue"
	"github.com/outofforest/revdb/tree"
	"github.com/outofforest/revdb/types"
)

var (
	// ErrQuit is returned once the controller asks the replaying process to quit.
	ErrQuit = errors.New("quit requested by controller")

	// ErrIODisabled is returned if log is accessed while command is handled.
	ErrIODisabled = errors.New("log access is disabled while command is handled")
)

// Program is the host program driven by the engine.
type Program func(ctx context.Context, e *Engine) error

type ioState byte

const (
	ioRegular ioState = iota
	ioSaved
	ioExecuting
)

type savedState struct {
	stopPointSeen types.StopPoint
	uniqueIDSeen  types.UniqueID
	uniqueIDBreak types.UniqueID
	watchEnabled  bool
}

// Run creates the engine and runs the program under its control.
func Run(ctx context.Context, config Config, program Program) error {
	e, err := New(ctx, config)
	if err != nil {
		return err
	}

	if err := program(ctx, e); err != nil {
		e.release()
		if errors.Is(err, ErrQuit) {
			return nil
		}
		return err
	}

	if err := e.Close(); err != nil && !errors.Is(err, ErrQuit) {
		return err
	}
	return nil
}

// New creates new engine.
func New(ctx context.Context, config Config) (*Engine, error) {
	if config.Mode == "" {
		config.Mode = types.ModeRecord
	}
	if config.BufferSize == 0 {
		config.BufferSize = types.DefaultBufferSize
	}
	if !lo.Contains(supportedModes, config.Mode) {
		return nil, errors.Errorf("mode '%s' is not supported by this build", config.Mode)
	}

	e := &Engine{
		ctx:              ctx,
		config:           config,
		uniqueIDSeen:     types.FirstUniqueID,
		uniqueIDBreak:    types.NoUniqueIDBreak,
		uidBreak:         types.NoUniqueIDBreak,
		interactiveBreak: types.NoBreak,
		breakpointMode:   types.BreakpointIgnore,
		commands:         map[int32]Command{},
		allocHook:        config.AllocHook,
		dying:            queue.New[dyingObject](),
		destructors:      tree.New[destructor](),
		finalizers:       tree.New[Object](),
	}
	e.dyingReader = e.dying.NewReader()

	for _, c := range config.Commands {
		if err := e.RegisterCommand(c); err != nil {
			return nil, err
		}
	}

	var err error
	switch config.Mode {
	case types.ModeRecord:
		err = e.setupRecord()
	case types.ModeReplay:
		err = e.setupReplay()
	default:
		err = errors.Errorf("unknown mode '%s'", config.Mode)
	}
	if err != nil {
		e.release()
		return nil, err
	}
	return e, nil
}

// Engine records or replays the nondeterministic decisions of the host program.
// Engine is not safe for concurrent use, only objects may be reported by the collector from other goroutine.
type Engine struct {
	ctx    context.Context
	config Config
	args   []string

	err          error
	released     bool
	started      bool
	deallocFuncs []func()

	writer    *codec.Writer
	collector Collector

	reader   *codec.Reader
	logStore *persistent.FileStore
	conn     *control.Conn
	spawner  forker.Spawner
	group    *parallel.Group
	resume   *forker.Resume
	total    types.StopPoint

	io               ioState
	saved            savedState
	stopPointSeen    types.StopPoint
	uniqueIDSeen     types.UniqueID
	uniqueIDBreak    types.UniqueID
	watchEnabled     bool
	interactiveBreak types.StopPoint

	breakpointMode      types.BreakpointMode
	pendingAfterForward bool
	recordedStopPoint   types.StopPoint
	recordedBreakpoints []int64
	futureIDs           []types.UniqueID
	uidBreak            types.UniqueID

	commands  map[int32]Command
	allocHook AllocHook

	dying           *queue.Queue[dyingObject]
	dyingReader     *queue.Reader[dyingObject]
	finalizerQueues []*FinalizerQueue
	destructors     *tree.Tree[destructor]
	finalizers      *tree.Tree[Object]
}

// Mode returns the mode engine operates in.
func (e *Engine) Mode() types.Mode {
	return e.config.Mode
}

// Args returns the arguments of the recorded process.
func (e *Engine) Args() []string {
	return e.args
}

// Err returns the fatal error which stopped the engine.
func (e *Engine) Err() error {
	return e.err
}

// StopPoint marks the synchronization point of the program.
// In replay mode the engine may stop here to serve the controller.
func (e *Engine) StopPoint() error {
	if e.err != nil {
		return e.err
	}

	if e.io != ioRegular {
		e.stopPointSeen++
		return nil
	}

	if e.config.Mode == types.ModeRecord {
		e.stopPointSeen++
		if e.dyingReader.Count() > 0 {
			return e.fail(e.recordFinalizers())
		}
		return nil
	}

	if !e.started {
		e.started = true
		if e.stopPointSeen == e.stopPointBreak() {
			if err := e.replayStopPoint(); err != nil {
				return e.fail(err)
			}
		}
	}

	e.stopPointSeen++
	if e.stopPointSeen == e.stopPointBreak() {
		return e.fail(e.replayStopPoint())
	}
	return nil
}

// NewUniqueID assigns the next unique ID to the object.
func (e *Engine) NewUniqueID(obj any) (types.UniqueID, error) {
	if e.err != nil {
		return 0, e.err
	}

	uid := e.uniqueIDSeen
	if uid == e.uniqueIDBreak {
		if err := e.uniqueIDBreakHit(uid, obj); err != nil {
			return 0, e.fail(err)
		}
	}
	e.uniqueIDSeen++
	return uid, nil
}

// CurrentTime returns the number of stop points reached so far.
func (e *Engine) CurrentTime() types.StopPoint {
	if e.io != ioRegular {
		return e.saved.stopPointSeen
	}
	return e.stopPointSeen
}

// TotalTime returns the number of stop points stored in the log.
func (e *Engine) TotalTime() types.StopPoint {
	return e.total
}

// BreakTime returns the stop point the program is going to be stopped at.
func (e *Engine) BreakTime() types.StopPoint {
	return e.interactiveBreak
}

// CreatedObjects returns the number of unique IDs assigned so far.
func (e *Engine) CreatedObjects() uint64 {
	if e.io != ioRegular {
		return uint64(e.saved.uniqueIDSeen - types.FirstUniqueID)
	}
	return uint64(e.uniqueIDSeen - types.FirstUniqueID)
}

// Close finishes the log and releases resources.
// In replay mode it verifies that the whole log has been consumed.
func (e *Engine) Close() error {
	if e.released {
		return e.err
	}
	defer e.release()

	if e.err != nil {
		return e.err
	}
	if e.io != ioRegular {
		return e.fail(errors.New("engine closed while command is handled"))
	}

	switch e.config.Mode {
	case types.ModeRecord:
		return e.fail(e.closeRecord())
	default:
		return e.fail(e.closeReplay())
	}
}

func (e *Engine) setupRecord() error {
	var store persistent.Store
	if e.config.Log != "" {
		fileStore, err := persistent.CreateFileStore(e.config.Log)
		if err != nil {
			return err
		}
		store = fileStore
	}
	if err := os.Unsetenv(LogEnv); err != nil {
		if store != nil {
			_ = store.Close()
		}
		return errors.WithStack(err)
	}

	w, deallocFunc, err := codec.NewWriter(store, e.config.BufferSize)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return err
	}
	e.deallocFuncs = append(e.deallocFuncs, deallocFunc)
	e.writer = w
	e.args = e.config.Args

	e.collector = e.config.Collector
	if e.collector == nil {
		e.collector = RuntimeCollector{}
	}

	log := logger.Get(e.ctx)
	if w.Disabled() {
		log.Info("Recording is disabled", zap.String("env", LogEnv))
		return nil
	}

	header := types.Header{
		Version: types.Version,
		Session: uuid.New(),
	}
	header.Ptr1, header.Ptr2 = buildIdentity()
	if err := codec.WriteHeader(w, e.args, header); err != nil {
		return err
	}

	log.Info("Recording log", zap.String("path", e.config.Log), zap.Int("pid", os.Getpid()))
	return nil
}

func (e *Engine) setupReplay() error {
	socket := e.config.Socket
	if socket == nil {
		socket = os.NewFile(uintptr(e.config.SocketFD), "revdb-socket")
	}
	e.conn = control.NewConn(socket)

	var err error
	if e.config.LogFile != nil {
		e.logStore = persistent.NewFileStore(e.config.LogFile, e.config.Log)
		err = e.logStore.Seek(0)
	} else {
		e.logStore, err = persistent.OpenFileStore(e.config.Log)
	}
	if err != nil {
		if e.logStore != nil {
			_ = e.logStore.Close()
			e.logStore = nil
		}
		return err
	}

	r, deallocFunc, err := codec.NewReader(e.logStore, e.config.BufferSize, func() types.StopPoint {
		return e.stopPointSeen
	})
	if err != nil {
		return err
	}
	e.deallocFuncs = append(e.deallocFuncs, deallocFunc)
	e.reader = r

	args, header, err := codec.ReadHeader(r)
	if err != nil {
		return err
	}
	ptr1, ptr2 := buildIdentity()
	if header.Ptr1 != ptr1 || header.Ptr2 != ptr2 {
		return errors.Errorf("log '%s' was recorded by different executable", e.config.Log)
	}
	e.args = args

	e.total, err = codec.ReadTrailer(e.logStore)
	if err != nil {
		return err
	}

	e.spawner = e.config.Spawner
	if e.spawner == nil {
		e.group = parallel.NewGroup(e.ctx)
		e.spawner = forker.NewExecSpawner(e.group, forker.ExecConfig{
			Stdout: os.Stdout,
			Stderr: os.Stderr,
		})
	}

	e.interactiveBreak = 0
	if e.config.Resume != nil {
		e.resume = e.config.Resume
		e.interactiveBreak = e.resume.StopPoint
	} else if err := e.answer(types.AnswerInit, types.InitVersion, int64(e.total), 0, nil); err != nil {
		return err
	}

	if err := r.Prime(); err != nil {
		return err
	}

	logger.Get(e.ctx).Debug("Replaying log",
		zap.String("path", e.config.Log),
		zap.Uint64("total", uint64(e.total)),
		zap.Stringer("session", uuid.UUID(header.Session)))
	return nil
}

func (e *Engine) closeRecord() error {
	if err := codec.Emit(e.writer, uint64(e.stopPointSeen)); err != nil {
		return err
	}
	if err := e.writer.Flush(); err != nil {
		return err
	}
	if e.writer.Disabled() {
		return nil
	}
	return e.writer.Sync()
}

func (e *Engine) closeReplay() error {
	count, err := codec.ReplayLast[uint64](e.reader)
	if err != nil {
		return err
	}
	if err := e.reader.CheckAtEnd(); err != nil {
		return err
	}
	if types.StopPoint(count) != e.stopPointSeen {
		return errors.Errorf("bad number of stop points (seen %d, recorded %d)", e.stopPointSeen, count)
	}
	if types.StopPoint(count) != e.total {
		return errors.New("log file was modified while reading")
	}
	return e.answer(types.AnswerAtEnd, 0, 0, 0, nil)
}

func (e *Engine) release() {
	if e.released {
		return
	}
	e.released = true

	if e.writer != nil {
		_ = e.writer.Close()
	}
	if e.logStore != nil {
		_ = e.logStore.Close()
	}
	if e.conn != nil {
		_ = e.conn.Close()
	}
	for i := len(e.deallocFuncs) - 1; i >= 0; i-- {
		e.deallocFuncs[i]()
	}

	if e.group != nil {
		e.group.Exit(nil)
		if err := e.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			logger.Get(e.ctx).Error("Waiting for branches failed", zap.Error(err))
		}
	}
}

func (e *Engine) fail(err error) error {
	if err == nil {
		return nil
	}
	if e.err == nil {
		e.err = err
	}
	return e.err
}

func (e *Engine) stopPointBreak() types.StopPoint {
	return min(e.interactiveBreak, e.reader.FinalizerBreak())
}

func buildIdentity() (uint64, uint64) {
	ptr1 := uint64(reflect.ValueOf((*Engine).StopPoint).Pointer())
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ptr1, 0
	}
	return ptr1, xxhash.Sum64([]byte(info.String()))
}
