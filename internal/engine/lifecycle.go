package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/google/uuid"
)

// ErrClosed is returned by Download and DownloadWithID once Close has run.
var ErrClosed = errors.New("engine: closed")

// HistorySink receives terminal download outcomes for out-of-band recording
// (e.g. a sqlite-backed ledger). It is a pure side effect: the engine never
// reads state back from a sink, keeping the State Store the sole source of
// truth — downloads are not expected to survive a process restart.
type HistorySink interface {
	RecordTerminal(state DownloadState)
}

// Engine owns the State Store, the Progress Bus, and the scope from which
// every per-download task is launched, mirroring greg's Manager (mu, active
// map, ctx/cancel, workerWg) generalized from a queue-and-worker-pool design
// to one goroutine per download, started synchronously from the call that
// requests it.
type Engine struct {
	client  *http.Client
	logger  *slog.Logger
	history HistorySink

	store  *store
	bus    *progressBus
	states *statesBus

	rootCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New constructs an Engine. client must be safe for concurrent use, since
// every download shares it. logger and history may be nil.
func New(client *http.Client, logger *slog.Logger, history HistorySink) *Engine {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		client:  client,
		logger:  logger,
		history: history,
		store:   newStore(),
		bus:     newProgressBus(),
		states:  newStatesBus(),
		rootCtx: ctx,
		cancel:  cancel,
	}
}

// Init is an idempotent warm-up hook; the engine has no deferred
// initialization to perform, so this always succeeds.
func (e *Engine) Init() error {
	return nil
}

// Download registers and starts a new download under a fresh UUID.
func (e *Engine) Download(ctx context.Context, url, outputPath string, opts DownloadOptions) (DownloadID, error) {
	id := DownloadID(uuid.New().String())
	if err := e.DownloadWithID(ctx, id, url, outputPath, opts); err != nil {
		return "", err
	}
	return id, nil
}

// DownloadWithID registers and starts a download under caller id. It is a
// no-op if id is already present in the store.
func (e *Engine) DownloadWithID(ctx context.Context, id DownloadID, url, outputPath string, opts DownloadOptions) error {
	if e.isClosed() {
		return ErrClosed
	}
	if opts.MaxConcurrentSegments < 1 {
		opts.MaxConcurrentSegments = 1
	}
	if opts.Headers == nil {
		opts.Headers = map[string]string{}
	}

	mediaType := DetectMediaType(url)
	cacheDir := cacheDirFor(outputPath, id)

	initial := DownloadState{
		DownloadID:      id,
		URL:             url,
		OutputPath:      outputPath,
		SegmentCacheDir: cacheDir,
		Status:          StatusInitializing,
		MediaType:       mediaType,
	}
	if !e.store.insertOrReject(id, initial) {
		e.logger.Debug("download already present, ignoring", "id", id)
		return nil
	}

	// Cache dir is created eagerly during INITIALIZING, before the
	// disk-space precheck and before planning.
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		e.fail(id, fmt.Errorf("create segment cache dir: %w", err))
		return nil
	}

	if err := checkFreeSpace(cacheDir, opts.MinFreeSpaceBytes); err != nil {
		e.fail(id, err)
		return nil
	}

	// Planning runs inline on the calling goroutine, so a bad URL or
	// unreachable playlist leaves the download FAILED before DownloadWithID
	// returns (it still returns nil).
	segments, err := plan(ctx, e.client, opts.Headers, url, mediaType, cacheDir)
	if err != nil {
		e.fail(id, err)
		return nil
	}

	state, ok := e.store.update(id, func(s DownloadState) DownloadState {
		s.Segments = segments
		s.TotalSegments = len(segments)
		s.Status = StatusDownloading
		return s
	})
	if !ok {
		return nil
	}
	e.emit(state)

	e.launchTask(id, segments, outputPath, cacheDir, opts)
	return nil
}

// launchTask starts the fetch+merge task for id. The task begins executing
// as soon as the goroutine is scheduled; since the store already recorded
// the INITIALIZING->DOWNLOADING transition synchronously before this call,
// callers observe DOWNLOADING before the task itself has run at all.
func (e *Engine) launchTask(id DownloadID, segments []SegmentInfo, outputPath, cacheDir string, opts DownloadOptions) {
	taskCtx, cancel := context.WithCancel(e.rootCtx)
	done := make(chan struct{})
	e.store.attachTask(id, cancel)
	e.store.setDone(id, done)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(done)
		defer cancel()
		e.runTask(taskCtx, id, segments, outputPath, cacheDir, opts)
	}()
}

func (e *Engine) runTask(ctx context.Context, id DownloadID, segments []SegmentInfo, outputPath, cacheDir string, opts DownloadOptions) {
	err := fetchAll(ctx, e.client, opts.Headers, segments, opts.MaxConcurrentSegments, func(index int, bytesWritten int64) error {
		state, ok := e.store.update(id, func(s DownloadState) DownloadState {
			for i := range s.Segments {
				if s.Segments[i].Index == index {
					s.Segments[i].IsDownloaded = true
					s.Segments[i].ByteSize = bytesWritten
					break
				}
			}
			s.DownloadedBytes += bytesWritten
			return s
		})
		if ok {
			e.emit(state)
		}
		return nil
	})

	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Cancellation is not a failure; whichever of Pause/Cancel
			// triggered it already set the final status.
			return
		}
		e.fail(id, err)
		return
	}

	state, ok := e.store.update(id, func(s DownloadState) DownloadState {
		s.Status = StatusMerging
		return s
	})
	if !ok {
		return
	}
	e.emit(state)

	current, _ := e.store.get(id)
	if err := merge(current.Segments, outputPath, cacheDir); err != nil {
		e.fail(id, err)
		return
	}

	e.store.detachTask(id)
	final, ok := e.store.update(id, func(s DownloadState) DownloadState {
		s.Status = StatusCompleted
		return s
	})
	if ok {
		e.emit(final)
		e.recordTerminal(final)
	}
}

func (e *Engine) fail(id DownloadID, err error) {
	e.store.detachTask(id)
	state, ok := e.store.update(id, func(s DownloadState) DownloadState {
		s.Status = StatusFailed
		s.Error = classifyError(err)
		return s
	})
	if ok {
		e.logger.Warn("download failed", "id", id, "error", err)
		e.emit(state)
		e.recordTerminal(state)
	}
}

func (e *Engine) recordTerminal(state DownloadState) {
	if e.history != nil {
		e.history.RecordTerminal(state)
	}
}

// emit publishes both the per-download progress snapshot and the full
// states list. Emissions happen outside the store's mutex, since
// e.store.update has already released its lock by the time emit is called.
func (e *Engine) emit(state DownloadState) {
	e.bus.publish(progressFromState(state))
	e.states.publish(e.store.all())
}

// Pause cancels id's active task, detaches it, and sets status to PAUSED.
// It returns false if no task is attached and active.
func (e *Engine) Pause(id DownloadID) bool {
	state, ok := e.store.transitionIfTaskActive(id, StatusPaused)
	if !ok {
		return false
	}
	e.emit(state)
	return true
}

// PauseAll pauses every currently-active download and returns the affected
// ids.
func (e *Engine) PauseAll() []DownloadID {
	var paused []DownloadID
	for _, s := range e.store.all() {
		if e.Pause(s.DownloadID) {
			paused = append(paused, s.DownloadID)
		}
	}
	return paused
}

// Cancel cancels any active task for id and forces status to CANCELED,
// regardless of prior status. Returns false only if id is absent.
func (e *Engine) Cancel(id DownloadID) bool {
	state, ok := e.store.forceStatus(id, StatusCanceled)
	if !ok {
		return false
	}
	e.emit(state)
	e.recordTerminal(state)
	return true
}

// CancelAll cancels every active task; any non-terminal entry becomes
// CANCELED. Terminal entries are left untouched.
func (e *Engine) CancelAll() {
	for _, s := range e.store.all() {
		if s.Status.IsTerminal() {
			continue
		}
		e.Cancel(s.DownloadID)
	}
}

// Resume restarts a download whose status is PAUSED or FAILED. If a task is
// already active it returns true without relaunching. Resume uses default
// DownloadOptions; the headers/concurrency of the original call are not
// persisted anywhere the store can hand them back.
func (e *Engine) Resume(id DownloadID) bool {
	if e.store.hasActiveTask(id) {
		return true
	}
	current, ok := e.store.get(id)
	if !ok {
		return false
	}
	if current.Status != StatusPaused && current.Status != StatusFailed {
		return false
	}

	state, ok := e.store.update(id, func(s DownloadState) DownloadState {
		s.Status = StatusDownloading
		s.Error = nil
		return s
	})
	if !ok {
		return false
	}
	e.emit(state)

	opts := DefaultDownloadOptions()
	e.launchTask(id, state.Segments, state.OutputPath, state.SegmentCacheDir, opts)
	return true
}

func (e *Engine) GetState(id DownloadID) (DownloadState, bool) {
	return e.store.get(id)
}

func (e *Engine) GetAllStates() []DownloadState {
	return e.store.all()
}

func (e *Engine) GetActiveDownloadIDs() []DownloadID {
	return e.store.activeIDs()
}

func (e *Engine) GetProgressFlow(id DownloadID) (<-chan DownloadProgress, func()) {
	return e.bus.subscribe(id, func() (DownloadProgress, bool) {
		s, ok := e.store.get(id)
		if !ok {
			return DownloadProgress{}, false
		}
		return progressFromState(s), true
	})
}

func (e *Engine) ProgressFlow() (<-chan DownloadProgress, func()) {
	return e.bus.subscribeAll()
}

func (e *Engine) DownloadStatesFlow() (<-chan []DownloadState, func()) {
	return e.states.subscribe()
}

// JoinDownload awaits the completion of id's current task, if any.
func (e *Engine) JoinDownload(ctx context.Context, id DownloadID) {
	done := e.store.doneChan(id)
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Close cancels and joins every task, empties the state store, and marks
// the engine terminal. No further operations are valid afterward.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
	e.store.clear()
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
