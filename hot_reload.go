// hot_reload.go: debounced file watching, reload cycles and snapshot rollback
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package envforge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/argus"
	"github.com/agilira/go-timecache"
)

// ApplyMode selects how much work a reload recomputes.
type ApplyMode string

const (
	// ApplyIncremental recomputes only what the change set implicates
	ApplyIncremental ApplyMode = "incremental"
	// ApplyFull discards previous results and recomputes everything
	ApplyFull ApplyMode = "full"
)

// ReloadState is the state of the reload cycle of one watched root.
type ReloadState int32

const (
	StateIdle ReloadState = iota
	StateDebouncing
	StateLoading
	StateDiffing
	StateApplying
	StateRollingBack
)

func (s ReloadState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDebouncing:
		return "debouncing"
	case StateLoading:
		return "loading"
	case StateDiffing:
		return "diffing"
	case StateApplying:
		return "applying"
	case StateRollingBack:
		return "rolling-back"
	}
	return "unknown"
}

// Applier turns a configuration into live values and restores snapshots.
type Applier interface {
	// Apply resolves cfg. The first call of a manager always uses ApplyFull.
	Apply(ctx context.Context, cfg *Config, changes *ChangeSet, mode ApplyMode) (*Values, error)

	// Restore makes snapshot the live state again.
	Restore(ctx context.Context, snapshot *ConfigSnapshot) error
}

// ConfigLoader reads a configuration file. *ConfigReader implements it.
type ConfigLoader interface {
	Load(path string) (*Config, error)
}

// ReloadEventType names a reload notification.
type ReloadEventType string

const (
	EventReloaded   ReloadEventType = "reloaded"
	EventRolledBack ReloadEventType = "rolled_back"
	EventFailed     ReloadEventType = "failed"
	EventNoChange   ReloadEventType = "no_change"
)

// ReloadEvent is delivered to subscribers after every cycle outcome.
type ReloadEvent struct {
	Type      ReloadEventType
	Path      string
	Snapshot  *ConfigSnapshot
	Changes   *ChangeSet
	Err       error
	Timestamp time.Time
}

// ReloadListener receives reload events. Listeners run synchronously on the
// reload goroutine; panics are recovered.
type ReloadListener func(event ReloadEvent)

// ReloadOptions configures a ReloadManager.
type ReloadOptions struct {
	// Quiet period coalescing rapid file events
	Debounce time.Duration

	// Argus polling interval
	PollInterval time.Duration

	// Snapshot history cap
	MaxSnapshots int

	// Apply mode for reload cycles after the initial load
	Mode ApplyMode

	// Diffing strategy, DefaultChangeDetector when nil
	Detector ChangeDetector

	// Configuration reader, NewConfigReader when nil
	Loader ConfigLoader

	// Watch list discovery, NewFileDiscovery when nil
	Discovery *FileDiscovery

	// Maps affected variables to affected plugin names; optional
	AffectedPlugins func(variables []string) []string

	// Only reload through Reload, never start the file watcher
	DisableWatcher bool

	// Audit trail for reloads and rollbacks
	AuditConfig argus.AuditConfig

	// Optional metrics sink
	Metrics *Metrics

	// Called on file watching errors; logs when nil
	ErrorHandler func(err error, path string)
}

// DefaultReloadOptions returns the defaults used by reload.* config keys.
func DefaultReloadOptions() ReloadOptions {
	return ReloadOptions{
		Debounce:     100 * time.Millisecond,
		PollInterval: time.Second,
		MaxSnapshots: 20,
		Mode:         ApplyIncremental,
		AuditConfig:  argus.AuditConfig{Enabled: false},
	}
}

// ReloadOptionsFromConfig builds options from the reload section of cfg.
func ReloadOptionsFromConfig(cfg ReloadConfig) ReloadOptions {
	opts := DefaultReloadOptions()
	if cfg.Debounce > 0 {
		opts.Debounce = cfg.Debounce.Std()
	}
	if cfg.PollInterval > 0 {
		opts.PollInterval = cfg.PollInterval.Std()
	}
	if cfg.MaxSnapshots > 0 {
		opts.MaxSnapshots = cfg.MaxSnapshots
	}
	if cfg.Mode != "" {
		opts.Mode = cfg.Mode
	}
	if cfg.AuditFile != "" {
		opts.AuditConfig = argus.AuditConfig{
			Enabled:       true,
			OutputFile:    cfg.AuditFile,
			MinLevel:      argus.AuditInfo,
			BufferSize:    256,
			FlushInterval: time.Second,
		}
	}
	return opts
}

// ReloadManager keeps the resolved configuration of one root file live.
//
// Reload cycles are serialized: events arriving while a cycle runs are kept
// and replayed in the next debounce window. A failure while applying rolls
// back to the last good snapshot; without one the error is returned.
type ReloadManager struct {
	configPath string
	configAbs  string
	applier    Applier
	options    ReloadOptions
	logger     Logger

	watcher     *argus.Watcher
	auditLogger *argus.AuditLogger
	watched     map[string]struct{}
	watching    bool

	history *SnapshotHistory
	current atomic.Pointer[ConfigSnapshot]
	state   atomic.Int32

	// lifecycle, guarded like the other watchers of this package
	enabled  atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once
	mutex    sync.Mutex

	// one cycle at a time
	cycleMu sync.Mutex

	// debounce bookkeeping
	debounceMu sync.Mutex
	timer      *time.Timer
	pending    map[string]struct{}
	active     int
	rerun      bool

	listenersMu sync.RWMutex
	listeners   map[int]ReloadListener
	nextID      int
}

// NewReloadManager creates a manager for configPath.
func NewReloadManager(configPath string, applier Applier, options ReloadOptions, logger any) (*ReloadManager, error) {
	if configPath == "" {
		return nil, NewConfigPathError(configPath, "empty configuration path")
	}
	if applier == nil {
		return nil, NewReloadNotAvailableError("an Applier is required")
	}
	internalLogger := NewLogger(logger).With("component", "reload_manager")

	defaults := DefaultReloadOptions()
	if options.Debounce <= 0 {
		options.Debounce = defaults.Debounce
	}
	if options.PollInterval <= 0 {
		options.PollInterval = defaults.PollInterval
	}
	if options.MaxSnapshots <= 0 {
		options.MaxSnapshots = defaults.MaxSnapshots
	}
	if options.Mode == "" {
		options.Mode = defaults.Mode
	}
	if options.Detector == nil {
		options.Detector = DefaultChangeDetector{}
	}
	if options.Loader == nil {
		options.Loader = NewConfigReader(internalLogger)
	}
	if options.Discovery == nil {
		options.Discovery = NewFileDiscovery(nil, internalLogger)
	}

	configAbs, err := filepath.Abs(configPath)
	if err != nil {
		configAbs = filepath.Clean(configPath)
	}

	m := &ReloadManager{
		configPath: configPath,
		configAbs:  configAbs,
		applier:    applier,
		options:    options,
		logger:     internalLogger,
		watched:    make(map[string]struct{}),
		history:    NewSnapshotHistory(options.MaxSnapshots),
		pending:    make(map[string]struct{}),
		listeners:  make(map[int]ReloadListener),
	}

	if !options.DisableWatcher {
		m.watcher = argus.New(argus.Config{
			PollInterval:         options.PollInterval,
			CacheTTL:             options.PollInterval / 2,
			MaxWatchedFiles:      64,
			Audit:                options.AuditConfig,
			OptimizationStrategy: argus.OptimizationSingleEvent,
			ErrorHandler: func(err error, path string) {
				if options.ErrorHandler != nil {
					options.ErrorHandler(err, path)
					return
				}
				internalLogger.Error("Configuration file watching error", "error", err, "file", path)
			},
		})
	}

	if options.AuditConfig.Enabled {
		auditLogger, err := argus.NewAuditLogger(options.AuditConfig)
		if err != nil {
			return nil, NewConfigWatcherError("failed to create audit logger", err)
		}
		m.auditLogger = auditLogger
	}
	return m, nil
}

// Start performs the initial load and begins watching. A failure of the
// initial load is returned as is, since there is nothing to roll back to.
func (m *ReloadManager) Start(ctx context.Context) error {
	if m.stopped.Load() {
		return NewReloadNotAvailableError("reload manager has been stopped and cannot be restarted")
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if !m.enabled.CompareAndSwap(false, true) {
		return NewReloadNotAvailableError("reload manager is already running")
	}

	m.cycleMu.Lock()
	snapshot, err := m.initialLoad(ctx)
	m.cycleMu.Unlock()
	if err != nil {
		m.enabled.Store(false)
		return err
	}

	if m.watcher != nil {
		m.refreshWatchList(snapshot.Config())
		if err := m.watcher.Start(); err != nil {
			m.enabled.Store(false)
			return NewConfigWatcherError("failed to start file watcher", err)
		}
		m.watching = true
	}

	m.logger.Info("Reload manager started",
		"config_path", m.configPath,
		"watched_files", len(m.watched),
		"debounce", m.options.Debounce,
		"mode", m.options.Mode)
	m.auditEvent("reload_manager_started", map[string]interface{}{
		"config_path": m.configPath,
		"snapshot_id": snapshot.ID,
		"hash":        snapshot.Hash,
	})
	return nil
}

func (m *ReloadManager) initialLoad(ctx context.Context) (*ConfigSnapshot, error) {
	m.setState(StateLoading)
	defer m.setState(StateIdle)

	cfg, err := m.options.Loader.Load(m.configPath)
	if err != nil {
		return nil, err
	}
	changes := m.options.Detector.Detect(m.configPath, nil, cfg)

	m.setState(StateApplying)
	var values *Values
	err = callRecovered(m.logger, func() error {
		var applyErr error
		values, applyErr = m.applier.Apply(ctx, cfg, changes, ApplyFull)
		return applyErr
	})
	if err != nil {
		return nil, err
	}

	snapshot := NewConfigSnapshot(m.configPath, cfg, values)
	m.history.Append(snapshot)
	m.current.Store(snapshot)
	return snapshot, nil
}

// Stop ends watching. A stopped manager cannot be restarted.
func (m *ReloadManager) Stop() error {
	if m.stopped.Load() {
		return NewReloadNotAvailableError("reload manager is already stopped")
	}

	var stopErr error
	m.stopOnce.Do(func() {
		m.mutex.Lock()
		defer m.mutex.Unlock()

		if !m.enabled.CompareAndSwap(true, false) {
			stopErr = NewReloadNotAvailableError("reload manager is not running")
			return
		}
		m.stopped.Store(true)

		m.debounceMu.Lock()
		if m.timer != nil {
			m.timer.Stop()
		}
		m.debounceMu.Unlock()

		if m.watching {
			if err := m.watcher.Stop(); err != nil {
				stopErr = NewConfigWatcherError("failed to stop file watcher", err)
			}
			m.watching = false
		}

		m.auditEvent("reload_manager_stopped", map[string]interface{}{
			"config_path":    m.configPath,
			"clean_shutdown": stopErr == nil,
		})
		if m.auditLogger != nil {
			if err := m.auditLogger.Close(); err != nil {
				m.logger.Warn("Failed to close audit logger during shutdown", "error", err)
			}
		}
		m.logger.Info("Reload manager stopped")
	})
	return stopErr
}

// IsRunning reports whether the manager was started and not stopped.
func (m *ReloadManager) IsRunning() bool {
	return m.enabled.Load() && !m.stopped.Load()
}

// State returns the current cycle state.
func (m *ReloadManager) State() ReloadState {
	return ReloadState(m.state.Load())
}

func (m *ReloadManager) setState(s ReloadState) {
	m.state.Store(int32(s))
}

// Current returns the snapshot that is live now.
func (m *ReloadManager) Current() (*ConfigSnapshot, bool) {
	s := m.current.Load()
	return s, s != nil
}

// Values returns a copy of the live values.
func (m *ReloadManager) Values() *Values {
	if s := m.current.Load(); s != nil {
		return s.Variables()
	}
	return NewValues()
}

// History returns stored snapshots, oldest first.
func (m *ReloadManager) History() []*ConfigSnapshot {
	return m.history.List()
}

// WatchedFiles returns the registered watch list in lexical order.
func (m *ReloadManager) WatchedFiles() []string {
	m.debounceMu.Lock()
	defer m.debounceMu.Unlock()
	out := make([]string, 0, len(m.watched))
	for p := range m.watched {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Subscribe registers listener and returns a function removing it.
func (m *ReloadManager) Subscribe(listener ReloadListener) func() {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = listener
	return func() {
		m.listenersMu.Lock()
		defer m.listenersMu.Unlock()
		delete(m.listeners, id)
	}
}

func (m *ReloadManager) notify(event ReloadEvent) {
	event.Timestamp = timecache.CachedTime()
	if event.Path == "" {
		event.Path = m.configPath
	}

	m.listenersMu.RLock()
	ids := make([]int, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]ReloadListener, len(ids))
	for i, id := range ids {
		listeners[i] = m.listeners[id]
	}
	m.listenersMu.RUnlock()

	for _, l := range listeners {
		listener := l
		_ = callRecovered(m.logger, func() error {
			listener(event)
			return nil
		})
	}
}

// handleFileEvent receives argus change events.
func (m *ReloadManager) handleFileEvent(event argus.ChangeEvent) {
	m.logger.Debug("Watched file changed",
		"path", event.Path,
		"mod_time", event.ModTime,
		"size", event.Size,
		"is_create", event.IsCreate,
		"is_delete", event.IsDelete,
		"is_modify", event.IsModify)

	if event.IsDelete && m.isConfigPath(event.Path) {
		m.logger.Warn("Configuration file was deleted, skipping reload", "path", event.Path)
		m.auditEvent("config_file_deleted", map[string]interface{}{"path": event.Path})
		return
	}
	m.schedule(event.Path)
}

// isConfigPath reports whether path names the root configuration file.
// Watched paths are absolute while configPath may be relative.
func (m *ReloadManager) isConfigPath(path string) bool {
	if path == m.configPath {
		return true
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	return abs == m.configAbs
}

// schedule records a changed path and (re)arms the debounce timer. While a
// cycle runs the path is kept for the next window.
func (m *ReloadManager) schedule(path string) {
	if m.stopped.Load() {
		return
	}
	m.debounceMu.Lock()
	defer m.debounceMu.Unlock()

	m.pending[path] = struct{}{}
	if m.active > 0 {
		m.rerun = true
		return
	}
	m.setState(StateDebouncing)
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(m.options.Debounce, m.fire)
}

func (m *ReloadManager) fire() {
	defer withStackRecover(m.logger)()

	m.debounceMu.Lock()
	if m.active > 0 {
		m.rerun = true
		m.debounceMu.Unlock()
		return
	}
	paths := make([]string, 0, len(m.pending))
	for p := range m.pending {
		paths = append(paths, p)
	}
	m.pending = make(map[string]struct{})
	m.active++
	m.debounceMu.Unlock()
	defer m.endCycle()

	sort.Strings(paths)
	if _, err := m.runCycle(context.Background(), paths); err != nil {
		m.logger.Error("Reload cycle failed", "error", err, "trigger", paths)
	}
}

// beginCycle marks a cycle as in flight so file events arriving meanwhile
// are deferred to the next debounce window.
func (m *ReloadManager) beginCycle() {
	m.debounceMu.Lock()
	m.active++
	m.debounceMu.Unlock()
}

// endCycle re-arms the debounce timer once the last in-flight cycle ends
// and events arrived while it ran.
func (m *ReloadManager) endCycle() {
	m.debounceMu.Lock()
	defer m.debounceMu.Unlock()
	m.active--
	if m.active > 0 {
		return
	}
	again := m.rerun || len(m.pending) > 0
	m.rerun = false
	if again && !m.stopped.Load() {
		m.setState(StateDebouncing)
		m.timer = time.AfterFunc(m.options.Debounce, m.fire)
	}
}

// Reload runs one cycle immediately and returns its change set. It waits for
// a running cycle to finish first.
func (m *ReloadManager) Reload(ctx context.Context) (*ChangeSet, error) {
	if m.stopped.Load() {
		return nil, NewReloadNotAvailableError("reload manager is stopped")
	}
	m.beginCycle()
	defer m.endCycle()
	return m.runCycle(ctx, []string{m.configPath})
}

func (m *ReloadManager) runCycle(ctx context.Context, trigger []string) (*ChangeSet, error) {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()
	defer m.setState(StateIdle)

	started := time.Now()
	prev := m.current.Load()
	if prev == nil {
		snapshot, err := m.initialLoad(ctx)
		if err != nil {
			m.recordReload(err)
			m.notify(ReloadEvent{Type: EventFailed, Err: err})
			return nil, err
		}
		m.recordReload(nil)
		m.notify(ReloadEvent{Type: EventReloaded, Snapshot: snapshot})
		return m.options.Detector.Detect(m.configPath, nil, snapshot.Config()), nil
	}

	m.setState(StateLoading)
	newCfg, err := m.options.Loader.Load(m.configPath)
	if err != nil {
		// nothing was applied, the live state is untouched
		reloadErr := NewReloadFailedError(m.configPath, err)
		m.logger.Error("Failed to load configuration", "path", m.configPath, "error", err)
		m.auditEvent("config_load_failed", map[string]interface{}{"path": m.configPath, "error": err.Error()})
		m.recordReload(reloadErr)
		m.notify(ReloadEvent{Type: EventFailed, Err: reloadErr})
		return nil, reloadErr
	}

	m.setState(StateDiffing)
	changes := m.options.Detector.Detect(m.configPath, prev.Config(), newCfg)
	if changes == nil {
		changes = &ChangeSet{Path: m.configPath, Timestamp: timecache.CachedTime()}
	}
	changes.PreviousHash = prev.Hash
	if m.options.AffectedPlugins != nil {
		changes.AffectedPlugins = m.options.AffectedPlugins(changes.AffectedVariables)
	}

	if changes.Empty() {
		m.logger.Debug("Configuration unchanged", "trigger", trigger)
		m.notify(ReloadEvent{Type: EventNoChange, Changes: changes, Snapshot: prev})
		return changes, nil
	}

	m.setState(StateApplying)
	var values *Values
	applyErr := callRecovered(m.logger, func() error {
		var err error
		values, err = m.applier.Apply(ctx, newCfg, changes, m.options.Mode)
		return err
	})
	if applyErr != nil {
		return changes, m.rollbackAfterFailure(ctx, prev, changes, applyErr)
	}

	snapshot := NewConfigSnapshot(m.configPath, newCfg, values)
	m.history.Append(snapshot)
	m.current.Store(snapshot)
	if m.watching {
		m.refreshWatchList(newCfg)
	}
	m.recordReload(nil)

	m.logger.Info("Configuration reloaded",
		"changes", len(changes.Records),
		"affected_variables", len(changes.AffectedVariables),
		"affected_plugins", changes.AffectedPlugins,
		"mode", m.options.Mode,
		"duration", time.Since(started))
	m.auditEvent("configuration_reloaded", map[string]interface{}{
		"path":          m.configPath,
		"snapshot_id":   snapshot.ID,
		"previous_hash": prev.Hash,
		"hash":          snapshot.Hash,
		"changes":       len(changes.Records),
		"variables":     changes.AffectedVariables,
	})
	m.notify(ReloadEvent{Type: EventReloaded, Snapshot: snapshot, Changes: changes})
	return changes, nil
}

// rollbackAfterFailure restores prev after a failed apply and returns the
// reload error.
func (m *ReloadManager) rollbackAfterFailure(ctx context.Context, prev *ConfigSnapshot, changes *ChangeSet, applyErr error) error {
	reloadErr := NewReloadFailedError(m.configPath, applyErr)
	m.logger.Error("Applying configuration failed, rolling back",
		"error", applyErr, "snapshot_id", prev.ID)
	m.recordReload(reloadErr)
	m.notify(ReloadEvent{Type: EventFailed, Changes: changes, Err: reloadErr})

	m.setState(StateRollingBack)
	if err := m.restore(ctx, prev); err != nil {
		m.logger.Error("Rollback failed", "error", err, "snapshot_id", prev.ID)
		return fmt.Errorf("%w (rollback failed: %v)", reloadErr, err)
	}
	return reloadErr.WithContext("rolled_back_to", prev.ID)
}

// Rollback restores the snapshot with id. Newer snapshots stay in history.
func (m *ReloadManager) Rollback(ctx context.Context, id string) error {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()
	defer m.setState(StateIdle)

	target, ok := m.history.Get(id)
	if !ok {
		return NewSnapshotNotFoundError(id)
	}
	m.setState(StateRollingBack)
	return m.restore(ctx, target)
}

func (m *ReloadManager) restore(ctx context.Context, target *ConfigSnapshot) error {
	err := callRecovered(m.logger, func() error {
		return m.applier.Restore(ctx, target)
	})
	if err != nil {
		return err
	}
	m.current.Store(target)
	if m.options.Metrics != nil {
		m.options.Metrics.recordRollback()
	}
	m.logger.Info("Rolled back to snapshot", "snapshot_id", target.ID, "hash", target.Hash)
	m.auditEvent("configuration_rolled_back", map[string]interface{}{
		"path":        m.configPath,
		"snapshot_id": target.ID,
		"hash":        target.Hash,
	})
	m.notify(ReloadEvent{Type: EventRolledBack, Snapshot: target})
	return nil
}

// refreshWatchList registers files discovered for cfg that are not watched yet.
func (m *ReloadManager) refreshWatchList(cfg *Config) {
	files := m.options.Discovery.Discover(m.configPath, cfg)

	m.debounceMu.Lock()
	var fresh []string
	for _, f := range files {
		if _, ok := m.watched[f]; ok {
			continue
		}
		m.watched[f] = struct{}{}
		fresh = append(fresh, f)
	}
	m.debounceMu.Unlock()

	for _, f := range fresh {
		if err := m.watcher.Watch(f, m.handleFileEvent); err != nil {
			m.logger.Warn("Failed to watch file", "path", f, "error", err)
			m.debounceMu.Lock()
			delete(m.watched, f)
			m.debounceMu.Unlock()
		}
	}
}

func (m *ReloadManager) recordReload(err error) {
	if m.options.Metrics != nil {
		m.options.Metrics.recordReload(err)
	}
}

func (m *ReloadManager) auditEvent(eventType string, context map[string]interface{}) {
	if m.auditLogger == nil {
		return
	}
	if context == nil {
		context = make(map[string]interface{})
	}
	context["component"] = "reload_manager"
	context["timestamp"] = timecache.CachedTime().Format(time.RFC3339)
	context["pid"] = os.Getpid()
	m.auditLogger.LogSecurityEvent(eventType, "Configuration reload", context)
}
