// 配置文件变更监听器实现。
//
// 基于轮询检测修改时间，变更在防抖窗口结束后统一派发。
package config

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// --- 文件监听器类型定义 ---

// FileOp represents file operation types
type FileOp int

const (
	// FileOpCreate 表示文件已创建
	FileOpCreate FileOp = iota
	// FileOpWrite 表示文件已被修改
	FileOpWrite
	// FileOpRemove 表示文件已被删除
	FileOpRemove
)

// String returns the string representation of FileOp
func (op FileOp) String() string {
	switch op {
	case FileOpCreate:
		return "CREATE"
	case FileOpWrite:
		return "WRITE"
	case FileOpRemove:
		return "REMOVE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent represents a file change event
type FileEvent struct {
	Path      string    `json:"path"`
	Op        FileOp    `json:"op"`
	Timestamp time.Time `json:"timestamp"`
}

// FileWatcher polls a single configuration file for changes
type FileWatcher struct {
	mu sync.Mutex

	path          string
	pollInterval  time.Duration
	debounceDelay time.Duration
	logger        *zap.Logger

	// 上次观察到的修改时间，exists 为 false 时无意义
	lastMod time.Time
	exists  bool

	callbacks []func(FileEvent)
}

// --- 文件监听器选项 ---

// WatcherOption configures the FileWatcher
type WatcherOption func(*FileWatcher)

// WithPollInterval sets how often the file is stat'ed
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithDebounceDelay sets the quiet period before an event is dispatched
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		if d >= 0 {
			w.debounceDelay = d
		}
	}
}

// WithWatcherLogger sets the logger for the watcher
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *FileWatcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// --- 文件监听器实现 ---

// NewFileWatcher creates a watcher for path. A missing file is watched for creation.
func NewFileWatcher(path string, opts ...WatcherOption) (*FileWatcher, error) {
	if path == "" {
		return nil, fmt.Errorf("watch path is empty")
	}
	w := &FileWatcher{
		path:          path,
		pollInterval:  time.Second,
		debounceDelay: 100 * time.Millisecond,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}

	info, err := os.Stat(path)
	switch {
	case err == nil:
		w.lastMod, w.exists = info.ModTime(), true
	case os.IsNotExist(err):
		w.logger.Warn("config file does not exist, will watch for creation", zap.String("path", path))
	default:
		return nil, fmt.Errorf("failed to stat path %s: %w", path, err)
	}
	return w, nil
}

// OnChange registers a callback for file change events
func (w *FileWatcher) OnChange(callback func(FileEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Path returns the watched file
func (w *FileWatcher) Path() string { return w.path }

// Run polls until ctx is cancelled. Callbacks run on the polling goroutine.
func (w *FileWatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.logger.Info("file watcher started",
		zap.String("path", w.path),
		zap.Duration("poll_interval", w.pollInterval),
		zap.Duration("debounce_delay", w.debounceDelay))

	var (
		pending   *FileEvent
		changedAt time.Time
	)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("file watcher stopped", zap.String("path", w.path))
			return nil
		case now := <-ticker.C:
			if ev, ok := w.check(now); ok {
				// 同一窗口内的多次变更只保留最后一次
				pending, changedAt = &ev, now
			}
			if pending != nil && now.Sub(changedAt) >= w.debounceDelay {
				w.dispatch(*pending)
				pending = nil
			}
		}
	}
}

// check compares the file against the last observed state
func (w *FileWatcher) check(now time.Time) (FileEvent, bool) {
	info, err := os.Stat(w.path)
	if err != nil {
		if os.IsNotExist(err) && w.exists {
			w.exists = false
			return FileEvent{Path: w.path, Op: FileOpRemove, Timestamp: now}, true
		}
		return FileEvent{}, false
	}

	switch {
	case !w.exists:
		w.lastMod, w.exists = info.ModTime(), true
		return FileEvent{Path: w.path, Op: FileOpCreate, Timestamp: now}, true
	case !info.ModTime().Equal(w.lastMod):
		w.lastMod = info.ModTime()
		return FileEvent{Path: w.path, Op: FileOpWrite, Timestamp: now}, true
	}
	return FileEvent{}, false
}

func (w *FileWatcher) dispatch(ev FileEvent) {
	w.mu.Lock()
	callbacks := make([]func(FileEvent), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	w.logger.Debug("dispatching file event", zap.String("path", ev.Path), zap.String("op", ev.Op.String()))
	for _, cb := range callbacks {
		cb(ev)
	}
}
