// 配置热重载实现。
//
// 文件变更时重新加载、校验并比较新旧配置，仅在有变更时通知回调。
// 校验失败或回调 panic 时保留当前配置。
package config

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// --- 热重载类型定义 ---

// ReloadCallback 在新配置生效后调用
type ReloadCallback func(oldConfig, newConfig *Config)

// ConfigChange 代表一个字段的变更
type ConfigChange struct {
	Timestamp time.Time `json:"timestamp"`
	// 变更来源: file, manual
	Source string `json:"source"`
	// 字段路径，例如 "Validation.MaxAgents"
	Path     string `json:"path"`
	OldValue any    `json:"old_value,omitempty"`
	NewValue any    `json:"new_value,omitempty"`
	// 该字段只在重启后生效
	RequiresRestart bool `json:"requires_restart"`
}

// restartPrefixes 列出只在进程重启后生效的字段
var restartPrefixes = []string{
	"Server.HTTPPort",
	"Server.MetricsPort",
	"Server.ReadTimeout",
	"Server.WriteTimeout",
	"Server.JWTSecret",
	"Redis.",
	"Telemetry.",
}

// sensitiveFields 日志与变更记录中需要脱敏的字段
var sensitiveFields = map[string]bool{
	"Server.JWTSecret": true,
	"Redis.Password":   true,
}

// RequiresRestart 报告字段是否需要重启才能生效
func RequiresRestart(path string) bool {
	for _, p := range restartPrefixes {
		if path == p || (strings.HasSuffix(p, ".") && strings.HasPrefix(path, p)) {
			return true
		}
	}
	return false
}

// Reloader 持有当前配置并在文件变更时重新加载
type Reloader struct {
	mu sync.RWMutex

	loader  *Loader
	current *Config
	logger  *zap.Logger

	callbacks  []ReloadCallback
	changeLog  []ConfigChange
	maxChanges int
	now        func() time.Time
}

// NewReloader 创建热重载器，initial 是已加载的配置
func NewReloader(loader *Loader, initial *Config, logger *zap.Logger) *Reloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if initial == nil {
		initial = DefaultConfig()
	}
	return &Reloader{
		loader:     loader,
		current:    initial,
		logger:     logger.With(zap.String("component", "config_reloader")),
		maxChanges: 100,
		now:        time.Now,
	}
}

// Config 返回当前配置，调用方不得修改
func (r *Reloader) Config() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// OnReload 注册重载回调
func (r *Reloader) OnReload(cb ReloadCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, cb)
}

// Changes 返回最近 limit 条变更，limit <= 0 返回全部
func (r *Reloader) Changes(limit int) []ConfigChange {
	r.mu.RLock()
	defer r.mu.RUnlock()
	start := 0
	if limit > 0 && len(r.changeLog) > limit {
		start = len(r.changeLog) - limit
	}
	out := make([]ConfigChange, len(r.changeLog)-start)
	copy(out, r.changeLog[start:])
	return out
}

// Reload 从文件和环境变量重新加载配置
func (r *Reloader) Reload() ([]ConfigChange, error) {
	next, err := r.loader.Load()
	if err != nil {
		return nil, err
	}
	return r.Apply(next, "file")
}

// Apply 校验并应用新配置，返回检测到的变更
func (r *Reloader) Apply(next *Config, source string) ([]ConfigChange, error) {
	if err := next.Validate(); err != nil {
		r.logger.Error("invalid config, keeping current", zap.String("source", source), zap.Error(err))
		return nil, err
	}

	r.mu.Lock()
	old := r.current
	changes := detectChanges(old, next)
	if len(changes) == 0 {
		r.mu.Unlock()
		return nil, nil
	}
	now := r.now()
	for i := range changes {
		changes[i].Timestamp = now
		changes[i].Source = source
	}
	r.current = next
	callbacks := make([]ReloadCallback, len(r.callbacks))
	copy(callbacks, r.callbacks)
	r.mu.Unlock()

	if err := notifySafe(callbacks, old, next); err != nil {
		r.mu.Lock()
		r.current = old
		r.mu.Unlock()
		r.logger.Error("reload callback failed, restored previous config", zap.Error(err))
		return nil, err
	}

	r.mu.Lock()
	r.changeLog = append(r.changeLog, changes...)
	if over := len(r.changeLog) - r.maxChanges; over > 0 {
		r.changeLog = r.changeLog[over:]
	}
	r.mu.Unlock()

	for _, c := range changes {
		r.logChange(c)
	}
	return changes, nil
}

// Watch 监听配置文件直到 ctx 结束
func (r *Reloader) Watch(ctx context.Context, opts ...WatcherOption) error {
	if r.loader == nil || r.loader.configPath == "" {
		return fmt.Errorf("no config file to watch")
	}
	w, err := NewFileWatcher(r.loader.configPath, append([]WatcherOption{WithWatcherLogger(r.logger)}, opts...)...)
	if err != nil {
		return err
	}
	w.OnChange(func(ev FileEvent) {
		if ev.Op == FileOpRemove {
			r.logger.Warn("config file removed, keeping current config", zap.String("path", ev.Path))
			return
		}
		// 失败已在 Apply 中记录
		_, _ = r.Reload()
	})
	return w.Run(ctx)
}

// notifySafe 通知回调并捕获 panic
func notifySafe(callbacks []ReloadCallback, oldConfig, newConfig *Config) (retErr error) {
	defer func() {
		if rec := recover(); rec != nil {
			retErr = fmt.Errorf("reload callback panicked: %v", rec)
		}
	}()
	for _, cb := range callbacks {
		cb(oldConfig, newConfig)
	}
	return nil
}

// detectChanges 检测新旧配置之间的变化
func detectChanges(oldConfig, newConfig *Config) []ConfigChange {
	var changes []ConfigChange
	compareStructs("", reflect.ValueOf(oldConfig).Elem(), reflect.ValueOf(newConfig).Elem(), &changes)
	return changes
}

// compareStructs 递归比较结构体字段，匿名嵌入字段不增加路径层级
func compareStructs(prefix string, oldVal, newVal reflect.Value, changes *[]ConfigChange) {
	t := oldVal.Type()
	for i := 0; i < oldVal.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		fieldPath := prefix
		if !field.Anonymous {
			if prefix != "" {
				fieldPath = prefix + "." + field.Name
			} else {
				fieldPath = field.Name
			}
		}

		oldField, newField := oldVal.Field(i), newVal.Field(i)
		if oldField.Kind() == reflect.Struct && oldField.Type() != reflect.TypeOf(time.Time{}) {
			compareStructs(fieldPath, oldField, newField, changes)
			continue
		}
		if reflect.DeepEqual(oldField.Interface(), newField.Interface()) {
			continue
		}

		change := ConfigChange{
			Path:            fieldPath,
			OldValue:        oldField.Interface(),
			NewValue:        newField.Interface(),
			RequiresRestart: RequiresRestart(fieldPath),
		}
		if sensitiveFields[fieldPath] {
			change.OldValue, change.NewValue = "***", "***"
		}
		*changes = append(*changes, change)
	}
}

// logChange 记录配置更改
func (r *Reloader) logChange(change ConfigChange) {
	fields := []zap.Field{
		zap.String("path", change.Path),
		zap.String("source", change.Source),
		zap.Bool("requires_restart", change.RequiresRestart),
		zap.Any("old_value", change.OldValue),
		zap.Any("new_value", change.NewValue),
	}
	if change.RequiresRestart {
		r.logger.Warn("configuration changed, restart required", fields...)
		return
	}
	r.logger.Info("configuration changed", fields...)
}
