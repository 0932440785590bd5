// 配置文件变更监听与重载。
//
// 以轮询方式检测文件修改时间，防抖后重新加载并通知订阅者。
package config

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Reloader 监听单个配置文件，变更后重新加载
type Reloader struct {
	mu sync.RWMutex

	loader   *Loader
	path     string
	interval time.Duration
	debounce time.Duration
	logger   *zap.Logger

	current   *Config
	lastMod   time.Time
	callbacks []func(old, updated *Config)
	running   bool
}

// ReloaderOption 配置 Reloader
type ReloaderOption func(*Reloader)

// WithPollInterval 设置轮询间隔
func WithPollInterval(d time.Duration) ReloaderOption {
	return func(r *Reloader) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithDebounce 设置防抖延迟
func WithDebounce(d time.Duration) ReloaderOption {
	return func(r *Reloader) { r.debounce = d }
}

// WithReloaderLogger 设置日志
func WithReloaderLogger(logger *zap.Logger) ReloaderOption {
	return func(r *Reloader) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewReloader 创建 Reloader；initial 为当前生效的配置
func NewReloader(loader *Loader, initial *Config, opts ...ReloaderOption) (*Reloader, error) {
	if loader == nil || loader.configPath == "" {
		return nil, errors.New("config: reloader requires a loader with a config path")
	}
	r := &Reloader{
		loader:   loader,
		path:     loader.configPath,
		interval: time.Second,
		debounce: 100 * time.Millisecond,
		logger:   zap.NewNop(),
		current:  initial,
	}
	for _, opt := range opts {
		opt(r)
	}
	if info, err := os.Stat(r.path); err == nil {
		r.lastMod = info.ModTime()
	}
	return r, nil
}

// OnReload 注册变更回调，回调在重载成功后按注册顺序执行
func (r *Reloader) OnReload(cb func(old, updated *Config)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, cb)
}

// Current 返回当前配置
func (r *Reloader) Current() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Run 轮询直到 ctx 结束
func (r *Reloader) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return errors.New("config: reloader already running")
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	r.logger.Info("config reloader started",
		zap.String("path", r.path),
		zap.Duration("interval", r.interval))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !r.changed() {
				continue
			}
			if r.debounce > 0 {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(r.debounce):
				}
			}
			r.Reload()
		}
	}
}

// changed 比较文件修改时间
func (r *Reloader) changed() bool {
	info, err := os.Stat(r.path)
	if err != nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if info.ModTime().After(r.lastMod) {
		r.lastMod = info.ModTime()
		return true
	}
	return false
}

// Reload 立即重新加载；失败时保留旧配置
func (r *Reloader) Reload() error {
	updated, err := r.loader.Load()
	if err != nil {
		r.logger.Warn("config reload failed, keeping previous config",
			zap.String("path", r.path), zap.Error(err))
		return err
	}

	r.mu.Lock()
	old := r.current
	r.current = updated
	callbacks := make([]func(old, updated *Config), len(r.callbacks))
	copy(callbacks, r.callbacks)
	r.mu.Unlock()

	r.logger.Info("config reloaded", zap.String("path", r.path))
	for _, cb := range callbacks {
		cb(old, updated)
	}
	return nil
}
