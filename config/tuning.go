package config

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
)

// SyncTuning 播放同步参数
// 阈值没有经过容差分析，因此全部可配置
type SyncTuning struct {
	HeartbeatInterval      time.Duration // 房主心跳周期
	HeartbeatDrift         float64       // 心跳校正阈值（秒）
	ManualDrift            float64       // 手动同步校正阈值（秒）
	MaxLatencyCompensation time.Duration // 网络延迟补偿上限，防止时钟偏差放大
}

// DefaultSyncTuning 默认值：4s 心跳，4s / 2s 阈值
func DefaultSyncTuning() SyncTuning {
	return SyncTuning{
		HeartbeatInterval:      4 * time.Second,
		HeartbeatDrift:         4,
		ManualDrift:            2,
		MaxLatencyCompensation: 10 * time.Second,
	}
}

// Validate 校验参数
func (t SyncTuning) Validate() error {
	if t.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive, got %s", t.HeartbeatInterval)
	}
	if t.HeartbeatDrift < 0 || t.ManualDrift < 0 {
		return fmt.Errorf("drift thresholds must not be negative")
	}
	if t.MaxLatencyCompensation < 0 {
		return fmt.Errorf("latency compensation must not be negative")
	}
	return nil
}

// TuningStore 并发安全的参数容器，支持运行时替换
type TuningStore struct {
	v atomic.Value
}

// NewTuningStore 创建参数容器
func NewTuningStore(t SyncTuning) *TuningStore {
	s := &TuningStore{}
	s.v.Store(t)
	return s
}

// Get 读取当前参数
func (s *TuningStore) Get() SyncTuning {
	if s == nil {
		return DefaultSyncTuning()
	}
	t, ok := s.v.Load().(SyncTuning)
	if !ok {
		return DefaultSyncTuning()
	}
	return t
}

// Set 替换参数
func (s *TuningStore) Set(t SyncTuning) {
	s.v.Store(t)
}

// ApplyTuningValues 用 KEY=VALUE 覆盖 base 中出现的字段
func ApplyTuningValues(base SyncTuning, values map[string]string) (SyncTuning, error) {
	out := base
	for key, raw := range values {
		raw = strings.TrimSpace(raw)
		switch key {
		case "SYNC_HEARTBEAT_INTERVAL":
			d, err := time.ParseDuration(raw)
			if err != nil {
				return base, fmt.Errorf("%s: %w", key, err)
			}
			out.HeartbeatInterval = d
		case "SYNC_HEARTBEAT_DRIFT":
			f, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return base, fmt.Errorf("%s: %w", key, err)
			}
			out.HeartbeatDrift = f
		case "SYNC_MANUAL_DRIFT":
			f, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return base, fmt.Errorf("%s: %w", key, err)
			}
			out.ManualDrift = f
		case "SYNC_MAX_LATENCY_COMPENSATION":
			d, err := time.ParseDuration(raw)
			if err != nil {
				return base, fmt.Errorf("%s: %w", key, err)
			}
			out.MaxLatencyCompensation = d
		}
	}
	if err := out.Validate(); err != nil {
		return base, err
	}
	return out, nil
}

// ReloadTuning 从文件读取参数并写入 store
func ReloadTuning(path string, store *TuningStore) error {
	values, err := godotenv.Read(path)
	if err != nil {
		return fmt.Errorf("read tuning file: %w", err)
	}
	next, err := ApplyTuningValues(store.Get(), values)
	if err != nil {
		return fmt.Errorf("invalid tuning file: %w", err)
	}
	store.Set(next)
	return nil
}

// WatchTuning 监听参数文件变化并热加载，ctx 结束时停止
// 监听的是所在目录，编辑器保存时常见的 rename+create 也能捕获
func WatchTuning(ctx context.Context, path string, store *TuningStore, onChange func(SyncTuning)) error {
	path = filepath.Clean(path)
	if err := ReloadTuning(path, store); err != nil {
		log.Printf("initial tuning load failed: %v", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != path {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if err := ReloadTuning(path, store); err != nil {
					log.Printf("tuning reload failed: %v", err)
					continue
				}
				if onChange != nil {
					onChange(store.Get())
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("tuning watcher error: %v", err)
			}
		}
	}()
	return nil
}
