package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"LiveFM/logger"
)

// ErrAlreadyRunning 采集已在进行中
var ErrAlreadyRunning = errors.New("voice: capture already running")

// CaptureDevice 麦克风设备
type CaptureDevice interface {
	// Start 开始采集，每个周期回调一次当前缓冲；设备不可用（如权限被拒）时返回错误
	Start(interval time.Duration, onData func([]byte)) error
	// Stop 停止采集并释放设备
	Stop() error
}

// Encoder 主播端：采集 -> base64 -> 交给广播方
type Encoder struct {
	dev      CaptureDevice
	interval time.Duration
	sink     func(chunk string)

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	active  atomic.Bool // 回调侧读取，不持有 mu
}

// NewEncoder interval 为分片周期，<=0 时使用 1s
func NewEncoder(dev CaptureDevice, interval time.Duration, sink func(chunk string)) *Encoder {
	if interval <= 0 {
		interval = time.Second
	}
	return &Encoder{dev: dev, interval: interval, sink: sink}
}

// Start 获取设备开始采集，ctx 结束时自动停止
func (e *Encoder) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return ErrAlreadyRunning
	}
	e.active.Store(true)
	if err := e.dev.Start(e.interval, e.emit); err != nil {
		e.active.Store(false)
		return fmt.Errorf("start capture: %w", err)
	}

	e.running = true
	e.stopCh = make(chan struct{})
	go func(stopCh chan struct{}) {
		select {
		case <-ctx.Done():
			if err := e.Stop(); err != nil {
				logger.Warn("stop capture on context done failed", logger.ErrorField(err))
			}
		case <-stopCh:
		}
	}(e.stopCh)

	logger.Debug("voice capture started", logger.Duration("interval", e.interval))
	return nil
}

// Stop 停止采集，未运行时为空操作
func (e *Encoder) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	e.active.Store(false)
	close(e.stopCh)
	e.mu.Unlock()

	// 设备回调可能正在执行，不能持锁等待
	if err := e.dev.Stop(); err != nil {
		return fmt.Errorf("stop capture: %w", err)
	}
	logger.Debug("voice capture stopped")
	return nil
}

// Running 是否正在采集
func (e *Encoder) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Encoder) emit(data []byte) {
	if len(data) == 0 || !e.active.Load() {
		return
	}
	e.sink(EncodeChunk(data))
}
