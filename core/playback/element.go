// Package playback 听众端的播放同步
package playback

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrAutoplayBlocked 未经用户手势解锁就尝试出声
var ErrAutoplayBlocked = errors.New("playback: autoplay blocked")

// Element 音频播放元素，每个会话只持有一个
type Element interface {
	Source() string
	// Load 切换音源，返回时元素已可播放
	Load(ctx context.Context, src string) error
	Position() float64
	Seek(pos float64) error
	Play(ctx context.Context) error
	Pause() error
	Paused() bool
	// Unlock 必须在用户手势的同一调用栈中执行
	Unlock() error
	Close() error
}

// VirtualElement 按墙钟推进的无声播放元素，用于模拟与测试
type VirtualElement struct {
	// RequireUnlock 为 true 时未解锁的 Play 返回 ErrAutoplayBlocked
	RequireUnlock bool
	// LoadDelay 模拟加载耗时
	LoadDelay time.Duration

	mu        sync.Mutex
	now       func() time.Time
	src       string
	base      float64
	startedAt time.Time
	playing   bool
	unlocked  bool
	closed    bool
	loads     int
	seeks     []float64
}

// NewVirtualElement 创建虚拟元素
func NewVirtualElement() *VirtualElement {
	return &VirtualElement{now: time.Now}
}

// SetClock 替换时钟
func (e *VirtualElement) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

func (e *VirtualElement) clock() time.Time {
	if e.now == nil {
		return time.Now()
	}
	return e.now()
}

// Source 当前音源
func (e *VirtualElement) Source() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.src
}

// Load 切换音源并回到开头
func (e *VirtualElement) Load(ctx context.Context, src string) error {
	if e.LoadDelay > 0 {
		timer := time.NewTimer(e.LoadDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.src = src
	e.base = 0
	e.playing = false
	e.loads++
	return nil
}

// Position 当前播放位置（秒）
func (e *VirtualElement) Position() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.position()
}

func (e *VirtualElement) position() float64 {
	if !e.playing {
		return e.base
	}
	return e.base + e.clock().Sub(e.startedAt).Seconds()
}

// Seek 跳转
func (e *VirtualElement) Seek(pos float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if pos < 0 {
		pos = 0
	}
	e.base = pos
	e.startedAt = e.clock()
	e.seeks = append(e.seeks, pos)
	return nil
}

// Play 开始播放
func (e *VirtualElement) Play(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.RequireUnlock && !e.unlocked {
		return ErrAutoplayBlocked
	}
	if e.playing {
		return nil
	}
	e.startedAt = e.clock()
	e.playing = true
	return nil
}

// Pause 暂停
func (e *VirtualElement) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.playing {
		return nil
	}
	e.base = e.position()
	e.playing = false
	return nil
}

// Paused 是否暂停
func (e *VirtualElement) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.playing
}

// Unlock 解锁出声
func (e *VirtualElement) Unlock() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unlocked = true
	return nil
}

// Unlocked 是否已解锁
func (e *VirtualElement) Unlocked() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unlocked
}

// Close 释放元素
func (e *VirtualElement) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.src = ""
	e.playing = false
	e.closed = true
	return nil
}

// Closed 是否已释放
func (e *VirtualElement) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Loads 加载次数
func (e *VirtualElement) Loads() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loads
}

// Seeks 所有跳转目标
func (e *VirtualElement) Seeks() []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]float64, len(e.seeks))
	copy(out, e.seeks)
	return out
}
