package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrDeviceBusy 设备已被占用
var ErrDeviceBusy = errors.New("voice: device busy")

// SyntheticCapture 无声卡环境下的采集设备，按周期产出带序号的假数据
type SyntheticCapture struct {
	// Deny 不为 nil 时 Start 直接返回该错误，模拟权限被拒
	Deny error
	// Frame 生成第 seq 个分片，为 nil 时使用默认格式
	Frame func(seq int) []byte

	mu     sync.Mutex
	stopCh chan struct{}
	done   chan struct{}
}

// Start 实现 CaptureDevice
func (c *SyntheticCapture) Start(interval time.Duration, onData func([]byte)) error {
	if c.Deny != nil {
		return c.Deny
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopCh != nil {
		return ErrDeviceBusy
	}
	c.stopCh = make(chan struct{})
	c.done = make(chan struct{})

	frame := c.Frame
	if frame == nil {
		frame = func(seq int) []byte { return []byte(fmt.Sprintf("pcm-%06d", seq)) }
	}

	go func(stopCh, done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for seq := 0; ; seq++ {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				onData(frame(seq))
			}
		}
	}(c.stopCh, c.done)
	return nil
}

// Stop 实现 CaptureDevice
func (c *SyntheticCapture) Stop() error {
	c.mu.Lock()
	stopCh, done := c.stopCh, c.done
	c.stopCh, c.done = nil, nil
	c.mu.Unlock()

	if stopCh == nil {
		return nil
	}
	close(stopCh)
	<-done
	return nil
}

// Active 设备是否被占用
func (c *SyntheticCapture) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopCh != nil
}

// RecordingPlayer 记录播放顺序的播放器
type RecordingPlayer struct {
	// Reject 返回 true 的数据解码失败
	Reject func([]byte) bool
	// ClipDuration 每个片段的模拟播放时长
	ClipDuration time.Duration

	mu       sync.Mutex
	played   [][]byte
	unlocked bool
	playing  int
	overlap  bool
}

// Decode 实现 Player
func (p *RecordingPlayer) Decode(ctx context.Context, data []byte) (Clip, error) {
	if p.Reject != nil && p.Reject(data) {
		return Clip{}, fmt.Errorf("unsupported audio data (%d bytes)", len(data))
	}
	return Clip{Data: data, Duration: p.ClipDuration}, nil
}

// Play 实现 Player
func (p *RecordingPlayer) Play(ctx context.Context, clip Clip) error {
	p.mu.Lock()
	p.playing++
	if p.playing > 1 {
		p.overlap = true
	}
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.playing--
		p.mu.Unlock()
	}()

	if clip.Duration > 0 {
		timer := time.NewTimer(clip.Duration)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	p.mu.Lock()
	p.played = append(p.played, clip.Data)
	p.mu.Unlock()
	return nil
}

// Unlock 实现 Player
func (p *RecordingPlayer) Unlock() error {
	p.mu.Lock()
	p.unlocked = true
	p.mu.Unlock()
	return nil
}

// Played 已播放完成的片段
func (p *RecordingPlayer) Played() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.played))
	copy(out, p.played)
	return out
}

// Unlocked 是否已解锁
func (p *RecordingPlayer) Unlocked() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unlocked
}

// Overlapped 是否出现过同时播放两个片段
func (p *RecordingPlayer) Overlapped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.overlap
}
