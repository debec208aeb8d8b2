package voice

import (
	"context"
	"sync"
	"time"

	"LiveFM/logger"
)

// Clip 解码后的一段可播放音频
type Clip struct {
	Data     []byte
	Duration time.Duration
}

// Player 接收端的音频解码与播放上下文
type Player interface {
	Decode(ctx context.Context, data []byte) (Clip, error)
	// Play 阻塞直到该片段播放完毕或失败
	Play(ctx context.Context, clip Clip) error
	// Unlock 在用户手势中调用以允许出声
	Unlock() error
}

// QueueStats 队列统计
type QueueStats struct {
	Played  int
	Failed  int
	Dropped int
}

// Queue 语音分片先进先出队列
// 同一时刻只有一个分片在解码或播放，失败的分片被跳过
type Queue struct {
	player Player
	limit  int // 0 表示不限制

	mu       sync.Mutex
	items    [][]byte
	draining bool
	closed   bool
	stats    QueueStats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewQueue limit > 0 时队列满会丢弃最旧的分片
func NewQueue(player Player, limit int) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		player: player,
		limit:  limit,
		ctx:    ctx,
		cancel: cancel,
	}
}

// PushEncoded 解码传输文本后入队，解码失败的分片被丢弃
func (q *Queue) PushEncoded(text string) error {
	data, err := DecodeChunk(text)
	if err != nil {
		q.mu.Lock()
		q.stats.Failed++
		q.mu.Unlock()
		logger.Warn("voice chunk dropped", logger.ErrorField(err))
		return err
	}
	q.Push(data)
	return nil
}

// Push 入队并在空闲时启动播放
func (q *Queue) Push(data []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.items = append(q.items, data)
	if q.limit > 0 && len(q.items) > q.limit {
		q.items = q.items[1:]
		q.stats.Dropped++
	}
	if !q.draining {
		q.draining = true
		q.wg.Add(1)
		go q.drain()
	}
}

func (q *Queue) drain() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		if q.closed || len(q.items) == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		data := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		ok := q.playOne(data)

		q.mu.Lock()
		if ok {
			q.stats.Played++
		} else {
			q.stats.Failed++
		}
		q.mu.Unlock()
	}
}

func (q *Queue) playOne(data []byte) bool {
	clip, err := q.player.Decode(q.ctx, data)
	if err != nil {
		logger.Warn("voice chunk decode failed, skipped", logger.ErrorField(err))
		return false
	}
	if err := q.player.Play(q.ctx, clip); err != nil {
		logger.Warn("voice chunk playback failed, skipped", logger.ErrorField(err))
		return false
	}
	return true
}

// Len 待播放分片数
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Idle 队列为空且没有分片在播放
func (q *Queue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.draining && len(q.items) == 0
}

// Stats 返回统计快照
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// Close 清空队列，打断正在播放的分片并等待播放协程退出
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.items = nil
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
}
