package room

import (
	"context"
	"time"
)

const defaultHeartbeatInterval = 4 * time.Second

// Heartbeat 房主周期性重发播放进度
type Heartbeat struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// StartHeartbeat 每个周期调用一次 tick；interval 每次都重新读取，支持热更新
func StartHeartbeat(ctx context.Context, interval func() time.Duration, tick func(ctx context.Context)) *Heartbeat {
	ctx, cancel := context.WithCancel(ctx)
	h := &Heartbeat{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(h.done)
		current := interval()
		if current <= 0 {
			current = defaultHeartbeatInterval
		}
		ticker := time.NewTicker(current)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tick(ctx)
				if next := interval(); next != current && next > 0 {
					current = next
					ticker.Reset(current)
				}
			}
		}
	}()
	return h
}

// Stop 停止并等待当前 tick 结束
func (h *Heartbeat) Stop() {
	if h == nil {
		return
	}
	h.cancel()
	<-h.done
}
