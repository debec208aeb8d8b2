package cmd

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"LiveFM/config"
	"LiveFM/core/auth"
	"LiveFM/core/playback"
	"LiveFM/core/realtime"
	"LiveFM/core/room"
	"LiveFM/core/voice"
	"LiveFM/model"
	"LiveFM/repository"
	"LiveFM/storage"

	"github.com/spf13/cobra"
)

var (
	simListeners  int
	simDuration   time.Duration
	simHeartbeat  time.Duration
	simDropSync   float64
	simDropVoice  float64
	simQueueLimit int
	simRelay      string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "模拟一个直播间",
	Long: `在进程内模拟一个房主和若干听众：房主播放、跳转、开麦后结束直播，
最后打印每个听众的播放偏差和语音播放情况。可以按比例丢弃事件来观察心跳校正。
指定 --relay 时所有参与者通过 WebSocket 中继通信。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), simDuration+30*time.Second)
		defer cancel()
		return runSimulation(ctx)
	},
}

func init() {
	simulateCmd.Flags().IntVarP(&simListeners, "listeners", "n", 3, "听众数量")
	simulateCmd.Flags().DurationVarP(&simDuration, "duration", "t", 12*time.Second, "直播时长")
	simulateCmd.Flags().DurationVar(&simHeartbeat, "heartbeat", 0, "心跳周期，为 0 时使用配置")
	simulateCmd.Flags().Float64Var(&simDropSync, "drop-sync", 0, "room_sync 丢弃比例 (0-1)")
	simulateCmd.Flags().Float64Var(&simDropVoice, "drop-voice", 0, "voice_chunk 丢弃比例 (0-1)")
	simulateCmd.Flags().IntVar(&simQueueLimit, "queue-limit", -1, "听众语音队列上限，-1 使用配置，0 不限制")
	simulateCmd.Flags().StringVar(&simRelay, "relay", "", "中继地址，例如 ws://localhost:8080/ws")
	rootCmd.AddCommand(simulateCmd)
}

type simPeer struct {
	session *room.Session

	mu      sync.Mutex
	element *playback.VirtualElement
	player  *voice.RecordingPlayer
}

func (p *simPeer) devices() room.Devices {
	return room.Devices{
		NewElement: func() playback.Element {
			el := playback.NewVirtualElement()
			el.RequireUnlock = true
			p.mu.Lock()
			p.element = el
			p.mu.Unlock()
			return el
		},
		NewPlayer: func() voice.Player {
			pl := &voice.RecordingPlayer{ClipDuration: 50 * time.Millisecond}
			p.mu.Lock()
			p.player = pl
			p.mu.Unlock()
			return pl
		},
		NewCapture: func() voice.CaptureDevice {
			return &voice.SyntheticCapture{}
		},
	}
}

func (p *simPeer) position() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.element == nil {
		return 0
	}
	return p.element.Position()
}

func (p *simPeer) voicePlayed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.player == nil {
		return 0
	}
	return len(p.player.Played())
}

func runSimulation(ctx context.Context) error {
	tuning := cfg.Sync
	if simHeartbeat > 0 {
		tuning.HeartbeatInterval = simHeartbeat
	}
	tuningStore := config.NewTuningStore(tuning)
	queueLimit := cfg.VoiceQueueLimit
	if simQueueLimit >= 0 {
		queueLimit = simQueueLimit
	}

	dir := room.NewDirectory(repository.NewMemoryRoomRepository(), storage.NewMemoryStore("mem://covers"), nil)

	bus := realtime.NewMemoryBus()
	var rngMu sync.Mutex
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	bus.SetDropFilter(func(topic, event string) bool {
		rngMu.Lock()
		defer rngMu.Unlock()
		switch event {
		case model.EventRoomSync:
			return rng.Float64() < simDropSync
		case model.EventVoiceChunk:
			return rng.Float64() < simDropVoice
		}
		return false
	})

	tokens := auth.NewTokenIssuer(cfg.JWTSecret, time.Hour)
	channelFor := func(viewer model.Viewer) (realtime.Channel, func(), error) {
		if simRelay == "" {
			return bus.Client(), func() {}, nil
		}
		token, err := tokens.Issue(viewer)
		if err != nil {
			return nil, nil, err
		}
		ch, err := realtime.DialWS(ctx, simRelay, token)
		if err != nil {
			return nil, nil, err
		}
		return ch, func() { _ = ch.Close() }, nil
	}

	newPeer := func(viewer model.Viewer) (*simPeer, func(), error) {
		ch, closeCh, err := channelFor(viewer)
		if err != nil {
			return nil, nil, err
		}
		p := &simPeer{}
		p.session = room.NewSession(room.Options{
			Viewer:             viewer,
			Directory:          dir,
			Channel:            ch,
			Devices:            p.devices(),
			Tuning:             tuningStore,
			VoiceChunkInterval: cfg.VoiceChunkInterval,
			VoiceQueueLimit:    queueLimit,
		})
		return p, func() {
			_ = p.session.Close(context.Background())
			closeCh()
		}, nil
	}

	host, closeHost, err := newPeer(model.Viewer{ID: 1, Name: "主播"})
	if err != nil {
		return err
	}
	defer closeHost()

	rm, err := host.session.CreateRoom(ctx, room.CreateParams{Title: "模拟直播间"})
	if err != nil {
		return err
	}
	fmt.Printf("房间 %s 已开播，心跳 %s，听众 %d\n", rm.ID, tuning.HeartbeatInterval, simListeners)

	track := model.Track{ID: "sim-1", Title: "模拟曲目", Src: "mem://tracks/sim-1.mp3", Duration: 600}
	if err := host.session.PlayTrack(ctx, track); err != nil {
		return err
	}

	listeners := make([]*simPeer, 0, simListeners)
	for i := 0; i < simListeners; i++ {
		p, closePeer, err := newPeer(model.Viewer{ID: int64(100 + i), Name: fmt.Sprintf("听众%d", i+1)})
		if err != nil {
			return err
		}
		defer closePeer()
		if err := p.session.OpenRoom(ctx, rm.ID); err != nil {
			return err
		}
		if err := p.session.Enter(ctx); err != nil {
			return err
		}
		listeners = append(listeners, p)
	}

	if err := host.session.ToggleMic(ctx); err != nil {
		fmt.Printf("开麦失败: %v\n", err)
	}

	// 直播过程中房主跳转两次
	seekAt := []float64{120, 300}
	step := simDuration / time.Duration(len(seekAt)+1)
	for _, pos := range seekAt {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(step):
		}
		_ = host.session.Seek(ctx, pos)
		fmt.Printf("房主跳转到 %.0fs\n", pos)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(step):
	}

	hostPos := host.position()
	fmt.Printf("\n%-8s %-12s %10s %10s %8s\n", "听众", "状态", "位置(s)", "偏差(s)", "语音片段")
	for _, p := range listeners {
		pos := p.position()
		snap := p.session.Snapshot()
		fmt.Printf("%-8s %-12s %10.2f %10.2f %8d\n",
			p.session.Viewer().Name, snap.State, pos, math.Abs(pos-hostPos), p.voicePlayed())
	}

	if err := host.session.End(ctx); err != nil {
		return err
	}

	deadline := time.Now().Add(3 * time.Second)
	for _, p := range listeners {
		for p.session.State() != room.StateEnded && time.Now().Before(deadline) {
			time.Sleep(20 * time.Millisecond)
		}
	}
	ended := 0
	for _, p := range listeners {
		if p.session.State() == room.StateEnded {
			ended++
		}
	}
	fmt.Printf("\n直播已结束，%d/%d 个听众收到结束通知\n", ended, len(listeners))
	return nil
}
