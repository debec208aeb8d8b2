package room

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"LiveFM/config"
	"LiveFM/core/playback"
	"LiveFM/core/realtime"
	"LiveFM/core/voice"
	"LiveFM/logger"
	"LiveFM/model"
)

// State 会话状态
type State string

const (
	StateClosed      State = "closed"
	StateBrowsing    State = "browsing"
	StateOpening     State = "opening"
	StateGated       State = "gated" // 听众已进入房间，等待点击解锁声音
	StateLiveHosting State = "live_hosting"
	StateLive        State = "live"
	StateEnded       State = "ended"
)

// Devices 音频设备工厂，每进入一个房间创建一次
type Devices struct {
	NewElement func() playback.Element
	NewPlayer  func() voice.Player
	NewCapture func() voice.CaptureDevice
}

// Options 会话参数
type Options struct {
	Viewer    model.Viewer
	Directory *Directory
	Channel   realtime.Channel
	Devices   Devices
	Tuning    *config.TuningStore

	VoiceChunkInterval time.Duration
	VoiceQueueLimit    int
}

// Snapshot 会话对外可见的状态
type Snapshot struct {
	State    State
	IsHost   bool
	Room     *model.Room
	Rooms    []*model.Room
	Messages []model.RoomMessage
	Syncing  bool
}

// attachment 一个房间持有的全部资源，离开房间时整体释放
type attachment struct {
	roomID string
	ctx    context.Context
	cancel context.CancelFunc

	el     playback.Element
	sync   *playback.Synchronizer
	player voice.Player

	// 以下字段由 Session.mu 保护
	queue     *voice.Queue
	encoder   *voice.Encoder
	heartbeat *Heartbeat

	wg sync.WaitGroup
}

// Session 一个用户在直播间功能里的完整会话
// 同一时刻只在一个房间中，角色由镜像里的房主ID实时推导
type Session struct {
	viewer        model.Viewer
	dir           *Directory
	router        *Router
	devices       Devices
	tuning        *config.TuningStore
	chunkInterval time.Duration
	queueLimit    int

	// opMu 串行化所有状态迁移
	opMu sync.Mutex

	mu         sync.Mutex
	state      State
	mirror     *model.Room
	lastSentAt int64
	rooms      []*model.Room
	messages   []model.RoomMessage
	syncing    bool
	att        *attachment

	watchMu  sync.Mutex
	watchers map[chan Snapshot]struct{}
}

// NewSession 创建会话，初始状态为 closed
func NewSession(opts Options) *Session {
	devices := opts.Devices
	if devices.NewElement == nil {
		devices.NewElement = func() playback.Element { return playback.NewVirtualElement() }
	}
	if devices.NewPlayer == nil {
		devices.NewPlayer = func() voice.Player { return &voice.RecordingPlayer{} }
	}

	s := &Session{
		viewer:        opts.Viewer,
		dir:           opts.Directory,
		devices:       devices,
		tuning:        opts.Tuning,
		chunkInterval: opts.VoiceChunkInterval,
		queueLimit:    opts.VoiceQueueLimit,
		state:         StateClosed,
		watchers:      make(map[chan Snapshot]struct{}),
	}
	s.router = NewRouter(opts.Channel, RouterHandlers{
		OnMessage:    s.onMessage,
		OnSync:       s.onSync,
		OnVoiceChunk: s.onVoiceChunk,
	})
	return s
}

// Viewer 当前用户
func (s *Session) Viewer() model.Viewer {
	return s.viewer
}

// State 当前状态
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsHost 当前用户是否为所在房间的房主
func (s *Session) IsHost() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mirror.IsHost(s.viewer.ID)
}

// Snapshot 返回状态快照
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:   s.state,
		IsHost:  s.mirror.IsHost(s.viewer.ID),
		Room:    s.mirror.Clone(),
		Syncing: s.syncing,
	}
	if len(s.rooms) > 0 {
		snap.Rooms = make([]*model.Room, len(s.rooms))
		for i, r := range s.rooms {
			snap.Rooms[i] = r.Clone()
		}
	}
	if len(s.messages) > 0 {
		snap.Messages = make([]model.RoomMessage, len(s.messages))
		copy(snap.Messages, s.messages)
	}
	return snap
}

// Watch 订阅状态变化，返回的函数用于取消订阅
// 观察者跟不上时只保留最新的快照
func (s *Session) Watch() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 16)
	s.watchMu.Lock()
	s.watchers[ch] = struct{}{}
	s.watchMu.Unlock()

	ch <- s.Snapshot()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.watchMu.Lock()
			delete(s.watchers, ch)
			s.watchMu.Unlock()
			close(ch)
		})
	}
}

func (s *Session) notify() {
	snap := s.Snapshot()

	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for ch := range s.watchers {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

// ========== 浏览与进入 ==========

// Browse 拉取开播中的房间列表
func (s *Session) Browse(ctx context.Context) ([]*model.Room, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	switch s.state {
	case StateClosed, StateBrowsing, StateEnded:
	default:
		s.mu.Unlock()
		return nil, ErrInvalidState
	}
	s.mu.Unlock()

	rooms, err := s.dir.List(ctx, 0)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.state = StateBrowsing
	s.rooms = rooms
	s.mirror = nil
	s.messages = nil
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify()
	return snap.Rooms, nil
}

// CreateRoom 房主开播：持久化房间后直接进入 live-hosting
func (s *Session) CreateRoom(ctx context.Context, p CreateParams) (*model.Room, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.beginOpening()

	room, err := s.dir.Create(ctx, s.viewer, p)
	if err != nil {
		s.abortOpening()
		return nil, err
	}

	s.attach(ctx, room, true)
	return room.Clone(), nil
}

// OpenRoom 打开房间。总是按ID重新拉取快照，不使用列表中的缓存
func (s *Session) OpenRoom(ctx context.Context, id string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.beginOpening()

	room, err := s.dir.Get(ctx, id)
	if err != nil {
		s.abortOpening()
		return err
	}

	s.attach(ctx, room, false)
	return nil
}

// beginOpening 释放之前房间的全部资源后进入 opening
func (s *Session) beginOpening() {
	s.mu.Lock()
	prev := s.detachLocked()
	s.state = StateOpening
	s.messages = nil
	s.mu.Unlock()

	s.release(prev)
	s.notify()
}

func (s *Session) abortOpening() {
	s.mu.Lock()
	s.state = StateBrowsing
	s.mu.Unlock()
	s.notify()
}

func (s *Session) attach(ctx context.Context, room *model.Room, created bool) {
	el := s.devices.NewElement()
	attCtx, cancel := context.WithCancel(context.Background())
	att := &attachment{
		roomID: room.ID,
		ctx:    attCtx,
		cancel: cancel,
		el:     el,
		sync:   playback.New(el, s.tuning),
		player: s.devices.NewPlayer(),
	}

	s.mu.Lock()
	s.att = att
	s.mirror = room.Clone()
	s.lastSentAt = 0
	if !room.UpdatedAt.IsZero() {
		s.lastSentAt = room.UpdatedAt.UnixMilli()
	}
	if s.mirror.IsHost(s.viewer.ID) {
		s.becomeHostLocked(att)
		// 房主重新打开自己的房间时，恢复到记录中的播放状态
		if !created && s.mirror.CurrentTrack != nil {
			s.spawnReconcileLocked(att, playback.Manual)
		}
	} else {
		s.state = StateGated
	}
	state := s.state
	s.mu.Unlock()

	// 订阅失败已记录日志，房间照常进入，只是收不到实时事件
	_ = s.router.Bind(ctx, room.ID)

	logger.Info("room session attached",
		logger.String("room", room.ID),
		logger.Int64("user", s.viewer.ID),
		logger.String("state", string(state)))
	s.notify()
}

// becomeHostLocked 需要持有 mu
func (s *Session) becomeHostLocked(att *attachment) {
	// 开播本身就是用户手势
	if err := att.el.Unlock(); err != nil {
		logger.Warn("unlock element failed", logger.ErrorField(err))
	}
	att.heartbeat = StartHeartbeat(att.ctx, s.heartbeatInterval, func(ctx context.Context) {
		s.heartbeatTick(ctx, att)
	})
	s.state = StateLiveHosting
}

// detachLocked 需要持有 mu，返回的资源在锁外释放
func (s *Session) detachLocked() *attachment {
	att := s.att
	s.att = nil
	s.mirror = nil
	s.syncing = false
	return att
}

// release 停止心跳和采集，解绑频道，关闭队列和播放元素
func (s *Session) release(att *attachment) {
	if att == nil {
		return
	}

	att.heartbeat.Stop()
	if att.encoder != nil {
		if err := att.encoder.Stop(); err != nil {
			logger.Warn("stop capture failed", logger.ErrorField(err))
		}
	}
	if s.router.BoundRoom() == att.roomID {
		s.router.Unbind()
	}
	att.cancel()
	att.wg.Wait()
	if att.queue != nil {
		att.queue.Close()
	}
	if err := att.el.Close(); err != nil {
		logger.Warn("close element failed", logger.ErrorField(err))
	}
	logger.Debug("room resources released", logger.String("room", att.roomID))
}

// Enter 听众点击进入。必须在用户手势的调用栈中同步解锁声音
func (s *Session) Enter(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	att := s.att
	if s.state != StateGated || att == nil {
		state := s.state
		s.mu.Unlock()
		logger.Debug("enter ignored", logger.String("state", string(state)))
		return nil
	}

	if err := att.el.Unlock(); err != nil {
		logger.Warn("unlock element failed", logger.ErrorField(err))
	}
	if err := att.player.Unlock(); err != nil {
		logger.Warn("unlock voice player failed", logger.ErrorField(err))
	}
	att.queue = voice.NewQueue(att.player, s.queueLimit)
	s.state = StateLive
	s.spawnReconcileLocked(att, playback.Ambient)
	s.mu.Unlock()

	s.notify()
	return nil
}

// spawnReconcileLocked 需要持有 mu
func (s *Session) spawnReconcileLocked(att *attachment, mode playback.Mode) {
	room := *s.mirror.Clone()
	sentAt := s.lastSentAt
	// 持锁领取代数，顺序与事件到达顺序一致
	gen := att.sync.Begin()

	att.wg.Add(1)
	go func() {
		defer att.wg.Done()
		if _, err := att.sync.ReconcileAt(att.ctx, gen, room, sentAt, mode); err != nil {
			logger.Warn("reconcile failed", logger.String("room", room.ID), logger.ErrorField(err))
		}
	}()
}

// ========== 房主操作 ==========

// hostLocked 需要持有 mu。非房主或不在 live-hosting 时返回 false
func (s *Session) hostLocked(action string) (*attachment, bool) {
	if s.att == nil || s.state != StateLiveHosting || !s.mirror.IsHost(s.viewer.ID) {
		logger.Debug("host action ignored",
			logger.String("action", action),
			logger.String("state", string(s.state)),
			logger.Int64("user", s.viewer.ID))
		return nil, false
	}
	return s.att, true
}

// PlayTrack 房主切歌并从头播放
func (s *Session) PlayTrack(ctx context.Context, track model.Track) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	att, ok := s.hostLocked("play_track")
	if !ok {
		s.mu.Unlock()
		return nil
	}
	u := model.SyncUpdate{}.WithTrack(&track).WithProgress(0).WithPlaying(true)
	s.mirror.Apply(u)
	s.mu.Unlock()
	s.notify()

	s.router.BroadcastSync(ctx, att.roomID, u)

	if err := att.el.Load(ctx, track.Src); err != nil {
		logger.Warn("load track failed", logger.String("src", track.Src), logger.ErrorField(err))
		return nil
	}
	if err := att.el.Play(ctx); err != nil {
		logger.Debug("play rejected", logger.ErrorField(err))
	}
	return nil
}

// TogglePlay 房主播放/暂停，同时发布当前观察到的位置
func (s *Session) TogglePlay(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	att, ok := s.hostLocked("toggle_play")
	if !ok || s.mirror.CurrentTrack == nil {
		s.mu.Unlock()
		return nil
	}
	playing := !s.mirror.IsPlaying
	u := model.SyncUpdate{}.WithPlaying(playing).WithProgress(att.el.Position())
	s.mirror.Apply(u)
	s.mu.Unlock()
	s.notify()

	if playing {
		if err := att.el.Play(ctx); err != nil {
			logger.Debug("play rejected", logger.ErrorField(err))
		}
	} else if err := att.el.Pause(); err != nil {
		logger.Debug("pause failed", logger.ErrorField(err))
	}

	s.router.BroadcastSync(ctx, att.roomID, u)
	return nil
}

// Seek 房主跳转
func (s *Session) Seek(ctx context.Context, pos float64) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	att, ok := s.hostLocked("seek")
	if !ok || s.mirror.CurrentTrack == nil {
		s.mu.Unlock()
		return nil
	}
	if pos < 0 {
		pos = 0
	}
	if d := s.mirror.CurrentTrack.Duration; d > 0 && pos > d {
		pos = d
	}
	u := model.SyncUpdate{}.WithProgress(pos)
	s.mirror.Apply(u)
	s.mu.Unlock()
	s.notify()

	if err := att.el.Seek(pos); err != nil {
		logger.Debug("seek failed", logger.ErrorField(err))
	}
	s.router.BroadcastSync(ctx, att.roomID, u)
	return nil
}

// ToggleMic 开关麦克风。设备打开失败时保持关闭且不广播
func (s *Session) ToggleMic(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	att, ok := s.hostLocked("toggle_mic")
	if !ok {
		s.mu.Unlock()
		return nil
	}
	active := s.mirror.IsMicActive
	if active {
		enc := att.encoder
		att.encoder = nil
		u := model.SyncUpdate{}.WithMic(false)
		s.mirror.Apply(u)
		s.mu.Unlock()

		if enc != nil {
			if err := enc.Stop(); err != nil {
				logger.Warn("stop capture failed", logger.ErrorField(err))
			}
		}
		s.notify()
		s.router.BroadcastSync(ctx, att.roomID, u)
		return nil
	}
	s.mu.Unlock()

	if s.devices.NewCapture == nil {
		return fmt.Errorf("开启麦克风失败: no capture device")
	}
	roomID := att.roomID
	enc := voice.NewEncoder(s.devices.NewCapture(), s.chunkInterval, func(chunk string) {
		s.router.BroadcastVoiceChunk(att.ctx, roomID, chunk)
	})
	if err := enc.Start(att.ctx); err != nil {
		logger.Warn("capture unavailable, mic stays off", logger.ErrorField(err))
		return fmt.Errorf("开启麦克风失败: %w", err)
	}

	s.mu.Lock()
	if s.att != att {
		s.mu.Unlock()
		_ = enc.Stop()
		return nil
	}
	att.encoder = enc
	u := model.SyncUpdate{}.WithMic(true)
	s.mirror.Apply(u)
	s.mu.Unlock()

	s.notify()
	s.router.BroadcastSync(ctx, roomID, u)
	return nil
}

// End 房主结束直播
func (s *Session) End(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	att, ok := s.hostLocked("end")
	if !ok {
		s.mu.Unlock()
		return nil
	}
	hb, enc := att.heartbeat, att.encoder
	att.heartbeat, att.encoder = nil, nil
	micWasOn := s.mirror.IsMicActive
	s.mu.Unlock()

	// 先停掉心跳和采集，之后不再有状态广播
	hb.Stop()
	if enc != nil {
		if err := enc.Stop(); err != nil {
			logger.Warn("stop capture failed", logger.ErrorField(err))
		}
	}

	if err := s.dir.End(ctx, att.roomID, s.viewer.ID); err != nil && !errors.Is(err, ErrRoomNotFound) {
		// 记录没删掉，继续直播
		s.mu.Lock()
		if s.att == att {
			att.heartbeat = StartHeartbeat(att.ctx, s.heartbeatInterval, func(ctx context.Context) {
				s.heartbeatTick(ctx, att)
			})
			s.mirror.Apply(model.SyncUpdate{}.WithMic(false))
		}
		s.mu.Unlock()
		if micWasOn {
			s.router.BroadcastSync(ctx, att.roomID, model.SyncUpdate{}.WithMic(false))
		}
		s.notify()
		return fmt.Errorf("结束直播失败: %w", err)
	}

	msg := model.NewSystemMessage(s.viewer, model.MsgCodeRoomEnded, "直播已结束")
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.detachLocked()
	s.state = StateEnded
	s.mu.Unlock()

	s.router.BroadcastMessage(ctx, att.roomID, msg)
	s.release(att)
	s.notify()
	return nil
}

func (s *Session) heartbeatInterval() time.Duration {
	return s.tuning.Get().HeartbeatInterval
}

func (s *Session) heartbeatTick(ctx context.Context, att *attachment) {
	s.mu.Lock()
	if s.att != att || s.state != StateLiveHosting {
		s.mu.Unlock()
		return
	}
	if s.mirror.CurrentTrack != nil {
		s.mirror.Apply(model.SyncUpdate{}.WithProgress(att.el.Position()))
	}
	room := s.mirror.Clone()
	s.mu.Unlock()

	listeners := s.dir.ListenerCount(ctx, room)
	u := model.SnapshotUpdate(room).WithListeners(listeners)

	s.mu.Lock()
	if s.att != att {
		s.mu.Unlock()
		return
	}
	s.mirror.Apply(model.SyncUpdate{}.WithListeners(listeners))
	room = s.mirror.Clone()
	s.mu.Unlock()

	// 暂停或没有曲目时进度不变，只持久化不广播
	if room.IsPlaying && room.CurrentTrack != nil {
		s.router.BroadcastSync(ctx, att.roomID, u)
	}
	s.dir.SaveState(ctx, room)
	s.notify()
}

// ========== 所有角色 ==========

// SendMessage 发送聊天消息，先追加到本地再广播
func (s *Session) SendMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)

	s.mu.Lock()
	switch s.state {
	case StateLiveHosting, StateGated, StateLive:
	default:
		s.mu.Unlock()
		return nil
	}
	if text == "" || s.att == nil {
		s.mu.Unlock()
		return nil
	}
	roomID := s.att.roomID
	msg := model.NewTextMessage(s.viewer, text)
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
	s.notify()

	s.router.BroadcastMessage(ctx, roomID, msg)
	return nil
}

// Resync 听众手动同步，使用更严格的漂移阈值
func (s *Session) Resync(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	att := s.att
	if s.state != StateLive || att == nil {
		s.mu.Unlock()
		return nil
	}
	room := *s.mirror.Clone()
	sentAt := s.lastSentAt
	s.syncing = true
	s.mu.Unlock()
	s.notify()

	_, err := att.sync.Resync(ctx, room, sentAt)

	s.mu.Lock()
	s.syncing = false
	s.mu.Unlock()
	s.notify()

	if err != nil {
		logger.Warn("manual resync failed", logger.String("room", room.ID), logger.ErrorField(err))
	}
	return nil
}

// Leave 离开房间回到列表。房主离开不会结束直播
func (s *Session) Leave(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	switch s.state {
	case StateGated, StateLive, StateLiveHosting:
	default:
		s.mu.Unlock()
		return nil
	}
	wasHost := s.state == StateLiveHosting
	room := s.mirror.Clone()
	att := s.detachLocked()
	s.messages = nil
	s.state = StateBrowsing
	s.mu.Unlock()

	if wasHost {
		if room.CurrentTrack != nil {
			room.CurrentProgress = att.el.Position()
		}
		micWasOn := room.IsMicActive
		room.IsMicActive = false
		s.dir.SaveState(ctx, room)
		// 房主离开后采集停止，听众需要知道麦克风已关闭
		if micWasOn {
			s.router.BroadcastSync(ctx, att.roomID, model.SyncUpdate{}.WithMic(false))
		}
	}
	s.release(att)
	s.notify()
	return nil
}

// Refresh 重新拉取房间快照：房间已不存在时进入 ended，房主变化时立即切换角色
func (s *Session) Refresh(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	att := s.att
	s.mu.Unlock()
	if att == nil {
		return nil
	}

	fresh, err := s.dir.Get(ctx, att.roomID)
	if errors.Is(err, ErrRoomNotFound) {
		s.endLocal(att.roomID)
		return nil
	}
	if err != nil {
		return err
	}

	var stops []func()
	s.mu.Lock()
	if s.att != att {
		s.mu.Unlock()
		return nil
	}
	wasHost := s.mirror.IsHost(s.viewer.ID)
	s.mirror.Title = fresh.Title
	s.mirror.CoverURL = fresh.CoverURL
	s.mirror.HostID = fresh.HostID
	s.mirror.HostName = fresh.HostName
	s.mirror.HostAvatar = fresh.HostAvatar
	s.mirror.Apply(model.SyncUpdate{}.WithListeners(fresh.Listeners))
	nowHost := s.mirror.IsHost(s.viewer.ID)

	switch {
	case !wasHost && nowHost:
		if att.queue != nil {
			stops = append(stops, att.queue.Close)
			att.queue = nil
		}
		s.becomeHostLocked(att)
	case wasHost && nowHost:
	case wasHost && !nowHost:
		hb, enc := att.heartbeat, att.encoder
		att.heartbeat, att.encoder = nil, nil
		stops = append(stops, hb.Stop)
		if enc != nil {
			stops = append(stops, func() { _ = enc.Stop() })
		}
		// 房主身份下已经解锁过声音，直接以听众身份继续收听
		if err := att.player.Unlock(); err != nil {
			logger.Warn("unlock voice player failed", logger.ErrorField(err))
		}
		att.queue = voice.NewQueue(att.player, s.queueLimit)
		s.state = StateLive
		s.spawnReconcileLocked(att, playback.Ambient)
	}
	state := s.state
	s.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
	if wasHost != nowHost {
		logger.Info("room role changed",
			logger.String("room", att.roomID),
			logger.Int64("user", s.viewer.ID),
			logger.Bool("host", nowHost),
			logger.String("state", string(state)))
	}
	s.notify()
	return nil
}

// Close 离开房间并关闭所有观察者
func (s *Session) Close(ctx context.Context) error {
	err := s.Leave(ctx)

	s.opMu.Lock()
	s.mu.Lock()
	s.state = StateClosed
	s.rooms = nil
	s.mu.Unlock()
	s.opMu.Unlock()

	s.watchMu.Lock()
	for ch := range s.watchers {
		delete(s.watchers, ch)
		close(ch)
	}
	s.watchMu.Unlock()
	return err
}

// endLocal 听众被动结束：调用方持有 opMu
func (s *Session) endLocal(roomID string) {
	s.mu.Lock()
	if s.att == nil || s.att.roomID != roomID {
		s.mu.Unlock()
		return
	}
	att := s.detachLocked()
	s.state = StateEnded
	s.mu.Unlock()

	s.release(att)
	logger.Info("room ended for listener",
		logger.String("room", roomID),
		logger.Int64("user", s.viewer.ID))
	s.notify()
}

// ========== 入站事件 ==========

func (s *Session) onMessage(roomID string, msg model.RoomMessage) {
	s.mu.Lock()
	if s.att == nil || s.att.roomID != roomID {
		s.mu.Unlock()
		return
	}
	s.messages = append(s.messages, msg)
	// 只有房主发出的结束通知才生效，其他人发的只当作普通消息
	ended := msg.IsRoomEnded() && msg.UserID == s.mirror.HostID && !s.mirror.IsHost(s.viewer.ID)
	s.mu.Unlock()
	s.notify()

	if ended {
		// 释放资源需要等待路由协程退出，不能在回调里同步执行
		go func() {
			s.opMu.Lock()
			defer s.opMu.Unlock()
			s.endLocal(roomID)
		}()
	}
}

func (s *Session) onSync(roomID string, u model.SyncUpdate) {
	s.mu.Lock()
	att := s.att
	if att == nil || att.roomID != roomID || s.mirror == nil {
		s.mu.Unlock()
		return
	}
	s.mirror.Apply(u)
	if u.SentAt > 0 && u.CurrentProgress != nil {
		s.lastSentAt = u.SentAt
	}
	if s.state == StateLive && !s.mirror.IsHost(s.viewer.ID) {
		s.spawnReconcileLocked(att, playback.Ambient)
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Session) onVoiceChunk(roomID string, chunk string) {
	s.mu.Lock()
	att := s.att
	if att == nil || att.roomID != roomID || s.state != StateLive || att.queue == nil {
		// 未解锁前的语音直接丢弃
		s.mu.Unlock()
		return
	}
	q := att.queue
	s.mu.Unlock()

	_ = q.PushEncoded(chunk)
}
