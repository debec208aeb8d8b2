package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"LiveFM/cache"
	"LiveFM/config"
	"LiveFM/core/auth"
	"LiveFM/core/realtime"
	"LiveFM/core/room"
	"LiveFM/db"
	"LiveFM/logger"
	"LiveFM/model"
	"LiveFM/repository"
	"LiveFM/storage"

	"github.com/gorilla/mux"
)

// memoryBlobPrefix 未配置 MinIO 时封面由本服务提供
const memoryBlobPrefix = "/blobs/"

// Deps 服务依赖
type Deps struct {
	Directory *room.Directory
	Hub       *realtime.Hub
	Tokens    *auth.TokenIssuer
	Tuning    *config.TuningStore
	// Blobs 为进程内存储时通过 /blobs/ 对外提供
	Blobs *storage.MemoryStore
}

// Server HTTP 服务：房间目录 REST + /ws 实时中继
type Server struct {
	deps   Deps
	router *mux.Router
}

// New 创建服务并注册路由
func New(deps Deps) *Server {
	s := &Server{deps: deps, router: mux.NewRouter()}
	s.routes()
	return s
}

// Handler 返回根路由
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.Use(corsMiddleware)

	rooms := NewRoomHandler(s.deps.Directory, s.deps.Hub)
	authMiddleware := AuthMiddleware(s.deps.Tokens)

	s.router.HandleFunc("/api/token", s.IssueTokenHandler).Methods(http.MethodPost)
	s.router.HandleFunc("/api/sync/tuning", s.TuningHandler).Methods(http.MethodGet)
	RegisterRoomRoutes(s.router, rooms, authMiddleware)

	ws := NewWSHandler(s.deps.Hub, s.deps.Tokens)
	s.router.HandleFunc("/ws", ws.ServeHTTP).Methods(http.MethodGet)

	if s.deps.Blobs != nil {
		s.router.PathPrefix(memoryBlobPrefix).HandlerFunc(s.blobHandler)
	}
}

// corsMiddleware 允许浏览器端跨域访问
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) blobHandler(w http.ResponseWriter, r *http.Request) {
	objectPath := strings.TrimPrefix(r.URL.Path, memoryBlobPrefix)
	data, ok := s.deps.Blobs.Get(objectPath)
	if !ok {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = w.Write(data)
}

// Start 连接基础设施并启动 HTTP 服务，收到 SIGINT/SIGTERM 后优雅退出
// MySQL、Redis、MinIO 不可用时分别退化为进程内实现
func Start(cfg *config.Config) error {
	ctx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// 行存储
	var repo repository.RoomRepository
	if err := db.ConnectGormDB(cfg); err != nil {
		logger.Warn("MySQL unavailable, rooms are kept in memory", logger.ErrorField(err))
		repo = repository.NewMemoryRoomRepository()
	} else {
		defer db.CloseGormDB()
		if err := db.AutoMigrateModels(&model.Room{}); err != nil {
			return err
		}
		repo = repository.NewGormRoomRepository(db.GormDB)
	}

	// 在线状态与多实例广播
	var hubOpts []realtime.HubOption
	var presence room.Presence
	if cfg.RedisEnabled {
		if err := cache.ConnectRedis(cfg); err != nil {
			logger.Warn("Redis unavailable, running single instance without presence", logger.ErrorField(err))
		} else {
			defer cache.CloseRedis()
			roomCache := cache.NewRoomCache(cache.RedisClient)
			presence = roomCache
			hubOpts = append(hubOpts, realtime.WithBackplane(cache.RedisClient), realtime.WithPresence(roomCache))
			logger.Info("Redis connected", logger.String("addr", cfg.RedisAddr()))
		}
	}

	// 封面存储
	deps := Deps{
		Tokens: auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL),
		Tuning: config.NewTuningStore(cfg.Sync),
	}
	var blobs storage.BlobStore
	if cfg.MinioEndpoint != "" {
		store, err := storage.NewMinioStore(ctx, cfg)
		if err != nil {
			return err
		}
		blobs = store
	} else {
		mem := storage.NewMemoryStore(strings.TrimSuffix(memoryBlobPrefix, "/"))
		deps.Blobs = mem
		blobs = mem
		logger.Warn("MINIO_ENDPOINT not set, covers are kept in memory")
	}

	if cfg.SyncTuningFile != "" {
		if err := config.WatchTuning(ctx, cfg.SyncTuningFile, deps.Tuning, func(t config.SyncTuning) {
			logger.Info("sync tuning reloaded",
				logger.Duration("heartbeat", t.HeartbeatInterval),
				logger.Float64("heartbeat_drift", t.HeartbeatDrift),
				logger.Float64("manual_drift", t.ManualDrift))
		}); err != nil {
			logger.Warn("sync tuning watcher not started", logger.ErrorField(err))
		}
	}

	deps.Directory = room.NewDirectory(repo, blobs, presence)
	deps.Hub = realtime.NewHub(hubOpts...)
	go deps.Hub.Run(ctx)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      New(deps).Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", logger.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	deps.Hub.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
