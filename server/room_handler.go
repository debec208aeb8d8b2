package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"LiveFM/core/realtime"
	"LiveFM/core/room"
	"LiveFM/logger"
	"LiveFM/model"

	"github.com/gorilla/mux"
)

const maxCoverSize = 5 << 20

// RoomHandler 房间目录 HTTP 处理器
type RoomHandler struct {
	dir *room.Directory
	hub *realtime.Hub
}

// NewRoomHandler 创建房间处理器，hub 用于通知房间结束
func NewRoomHandler(dir *room.Directory, hub *realtime.Hub) *RoomHandler {
	return &RoomHandler{dir: dir, hub: hub}
}

// ========== HTTP 处理器 ==========

// CreateRoomRequest JSON 方式创建房间
type CreateRoomRequest struct {
	Title    string `json:"title"`
	CoverURL string `json:"coverUrl,omitempty"`
}

// RoomResponse 单个房间
type RoomResponse struct {
	Room *model.Room `json:"room"`
}

// RoomListResponse 房间列表
type RoomListResponse struct {
	Rooms []*model.Room `json:"rooms"`
}

// CreateRoomHandler 开播。支持 multipart（title + cover 文件）和 JSON 两种请求体
func (h *RoomHandler) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	viewer, ok := ViewerFromContext(ctx)
	if !ok {
		http.Error(w, "未授权", http.StatusUnauthorized)
		return
	}

	var params room.CreateParams
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxCoverSize); err != nil {
			http.Error(w, "无效的表单", http.StatusBadRequest)
			return
		}
		params.Title = r.FormValue("title")

		file, header, err := r.FormFile("cover")
		switch {
		case err == nil:
			defer file.Close()
			if header.Size > maxCoverSize {
				http.Error(w, "封面图片过大", http.StatusRequestEntityTooLarge)
				return
			}
			params.Cover = file
			params.CoverSize = header.Size
			params.CoverName = header.Filename
			params.CoverType = coverContentType(header)
		case errors.Is(err, http.ErrMissingFile):
		default:
			http.Error(w, "读取封面失败", http.StatusBadRequest)
			return
		}
	} else {
		var req CreateRoomRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
			http.Error(w, "无效的请求", http.StatusBadRequest)
			return
		}
		params.Title = req.Title
		params.CoverURL = req.CoverURL
	}

	created, err := h.dir.Create(ctx, viewer, params)
	if errors.Is(err, room.ErrEmptyTitle) {
		http.Error(w, "房间标题不能为空", http.StatusBadRequest)
		return
	}
	if err != nil {
		logger.Error("创建房间失败", logger.ErrorField(err), logger.Int64("userId", viewer.ID))
		http.Error(w, "创建房间失败", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, &RoomResponse{Room: created})
}

func coverContentType(header *multipart.FileHeader) string {
	if ct := header.Header.Get("Content-Type"); strings.HasPrefix(ct, "image/") {
		return ct
	}
	return "image/jpeg"
}

// ListRoomsHandler 开播中的房间，按创建时间倒序
func (h *RoomHandler) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "无效的 limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	rooms, err := h.dir.List(r.Context(), limit)
	if err != nil {
		logger.Error("获取房间列表失败", logger.ErrorField(err))
		http.Error(w, "获取房间列表失败", http.StatusInternalServerError)
		return
	}
	if rooms == nil {
		rooms = []*model.Room{}
	}
	writeJSON(w, http.StatusOK, &RoomListResponse{Rooms: rooms})
}

// GetMyRoomsHandler 当前用户正在主持的房间
func (h *RoomHandler) GetMyRoomsHandler(w http.ResponseWriter, r *http.Request) {
	viewer, ok := ViewerFromContext(r.Context())
	if !ok {
		http.Error(w, "未授权", http.StatusUnauthorized)
		return
	}

	rooms, err := h.dir.List(r.Context(), 0)
	if err != nil {
		logger.Error("获取房间列表失败", logger.ErrorField(err))
		http.Error(w, "获取房间列表失败", http.StatusInternalServerError)
		return
	}
	mine := make([]*model.Room, 0, 1)
	for _, rm := range rooms {
		if rm.IsHost(viewer.ID) {
			mine = append(mine, rm)
		}
	}
	writeJSON(w, http.StatusOK, &RoomListResponse{Rooms: mine})
}

// GetRoomHandler 按ID读取房间快照
func (h *RoomHandler) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["room_id"]

	rm, err := h.dir.Get(r.Context(), roomID)
	if errors.Is(err, room.ErrRoomNotFound) {
		http.Error(w, "房间不存在", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.Error("获取房间失败", logger.ErrorField(err), logger.String("roomId", roomID))
		http.Error(w, "获取房间失败", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, &RoomResponse{Room: rm})
}

// EndRoomHandler 房主结束直播，并通知房间内所有连接
func (h *RoomHandler) EndRoomHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	viewer, ok := ViewerFromContext(ctx)
	if !ok {
		http.Error(w, "未授权", http.StatusUnauthorized)
		return
	}
	roomID := mux.Vars(r)["room_id"]

	err := h.dir.End(ctx, roomID, viewer.ID)
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		http.Error(w, "房间不存在", http.StatusNotFound)
		return
	case errors.Is(err, room.ErrNotHost):
		http.Error(w, "只有房主可以结束直播", http.StatusForbidden)
		return
	case err != nil:
		logger.Error("结束直播失败", logger.ErrorField(err), logger.String("roomId", roomID))
		http.Error(w, "结束直播失败", http.StatusInternalServerError)
		return
	}

	if h.hub != nil {
		msg := model.NewSystemMessage(viewer, model.MsgCodeRoomEnded, "直播已结束")
		if err := h.hub.Publish(ctx, model.RoomTopic(roomID), model.EventMessage, msg); err != nil {
			logger.Warn("通知房间结束失败", logger.ErrorField(err), logger.String("roomId", roomID))
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// RegisterRoomRoutes 注册房间相关路由
func RegisterRoomRoutes(router *mux.Router, handler *RoomHandler, authMiddleware func(http.HandlerFunc) http.HandlerFunc) {
	router.HandleFunc("/api/rooms", handler.ListRoomsHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/rooms", authMiddleware(handler.CreateRoomHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/rooms/my", authMiddleware(handler.GetMyRoomsHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/rooms/{room_id}", handler.GetRoomHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/rooms/{room_id}", authMiddleware(handler.EndRoomHandler)).Methods(http.MethodDelete)

	logger.Debug("房间 API 端点注册完成",
		logger.String("endpoints", "GET/POST /api/rooms, GET /api/rooms/my, GET/DELETE /api/rooms/{id}"))
}
