package server

import (
	"net/http"

	"LiveFM/core/auth"
	"LiveFM/core/realtime"
	"LiveFM/logger"

	"github.com/gorilla/websocket"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WSHandler /ws 实时中继入口
type WSHandler struct {
	hub    *realtime.Hub
	tokens *auth.TokenIssuer
}

// NewWSHandler 创建中继入口
func NewWSHandler(hub *realtime.Hub, tokens *auth.TokenIssuer) *WSHandler {
	return &WSHandler{hub: hub, tokens: tokens}
}

// ServeHTTP 校验令牌后升级连接，连接存续期间阻塞
// 浏览器的 WebSocket 不能设置请求头，因此也接受 ?token=
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		var err error
		if token, err = bearerToken(r); err != nil {
			http.Error(w, "缺少认证信息", http.StatusUnauthorized)
			return
		}
	}

	viewer, err := h.tokens.Parse(token)
	if err != nil {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", logger.ErrorField(err))
		return
	}

	client := h.hub.NewClient(conn, *viewer)
	logger.Info("relay connection established",
		logger.String("client", client.ID),
		logger.Int64("userId", viewer.ID),
		logger.String("username", viewer.Name))

	h.hub.Serve(r.Context(), client)

	logger.Info("relay connection closed",
		logger.String("client", client.ID),
		logger.Int64("userId", viewer.ID))
}
