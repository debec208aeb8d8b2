package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"LiveFM/core/auth"
	"LiveFM/logger"
	"LiveFM/model"
)

type contextKey struct{}

// viewerKey 请求上下文中的用户身份
var viewerKey = contextKey{}

// WithViewer 把用户身份放入上下文
func WithViewer(ctx context.Context, viewer model.Viewer) context.Context {
	return context.WithValue(ctx, viewerKey, viewer)
}

// ViewerFromContext 读取用户身份
func ViewerFromContext(ctx context.Context) (model.Viewer, bool) {
	viewer, ok := ctx.Value(viewerKey).(model.Viewer)
	return viewer, ok
}

// bearerToken 读取 Authorization: Bearer <token>
func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("authorization header is required")
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", errors.New("invalid authorization header format")
	}
	return parts[1], nil
}

// AuthMiddleware 校验 JWT 并把用户身份写入请求上下文
func AuthMiddleware(tokens *auth.TokenIssuer) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			token, err := bearerToken(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}

			viewer, err := tokens.Parse(token)
			if err != nil {
				logger.Debug("rejected token", logger.ErrorField(err))
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithViewer(r.Context(), *viewer)))
		}
	}
}

// IssueTokenRequest 外部登录完成后换取令牌
type IssueTokenRequest struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// IssueTokenHandler 签发令牌
func (s *Server) IssueTokenHandler(w http.ResponseWriter, r *http.Request) {
	var req IssueTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "无效的请求", http.StatusBadRequest)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.UserID <= 0 || req.Username == "" {
		http.Error(w, "用户ID和用户名不能为空", http.StatusBadRequest)
		return
	}

	viewer := model.Viewer{ID: req.UserID, Name: req.Username, Avatar: req.Avatar}
	token, err := s.deps.Tokens.Issue(viewer)
	if err != nil {
		logger.Error("签发令牌失败", logger.ErrorField(err))
		http.Error(w, "签发令牌失败", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token": token,
		"user":  viewer,
	})
}

// TuningResponse 客户端播放同步参数
type TuningResponse struct {
	HeartbeatIntervalMs    int64   `json:"heartbeatIntervalMs"`
	HeartbeatDrift         float64 `json:"heartbeatDrift"`
	ManualDrift            float64 `json:"manualDrift"`
	MaxLatencyCompensation int64   `json:"maxLatencyCompensationMs"`
}

// TuningHandler 返回当前同步参数，参数文件修改后立即生效
func (s *Server) TuningHandler(w http.ResponseWriter, r *http.Request) {
	t := s.deps.Tuning.Get()
	writeJSON(w, http.StatusOK, &TuningResponse{
		HeartbeatIntervalMs:    t.HeartbeatInterval.Milliseconds(),
		HeartbeatDrift:         t.HeartbeatDrift,
		ManualDrift:            t.ManualDrift,
		MaxLatencyCompensation: t.MaxLatencyCompensation.Milliseconds(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("write response failed", logger.ErrorField(err))
	}
}
