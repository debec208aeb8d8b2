package model

// Viewer 当前客户端的用户身份（登录由外部服务完成）
type Viewer struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}
