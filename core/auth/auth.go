// Package auth 签发与校验访问令牌
// 登录本身由外部服务完成，这里只把已确认的用户身份封装成 JWT
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"LiveFM/model"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken 令牌无效或已过期
var ErrInvalidToken = errors.New("auth: invalid token")

const issuer = "livefm"

// Claims 令牌载荷
type Claims struct {
	UserID   int64  `json:"uid"`
	Username string `json:"name"`
	Avatar   string `json:"avatar,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer HS256 令牌
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer ttl <= 0 时令牌有效期为 24 小时
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue 为用户签发令牌
func (i *TokenIssuer) Issue(viewer model.Viewer) (string, error) {
	if viewer.ID <= 0 {
		return "", fmt.Errorf("invalid user id %d", viewer.ID)
	}

	now := i.now()
	claims := Claims{
		UserID:   viewer.ID,
		Username: viewer.Name,
		Avatar:   viewer.Avatar,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   strconv.FormatInt(viewer.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// Parse 校验令牌并返回用户身份
func (i *TokenIssuer) Parse(tokenString string) (*model.Viewer, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID <= 0 {
		return nil, fmt.Errorf("%w: missing user id", ErrInvalidToken)
	}

	return &model.Viewer{
		ID:     claims.UserID,
		Name:   claims.Username,
		Avatar: claims.Avatar,
	}, nil
}
