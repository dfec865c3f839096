package app

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultTokenIssuer 默认 Token 签发者
	DefaultTokenIssuer = "vm-backup-service"
	// DefaultTokenExpiry 默认 Token 有效期
	DefaultTokenExpiry = 7 * 24 * time.Hour
	// TokenClaimsKey gin.Context 中存储令牌声明的键
	TokenClaimsKey = "user_token"
)

// ErrTokenExpired is returned by Parse for a well signed token past its expiry
// ErrTokenExpired 签名正确但已过期的令牌
var ErrTokenExpired = errors.New("token expired")

// TokenConfig 定义 Token 管理器的配置
type TokenConfig struct {
	SecretKey string        // JWT 签名密钥
	Expiry    time.Duration // Token 有效期
	Issuer    string        // Token 签发者
}

// TokenManager signs and verifies API tokens
// TokenManager 签发与校验 API 令牌
type TokenManager interface {
	Generate(uid int64, name, ip string) (string, error)
	Parse(token string) (*TokenClaims, error)
	Validate(token string) error
}

// TokenClaims identifies the user a token was issued to, groups are resolved per request
// TokenClaims 令牌声明，组信息在每次请求时解析
type TokenClaims struct {
	UID  int64  `json:"uid"`
	Name string `json:"name"`
	IP   string `json:"ip"`
	jwt.RegisteredClaims
}

type tokenManager struct {
	config TokenConfig
	now    func() time.Time
}

// NewTokenManager 创建 TokenManager，未设置的字段使用默认值
func NewTokenManager(cfg TokenConfig) TokenManager {
	if cfg.Expiry == 0 {
		cfg.Expiry = DefaultTokenExpiry
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultTokenIssuer
	}
	return &tokenManager{config: cfg, now: time.Now}
}

func (t *tokenManager) Generate(uid int64, name, ip string) (string, error) {
	now := t.now()
	claims := &TokenClaims{
		UID:  uid,
		Name: name,
		IP:   ip,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.config.Issuer,
			Subject:   strconv.FormatInt(uid, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.config.Expiry)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(t.config.SecretKey))
}

// Parse verifies signature, issuer and lifetime; an expired token yields ErrTokenExpired
// Parse 校验签名、签发者与有效期，过期时返回 ErrTokenExpired
func (t *tokenManager) Parse(token string) (*TokenClaims, error) {
	claims := &TokenClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(tk *jwt.Token) (interface{}, error) {
		if _, ok := tk.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tk.Header["alg"])
		}
		return []byte(t.config.SecretKey), nil
	},
		jwt.WithIssuer(t.config.Issuer),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	case err != nil:
		return nil, err
	}
	if strconv.FormatInt(claims.UID, 10) != claims.Subject {
		return nil, errors.New("token subject does not match uid")
	}
	return claims, nil
}

func (t *tokenManager) Validate(token string) error {
	_, err := t.Parse(token)
	return err
}

// GetUID 返回认证中间件写入的用户 ID，未认证时为 0
func GetUID(ctx *gin.Context) int64 {
	v, ok := ctx.Get(TokenClaimsKey)
	if !ok {
		return 0
	}
	if claims, ok := v.(*TokenClaims); ok {
		return claims.UID
	}
	return 0
}
