package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/user/katelyatv/internal/config"
	"github.com/user/katelyatv/internal/utils"
)

// AuthCookieName 登录状态 Cookie
const AuthCookieName = "auth"

// AuthCookieMaxAge 7 天
const AuthCookieMaxAge = 7 * 24 * 3600

// 上下文键
const (
	ctxUsername = "username"
	ctxRole     = "role"
	ctxVerified = "auth_verified"
)

var errNoCredential = errors.New("no credential")

// Claims JWT 声明
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// AuthInfo auth Cookie 的内容（URL 编码的 JSON）
type AuthInfo struct {
	Role      string `json:"role"`
	Username  string `json:"username,omitempty"`
	Signature string `json:"signature,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Password  string `json:"password,omitempty"`
}

// signingKey 签名密钥：AUTH_PASSWORD，未配置时退回 APP_SECRET
func signingKey(cfg *config.Config) string {
	if cfg.AuthPassword != "" {
		return cfg.AuthPassword
	}
	return cfg.AppSecret
}

// Sign hex(HMAC-SHA256(key, username))
func Sign(username, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(username))
	return hex.EncodeToString(mac.Sum(nil))
}

// NewAuthInfo 生成服务端账户模式下的 Cookie 内容
func NewAuthInfo(cfg *config.Config, username, role string) AuthInfo {
	return AuthInfo{
		Role:      role,
		Username:  username,
		Signature: Sign(username, signingKey(cfg)),
		Timestamp: time.Now().UnixMilli(),
	}
}

// SetAuthCookie 写入 auth Cookie（SameSite=Lax，客户端脚本可读）
func SetAuthCookie(c *gin.Context, info AuthInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	c.SetSameSite(http.SameSiteLaxMode)
	// gin 会对值做 URL 编码
	c.SetCookie(AuthCookieName, string(data), AuthCookieMaxAge, "/", "", false, false)
	return nil
}

// ClearAuthCookie 清除 auth Cookie
func ClearAuthCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(AuthCookieName, "", -1, "/", "", false, false)
}

// ParseAuthCookie 解析 Cookie 值，兼容已解码和未解码两种形式
func ParseAuthCookie(raw string) (*AuthInfo, error) {
	if raw == "" {
		return nil, errNoCredential
	}
	if !strings.HasPrefix(raw, "{") {
		decoded, err := url.QueryUnescape(raw)
		if err != nil {
			return nil, err
		}
		raw = decoded
	}
	var info AuthInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// VerifyAuthInfo 校验 Cookie：localstorage 模式比对访问密码，否则校验用户名签名
func VerifyAuthInfo(cfg *config.Config, info *AuthInfo) bool {
	if info == nil {
		return false
	}
	if !cfg.HasServerAccounts() {
		if cfg.AuthPassword == "" {
			return true
		}
		return hmac.Equal([]byte(info.Password), []byte(cfg.AuthPassword))
	}
	if info.Username == "" || info.Signature == "" {
		return false
	}
	return hmac.Equal([]byte(info.Signature), []byte(Sign(info.Username, signingKey(cfg))))
}

// GenerateToken 生成 JWT Token
func GenerateToken(username, role, jwtSecret string, expiry time.Duration) (string, error) {
	claims := &Claims{
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(jwtSecret))
}

// ParseToken 解析并校验 JWT
func ParseToken(tokenString, jwtSecret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(jwtSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Username == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// BearerToken 提取 Authorization: Bearer 后的内容
func BearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
}

type identity struct {
	username string
	role     string
	verified bool
}

// resolveIdentity 依次尝试 auth Cookie、Bearer JWT、Bearer 明文用户名（兼容旧客户端）
func resolveIdentity(c *gin.Context, cfg *config.Config) (*identity, error) {
	if raw, err := c.Cookie(AuthCookieName); err == nil && raw != "" {
		if info, err := ParseAuthCookie(raw); err == nil && VerifyAuthInfo(cfg, info) {
			return &identity{username: info.Username, role: info.Role, verified: true}, nil
		}
	}

	token := BearerToken(c)
	if token == "" {
		return nil, errNoCredential
	}
	if claims, err := ParseToken(token, cfg.AppSecret); err == nil {
		return &identity{username: claims.Username, role: claims.Role, verified: true}, nil
	}
	if cfg.LegacyBearerUsername && strings.Count(token, ".") != 2 {
		if name, err := url.QueryUnescape(token); err == nil && name != "" {
			return &identity{username: name}, nil
		}
	}
	return nil, jwt.ErrTokenMalformed
}

func setIdentity(c *gin.Context, id *identity) {
	c.Set(ctxUsername, id.username)
	c.Set(ctxRole, id.role)
	c.Set(ctxVerified, id.verified)
}

// OptionalAuth 可选登录中间件（不强制要求登录）
func OptionalAuth(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if id, err := resolveIdentity(c, cfg); err == nil {
			setIdentity(c, id)
		}
		c.Next()
	}
}

// RequireAuth 必须有用户名，接受旧版明文 Bearer
func RequireAuth(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := resolveIdentity(c, cfg)
		if err != nil || id.username == "" {
			utils.Unauthorized(c, "未授权访问")
			c.Abort()
			return
		}
		setIdentity(c, id)
		c.Next()
	}
}

// RequireVerifiedAuth 必须是签名 Cookie 或 JWT 提供的身份
func RequireVerifiedAuth(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := resolveIdentity(c, cfg)
		if err != nil || !id.verified || id.username == "" {
			utils.Unauthorized(c, "Unauthorized")
			c.Abort()
			return
		}
		setIdentity(c, id)
		c.Next()
	}
}

// GetUsername 从上下文获取用户名（未登录返回空）
func GetUsername(c *gin.Context) string {
	return c.GetString(ctxUsername)
}

// GetRole Cookie 或 Token 中声明的角色，仅用于展示
func GetRole(c *gin.Context) string {
	return c.GetString(ctxRole)
}

// IsVerified 身份是否经过签名校验
func IsVerified(c *gin.Context) bool {
	return c.GetBool(ctxVerified)
}
