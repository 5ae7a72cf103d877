package middleware

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/katelyatv/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serverCfg() *config.Config {
	return &config.Config{
		AppSecret:            "jwt-secret",
		AuthPassword:         "site-password",
		OwnerUsername:        "owner",
		StorageType:          config.StorageRedis,
		LegacyBearerUsername: true,
	}
}

// whoami 返回中间件解析出的身份
func whoami(mw gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.GET("/me", mw, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"username": GetUsername(c), "verified": IsVerified(c)})
	})
	return r
}

func TestSignMatchesHMACSHA256Hex(t *testing.T) {
	// RFC 4231 test case 2
	assert.Equal(t, "5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843", Sign("what do ya want for nothing?", "Jefe"))
	assert.NotEqual(t, Sign("alice", "key"), Sign("alice", "other"))
}

func TestAuthCookieRoundTrip(t *testing.T) {
	cfg := serverCfg()
	r := gin.New()
	r.GET("/login", func(c *gin.Context) {
		require.NoError(t, SetAuthCookie(c, NewAuthInfo(cfg, "alice", "user")))
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/login", nil))
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	ck := cookies[0]
	assert.Equal(t, AuthCookieName, ck.Name)
	assert.Equal(t, "/", ck.Path)
	assert.Equal(t, AuthCookieMaxAge, ck.MaxAge)
	assert.False(t, ck.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, ck.SameSite)

	info, err := ParseAuthCookie(ck.Value)
	require.NoError(t, err)
	assert.Equal(t, "alice", info.Username)
	assert.Equal(t, "user", info.Role)
	assert.Equal(t, Sign("alice", "site-password"), info.Signature)
	assert.True(t, VerifyAuthInfo(cfg, info))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(ck)
	w = httptest.NewRecorder()
	whoami(RequireVerifiedAuth(cfg)).ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"username":"alice","verified":true}`, w.Body.String())
}

func TestForgedCookieRejected(t *testing.T) {
	cfg := serverCfg()
	forged := `{"role":"owner","username":"owner","signature":"deadbeef"}`
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: AuthCookieName, Value: url.QueryEscape(forged)})

	w := httptest.NewRecorder()
	whoami(RequireVerifiedAuth(cfg)).ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLocalStorageCookieChecksPassword(t *testing.T) {
	cfg := serverCfg()
	cfg.StorageType = config.StorageLocal

	assert.True(t, VerifyAuthInfo(cfg, &AuthInfo{Role: "user", Password: "site-password"}))
	assert.False(t, VerifyAuthInfo(cfg, &AuthInfo{Role: "user", Password: "guess"}))

	cfg.AuthPassword = ""
	assert.True(t, VerifyAuthInfo(cfg, &AuthInfo{Role: "user"}))
}

func TestBearerJWT(t *testing.T) {
	cfg := serverCfg()
	token, err := GenerateToken("bob", "user", cfg.AppSecret, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	whoami(RequireVerifiedAuth(cfg)).ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"username":"bob","verified":true}`, w.Body.String())

	expired, err := GenerateToken("bob", "user", cfg.AppSecret, -time.Minute)
	require.NoError(t, err)
	_, err = ParseToken(expired, cfg.AppSecret)
	assert.Error(t, err)

	_, err = ParseToken(token, "other-secret")
	assert.Error(t, err)
}

func TestLegacyBearerUsername(t *testing.T) {
	cfg := serverCfg()

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+url.QueryEscape("张三"))
	w := httptest.NewRecorder()
	whoami(RequireAuth(cfg)).ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"username":"张三","verified":false}`, w.Body.String())

	// 明文用户名不能通过签名校验
	w = httptest.NewRecorder()
	whoami(RequireVerifiedAuth(cfg)).ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	cfg.LegacyBearerUsername = false
	w = httptest.NewRecorder()
	whoami(RequireAuth(cfg)).ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOptionalAuthAnonymous(t *testing.T) {
	w := httptest.NewRecorder()
	whoami(OptionalAuth(serverCfg())).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"username":"","verified":false}`, w.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	r := gin.New()
	r.Use(CORS())
	r.GET("/api/search", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/search", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "PATCH")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/search", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2)
	assert.True(t, rl.Allow("1.1.1.1"))
	assert.True(t, rl.Allow("1.1.1.1"))
	assert.False(t, rl.Allow("1.1.1.1"))
	assert.True(t, rl.Allow("2.2.2.2"))

	unlimited := NewRateLimiter(0)
	for i := 0; i < 100; i++ {
		assert.True(t, unlimited.Allow("x"))
	}

	r := gin.New()
	r.POST("/api/login", NewRateLimiter(1).Middleware(), func(c *gin.Context) { c.Status(http.StatusOK) })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/login", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/login", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
