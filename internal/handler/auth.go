package handler

import (
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/user/katelyatv/internal/metrics"
	"github.com/user/katelyatv/internal/middleware"
	"github.com/user/katelyatv/internal/model"
	"github.com/user/katelyatv/internal/utils"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login 登录
// localstorage 模式只校验访问密码；其余模式校验站长或已注册用户
func (h *Handler) Login(c *gin.Context) {
	var req credentials
	if !h.Config.HasServerAccounts() {
		h.loginWithPassword(c)
		return
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "")
		return
	}
	if req.Username == "" {
		utils.BadRequest(c, "用户名不能为空")
		return
	}
	if req.Password == "" {
		utils.BadRequest(c, "密码不能为空")
		return
	}

	ctx := c.Request.Context()
	if req.Username == h.Config.OwnerUsername && h.Config.OwnerUsername != "" {
		if h.Config.AuthPassword == "" || req.Password != h.Config.AuthPassword {
			metrics.AuthEvents.WithLabelValues("login", "failed").Inc()
			utils.Unauthorized(c, "用户名或密码错误")
			return
		}
		h.issueLogin(c, req.Username, model.RoleOwner)
		return
	}

	entry, err := h.AdminService.UserEntry(ctx, req.Username)
	if err != nil {
		log.WithError(err).Error("[Login] 读取管理配置失败")
		utils.InternalServerError(c, "数据库错误")
		return
	}
	if entry != nil && entry.Banned {
		metrics.AuthEvents.WithLabelValues("login", "banned").Inc()
		utils.Unauthorized(c, "用户被封禁")
		return
	}

	ok, err := h.Store.VerifyUser(ctx, req.Username, req.Password)
	if err != nil {
		log.WithError(err).Error("[Login] 校验用户失败")
		utils.InternalServerError(c, "数据库错误")
		return
	}
	if !ok {
		metrics.AuthEvents.WithLabelValues("login", "failed").Inc()
		utils.Unauthorized(c, "用户名或密码错误")
		return
	}

	role := model.RoleUser
	if entry != nil && entry.Role != "" {
		role = entry.Role
	}
	h.issueLogin(c, req.Username, role)
}

func (h *Handler) loginWithPassword(c *gin.Context) {
	if h.Config.AuthPassword == "" {
		middleware.ClearAuthCookie(c)
		metrics.AuthEvents.WithLabelValues("login", "ok").Inc()
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil || req.Password == "" {
		utils.BadRequest(c, "密码不能为空")
		return
	}
	if req.Password != h.Config.AuthPassword {
		metrics.AuthEvents.WithLabelValues("login", "failed").Inc()
		c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "密码错误"})
		return
	}

	if err := middleware.SetAuthCookie(c, middleware.AuthInfo{Role: string(model.RoleUser), Password: req.Password}); err != nil {
		utils.InternalServerError(c, "")
		return
	}
	metrics.AuthEvents.WithLabelValues("login", "ok").Inc()
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// issueLogin 写入 auth Cookie、页面 Session，并返回 Bearer 客户端使用的 JWT
func (h *Handler) issueLogin(c *gin.Context, username string, role model.Role) {
	if err := middleware.SetAuthCookie(c, middleware.NewAuthInfo(h.Config, username, string(role))); err != nil {
		utils.InternalServerError(c, "登录失败，请重试")
		return
	}

	token, err := middleware.GenerateToken(username, string(role), h.Config.AppSecret, h.Config.JWTExpiry)
	if err != nil {
		log.WithError(err).Error("[Login] 生成 Token 失败")
		utils.InternalServerError(c, "登录失败，请重试")
		return
	}

	// 保存 UserInfo 到 Session
	session := sessions.Default(c)
	session.Set("userinfo", model.SessionUser{Username: username, Role: string(role)})
	if err := session.Save(); err != nil {
		log.WithError(err).Warn("[Login] 保存 Session 失败")
	}

	metrics.AuthEvents.WithLabelValues("login", "ok").Inc()
	c.JSON(http.StatusOK, gin.H{"ok": true, "username": username, "role": role, "token": token})
}

// Register 自助注册
func (h *Handler) Register(c *gin.Context) {
	if !h.Config.HasServerAccounts() {
		utils.BadRequest(c, "当前模式不支持注册")
		return
	}

	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "")
		return
	}

	if err := h.AdminService.RegisterSelf(c.Request.Context(), req.Username, req.Password); err != nil {
		metrics.AuthEvents.WithLabelValues("register", "failed").Inc()
		respondError(c, err, "数据库错误")
		return
	}

	metrics.AuthEvents.WithLabelValues("register", "ok").Inc()
	log.Infof("[Register] 新用户注册: %s", req.Username)
	h.issueLogin(c, req.Username, model.RoleUser)
}

// Logout 登出
func (h *Handler) Logout(c *gin.Context) {
	middleware.ClearAuthCookie(c)

	// 清理 Session
	session := sessions.Default(c)
	session.Clear()
	if err := session.Save(); err != nil {
		log.WithError(err).Warn("[Logout] 清理 Session 失败")
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}
