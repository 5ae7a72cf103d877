package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"
	"github.com/user/katelyatv/internal/config"
	"github.com/user/katelyatv/internal/middleware"
	"github.com/user/katelyatv/internal/model"
	"github.com/user/katelyatv/internal/repository"
	"github.com/user/katelyatv/internal/service"
	"github.com/user/katelyatv/internal/utils"
)

// Handler HTTP 处理器
type Handler struct {
	Config          *config.Config
	Store           repository.Storage
	SearchService   *service.SearchService
	AdminService    *service.AdminService
	SettingsService *service.SettingsService
	SkipService     *service.SkipService
}

// NewHandler 创建处理器
func NewHandler(cfg *config.Config, store repository.Storage, registry *service.Registry, crawler service.SourceCrawler) *Handler {
	validate := validator.New()

	return &Handler{
		Config:          cfg,
		Store:           store,
		SearchService:   service.NewSearchService(registry, crawler, store, cfg.SearchTimeout),
		AdminService:    service.NewAdminService(store, cfg.OwnerUsername, cfg.EnableRegister),
		SettingsService: service.NewSettingsService(store, cfg.OwnerUsername, validate),
		SkipService:     service.NewSkipService(store, validate),
	}
}

// RenderData 统一封装公共渲染数据
func (h *Handler) RenderData(c *gin.Context, data gin.H) gin.H {
	res := gin.H{
		"SiteName": h.Config.SiteName,
		"SiteUrl":  h.Config.SiteUrl,
		"Path":     c.Request.URL.Path,
	}

	// 注入用户信息
	session := sessions.Default(c)
	if userinfo := session.Get("userinfo"); userinfo != nil {
		if su, ok := userinfo.(model.SessionUser); ok {
			res["UserInfo"] = su
		}
	}

	// 菜单高亮逻辑
	res["ActiveMenu"] = h.getActiveMenu(c.Request.URL.Path)

	for k, v := range data {
		res[k] = v
	}
	return res
}

// getActiveMenu 根据路径判断当前高亮菜单
func (h *Handler) getActiveMenu(path string) string {
	switch path {
	case "/":
		return "home"
	case "/search":
		return "search"
	case "/settings":
		return "settings"
	case "/config":
		return "config"
	default:
		return ""
	}
}

// respondError 业务错误按状态码返回，其余错误记录日志后返回通用 500
func respondError(c *gin.Context, err error, fallback string) {
	var aerr *service.ActionError
	if errors.As(err, &aerr) {
		utils.Error(c, aerr.Status, aerr.Message)
		return
	}
	log.WithError(err).Errorf("[Handler] %s %s 失败", c.Request.Method, c.FullPath())
	utils.InternalServerError(c, fallback)
}

// baseURL 根据代理头推断对外地址
func baseURL(c *gin.Context) string {
	proto := c.GetHeader("X-Forwarded-Proto")
	if proto == "" {
		proto = "http"
	}
	host := c.GetHeader("X-Forwarded-Host")
	if host == "" {
		host = c.Request.Host
	}
	if host == "" {
		host = "localhost:3000"
	}
	return proto + "://" + strings.TrimSuffix(host, "/")
}

// ==================== 页面 ====================

// Home 首页
func (h *Handler) Home(c *gin.Context) {
	c.HTML(http.StatusOK, "home.html", h.RenderData(c, gin.H{
		"Title":   h.Config.SiteName + " - 影视聚合搜索",
		"Sources": h.SearchService.Registry().AvailableSites(true),
	}))
}

// SearchPage 搜索结果页，按 (标题, 年份, 类型) 聚合展示
func (h *Handler) SearchPage(c *gin.Context) {
	keyword := strings.TrimSpace(c.Query("q"))
	if keyword == "" {
		c.Redirect(http.StatusFound, "/")
		return
	}

	ctx := c.Request.Context()
	filter := h.SearchService.ResolveFilter(ctx, middleware.GetUsername(c), c.Query("include_adult") == "true")
	results := h.SearchService.Search(ctx, keyword, filter)

	c.HTML(http.StatusOK, "search.html", h.RenderData(c, gin.H{
		"Title":    keyword + " - 搜索结果 - " + h.Config.SiteName,
		"Keyword":  keyword,
		"Groups":   service.GroupResults(results, keyword),
		"Total":    len(results),
		"Filtered": filter,
	}))
}

// SettingsPage 用户设置页
func (h *Handler) SettingsPage(c *gin.Context) {
	username := middleware.GetUsername(c)
	if username == "" {
		c.Redirect(http.StatusFound, "/login?redirect=/settings")
		return
	}

	settings, err := h.SettingsService.Get(c.Request.Context(), username)
	if err != nil {
		log.WithError(err).Warnf("[SettingsPage] 读取 %s 的设置失败", username)
		settings = service.ViewDefaults()
	}

	c.HTML(http.StatusOK, "settings.html", h.RenderData(c, gin.H{
		"Title":     "设置 - " + h.Config.SiteName,
		"Username":  username,
		"Settings":  settings,
		"CanToggle": settings.FilterCanBeDisabled(),
	}))
}

// ConfigPage TVBox 订阅地址
func (h *Handler) ConfigPage(c *gin.Context) {
	base := baseURL(c)
	c.HTML(http.StatusOK, "config.html", h.RenderData(c, gin.H{
		"Title":     "TVBox 配置 - " + h.Config.SiteName,
		"JSONUrl":   base + "/api/tvbox?format=json",
		"TxtUrl":    base + "/api/tvbox?format=txt",
		"SiteCount": len(h.SearchService.Registry().Sources()),
	}))
}

// LoginPage 登录页面
func (h *Handler) LoginPage(c *gin.Context) {
	if middleware.GetUsername(c) != "" {
		c.Redirect(http.StatusFound, "/")
		return
	}

	allowRegister := false
	if h.Config.HasServerAccounts() {
		if cfg, err := h.AdminService.LoadConfig(c.Request.Context()); err == nil {
			allowRegister = cfg.UserConfig.AllowRegister
		}
	}

	c.HTML(http.StatusOK, "login.html", h.RenderData(c, gin.H{
		"Title":         "登录 - " + h.Config.SiteName,
		"Redirect":      c.Query("redirect"),
		"PasswordOnly":  !h.Config.HasServerAccounts(),
		"AllowRegister": allowRegister,
	}))
}
