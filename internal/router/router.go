package router

import (
	"fmt"
	"html/template"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-contrib/multitemplate"
	"github.com/gin-gonic/gin"
	"github.com/user/katelyatv/internal/handler"
	"github.com/user/katelyatv/internal/metrics"
	"github.com/user/katelyatv/internal/middleware"
)

// RegisterRoutes 注册所有路由
func RegisterRoutes(r *gin.Engine, h *handler.Handler) {
	cfg := h.Config

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	// ==================== 页面 ====================
	pages := r.Group("")
	pages.Use(middleware.OptionalAuth(cfg))
	{
		pages.GET("/", h.Home)
		pages.GET("/search", h.SearchPage)
		pages.GET("/settings", h.SettingsPage)
		pages.GET("/config", h.ConfigPage)
		pages.GET("/login", h.LoginPage)
	}

	// ==================== API ====================
	api := r.Group("/api")
	api.Use(middleware.CORS())
	{
		// OrionTV 等客户端的预检请求
		api.OPTIONS("/*path", func(c *gin.Context) {})

		search := api.Group("")
		search.Use(middleware.OptionalAuth(cfg))
		{
			search.GET("/search", h.ApiSearch)
			search.GET("/search/resources", h.ApiSearchResources)
			search.GET("/search/one", h.ApiSearchOne)
			search.GET("/detail", h.ApiDetail)
			search.GET("/tvbox", h.ApiTVBox)
			search.POST("/skip-configs", h.SkipConfigs)
		}

		limiter := middleware.NewRateLimiter(cfg.LoginRatePerMin)
		api.POST("/login", limiter.Middleware(), h.Login)
		api.POST("/register", limiter.Middleware(), h.Register)
		api.POST("/logout", h.Logout)

		settings := api.Group("/user/settings")
		settings.Use(middleware.RequireAuth(cfg))
		{
			settings.GET("", h.GetUserSettings)
			settings.PATCH("", h.PatchUserSettings)
			settings.PUT("", h.PutUserSettings)
		}

		admin := api.Group("/admin")
		admin.Use(middleware.RequireVerifiedAuth(cfg))
		{
			admin.POST("/user", h.AdminUserAction)
			admin.GET("/users", h.AdminListUsers)
			admin.POST("/users", h.AdminUpdateUserSettings)
		}
	}
}

// LoadTemplates 使用 multitemplate 加载模板，解决模板继承问题
func LoadTemplates(templatesDir string) multitemplate.Renderer {
	r := multitemplate.NewRenderer()

	// 获取布局和局部模板
	layouts, err := filepath.Glob(templatesDir + "/layouts/*.html")
	if err != nil {
		panic(err)
	}

	partials, err := filepath.Glob(templatesDir + "/partials/*.html")
	if err != nil {
		panic(err)
	}

	// 组装模板文件列表
	assemble := func(view string) []string {
		files := make([]string, 0)
		files = append(files, layouts...)
		files = append(files, partials...)
		files = append(files, view)
		return files
	}

	for _, page := range []string{"home", "search", "settings", "config", "login"} {
		viewPath := templatesDir + "/pages/" + page + ".html"
		r.AddFromFilesFuncs(page+".html", FuncMap(), assemble(viewPath)...)
	}

	return r
}

// FuncMap 模板函数
func FuncMap() template.FuncMap {
	return template.FuncMap{
		"dict": func(values ...interface{}) (map[string]interface{}, error) {
			if len(values)%2 != 0 {
				return nil, fmt.Errorf("invalid dict call")
			}
			dict := make(map[string]interface{}, len(values)/2)
			for i := 0; i < len(values); i += 2 {
				key, ok := values[i].(string)
				if !ok {
					return nil, fmt.Errorf("dict keys must be strings")
				}
				dict[key] = values[i+1]
			}
			return dict, nil
		},
		"default": func(defaultValue, value interface{}) interface{} {
			switch v := value.(type) {
			case string:
				if v == "" {
					return defaultValue
				}
			case int:
				if v == 0 {
					return defaultValue
				}
			case nil:
				return defaultValue
			}
			return value
		},
		"join": strings.Join,
		// episodeLabel 第 n 集（从 1 开始）
		"episodeLabel": func(i int) string {
			return fmt.Sprintf("第%d集", i+1)
		},
	}
}
