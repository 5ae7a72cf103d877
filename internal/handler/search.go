package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/user/katelyatv/internal/middleware"
	"github.com/user/katelyatv/internal/model"
	"github.com/user/katelyatv/internal/service"
	"github.com/user/katelyatv/internal/utils"
)

// searchResponse 成人内容在选源阶段已排除，adult_results 始终为空
type searchResponse struct {
	RegularResults []model.SearchResult `json:"regular_results"`
	AdultResults   []model.SearchResult `json:"adult_results"`
	Error          string               `json:"error,omitempty"`
}

// ApiSearch 聚合搜索
// GET /api/search?q=&user=&include_adult=true
func (h *Handler) ApiSearch(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	cacheTime := h.SearchService.Registry().CacheTime()

	if query == "" {
		utils.PublicCache(c, cacheTime)
		c.JSON(http.StatusOK, searchResponse{RegularResults: []model.SearchResult{}, AdultResults: []model.SearchResult{}})
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("[ApiSearch] 搜索 %q 异常: %v", query, r)
			c.JSON(http.StatusInternalServerError, searchResponse{
				RegularResults: []model.SearchResult{},
				AdultResults:   []model.SearchResult{},
				Error:          "搜索失败",
			})
		}
	}()

	results := h.SearchService.Search(c.Request.Context(), query, h.requestFilter(c))

	utils.PublicCache(c, cacheTime)
	c.JSON(http.StatusOK, searchResponse{RegularResults: results, AdultResults: []model.SearchResult{}})
}

// requestFilter 本次请求是否过滤成人资源站，用户取 user 参数或登录身份
func (h *Handler) requestFilter(c *gin.Context) bool {
	username := c.Query("user")
	if username == "" {
		username = middleware.GetUsername(c)
	}
	return h.SearchService.ResolveFilter(c.Request.Context(), username, c.Query("include_adult") == "true")
}

// ApiSearchResources 返回完整资源站列表（不过滤）
func (h *Handler) ApiSearchResources(c *gin.Context) {
	utils.PublicCache(c, h.SearchService.Registry().CacheTime())
	c.JSON(http.StatusOK, h.SearchService.Registry().Sources())
}

// ApiSearchOne 单个资源站精确标题搜索（OrionTV 兼容）
func (h *Handler) ApiSearchOne(c *gin.Context) {
	query := c.Query("q")
	resourceID := c.Query("resourceId")
	cacheTime := h.SearchService.Registry().CacheTime()

	if query == "" || resourceID == "" {
		utils.PublicCache(c, cacheTime)
		c.JSON(http.StatusOK, gin.H{"result": nil, "error": "缺少必要参数: q 或 resourceId"})
		return
	}

	results, err := h.SearchService.SearchOne(c.Request.Context(), resourceID, query, h.requestFilter(c))
	if errors.Is(err, service.ErrSourceNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("未找到指定的视频源: %s", resourceID), "result": nil})
		return
	}
	if err != nil {
		log.WithError(err).Warnf("[ApiSearchOne] %s 搜索失败", resourceID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "搜索失败", "result": nil})
		return
	}
	if len(results) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "未找到结果", "result": nil})
		return
	}

	utils.PublicCache(c, cacheTime)
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// ApiDetail 单个视频详情
// GET /api/detail?source=&id=
func (h *Handler) ApiDetail(c *gin.Context) {
	source := c.Query("source")
	id := c.Query("id")
	if source == "" || id == "" {
		utils.BadRequest(c, "缺少必要参数: source 或 id")
		return
	}

	detail, err := h.SearchService.GetDetail(c.Request.Context(), source, id, h.requestFilter(c))
	if errors.Is(err, service.ErrSourceNotFound) {
		utils.NotFound(c, "未找到指定的视频源: "+source)
		return
	}
	if err != nil {
		log.WithError(err).Warnf("[ApiDetail] %s/%s 获取详情失败", source, id)
		utils.InternalServerError(c, "获取详情失败")
		return
	}
	if detail == nil {
		utils.NotFound(c, "未找到该视频")
		return
	}

	utils.PublicCache(c, h.SearchService.Registry().CacheTime())
	c.JSON(http.StatusOK, detail)
}

// ApiTVBox TVBox 订阅配置
// GET /api/tvbox?format=json|txt
func (h *Handler) ApiTVBox(c *gin.Context) {
	cfg, err := service.BuildTVBoxConfig(h.SearchService.Registry().Sources(), baseURL(c), h.Config.SiteName)
	if errors.Is(err, service.ErrNoSources) {
		utils.InternalServerError(c, "没有配置任何视频源")
		return
	}
	if err != nil {
		respondError(c, err, "TVBox配置生成失败")
		return
	}

	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Cache-Control", "public, max-age=3600")

	if c.DefaultQuery("format", "json") == "txt" {
		encoded, err := service.EncodeTVBoxBase64(cfg)
		if err != nil {
			respondError(c, err, "TVBox配置生成失败")
			return
		}
		c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(encoded))
		return
	}

	data, err := service.EncodeTVBoxJSON(cfg)
	if err != nil {
		respondError(c, err, "TVBox配置生成失败")
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}
