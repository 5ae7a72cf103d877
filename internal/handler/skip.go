package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/user/katelyatv/internal/middleware"
	"github.com/user/katelyatv/internal/model"
	"github.com/user/katelyatv/internal/utils"
)

type skipRequest struct {
	Action   string                   `json:"action"`
	Key      string                   `json:"key"`
	Config   *model.EpisodeSkipConfig `json:"config"`
	Username string                   `json:"username"`
}

// SkipConfigs 片头片尾跳过配置
// POST /api/skip-configs，action 为 get|set|getAll|delete
func (h *Handler) SkipConfigs(c *gin.Context) {
	var req skipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "")
		return
	}
	if req.Action == "" {
		utils.BadRequest(c, "缺少操作类型")
		return
	}

	// 签名身份优先，其次使用客户端传入的用户名
	username := ""
	if middleware.IsVerified(c) {
		username = middleware.GetUsername(c)
	}
	if username == "" {
		username = req.Username
	}
	if username == "" {
		username = middleware.GetUsername(c)
	}
	if username == "" {
		utils.Unauthorized(c, "用户未登录")
		return
	}

	ctx := c.Request.Context()
	switch req.Action {
	case "get":
		if req.Key == "" {
			utils.BadRequest(c, "缺少配置键")
			return
		}
		cfg, err := h.SkipService.Get(ctx, username, req.Key)
		if err != nil {
			respondError(c, err, "服务器内部错误")
			return
		}
		c.JSON(http.StatusOK, gin.H{"config": cfg})

	case "set":
		if req.Key == "" || req.Config == nil {
			utils.BadRequest(c, "缺少配置键或配置数据")
			return
		}
		if err := h.SkipService.Set(ctx, username, req.Key, req.Config); err != nil {
			respondError(c, err, "服务器内部错误")
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})

	case "getAll":
		configs, err := h.SkipService.GetAll(ctx, username)
		if err != nil {
			respondError(c, err, "服务器内部错误")
			return
		}
		if configs == nil {
			configs = map[string]model.EpisodeSkipConfig{}
		}
		c.JSON(http.StatusOK, gin.H{"configs": configs})

	case "delete":
		if req.Key == "" {
			utils.BadRequest(c, "缺少配置键")
			return
		}
		if err := h.SkipService.Delete(ctx, username, req.Key); err != nil {
			respondError(c, err, "服务器内部错误")
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})

	default:
		utils.BadRequest(c, "不支持的操作类型")
	}
}
