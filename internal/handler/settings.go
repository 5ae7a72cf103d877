package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/user/katelyatv/internal/middleware"
	"github.com/user/katelyatv/internal/model"
	"github.com/user/katelyatv/internal/utils"
)

// GetUserSettings 读取当前用户设置，未保存时返回默认值
func (h *Handler) GetUserSettings(c *gin.Context) {
	settings, err := h.SettingsService.Get(c.Request.Context(), middleware.GetUsername(c))
	if err != nil {
		respondError(c, err, "获取用户设置失败")
		return
	}

	utils.NoStore(c)
	c.JSON(http.StatusOK, gin.H{"settings": settings})
}

// PatchUserSettings 部分更新
func (h *Handler) PatchUserSettings(c *gin.Context) {
	var body struct {
		Settings *model.SettingsPatch `json:"settings"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Settings == nil {
		utils.BadRequest(c, "设置数据不能为空")
		return
	}

	merged, err := h.SettingsService.Patch(c.Request.Context(), middleware.GetUsername(c), *body.Settings)
	if err != nil {
		respondError(c, err, "更新用户设置失败")
		return
	}

	utils.NoStore(c)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "设置更新成功", "settings": merged})
}

// PutUserSettings 整体替换
func (h *Handler) PutUserSettings(c *gin.Context) {
	var body struct {
		Settings *model.UserSettings `json:"settings"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Settings == nil {
		utils.BadRequest(c, "设置数据不能为空")
		return
	}

	if err := h.SettingsService.Replace(c.Request.Context(), middleware.GetUsername(c), *body.Settings); err != nil {
		respondError(c, err, "重置用户设置失败")
		return
	}

	utils.NoStore(c)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "设置已重置"})
}
