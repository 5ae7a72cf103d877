package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/user/katelyatv/internal/metrics"
	"github.com/user/katelyatv/internal/middleware"
	"github.com/user/katelyatv/internal/model"
	"github.com/user/katelyatv/internal/service"
	"github.com/user/katelyatv/internal/utils"
)

// ==================== 管理后台 ====================

// AdminUserAction 用户生命周期管理
// POST /api/admin/user
func (h *Handler) AdminUserAction(c *gin.Context) {
	if !h.Config.HasServerAccounts() {
		utils.BadRequest(c, "不支持本地存储进行管理员配置")
		return
	}

	var req service.AdminActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "")
		return
	}

	err := h.AdminService.Apply(c.Request.Context(), middleware.GetUsername(c), req)
	metrics.AdminActions.WithLabelValues(actionLabel(req.Action, service.IsAdminAction), adminStatus(err)).Inc()
	if err != nil {
		respondError(c, err, "用户管理操作失败")
		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// actionLabel 指标标签只使用已知操作名，其余归为 unknown
func actionLabel(action string, known func(string) bool) string {
	if known(action) {
		return action
	}
	return "unknown"
}

func adminStatus(err error) string {
	if err == nil {
		return strconv.Itoa(http.StatusOK)
	}
	var aerr *service.ActionError
	if errors.As(err, &aerr) {
		return strconv.Itoa(aerr.Status)
	}
	return strconv.Itoa(http.StatusInternalServerError)
}

// requireOwner 仅站长可访问
func (h *Handler) requireOwner(c *gin.Context) bool {
	if !h.AdminService.IsOwner(middleware.GetUsername(c)) {
		utils.Forbidden(c, "权限不足")
		return false
	}
	return true
}

// AdminListUsers 列出所有用户及其过滤设置（仅站长）
// GET /api/admin/users
func (h *Handler) AdminListUsers(c *gin.Context) {
	if !h.requireOwner(c) {
		return
	}

	users, err := h.AdminService.ListUsers(c.Request.Context())
	if err != nil {
		respondError(c, err, "获取用户列表失败")
		return
	}

	utils.NoStore(c)
	c.JSON(http.StatusOK, gin.H{"users": users, "total": len(users)})
}

// AdminUpdateUserSettings 站长批量管理用户过滤设置
// POST /api/admin/users
func (h *Handler) AdminUpdateUserSettings(c *gin.Context) {
	if !h.requireOwner(c) {
		return
	}

	var body struct {
		Action   string              `json:"action"`
		Username string              `json:"username"`
		Settings model.SettingsPatch `json:"settings"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.BadRequest(c, "")
		return
	}

	err := h.SettingsService.AdminApply(c.Request.Context(), body.Action, body.Username, body.Settings)
	metrics.AdminActions.WithLabelValues(actionLabel(body.Action, service.IsSettingsAction), adminStatus(err)).Inc()
	if err != nil {
		respondError(c, err, "操作失败")
		return
	}

	var message string
	switch body.Action {
	case service.SettingsActionForceFilter:
		message = fmt.Sprintf("已强制开启用户 %s 的成人内容过滤", body.Username)
	case service.SettingsActionAllowDisable:
		message = fmt.Sprintf("已允许用户 %s 自己管理过滤设置", body.Username)
	default:
		message = fmt.Sprintf("已更新用户 %s 的设置", body.Username)
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": message})
}
