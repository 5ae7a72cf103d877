package service

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/user/katelyatv/internal/model"
	"github.com/user/katelyatv/internal/repository"
)

// 管理员批量设置操作
const (
	SettingsActionUpdate       = "update_settings"
	SettingsActionForceFilter  = "force_filter"
	SettingsActionAllowDisable = "allow_disable"
)

// IsSettingsAction 是否为已知的批量设置操作
func IsSettingsAction(action string) bool {
	switch action {
	case SettingsActionUpdate, SettingsActionForceFilter, SettingsActionAllowDisable:
		return true
	}
	return false
}

// SettingsService 用户偏好设置
type SettingsService struct {
	store    repository.Storage
	owner    string
	validate *validator.Validate
}

func NewSettingsService(store repository.Storage, ownerUsername string, validate *validator.Validate) *SettingsService {
	return &SettingsService{store: store, owner: ownerUsername, validate: validate}
}

// ViewDefaults 尚未保存设置时接口返回的默认值
func ViewDefaults() model.UserSettings {
	s := model.DefaultUserSettings()
	s.AutoPlay = true
	return s
}

// Get 返回已保存的设置，没有则返回 ViewDefaults
func (s *SettingsService) Get(ctx context.Context, username string) (model.UserSettings, error) {
	settings, err := s.store.GetUserSettings(ctx, username)
	if err != nil {
		return model.UserSettings{}, fmt.Errorf("读取用户设置失败: %w", err)
	}
	if settings == nil {
		return ViewDefaults(), nil
	}
	return *settings, nil
}

func (s *SettingsService) ensureUser(ctx context.Context, username string) error {
	if s.owner != "" && username == s.owner {
		return nil
	}
	exists, err := s.store.UserExists(ctx, username)
	if err != nil {
		return fmt.Errorf("检查用户失败: %w", err)
	}
	if !exists {
		return actionErr(http.StatusNotFound, "用户不存在")
	}
	return nil
}

// Patch 用户自己修改设置（浅合并）
// 管理员锁定过滤时拒绝关闭成人内容过滤，用户不能修改管理字段
func (s *SettingsService) Patch(ctx context.Context, username string, patch model.SettingsPatch) (model.UserSettings, error) {
	if err := s.validate.Struct(patch); err != nil {
		return model.UserSettings{}, actionErr(http.StatusBadRequest, "设置数据格式错误")
	}
	if err := s.ensureUser(ctx, username); err != nil {
		return model.UserSettings{}, err
	}

	patch.CanDisableFilter = nil
	patch.ManagedByAdmin = nil
	if patch.FilterAdultContent != nil && !*patch.FilterAdultContent {
		current, err := s.store.GetUserSettings(ctx, username)
		if err != nil {
			return model.UserSettings{}, fmt.Errorf("读取用户设置失败: %w", err)
		}
		if current != nil && !current.FilterCanBeDisabled() {
			return model.UserSettings{}, actionErr(http.StatusForbidden, "管理员已锁定成人内容过滤")
		}
	}

	merged, err := s.store.UpdateUserSettings(ctx, username, patch)
	if err != nil {
		return model.UserSettings{}, err
	}
	return merged, nil
}

// Replace 整体覆盖设置，管理字段保持原值
func (s *SettingsService) Replace(ctx context.Context, username string, settings model.UserSettings) error {
	if err := s.ensureUser(ctx, username); err != nil {
		return err
	}
	current, err := s.store.GetUserSettings(ctx, username)
	if err != nil {
		return fmt.Errorf("读取用户设置失败: %w", err)
	}
	settings.CanDisableFilter = nil
	settings.ManagedByAdmin = false
	settings.LastFilterChange = ""
	if current != nil {
		settings.CanDisableFilter = current.CanDisableFilter
		settings.ManagedByAdmin = current.ManagedByAdmin
		settings.LastFilterChange = current.LastFilterChange
		if !current.FilterCanBeDisabled() {
			settings.FilterAdultContent = true
		}
	}
	return s.store.SetUserSettings(ctx, username, settings)
}

// AdminApply 站长批量管理用户过滤设置
func (s *SettingsService) AdminApply(ctx context.Context, action, username string, patch model.SettingsPatch) error {
	if username == "" {
		return actionErr(http.StatusBadRequest, "缺少目标用户名")
	}
	current, err := s.store.GetUserSettings(ctx, username)
	if err != nil {
		return fmt.Errorf("读取用户设置失败: %w", err)
	}

	var next model.UserSettings
	switch action {
	case SettingsActionUpdate:
		if err := s.validate.Struct(patch); err != nil {
			return actionErr(http.StatusBadRequest, "设置数据格式错误")
		}
		next = model.MergeSettings(current, patch)
	case SettingsActionForceFilter:
		next = model.MergeSettings(current, model.SettingsPatch{})
		locked := false
		next.FilterAdultContent = true
		next.CanDisableFilter = &locked
		next.ManagedByAdmin = true
	case SettingsActionAllowDisable:
		next = model.MergeSettings(current, model.SettingsPatch{})
		allowed := true
		next.CanDisableFilter = &allowed
		next.ManagedByAdmin = false
	default:
		return actionErr(http.StatusBadRequest, "未知操作")
	}

	next.LastFilterChange = time.Now().UTC().Format(time.RFC3339Nano)
	return s.store.SetUserSettings(ctx, username, next)
}
