package model

// UserSettings 用户偏好设置
type UserSettings struct {
	FilterAdultContent bool   `json:"filter_adult_content"`
	Theme              string `json:"theme"`
	Language           string `json:"language"`
	AutoPlay           bool   `json:"auto_play"`
	VideoQuality       string `json:"video_quality"`

	// 以下字段由管理员操作写入
	CanDisableFilter *bool  `json:"can_disable_filter,omitempty"`
	ManagedByAdmin   bool   `json:"managed_by_admin,omitempty"`
	LastFilterChange string `json:"last_filter_change,omitempty"`
}

// DefaultUserSettings 首次写入时使用的默认设置（默认开启成人内容过滤）
func DefaultUserSettings() UserSettings {
	return UserSettings{
		FilterAdultContent: true,
		Theme:              "auto",
		Language:           "zh-CN",
		AutoPlay:           false,
		VideoQuality:       "auto",
	}
}

// FilterCanBeDisabled 用户是否可以自行关闭过滤，未设置视为允许
func (s *UserSettings) FilterCanBeDisabled() bool {
	return s.CanDisableFilter == nil || *s.CanDisableFilter
}

// SettingsPatch 部分更新，nil 字段保持原值
type SettingsPatch struct {
	FilterAdultContent *bool   `json:"filter_adult_content,omitempty"`
	Theme              *string `json:"theme,omitempty" validate:"omitempty,oneof=auto light dark"`
	Language           *string `json:"language,omitempty" validate:"omitempty,max=16"`
	AutoPlay           *bool   `json:"auto_play,omitempty"`
	VideoQuality       *string `json:"video_quality,omitempty" validate:"omitempty,max=16"`
	CanDisableFilter   *bool   `json:"can_disable_filter,omitempty"`
	ManagedByAdmin     *bool   `json:"managed_by_admin,omitempty"`
}

// MergeSettings 浅合并：patch 覆盖 existing，existing 为空时以默认值为底
func MergeSettings(existing *UserSettings, patch SettingsPatch) UserSettings {
	out := DefaultUserSettings()
	if existing != nil {
		out = *existing
	}
	if patch.FilterAdultContent != nil {
		out.FilterAdultContent = *patch.FilterAdultContent
	}
	if patch.Theme != nil {
		out.Theme = *patch.Theme
	}
	if patch.Language != nil {
		out.Language = *patch.Language
	}
	if patch.AutoPlay != nil {
		out.AutoPlay = *patch.AutoPlay
	}
	if patch.VideoQuality != nil {
		out.VideoQuality = *patch.VideoQuality
	}
	if patch.CanDisableFilter != nil {
		v := *patch.CanDisableFilter
		out.CanDisableFilter = &v
	}
	if patch.ManagedByAdmin != nil {
		out.ManagedByAdmin = *patch.ManagedByAdmin
	}
	return out
}
