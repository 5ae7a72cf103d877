package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/user/katelyatv/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type userRow struct {
	Username     string `gorm:"primaryKey;size:64"`
	PasswordHash string `gorm:"not null"`
	CreatedAt    time.Time
}

func (userRow) TableName() string { return "users" }

type settingsRow struct {
	Username  string `gorm:"primaryKey;size:64"`
	Data      string `gorm:"type:jsonb;not null"`
	UpdatedAt time.Time
}

func (settingsRow) TableName() string { return "user_settings" }

type skipConfigRow struct {
	Username  string `gorm:"primaryKey;size:64"`
	ConfigKey string `gorm:"primaryKey;size:255"`
	Data      string `gorm:"type:jsonb;not null"`
	UpdatedAt time.Time
}

func (skipConfigRow) TableName() string { return "skip_configs" }

type adminConfigRow struct {
	ID        int    `gorm:"primaryKey"`
	Version   int64  `gorm:"not null"`
	Data      string `gorm:"type:jsonb;not null"`
	UpdatedAt time.Time
}

func (adminConfigRow) TableName() string { return "admin_config" }

const adminConfigRowID = 1

// PostgresStore 基于 gorm 的存储，管理配置使用 version 列做 CAS
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore 创建存储并迁移表结构
func NewPostgresStore(db *gorm.DB) (*PostgresStore, error) {
	if err := db.AutoMigrate(&userRow{}, &settingsRow{}, &skipConfigRow{}, &adminConfigRow{}); err != nil {
		return nil, fmt.Errorf("迁移表结构失败: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) RegisterUser(ctx context.Context, username, password string) error {
	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&userRow{
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    time.Now(),
	})
	if res.Error != nil {
		return fmt.Errorf("注册用户失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrUserExists
	}
	return nil
}

func (s *PostgresStore) VerifyUser(ctx context.Context, username, password string) (bool, error) {
	var row userRow
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("读取用户失败: %w", err)
	}
	return checkPassword(row.PasswordHash, password), nil
}

func (s *PostgresStore) UserExists(ctx context.Context, username string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&userRow{}).Where("username = ?", username).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("检查用户失败: %w", err)
	}
	return count > 0, nil
}

func (s *PostgresStore) ChangePassword(ctx context.Context, username, newPassword string) error {
	hash, err := hashPassword(newPassword)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&userRow{}).Where("username = ?", username).Update("password_hash", hash)
	if res.Error != nil {
		return fmt.Errorf("修改密码失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteUser(ctx context.Context, username string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("username = ?", username).Delete(&skipConfigRow{}).Error; err != nil {
			return err
		}
		if err := tx.Where("username = ?", username).Delete(&settingsRow{}).Error; err != nil {
			return err
		}
		return tx.Where("username = ?", username).Delete(&userRow{}).Error
	})
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]string, error) {
	var users []string
	err := s.db.WithContext(ctx).Model(&userRow{}).Order("username ASC").Pluck("username", &users).Error
	if err != nil {
		return nil, fmt.Errorf("列出用户失败: %w", err)
	}
	return users, nil
}

func (s *PostgresStore) GetUserSettings(ctx context.Context, username string) (*model.UserSettings, error) {
	return getSettings(s.db.WithContext(ctx), username)
}

func getSettings(db *gorm.DB, username string) (*model.UserSettings, error) {
	var row settingsRow
	err := db.Where("username = ?", username).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取用户设置失败: %w", err)
	}
	var settings model.UserSettings
	if err := json.Unmarshal([]byte(row.Data), &settings); err != nil {
		return nil, fmt.Errorf("解析用户设置失败: %w", err)
	}
	return &settings, nil
}

func (s *PostgresStore) SetUserSettings(ctx context.Context, username string, settings model.UserSettings) error {
	return putSettings(s.db.WithContext(ctx), username, settings)
}

func putSettings(db *gorm.DB, username string, settings model.UserSettings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "username"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&settingsRow{Username: username, Data: string(data), UpdatedAt: time.Now()}).Error
}

func (s *PostgresStore) UpdateUserSettings(ctx context.Context, username string, patch model.SettingsPatch) (model.UserSettings, error) {
	var merged model.UserSettings
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := getSettings(tx.Clauses(clause.Locking{Strength: "UPDATE"}), username)
		if err != nil {
			return err
		}
		merged = model.MergeSettings(existing, patch)
		return putSettings(tx, username, merged)
	})
	if err != nil {
		return model.UserSettings{}, fmt.Errorf("更新用户设置失败: %w", err)
	}
	return merged, nil
}

func (s *PostgresStore) GetSkipConfig(ctx context.Context, username, key string) (*model.EpisodeSkipConfig, error) {
	var row skipConfigRow
	err := s.db.WithContext(ctx).Where("username = ? AND config_key = ?", username, key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取跳过配置失败: %w", err)
	}
	var cfg model.EpisodeSkipConfig
	if err := json.Unmarshal([]byte(row.Data), &cfg); err != nil {
		return nil, fmt.Errorf("解析跳过配置失败: %w", err)
	}
	return &cfg, nil
}

func (s *PostgresStore) SetSkipConfig(ctx context.Context, username, key string, cfg model.EpisodeSkipConfig) error {
	if cfg.UpdatedTime == 0 {
		cfg.UpdatedTime = time.Now().UnixMilli()
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "username"}, {Name: "config_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&skipConfigRow{Username: username, ConfigKey: key, Data: string(data), UpdatedAt: time.Now()}).Error
	if err != nil {
		return fmt.Errorf("保存跳过配置失败: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAllSkipConfigs(ctx context.Context, username string) (map[string]model.EpisodeSkipConfig, error) {
	var rows []skipConfigRow
	if err := s.db.WithContext(ctx).Where("username = ?", username).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("读取跳过配置失败: %w", err)
	}
	out := make(map[string]model.EpisodeSkipConfig, len(rows))
	for _, row := range rows {
		var cfg model.EpisodeSkipConfig
		if err := json.Unmarshal([]byte(row.Data), &cfg); err != nil {
			continue
		}
		out[row.ConfigKey] = cfg
	}
	return out, nil
}

func (s *PostgresStore) DeleteSkipConfig(ctx context.Context, username, key string) error {
	err := s.db.WithContext(ctx).Where("username = ? AND config_key = ?", username, key).Delete(&skipConfigRow{}).Error
	if err != nil {
		return fmt.Errorf("删除跳过配置失败: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAdminConfig(ctx context.Context) (*model.AdminConfig, error) {
	var row adminConfigRow
	err := s.db.WithContext(ctx).Where("id = ?", adminConfigRowID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取管理配置失败: %w", err)
	}
	var cfg model.AdminConfig
	if err := json.Unmarshal([]byte(row.Data), &cfg.UserConfig); err != nil {
		return nil, fmt.Errorf("解析管理配置失败: %w", err)
	}
	cfg.Version = row.Version
	return &cfg, nil
}

func (s *PostgresStore) SaveAdminConfig(ctx context.Context, cfg *model.AdminConfig) error {
	data, err := json.Marshal(cfg.UserConfig)
	if err != nil {
		return err
	}
	db := s.db.WithContext(ctx)
	next := cfg.Version + 1

	var res *gorm.DB
	if cfg.Version == 0 {
		res = db.Clauses(clause.OnConflict{DoNothing: true}).Create(&adminConfigRow{
			ID:        adminConfigRowID,
			Version:   next,
			Data:      string(data),
			UpdatedAt: time.Now(),
		})
	} else {
		res = db.Model(&adminConfigRow{}).
			Where("id = ? AND version = ?", adminConfigRowID, cfg.Version).
			Updates(map[string]interface{}{"version": next, "data": string(data), "updated_at": time.Now()})
	}
	if res.Error != nil {
		return fmt.Errorf("保存管理配置失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	cfg.Version = next
	return nil
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
