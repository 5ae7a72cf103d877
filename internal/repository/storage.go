package repository

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/user/katelyatv/internal/config"
	"github.com/user/katelyatv/internal/model"
)

var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("record not found")
	// ErrUserExists 用户名已被注册
	ErrUserExists = errors.New("user already exists")
	// ErrVersionConflict 管理配置版本已变化（乐观锁失败）
	ErrVersionConflict = errors.New("admin config version conflict")
)

// Storage 持久化接口，所有后端语义一致
//
// 读取类方法在记录不存在时返回 nil, nil。
type Storage interface {
	// 用户凭据
	RegisterUser(ctx context.Context, username, password string) error
	VerifyUser(ctx context.Context, username, password string) (bool, error)
	UserExists(ctx context.Context, username string) (bool, error)
	ChangePassword(ctx context.Context, username, newPassword string) error
	// DeleteUser 删除凭据以及该用户的设置和跳过配置
	DeleteUser(ctx context.Context, username string) error
	ListUsers(ctx context.Context) ([]string, error)

	// 用户设置
	GetUserSettings(ctx context.Context, username string) (*model.UserSettings, error)
	SetUserSettings(ctx context.Context, username string, settings model.UserSettings) error
	UpdateUserSettings(ctx context.Context, username string, patch model.SettingsPatch) (model.UserSettings, error)

	// 片头片尾跳过配置
	GetSkipConfig(ctx context.Context, username, key string) (*model.EpisodeSkipConfig, error)
	SetSkipConfig(ctx context.Context, username, key string, cfg model.EpisodeSkipConfig) error
	GetAllSkipConfigs(ctx context.Context, username string) (map[string]model.EpisodeSkipConfig, error)
	DeleteSkipConfig(ctx context.Context, username, key string) error

	// 管理配置
	GetAdminConfig(ctx context.Context) (*model.AdminConfig, error)
	// SaveAdminConfig 仅当存储中的版本等于 cfg.Version（不存在视为 0）时写入，
	// 成功后 cfg.Version 自增；否则返回 ErrVersionConflict
	SaveAdminConfig(ctx context.Context, cfg *model.AdminConfig) error

	Close() error
}

// New 根据配置选择存储后端
func New(cfg *config.Config) (Storage, error) {
	switch cfg.StorageType {
	case config.StorageRedis:
		store, err := NewRedisStore(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("初始化 Redis 存储失败: %w", err)
		}
		log.Info("[Storage] 使用 Redis 存储")
		return store, nil
	case config.StoragePostgres:
		db, err := InitDB(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		store, err := NewPostgresStore(db)
		if err != nil {
			return nil, fmt.Errorf("初始化 Postgres 存储失败: %w", err)
		}
		log.Info("[Storage] 使用 Postgres 存储")
		return store, nil
	case config.StorageMemory:
		log.Info("[Storage] 使用内存存储，重启后数据丢失")
		return NewMemoryStore(), nil
	default:
		// localstorage 模式下没有服务端账户，只需要承载匿名请求的读取
		log.Info("[Storage] localstorage 模式，使用内存存储")
		return NewMemoryStore(), nil
	}
}
