package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/user/katelyatv/internal/model"
)

const redisAdminKey = "admin:config"

// 乐观事务在键被并发修改时的重试次数
const redisTxRetries = 5

func redisPwdKey(username string) string      { return "u:" + username + ":pwd" }
func redisSettingsKey(username string) string { return "u:" + username + ":settings" }
func redisSkipKey(username string) string     { return "u:" + username + ":skip_configs" }

// RedisStore 基于 go-redis 的存储，跳过配置使用 Hash，管理配置使用 WATCH/MULTI 做 CAS
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore 解析 URL 并检查连通性
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("无效的 REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping 失败: %w", err)
	}
	return &RedisStore{rdb: rdb}, nil
}

// NewRedisStoreFromClient 使用已有客户端
func NewRedisStoreFromClient(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) RegisterUser(ctx context.Context, username, password string) error {
	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetNX(ctx, redisPwdKey(username), hash, 0).Result()
	if err != nil {
		return fmt.Errorf("注册用户失败: %w", err)
	}
	if !ok {
		return ErrUserExists
	}
	return nil
}

func (s *RedisStore) VerifyUser(ctx context.Context, username, password string) (bool, error) {
	hash, err := s.rdb.Get(ctx, redisPwdKey(username)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("读取用户失败: %w", err)
	}
	return checkPassword(hash, password), nil
}

func (s *RedisStore) UserExists(ctx context.Context, username string) (bool, error) {
	n, err := s.rdb.Exists(ctx, redisPwdKey(username)).Result()
	if err != nil {
		return false, fmt.Errorf("检查用户失败: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) ChangePassword(ctx context.Context, username, newPassword string) error {
	hash, err := hashPassword(newPassword)
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetXX(ctx, redisPwdKey(username), hash, 0).Result()
	if err != nil {
		return fmt.Errorf("修改密码失败: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) DeleteUser(ctx context.Context, username string) error {
	err := s.rdb.Del(ctx, redisPwdKey(username), redisSettingsKey(username), redisSkipKey(username)).Err()
	if err != nil {
		return fmt.Errorf("删除用户失败: %w", err)
	}
	return nil
}

func (s *RedisStore) ListUsers(ctx context.Context) ([]string, error) {
	var users []string
	iter := s.rdb.Scan(ctx, 0, "u:*:pwd", 100).Iterator()
	for iter.Next(ctx) {
		name := strings.TrimSuffix(strings.TrimPrefix(iter.Val(), "u:"), ":pwd")
		users = append(users, name)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("列出用户失败: %w", err)
	}
	sort.Strings(users)
	return users, nil
}

func (s *RedisStore) GetUserSettings(ctx context.Context, username string) (*model.UserSettings, error) {
	data, err := s.rdb.Get(ctx, redisSettingsKey(username)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取用户设置失败: %w", err)
	}
	var settings model.UserSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("解析用户设置失败: %w", err)
	}
	return &settings, nil
}

func (s *RedisStore) SetUserSettings(ctx context.Context, username string, settings model.UserSettings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, redisSettingsKey(username), data, 0).Err(); err != nil {
		return fmt.Errorf("保存用户设置失败: %w", err)
	}
	return nil
}

func (s *RedisStore) UpdateUserSettings(ctx context.Context, username string, patch model.SettingsPatch) (model.UserSettings, error) {
	key := redisSettingsKey(username)
	var merged model.UserSettings

	txf := func(tx *redis.Tx) error {
		var existing *model.UserSettings
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			var cur model.UserSettings
			if err := json.Unmarshal(data, &cur); err != nil {
				return err
			}
			existing = &cur
		}

		merged = model.MergeSettings(existing, patch)
		out, err := json.Marshal(merged)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		return err
	}

	for i := 0; i < redisTxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if err == nil {
			return merged, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return model.UserSettings{}, fmt.Errorf("更新用户设置失败: %w", err)
		}
	}
	return model.UserSettings{}, fmt.Errorf("更新用户设置失败: %w", redis.TxFailedErr)
}

func (s *RedisStore) GetSkipConfig(ctx context.Context, username, key string) (*model.EpisodeSkipConfig, error) {
	data, err := s.rdb.HGet(ctx, redisSkipKey(username), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取跳过配置失败: %w", err)
	}
	var cfg model.EpisodeSkipConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析跳过配置失败: %w", err)
	}
	return &cfg, nil
}

func (s *RedisStore) SetSkipConfig(ctx context.Context, username, key string, cfg model.EpisodeSkipConfig) error {
	if cfg.UpdatedTime == 0 {
		cfg.UpdatedTime = time.Now().UnixMilli()
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := s.rdb.HSet(ctx, redisSkipKey(username), key, data).Err(); err != nil {
		return fmt.Errorf("保存跳过配置失败: %w", err)
	}
	return nil
}

func (s *RedisStore) GetAllSkipConfigs(ctx context.Context, username string) (map[string]model.EpisodeSkipConfig, error) {
	raw, err := s.rdb.HGetAll(ctx, redisSkipKey(username)).Result()
	if err != nil {
		return nil, fmt.Errorf("读取跳过配置失败: %w", err)
	}
	out := make(map[string]model.EpisodeSkipConfig, len(raw))
	for k, v := range raw {
		var cfg model.EpisodeSkipConfig
		if err := json.Unmarshal([]byte(v), &cfg); err != nil {
			continue
		}
		out[k] = cfg
	}
	return out, nil
}

func (s *RedisStore) DeleteSkipConfig(ctx context.Context, username, key string) error {
	if err := s.rdb.HDel(ctx, redisSkipKey(username), key).Err(); err != nil {
		return fmt.Errorf("删除跳过配置失败: %w", err)
	}
	return nil
}

func (s *RedisStore) GetAdminConfig(ctx context.Context) (*model.AdminConfig, error) {
	data, err := s.rdb.Get(ctx, redisAdminKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取管理配置失败: %w", err)
	}
	var cfg model.AdminConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析管理配置失败: %w", err)
	}
	return &cfg, nil
}

func (s *RedisStore) SaveAdminConfig(ctx context.Context, cfg *model.AdminConfig) error {
	next := cfg.Clone()

	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		var current int64
		data, err := tx.Get(ctx, redisAdminKey).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			var stored model.AdminConfig
			if err := json.Unmarshal(data, &stored); err != nil {
				return err
			}
			current = stored.Version
		}
		if current != cfg.Version {
			return ErrVersionConflict
		}

		next.Version = current + 1
		out, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisAdminKey, out, 0)
			return nil
		})
		return err
	}, redisAdminKey)

	switch {
	case err == nil:
		cfg.Version = next.Version
		return nil
	case errors.Is(err, redis.TxFailedErr), errors.Is(err, ErrVersionConflict):
		return ErrVersionConflict
	default:
		return fmt.Errorf("保存管理配置失败: %w", err)
	}
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
