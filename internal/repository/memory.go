package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/user/katelyatv/internal/model"
)

const (
	memUserPrefix     = "u:"
	memSettingsPrefix = "s:"
	memSkipPrefix     = "k:"
	memAdminKey       = "admin:config"
)

// MemoryStore 进程内存储，基于 go-cache（永不过期，无清理协程）
type MemoryStore struct {
	mu sync.Mutex
	c  *cache.Cache
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{c: cache.New(cache.NoExpiration, 0)}
}

func (s *MemoryStore) RegisterUser(_ context.Context, username, password string) error {
	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	if err := s.c.Add(memUserPrefix+username, hash, cache.NoExpiration); err != nil {
		return ErrUserExists
	}
	return nil
}

func (s *MemoryStore) VerifyUser(_ context.Context, username, password string) (bool, error) {
	v, ok := s.c.Get(memUserPrefix + username)
	if !ok {
		return false, nil
	}
	return checkPassword(v.(string), password), nil
}

func (s *MemoryStore) UserExists(_ context.Context, username string) (bool, error) {
	_, ok := s.c.Get(memUserPrefix + username)
	return ok, nil
}

func (s *MemoryStore) ChangePassword(_ context.Context, username, newPassword string) error {
	hash, err := hashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.c.Replace(memUserPrefix+username, hash, cache.NoExpiration); err != nil {
		return ErrNotFound
	}
	return nil
}

func (s *MemoryStore) DeleteUser(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.c.Delete(memUserPrefix + username)
	s.c.Delete(memSettingsPrefix + username)
	s.c.Delete(memSkipPrefix + username)
	return nil
}

func (s *MemoryStore) ListUsers(_ context.Context) ([]string, error) {
	var users []string
	for k := range s.c.Items() {
		if name, ok := strings.CutPrefix(k, memUserPrefix); ok {
			users = append(users, name)
		}
	}
	sort.Strings(users)
	return users, nil
}

func (s *MemoryStore) GetUserSettings(_ context.Context, username string) (*model.UserSettings, error) {
	v, ok := s.c.Get(memSettingsPrefix + username)
	if !ok {
		return nil, nil
	}
	settings := copySettings(v.(model.UserSettings))
	return &settings, nil
}

func (s *MemoryStore) SetUserSettings(_ context.Context, username string, settings model.UserSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.c.Set(memSettingsPrefix+username, copySettings(settings), cache.NoExpiration)
	return nil
}

func (s *MemoryStore) UpdateUserSettings(ctx context.Context, username string, patch model.SettingsPatch) (model.UserSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing *model.UserSettings
	if v, ok := s.c.Get(memSettingsPrefix + username); ok {
		cur := v.(model.UserSettings)
		existing = &cur
	}
	merged := model.MergeSettings(existing, patch)
	s.c.Set(memSettingsPrefix+username, copySettings(merged), cache.NoExpiration)
	return merged, nil
}

func (s *MemoryStore) GetSkipConfig(_ context.Context, username, key string) (*model.EpisodeSkipConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.skipMap(username)[key]
	if !ok {
		return nil, nil
	}
	cfg = copySkipConfig(cfg)
	return &cfg, nil
}

func (s *MemoryStore) SetSkipConfig(_ context.Context, username, key string, cfg model.EpisodeSkipConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	configs := s.skipMap(username)
	next := make(map[string]model.EpisodeSkipConfig, len(configs)+1)
	for k, v := range configs {
		next[k] = v
	}
	if cfg.UpdatedTime == 0 {
		cfg.UpdatedTime = time.Now().UnixMilli()
	}
	next[key] = copySkipConfig(cfg)
	s.c.Set(memSkipPrefix+username, next, cache.NoExpiration)
	return nil
}

func (s *MemoryStore) GetAllSkipConfigs(_ context.Context, username string) (map[string]model.EpisodeSkipConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]model.EpisodeSkipConfig)
	for k, v := range s.skipMap(username) {
		out[k] = copySkipConfig(v)
	}
	return out, nil
}

func (s *MemoryStore) DeleteSkipConfig(_ context.Context, username, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	configs := s.skipMap(username)
	if _, ok := configs[key]; !ok {
		return nil
	}
	next := make(map[string]model.EpisodeSkipConfig, len(configs))
	for k, v := range configs {
		if k != key {
			next[k] = v
		}
	}
	s.c.Set(memSkipPrefix+username, next, cache.NoExpiration)
	return nil
}

// skipMap 调用方需持有锁，返回值只读
func (s *MemoryStore) skipMap(username string) map[string]model.EpisodeSkipConfig {
	if v, ok := s.c.Get(memSkipPrefix + username); ok {
		return v.(map[string]model.EpisodeSkipConfig)
	}
	return nil
}

func (s *MemoryStore) GetAdminConfig(_ context.Context) (*model.AdminConfig, error) {
	v, ok := s.c.Get(memAdminKey)
	if !ok {
		return nil, nil
	}
	return v.(*model.AdminConfig).Clone(), nil
}

func (s *MemoryStore) SaveAdminConfig(_ context.Context, cfg *model.AdminConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	if v, ok := s.c.Get(memAdminKey); ok {
		current = v.(*model.AdminConfig).Version
	}
	if current != cfg.Version {
		return ErrVersionConflict
	}
	stored := cfg.Clone()
	stored.Version = current + 1
	s.c.Set(memAdminKey, stored, cache.NoExpiration)
	cfg.Version = stored.Version
	return nil
}

func (s *MemoryStore) Close() error {
	s.c.Flush()
	return nil
}

func copySettings(in model.UserSettings) model.UserSettings {
	out := in
	if in.CanDisableFilter != nil {
		v := *in.CanDisableFilter
		out.CanDisableFilter = &v
	}
	return out
}

func copySkipConfig(in model.EpisodeSkipConfig) model.EpisodeSkipConfig {
	out := in
	out.Segments = append([]model.SkipSegment(nil), in.Segments...)
	return out
}
