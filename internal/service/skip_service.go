package service

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/user/katelyatv/internal/model"
	"github.com/user/katelyatv/internal/repository"
)

// SkipService 片头片尾跳过配置
type SkipService struct {
	store    repository.Storage
	validate *validator.Validate
}

func NewSkipService(store repository.Storage, validate *validator.Validate) *SkipService {
	return &SkipService{store: store, validate: validate}
}

// Validate 检查配置结构，每个片段必须 start < end 且类型为 opening/ending
func (s *SkipService) Validate(cfg *model.EpisodeSkipConfig) error {
	if cfg == nil {
		return actionErr(http.StatusBadRequest, "缺少配置键或配置数据")
	}
	if cfg.Source == "" || cfg.ID == "" || cfg.Title == "" || cfg.Segments == nil {
		return actionErr(http.StatusBadRequest, "配置数据格式错误")
	}
	for i := range cfg.Segments {
		if err := s.validate.Struct(&cfg.Segments[i]); err != nil {
			return actionErr(http.StatusBadRequest, "片段数据格式错误")
		}
	}
	return nil
}

func (s *SkipService) Get(ctx context.Context, username, key string) (*model.EpisodeSkipConfig, error) {
	cfg, err := s.store.GetSkipConfig(ctx, username, key)
	if err != nil {
		return nil, fmt.Errorf("读取跳过配置失败: %w", err)
	}
	return cfg, nil
}

// Set 校验通过后整体覆盖保存
func (s *SkipService) Set(ctx context.Context, username, key string, cfg *model.EpisodeSkipConfig) error {
	if err := s.Validate(cfg); err != nil {
		return err
	}
	return s.store.SetSkipConfig(ctx, username, key, *cfg)
}

func (s *SkipService) GetAll(ctx context.Context, username string) (map[string]model.EpisodeSkipConfig, error) {
	configs, err := s.store.GetAllSkipConfigs(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("读取跳过配置失败: %w", err)
	}
	return configs, nil
}

func (s *SkipService) Delete(ctx context.Context, username, key string) error {
	return s.store.DeleteSkipConfig(ctx, username, key)
}
