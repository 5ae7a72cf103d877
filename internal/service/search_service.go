package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/user/katelyatv/internal/metrics"
	"github.com/user/katelyatv/internal/model"
	"github.com/user/katelyatv/internal/repository"
	"github.com/user/katelyatv/internal/utils"
	"golang.org/x/sync/singleflight"
)

// ErrSourceNotFound 资源站不存在
var ErrSourceNotFound = errors.New("source not found")

const searchCacheSize = 512

// SearchService 聚合搜索服务
type SearchService struct {
	registry   *Registry
	crawler    SourceCrawler
	store      repository.Storage
	cache      *utils.SearchCache[[]model.SearchResult]
	maxTimeout time.Duration // 单站点最大超时时间
	sf         singleflight.Group
}

// NewSearchService 创建搜索服务，聚合结果按资源站配置当前的 cache_time 缓存
func NewSearchService(registry *Registry, crawler SourceCrawler, store repository.Storage, timeout time.Duration) *SearchService {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SearchService{
		registry:   registry,
		crawler:    crawler,
		store:      store,
		cache:      utils.NewSearchCache[[]model.SearchResult](searchCacheSize, time.Duration(registry.CacheTime())*time.Second),
		maxTimeout: timeout,
	}
}

// Registry 资源站注册表
func (s *SearchService) Registry() *Registry {
	return s.registry
}

// ResolveFilter 计算本次请求是否过滤成人资源站
//
// 默认过滤；用户设置明确关闭过滤且请求显式 include_adult 时才放开。
// 读取设置出错时按过滤处理。
func (s *SearchService) ResolveFilter(ctx context.Context, username string, includeAdult bool) bool {
	userFilter := true
	if username != "" && s.store != nil {
		settings, err := s.store.GetUserSettings(ctx, username)
		if err != nil {
			log.WithError(err).Warnf("[SearchService] 读取用户 %s 设置失败，默认过滤成人内容", username)
		} else if settings != nil && !settings.FilterAdultContent {
			userFilter = false
		}
	}
	return userFilter || !includeAdult
}

// Search 按过滤策略搜索所有可用资源站
func (s *SearchService) Search(ctx context.Context, query string, filterAdult bool) []model.SearchResult {
	if query == "" {
		return []model.SearchResult{}
	}

	key := strconv.FormatBool(filterAdult) + "|" + query
	if cached, ok := s.cache.Get(key); ok {
		metrics.SearchCache.WithLabelValues("hit").Inc()
		return cached
	}
	metrics.SearchCache.WithLabelValues("miss").Inc()

	// 使用 singleflight 避免并发请求同一个词；不随首个请求取消
	val, _, _ := s.sf.Do(key, func() (interface{}, error) {
		sfCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*s.maxTimeout)
		defer cancel()

		results := s.SearchAll(sfCtx, s.registry.AvailableSites(filterAdult), query)
		if len(results) > 0 {
			s.cache.SetWithTTL(key, results, time.Duration(s.registry.CacheTime())*time.Second)
		}
		return results, nil
	})
	return val.([]model.SearchResult)
}

// SearchAll 并发搜索给定资源站，按资源站顺序合并结果
// 单个资源站失败只记录日志，不影响其他资源站
func (s *SearchService) SearchAll(ctx context.Context, sources []model.Source, query string) []model.SearchResult {
	if len(sources) == 0 {
		return []model.SearchResult{}
	}

	var wg sync.WaitGroup
	perSource := make([][]model.SearchResult, len(sources))

	for i, source := range sources {
		wg.Add(1)
		go func(i int, source model.Source) {
			defer wg.Done()

			// 创建带超时的上下文
			reqCtx, cancel := context.WithTimeout(ctx, s.maxTimeout)
			defer cancel()

			start := time.Now()
			items, err := s.crawler.Search(reqCtx, source, query)
			metrics.SourceSearchDuration.WithLabelValues(source.Key).Observe(time.Since(start).Seconds())
			if err != nil {
				metrics.SourceSearches.WithLabelValues(source.Key, "error").Inc()
				log.WithError(err).Warnf("[SearchService] 站点 %s 搜索失败", source.Key)
				return
			}
			if len(items) == 0 {
				metrics.SourceSearches.WithLabelValues(source.Key, "empty").Inc()
				return
			}

			metrics.SourceSearches.WithLabelValues(source.Key, "ok").Inc()
			perSource[i] = items
			log.Debugf("[SearchService] 站点 %s 返回 %d 条结果", source.Key, len(items))
		}(i, source)
	}
	wg.Wait()

	all := make([]model.SearchResult, 0)
	for _, items := range perSource {
		all = append(all, items...)
	}
	return all
}

// availableSource 按过滤策略查找资源站，被过滤的成人资源站视为不存在
func (s *SearchService) availableSource(sourceKey string, filterAdult bool) (model.Source, error) {
	source, ok := s.registry.Find(sourceKey)
	if !ok || (filterAdult && source.IsAdult) {
		return model.Source{}, ErrSourceNotFound
	}
	return source, nil
}

// SearchOne 在单个资源站中搜索，只保留标题完全一致的结果
func (s *SearchService) SearchOne(ctx context.Context, sourceKey, query string, filterAdult bool) ([]model.SearchResult, error) {
	source, err := s.availableSource(sourceKey, filterAdult)
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.maxTimeout)
	defer cancel()

	items, err := s.crawler.Search(reqCtx, source, query)
	if err != nil {
		return nil, fmt.Errorf("站点 %s 搜索失败: %w", sourceKey, err)
	}

	matched := make([]model.SearchResult, 0, len(items))
	for _, item := range items {
		if item.Title == query {
			matched = append(matched, item)
		}
	}
	return matched, nil
}

// GetDetail 获取单个视频详情，不存在时返回 nil, nil
func (s *SearchService) GetDetail(ctx context.Context, sourceKey, id string, filterAdult bool) (*model.SearchResult, error) {
	source, err := s.availableSource(sourceKey, filterAdult)
	if err != nil {
		return nil, err
	}

	key := "detail:" + sourceKey + ":" + id
	val, err, _ := s.sf.Do(key, func() (interface{}, error) {
		reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.maxTimeout)
		defer cancel()
		return s.crawler.GetDetail(reqCtx, source, id)
	})
	if err != nil {
		return nil, err
	}
	return val.(*model.SearchResult), nil
}
