package service

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"
	"github.com/user/katelyatv/internal/model"
)

// SourceLoader 读取资源站列表和缓存时间（秒）
type SourceLoader func() ([]model.Source, int, error)

type registrySnapshot struct {
	sources   []model.Source
	cacheTime int
}

const registryCacheKey = "registry"

// Registry 资源站注册表，定期从配置重新加载
type Registry struct {
	load             SourceLoader
	cache            *cache.Cache
	ttl              time.Duration
	defaultCacheTime int

	mu       sync.Mutex
	lastGood registrySnapshot
}

// NewRegistry ttl 为配置重新加载间隔
func NewRegistry(load SourceLoader, ttl time.Duration, defaultCacheTime int) *Registry {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Registry{
		load:             load,
		cache:            cache.New(ttl, 2*ttl),
		ttl:              ttl,
		defaultCacheTime: defaultCacheTime,
	}
}

// NewStaticRegistry 固定资源站列表
func NewStaticRegistry(sources []model.Source, cacheTime int) *Registry {
	return NewRegistry(func() ([]model.Source, int, error) {
		return sources, cacheTime, nil
	}, time.Hour, cacheTime)
}

func (r *Registry) snapshot() registrySnapshot {
	if v, ok := r.cache.Get(registryCacheKey); ok {
		return v.(registrySnapshot)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sources, cacheTime, err := r.load()
	if err != nil {
		log.WithError(err).Warn("[Registry] 加载资源站配置失败，沿用上次结果")
		return r.lastGood
	}
	if cacheTime <= 0 {
		cacheTime = r.defaultCacheTime
	}
	snap := registrySnapshot{
		sources:   append([]model.Source(nil), sources...),
		cacheTime: cacheTime,
	}
	r.lastGood = snap
	r.cache.Set(registryCacheKey, snap, r.ttl)
	return snap
}

// Sources 全部资源站（配置顺序）
func (r *Registry) Sources() []model.Source {
	return append([]model.Source(nil), r.snapshot().sources...)
}

// Find 按 key 查找资源站
func (r *Registry) Find(key string) (model.Source, bool) {
	for _, s := range r.snapshot().sources {
		if s.Key == key {
			return s, true
		}
	}
	return model.Source{}, false
}

// AvailableSites filterAdult 为 true 时剔除成人资源站，顺序与配置一致
func (r *Registry) AvailableSites(filterAdult bool) []model.Source {
	sources := r.snapshot().sources
	out := make([]model.Source, 0, len(sources))
	for _, s := range sources {
		if filterAdult && s.IsAdult {
			continue
		}
		out = append(out, s)
	}
	return out
}

// CacheTime 搜索结果缓存时间（秒）
func (r *Registry) CacheTime() int {
	return r.snapshot().cacheTime
}
