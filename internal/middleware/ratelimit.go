package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"
	"github.com/user/katelyatv/internal/utils"
	"golang.org/x/time/rate"
)

// RateLimiter 按客户端 IP 的令牌桶限流，空闲的桶 10 分钟后回收
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	buckets *cache.Cache
}

// NewRateLimiter perMinute<=0 时不限流
func NewRateLimiter(perMinute int) *RateLimiter {
	rl := &RateLimiter{
		buckets: cache.New(10*time.Minute, 5*time.Minute),
	}
	if perMinute > 0 {
		rl.limit = rate.Every(time.Minute / time.Duration(perMinute))
		rl.burst = perMinute
	}
	return rl
}

// Allow 判断 key 是否还有配额
func (rl *RateLimiter) Allow(key string) bool {
	if rl.burst == 0 {
		return true
	}
	var limiter *rate.Limiter
	if v, ok := rl.buckets.Get(key); ok {
		limiter = v.(*rate.Limiter)
	} else {
		limiter = rate.NewLimiter(rl.limit, rl.burst)
		// 并发首次访问时以先写入的为准
		if err := rl.buckets.Add(key, limiter, cache.DefaultExpiration); err != nil {
			if v, ok := rl.buckets.Get(key); ok {
				limiter = v.(*rate.Limiter)
			}
		}
	}
	rl.buckets.SetDefault(key, limiter)
	return limiter.Allow()
}

// Middleware 超出配额返回 429
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !rl.Allow(ip) {
			log.Warnf("[RateLimit] %s 请求过于频繁: %s", utils.HashIP(ip), c.FullPath())
			c.Header("Retry-After", strconv.Itoa(int(time.Minute.Seconds())))
			utils.Error(c, http.StatusTooManyRequests, "请求过于频繁，请稍后再试")
			c.Abort()
			return
		}
		c.Next()
	}
}
