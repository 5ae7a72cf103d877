package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/user/katelyatv/internal/metrics"
	"github.com/user/katelyatv/internal/utils"
)

// Logger 请求日志中间件
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		// 处理请求
		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		entry := log.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    path,
			"ip":      utils.HashIP(c.ClientIP()),
			"status":  status,
			"latency": latency.String(),
		})
		if len(c.Errors) > 0 {
			entry = entry.WithField("errors", c.Errors.String())
		}

		switch {
		case status >= 500:
			entry.Error("[HTTP] 请求失败")
		case status >= 400:
			entry.Warn("[HTTP] 请求异常")
		default:
			entry.Info("[HTTP] 请求完成")
		}
	}
}

// Metrics Prometheus 请求计数与耗时，path 使用路由模板避免标签爆炸
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
