// Package metrics 提供 Prometheus 指标，GET /metrics 暴露
//
//	katelyatv_http_requests_total         请求数（method/path/status）
//	katelyatv_http_request_duration_secs  请求耗时
//	katelyatv_source_search_total         资源站搜索结果（source/result）
//	katelyatv_source_search_duration_secs 资源站搜索耗时
//	katelyatv_search_cache_total          聚合搜索缓存命中情况
//	katelyatv_auth_events_total           登录注册事件
//	katelyatv_admin_actions_total         管理操作结果
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "katelyatv_http_requests_total",
	Help: "Total HTTP requests handled.",
}, []string{"method", "path", "status"})

var HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "katelyatv_http_request_duration_seconds",
	Help:    "HTTP request latency in seconds.",
	Buckets: prometheus.DefBuckets,
}, []string{"method", "path"})

// SourceSearches 按资源站统计搜索结果，result 为 ok/error/empty
var SourceSearches = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "katelyatv_source_search_total",
	Help: "Downstream source searches by outcome.",
}, []string{"source", "result"})

var SourceSearchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "katelyatv_source_search_duration_seconds",
	Help:    "Downstream source search latency in seconds.",
	Buckets: []float64{.1, .25, .5, 1, 2, 4, 8, 15, 30},
}, []string{"source"})

// SearchCache result 为 hit/miss
var SearchCache = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "katelyatv_search_cache_total",
	Help: "Aggregated search cache lookups.",
}, []string{"result"})

var AuthEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "katelyatv_auth_events_total",
	Help: "Auth events by type.",
}, []string{"event", "result"})

var AdminActions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "katelyatv_admin_actions_total",
	Help: "Admin user actions by outcome.",
}, []string{"action", "status"})

// Handler Prometheus 抓取端点
func Handler() http.Handler {
	return promhttp.Handler()
}
