package model

import (
	"strings"
)

// Source 资源站配置（部署期间不可变，来自配置文件）
type Source struct {
	Key      string `json:"key"`              // 资源站唯一标识
	Name     string `json:"name"`             // 展示名称
	Api      string `json:"api"`              // 搜索 API 地址
	Detail   string `json:"detail,omitempty"` // 详情页地址（特殊源才有）
	Category string `json:"category,omitempty"`
	IsAdult  bool   `json:"is_adult"`
}

// SearchResult 统一后的搜索结果（每次请求生成，不持久化）
type SearchResult struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Poster     string   `json:"poster"`
	Episodes   []string `json:"episodes"`
	Source     string   `json:"source"`
	SourceName string   `json:"source_name"`
	Class      string   `json:"class,omitempty"`
	Year       string   `json:"year"`
	Desc       string   `json:"desc,omitempty"`
	TypeName   string   `json:"type_name,omitempty"`
	DoubanID   string   `json:"douban_id,omitempty"`
}

// UnknownYear 年份缺失时的占位值
const UnknownYear = "unknown"

// MediaType 根据集数推断类型：单集为电影，否则为剧集
func (r *SearchResult) MediaType() string {
	if len(r.Episodes) == 1 {
		return "movie"
	}
	return "tv"
}

// AggregateKey 聚合键：去空格标题-年份-类型
func (r *SearchResult) AggregateKey() string {
	year := r.Year
	if year == "" {
		year = UnknownYear
	}
	return strings.ReplaceAll(r.Title, " ", "") + "-" + year + "-" + r.MediaType()
}
