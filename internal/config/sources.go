package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/user/katelyatv/internal/model"
)

// SourcesFile 资源站配置文件结构
//
//	{"cache_time": 7200, "api_site": {"key": {"api": "...", "name": "...", "is_adult": false}}}
type SourcesFile struct {
	CacheTime int             `json:"cache_time"`
	APISite   json.RawMessage `json:"api_site"`
}

type siteEntry struct {
	Api      string `json:"api"`
	Name     string `json:"name"`
	Detail   string `json:"detail"`
	Category string `json:"category"`
	IsAdult  bool   `json:"is_adult"`
}

// LoadSources 读取资源站配置文件，返回按文件顺序排列的资源站和缓存时间（秒）
func LoadSources(path string) ([]model.Source, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("读取资源站配置失败: %w", err)
	}
	return ParseSources(data)
}

// ParseSources 解析资源站配置，保留 api_site 中键的出现顺序
func ParseSources(data []byte) ([]model.Source, int, error) {
	var file SourcesFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, 0, fmt.Errorf("解析资源站配置失败: %w", err)
	}
	if len(file.APISite) == 0 {
		return nil, file.CacheTime, nil
	}

	dec := json.NewDecoder(bytes.NewReader(file.APISite))
	tok, err := dec.Token()
	if err != nil {
		return nil, 0, fmt.Errorf("解析 api_site 失败: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, 0, fmt.Errorf("api_site 必须是对象")
	}

	var sources []model.Source
	seen := make(map[string]bool)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, 0, fmt.Errorf("解析 api_site 失败: %w", err)
		}
		key, _ := keyTok.(string)

		var entry siteEntry
		if err := dec.Decode(&entry); err != nil {
			return nil, 0, fmt.Errorf("解析资源站 %s 失败: %w", key, err)
		}
		if key == "" || entry.Api == "" || seen[key] {
			continue
		}
		seen[key] = true

		name := entry.Name
		if name == "" {
			name = key
		}
		sources = append(sources, model.Source{
			Key:      key,
			Name:     name,
			Api:      entry.Api,
			Detail:   entry.Detail,
			Category: entry.Category,
			IsAdult:  entry.IsAdult,
		})
	}
	return sources, file.CacheTime, nil
}
