package service

import (
	"sort"
	"strings"

	"github.com/user/katelyatv/internal/model"
)

// ResultGroup 同一部作品在不同资源站的结果
type ResultGroup struct {
	Key     string               `json:"key"`
	Title   string               `json:"title"`
	Year    string               `json:"year"`
	Type    string               `json:"type"`
	Results []model.SearchResult `json:"results"`
}

// Poster 取第一个有封面的结果
func (g *ResultGroup) Poster() string {
	for _, r := range g.Results {
		if r.Poster != "" {
			return r.Poster
		}
	}
	return ""
}

// GroupResults 按 (去空格标题, 年份, 类型) 聚合
//
// 排序：标题包含搜索词的在前；同年份按键排序；不同年份按年份倒序，unknown 最后。
func GroupResults(results []model.SearchResult, query string) []ResultGroup {
	index := make(map[string]int)
	var groups []ResultGroup
	for _, r := range results {
		key := r.AggregateKey()
		i, ok := index[key]
		if !ok {
			year := r.Year
			if year == "" {
				year = model.UnknownYear
			}
			i = len(groups)
			index[key] = i
			groups = append(groups, ResultGroup{Key: key, Title: r.Title, Year: year, Type: r.MediaType()})
		}
		groups[i].Results = append(groups[i].Results, r)
	}

	q := strings.ReplaceAll(strings.TrimSpace(query), " ", "")
	matches := func(g ResultGroup) bool {
		return strings.Contains(strings.ReplaceAll(g.Title, " ", ""), q)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		a, b := groups[i], groups[j]
		am, bm := matches(a), matches(b)
		if am != bm {
			return am
		}
		if a.Year == b.Year {
			return a.Key < b.Key
		}
		if a.Year == model.UnknownYear {
			return false
		}
		if b.Year == model.UnknownYear {
			return true
		}
		return a.Year > b.Year
	})
	return groups
}
