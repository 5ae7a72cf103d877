package service

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	log "github.com/sirupsen/logrus"
	"github.com/user/katelyatv/internal/model"
	"github.com/user/katelyatv/internal/utils"
	"golang.org/x/sync/errgroup"
)

// SourceCrawler 资源站客户端接口
// 不做跨站点并发，只负责单站点请求，并发由调用方控制
type SourceCrawler interface {
	// Search 搜索视频，支持超时控制
	Search(ctx context.Context, source model.Source, query string) ([]model.SearchResult, error)

	// GetDetail 获取单个视频详情，不存在时返回 nil, nil
	GetDetail(ctx context.Context, source model.Source, id string) (*model.SearchResult, error)
}

// DefaultSourceCrawler MacCMS 风格 API 的客户端实现
type DefaultSourceCrawler struct {
	client   *utils.HTTPClient
	maxPages int
}

// NewSourceCrawler 创建资源站客户端，maxPages 为单站点最多翻页数
func NewSourceCrawler(timeout time.Duration, maxPages int) *DefaultSourceCrawler {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	if maxPages < 1 {
		maxPages = 1
	}
	return &DefaultSourceCrawler{
		client:   utils.NewHTTPClient(timeout),
		maxPages: maxPages,
	}
}

// vodApiResponse 资源网API响应结构
type vodApiResponse struct {
	Code      interface{}              `json:"code"`
	Msg       string                   `json:"msg"`
	Page      interface{}              `json:"page"`
	PageCount interface{}              `json:"pagecount"`
	Limit     interface{}              `json:"limit"`
	Total     interface{}              `json:"total"`
	List      []map[string]interface{} `json:"list"`
}

func searchURL(api, query string, page int) string {
	u := fmt.Sprintf("%s?ac=videolist&wd=%s", api, url.QueryEscape(query))
	if page > 1 {
		u += "&pg=" + strconv.Itoa(page)
	}
	return u
}

// Search 搜索视频，首页返回多页时并发拉取后续页面
func (c *DefaultSourceCrawler) Search(ctx context.Context, source model.Source, query string) ([]model.SearchResult, error) {
	var first vodApiResponse
	if err := c.client.GetJSON(ctx, searchURL(source.Api, query, 1), &first); err != nil {
		return nil, err
	}
	results := c.mapList(first.List, source)

	pageCount := toInt(first.PageCount)
	if pageCount > c.maxPages {
		pageCount = c.maxPages
	}
	if pageCount <= 1 {
		return results, nil
	}

	pages := make([][]model.SearchResult, pageCount+1)
	g, gctx := errgroup.WithContext(ctx)
	for page := 2; page <= pageCount; page++ {
		g.Go(func() error {
			var resp vodApiResponse
			if err := c.client.GetJSON(gctx, searchURL(source.Api, query, page), &resp); err != nil {
				// 单页失败不影响其他页
				log.WithError(err).Debugf("[SourceCrawler] 站点 %s 第 %d 页获取失败", source.Key, page)
				return nil
			}
			pages[page] = c.mapList(resp.List, source)
			return nil
		})
	}
	_ = g.Wait()

	for _, p := range pages[2:] {
		results = append(results, p...)
	}
	return results, nil
}

// GetDetail 获取视频详情；配置了 detail 地址的特殊源直接解析详情页
func (c *DefaultSourceCrawler) GetDetail(ctx context.Context, source model.Source, id string) (*model.SearchResult, error) {
	if source.Detail != "" {
		return c.scrapeDetail(ctx, source, id)
	}

	apiUrl := fmt.Sprintf("%s?ac=videolist&ids=%s", source.Api, url.QueryEscape(id))
	var resp vodApiResponse
	if err := c.client.GetJSON(ctx, apiUrl, &resp); err != nil {
		return nil, err
	}
	for _, item := range resp.List {
		if r, ok := mapToResult(item, source); ok {
			return &r, nil
		}
	}
	return nil, nil
}

var (
	reDetailM3U8 = regexp.MustCompile(`\$(https?://[^"'\s]+?/\d{8}/\d+_[a-f0-9]+/index\.m3u8)`)
	reDetailYear = regexp.MustCompile(`>(\d{4})<`)
)

func (c *DefaultSourceCrawler) scrapeDetail(ctx context.Context, source model.Source, id string) (*model.SearchResult, error) {
	pageUrl := fmt.Sprintf("%s/index.php/vod/detail/id/%s.html", strings.TrimRight(source.Detail, "/"), url.PathEscape(id))
	doc, err := c.client.GetHTML(ctx, pageUrl)
	if err != nil {
		return nil, err
	}
	html, err := doc.Html()
	if err != nil {
		return nil, fmt.Errorf("读取详情页失败: %w", err)
	}

	seen := make(map[string]bool)
	var episodes []string
	for _, m := range reDetailM3U8.FindAllStringSubmatch(html, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			episodes = append(episodes, m[1])
		}
	}
	if len(episodes) == 0 {
		return nil, nil
	}

	year := model.UnknownYear
	if m := reDetailYear.FindStringSubmatch(html); m != nil {
		year = m[1]
	}

	poster, _ := doc.Find(".thumb img").First().Attr("src")
	return &model.SearchResult{
		ID:         id,
		Title:      utils.NormalizeTitle(doc.Find("h1.page-title").First().Text()),
		Poster:     strings.TrimSpace(poster),
		Episodes:   episodes,
		Source:     source.Key,
		SourceName: source.Name,
		Year:       year,
		Desc:       utils.CleanHTML(selectionHTML(doc.Find(".sketch").First())),
	}, nil
}

func selectionHTML(sel *goquery.Selection) string {
	h, err := sel.Html()
	if err != nil {
		return sel.Text()
	}
	return h
}

// mapList 逐条转换，无法转换的条目直接跳过
func (c *DefaultSourceCrawler) mapList(list []map[string]interface{}, source model.Source) []model.SearchResult {
	results := make([]model.SearchResult, 0, len(list))
	for _, item := range list {
		if r, ok := mapToResult(item, source); ok {
			results = append(results, r)
		}
	}
	return results
}

// mapToResult 将资源站条目转换为 SearchResult，没有可播放链接的返回 false
func mapToResult(item map[string]interface{}, source model.Source) (model.SearchResult, bool) {
	id := toString(item["vod_id"])
	title := utils.NormalizeTitle(toString(item["vod_name"]))
	if id == "" || title == "" {
		return model.SearchResult{}, false
	}

	content := toString(item["vod_content"])
	episodes := utils.PickEpisodes(toString(item["vod_play_url"]))
	if len(episodes) == 0 {
		episodes = utils.ExtractM3U8FromContent(content)
	}
	if len(episodes) == 0 {
		return model.SearchResult{}, false
	}

	return model.SearchResult{
		ID:         id,
		Title:      title,
		Poster:     toString(item["vod_pic"]),
		Episodes:   episodes,
		Source:     source.Key,
		SourceName: source.Name,
		Class:      toString(item["vod_class"]),
		Year:       utils.ExtractYear(toString(item["vod_year"])),
		Desc:       utils.CleanHTML(content),
		TypeName:   toString(item["type_name"]),
		DoubanID:   toString(item["vod_douban_id"]),
	}, true
}

// toString 将任意类型转换为string
func toString(v interface{}) string {
	if v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case float64:
		// JSON数字默认解析为float64
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func toInt(v interface{}) int {
	n, _ := strconv.Atoi(toString(v))
	return n
}

var _ SourceCrawler = (*DefaultSourceCrawler)(nil)

// CrawlerFunc 函数形式的 SourceCrawler（只实现搜索）
type CrawlerFunc func(ctx context.Context, source model.Source, query string) ([]model.SearchResult, error)

func (f CrawlerFunc) Search(ctx context.Context, source model.Source, query string) ([]model.SearchResult, error) {
	return f(ctx, source, query)
}

func (f CrawlerFunc) GetDetail(context.Context, model.Source, string) (*model.SearchResult, error) {
	return nil, nil
}
