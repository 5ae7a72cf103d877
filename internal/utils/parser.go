package utils

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	reYear        = regexp.MustCompile(`\d{4}`)
	reContentM3U8 = regexp.MustCompile(`\$(https?://[^"'\s]+?\.m3u8)`)
)

// NormalizeTitle 去除首尾空白并把连续空白压缩为一个空格
func NormalizeTitle(title string) string {
	return strings.Join(strings.Fields(title), " ")
}

// ExtractYear 取第一个 4 位数字作为年份，没有则返回 "unknown"
func ExtractYear(raw string) string {
	if y := reYear.FindString(raw); y != "" {
		return y
	}
	return "unknown"
}

// PlaySource 播放源
type PlaySource struct {
	Name     string
	Episodes []PlayEpisode
}

// PlayEpisode 剧集/播放链接
type PlayEpisode struct {
	Title string
	URL   string
}

// ParsePlayUrl 解析资源网播放链接，只保留 m3u8 地址
// 格式: 源1第1集$URL1#第2集$URL2$$$源2第1集$URL1...
func ParsePlayUrl(playUrl string) []PlaySource {
	if playUrl == "" {
		return nil
	}

	var sources []PlaySource
	for _, seg := range strings.Split(playUrl, "$$$") {
		if seg == "" {
			continue
		}

		source := PlaySource{}
		for _, epSeg := range strings.Split(seg, "#") {
			if epSeg == "" {
				continue
			}

			var title, url string
			parts := strings.Split(epSeg, "$")
			if len(parts) >= 2 {
				title, url = parts[0], parts[1]
			} else {
				title, url = "正片", parts[0]
			}
			url = strings.TrimSpace(url)

			if strings.HasSuffix(url, ".m3u8") {
				source.Episodes = append(source.Episodes, PlayEpisode{Title: title, URL: url})
			}
		}

		if len(source.Episodes) > 0 {
			if len(sources) == 0 {
				source.Name = "默认源"
			} else {
				source.Name = "备用源 " + string(rune('A'+len(sources)))
			}
			sources = append(sources, source)
		}
	}
	return sources
}

// PickEpisodes 选出 m3u8 链接最多的那一组播放地址
func PickEpisodes(playUrl string) []string {
	var best []PlayEpisode
	for _, src := range ParsePlayUrl(playUrl) {
		if len(src.Episodes) > len(best) {
			best = src.Episodes
		}
	}
	urls := make([]string, 0, len(best))
	for _, ep := range best {
		urls = append(urls, ep.URL)
	}
	return urls
}

// ExtractM3U8FromContent 从简介等富文本中提取 "$http...m3u8" 形式的链接
func ExtractM3U8FromContent(content string) []string {
	var urls []string
	for _, m := range reContentM3U8.FindAllStringSubmatch(content, -1) {
		urls = append(urls, m[1])
	}
	return urls
}

// CleanHTML 去除 HTML 标签，只保留文本
func CleanHTML(s string) string {
	if s == "" || !strings.Contains(s, "<") {
		return strings.TrimSpace(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	doc.Find("br,p,div,li").Each(func(_ int, sel *goquery.Selection) {
		sel.AppendHtml("\n")
	})

	var lines []string
	for _, line := range strings.Split(doc.Text(), "\n") {
		if line = NormalizeTitle(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
