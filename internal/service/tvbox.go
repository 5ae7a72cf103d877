package service

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"

	"github.com/user/katelyatv/internal/model"
)

// ErrNoSources 没有配置任何资源站
var ErrNoSources = errors.New("no sources configured")

var tvboxCategories = []string{"電影", "電視劇", "綜藝", "動漫", "紀錄片", "短劇"}

var tvboxFlags = []string{
	"youku", "qq", "iqiyi", "qiyi", "letv", "sohu", "tudou", "pptv",
	"mgtv", "wasu", "bilibili", "le", "duoduozy", "renrenmi", "xigua",
	"優酷", "騰訊", "愛奇藝", "奇藝", "樂視", "搜狐", "土豆", "PPTV",
	"芒果", "華數", "嗶哩", "1905",
}

var tvboxAds = []string{
	"mimg.0c1q0l.cn", "www.googletagmanager.com", "www.google-analytics.com",
	"mc.usihnbcq.cn", "mg.g1mm3d.cn", "mscs.svaeuzh.cn", "cnzz.hhurm.com",
	"tp.vinuxhome.com", "cnzz.mmstat.com", "www.baihuillq.com", "s23.cnzz.com",
	"z3.cnzz.com", "c.cnzz.com", "stj.v1vo.top", "z12.cnzz.com",
	"img.mosflower.cn", "tips.gamevvip.com", "ehwe.yhdtns.com", "xdn.cqqc3.com",
	"www.jixunkyy.cn", "sp.chemacid.cn", "hm.baidu.com", "s9.cnzz.com",
	"z6.cnzz.com", "um.cavuc.com", "mav.mavuz.com", "wofwk.aoidf3.com",
	"z5.cnzz.com", "xc.hubeijieshikj.cn", "tj.tianwenhu.com", "xg.gars57.cn",
	"k.jinxiuzhilv.com", "cdn.bootcss.com", "ppl.xunzhuo123.com", "xomk.jiangjunmh.top",
	"img.xunzhuo123.com", "z1.cnzz.com", "s13.cnzz.com", "xg.huataisangao.cn",
	"z7.cnzz.com", "z2.cnzz.com", "s96.cnzz.com", "q11.cnzz.com",
	"thy.dacedsfa.cn", "xg.whsbpw.cn", "s19.cnzz.com", "z8.cnzz.com",
	"s4.cnzz.com", "f5w.as12df.top", "ae01.alicdn.com", "www.92424.cn",
	"k.wudejia.com", "vivovip.mmszxc.top", "qiu.xixiqiu.com", "cdnjs.hnfenxun.com",
	"cms.qdwght.com",
}

// tvboxSiteType XML 接口为 0，其余按 JSON 处理
func tvboxSiteType(api string) int {
	lower := strings.ToLower(api)
	if strings.Contains(lower, "at/xml") || strings.HasSuffix(lower, ".xml") {
		return 0
	}
	return 1
}

// BuildTVBoxConfig 根据资源站列表生成 TVBox 配置，baseUrl 形如 https://host
func BuildTVBoxConfig(sources []model.Source, baseUrl string, siteName string) (*model.TVBoxConfig, error) {
	if len(sources) == 0 {
		return nil, ErrNoSources
	}

	sites := make([]model.TVBoxSite, 0, len(sources))
	for _, s := range sources {
		key := s.Key
		if key == "" {
			key = s.Name
		}
		sites = append(sites, model.TVBoxSite{
			Key:         key,
			Name:        s.Name,
			Type:        tvboxSiteType(s.Api),
			Api:         s.Api,
			Searchable:  1,
			QuickSearch: 1,
			Filterable:  1,
			Ext:         s.Detail,
			Timeout:     30,
			Categories:  append([]string(nil), tvboxCategories...),
		})
	}

	return &model.TVBoxConfig{
		Spider:    "",
		Wallpaper: baseUrl + "/screenshot1.png",
		Sites:     sites,
		Parses: []model.TVBoxParse{
			{Name: "Json併發", Type: 2, URL: "Parallel"},
			{Name: "Json輪詢", Type: 2, URL: "Sequence"},
			{
				Name: siteName + "內建解析",
				Type: 1,
				URL:  baseUrl + "/api/parse?url=",
				Ext: map[string]interface{}{
					"flag": []string{"qiyi", "qq", "letv", "sohu", "youku", "mgtv", "bilibili", "wasu", "xigua", "1905"},
				},
			},
		},
		Flags: append([]string(nil), tvboxFlags...),
		Lives: []model.TVBoxLive{
			{Name: siteName + "直播", Type: 0, URL: baseUrl + "/api/live/channels"},
		},
		Ads: append([]string(nil), tvboxAds...),
	}, nil
}

// EncodeTVBoxJSON 两空格缩进，不转义 HTML 字符
func EncodeTVBoxJSON(cfg *model.TVBoxConfig) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(cfg); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// EncodeTVBoxBase64 TVBox 常用的 base64 文本格式
func EncodeTVBoxBase64(cfg *model.TVBoxConfig) (string, error) {
	data, err := EncodeTVBoxJSON(cfg)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
