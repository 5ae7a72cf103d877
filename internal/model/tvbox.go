package model

// TVBoxSite TVBox 影视源
type TVBoxSite struct {
	Key         string   `json:"key"`
	Name        string   `json:"name"`
	Type        int      `json:"type"` // 0=XML 1=JSON
	Api         string   `json:"api"`
	Searchable  int      `json:"searchable"`
	QuickSearch int      `json:"quickSearch"`
	Filterable  int      `json:"filterable"`
	Ext         string   `json:"ext"`
	Timeout     int      `json:"timeout"`
	Categories  []string `json:"categories"`
}

// TVBoxLive 直播源
type TVBoxLive struct {
	Name string `json:"name"`
	Type int    `json:"type"`
	URL  string `json:"url"`
	EPG  string `json:"epg"`
	Logo string `json:"logo"`
}

// TVBoxParse 解析源
type TVBoxParse struct {
	Name string                 `json:"name"`
	Type int                    `json:"type"`
	URL  string                 `json:"url"`
	Ext  map[string]interface{} `json:"ext,omitempty"`
}

// TVBoxConfig TVBox 客户端配置
type TVBoxConfig struct {
	Spider    string       `json:"spider"`
	Wallpaper string       `json:"wallpaper"`
	Sites     []TVBoxSite  `json:"sites"`
	Parses    []TVBoxParse `json:"parses"`
	Flags     []string     `json:"flags"`
	Lives     []TVBoxLive  `json:"lives"`
	Ads       []string     `json:"ads"`
}
