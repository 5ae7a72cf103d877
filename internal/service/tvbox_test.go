package service

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/katelyatv/internal/model"
)

func TestBuildTVBoxConfig(t *testing.T) {
	sources := []model.Source{
		{Key: "json", Name: "JSON 源", Api: "https://a.example/api.php/provide/vod"},
		{Key: "xml", Name: "XML 源", Api: "https://b.example/api.php/provide/vod/at/xml"},
		{Name: "无键", Api: "https://c.example/feed.XML", Detail: "https://c.example"},
	}

	cfg, err := BuildTVBoxConfig(sources, "https://tv.example", "KatelyaTV")
	require.NoError(t, err)
	require.Len(t, cfg.Sites, 3)

	assert.Equal(t, 1, cfg.Sites[0].Type)
	assert.Equal(t, 0, cfg.Sites[1].Type)
	assert.Equal(t, 0, cfg.Sites[2].Type)
	assert.Equal(t, "无键", cfg.Sites[2].Key)
	assert.Equal(t, "https://c.example", cfg.Sites[2].Ext)
	assert.Equal(t, 30, cfg.Sites[0].Timeout)
	assert.Equal(t, 1, cfg.Sites[0].Searchable)

	assert.Equal(t, "https://tv.example/screenshot1.png", cfg.Wallpaper)
	require.Len(t, cfg.Lives, 1)
	assert.Equal(t, "https://tv.example/api/live/channels", cfg.Lives[0].URL)
	require.Len(t, cfg.Parses, 3)
	assert.Equal(t, "https://tv.example/api/parse?url=", cfg.Parses[2].URL)
	assert.Equal(t, "KatelyaTV內建解析", cfg.Parses[2].Name)
	assert.NotEmpty(t, cfg.Flags)
	assert.NotEmpty(t, cfg.Ads)
}

func TestBuildTVBoxConfigNoSources(t *testing.T) {
	_, err := BuildTVBoxConfig(nil, "https://tv.example", "KatelyaTV")
	assert.ErrorIs(t, err, ErrNoSources)
}

func TestEncodeTVBoxBase64(t *testing.T) {
	cfg, err := BuildTVBoxConfig([]model.Source{{Key: "a", Name: "A", Api: "https://a.example/api?x=1&y=2"}}, "https://tv.example", "TV")
	require.NoError(t, err)

	raw, err := EncodeTVBoxJSON(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "x=1&y=2")
	assert.Contains(t, string(raw), "\n  \"spider\"")

	encoded, err := EncodeTVBoxBase64(cfg)
	require.NoError(t, err)
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	assert.Equal(t, raw, decoded)

	var back model.TVBoxConfig
	require.NoError(t, json.Unmarshal(decoded, &back))
	assert.Equal(t, "a", back.Sites[0].Key)
}
