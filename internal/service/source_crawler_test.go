package service

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/katelyatv/internal/model"
)

func macCMSServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "videolist", q.Get("ac"))
		w.Header().Set("Content-Type", "application/json")

		if ids := q.Get("ids"); ids != "" {
			fmt.Fprintf(w, `{"code":1,"list":[{"vod_id":%s,"vod_name":"详情","vod_year":"2021","vod_play_url":"第1集$http://cdn/d.m3u8"}]}`, ids)
			return
		}

		switch q.Get("pg") {
		case "", "1":
			fmt.Fprint(w, `{"code":1,"page":1,"pagecount":3,"list":[
				{"vod_id":1,"vod_name":"  流浪  地球 ","vod_year":"2019年","vod_pic":"http://img/1.jpg",
				 "vod_play_url":"第1集$http://cdn/1.m3u8$$$第1集$http://cdn/b1.m3u8#第2集$http://cdn/b2.m3u8",
				 "vod_content":"<p>简介</p>","type_name":"科幻片","vod_douban_id":26266893},
				{"vod_id":2,"vod_name":"无播放地址","vod_play_url":"第1集$http://cdn/1.mp4"},
				{"vod_id":3,"vod_name":"简介里有地址","vod_play_url":"","vod_content":"正片$http://cdn/c.m3u8"}
			]}`)
		case "2":
			fmt.Fprint(w, `{"code":1,"page":2,"pagecount":3,"list":[{"vod_id":"4","vod_name":"第二页","vod_play_url":"http://cdn/4.m3u8"}]}`)
		case "3":
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
}

func TestDefaultSourceCrawlerSearch(t *testing.T) {
	srv := macCMSServer(t)
	defer srv.Close()

	c := NewSourceCrawler(time.Second, 5)
	src := model.Source{Key: "s1", Name: "源一", Api: srv.URL}

	got, err := c.Search(context.Background(), src, "流浪地球")
	require.NoError(t, err)
	require.Len(t, got, 3)

	first := got[0]
	assert.Equal(t, "1", first.ID)
	assert.Equal(t, "流浪 地球", first.Title)
	assert.Equal(t, "2019", first.Year)
	assert.Equal(t, []string{"http://cdn/b1.m3u8", "http://cdn/b2.m3u8"}, first.Episodes)
	assert.Equal(t, "s1", first.Source)
	assert.Equal(t, "源一", first.SourceName)
	assert.Equal(t, "简介", first.Desc)
	assert.Equal(t, "26266893", first.DoubanID)

	assert.Equal(t, "3", got[1].ID)
	assert.Equal(t, []string{"http://cdn/c.m3u8"}, got[1].Episodes)
	assert.Equal(t, model.UnknownYear, got[1].Year)

	// 第 3 页失败不影响结果
	assert.Equal(t, "4", got[2].ID)
}

func TestDefaultSourceCrawlerSearchRespectsMaxPages(t *testing.T) {
	srv := macCMSServer(t)
	defer srv.Close()

	c := NewSourceCrawler(time.Second, 1)
	got, err := c.Search(context.Background(), model.Source{Key: "s1", Api: srv.URL}, "q")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestDefaultSourceCrawlerSearchUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewSourceCrawler(time.Second, 1).Search(context.Background(), model.Source{Key: "x", Api: srv.URL}, "q")
	assert.Error(t, err)
}

func TestDefaultSourceCrawlerSearchBadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>not json</html>")
	}))
	defer srv.Close()

	_, err := NewSourceCrawler(time.Second, 1).Search(context.Background(), model.Source{Key: "x", Api: srv.URL}, "q")
	assert.Error(t, err)
}

func TestDefaultSourceCrawlerGetDetail(t *testing.T) {
	srv := macCMSServer(t)
	defer srv.Close()

	got, err := NewSourceCrawler(time.Second, 1).GetDetail(context.Background(), model.Source{Key: "s1", Api: srv.URL}, "7")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "7", got.ID)
	assert.Equal(t, "2021", got.Year)
}

func TestDefaultSourceCrawlerScrapesDetailPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/index.php/vod/detail/id/9.html"))
		fmt.Fprint(w, `<html><body>
			<h1 class="page-title"> 特殊 片名 </h1>
			<div class="thumb"><img src="http://img/9.jpg"></div>
			<span>2022</span>
			<div class="sketch"><p>剧情</p></div>
			<a href="#">第1集$https://v.example/20220101/1_abc123/index.m3u8</a>
			<a href="#">第1集$https://v.example/20220101/1_abc123/index.m3u8</a>
			<a href="#">第2集$https://v.example/20220102/2_def456/index.m3u8</a>
		</body></html>`)
	}))
	defer srv.Close()

	src := model.Source{Key: "sp", Name: "特殊源", Api: srv.URL + "/api", Detail: srv.URL}
	got, err := NewSourceCrawler(time.Second, 1).GetDetail(context.Background(), src, "9")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "特殊 片名", got.Title)
	assert.Equal(t, "http://img/9.jpg", got.Poster)
	assert.Equal(t, "2022", got.Year)
	assert.Equal(t, "剧情", got.Desc)
	assert.Equal(t, []string{
		"https://v.example/20220101/1_abc123/index.m3u8",
		"https://v.example/20220102/2_def456/index.m3u8",
	}, got.Episodes)
}
