package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/katelyatv/internal/model"
)

func withEpisodes(r model.SearchResult, n int) model.SearchResult {
	r.Episodes = make([]string, n)
	return r
}

func TestGroupResultsSplitsMovieAndSeries(t *testing.T) {
	movie := withEpisodes(model.SearchResult{Title: "X", Year: "2020", Source: "a"}, 1)
	series := withEpisodes(model.SearchResult{Title: "X", Year: "2020", Source: "b"}, 2)

	groups := GroupResults([]model.SearchResult{movie, series}, "X")
	require.Len(t, groups, 2)
	assert.ElementsMatch(t, []string{"X-2020-movie", "X-2020-tv"}, []string{groups[0].Key, groups[1].Key})
}

func TestGroupResultsMergesAcrossSources(t *testing.T) {
	a := withEpisodes(model.SearchResult{Title: "流浪 地球", Year: "2019", Source: "a", Poster: ""}, 1)
	b := withEpisodes(model.SearchResult{Title: "流浪地球", Year: "2019", Source: "b", Poster: "http://p"}, 1)

	groups := GroupResults([]model.SearchResult{a, b}, "流浪地球")
	require.Len(t, groups, 1)
	assert.Equal(t, "流浪地球-2019-movie", groups[0].Key)
	assert.Len(t, groups[0].Results, 2)
	assert.Equal(t, "http://p", groups[0].Poster())
}

func TestGroupResultsOrdering(t *testing.T) {
	results := []model.SearchResult{
		withEpisodes(model.SearchResult{Title: "其他", Year: "2024"}, 2),
		withEpisodes(model.SearchResult{Title: "三体", Year: model.UnknownYear}, 2),
		withEpisodes(model.SearchResult{Title: "三体", Year: "2023"}, 30),
		withEpisodes(model.SearchResult{Title: "三体 动画", Year: "2022"}, 12),
		withEpisodes(model.SearchResult{Title: "三体", Year: ""}, 1),
	}

	groups := GroupResults(results, " 三体 ")
	keys := make([]string, len(groups))
	for i, g := range groups {
		keys[i] = g.Key
	}
	assert.Equal(t, []string{
		"三体-2023-tv",
		"三体动画-2022-tv",
		"三体-unknown-movie",
		"三体-unknown-tv",
		"其他-2024-tv",
	}, keys)
}
