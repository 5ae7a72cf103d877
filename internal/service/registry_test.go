package service

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/user/katelyatv/internal/model"
)

func testSources() []model.Source {
	return []model.Source{
		{Key: "a", Name: "A", Api: "http://a.example/api"},
		{Key: "b", Name: "B", Api: "http://b.example/api", IsAdult: true},
		{Key: "c", Name: "C", Api: "http://c.example/api"},
	}
}

func TestAvailableSitesFiltersAdult(t *testing.T) {
	r := NewStaticRegistry(testSources(), 600)

	filtered := r.AvailableSites(true)
	assert.Equal(t, []string{"a", "c"}, keysOf(filtered))
	for _, s := range filtered {
		assert.False(t, s.IsAdult)
	}

	assert.Equal(t, testSources(), r.AvailableSites(false))
}

func TestAvailableSitesTwoSourceRegistry(t *testing.T) {
	r := NewStaticRegistry([]model.Source{{Key: "a"}, {Key: "b", IsAdult: true}}, 0)
	assert.Equal(t, []string{"a"}, keysOf(r.AvailableSites(true)))
}

func TestRegistryFindAndCacheTime(t *testing.T) {
	r := NewStaticRegistry(testSources(), 0)

	s, ok := r.Find("c")
	assert.True(t, ok)
	assert.Equal(t, "C", s.Name)

	_, ok = r.Find("missing")
	assert.False(t, ok)

	// cache_time 未配置时使用默认值
	r2 := NewRegistry(func() ([]model.Source, int, error) { return nil, 0, nil }, time.Minute, 7200)
	assert.Equal(t, 7200, r2.CacheTime())
}

func TestRegistryKeepsLastGoodOnLoadError(t *testing.T) {
	calls := 0
	r := NewRegistry(func() ([]model.Source, int, error) {
		calls++
		if calls == 1 {
			return testSources(), 300, nil
		}
		return nil, 0, errors.New("boom")
	}, time.Millisecond, 7200)

	assert.Len(t, r.Sources(), 3)
	time.Sleep(5 * time.Millisecond)
	assert.Len(t, r.Sources(), 3)
	assert.Equal(t, 300, r.CacheTime())
	assert.GreaterOrEqual(t, calls, 2)
}

func TestRegistrySourcesReturnsCopy(t *testing.T) {
	r := NewStaticRegistry(testSources(), 0)
	got := r.Sources()
	got[0].Name = "changed"
	assert.Equal(t, "A", r.Sources()[0].Name)
}

func keysOf(sources []model.Source) []string {
	keys := make([]string, 0, len(sources))
	for _, s := range sources {
		keys = append(keys, s.Key)
	}
	return keys
}
