package model

// 片段类型
const (
	SegmentOpening = "opening"
	SegmentEnding  = "ending"
)

// SkipSegment 片头/片尾时间段（秒）
type SkipSegment struct {
	Start           float64 `json:"start"`
	End             float64 `json:"end" validate:"gtfield=Start"`
	Type            string  `json:"type" validate:"oneof=opening ending"`
	Title           string  `json:"title,omitempty"`
	AutoSkip        *bool   `json:"autoSkip,omitempty"`
	AutoNextEpisode *bool   `json:"autoNextEpisode,omitempty"`
}

// EpisodeSkipConfig 某个视频的跳过配置，按 (用户, source+id) 存储
type EpisodeSkipConfig struct {
	Source      string        `json:"source" validate:"required"`
	ID          string        `json:"id" validate:"required"`
	Title       string        `json:"title" validate:"required"`
	Segments    []SkipSegment `json:"segments" validate:"required,dive"`
	UpdatedTime int64         `json:"updated_time"`
}

// SkipConfigKey 跳过配置的存储键
func SkipConfigKey(source, id string) string {
	return source + "+" + id
}
