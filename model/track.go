package model

// Track 房间内播放的曲目
// 曲目是否变化只比较 Src
type Track struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Artist   string  `json:"artist,omitempty"`
	CoverURL string  `json:"coverUrl,omitempty"`
	Src      string  `json:"src"`
	Duration float64 `json:"duration,omitempty"` // 秒
}

// SameSource 判断两首曲目是否指向同一音源
func (t *Track) SameSource(other *Track) bool {
	if t == nil || other == nil {
		return t == nil && other == nil
	}
	return t.Src == other.Src
}
