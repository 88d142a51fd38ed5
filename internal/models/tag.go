package models

// Tag is a label attached to polls.
type Tag struct {
	ID        int64  `json:"id"`
	Text      string `json:"tag_text"`
	PollCount int    `json:"poll_count"`
}
