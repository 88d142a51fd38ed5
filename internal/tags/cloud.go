package tags

import "github.com/approval-polls/backend/internal/models"

// Cloud size buckets.
const (
	MinCloudSize = 1
	MaxCloudSize = 5
)

// CloudTag is a tag with its display size in the tag cloud.
type CloudTag struct {
	models.Tag
	Size int `json:"size"`
}

// Cloud assigns each used tag a size between MinCloudSize and MaxCloudSize, scaled linearly
// between the smallest and largest poll counts. Tags without polls are left out.
// When every tag has the same count they all get the middle size.
func Cloud(tags []models.Tag) []CloudTag {
	out := make([]CloudTag, 0, len(tags))
	lo, hi := -1, -1
	for _, t := range tags {
		if t.PollCount <= 0 {
			continue
		}
		if lo < 0 || t.PollCount < lo {
			lo = t.PollCount
		}
		if t.PollCount > hi {
			hi = t.PollCount
		}
	}
	for _, t := range tags {
		if t.PollCount <= 0 {
			continue
		}
		size := (MinCloudSize + MaxCloudSize) / 2
		if hi > lo {
			size = MinCloudSize + (t.PollCount-lo)*(MaxCloudSize-MinCloudSize)/(hi-lo)
		}
		out = append(out, CloudTag{Tag: t, Size: size})
	}
	return out
}
