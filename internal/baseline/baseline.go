// Package baseline maintains per-sender behavioral profiles. The
// accumulator is updated incrementally per message and snapshots feed
// the triage stage's anomaly detection.
package baseline

import (
	"math"
	"sort"
	"time"

	"github.com/telephis/telephis/internal/detect/triage"
	"github.com/telephis/telephis/internal/model"
	"github.com/telephis/telephis/internal/urlcheck"
)

// An hour counts as typical once it holds at least this share of the
// sender's messages.
const activeHourShare = 0.05

// Accumulator is the persistent running state for one sender. Length
// statistics use Welford's online algorithm so no message history is
// retained.
type Accumulator struct {
	SenderID     string    `json:"sender_id"`
	Count        int       `json:"count"`
	LengthMean   float64   `json:"length_mean"`
	LengthM2     float64   `json:"length_m2"`
	HourCounts   [24]int   `json:"hour_counts"`
	URLMessages  int       `json:"url_messages"`
	EmojiRateSum float64   `json:"emoji_rate_sum"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// New creates an empty accumulator for a sender.
func New(senderID string) *Accumulator {
	return &Accumulator{SenderID: senderID}
}

// Observe folds one message into the profile.
func (a *Accumulator) Observe(text string, sentAt time.Time) {
	a.Count++

	length := float64(len([]rune(text)))
	delta := length - a.LengthMean
	a.LengthMean += delta / float64(a.Count)
	a.LengthM2 += delta * (length - a.LengthMean)

	a.HourCounts[sentAt.Hour()]++
	if urlcheck.HasURL(text) {
		a.URLMessages++
	}
	a.EmojiRateSum += triage.EmojiRate(text)
	a.UpdatedAt = sentAt
}

// Snapshot derives the metrics the detection stages consume.
func (a *Accumulator) Snapshot() *model.BaselineSnapshot {
	if a == nil || a.Count == 0 {
		return nil
	}

	var std float64
	if a.Count > 1 {
		std = math.Sqrt(a.LengthM2 / float64(a.Count-1))
	}

	threshold := int(math.Ceil(float64(a.Count) * activeHourShare))
	if threshold < 1 {
		threshold = 1
	}
	var hours []int
	for h, n := range a.HourCounts {
		if n >= threshold {
			hours = append(hours, h)
		}
	}
	sort.Ints(hours)

	return &model.BaselineSnapshot{
		SenderID:      a.SenderID,
		AvgMsgLength:  a.LengthMean,
		StdMsgLength:  std,
		ActiveHours:   hours,
		URLShareRate:  float64(a.URLMessages) / float64(a.Count),
		EmojiRate:     a.EmojiRateSum / float64(a.Count),
		TotalMessages: a.Count,
		UpdatedAt:     a.UpdatedAt,
	}
}
