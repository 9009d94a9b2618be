package triage

import (
	"fmt"
	"math"
	"time"

	"github.com/telephis/telephis/internal/model"
)

// Anomaly detection thresholds.
const (
	timeAnomalyThreshold    = 2   // hours of circular distance
	lengthZScoreThreshold   = 2.0 // standard deviations
	styleDeviationThreshold = 0.3
	firstURLMinMessages     = 10
)

// DetectAnomalies compares the current message against the sender's
// baseline. A nil or insufficient baseline yields no anomalies.
func DetectAnomalies(text string, sentAt time.Time, hasURL bool, baseline *model.BaselineSnapshot, minMessages int) []model.Anomaly {
	if minMessages <= 0 {
		minMessages = firstURLMinMessages
	}
	if !baseline.Sufficient(minMessages) {
		return nil
	}

	var anomalies []model.Anomaly

	if a := timeAnomaly(sentAt.Hour(), baseline.ActiveHours); a != nil {
		anomalies = append(anomalies, *a)
	}
	if a := lengthAnomaly(len([]rune(text)), baseline.AvgMsgLength, baseline.StdMsgLength); a != nil {
		anomalies = append(anomalies, *a)
	}
	if a := firstTimeURL(hasURL, baseline.URLShareRate, baseline.TotalMessages); a != nil {
		anomalies = append(anomalies, *a)
	}
	if a := emojiAnomaly(EmojiRate(text), baseline.EmojiRate); a != nil {
		anomalies = append(anomalies, *a)
	}

	return anomalies
}

// timeAnomaly uses circular hour distance to the nearest typical hour.
func timeAnomaly(hour int, typicalHours []int) *model.Anomaly {
	if len(typicalHours) == 0 {
		return nil
	}

	minDistance := 24
	for _, t := range typicalHours {
		if t == hour {
			return nil
		}
		d := hour - t
		if d < 0 {
			d = -d
		}
		if 24-d < d {
			d = 24 - d
		}
		if d < minDistance {
			minDistance = d
		}
	}

	if minDistance < timeAnomalyThreshold {
		return nil
	}
	return &model.Anomaly{
		Type:        "time_anomaly",
		Description: fmt.Sprintf("message sent at unusual hour (%02d:00)", hour),
		Deviation:   math.Min(float64(minDistance)/12.0, 1.0),
	}
}

func lengthAnomaly(length int, avg, std float64) *model.Anomaly {
	if avg == 0 {
		return nil
	}
	if std == 0 {
		std = avg * 0.3
	}

	z := math.Abs(float64(length)-avg) / std
	if z < lengthZScoreThreshold {
		return nil
	}

	direction := "shorter"
	if float64(length) > avg {
		direction = "longer"
	}
	return &model.Anomaly{
		Type:        "length_anomaly",
		Description: fmt.Sprintf("message is significantly %s than usual", direction),
		Deviation:   math.Min(z/5.0, 1.0),
	}
}

func firstTimeURL(hasURL bool, urlRate float64, totalMessages int) *model.Anomaly {
	if !hasURL || urlRate != 0 || totalMessages < firstURLMinMessages {
		return nil
	}
	return &model.Anomaly{
		Type:        "first_time_url",
		Description: "sender sharing a URL for the first time",
		Deviation:   0.7,
	}
}

func emojiAnomaly(current, baseline float64) *model.Anomaly {
	if current == 0 && baseline == 0 {
		return nil
	}

	var diff float64
	if baseline == 0 {
		diff = current
	} else {
		diff = math.Abs(current-baseline) / math.Max(baseline, 0.01)
	}

	if diff < styleDeviationThreshold {
		return nil
	}
	return &model.Anomaly{
		Type:        "emoji_anomaly",
		Description: "unusual emoji usage pattern",
		Deviation:   math.Min(diff, 1.0),
	}
}

// EmojiRate returns emoji runes per character of text.
func EmojiRate(text string) float64 {
	runes := []rune(text)
	if len(runes) == 0 {
		return 0
	}
	var emojis int
	for _, r := range runes {
		if isEmoji(r) {
			emojis++
		}
	}
	return float64(emojis) / float64(len(runes))
}

func isEmoji(r rune) bool {
	switch {
	case r >= 0x1F600 && r <= 0x1F64F: // emoticons
		return true
	case r >= 0x1F300 && r <= 0x1F5FF: // symbols and pictographs
		return true
	case r >= 0x1F680 && r <= 0x1F6FF: // transport and map symbols
		return true
	case r >= 0x1F1E0 && r <= 0x1F1FF: // flags
		return true
	case r >= 0x2702 && r <= 0x27B0:
		return true
	case r >= 0x1F900 && r <= 0x1F9FF: // supplemental symbols
		return true
	}
	return false
}
