package triage

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telephis/telephis/internal/model"
)

func baselineAt(hours ...int) *model.BaselineSnapshot {
	return &model.BaselineSnapshot{
		TotalMessages: 50,
		AvgMsgLength:  60,
		StdMsgLength:  15,
		ActiveHours:   hours,
		URLShareRate:  0.1,
	}
}

func sentAt(hour int) time.Time {
	return time.Date(2026, 3, 10, hour, 30, 0, 0, time.UTC)
}

func TestDetectAnomaliesNilBaseline(t *testing.T) {
	assert.Nil(t, DetectAnomalies("halo", sentAt(12), false, nil, 10))
}

func TestDetectAnomaliesInsufficientHistory(t *testing.T) {
	b := baselineAt(9, 10)
	b.TotalMessages = 5
	assert.Nil(t, DetectAnomalies("halo", sentAt(3), false, b, 10))
}

func TestTimeAnomaly(t *testing.T) {
	b := baselineAt(9, 10, 11)

	anomalies := DetectAnomalies(strings.Repeat("a", 60), sentAt(3), false, b, 10)

	require.Len(t, anomalies, 1)
	assert.Equal(t, "time_anomaly", anomalies[0].Type)
	// 6 hours circular distance from 09:00, scaled by 12
	assert.InDelta(t, 0.5, anomalies[0].Deviation, 0.001)
}

func TestTimeAnomalyWrapsAroundMidnight(t *testing.T) {
	b := baselineAt(23)

	// 01:00 is two hours from 23:00 going forward, not 22 back.
	anomalies := DetectAnomalies(strings.Repeat("a", 60), sentAt(1), false, b, 10)

	require.Len(t, anomalies, 1)
	assert.Equal(t, "time_anomaly", anomalies[0].Type)
	assert.InDelta(t, 2.0/12.0, anomalies[0].Deviation, 0.001)
}

func TestTimeAnomalyWithinTypicalHours(t *testing.T) {
	b := baselineAt(12)
	assert.Empty(t, DetectAnomalies(strings.Repeat("a", 60), sentAt(12), false, b, 10))
}

func TestLengthAnomaly(t *testing.T) {
	b := baselineAt(12)

	anomalies := DetectAnomalies(strings.Repeat("a", 300), sentAt(12), false, b, 10)

	require.Len(t, anomalies, 1)
	assert.Equal(t, "length_anomaly", anomalies[0].Type)
	assert.Contains(t, anomalies[0].Description, "longer")
	// z = (300-60)/15 = 16, capped at 1.0
	assert.Equal(t, 1.0, anomalies[0].Deviation)
}

func TestLengthAnomalyWithinTwoSigma(t *testing.T) {
	b := baselineAt(12)
	assert.Empty(t, DetectAnomalies(strings.Repeat("a", 80), sentAt(12), false, b, 10))
}

func TestFirstTimeURL(t *testing.T) {
	b := baselineAt(12)
	b.URLShareRate = 0

	text := strings.Repeat("a", 60)
	anomalies := DetectAnomalies(text, sentAt(12), true, b, 10)

	require.Len(t, anomalies, 1)
	assert.Equal(t, "first_time_url", anomalies[0].Type)
	assert.Equal(t, 0.7, anomalies[0].Deviation)

	// Senders who routinely share URLs do not trip it.
	b.URLShareRate = 0.2
	assert.Empty(t, DetectAnomalies(text, sentAt(12), true, b, 10))
}

func TestEmojiAnomaly(t *testing.T) {
	b := baselineAt(12)
	b.EmojiRate = 0

	text := strings.Repeat("a", 40) + strings.Repeat("🎉", 20)
	anomalies := DetectAnomalies(text, sentAt(12), false, b, 10)

	require.Len(t, anomalies, 1)
	assert.Equal(t, "emoji_anomaly", anomalies[0].Type)
}

func TestEmojiRate(t *testing.T) {
	assert.Equal(t, 0.0, EmojiRate(""))
	assert.Equal(t, 0.0, EmojiRate("halo semua"))
	assert.Equal(t, 1.0, EmojiRate("🎉🚀😀"))
	assert.InDelta(t, 0.5, EmojiRate("ab🎉😀"), 0.001)
}
