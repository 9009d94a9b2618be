package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telephis/telephis/internal/baseline"
	"github.com/telephis/telephis/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleResult(id string) *model.DetectionResult {
	return &model.DetectionResult{
		ID:         id,
		MessageID:  "msg-" + id,
		ChatID:     "chat-1",
		SenderID:   "sender-1",
		Label:      model.LabelPhishing,
		Confidence: 0.87,
		Stage:      model.StageMAD,
		Action:     model.ActionFlagReview,
		Usage:      model.TokenUsage{Input: 500, Output: 120},
		DurationMS: 2300,
		Trace: model.Trace{
			Triage: &model.TriageReport{
				RiskScore: 45,
				Class:     model.TriageHighRisk,
			},
		},
		CreatedAt: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
}

func TestSaveAndGetResult(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	want := sampleResult("d1")
	require.NoError(t, s.SaveResult(ctx, want))

	got, err := s.GetResult(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Label, got.Label)
	assert.Equal(t, want.Confidence, got.Confidence)
	assert.Equal(t, want.Stage, got.Stage)
	assert.Equal(t, want.Action, got.Action)
	assert.Equal(t, want.Usage, got.Usage)
	require.NotNil(t, got.Trace.Triage)
	assert.Equal(t, 45, got.Trace.Triage.RiskScore)
}

func TestGetResultNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetResult(context.Background(), "missing")
	assert.Error(t, err)
}

func TestListResultsFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	phishing := sampleResult("d1")
	safe := sampleResult("d2")
	safe.Label = model.LabelSafe
	safe.SenderID = "sender-2"
	otherChat := sampleResult("d3")
	otherChat.ChatID = "chat-2"

	for _, r := range []*model.DetectionResult{phishing, safe, otherChat} {
		require.NoError(t, s.SaveResult(ctx, r))
	}

	byLabel, err := s.ListResults(ctx, DetectionFilter{Label: model.LabelPhishing})
	require.NoError(t, err)
	assert.Len(t, byLabel, 2)

	byChat, err := s.ListResults(ctx, DetectionFilter{ChatID: "chat-2"})
	require.NoError(t, err)
	require.Len(t, byChat, 1)
	assert.Equal(t, "d3", byChat[0].ID)

	bySender, err := s.ListResults(ctx, DetectionFilter{SenderID: "sender-2"})
	require.NoError(t, err)
	require.Len(t, bySender, 1)
	assert.Equal(t, "d2", bySender[0].ID)
}

func TestListResultsLimitAndOffset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"d1", "d2", "d3"} {
		r := sampleResult(id)
		r.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.SaveResult(ctx, r))
	}

	page, err := s.ListResults(ctx, DetectionFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "d3", page[0].ID, "newest first")

	next, err := s.ListResults(ctx, DetectionFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, "d1", next[0].ID)
}

func TestRecordUsageAccumulates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.RecordUsage(ctx, day, model.StageSingleShot, model.TokenUsage{Input: 100, Output: 40}, 0.001))
	require.NoError(t, s.RecordUsage(ctx, day, model.StageSingleShot, model.TokenUsage{Input: 200, Output: 60}, 0.002))
	require.NoError(t, s.RecordUsage(ctx, day, model.StageMAD, model.TokenUsage{Input: 900, Output: 300}, 0.01))

	stats, err := s.UsageSince(ctx, day)
	require.NoError(t, err)
	require.Len(t, stats, 2)

	byStage := map[string]UsageStat{}
	for _, u := range stats {
		byStage[u.Stage] = u
	}

	ss := byStage[string(model.StageSingleShot)]
	assert.Equal(t, "2026-03-10", ss.Day)
	assert.Equal(t, 2, ss.Requests)
	assert.Equal(t, int64(300), ss.TokensInput)
	assert.Equal(t, int64(100), ss.TokensOutput)
	assert.InDelta(t, 0.003, ss.CostUSD, 1e-9)

	mad := byStage[string(model.StageMAD)]
	assert.Equal(t, 1, mad.Requests)
}

func TestUsageSinceExcludesOlderDays(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.RecordUsage(ctx, old, model.StageSingleShot, model.TokenUsage{Input: 10, Output: 5}, 0.0001))
	require.NoError(t, s.RecordUsage(ctx, recent, model.StageSingleShot, model.TokenUsage{Input: 10, Output: 5}, 0.0001))

	stats, err := s.UsageSince(ctx, time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "2026-03-10", stats[0].Day)
}

func TestBaselineRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	acc := baseline.New("sender-1")
	acc.Observe("halo semua", time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	acc.Observe("cek https://contoh.com", time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC))
	require.NoError(t, s.SaveBaseline(ctx, acc))

	got, err := s.LoadBaseline(ctx, "sender-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, acc.Count, got.Count)
	assert.Equal(t, acc.LengthMean, got.LengthMean)
	assert.Equal(t, acc.URLMessages, got.URLMessages)

	// upsert replaces the stored state
	acc.Observe("pesan ketiga", time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC))
	require.NoError(t, s.SaveBaseline(ctx, acc))

	got, err = s.LoadBaseline(ctx, "sender-1")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Count)
}

func TestLoadBaselineMissingIsNil(t *testing.T) {
	s := newTestStore(t)

	got, err := s.LoadBaseline(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, got)
}
