package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telephis/telephis/internal/baseline"
	"github.com/telephis/telephis/internal/config"
	"github.com/telephis/telephis/internal/cost"
	"github.com/telephis/telephis/internal/detect"
	"github.com/telephis/telephis/internal/detect/mad"
	"github.com/telephis/telephis/internal/detect/singleshot"
	"github.com/telephis/telephis/internal/detect/triage"
	"github.com/telephis/telephis/internal/model"
	"github.com/telephis/telephis/internal/store"
	"github.com/telephis/telephis/pkg/llm"
)

// memStore is an in-memory Store for router tests.
type memStore struct {
	mu        sync.Mutex
	results   map[string]*model.DetectionResult
	usage     []store.UsageStat
	baselines map[string]*baseline.Accumulator
}

func newMemStore() *memStore {
	return &memStore{
		results:   map[string]*model.DetectionResult{},
		baselines: map[string]*baseline.Accumulator{},
	}
}

func (s *memStore) SaveResult(_ context.Context, r *model.DetectionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[r.ID] = r
	return nil
}

func (s *memStore) GetResult(_ context.Context, id string) (*model.DetectionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[id]
	if !ok {
		return nil, eris.New("detection not found")
	}
	return r, nil
}

func (s *memStore) ListResults(_ context.Context, filter store.DetectionFilter) ([]model.DetectionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.DetectionResult
	for _, r := range s.results {
		if filter.Label != "" && r.Label != filter.Label {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

func (s *memStore) RecordUsage(_ context.Context, day time.Time, stage model.Stage, usage model.TokenUsage, costUSD float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = append(s.usage, store.UsageStat{
		Day:          day.UTC().Format("2006-01-02"),
		Stage:        string(stage),
		Requests:     1,
		TokensInput:  int64(usage.Input),
		TokensOutput: int64(usage.Output),
		CostUSD:      costUSD,
	})
	return nil
}

func (s *memStore) UsageSince(_ context.Context, _ time.Time) ([]store.UsageStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage, nil
}

func (s *memStore) LoadBaseline(_ context.Context, senderID string) (*baseline.Accumulator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baselines[senderID], nil
}

func (s *memStore) SaveBaseline(_ context.Context, acc *baseline.Accumulator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baselines[acc.SenderID] = acc
	return nil
}

func (s *memStore) Migrate(context.Context) error { return nil }
func (s *memStore) Close() error                  { return nil }

// safeGateway answers every call with a confident SAFE verdict.
type safeGateway struct{}

func (safeGateway) Generate(context.Context, llm.Request) (*llm.Response, error) {
	return &llm.Response{
		Structured: map[string]any{
			"classification": "SAFE",
			"confidence":     0.95,
			"stance":         "LEGITIMATE",
		},
		Usage: llm.Usage{InputTokens: 100, OutputTokens: 20},
	}, nil
}

func (safeGateway) Provider() string { return "test" }
func (safeGateway) Model() string    { return "test-model" }

func newTestEnv(t *testing.T) (*env, *memStore) {
	t.Helper()
	st := newMemStore()
	gw := safeGateway{}
	pipeline := detect.New(
		triage.New(),
		singleshot.New(gw),
		mad.New(gw, mad.ThreeAgentRoster()),
		detect.WithRecorder(st),
	)
	guard := cost.NewBudgetGuard(st, cost.NewCalculator(nil), 5.0)

	cfg = &config.Config{Budget: config.BudgetConfig{MonthlyUSD: 5.0}}
	return &env{
		Store:     st,
		Gateway:   gw,
		Pipeline:  pipeline,
		Guard:     guard,
		ModelName: "deepseek-chat",
	}, st
}

func TestHealthEndpoint(t *testing.T) {
	e, _ := newTestEnv(t)
	srv := httptest.NewServer(newRouter(e))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAnalyzeEndpoint(t *testing.T) {
	e, _ := newTestEnv(t)
	srv := httptest.NewServer(newRouter(e))
	defer srv.Close()

	body := `{"text": "halo semua, rapat jam 10 ya", "sender_id": "u1"}`
	resp, err := http.Post(srv.URL+"/api/analyze", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result model.DetectionResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, model.LabelSafe, result.Label)
	assert.Equal(t, model.StageTriage, result.Stage, "no URLs and no flags skip the LLM")
	assert.Equal(t, model.ActionNone, result.Action)
	assert.NotEmpty(t, result.ID)
}

func TestAnalyzeEndpointRejectsEmptyText(t *testing.T) {
	e, _ := newTestEnv(t)
	srv := httptest.NewServer(newRouter(e))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/analyze", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/analyze", "application/json", strings.NewReader(`{bad json`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDetectionsEndpoints(t *testing.T) {
	e, st := newTestEnv(t)
	srv := httptest.NewServer(newRouter(e))
	defer srv.Close()

	saved := &model.DetectionResult{
		ID:    "d1",
		Label: model.LabelPhishing,
		Stage: model.StageMAD,
	}
	require.NoError(t, st.SaveResult(context.Background(), saved))

	resp, err := http.Get(srv.URL + "/api/detections?label=PHISHING")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var listBody struct {
		Detections []model.DetectionResult `json:"detections"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listBody))
	require.Len(t, listBody.Detections, 1)
	assert.Equal(t, "d1", listBody.Detections[0].ID)

	resp, err = http.Get(srv.URL + "/api/detections/d1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/detections/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUsageEndpoint(t *testing.T) {
	e, st := newTestEnv(t)
	srv := httptest.NewServer(newRouter(e))
	defer srv.Close()

	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, st.RecordUsage(context.Background(), day, model.StageSingleShot,
		model.TokenUsage{Input: 100, Output: 40}, 0.002))

	resp, err := http.Get(srv.URL + "/api/usage?since=2026-03-01")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Since       string            `json:"since"`
		Daily       []store.UsageStat `json:"daily"`
		MonthToDate float64           `json:"month_to_date_usd"`
		BudgetUSD   float64           `json:"budget_usd"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "2026-03-01", body.Since)
	require.Len(t, body.Daily, 1)
	assert.Equal(t, 5.0, body.BudgetUSD)

	resp, err = http.Get(srv.URL + "/api/usage?since=not-a-date")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
