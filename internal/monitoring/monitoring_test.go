package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/provider-validator/internal/config"
	"github.com/sells-group/provider-validator/internal/model"
	"github.com/sells-group/provider-validator/internal/store"
)

type fakeSource struct {
	runs      []model.ValidationRun
	reviews   []model.ReviewQueueEntry
	runFilter store.RunFilter
	runsErr   error
	pages     int
}

func (f *fakeSource) ListRuns(_ context.Context, filter store.RunFilter) ([]model.ValidationRun, error) {
	f.runFilter = filter
	return f.runs, f.runsErr
}

func (f *fakeSource) ListReviewQueue(_ context.Context, filter store.ReviewFilter) ([]model.ReviewQueueEntry, error) {
	f.pages++
	if !filter.OpenOnly {
		return nil, errors.New("collector must only read open entries")
	}
	if filter.Offset >= len(f.reviews) {
		return nil, nil
	}
	end := min(filter.Offset+filter.Limit, len(f.reviews))
	return f.reviews[filter.Offset:end], nil
}

func TestCollector_Collect(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	src := &fakeSource{
		runs: []model.ValidationRun{
			{Status: model.RunStatusCompleted, ProvidersProcessed: 10, ProvidersFailed: 1, ProvidersFlagged: 3, ProvidersScored: 9, ConfidenceSum: 7.2, EvidenceDiscarded: 2},
			{Status: model.RunStatusCompleted, ProvidersProcessed: 10, ProvidersScored: 10, ConfidenceSum: 9.0},
			{Status: model.RunStatusFailed, ProvidersProcessed: 5, ProvidersFailed: 4, ProvidersScored: 1, ConfidenceSum: 0.3},
			{Status: model.RunStatusRunning},
			{Status: model.RunStatusPending},
		},
		reviews: []model.ReviewQueueEntry{
			{ReviewStatus: model.ReviewPending, IssueSeverity: model.SeverityCritical},
			{ReviewStatus: model.ReviewEscalated, IssueSeverity: model.SeverityHigh},
			{ReviewStatus: model.ReviewInReview, IssueSeverity: model.SeverityLow},
		},
	}
	c := NewCollector(src)
	c.now = func() time.Time { return now }

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, now.Add(-24*time.Hour), src.runFilter.CreatedAfter)
	assert.Equal(t, 5, snap.RunsTotal)
	assert.Equal(t, 2, snap.RunsCompleted)
	assert.Equal(t, 1, snap.RunsFailed)
	assert.Equal(t, 1, snap.RunsRunning)
	assert.Equal(t, 1, snap.RunsPending)
	assert.InDelta(t, 1.0/3.0, snap.RunFailRate, 1e-9)
	assert.Equal(t, int64(25), snap.ProvidersProcessed)
	assert.Equal(t, int64(5), snap.ProvidersFailed)
	assert.InDelta(t, 0.2, snap.ProviderFailRate, 1e-9)
	assert.Equal(t, int64(3), snap.ProvidersFlagged)
	assert.InDelta(t, 16.5/20.0, snap.AvgConfidence, 1e-9)
	assert.Equal(t, int64(2), snap.EvidenceDiscarded)
	assert.Equal(t, 3, snap.OpenReviews)
	assert.Equal(t, 1, snap.EscalatedReviews)
	assert.Equal(t, 1, snap.CriticalReviews)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.Equal(t, now, snap.CollectedAt)
}

func TestCollector_PagesReviewQueue(t *testing.T) {
	src := &fakeSource{reviews: make([]model.ReviewQueueEntry, reviewPageSize+5)}
	for i := range src.reviews {
		src.reviews[i].ReviewStatus = model.ReviewPending
	}

	snap, err := NewCollector(src).Collect(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, reviewPageSize+5, snap.OpenReviews)
	assert.Equal(t, 2, src.pages)
}

func TestCollector_Empty(t *testing.T) {
	snap, err := NewCollector(&fakeSource{}).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Zero(t, snap.RunFailRate)
	assert.Zero(t, snap.ProviderFailRate)
	assert.Zero(t, snap.AvgConfidence)
}

func TestCollector_StoreError(t *testing.T) {
	_, err := NewCollector(&fakeSource{runsErr: errors.New("db down")}).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list runs")
}

func testMonitoringConfig() config.MonitoringConfig {
	return config.MonitoringConfig{
		FailureRateThreshold: 0.10,
		ReviewBacklogLimit:   100,
		MinAvgConfidence:     0.5,
		LookbackWindowHours:  24,
	}
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())

	alerts := a.Evaluate(&MetricsSnapshot{
		RunsCompleted:      19,
		RunsFailed:         1,
		RunFailRate:        0.05,
		ProvidersProcessed: 100,
		ProvidersFailed:    2,
		ProviderFailRate:   0.02,
		ProvidersScored:    98,
		AvgConfidence:      0.82,
		OpenReviews:        40,
		LookbackHours:      24,
	})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_RunFailureRate(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())

	alerts := a.Evaluate(&MetricsSnapshot{
		RunsCompleted: 12,
		RunsFailed:    8,
		RunFailRate:   0.4,
		LookbackHours: 24,
	})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertRunFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "40.0%")
}

func TestAlerter_Evaluate_TooFewRuns(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())

	alerts := a.Evaluate(&MetricsSnapshot{RunsCompleted: 2, RunsFailed: 2, RunFailRate: 0.5})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_ProviderFailureRate(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())

	alerts := a.Evaluate(&MetricsSnapshot{
		ProvidersProcessed: 50,
		ProvidersFailed:    10,
		ProviderFailRate:   0.2,
		LookbackHours:      24,
	})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertProviderFailureRate, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "10 of 50")
}

func TestAlerter_Evaluate_ReviewBacklog(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())

	alerts := a.Evaluate(&MetricsSnapshot{OpenReviews: 150, EscalatedReviews: 4})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertReviewBacklog, alerts[0].Type)
	assert.Equal(t, "medium", alerts[0].Severity)

	alerts = a.Evaluate(&MetricsSnapshot{OpenReviews: 150, CriticalReviews: 1})
	require.Len(t, alerts, 1)
	assert.Equal(t, "high", alerts[0].Severity)
}

func TestAlerter_Evaluate_LowConfidence(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())

	alerts := a.Evaluate(&MetricsSnapshot{ProvidersScored: 30, AvgConfidence: 0.41, LookbackHours: 24})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertLowConfidence, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "0.410")

	// Nothing scored means nothing to judge.
	assert.Empty(t, a.Evaluate(&MetricsSnapshot{}))
}

func TestAlerter_Evaluate_DisabledThresholds(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})

	alerts := a.Evaluate(&MetricsSnapshot{
		RunsCompleted:      1,
		RunsFailed:         9,
		RunFailRate:        0.9,
		ProvidersProcessed: 10,
		ProviderFailRate:   0.9,
		ProvidersScored:    1,
		AvgConfidence:      0.1,
		OpenReviews:        10000,
	})
	assert.Empty(t, alerts)
}

func TestAlerter_SendAlerts(t *testing.T) {
	var received atomic.Int32
	var lastType atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var alert Alert
		if err := json.NewDecoder(r.Body).Decode(&alert); err == nil {
			lastType.Store(string(alert.Type))
		}
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testMonitoringConfig()
	cfg.WebhookURL = srv.URL
	a := NewAlerter(cfg)

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertReviewBacklog, Severity: "medium", Message: "backlog"},
		{Type: AlertLowConfidence, Severity: "medium", Message: "low"},
	})
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
	assert.Equal(t, string(AlertLowConfidence), lastType.Load())
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testMonitoringConfig()
	cfg.WebhookURL = srv.URL
	sent := NewAlerter(cfg).SendAlerts(context.Background(), []Alert{{Type: AlertReviewBacklog}})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_NoWebhook(t *testing.T) {
	sent := NewAlerter(testMonitoringConfig()).SendAlerts(context.Background(), []Alert{{Type: AlertReviewBacklog}})
	assert.Equal(t, 0, sent)
}

func TestChecker_Check(t *testing.T) {
	src := &fakeSource{runs: []model.ValidationRun{
		{Status: model.RunStatusCompleted, ProvidersProcessed: 4, ProvidersScored: 4, ConfidenceSum: 1.2},
	}}
	cfg := testMonitoringConfig()
	checker := NewChecker(NewCollector(src), NewAlerter(cfg), cfg)

	alerts := checker.Check(context.Background(), zap.NewNop())
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertLowConfidence, alerts[0].Type)

	failing := NewChecker(NewCollector(&fakeSource{runsErr: errors.New("down")}), NewAlerter(cfg), cfg)
	assert.Nil(t, failing.Check(context.Background(), zap.NewNop()))
}

func TestChecker_RunStopsOnCancel(t *testing.T) {
	cfg := testMonitoringConfig()
	cfg.CheckIntervalSecs = 1
	checker := NewChecker(NewCollector(&fakeSource{}), NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}
