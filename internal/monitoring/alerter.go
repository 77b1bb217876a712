package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/provider-validator/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailureRate      AlertType = "run_failure_rate"
	AlertProviderFailureRate AlertType = "provider_failure_rate"
	AlertReviewBacklog       AlertType = "review_backlog"
	AlertLowConfidence       AlertType = "low_confidence"
)

// minFinishedRuns is the number of finished runs needed before the run
// failure rate is meaningful.
const minFinishedRuns = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	finished := snap.RunsCompleted + snap.RunsFailed
	if a.cfg.FailureRateThreshold > 0 && finished >= minFinishedRuns && snap.RunFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Run failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.RunFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.RunsFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.RunFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.RunsFailed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	if a.cfg.FailureRateThreshold > 0 && snap.ProvidersProcessed > 0 && snap.ProviderFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertProviderFailureRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Provider failure rate %.1f%% exceeds threshold %.1f%% (%d of %d in last %dh)",
				snap.ProviderFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.ProvidersFailed, snap.ProvidersProcessed, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.ProviderFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.ProvidersFailed,
				"processed":    snap.ProvidersProcessed,
			},
			Timestamp: now,
		})
	}

	if a.cfg.ReviewBacklogLimit > 0 && snap.OpenReviews > a.cfg.ReviewBacklogLimit {
		severity := "medium"
		if snap.CriticalReviews > 0 {
			severity = "high"
		}
		alerts = append(alerts, Alert{
			Type:     AlertReviewBacklog,
			Severity: severity,
			Message: fmt.Sprintf(
				"%d open review entries exceed limit %d (%d critical, %d escalated)",
				snap.OpenReviews, a.cfg.ReviewBacklogLimit, snap.CriticalReviews, snap.EscalatedReviews,
			),
			Details: map[string]any{
				"open":      snap.OpenReviews,
				"limit":     a.cfg.ReviewBacklogLimit,
				"critical":  snap.CriticalReviews,
				"escalated": snap.EscalatedReviews,
			},
			Timestamp: now,
		})
	}

	if a.cfg.MinAvgConfidence > 0 && snap.ProvidersScored > 0 && snap.AvgConfidence < a.cfg.MinAvgConfidence {
		alerts = append(alerts, Alert{
			Type:     AlertLowConfidence,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Average provider confidence %.3f is below %.3f across %d scored providers in last %dh",
				snap.AvgConfidence, a.cfg.MinAvgConfidence, snap.ProvidersScored, snap.LookbackHours,
			),
			Details: map[string]any{
				"avg_confidence": snap.AvgConfidence,
				"minimum":        a.cfg.MinAvgConfidence,
				"scored":         snap.ProvidersScored,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
