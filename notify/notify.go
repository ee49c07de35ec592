// Package notify emits structured alert records for operational
// failures: a single item classified Fatal, or a batch whose failure
// rate exceeds the configured threshold. Delivery is best-effort and
// never feeds back into pipeline outcomes.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Alert types.
const (
	AlertItemFatal       = "ITEM_FATAL"
	AlertHighFailureRate = "HIGH_FAILURE_RATE"
)

// Alert is the structured record handed to the notification
// collaborator.
type Alert struct {
	AlertType         string    `json:"alert_type"`
	WorkflowName      string    `json:"workflow_name"`
	ErrorDetails      string    `json:"error_details"`
	RecommendedAction string    `json:"recommended_action"`
	IncidentID        string    `json:"incident_id"`
	Timestamp         time.Time `json:"timestamp"`
}

// NewAlert builds an alert with a fresh incident ID.
func NewAlert(alertType, workflow, details, action string) Alert {
	return Alert{
		AlertType:         alertType,
		WorkflowName:      workflow,
		ErrorDetails:      details,
		RecommendedAction: action,
		IncidentID:        uuid.NewString()[:8],
		Timestamp:         time.Now().UTC(),
	}
}

// RecommendedAction returns operator guidance for an alert type.
func RecommendedAction(alertType string) string {
	switch alertType {
	case AlertItemFatal:
		return "Inspect the referenced image and its store entry; validate input data format"
	case AlertHighFailureRate:
		return "Check inference endpoint health and object store accessibility; review recent batch logs"
	default:
		return "Review pipeline logs for details"
	}
}

// Notifier delivers alerts.
type Notifier interface {
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the structured log. It is the default
// sink when no webhook is configured.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With(zap.String("component", "notify"))}
}

func (n *LogNotifier) Send(_ context.Context, alert Alert) error {
	n.logger.Warn("pipeline alert",
		zap.String("alert_type", alert.AlertType),
		zap.String("workflow", alert.WorkflowName),
		zap.String("error_details", alert.ErrorDetails),
		zap.String("recommended_action", alert.RecommendedAction),
		zap.String("incident_id", alert.IncidentID),
	)
	return nil
}

// WebhookNotifier POSTs alerts as JSON to a configured URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// NewWebhookNotifier creates a webhook-backed notifier.
func NewWebhookNotifier(url string, timeout time.Duration, logger *zap.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger.With(zap.String("component", "notify")),
	}
}

func (n *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("alert webhook returned status %d", resp.StatusCode)
	}

	n.logger.Info("alert delivered",
		zap.String("alert_type", alert.AlertType),
		zap.String("incident_id", alert.IncidentID),
	)
	return nil
}
