package risk

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Alert is the notification payload sent to channels on a rule breach.
type Alert struct {
	RuleID    string    `json:"rule_id"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Snapshot  Snapshot  `json:"snapshot"`
}

// Channel delivers alerts to one notification transport.
type Channel interface {
	// Name returns the channel identifier used in severity routing.
	Name() string

	// Notify delivers a single alert. Delivery failures are the channel's
	// own concern; the router logs and moves on.
	Notify(alert Alert) error
}

// Router maps severities to channel sets and dispatches alerts. High
// severity reaches every configured channel, medium a reduced set, low only
// the local log, unless overridden via SetRoute.
type Router struct {
	channels map[string]Channel
	routes   map[Severity][]string
	log      *slog.Logger
}

// NewRouter creates a Router with no channels and the default severity
// routes.
func NewRouter(log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		channels: make(map[string]Channel),
		routes: map[Severity][]string{
			SeverityHigh:   {"log", "journal", "webhook"},
			SeverityMedium: {"log", "journal"},
			SeverityLow:    {"log"},
		},
		log: log.With("component", "notify"),
	}
}

// AddChannel registers a channel under its Name. Re-adding overwrites.
func (r *Router) AddChannel(c Channel) {
	r.channels[c.Name()] = c
}

// SetRoute overrides the channel names notified for a severity.
func (r *Router) SetRoute(severity Severity, channelNames []string) {
	r.routes[severity] = channelNames
}

// Dispatch sends the alert to every channel mapped to its severity.
// Channels that are routed but not registered are skipped; a failing
// channel does not block the others.
func (r *Router) Dispatch(alert Alert) {
	for _, name := range r.routes[alert.Severity] {
		ch, ok := r.channels[name]
		if !ok {
			continue
		}
		if err := ch.Notify(alert); err != nil {
			r.log.Error("alert delivery failed",
				"channel", name, "rule", alert.RuleID, "err", err)
		}
	}
}

// LogChannel writes alerts to the structured log. It is the minimal channel
// every severity reaches.
type LogChannel struct {
	log *slog.Logger
}

// NewLogChannel creates a LogChannel on the given logger.
func NewLogChannel(log *slog.Logger) *LogChannel {
	if log == nil {
		log = slog.Default()
	}
	return &LogChannel{log: log}
}

// Name returns "log".
func (c *LogChannel) Name() string { return "log" }

// Notify logs the alert at warn level.
func (c *LogChannel) Notify(alert Alert) error {
	c.log.Warn("risk alert",
		"rule", alert.RuleID,
		"severity", alert.Severity,
		"message", alert.Message,
		"total_value", alert.Snapshot.TotalValue,
		"drawdown", alert.Snapshot.Drawdown)
	return nil
}

// WebhookChannel POSTs alerts as JSON to a configured URL.
type WebhookChannel struct {
	url    string
	client *http.Client
}

// NewWebhookChannel creates a WebhookChannel targeting url. An empty URL
// disables delivery (Notify becomes a no-op).
func NewWebhookChannel(url string) *WebhookChannel {
	return &WebhookChannel{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Name returns "webhook".
func (c *WebhookChannel) Name() string { return "webhook" }

// Notify POSTs the alert. Responses with status >= 400 are errors.
func (c *WebhookChannel) Notify(alert Alert) error {
	if c.url == "" {
		return nil
	}
	data, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	resp, err := c.client.Post(c.url, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
