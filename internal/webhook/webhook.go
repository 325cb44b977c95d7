// Package webhook posts a notification to an HTTP endpoint whenever an
// upgrade job finishes.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/HerbHall/panupgrade/internal/jobs"
	"github.com/HerbHall/panupgrade/pkg/models"
	"github.com/HerbHall/panupgrade/pkg/plugin"
	"github.com/juju/clock"
	"github.com/juju/retry"
	"go.uber.org/zap"
)

var _ plugin.Plugin = (*Module)(nil)

// EventJobFinished is the event name carried by every notification.
const EventJobFinished = "job.finished"

// Config holds the webhook module configuration.
type Config struct {
	URL      string
	Timeout  time.Duration
	Enabled  bool
	Attempts int
	Delay    time.Duration
}

type jobsProvider interface {
	Store() *jobs.Store
}

// Module implements the job notification plugin.
type Module struct {
	logger *zap.Logger
	cfg    Config
	client *http.Client
	bus    plugin.EventBus
	jobs   *jobs.Store
	clock  clock.Clock
	unsub  func()
}

// New creates a new webhook module.
func New() *Module {
	return &Module{}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:         "webhook",
		Version:      "0.1.0",
		Description:  "Posts a notification to a webhook URL when an upgrade job finishes",
		Dependencies: []string{"jobs"},
		Roles:        []string{"notification"},
		APIVersion:   plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(_ context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.bus = deps.Bus
	if m.clock == nil {
		m.clock = clock.WallClock
	}

	m.cfg = Config{
		Timeout:  10 * time.Second,
		Enabled:  true,
		Attempts: 3,
		Delay:    2 * time.Second,
	}
	if deps.Config != nil {
		if u := deps.Config.GetString("url"); u != "" {
			m.cfg.URL = u
		}
		if d := deps.Config.GetDuration("timeout"); d > 0 {
			m.cfg.Timeout = d
		}
		if deps.Config.IsSet("enabled") {
			m.cfg.Enabled = deps.Config.GetBool("enabled")
		}
		if n := deps.Config.GetInt("attempts"); n > 0 {
			m.cfg.Attempts = n
		}
		if d := deps.Config.GetDuration("retry_delay"); d > 0 {
			m.cfg.Delay = d
		}
	}
	if deps.Plugins != nil {
		if p, ok := deps.Plugins.Resolve("jobs"); ok {
			if jp, ok := p.(jobsProvider); ok {
				m.jobs = jp.Store()
			}
		}
	}

	m.client = &http.Client{Timeout: m.cfg.Timeout}

	if m.cfg.URL == "" {
		m.logger.Debug("webhook URL not configured; job notifications are off")
	}
	m.logger.Info("webhook module initialized",
		zap.Bool("configured", m.cfg.URL != ""),
		zap.Duration("timeout", m.cfg.Timeout),
		zap.Bool("enabled", m.cfg.Enabled),
	)
	return nil
}

func (m *Module) Start(_ context.Context) error {
	if m.bus == nil || !m.cfg.Enabled || m.cfg.URL == "" {
		return nil
	}
	m.unsub = m.bus.Subscribe(jobs.TopicStatusChanged, m.handleEvent)
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	if m.unsub != nil {
		m.unsub()
		m.unsub = nil
	}
	return nil
}

// WebhookPayload is the JSON body sent to the webhook URL.
type WebhookPayload struct {
	Event     string           `json:"event"`
	Timestamp string           `json:"timestamp"`
	JobID     string           `json:"job_id"`
	Status    models.JobStatus `json:"status"`
	Job       *models.Job      `json:"job,omitempty"`
}

func (m *Module) handleEvent(ctx context.Context, event plugin.Event) {
	if !m.cfg.Enabled || m.cfg.URL == "" {
		return
	}
	change, ok := event.Payload.(jobs.StatusChange)
	if !ok || !change.Status.Terminal() {
		return
	}

	payload := WebhookPayload{
		Event:     EventJobFinished,
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
		JobID:     change.JobID,
		Status:    change.Status,
	}
	if m.jobs != nil {
		job, err := m.jobs.Get(ctx, change.JobID)
		if err != nil {
			m.logger.Debug("job record unavailable for webhook", zap.String("job_id", change.JobID), zap.Error(err))
		}
		payload.Job = job
	}

	body, err := json.Marshal(payload)
	if err != nil {
		m.logger.Error("failed to marshal webhook payload", zap.String("job_id", change.JobID), zap.Error(err))
		return
	}

	m.send(ctx, body, change.JobID)
}

// send delivers body, retrying transport failures and 5xx answers.
func (m *Module) send(ctx context.Context, body []byte, jobID string) {
	var status int
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			var err error
			status, err = m.post(ctx, body)
			return err
		},
		IsFatalError: func(err error) bool { return status >= 400 && status < 500 },
		Attempts:     m.cfg.Attempts,
		Delay:        m.cfg.Delay,
		Clock:        m.clock,
		Stop:         ctx.Done(),
	})
	if err != nil {
		m.logger.Warn("webhook delivery failed",
			zap.String("job_id", jobID),
			zap.Int("status_code", status),
			zap.Error(retry.LastError(err)),
		)
		return
	}
	m.logger.Debug("webhook delivered", zap.String("job_id", jobID), zap.Int("status_code", status))
}

func (m *Module) post(ctx context.Context, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "panupgrade-webhook/0.1")

	resp, err := m.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return resp.StatusCode, fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}
