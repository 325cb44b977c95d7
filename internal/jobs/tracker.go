package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/HerbHall/panupgrade/pkg/models"
	"github.com/HerbHall/panupgrade/pkg/plugin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Event topics published by the tracker.
const (
	TopicLogAppended   = "jobs.log.appended"
	TopicStatusChanged = "jobs.status.changed"
)

// StatusChange is the payload of TopicStatusChanged.
type StatusChange struct {
	JobID       string           `json:"job_id"`
	Status      models.JobStatus `json:"status"`
	CurrentStep string           `json:"current_step"`
}

// Tracker is the sink for task log lines and job status. Writes never fail
// the caller: storage errors are logged and swallowed, and a job id with no
// record turns the call into a no-op.
type Tracker struct {
	store  *Store
	bus    plugin.EventBus
	logger *zap.Logger
}

// NewTracker returns a Tracker. store and bus may be nil, in which case
// lines only reach the process log.
func NewTracker(store *Store, bus plugin.EventBus, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{store: store, bus: bus, logger: logger}
}

// Log appends one line to the job's task log.
func (t *Tracker) Log(ctx context.Context, jobID string, sev models.Severity, msg string) {
	ctx = context.WithoutCancel(ctx)
	entry := models.JobLogEntry{JobID: jobID, Severity: sev, Message: msg, Timestamp: time.Now().UTC()}

	if t.store != nil {
		ok, err := t.store.AppendLog(ctx, &entry)
		if err != nil {
			t.logger.Warn("task log write failed", zap.String("job_id", jobID), zap.Error(err))
			return
		}
		if !ok {
			return
		}
	}
	t.publish(ctx, TopicLogAppended, entry)
}

// SetStatus moves the job to status.
func (t *Tracker) SetStatus(ctx context.Context, jobID string, status models.JobStatus) {
	ctx = context.WithoutCancel(ctx)
	if t.store != nil {
		if err := t.store.UpdateStatus(ctx, jobID, status); err != nil {
			t.logger.Debug("job status not recorded", zap.String("job_id", jobID), zap.Error(err))
		}
	}
	t.logger.Info("job status changed", zap.String("job_id", jobID), zap.String("status", string(status)))
	t.publishStatus(ctx, jobID, status, "")
}

// SetStep records the phase the job is in.
func (t *Tracker) SetStep(ctx context.Context, jobID, step string) {
	ctx = context.WithoutCancel(ctx)
	if t.store != nil {
		if err := t.store.SetCurrentStep(ctx, jobID, step); err != nil {
			t.logger.Debug("job step not recorded", zap.String("job_id", jobID), zap.Error(err))
		}
	}
	t.publishStatus(ctx, jobID, models.JobStatusRunning, step)
}

func (t *Tracker) publishStatus(ctx context.Context, jobID string, status models.JobStatus, step string) {
	t.publish(ctx, TopicStatusChanged, StatusChange{JobID: jobID, Status: status, CurrentStep: step})
}

func (t *Tracker) publish(ctx context.Context, topic string, payload any) {
	if t.bus == nil {
		return
	}
	t.bus.PublishAsync(ctx, plugin.Event{
		Topic:     topic,
		Source:    "jobs",
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
}

// Logger returns a logging handle bound to jobID.
func (t *Tracker) Logger(jobID string) *Logger {
	return &Logger{
		tracker: t,
		jobID:   jobID,
		zl:      t.logger.With(zap.String("job_id", jobID)),
	}
}

// Logger is an immutable job-scoped logging handle. Every line goes to the
// process log with job_id set and to the job's task log.
type Logger struct {
	tracker *Tracker
	jobID   string
	zl      *zap.Logger
}

// JobID returns the job the handle is bound to.
func (l *Logger) JobID() string { return l.jobID }

// With returns a handle that adds fields to process log lines. The task log
// text is unchanged.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{tracker: l.tracker, jobID: l.jobID, zl: l.zl.With(fields...)}
}

// Step records the job's current phase and logs it at info.
func (l *Logger) Step(ctx context.Context, step string) {
	l.tracker.SetStep(ctx, l.jobID, step)
	l.log(ctx, models.SeverityInfo, step)
}

func (l *Logger) Debugf(ctx context.Context, format string, args ...any) {
	l.log(ctx, models.SeverityDebug, fmt.Sprintf(format, args...))
}

func (l *Logger) Infof(ctx context.Context, format string, args ...any) {
	l.log(ctx, models.SeverityInfo, fmt.Sprintf(format, args...))
}

func (l *Logger) Warnf(ctx context.Context, format string, args ...any) {
	l.log(ctx, models.SeverityWarning, fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(ctx context.Context, format string, args ...any) {
	l.log(ctx, models.SeverityError, fmt.Sprintf(format, args...))
}

func (l *Logger) Criticalf(ctx context.Context, format string, args ...any) {
	l.log(ctx, models.SeverityCritical, fmt.Sprintf(format, args...))
}

func (l *Logger) log(ctx context.Context, sev models.Severity, msg string) {
	level := zapcore.InfoLevel
	switch sev {
	case models.SeverityDebug:
		level = zapcore.DebugLevel
	case models.SeverityWarning:
		level = zapcore.WarnLevel
	case models.SeverityError:
		level = zapcore.ErrorLevel
	case models.SeverityCritical:
		level = zapcore.ErrorLevel
	}
	if ce := l.zl.Check(level, msg); ce != nil {
		ce.Write(zap.String("severity", string(sev)))
	}
	l.tracker.Log(ctx, l.jobID, sev, msg)
}
