package snapshot

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/HerbHall/panupgrade/pkg/models"
	"github.com/HerbHall/panupgrade/pkg/plugin"
	"go.uber.org/zap"
)

// TopicCaptured is published after a snapshot is persisted.
const TopicCaptured = "snapshot.captured"

var (
	// ErrUnknownCategory is returned when a profile enables a category the
	// coordinator does not recognize. No device call is made.
	ErrUnknownCategory = errors.New("unknown snapshot category")
	// ErrEmptyCapture is returned when the device returned no data.
	ErrEmptyCapture = errors.New("snapshot capture returned no data")
)

// Capturer is the device side of a capture.
type Capturer interface {
	CaptureSnapshot(ctx context.Context, categories []string) (*models.SnapshotData, error)
}

// JobLog receives the narrative lines of a capture.
type JobLog interface {
	Infof(ctx context.Context, format string, args ...any)
	Errorf(ctx context.Context, format string, args ...any)
}

// Captured is the payload of TopicCaptured.
type Captured struct {
	ID       string              `json:"id"`
	JobID    string              `json:"job_id"`
	DeviceID string              `json:"device_id"`
	Type     models.SnapshotType `json:"snapshot_type"`
}

// Request describes one capture.
type Request struct {
	JobID    string
	DeviceID string
	Type     models.SnapshotType
	Profile  *models.Profile
}

// Coordinator captures snapshots from devices and persists them.
type Coordinator struct {
	store  *Store
	bus    plugin.EventBus
	logger *zap.Logger
}

// NewCoordinator returns a Coordinator. bus may be nil.
func NewCoordinator(store *Store, bus plugin.EventBus, logger *zap.Logger) *Coordinator {
	return &Coordinator{store: store, bus: bus, logger: logger}
}

// Capture asks the device for every category the profile enables and stores
// the result as one record. Nothing is stored unless the device returns
// data and every row writes. A profile with no categories enabled returns
// nil, nil.
func (c *Coordinator) Capture(ctx context.Context, dev Capturer, log JobLog, req Request) (*models.Snapshot, error) {
	categories := req.Profile.EnabledSnapshotCategories()
	if len(categories) == 0 {
		return nil, nil
	}
	for _, cat := range categories {
		if !slices.Contains(models.KnownSnapshotCategories, models.SnapshotCategory(cat)) {
			log.Errorf(ctx, "snapshot category %q is not recognized", cat)
			return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, cat)
		}
	}

	data, err := dev.CaptureSnapshot(ctx, categories)
	if err != nil {
		return nil, fmt.Errorf("capture %s snapshot: %w", req.Type, err)
	}
	if data.Empty() {
		return nil, ErrEmptyCapture
	}

	snap := &models.Snapshot{
		JobID:        req.JobID,
		DeviceID:     req.DeviceID,
		Type:         req.Type,
		CreatedAt:    time.Now().UTC(),
		SnapshotData: *data,
	}
	if c.store != nil {
		if err := c.store.Create(ctx, snap); err != nil {
			return nil, err
		}
	}
	log.Infof(ctx, "%s snapshot captured for %s (%d categories)", req.Type, req.DeviceID, len(categories))
	c.logger.Debug("snapshot captured",
		zap.String("snapshot_id", snap.ID),
		zap.String("job_id", req.JobID),
		zap.String("device_id", req.DeviceID),
		zap.String("type", string(req.Type)),
	)

	if c.bus != nil {
		c.bus.PublishAsync(ctx, plugin.Event{
			Topic:     TopicCaptured,
			Source:    "snapshot",
			Timestamp: snap.CreatedAt,
			Payload:   Captured{ID: snap.ID, JobID: snap.JobID, DeviceID: snap.DeviceID, Type: snap.Type},
		})
	}
	return snap, nil
}

// Store returns the backing store, nil when captures are not persisted.
func (c *Coordinator) Store() *Store { return c.store }
