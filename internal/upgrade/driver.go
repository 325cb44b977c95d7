package upgrade

import (
	"context"

	"github.com/HerbHall/panupgrade/pkg/models"
)

// Driver is the device control surface the workflow consumes.
type Driver interface {
	SystemInfo(ctx context.Context) (*models.SystemInfo, error)
	HAStatus(ctx context.Context) (*models.HAStatus, error)
	SoftwareCatalog(ctx context.Context) (models.SoftwareCatalog, error)
	DownloadSoftware(ctx context.Context, version string) error
	InstallSoftware(ctx context.Context, version string) error
	SuspendHA(ctx context.Context) (string, error)
	Reboot(ctx context.Context) error
	CaptureSnapshot(ctx context.Context, categories []string) (*models.SnapshotData, error)
}

// DriverFactory opens a Driver for a device with a profile's credentials.
type DriverFactory func(dev *models.Device, prof *models.Profile) Driver

// Inventory is the read side of device and profile records plus the device
// update written after a reboot.
type Inventory interface {
	GetDevice(ctx context.Context, id string) (*models.Device, error)
	FindDeviceByAddress(ctx context.Context, addr string) (*models.Device, error)
	GetProfile(ctx context.Context, id string) (*models.Profile, error)
	UpsertDevice(ctx context.Context, d *models.Device) error
}
