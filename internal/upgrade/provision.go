package upgrade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/HerbHall/panupgrade/pkg/models"
	"github.com/juju/clock"
)

var (
	// ErrDownloadInProgress is returned when the device reports the image
	// is already downloading, i.e. another operation owns the download slot.
	ErrDownloadInProgress = errors.New("software download already in progress on device")
	// ErrNotInCatalog is returned when the device does not offer a version.
	ErrNotInCatalog = errors.New("version not available on device")

	errDownloadPending = errors.New("download not finished")
)

// Provisioner makes sure software images are present on devices.
type Provisioner struct {
	lock         DeviceLock
	clock        clock.Clock
	pollInterval time.Duration
	pollAttempts int
}

// NewProvisioner returns a Provisioner polling download progress every
// pollInterval, at most pollAttempts times per download.
func NewProvisioner(lock DeviceLock, clk clock.Clock, pollInterval time.Duration, pollAttempts int) *Provisioner {
	if lock == nil {
		lock = NewLocalLock()
	}
	if clk == nil {
		clk = clock.WallClock
	}
	return &Provisioner{lock: lock, clock: clk, pollInterval: pollInterval, pollAttempts: pollAttempts}
}

// CheckAvailable refreshes the device catalog and returns it when version
// is listed.
func (p *Provisioner) CheckAvailable(ctx context.Context, drv Driver, version string) (models.SoftwareCatalog, error) {
	catalog, err := drv.SoftwareCatalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("read software catalog: %w", err)
	}
	if _, ok := catalog[version]; !ok {
		return nil, fmt.Errorf("%s: %w", version, ErrNotInCatalog)
	}
	return catalog, nil
}

// EnsureDownloaded makes version present on the device. An image that is
// already downloaded returns at once. An image the device reports as
// downloading before this call starts one fails with ErrDownloadInProgress
// without retry. Otherwise the download is started and polled to
// completion, the whole sequence retried per policy. A retry finding our
// own download still running goes back to polling instead of starting it
// again. After a fresh download the call waits one retry interval so the
// device can register the image.
func (p *Provisioner) EnsureDownloaded(ctx context.Context, drv Driver, deviceKey, version string, policy models.RetryPolicy, log JobLog) error {
	release, err := p.lock.Acquire(ctx, deviceKey)
	if err != nil {
		return err
	}
	defer release()

	catalog, err := drv.SoftwareCatalog(ctx)
	if err != nil {
		downloadsTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("download %s: read software catalog: %w", version, err)
	}
	img, ok := catalog[version]
	switch {
	case !ok:
		downloadsTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("%s: %w", version, ErrNotInCatalog)
	case img.Downloaded:
		downloadsTotal.WithLabelValues("present").Inc()
		log.Infof(ctx, "%s already downloaded", version)
		return nil
	case img.Downloading:
		downloadsTotal.WithLabelValues("conflict").Inc()
		log.Errorf(ctx, "%s is already downloading on the device; refusing to start a second download", version)
		return fmt.Errorf("%s: %w", version, ErrDownloadInProgress)
	}

	started := false
	attempt := func() error {
		if started {
			catalog, err := drv.SoftwareCatalog(ctx)
			if err != nil {
				return fmt.Errorf("read software catalog: %w", err)
			}
			switch img := catalog[version]; {
			case img.Downloaded:
				return nil
			case img.Downloading:
				log.Infof(ctx, "%s still downloading; polling again", version)
				return p.poll(ctx, drv, version)
			}
		}

		log.Infof(ctx, "downloading %s", version)
		if err := drv.DownloadSoftware(ctx, version); err != nil {
			return fmt.Errorf("start download of %s: %w", version, err)
		}
		started = true
		return p.poll(ctx, drv, version)
	}

	loop := retryLoop{
		clock:  p.clock,
		policy: policy,
		notify: func(err error, n int) {
			log.Warnf(ctx, "download attempt %d of %s failed: %v", n, version, err)
		},
	}
	if err := loop.run(ctx, attempt); err != nil {
		downloadsTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("download %s: %w", version, err)
	}

	downloadsTotal.WithLabelValues("downloaded").Inc()
	log.Infof(ctx, "%s downloaded, waiting %s for the software manager", version, policy.RetryInterval)
	return sleep(ctx, p.clock, policy.RetryInterval)
}

func (p *Provisioner) poll(ctx context.Context, drv Driver, version string) error {
	loop := retryLoop{
		clock:  p.clock,
		policy: models.RetryPolicy{MaximumAttempts: p.pollAttempts, RetryInterval: p.pollInterval},
	}
	err := loop.run(ctx, func() error {
		catalog, err := drv.SoftwareCatalog(ctx)
		if err != nil {
			return err
		}
		if catalog[version].Downloaded {
			return nil
		}
		return errDownloadPending
	})
	if err != nil {
		return fmt.Errorf("wait for download of %s: %w", version, err)
	}
	return nil
}
