package panos

import (
	"net/http"
	"sync"
	"time"

	"github.com/HerbHall/panupgrade/pkg/models"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DialerConfig holds the XML API transport settings.
type DialerConfig struct {
	Timeout time.Duration `mapstructure:"api_timeout"`
	RPS     float64       `mapstructure:"api_rps"`
	Burst   int           `mapstructure:"api_burst"`
}

// DefaultDialerConfig returns the transport defaults.
func DefaultDialerConfig() DialerConfig {
	return DialerConfig{
		Timeout: 60 * time.Second,
		RPS:     5,
		Burst:   5,
	}
}

// Dialer builds clients for inventory devices. Clients that reach the same
// management address share one rate limiter, so a Panorama proxying many
// firewalls sees a single request budget.
type Dialer struct {
	cfg        DialerConfig
	httpClient *http.Client
	logger     *zap.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewDialer returns a Dialer. hc may be nil to use the client default.
func NewDialer(cfg DialerConfig, hc *http.Client, logger *zap.Logger) *Dialer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dialer{
		cfg:        cfg,
		httpClient: hc,
		logger:     logger,
		limiters:   make(map[string]*rate.Limiter),
	}
}

// Dial returns a client for dev authenticated with prof's credentials.
func (d *Dialer) Dial(dev *models.Device, prof *models.Profile) *Client {
	addr := dev.Address()
	opts := []Option{
		WithLimiter(d.limiter(addr)),
		WithLogger(d.logger.With(zap.String("device_id", dev.ID))),
	}
	if d.cfg.Timeout > 0 {
		opts = append(opts, WithTimeout(d.cfg.Timeout))
	}
	if d.httpClient != nil {
		opts = append(opts, WithHTTPClient(d.httpClient))
	}
	if dev.Topology == models.TopologyPanorama && dev.Serial != "" {
		opts = append(opts, WithTarget(dev.Serial))
	}
	creds := Credentials{}
	if prof != nil {
		creds = Credentials{Username: prof.Username, Password: prof.Password, APIKey: prof.APIKey}
	}
	return NewClient(addr, creds, opts...)
}

func (d *Dialer) limiter(addr string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	if l, ok := d.limiters[addr]; ok {
		return l
	}
	limit := rate.Inf
	if d.cfg.RPS > 0 {
		limit = rate.Limit(d.cfg.RPS)
	}
	burst := d.cfg.Burst
	if burst < 1 {
		burst = 1
	}
	l := rate.NewLimiter(limit, burst)
	d.limiters[addr] = l
	return l
}
