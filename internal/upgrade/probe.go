package upgrade

import (
	"context"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	"go.uber.org/zap"
)

// Prober checks whether a management address answers at the network layer.
type Prober interface {
	Reachable(ctx context.Context, addr string) bool
}

type icmpProber struct {
	count      int
	timeout    time.Duration
	privileged bool
	logger     *zap.Logger
}

// NewICMPProber returns a Prober sending a few echo requests per check.
func NewICMPProber(privileged bool, logger *zap.Logger) Prober {
	return &icmpProber{count: 3, timeout: 5 * time.Second, privileged: privileged, logger: logger}
}

func (p *icmpProber) Reachable(ctx context.Context, addr string) bool {
	pinger, err := probing.NewPinger(addr)
	if err != nil {
		p.logger.Debug("failed to create pinger", zap.String("addr", addr), zap.Error(err))
		return false
	}
	pinger.Count = p.count
	pinger.Timeout = p.timeout
	pinger.SetPrivileged(p.privileged)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if runErr := pinger.Run(); runErr != nil {
			p.logger.Debug("ping failed", zap.String("addr", addr), zap.Error(runErr))
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
		pinger.Stop()
		<-done
		return false
	}
	return pinger.Statistics().PacketsRecv > 0
}
