package directory

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/GoCodeAlone/fabrichost"
	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule runs a sweep every minute.
const DefaultSweepSchedule = "@every 1m"

// Prober reports whether an address still accepts connections.
type Prober func(ctx context.Context, address string) error

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithProber replaces the default TCP dial probe.
func WithProber(p Prober) SweeperOption {
	return func(s *Sweeper) { s.probe = p }
}

// WithProbeTimeout bounds each probe. Default 2s.
func WithProbeTimeout(d time.Duration) SweeperOption {
	return func(s *Sweeper) { s.probeTimeout = d }
}

// WithSweeperLogger sets the logger.
func WithSweeperLogger(l fabrichost.Logger) SweeperOption {
	return func(s *Sweeper) { s.logger = l }
}

// Sweeper periodically removes endpoints that no longer accept
// connections. Stale entries pile up in a long-lived dev directory when
// host processes are killed without deregistering.
type Sweeper struct {
	dir          Directory
	schedule     string
	probe        Prober
	probeTimeout time.Duration
	logger       fabrichost.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	started bool
}

// NewSweeper validates schedule (standard cron syntax or @every) and
// returns a stopped sweeper.
func NewSweeper(dir Directory, schedule string, opts ...SweeperOption) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("directory: invalid sweep schedule %q: %w", schedule, err)
	}
	s := &Sweeper{
		dir:          dir,
		schedule:     schedule,
		probe:        dialProbe,
		probeTimeout: 2 * time.Second,
		logger:       fabrichost.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start schedules sweeps. Calling it twice is a no-op.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() {
		removed, err := s.Sweep(ctx)
		if err != nil {
			s.logger.Warn("Directory sweep failed", "error", err)
			return
		}
		if removed > 0 {
			s.logger.Info("Directory sweep removed stale endpoints", "removed", removed)
		}
	}); err != nil {
		return fmt.Errorf("directory: schedule sweep: %w", err)
	}
	c.Start()
	s.cron = c
	s.started = true
	s.logger.Debug("Directory sweeper started", "schedule", s.schedule)
	return nil
}

// Stop cancels future sweeps and waits for a running one, bounded by ctx.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	c := s.cron
	s.mu.Unlock()

	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep probes every registered endpoint once and deregisters the ones
// that fail. It returns how many endpoints were removed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	services, err := s.dir.Services(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, service := range services {
		apps, err := s.dir.Applications(ctx, service)
		if err != nil {
			return removed, err
		}
		for _, app := range apps {
			endpoints, err := s.dir.Endpoints(ctx, service, app)
			if err != nil {
				return removed, err
			}
			seen := make(map[string]bool, len(endpoints))
			for _, address := range endpoints {
				if seen[address] {
					continue
				}
				seen[address] = true
				if err := ctx.Err(); err != nil {
					return removed, err
				}
				probeCtx, cancel := context.WithTimeout(ctx, s.probeTimeout)
				probeErr := s.probe(probeCtx, address)
				cancel()
				if probeErr == nil {
					continue
				}

				entry := Entry{ServiceName: service, ApplicationName: app, Address: address}
				s.logger.Debug("Endpoint unreachable", "entry", entry.String(), "error", probeErr)
				if err := s.dir.Deregister(ctx, entry); err != nil {
					return removed, err
				}
				removed++
			}
		}
	}
	return removed, nil
}

func dialProbe(ctx context.Context, address string) error {
	u, err := url.Parse(address)
	if err != nil {
		return err
	}
	host := u.Host
	if u.Port() == "" {
		port := "80"
		if u.Scheme == "https" {
			port = "443"
		}
		host = net.JoinHostPort(u.Hostname(), port)
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		return err
	}
	return conn.Close()
}
