// Package ownership implements per-application server election (spec.md
// §4.4): exactly one node in the cluster may schedule a given app's jobs
// at a time, backed by a short-lived lock row in the persistent store.
package ownership

import (
	"context"
	"sync"
	"time"

	"github.com/eliasyaoyc/fastjob/internal/clock"
	"github.com/eliasyaoyc/fastjob/internal/errors"
	"github.com/eliasyaoyc/fastjob/internal/logger"
	"github.com/eliasyaoyc/fastjob/internal/store"
	"github.com/eliasyaoyc/fastjob/internal/transport"
)

const (
	// DefaultLockHoldMS is the election lock's max_hold_ms (spec.md §4.4).
	DefaultLockHoldMS = 30_000
	// DefaultRetryTimes bounds how many lock-acquire attempts lookup makes.
	DefaultRetryTimes = 3
	// retryBackoff is the sleep between failed lock-acquire attempts.
	retryBackoff = 500 * time.Millisecond
)

// Pinger probes whether an address is alive. transport.WorkerClient.Ping
// (or a peer-server variant of it) satisfies this.
type Pinger interface {
	Ping(ctx context.Context, addr string) (*transport.PingResponse, error)
}

// Service runs the election algorithm of spec.md §4.4 against a Gateway.
type Service struct {
	gw            store.Gateway
	pinger        Pinger
	clock         clock.Clock
	selfAddr      string
	lockHoldMS    int64
	retryTimes    int
	retryBackoff  time.Duration

	mu             sync.Mutex
	negativeCache  map[string]time.Time
}

// Option configures a Service beyond its required constructor arguments.
type Option func(*Service)

// WithLockHoldMS overrides DefaultLockHoldMS.
func WithLockHoldMS(ms int64) Option {
	return func(s *Service) { s.lockHoldMS = ms }
}

// WithRetryTimes overrides DefaultRetryTimes.
func WithRetryTimes(n int) Option {
	return func(s *Service) { s.retryTimes = n }
}

// WithRetryBackoff overrides the 500ms default sleep between retries.
func WithRetryBackoff(d time.Duration) Option {
	return func(s *Service) { s.retryBackoff = d }
}

// New builds an ownership Service for selfAddr.
func New(gw store.Gateway, pinger Pinger, c clock.Clock, selfAddr string, opts ...Option) *Service {
	s := &Service{
		gw:            gw,
		pinger:        pinger,
		clock:         c,
		selfAddr:      selfAddr,
		lockHoldMS:    DefaultLockHoldMS,
		retryTimes:    DefaultRetryTimes,
		retryBackoff:  retryBackoff,
		negativeCache: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func lockName(appID uint64) string {
	return "app-election:" + uintToString(appID)
}

func uintToString(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// RunElection sweeps every known app and resolves its owning address,
// electing self for any app that is unowned or whose owner has gone dark
// (spec.md §4.4, §8 scenario 4 "Election takeover"). Call this periodically
// from the runtime so AppInfo.current_server converges without requiring a
// caller to invoke Lookup one app at a time.
func (s *Service) RunElection(ctx context.Context) error {
	appIDs, err := s.gw.FindAllAppIDs(ctx)
	if err != nil {
		return err
	}

	s.ResetProbeCache()
	for _, appID := range appIDs {
		if _, err := s.Lookup(ctx, appID); err != nil {
			logger.ComponentLogger("ownership").Warnw("election sweep failed for app",
				"app_id", appID, "self", s.selfAddr, "error", err)
		}
	}
	return nil
}

// Lookup resolves the owning address for appID, performing an election if
// the current owner is unset or unreachable (spec.md §4.4).
func (s *Service) Lookup(ctx context.Context, appID uint64) (string, error) {
	s.ResetProbeCache()

	app, err := s.gw.FindAppInfoByID(ctx, appID)
	if err != nil {
		return "", err
	}

	if app.CurrentServer == "" {
		return s.elect(ctx, appID)
	}
	if app.CurrentServer == s.selfAddr {
		return s.selfAddr, nil
	}
	if s.isActive(ctx, app.CurrentServer) {
		return app.CurrentServer, nil
	}

	return s.elect(ctx, appID)
}

func (s *Service) elect(ctx context.Context, appID uint64) (string, error) {
	name := lockName(appID)

	var lastErr error
	for attempt := 0; attempt < s.retryTimes; attempt++ {
		acquired, err := s.gw.TryAcquireLock(ctx, name, s.lockHoldMS, s.selfAddr)
		if err != nil {
			lastErr = err
		} else if acquired {
			return s.onLockAcquired(ctx, appID)
		}

		if attempt < s.retryTimes-1 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-s.clock.After(s.retryBackoff):
			}
		}
	}

	logger.ComponentLogger("ownership").Warnw("election exhausted retries",
		"app_id", appID, "self", s.selfAddr, "retries", s.retryTimes)
	if lastErr != nil {
		return "", errors.Mark(errors.Wrap(lastErr, "election lock"), errors.ErrLookupFailed)
	}
	return "", errors.Mark(errors.Newf("election lock not acquired for app %d", appID), errors.ErrLookupFailed)
}

func (s *Service) onLockAcquired(ctx context.Context, appID uint64) (string, error) {
	app, err := s.gw.FindAppInfoByID(ctx, appID)
	if err != nil {
		return "", err
	}

	if app.CurrentServer != "" && app.CurrentServer != s.selfAddr && s.isActive(ctx, app.CurrentServer) {
		return app.CurrentServer, nil
	}

	app.CurrentServer = s.selfAddr
	if err := s.gw.UpdateAppInfo(ctx, app); err != nil {
		return "", err
	}
	return s.selfAddr, nil
}

// isActive pings addr, caching a negative result for the duration of one
// Lookup call so a single pass never probes the same dead address twice
// (spec.md §4.4). Lookup clears the cache on entry.
func (s *Service) isActive(ctx context.Context, addr string) bool {
	s.mu.Lock()
	if _, dead := s.negativeCache[addr]; dead {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()

	resp, err := s.pinger.Ping(ctx, addr)
	alive := err == nil && resp != nil && resp.Code == transport.CodeOK
	if !alive {
		s.mu.Lock()
		s.negativeCache[addr] = s.clock.Now()
		s.mu.Unlock()
	}
	return alive
}

// ResetProbeCache clears remembered dead addresses. Call this before a new
// Lookup pass over a batch of apps so probes are re-attempted per pass.
func (s *Service) ResetProbeCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.negativeCache = make(map[string]time.Time)
}
