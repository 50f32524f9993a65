package offline

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Monitor drives the Manager's connectivity flag from periodic health checks
type Monitor struct {
	mu sync.Mutex

	healthURL string
	interval  time.Duration
	client    *http.Client
	manager   *Manager
	log       *zap.Logger

	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	LastCheck   time.Time
	LastSuccess *time.Time
	LastFailure *time.Time
}

// NewMonitor checks {baseURL}/health every interval
func NewMonitor(baseURL string, interval, timeout time.Duration, manager *Manager, log *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Monitor{
		healthURL: strings.TrimRight(baseURL, "/") + "/health",
		interval:  interval,
		client:    &http.Client{Timeout: timeout},
		manager:   manager,
		log:       log,
	}
}

// Start runs one check synchronously, then keeps checking in the background
func (mon *Monitor) Start(ctx context.Context) {
	mon.mu.Lock()
	if mon.running {
		mon.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	mon.running = true
	mon.cancel = cancel
	mon.done = make(chan struct{})
	mon.mu.Unlock()

	mon.Check(ctx)
	go mon.loop(ctx)
}

// Stop ends the background loop and waits for it
func (mon *Monitor) Stop() {
	mon.mu.Lock()
	if !mon.running {
		mon.mu.Unlock()
		return
	}
	mon.running = false
	mon.cancel()
	done := mon.done
	mon.mu.Unlock()
	<-done
}

func (mon *Monitor) loop(ctx context.Context) {
	defer close(mon.done)
	ticker := time.NewTicker(mon.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			mon.Check(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Check probes the server once and reports the result to the manager
func (mon *Monitor) Check(ctx context.Context) bool {
	online := mon.probe(ctx)

	now := time.Now()
	mon.mu.Lock()
	mon.LastCheck = now
	if online {
		mon.LastSuccess = &now
	} else {
		mon.LastFailure = &now
	}
	mon.mu.Unlock()

	res := mon.manager.SetOnline(ctx, online)
	if res == nil && online {
		res = mon.retryPending(ctx)
	}
	if res != nil && !res.Clean() {
		mon.log.Warn("offline counts still pending after reconnect", zap.Int("remaining", res.Remaining))
	}
	return online
}

// retryPending replays entries left over from an earlier failed pass while the station
// stays online. It returns nil when the queue is empty.
func (mon *Monitor) retryPending(ctx context.Context) *SyncResult {
	pending, err := mon.manager.Pending()
	if err != nil {
		mon.log.Warn("failed to read offline queue", zap.Error(err))
		return nil
	}
	if len(pending) == 0 {
		return nil
	}
	res, err := mon.manager.Sync(ctx)
	if err != nil {
		mon.log.Error("offline replay failed", zap.Error(err))
	}
	return &res
}

func (mon *Monitor) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mon.healthURL, nil)
	if err != nil {
		return false
	}
	resp, err := mon.client.Do(req)
	if err != nil {
		mon.log.Debug("health check failed", zap.String("url", mon.healthURL), zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
