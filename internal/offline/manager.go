package offline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xelth-com/tapcount/internal/metrics"
	"github.com/xelth-com/tapcount/internal/models"
	"go.uber.org/zap"
)

// Saver persists one count. The counting backend satisfies it.
type Saver interface {
	SaveCount(ctx context.Context, rec models.CountRecord) error
}

// Manager buffers counts while the station is disconnected and replays them on reconnect.
// Replay is sequential and FIFO; an entry leaves the queue only once the server acknowledged
// (or permanently rejected) it.
type Manager struct {
	store   Store
	saver   Saver
	log     *zap.Logger
	metrics *metrics.Metrics

	maxAttempts int
	retryDelay  time.Duration
	now         func() time.Time

	mu       sync.Mutex // guards online, listeners and queue read-modify-write
	online   bool
	lastSeq  int64
	onChange []func(online bool)

	syncMu sync.Mutex // one replay at a time
}

// Option configures a Manager
type Option func(*Manager)

// WithMaxAttempts sets how many times one entry is tried per replay pass
func WithMaxAttempts(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxAttempts = n
		}
	}
}

// WithRetryDelay sets the pause between attempts of the same entry
func WithRetryDelay(d time.Duration) Option {
	return func(m *Manager) { m.retryDelay = d }
}

// WithMetrics records queue depth and replay outcomes
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithClock overrides time.Now for entry timestamps
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager starts online; a connectivity monitor or SetOnline corrects that
func NewManager(store Store, saver Saver, log *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:       store,
		saver:       saver,
		log:         log,
		maxAttempts: 3,
		retryDelay:  500 * time.Millisecond,
		now:         time.Now,
		online:      true,
	}
	for _, opt := range opts {
		opt(m)
	}
	if entries, err := store.LoadQueue(); err == nil {
		for _, e := range entries {
			if e.Seq > m.lastSeq {
				m.lastSeq = e.Seq
			}
		}
		m.metrics.Depth(len(entries))
	}
	return m
}

// IsOnline returns the connectivity flag
func (m *Manager) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// OnChange registers a callback for connectivity transitions
func (m *Manager) OnChange(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// SetOnline updates the connectivity flag. Going from offline to online replays the queue
// on the caller's goroutine and returns the result; otherwise the result is nil.
func (m *Manager) SetOnline(ctx context.Context, online bool) *SyncResult {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	listeners := append([]func(bool){}, m.onChange...)
	m.mu.Unlock()

	if !changed {
		return nil
	}

	m.metrics.Online(online)
	for _, fn := range listeners {
		fn(online)
	}

	if !online {
		m.log.Warn("station offline, counts will be queued locally")
		return nil
	}

	m.log.Info("station back online, replaying offline counts")
	res, err := m.Sync(ctx)
	if err != nil {
		m.log.Error("offline replay failed", zap.Error(err))
	}
	return &res
}

// Enqueue appends a count to the durable queue. ID, Seq and Timestamp are filled in when empty.
func (m *Manager) Enqueue(c OfflineCount) (OfflineCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := m.store.LoadQueue()
	if err != nil {
		return c, fmt.Errorf("failed to load offline queue: %w", err)
	}

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = m.now().UTC()
	}
	m.lastSeq++
	c.Seq = m.lastSeq

	entries = append(entries, c)
	if err := m.store.SaveQueue(entries); err != nil {
		m.lastSeq--
		return c, fmt.Errorf("failed to persist offline count: %w", err)
	}

	m.metrics.Queued(len(entries))
	m.log.Info("count queued offline",
		zap.String("id", c.ID),
		zap.Int64("session_id", c.SessionID),
		zap.Int64("product_id", c.ProductID),
		zap.Int("queue_depth", len(entries)),
	)
	return c, nil
}

// Supersede drops the queued counts of one product in one session. It is called after a
// newer count for that product reached the server, so the stale entries are never replayed.
func (m *Manager) Supersede(sessionID, productID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := m.store.LoadQueue()
	if err != nil {
		return 0, fmt.Errorf("failed to load offline queue: %w", err)
	}
	kept := entries[:0]
	for _, e := range entries {
		if e.SessionID == sessionID && e.ProductID == productID {
			continue
		}
		kept = append(kept, e)
	}
	dropped := len(entries) - len(kept)
	if dropped == 0 {
		return 0, nil
	}

	if len(kept) == 0 {
		err = m.store.ClearQueue()
	} else {
		err = m.store.SaveQueue(kept)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to persist offline queue: %w", err)
	}
	m.metrics.Depth(len(kept))
	m.log.Info("superseded queued counts",
		zap.Int64("session_id", sessionID),
		zap.Int64("product_id", productID),
		zap.Int("dropped", dropped),
		zap.Int("queue_depth", len(kept)),
	)
	return dropped, nil
}

// Pending returns the queued entries in replay order
func (m *Manager) Pending() ([]OfflineCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries, err := m.store.LoadQueue()
	if err != nil {
		return nil, err
	}
	sortBySeq(entries)
	return entries, nil
}

// Sync replays every queued entry in capture order. A failing entry does not stop the
// others; it stays queued for the next pass. The store is cleared once nothing is left.
func (m *Manager) Sync(ctx context.Context) (SyncResult, error) {
	m.syncMu.Lock()
	defer m.syncMu.Unlock()

	entries, err := m.Pending()
	if err != nil {
		return SyncResult{}, fmt.Errorf("failed to load offline queue: %w", err)
	}

	var res SyncResult
	done := make(map[string]bool, len(entries))
	attempts := make(map[string]int, len(entries))

	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		res.Attempted++

		n, err := m.replay(ctx, entry)
		attempts[entry.ID] = n
		switch {
		case err == nil:
			res.Replayed++
			done[entry.ID] = true
			m.metrics.Replay("replayed")
		case errors.Is(err, ErrRejected):
			res.Rejected++
			done[entry.ID] = true
			m.metrics.Replay("rejected")
			m.log.Error("offline count rejected, dropping",
				zap.String("id", entry.ID),
				zap.String("product", entry.ProductName),
				zap.Error(err),
			)
		default:
			res.Failed++
			m.metrics.Replay("failed")
			m.log.Warn("offline count replay failed, keeping it queued",
				zap.String("id", entry.ID),
				zap.String("product", entry.ProductName),
				zap.Int("attempts", n),
				zap.Error(err),
			)
		}
	}

	remaining, err := m.settle(done, attempts)
	res.Remaining = remaining
	if err != nil {
		return res, err
	}

	m.log.Info("offline replay finished",
		zap.Int("replayed", res.Replayed),
		zap.Int("rejected", res.Rejected),
		zap.Int("failed", res.Failed),
		zap.Int("remaining", res.Remaining),
	)
	return res, nil
}

// replay tries one entry up to maxAttempts times. Rejections are not retried.
func (m *Manager) replay(ctx context.Context, entry OfflineCount) (int, error) {
	var err error
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		err = m.saver.SaveCount(ctx, entry.Record())
		if err == nil || errors.Is(err, ErrRejected) {
			return attempt, err
		}
		if attempt == m.maxAttempts || m.retryDelay <= 0 {
			continue
		}
		select {
		case <-time.After(m.retryDelay):
		case <-ctx.Done():
			return attempt, ctx.Err()
		}
	}
	return m.maxAttempts, err
}

// settle removes acknowledged entries. It reloads the queue so counts enqueued during the
// replay are kept.
func (m *Manager) settle(done map[string]bool, attempts map[string]int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, err := m.store.LoadQueue()
	if err != nil {
		return 0, fmt.Errorf("failed to reload offline queue: %w", err)
	}

	kept := current[:0]
	for _, e := range current {
		if done[e.ID] {
			continue
		}
		e.Attempts += attempts[e.ID]
		kept = append(kept, e)
	}
	sortBySeq(kept)

	if len(kept) == 0 {
		err = m.store.ClearQueue()
	} else {
		err = m.store.SaveQueue(kept)
	}
	m.metrics.Depth(len(kept))
	if err != nil {
		return len(kept), fmt.Errorf("failed to persist offline queue: %w", err)
	}
	return len(kept), nil
}

// SaveCatalog snapshots the product catalog for offline lookup
func (m *Manager) SaveCatalog(products []models.Product) error {
	if err := m.store.SaveCatalog(products); err != nil {
		return fmt.Errorf("failed to cache catalog: %w", err)
	}
	return nil
}

// Catalog returns the cached product snapshot
func (m *Manager) Catalog() ([]models.Product, error) {
	return m.store.LoadCatalog()
}

// Prefs returns the stored station preferences
func (m *Manager) Prefs() (Prefs, error) {
	return m.store.LoadPrefs()
}

// SavePrefs stores the station preferences
func (m *Manager) SavePrefs(p Prefs) error {
	if err := m.store.SavePrefs(p); err != nil {
		return fmt.Errorf("failed to save preferences: %w", err)
	}
	return nil
}

func sortBySeq(entries []OfflineCount) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Seq != entries[j].Seq {
			return entries[i].Seq < entries[j].Seq
		}
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
}
