package counting

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xelth-com/tapcount/internal/models"
	"github.com/xelth-com/tapcount/internal/offline"
	"github.com/xelth-com/tapcount/internal/reconcile"
	"go.uber.org/zap"
)

// Options tunes a Controller
type Options struct {
	QuickScan       bool
	LiveSensors     bool
	KegPollInterval time.Duration
	ScanDedupWindow time.Duration
	Now             func() time.Time
}

// Controller drives one station through a counting session.
//
// Operator actions are serialized by opMu. Async work (keg summary, live levels) only
// takes mu and applies its result when the generation it was started for is still current.
type Controller struct {
	backend Backend
	queue   *offline.Manager
	notify  Notifier
	log     *zap.Logger
	opts    Options
	dedup   *scanDedup

	opMu sync.Mutex

	mu        sync.Mutex
	mode      Mode
	quickScan bool
	gen       uint64
	zones     []models.Zone
	catalog   []models.Product
	session   *models.InventorySession
	counts    map[int64]CountData
	stopPoll  context.CancelFunc

	ctx     context.Context
	cancel  context.CancelFunc
	fetches sync.WaitGroup // one-shot async fetches
	pollers sync.WaitGroup
}

// New builds a controller in setup mode. notify may be nil. A quick-scan preference saved on
// the station overrides opts.QuickScan.
func New(backend Backend, queue *offline.Manager, notify Notifier, log *zap.Logger, opts Options) *Controller {
	if notify == nil {
		notify = nopNotifier{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	quickScan := opts.QuickScan
	if prefs, err := queue.Prefs(); err != nil {
		log.Warn("failed to load station preferences", zap.Error(err))
	} else if prefs.QuickScan != nil {
		quickScan = *prefs.QuickScan
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		backend:   backend,
		queue:     queue,
		notify:    notify,
		log:       log,
		opts:      opts,
		dedup:     newScanDedup(opts.ScanDedupWindow, opts.Now),
		mode:      Setup{},
		quickScan: quickScan,
		counts:    make(map[int64]CountData),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Close stops background work and waits for it
func (c *Controller) Close() {
	c.cancel()
	c.mu.Lock()
	c.stopPollerLocked()
	c.mu.Unlock()
	c.fetches.Wait()
	c.pollers.Wait()
}

// Wait blocks until in-flight one-shot fetches have finished. Pollers are not waited for.
func (c *Controller) Wait() {
	c.fetches.Wait()
}

// Mode returns a snapshot of the current mode
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	if in, ok := c.mode.(Input); ok {
		return Input{Return: in.Return, Draft: in.Draft.clone()}
	}
	return c.mode
}

// Session returns the active session, nil outside a session
func (c *Controller) Session() *models.InventorySession {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	s := *c.session
	return &s
}

// Counts returns the captured counts keyed by product id
func (c *Controller) Counts() map[int64]CountData {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[int64]CountData, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}

func (c *Controller) QuickScan() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quickScan
}

// SetQuickScan changes the persistent preference. Browse mode follows it immediately.
func (c *Controller) SetQuickScan(on bool) {
	c.mu.Lock()
	c.quickScan = on
	if isBrowse(c.mode.Kind()) {
		c.setModeLocked(c.browseModeLocked())
	}
	c.mu.Unlock()

	prefs, err := c.queue.Prefs()
	if err == nil {
		prefs.QuickScan = &on
		err = c.queue.SavePrefs(prefs)
	}
	if err != nil {
		c.log.Warn("failed to save quick-scan preference", zap.Error(err))
	}
}

// LoadCatalog fetches zones and products, refreshing the local snapshot. Offline, or when the
// server cannot be reached, the snapshot is used instead.
func (c *Controller) LoadCatalog(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.queue.IsOnline() {
		err := c.refreshCatalog(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrUnreachable) {
			return err
		}
		c.markOffline(ctx, err)
	}

	products, err := c.queue.Catalog()
	if err != nil {
		return fmt.Errorf("failed to load cached catalog: %w", err)
	}
	c.mu.Lock()
	c.catalog = products
	c.mu.Unlock()
	c.log.Info("using cached catalog", zap.Int("products", len(products)))
	return nil
}

// refreshCatalog replaces zones and products with the server's and snapshots them
func (c *Controller) refreshCatalog(ctx context.Context) error {
	zones, err := c.backend.FetchZones(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch zones: %w", err)
	}
	products, err := c.backend.FetchProducts(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch products: %w", err)
	}
	if err := c.queue.SaveCatalog(products); err != nil {
		c.log.Warn("failed to snapshot catalog", zap.Error(err))
	}
	c.mu.Lock()
	c.zones = zones
	c.catalog = products
	c.mu.Unlock()
	return nil
}

// Zones returns the zones loaded by LoadCatalog
func (c *Controller) Zones() []models.Zone {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Zone(nil), c.zones...)
}

// SelectZone pre-selects a zone in setup mode
func (c *Controller) SelectZone(zoneID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode.Kind() != ModeSetup {
		return ErrInvalidTransition
	}
	c.setModeLocked(Setup{ZoneID: zoneID})
	return nil
}

// StartSession opens (or adopts) the zone's session and enters list or scan mode.
// A zone of 0 uses the pre-selected one.
func (c *Controller) StartSession(ctx context.Context, zoneID int64) (*models.InventorySession, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	setup, ok := c.mode.(Setup)
	c.mu.Unlock()
	if !ok {
		return nil, ErrInvalidTransition
	}
	if zoneID == 0 {
		zoneID = setup.ZoneID
	}
	if zoneID == 0 {
		return nil, errors.New("no zone selected")
	}

	if !c.queue.IsOnline() {
		c.notify.Notify(LevelWarn, "Cannot start a count while offline")
		return nil, ErrOffline
	}

	session, err := c.backend.StartSession(ctx, zoneID)
	if err != nil {
		var conflict *SessionConflictError
		switch {
		case errors.As(err, &conflict):
			c.notify.Notify(LevelWarn, conflict.Error())
		case errors.Is(err, ErrUnreachable):
			c.markOffline(ctx, err)
			c.notify.Notify(LevelError, "Server unreachable, could not start the count")
		default:
			c.notify.Notify(LevelError, "Could not start the count")
		}
		c.log.Warn("start session failed", zap.Int64("zone_id", zoneID), zap.Error(err))
		return nil, err
	}

	// expected levels and backup counts move whenever a session is submitted
	if err := c.refreshCatalog(ctx); err != nil {
		c.log.Warn("catalog refresh failed, using snapshot", zap.Error(err))
		if errors.Is(err, ErrUnreachable) {
			c.markOffline(ctx, err)
		}
	}

	counts := make(map[int64]CountData)
	if session.Resumed {
		existing, err := c.backend.FetchSessionCounts(ctx, session.ID)
		if err != nil {
			c.log.Warn("failed to load counts of resumed session", zap.Int64("session_id", session.ID), zap.Error(err))
		}
		c.mu.Lock()
		for _, ic := range existing {
			counts[ic.ProductID] = countFromStored(ic, c.productLocked(ic.ProductID))
		}
		c.mu.Unlock()
		c.notify.Notify(LevelInfo, "Resuming the count already in progress for this zone")
	}

	c.mu.Lock()
	c.session = session
	c.counts = counts
	c.setModeLocked(c.browseModeLocked())
	c.mu.Unlock()
	c.dedup.Reset()

	c.log.Info("session started",
		zap.Int64("session_id", session.ID),
		zap.Int64("zone_id", session.ZoneID),
		zap.Bool("resumed", session.Resumed),
	)
	out := *session
	return &out, nil
}

// Products lists the active zone's products by name
func (c *Controller) Products() []models.Product {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zoneID int64
	if c.session != nil {
		zoneID = c.session.ZoneID
	}
	out := make([]models.Product, 0, len(c.catalog))
	for _, p := range c.catalog {
		if zoneID == 0 || p.InZone(zoneID) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out
}

// Search filters the zone's products by name fragment or exact code
func (c *Controller) Search(query string) []models.Product {
	query = strings.ToLower(strings.TrimSpace(query))
	products := c.Products()
	if query == "" {
		return products
	}
	out := products[:0]
	for _, p := range products {
		if strings.Contains(strings.ToLower(p.Name), query) || p.MatchesCode(query) {
			out = append(out, p)
		}
	}
	return out
}

// SelectProduct enters input mode for a catalog product
func (c *Controller) SelectProduct(ctx context.Context, productID int64) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	p := c.productLocked(productID)
	c.mu.Unlock()
	if p == nil {
		c.notify.Notify(LevelWarn, "Product not found")
		return ErrUnknownProduct
	}
	return c.enterInput(*p)
}

// SelectByCode resolves a scanned barcode/UPC and enters input mode. It reports false when the
// decode was a suppressed duplicate.
func (c *Controller) SelectByCode(ctx context.Context, code string) (bool, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	code = strings.TrimSpace(code)
	c.mu.Lock()
	kind := c.mode.Kind()
	c.mu.Unlock()
	if !isBrowse(kind) {
		return false, ErrInvalidTransition
	}
	if c.dedup.IsDuplicate(code) {
		c.log.Debug("duplicate scan suppressed", zap.String("code", code))
		return false, nil
	}

	p, err := c.resolveCode(ctx, code)
	if err != nil {
		c.dedup.Forget(code)
		return true, err
	}
	if err := c.enterInput(*p); err != nil {
		c.dedup.Forget(code)
		return true, err
	}
	return true, nil
}

func (c *Controller) resolveCode(ctx context.Context, code string) (*models.Product, error) {
	c.mu.Lock()
	for i := range c.catalog {
		if c.catalog[i].MatchesCode(code) {
			p := c.catalog[i]
			c.mu.Unlock()
			return &p, nil
		}
	}
	c.mu.Unlock()

	if !c.queue.IsOnline() {
		c.notify.Notify(LevelWarn, fmt.Sprintf("Unknown code %s", code))
		return nil, ErrUnknownProduct
	}

	p, err := c.backend.LookupProductByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrUnreachable) {
			c.markOffline(ctx, err)
		}
		c.notify.Notify(LevelError, "Product lookup failed")
		return nil, fmt.Errorf("failed to look up code %s: %w", code, err)
	}
	if p == nil {
		c.notify.Notify(LevelWarn, fmt.Sprintf("Unknown code %s", code))
		return nil, ErrUnknownProduct
	}

	c.mu.Lock()
	if c.productLocked(p.ID) == nil {
		c.catalog = append(c.catalog, *p)
	}
	c.mu.Unlock()
	return p, nil
}

// enterInput switches browse -> input. Keg products need their summary first; it is fetched
// asynchronously and the draft stays unsaveable until it lands.
func (c *Controller) enterInput(p models.Product) error {
	c.mu.Lock()
	from := c.mode.Kind()
	if !isBrowse(from) {
		c.mu.Unlock()
		return ErrInvalidTransition
	}
	if p.IsKeg() && !c.queue.IsOnline() {
		c.mu.Unlock()
		c.notify.Notify(LevelWarn, "Keg levels are unavailable offline")
		return ErrOffline
	}
	draft := NewDraft(p)
	gen := c.setModeLocked(Input{Return: from, Draft: draft})
	c.mu.Unlock()

	if p.IsKeg() {
		c.fetches.Add(1)
		go c.loadKegSummary(gen, p.ID)
	}
	return nil
}

func (c *Controller) loadKegSummary(gen uint64, productID int64) {
	defer c.fetches.Done()

	summary, err := c.backend.FetchKegSummary(c.ctx, productID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		c.log.Debug("discarding stale keg summary", zap.Int64("product_id", productID))
		return
	}
	in, ok := c.mode.(Input)
	if !ok {
		return
	}
	if err == nil && summary == nil {
		err = errors.New("empty keg summary")
	}
	if err != nil {
		c.log.Warn("keg summary fetch failed", zap.Int64("product_id", productID), zap.Error(err))
		c.notify.Notify(LevelError, "Could not load keg levels")
		c.setModeLocked(c.modeOf(in.Return))
		return
	}

	in.Draft.setKegSummary(summary)
	if taps := summary.TapNumbers(); c.opts.LiveSensors && c.opts.KegPollInterval > 0 && len(taps) > 0 {
		c.startPollerLocked(gen, taps)
	}
}

// startPollerLocked refreshes live tap levels until the mode changes
func (c *Controller) startPollerLocked(gen uint64, taps []int) {
	c.stopPollerLocked()
	ctx, cancel := context.WithCancel(c.ctx)
	c.stopPoll = cancel

	c.pollers.Add(1)
	go func() {
		defer c.pollers.Done()
		ticker := time.NewTicker(c.opts.KegPollInterval)
		defer ticker.Stop()

		for {
			levels, err := c.backend.FetchLiveKegLevels(ctx, taps)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.log.Warn("live keg level refresh failed", zap.Ints("taps", taps), zap.Error(err))
			} else if !c.applyLevels(gen, levels) {
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func (c *Controller) applyLevels(gen uint64, levels map[int]float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	if in, ok := c.mode.(Input); ok {
		in.Draft.setLiveLevels(levels)
		return true
	}
	return false
}

func (c *Controller) stopPollerLocked() {
	if c.stopPoll != nil {
		c.stopPoll()
		c.stopPoll = nil
	}
}

// SetPartialPercent moves the open-bottle slider
func (c *Controller) SetPartialPercent(p int) error {
	return c.withDraft(func(d *Draft) { d.SetPartialPercent(p) })
}

// ApplyScaleWeight captures a scale reading for the open bottle
func (c *Controller) ApplyScaleWeight(grams float64) error {
	return c.withDraft(func(d *Draft) { d.ApplyScaleWeight(grams) })
}

func (c *Controller) SetBackup(n int) error {
	return c.withDraft(func(d *Draft) { d.SetBackup(n) })
}

func (c *Controller) SetCooler(n int) error {
	return c.withDraft(func(d *Draft) { d.SetCooler(n) })
}

func (c *Controller) withDraft(fn func(d *Draft)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	in, ok := c.mode.(Input)
	if !ok {
		return ErrInvalidTransition
	}
	fn(in.Draft)
	return nil
}

// Total returns the live total of the product being edited and whether it can be saved
func (c *Controller) Total() (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	in, ok := c.mode.(Input)
	if !ok {
		return 0, false
	}
	return in.Draft.Total(), in.Draft.Ready()
}

// CanSave reports whether Save would be accepted
func (c *Controller) CanSave() bool {
	_, ready := c.Total()
	return ready
}

// Save persists the draft (or queues it offline) and returns to list or scan mode.
func (c *Controller) Save(ctx context.Context) (CountData, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	in, ok := c.mode.(Input)
	if !ok {
		c.mu.Unlock()
		return CountData{}, ErrInvalidTransition
	}
	if c.session == nil {
		c.mu.Unlock()
		return CountData{}, ErrNoSession
	}
	data, err := in.Draft.Count(c.opts.Now())
	sessionID := c.session.ID
	c.mu.Unlock()
	if err != nil {
		c.notify.Notify(LevelInfo, "Keg data is still loading")
		return CountData{}, err
	}

	if err := c.persist(ctx, sessionID, data); err != nil {
		return CountData{}, err
	}

	c.mu.Lock()
	c.counts[data.ProductID] = data
	c.setModeLocked(c.browseModeLocked())
	c.mu.Unlock()
	return data, nil
}

// persist saves online and falls back to the offline queue on transport failure
func (c *Controller) persist(ctx context.Context, sessionID int64, data CountData) error {
	if c.queue.IsOnline() {
		err := c.backend.SaveCount(ctx, data.Record(sessionID))
		if err == nil {
			c.log.Info("count saved",
				zap.Int64("session_id", sessionID),
				zap.Int64("product_id", data.ProductID),
				zap.Float64("total_units", data.TotalUnits),
			)
			if _, err := c.queue.Supersede(sessionID, data.ProductID); err != nil {
				c.log.Warn("failed to drop superseded offline counts", zap.Int64("product_id", data.ProductID), zap.Error(err))
			}
			return nil
		}
		if !errors.Is(err, ErrUnreachable) {
			c.log.Error("save count failed", zap.Int64("product_id", data.ProductID), zap.Error(err))
			c.notify.Notify(LevelError, "Could not save the count")
			return err
		}
		c.markOffline(ctx, err)
		c.notify.Notify(LevelWarn, "Save failed, count queued until the connection returns")
	} else {
		c.notify.Notify(LevelInfo, "Offline, count saved on this device")
	}

	if _, err := c.queue.Enqueue(data.Offline(sessionID)); err != nil {
		c.log.Error("failed to queue count", zap.Int64("product_id", data.ProductID), zap.Error(err))
		c.notify.Notify(LevelError, "Could not store the count on this device")
		return err
	}
	return nil
}

func (c *Controller) markOffline(ctx context.Context, cause error) {
	c.log.Warn("server unreachable, switching to offline", zap.Error(cause))
	c.queue.SetOnline(ctx, false)
}

// Back leaves input for the browse mode it came from, or review for the list
func (c *Controller) Back() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch m := c.mode.(type) {
	case Input:
		c.setModeLocked(c.modeOf(m.Return))
	case Review:
		c.setModeLocked(List{})
	default:
		return ErrInvalidTransition
	}
	return nil
}

// Finish enters review
func (c *Controller) Finish() (reconcile.Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !isBrowse(c.mode.Kind()) {
		return reconcile.Report{}, ErrInvalidTransition
	}
	if c.session == nil {
		return reconcile.Report{}, ErrNoSession
	}
	c.setModeLocked(Review{})
	return c.reportLocked(), nil
}

// Report computes the variance report from the current counts
func (c *Controller) Report() (reconcile.Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return reconcile.Report{}, ErrNoSession
	}
	return c.reportLocked(), nil
}

func (c *Controller) reportLocked() reconcile.Report {
	lines := make([]reconcile.Line, 0, len(c.counts))
	for id, data := range c.counts {
		var expected float64
		name := data.ProductName
		if p := c.productLocked(id); p != nil {
			expected = p.CurrentCountBottles
			if name == "" {
				name = p.Name
			}
		}
		lines = append(lines, reconcile.NewLine(id, name, data.IsKeg(), data.TotalUnits, expected))
	}
	return reconcile.BuildReport(c.session.ID, c.session.ZoneID, lines)
}

// Submit flushes queued counts and completes the session
func (c *Controller) Submit(ctx context.Context) (*models.InventorySession, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.mode.Kind() != ModeReview {
		c.mu.Unlock()
		return nil, ErrInvalidTransition
	}
	sessionID := c.session.ID
	c.mu.Unlock()

	if !c.queue.IsOnline() {
		c.notify.Notify(LevelWarn, "Reconnect to submit the count")
		return nil, ErrOffline
	}

	res, err := c.queue.Sync(ctx)
	if err != nil {
		c.notify.Notify(LevelError, "Could not sync offline counts")
		return nil, err
	}
	if !res.Clean() {
		c.notify.Notify(LevelWarn, fmt.Sprintf("%d offline counts still waiting to sync", res.Remaining))
		return nil, ErrPendingCounts
	}

	session, err := c.backend.FinishSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrUnreachable) {
			c.markOffline(ctx, err)
		}
		c.log.Error("finish session failed", zap.Int64("session_id", sessionID), zap.Error(err))
		c.notify.Notify(LevelError, "Could not submit the count")
		return nil, err
	}

	c.mu.Lock()
	c.endSessionLocked(Setup{})
	c.mu.Unlock()

	c.log.Info("session submitted", zap.Int64("session_id", sessionID))
	c.notify.Notify(LevelInfo, "Count submitted")
	return session, nil
}

// Cancel abandons the active session
func (c *Controller) Cancel(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	kind := c.mode.Kind()
	if c.session == nil || !(isBrowse(kind) || kind == ModeInput || kind == ModeReview) {
		c.mu.Unlock()
		return ErrInvalidTransition
	}
	sessionID, zoneID := c.session.ID, c.session.ZoneID
	c.mu.Unlock()

	if !c.queue.IsOnline() {
		c.notify.Notify(LevelWarn, "Reconnect to cancel the count")
		return ErrOffline
	}
	if err := c.backend.CancelSession(ctx, sessionID); err != nil {
		c.notify.Notify(LevelError, "Could not cancel the count")
		return err
	}

	c.mu.Lock()
	c.endSessionLocked(Setup{ZoneID: zoneID})
	c.mu.Unlock()
	c.log.Info("session cancelled", zap.Int64("session_id", sessionID))
	return nil
}

// OpenCompleted shows a finished session read-only
func (c *Controller) OpenCompleted(ctx context.Context, sessionID int64) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	kind := c.mode.Kind()
	c.mu.Unlock()
	if kind != ModeSetup && kind != ModeViewCompleted {
		return ErrInvalidTransition
	}
	if !c.queue.IsOnline() {
		c.notify.Notify(LevelWarn, "Reconnect to view past counts")
		return ErrOffline
	}

	session, err := c.backend.FetchSession(ctx, sessionID)
	if err != nil {
		c.notify.Notify(LevelError, "Could not load the session")
		return err
	}
	if session == nil {
		c.notify.Notify(LevelWarn, "Session not found")
		return ErrNoSession
	}
	if session.IsActive() {
		c.notify.Notify(LevelInfo, "That count is still in progress")
		return ErrInvalidTransition
	}
	counts, err := c.backend.FetchSessionCounts(ctx, sessionID)
	if err != nil {
		c.notify.Notify(LevelError, "Could not load the session counts")
		return err
	}

	c.mu.Lock()
	c.setModeLocked(ViewCompleted{Session: session, Counts: counts})
	c.mu.Unlock()
	return nil
}

// StartNewForZone returns to setup with the viewed session's zone pre-selected
func (c *Controller) StartNewForZone() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.mode.(ViewCompleted)
	if !ok {
		return ErrInvalidTransition
	}
	c.setModeLocked(Setup{ZoneID: v.Session.ZoneID})
	return nil
}

func (c *Controller) endSessionLocked(next Mode) {
	c.session = nil
	c.counts = make(map[int64]CountData)
	c.setModeLocked(next)
	c.dedup.Reset()
}

// setModeLocked switches mode, invalidating in-flight async work
func (c *Controller) setModeLocked(m Mode) uint64 {
	c.stopPollerLocked()
	c.gen++
	c.mode = m
	return c.gen
}

func (c *Controller) browseModeLocked() Mode {
	if c.quickScan {
		return Scan{}
	}
	return List{}
}

func (c *Controller) modeOf(k ModeKind) Mode {
	if k == ModeScan {
		return Scan{}
	}
	return List{}
}

func (c *Controller) productLocked(id int64) *models.Product {
	for i := range c.catalog {
		if c.catalog[i].ID == id {
			p := c.catalog[i]
			return &p
		}
	}
	return nil
}

// countFromStored rebuilds CountData for a count already on the server
func countFromStored(ic models.InventoryCount, p *models.Product) CountData {
	data := CountData{
		ProductID:        ic.ProductID,
		Quantity:         QuantityOf(ic),
		PartialVolumeMl:  ic.PartialVolumeMl,
		TotalUnits:       ic.TotalUnits,
		IsManualEstimate: ic.IsManualEstimate,
		ScaleWeightGrams: ic.ScaleWeightGrams,
		CountedAt:        ic.CountedAt,
	}
	if p == nil && ic.Product != nil {
		p = ic.Product
	}
	if p != nil {
		data.ProductName = p.Name
		data.BottleSizeMl = p.BottleSizeMl
		if ic.PartialVolumeMl != nil && p.BottleSizeMl > 0 {
			data.PartialPercent = reconcile.ClampPercent(int(math.Round(*ic.PartialVolumeMl / p.BottleSizeMl * 100)))
		}
	}
	return data
}
