package counting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xelth-com/tapcount/internal/models"
	"github.com/xelth-com/tapcount/internal/offline"
	"go.uber.org/zap"
)

// fakeBackend is an in-memory Backend. Keg summaries can be held back per product with gates.
type fakeBackend struct {
	mu sync.Mutex

	zones       []models.Zone
	products    []models.Product
	sessions    map[int64]*models.InventorySession
	stored      map[int64][]models.InventoryCount
	saved       []models.CountRecord
	kegs        map[int64]*models.KegSummary
	kegGates    map[int64]chan struct{}
	kegErr      error
	levels      map[int]float64
	levelCalls  int
	saveErr     error
	finishErr   error
	productsErr error
	nextID      int64
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		zones: []models.Zone{{ID: 1, Name: "Main Bar Cooler"}, {ID: 2, Name: "Walk-in"}},
		products: []models.Product{
			{ID: 1, Name: "House Pils 750", Barcode: "0001", BottleSizeMl: 750, BackupCount: 3, CurrentCountBottles: 10, ZoneIDs: []int64{1}},
			{ID: 2, Name: "Pale Ale 355", UPC: "0002", BottleSizeMl: 355, EmptyWeightGrams: 250, FullWeightGrams: 620, CurrentCountBottles: 10, ZoneIDs: []int64{1}},
			{ID: 3, Name: "Stout 750", Barcode: "0003", BottleSizeMl: 750, ZoneIDs: []int64{1}},
			{ID: 10, Name: "IPA Keg", Barcode: "0010", IsSoldByVolume: true, BackupCount: 1, ZoneIDs: []int64{1}},
			{ID: 11, Name: "Lager Keg", IsSoldByVolume: true, ZoneIDs: []int64{1}},
			{ID: 20, Name: "Walk-in Cider", BottleSizeMl: 500, ZoneIDs: []int64{2}},
		},
		sessions: make(map[int64]*models.InventorySession),
		stored:   make(map[int64][]models.InventoryCount),
		kegs: map[int64]*models.KegSummary{
			10: {ProductID: 10, TappedKegs: []models.TappedKeg{{KegID: 1, TapNumber: 3, RemainingPercent: 40}, {KegID: 2, TapNumber: 4, RemainingPercent: 30}}, OnDeckCount: 2},
			11: {ProductID: 11, TappedKegs: []models.TappedKeg{{KegID: 5, TapNumber: 7, RemainingPercent: 50}}, OnDeckCount: 1},
		},
		kegGates: make(map[int64]chan struct{}),
		nextID:   100,
	}
}

func (f *fakeBackend) StartSession(_ context.Context, zoneID int64) (*models.InventorySession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if !s.IsActive() {
			continue
		}
		if s.ZoneID != zoneID {
			return nil, &SessionConflictError{ActiveZoneID: s.ZoneID}
		}
		out := *s
		out.Resumed = true
		return &out, nil
	}
	f.nextID++
	s := &models.InventorySession{ID: f.nextID, ZoneID: zoneID, Status: models.SessionInProgress, StartedAt: time.Now()}
	f.sessions[s.ID] = s
	out := *s
	return &out, nil
}

func (f *fakeBackend) SaveCount(_ context.Context, rec models.CountRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, rec)
	return nil
}

func (f *fakeBackend) FinishSession(_ context.Context, id int64) (*models.InventorySession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.finishErr != nil {
		return nil, f.finishErr
	}
	s, ok := f.sessions[id]
	if !ok {
		return nil, offline.ErrRejected
	}
	// the newest count per product becomes the expected level, as the server does
	latest := make(map[int64]models.CountRecord)
	for _, rec := range f.saved {
		if rec.SessionID != id {
			continue
		}
		if prev, ok := latest[rec.ProductID]; ok && rec.CountedAt.Before(prev.CountedAt) {
			continue
		}
		latest[rec.ProductID] = rec
	}
	for i := range f.products {
		if rec, ok := latest[f.products[i].ID]; ok {
			f.products[i].CurrentCountBottles = rec.TotalUnits
			f.products[i].BackupCount = rec.CountedBottles
		}
	}

	now := time.Now()
	s.Status = models.SessionCompleted
	s.CompletedAt = &now
	out := *s
	return &out, nil
}

func (f *fakeBackend) CancelSession(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok {
		s.Status = models.SessionCancelled
	}
	return nil
}

func (f *fakeBackend) FetchSession(_ context.Context, id int64) (*models.InventorySession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, nil
	}
	out := *s
	return &out, nil
}

func (f *fakeBackend) FetchSessionCounts(_ context.Context, id int64) ([]models.InventoryCount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.InventoryCount(nil), f.stored[id]...), nil
}

func (f *fakeBackend) FetchKegSummary(ctx context.Context, productID int64) (*models.KegSummary, error) {
	f.mu.Lock()
	gate := f.kegGates[productID]
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.kegErr != nil {
		return nil, f.kegErr
	}
	s, ok := f.kegs[productID]
	if !ok {
		return nil, errors.New("no kegs")
	}
	out := *s
	return &out, nil
}

func (f *fakeBackend) FetchLiveKegLevels(_ context.Context, taps []int) (map[int]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.levelCalls++
	out := make(map[int]float64)
	for _, t := range taps {
		if v, ok := f.levels[t]; ok {
			out[t] = v
		}
	}
	return out, nil
}

func (f *fakeBackend) LookupProductByCode(_ context.Context, code string) (*models.Product, error) {
	if code == "9999" {
		p := models.Product{ID: 99, Name: "Guest Sour", Barcode: "9999", BottleSizeMl: 375}
		return &p, nil
	}
	return nil, nil
}

func (f *fakeBackend) FetchZones(context.Context) ([]models.Zone, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Zone(nil), f.zones...), nil
}

func (f *fakeBackend) FetchProducts(context.Context) ([]models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.productsErr != nil {
		return nil, f.productsErr
	}
	return append([]models.Product(nil), f.products...), nil
}

func (f *fakeBackend) product(id int64) models.Product {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.products {
		if p.ID == id {
			return p
		}
	}
	return models.Product{}
}

func (f *fakeBackend) savedRecords() []models.CountRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.CountRecord(nil), f.saved...)
}

type toast struct {
	level   Level
	message string
}

type recordingNotifier struct {
	mu     sync.Mutex
	toasts []toast
}

func (n *recordingNotifier) Notify(level Level, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.toasts = append(n.toasts, toast{level, message})
}

func (n *recordingNotifier) last() toast {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.toasts) == 0 {
		return toast{}
	}
	return n.toasts[len(n.toasts)-1]
}

type harness struct {
	ctrl    *Controller
	backend *fakeBackend
	queue   *offline.Manager
	toasts  *recordingNotifier
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	backend := newFakeBackend()
	queue := offline.NewManager(offline.NewMemoryStore(), backend, zap.NewNop(), offline.WithRetryDelay(0))
	toasts := &recordingNotifier{}
	ctrl := New(backend, queue, toasts, zap.NewNop(), opts)
	t.Cleanup(ctrl.Close)
	require.NoError(t, ctrl.LoadCatalog(context.Background()))
	return &harness{ctrl: ctrl, backend: backend, queue: queue, toasts: toasts}
}

func (h *harness) start(t *testing.T, zoneID int64) *models.InventorySession {
	t.Helper()
	s, err := h.ctrl.StartSession(context.Background(), zoneID)
	require.NoError(t, err)
	return s
}

func (h *harness) draft(t *testing.T) *Draft {
	t.Helper()
	in, ok := h.ctrl.Mode().(Input)
	require.True(t, ok, "expected input mode, got %s", h.ctrl.Mode().Kind())
	return in.Draft
}

func TestController_QuickScanLoop(t *testing.T) {
	h := newHarness(t, Options{QuickScan: true})
	ctx := context.Background()
	h.start(t, 1)
	assert.Equal(t, ModeScan, h.ctrl.Mode().Kind())

	handled, err := h.ctrl.SelectByCode(ctx, "0001")
	require.NoError(t, err)
	require.True(t, handled)
	in := h.ctrl.Mode().(Input)
	assert.Equal(t, ModeScan, in.Return)
	assert.Equal(t, 3, in.Draft.Backup(), "seeded from stored backup count")
	assert.True(t, in.Draft.IsManualEstimate())

	require.NoError(t, h.ctrl.SetPartialPercent(40))
	require.NoError(t, h.ctrl.SetBackup(2))
	total, ready := h.ctrl.Total()
	assert.True(t, ready)
	assert.InDelta(t, 2.4, total, 1e-9)

	data, err := h.ctrl.Save(ctx)
	require.NoError(t, err)
	assert.Equal(t, ModeScan, h.ctrl.Mode().Kind(), "save returns straight to scanning")
	assert.Equal(t, BottleQuantity{Backup: 2}, data.Quantity)

	recs := h.backend.savedRecords()
	require.Len(t, recs, 1)
	assert.Equal(t, 2, recs[0].CountedBottles)
	require.NotNil(t, recs[0].PartialVolumeMl)
	assert.InDelta(t, 300.0, *recs[0].PartialVolumeMl, 1e-9)
	assert.False(t, recs[0].IsKeg)
	assert.InDelta(t, 2.4, h.ctrl.Counts()[1].TotalUnits, 1e-9)

	// quick scan off: save lands in the list
	h.ctrl.SetQuickScan(false)
	assert.Equal(t, ModeList, h.ctrl.Mode().Kind())
	require.NoError(t, h.ctrl.SelectProduct(ctx, 3))
	_, err = h.ctrl.Save(ctx)
	require.NoError(t, err)
	assert.Equal(t, ModeList, h.ctrl.Mode().Kind())
}

func TestController_QuickScanPreferenceSurvivesRestart(t *testing.T) {
	h := newHarness(t, Options{})
	h.ctrl.SetQuickScan(true)

	restarted := New(h.backend, h.queue, nil, zap.NewNop(), Options{})
	defer restarted.Close()
	assert.True(t, restarted.QuickScan())

	restarted.SetQuickScan(false)
	again := New(h.backend, h.queue, nil, zap.NewNop(), Options{QuickScan: true})
	defer again.Close()
	assert.False(t, again.QuickScan(), "saved preference beats the default")
}

func TestController_RecountOverwrites(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.start(t, 1)

	require.NoError(t, h.ctrl.SelectProduct(ctx, 1))
	require.NoError(t, h.ctrl.SetBackup(5))
	_, err := h.ctrl.Save(ctx)
	require.NoError(t, err)

	require.NoError(t, h.ctrl.SelectProduct(ctx, 1))
	require.NoError(t, h.ctrl.SetBackup(1))
	_, err = h.ctrl.Save(ctx)
	require.NoError(t, err)

	counts := h.ctrl.Counts()
	require.Len(t, counts, 1)
	assert.InDelta(t, 1.0, counts[1].TotalUnits, 1e-9)
}

func TestController_SessionConflict(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.start(t, 2)

	other := New(h.backend, h.queue, h.toasts, zap.NewNop(), Options{})
	defer other.Close()
	_, err := other.StartSession(ctx, 1)
	require.Error(t, err)
	assert.True(t, IsSessionConflict(err))
	assert.Equal(t, ModeSetup, other.Mode().Kind(), "no state change on conflict")
	assert.Nil(t, other.Session())
	assert.Equal(t, LevelWarn, h.toasts.last().level)
	assert.Contains(t, h.toasts.last().message, "finish or cancel")
}

func TestController_AdoptsInProgressSession(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	first := h.start(t, 1)

	vol := 375.0
	h.backend.stored[first.ID] = []models.InventoryCount{
		{SessionID: first.ID, ProductID: 1, CountedBottles: 4, PartialVolumeMl: &vol, TotalUnits: 4.5, IsManualEstimate: true},
	}

	station := New(h.backend, h.queue, nil, zap.NewNop(), Options{})
	defer station.Close()
	require.NoError(t, station.LoadCatalog(ctx))
	again, err := station.StartSession(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID, "existing session adopted")
	assert.True(t, again.Resumed)
	assert.Len(t, h.backend.sessions, 1)

	counts := station.Counts()
	require.Contains(t, counts, int64(1))
	assert.Equal(t, BottleQuantity{Backup: 4}, counts[1].Quantity)
	assert.Equal(t, 50, counts[1].PartialPercent)
	assert.Equal(t, "House Pils 750", counts[1].ProductName)
}

func TestController_StartRefusedOffline(t *testing.T) {
	h := newHarness(t, Options{})
	h.queue.SetOnline(context.Background(), false)

	_, err := h.ctrl.StartSession(context.Background(), 1)
	assert.ErrorIs(t, err, ErrOffline)
	assert.Equal(t, ModeSetup, h.ctrl.Mode().Kind())
	assert.Empty(t, h.backend.sessions)
}

func TestController_BackIsModeAware(t *testing.T) {
	h := newHarness(t, Options{QuickScan: true})
	ctx := context.Background()
	h.start(t, 1)

	_, err := h.ctrl.SelectByCode(ctx, "0002")
	require.NoError(t, err)
	require.NoError(t, h.ctrl.Back())
	assert.Equal(t, ModeScan, h.ctrl.Mode().Kind())

	h.ctrl.SetQuickScan(false)
	require.NoError(t, h.ctrl.SelectProduct(ctx, 2))
	require.NoError(t, h.ctrl.Back())
	assert.Equal(t, ModeList, h.ctrl.Mode().Kind())

	h.ctrl.SetQuickScan(true)
	_, err = h.ctrl.Finish()
	require.NoError(t, err)
	require.NoError(t, h.ctrl.Back())
	assert.Equal(t, ModeList, h.ctrl.Mode().Kind(), "review always goes back to the list")

	assert.ErrorIs(t, h.ctrl.Back(), ErrInvalidTransition)
}

func TestController_ScaleThenManual(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.start(t, 1)
	require.NoError(t, h.ctrl.SelectProduct(ctx, 2))

	// Pale Ale: empty 250, full 620 -> 435g is 50%
	require.NoError(t, h.ctrl.ApplyScaleWeight(435))
	d := h.draft(t)
	assert.Equal(t, 50, d.PartialPercent())
	assert.False(t, d.IsManualEstimate())
	require.NotNil(t, d.ScaleWeight())

	require.NoError(t, h.ctrl.ApplyScaleWeight(435))
	assert.Equal(t, 50, h.draft(t).PartialPercent(), "same weight, same percent")

	require.NoError(t, h.ctrl.SetPartialPercent(65))
	d = h.draft(t)
	assert.True(t, d.IsManualEstimate())
	assert.Nil(t, d.ScaleWeight())

	_, err := h.ctrl.Save(ctx)
	require.NoError(t, err)
	recs := h.backend.savedRecords()
	require.Len(t, recs, 1)
	assert.True(t, recs[0].IsManualEstimate)
	assert.Nil(t, recs[0].ScaleWeightGrams)
}

func TestController_ScaleReadingIsSaved(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.start(t, 1)
	require.NoError(t, h.ctrl.SelectProduct(ctx, 2))
	require.NoError(t, h.ctrl.ApplyScaleWeight(435))
	_, err := h.ctrl.Save(ctx)
	require.NoError(t, err)

	recs := h.backend.savedRecords()
	require.Len(t, recs, 1)
	assert.False(t, recs[0].IsManualEstimate)
	require.NotNil(t, recs[0].ScaleWeightGrams)
	assert.Equal(t, 435.0, *recs[0].ScaleWeightGrams)
}

func TestController_KegSaveBlockedUntilSummary(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.start(t, 1)

	gate := make(chan struct{})
	h.backend.kegGates[10] = gate

	require.NoError(t, h.ctrl.SelectProduct(ctx, 10))
	total, ready := h.ctrl.Total()
	assert.False(t, ready)
	assert.Zero(t, total)
	assert.Nil(t, h.draft(t).KegSummary())

	_, err := h.ctrl.Save(ctx)
	assert.ErrorIs(t, err, ErrKegNotReady)
	assert.Equal(t, ModeInput, h.ctrl.Mode().Kind())
	assert.Empty(t, h.backend.savedRecords())

	close(gate)
	h.ctrl.Wait()

	total, ready = h.ctrl.Total()
	assert.True(t, ready)
	// 0.4 + 0.3 tapped + 2 on deck
	assert.InDelta(t, 2.7, total, 1e-9)
	assert.Equal(t, 2, h.draft(t).Cooler())

	require.NoError(t, h.ctrl.SetCooler(3))
	data, err := h.ctrl.Save(ctx)
	require.NoError(t, err)
	assert.Equal(t, KegQuantity{Cooler: 3}, data.Quantity)
	assert.Nil(t, data.PartialVolumeMl)

	recs := h.backend.savedRecords()
	require.Len(t, recs, 1)
	assert.True(t, recs[0].IsKeg)
	assert.Equal(t, 3, recs[0].CountedBottles)
	assert.Nil(t, recs[0].PartialVolumeMl)
	assert.InDelta(t, 3.7, recs[0].TotalUnits, 1e-9)
}

func TestController_StaleKegSummaryDiscarded(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.start(t, 1)

	slow := make(chan struct{})
	h.backend.kegGates[10] = slow

	require.NoError(t, h.ctrl.SelectProduct(ctx, 10))
	require.NoError(t, h.ctrl.Back())
	require.NoError(t, h.ctrl.SelectProduct(ctx, 11))

	assert.Eventually(t, func() bool {
		_, ready := h.ctrl.Total()
		return ready
	}, time.Second, 5*time.Millisecond)

	close(slow)
	h.ctrl.Wait()

	d := h.draft(t)
	assert.Equal(t, int64(11), d.Product().ID)
	require.NotNil(t, d.KegSummary())
	assert.Equal(t, int64(11), d.KegSummary().ProductID)
	total, _ := h.ctrl.Total()
	assert.InDelta(t, 1.5, total, 1e-9)
}

func TestController_KegSummaryFailureReturnsToBrowse(t *testing.T) {
	h := newHarness(t, Options{QuickScan: true})
	h.start(t, 1)
	h.backend.kegErr = errors.New("keg service down")

	require.NoError(t, h.ctrl.SelectProduct(context.Background(), 10))
	h.ctrl.Wait()

	assert.Equal(t, ModeScan, h.ctrl.Mode().Kind())
	assert.Equal(t, LevelError, h.toasts.last().level)
}

func TestController_KegOfflineRefused(t *testing.T) {
	h := newHarness(t, Options{})
	h.start(t, 1)
	h.queue.SetOnline(context.Background(), false)

	err := h.ctrl.SelectProduct(context.Background(), 10)
	assert.ErrorIs(t, err, ErrOffline)
	assert.Equal(t, ModeList, h.ctrl.Mode().Kind())
}

func TestController_LiveKegLevelsPreferred(t *testing.T) {
	h := newHarness(t, Options{LiveSensors: true, KegPollInterval: 10 * time.Millisecond})
	h.start(t, 1)
	h.backend.levels = map[int]float64{3: 80}

	require.NoError(t, h.ctrl.SelectProduct(context.Background(), 10))

	// tap 3 live at 80, tap 4 stored at 30, two on deck
	assert.Eventually(t, func() bool {
		total, ready := h.ctrl.Total()
		return ready && total > 3.09 && total < 3.11
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, h.ctrl.Back())
	h.backend.mu.Lock()
	calls := h.backend.levelCalls
	h.backend.mu.Unlock()
	time.Sleep(50 * time.Millisecond)
	h.backend.mu.Lock()
	after := h.backend.levelCalls
	h.backend.mu.Unlock()
	assert.LessOrEqual(t, after, calls+1, "poller stops when input mode is left")
}

func TestController_NoPollingWithoutSensors(t *testing.T) {
	h := newHarness(t, Options{KegPollInterval: 10 * time.Millisecond})
	h.start(t, 1)
	require.NoError(t, h.ctrl.SelectProduct(context.Background(), 10))
	h.ctrl.Wait()
	time.Sleep(30 * time.Millisecond)

	h.backend.mu.Lock()
	defer h.backend.mu.Unlock()
	assert.Zero(t, h.backend.levelCalls)
}

func TestController_OfflineSessionReplaysOnReconnect(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.start(t, 1)
	h.queue.SetOnline(ctx, false)

	for _, c := range []struct {
		id      int64
		partial int
	}{{1, 20}, {2, 0}, {3, 100}} {
		require.NoError(t, h.ctrl.SelectProduct(ctx, c.id))
		require.NoError(t, h.ctrl.SetPartialPercent(c.partial))
		_, err := h.ctrl.Save(ctx)
		require.NoError(t, err)
		assert.Equal(t, ModeList, h.ctrl.Mode().Kind())
	}
	assert.Empty(t, h.backend.savedRecords())
	pending, err := h.queue.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 3)

	res := h.queue.SetOnline(ctx, true)
	require.NotNil(t, res)
	assert.Equal(t, 3, res.Replayed)

	recs := h.backend.savedRecords()
	require.Len(t, recs, 3)
	for i, want := range []float64{150, 0, 750} {
		require.NotNil(t, recs[i].PartialVolumeMl)
		assert.InDelta(t, want, *recs[i].PartialVolumeMl, 1e-9)
	}
	pending, err = h.queue.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestController_UnreachableSaveIsQueued(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.start(t, 1)
	h.backend.saveErr = fmt.Errorf("dial tcp: %w", ErrUnreachable)

	require.NoError(t, h.ctrl.SelectProduct(ctx, 1))
	_, err := h.ctrl.Save(ctx)
	require.NoError(t, err)

	assert.False(t, h.queue.IsOnline())
	assert.Equal(t, ModeList, h.ctrl.Mode().Kind())
	assert.Equal(t, LevelWarn, h.toasts.last().level)
	pending, err := h.queue.Pending()
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestController_OnlineRecountSupersedesQueuedCount(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.start(t, 1)

	h.queue.SetOnline(ctx, false)
	require.NoError(t, h.ctrl.SelectProduct(ctx, 1))
	require.NoError(t, h.ctrl.SetBackup(5))
	_, err := h.ctrl.Save(ctx)
	require.NoError(t, err)

	// reconnect while the server still fails: the offline count stays queued
	h.backend.saveErr = errors.New("503")
	h.queue.SetOnline(ctx, true)
	pending, err := h.queue.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)

	h.backend.saveErr = nil
	require.NoError(t, h.ctrl.SelectProduct(ctx, 1))
	require.NoError(t, h.ctrl.SetBackup(7))
	_, err = h.ctrl.Save(ctx)
	require.NoError(t, err)

	pending, err = h.queue.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending, "recount replaces the queued count")

	_, err = h.ctrl.Finish()
	require.NoError(t, err)
	_, err = h.ctrl.Submit(ctx)
	require.NoError(t, err)

	recs := h.backend.savedRecords()
	require.Len(t, recs, 1)
	assert.Equal(t, 7, recs[0].CountedBottles)
	assert.False(t, recs[0].CountedAt.IsZero())
	assert.Equal(t, 7, h.backend.product(1).BackupCount)
}

func TestController_SecondSessionUsesSubmittedBaseline(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.start(t, 1)

	require.NoError(t, h.ctrl.SelectProduct(ctx, 1))
	assert.Equal(t, 3, h.draft(t).Backup())
	require.NoError(t, h.ctrl.SetBackup(20))
	_, err := h.ctrl.Save(ctx)
	require.NoError(t, err)
	_, err = h.ctrl.Finish()
	require.NoError(t, err)
	_, err = h.ctrl.Submit(ctx)
	require.NoError(t, err)

	h.start(t, 1)
	require.NoError(t, h.ctrl.SelectProduct(ctx, 1))
	assert.Equal(t, 20, h.draft(t).Backup(), "draft seeded from the submitted count")
	_, err = h.ctrl.Save(ctx)
	require.NoError(t, err)

	report, err := h.ctrl.Finish()
	require.NoError(t, err)
	require.Len(t, report.Lines, 1)
	assert.Equal(t, 20.0, report.Lines[0].Expected)
	assert.True(t, report.Lines[0].Variance.IsZero())
}

func TestController_CatalogRefreshFailureKeepsSnapshot(t *testing.T) {
	h := newHarness(t, Options{})
	h.backend.productsErr = fmt.Errorf("dial tcp: %w", ErrUnreachable)

	h.start(t, 1)
	assert.Len(t, h.ctrl.Products(), 5, "zone products from the snapshot")
	assert.False(t, h.queue.IsOnline())
}

func TestController_RejectedSaveStaysInInput(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.start(t, 1)
	h.backend.saveErr = offline.ErrRejected

	require.NoError(t, h.ctrl.SelectProduct(ctx, 1))
	_, err := h.ctrl.Save(ctx)
	assert.ErrorIs(t, err, offline.ErrRejected)
	assert.Equal(t, ModeInput, h.ctrl.Mode().Kind())
	assert.True(t, h.queue.IsOnline())
	assert.Empty(t, h.ctrl.Counts())
}

func TestController_FinishReportsVariance(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.start(t, 1)

	// expected 10 on both
	require.NoError(t, h.ctrl.SelectProduct(ctx, 1))
	require.NoError(t, h.ctrl.SetPartialPercent(10))
	require.NoError(t, h.ctrl.SetBackup(12))
	_, err := h.ctrl.Save(ctx)
	require.NoError(t, err)

	require.NoError(t, h.ctrl.SelectProduct(ctx, 2))
	require.NoError(t, h.ctrl.SetPartialPercent(50))
	require.NoError(t, h.ctrl.SetBackup(11))
	_, err = h.ctrl.Save(ctx)
	require.NoError(t, err)

	report, err := h.ctrl.Finish()
	require.NoError(t, err)
	assert.Equal(t, ModeReview, h.ctrl.Mode().Kind())
	require.Len(t, report.Lines, 2)

	pils, ale := report.Lines[0], report.Lines[1]
	assert.Equal(t, "House Pils 750", pils.ProductName)
	assert.Equal(t, "2.1", pils.Variance.String())
	assert.True(t, pils.Large)
	assert.Equal(t, "1.5", ale.Variance.String())
	assert.False(t, ale.Large)
	assert.Equal(t, 1, report.LargeCount)
}

func TestController_SubmitFlushesQueue(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	session := h.start(t, 1)

	h.queue.SetOnline(ctx, false)
	require.NoError(t, h.ctrl.SelectProduct(ctx, 1))
	_, err := h.ctrl.Save(ctx)
	require.NoError(t, err)

	// reconnect while the server still fails: the entry stays queued
	h.backend.saveErr = errors.New("503")
	h.queue.SetOnline(ctx, true)
	pending, err := h.queue.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)

	_, err = h.ctrl.Finish()
	require.NoError(t, err)
	_, err = h.ctrl.Submit(ctx)
	assert.ErrorIs(t, err, ErrPendingCounts)
	assert.Equal(t, ModeReview, h.ctrl.Mode().Kind())

	h.backend.saveErr = nil
	done, err := h.ctrl.Submit(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, done.Status)
	assert.Equal(t, session.ID, done.ID)
	assert.Len(t, h.backend.savedRecords(), 1)
	assert.Equal(t, ModeSetup, h.ctrl.Mode().Kind())
	assert.Nil(t, h.ctrl.Session())
	assert.Empty(t, h.ctrl.Counts())
}

func TestController_SubmitFailureStaysInReview(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.start(t, 1)
	_, err := h.ctrl.Finish()
	require.NoError(t, err)

	h.backend.finishErr = errors.New("boom")
	_, err = h.ctrl.Submit(ctx)
	require.Error(t, err)
	assert.Equal(t, ModeReview, h.ctrl.Mode().Kind())
	assert.NotNil(t, h.ctrl.Session())
}

func TestController_Cancel(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	s := h.start(t, 1)

	require.NoError(t, h.ctrl.Cancel(ctx))
	assert.Equal(t, Setup{ZoneID: 1}, h.ctrl.Mode())
	assert.Equal(t, models.SessionCancelled, h.backend.sessions[s.ID].Status)

	other := h.start(t, 2)
	assert.NotEqual(t, s.ID, other.ID)
}

func TestController_ViewCompletedAndStartNew(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	s := h.start(t, 1)
	require.NoError(t, h.ctrl.SelectProduct(ctx, 1))
	_, err := h.ctrl.Save(ctx)
	require.NoError(t, err)
	_, err = h.ctrl.Finish()
	require.NoError(t, err)
	_, err = h.ctrl.Submit(ctx)
	require.NoError(t, err)

	h.backend.stored[s.ID] = []models.InventoryCount{{SessionID: s.ID, ProductID: 1, CountedBottles: 3, TotalUnits: 3}}

	require.NoError(t, h.ctrl.OpenCompleted(ctx, s.ID))
	view, ok := h.ctrl.Mode().(ViewCompleted)
	require.True(t, ok)
	assert.Equal(t, s.ID, view.Session.ID)
	assert.Len(t, view.Counts, 1)

	assert.ErrorIs(t, h.ctrl.SetBackup(1), ErrInvalidTransition, "read-only")
	_, err = h.ctrl.Finish()
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, h.ctrl.StartNewForZone())
	assert.Equal(t, Setup{ZoneID: 1}, h.ctrl.Mode())

	next, err := h.ctrl.StartSession(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), next.ZoneID)
}

func TestController_OpenCompletedRejectsActiveSession(t *testing.T) {
	h := newHarness(t, Options{})
	s := h.start(t, 1)

	viewer := New(h.backend, h.queue, nil, zap.NewNop(), Options{})
	defer viewer.Close()
	assert.ErrorIs(t, viewer.OpenCompleted(context.Background(), s.ID), ErrInvalidTransition)
	assert.ErrorIs(t, viewer.OpenCompleted(context.Background(), 424242), ErrNoSession)
}

func TestController_DuplicateScansSuppressed(t *testing.T) {
	now := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	h := newHarness(t, Options{QuickScan: true, ScanDedupWindow: 2 * time.Second, Now: clock})
	ctx := context.Background()
	h.start(t, 1)

	handled, err := h.ctrl.SelectByCode(ctx, "0001")
	require.NoError(t, err)
	require.True(t, handled)
	_, err = h.ctrl.Save(ctx)
	require.NoError(t, err)

	handled, err = h.ctrl.SelectByCode(ctx, "0001")
	require.NoError(t, err)
	assert.False(t, handled, "same label still in view")
	assert.Equal(t, ModeScan, h.ctrl.Mode().Kind())

	now = now.Add(3 * time.Second)
	handled, err = h.ctrl.SelectByCode(ctx, "0001")
	require.NoError(t, err)
	assert.True(t, handled)
}

func TestController_RefusedScanCanBeRetried(t *testing.T) {
	now := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	h := newHarness(t, Options{QuickScan: true, ScanDedupWindow: 2 * time.Second, Now: clock})
	ctx := context.Background()
	h.start(t, 1)

	h.queue.SetOnline(ctx, false)
	handled, err := h.ctrl.SelectByCode(ctx, "0010")
	assert.ErrorIs(t, err, ErrOffline)
	assert.True(t, handled)
	assert.Equal(t, ModeScan, h.ctrl.Mode().Kind())

	h.queue.SetOnline(ctx, true)
	handled, err = h.ctrl.SelectByCode(ctx, "0010")
	require.NoError(t, err)
	assert.True(t, handled, "a refused scan is not treated as a duplicate")
	h.ctrl.Wait()
	assert.True(t, h.ctrl.CanSave())
}

func TestController_UnknownAndRemoteCodes(t *testing.T) {
	h := newHarness(t, Options{QuickScan: true})
	ctx := context.Background()
	h.start(t, 1)

	_, err := h.ctrl.SelectByCode(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownProduct)
	assert.Equal(t, ModeScan, h.ctrl.Mode().Kind())

	handled, err := h.ctrl.SelectByCode(ctx, "9999")
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, int64(99), h.draft(t).Product().ID)
}

func TestController_ProductsAndSearch(t *testing.T) {
	h := newHarness(t, Options{})
	h.start(t, 1)

	names := make([]string, 0)
	for _, p := range h.ctrl.Products() {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"House Pils 750", "IPA Keg", "Lager Keg", "Pale Ale 355", "Stout 750"}, names)

	found := h.ctrl.Search("keg")
	assert.Len(t, found, 2)
	found = h.ctrl.Search("0002")
	require.Len(t, found, 1)
	assert.Equal(t, int64(2), found[0].ID)
}

func TestController_CachedCatalogOffline(t *testing.T) {
	h := newHarness(t, Options{})
	h.queue.SetOnline(context.Background(), false)

	fresh := New(h.backend, h.queue, nil, zap.NewNop(), Options{})
	defer fresh.Close()
	require.NoError(t, fresh.LoadCatalog(context.Background()))
	assert.Len(t, fresh.Products(), len(h.backend.products))
}
