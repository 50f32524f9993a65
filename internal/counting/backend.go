package counting

import (
	"context"

	"github.com/xelth-com/tapcount/internal/models"
)

// Backend is the persistence collaborator the controller talks to.
// Transport failures are reported wrapped in ErrUnreachable.
type Backend interface {
	// StartSession returns the zone's in-progress session when one exists (Resumed set)
	// and a *SessionConflictError when a different zone is being counted.
	StartSession(ctx context.Context, zoneID int64) (*models.InventorySession, error)
	SaveCount(ctx context.Context, rec models.CountRecord) error
	FinishSession(ctx context.Context, sessionID int64) (*models.InventorySession, error)
	CancelSession(ctx context.Context, sessionID int64) error
	FetchSession(ctx context.Context, sessionID int64) (*models.InventorySession, error)
	FetchSessionCounts(ctx context.Context, sessionID int64) ([]models.InventoryCount, error)
	FetchKegSummary(ctx context.Context, productID int64) (*models.KegSummary, error)
	FetchLiveKegLevels(ctx context.Context, taps []int) (map[int]float64, error)
	// LookupProductByCode returns nil without error when the code is unknown
	LookupProductByCode(ctx context.Context, code string) (*models.Product, error)
	FetchZones(ctx context.Context) ([]models.Zone, error)
	FetchProducts(ctx context.Context) ([]models.Product, error)
}

// Level is the severity of an operator notification
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Notifier shows transient messages (toasts) to the operator
type Notifier interface {
	Notify(level Level, message string)
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(level Level, message string)

func (f NotifierFunc) Notify(level Level, message string) { f(level, message) }

type nopNotifier struct{}

func (nopNotifier) Notify(Level, string) {}
