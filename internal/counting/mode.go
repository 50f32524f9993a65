package counting

import "github.com/xelth-com/tapcount/internal/models"

// ModeKind names a controller mode
type ModeKind string

const (
	ModeSetup         ModeKind = "setup"
	ModeList          ModeKind = "list"
	ModeScan          ModeKind = "scan"
	ModeInput         ModeKind = "input"
	ModeReview        ModeKind = "review"
	ModeViewCompleted ModeKind = "view-completed"
)

// Mode is the controller state. Each mode carries its own payload.
type Mode interface {
	Kind() ModeKind
}

// Setup is zone selection. ZoneID is pre-selected when non-zero.
type Setup struct {
	ZoneID int64
}

// List shows the zone's products
type List struct{}

// Scan waits for a barcode
type Scan struct{}

// Input edits one product's count. Return is the list/scan mode it was entered from.
type Input struct {
	Return ModeKind
	Draft  *Draft
}

// Review holds the variance report computed when the session was finished
type Review struct{}

// ViewCompleted is the read-only view of a finished session
type ViewCompleted struct {
	Session *models.InventorySession
	Counts  []models.InventoryCount
}

func (Setup) Kind() ModeKind         { return ModeSetup }
func (List) Kind() ModeKind          { return ModeList }
func (Scan) Kind() ModeKind          { return ModeScan }
func (Input) Kind() ModeKind         { return ModeInput }
func (Review) Kind() ModeKind        { return ModeReview }
func (ViewCompleted) Kind() ModeKind { return ModeViewCompleted }

func isBrowse(k ModeKind) bool { return k == ModeList || k == ModeScan }
