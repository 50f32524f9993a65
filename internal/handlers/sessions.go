package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/xelth-com/tapcount/internal/models"
	"github.com/xelth-com/tapcount/internal/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StartSessionRequest opens a count for a zone
type StartSessionRequest struct {
	ZoneID int64 `json:"zone_id" validate:"required,gt=0"`
}

// conflictResponse is returned when another zone is being counted
type conflictResponse struct {
	Error        string `json:"error"`
	ActiveZoneID int64  `json:"active_zone_id"`
	SessionID    int64  `json:"session_id"`
}

var errSessionConflict = errors.New("another zone has a session in progress")

// startSession creates a session, or returns the zone's in-progress one with resumed=true.
// Only one session may be in progress across all zones.
func (r *Router) startSession(w http.ResponseWriter, req *http.Request) {
	var body StartSessionRequest
	if !r.decode(w, req, &body) {
		return
	}

	var zone models.Zone
	if err := r.db.WithContext(req.Context()).First(&zone, body.ZoneID).Error; err != nil {
		respondError(w, http.StatusNotFound, "Zone not found")
		return
	}

	session, created, err := r.openSession(req, zone.ID)
	if errors.Is(err, errSessionConflict) {
		var other models.Zone
		r.db.WithContext(req.Context()).First(&other, session.ZoneID)
		name := other.Name
		if name == "" {
			name = fmt.Sprintf("Zone %d", session.ZoneID)
		}
		r.metrics.SessionStarted("conflict")
		respondJSON(w, http.StatusConflict, conflictResponse{
			Error:        fmt.Sprintf("%s already has a count in progress. Finish or cancel it before starting a new one.", name),
			ActiveZoneID: session.ZoneID,
			SessionID:    session.ID,
		})
		return
	}
	if err != nil {
		r.log.Error("failed to start session", zap.Int64("zone_id", zone.ID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to start session")
		return
	}

	session.Zone = &zone
	if !created {
		session.Resumed = true
		r.metrics.SessionStarted("resumed")
		respondJSON(w, http.StatusOK, session)
		return
	}

	r.metrics.SessionStarted("created")
	r.hub.Broadcast(websocket.NewEvent(websocket.EventSessionStarted, session.ID, session))
	r.log.Info("session started", zap.Int64("session_id", session.ID), zap.Int64("zone_id", zone.ID))
	respondJSON(w, http.StatusCreated, session)
}

// openSession returns the in-progress session for zoneID or creates one. A session of
// another zone comes back with errSessionConflict.
func (r *Router) openSession(req *http.Request, zoneID int64) (*models.InventorySession, bool, error) {
	db := r.db.WithContext(req.Context())

	// Two attempts: a concurrent start can win the partial unique index between our read and insert
	for attempt := 0; attempt < 2; attempt++ {
		var active models.InventorySession
		err := db.Where("status = ?", models.SessionInProgress).First(&active).Error
		if err == nil {
			if active.ZoneID != zoneID {
				return &active, false, errSessionConflict
			}
			return &active, false, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, err
		}

		session := models.InventorySession{
			ZoneID:    zoneID,
			Status:    models.SessionInProgress,
			StartedAt: time.Now().UTC(),
		}
		if err := db.Create(&session).Error; err == nil {
			return &session, true, nil
		} else if attempt == 1 {
			return nil, false, err
		}
	}
	return nil, false, errors.New("unreachable")
}

// listSessions returns sessions, newest first, optionally filtered by status
func (r *Router) listSessions(w http.ResponseWriter, req *http.Request) {
	q := r.db.WithContext(req.Context()).Preload("Zone").Order("started_at DESC").Limit(100)
	if status := req.URL.Query().Get("status"); status != "" {
		q = q.Where("status = ?", status)
	}
	var sessions []models.InventorySession
	if err := q.Find(&sessions).Error; err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to fetch sessions")
		return
	}
	respondJSON(w, http.StatusOK, sessions)
}

// getSession returns one session
func (r *Router) getSession(w http.ResponseWriter, req *http.Request) {
	session, ok := r.loadSession(w, req)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, session)
}

func (r *Router) loadSession(w http.ResponseWriter, req *http.Request) (*models.InventorySession, bool) {
	id, ok := pathID(req, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid session id")
		return nil, false
	}
	var session models.InventorySession
	if err := r.db.WithContext(req.Context()).Preload("Zone").First(&session, id).Error; err != nil {
		respondError(w, http.StatusNotFound, "Session not found")
		return nil, false
	}
	return &session, true
}

// sessionCounts returns the persisted counts of a session with their products
func (r *Router) sessionCounts(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(req, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid session id")
		return
	}
	var counts []models.InventoryCount
	if err := r.db.WithContext(req.Context()).Preload("Product").
		Where("session_id = ?", id).Order("counted_at").Find(&counts).Error; err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to fetch counts")
		return
	}
	respondJSON(w, http.StatusOK, counts)
}

// saveCount upserts one product's count. A recount of the same (session, product) overwrites
// unless the stored row was captured later, so a late offline replay cannot undo a recount.
func (r *Router) saveCount(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(req, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid session id")
		return
	}
	var rec models.CountRecord
	if !r.decode(w, req, &rec) {
		return
	}
	if rec.SessionID != id {
		respondError(w, http.StatusBadRequest, "Session id mismatch")
		return
	}
	if rec.IsKeg && rec.PartialVolumeMl != nil {
		respondError(w, http.StatusUnprocessableEntity, "Kegs have no partial volume")
		return
	}

	db := r.db.WithContext(req.Context())
	var session models.InventorySession
	if err := db.First(&session, id).Error; err != nil {
		respondError(w, http.StatusNotFound, "Session not found")
		return
	}
	if !session.IsActive() {
		respondError(w, http.StatusConflict, "Session is not in progress")
		return
	}
	var product models.Product
	if err := db.First(&product, rec.ProductID).Error; err != nil {
		respondError(w, http.StatusUnprocessableEntity, "Unknown product")
		return
	}
	if product.IsKeg() != rec.IsKeg {
		respondError(w, http.StatusUnprocessableEntity, "Count type does not match product")
		return
	}

	count := rec.ToCount(time.Now().UTC())
	count.ExpectedUnits = product.CurrentCountBottles
	result := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "session_id"}, {Name: "product_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"counted_bottles", "partial_volume_ml", "total_units", "expected_units",
			"is_manual_estimate", "scale_weight_grams", "is_keg", "counted_at",
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "inventory_counts.counted_at <= excluded.counted_at"},
		}},
	}).Create(&count)
	if result.Error != nil {
		r.log.Error("failed to save count", zap.Int64("session_id", id), zap.Int64("product_id", rec.ProductID), zap.Error(result.Error))
		respondError(w, http.StatusInternalServerError, "Failed to save count")
		return
	}
	if result.RowsAffected == 0 {
		// a newer recount is already stored; acknowledge with it so the replay is dropped
		var stored models.InventoryCount
		if err := db.Where("session_id = ? AND product_id = ?", id, rec.ProductID).First(&stored).Error; err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to save count")
			return
		}
		r.log.Info("older count ignored",
			zap.Int64("session_id", id),
			zap.Int64("product_id", rec.ProductID),
			zap.Time("counted_at", count.CountedAt),
			zap.Time("stored_at", stored.CountedAt),
		)
		respondJSON(w, http.StatusOK, stored)
		return
	}

	r.metrics.CountSaved(rec.IsKeg)
	r.hub.Broadcast(websocket.NewEvent(websocket.EventCountSaved, id, count))
	respondJSON(w, http.StatusOK, count)
}

// finishSession completes a session and makes its totals the new expected levels.
// Finishing an already completed session returns it unchanged.
func (r *Router) finishSession(w http.ResponseWriter, req *http.Request) {
	session, ok := r.loadSession(w, req)
	if !ok {
		return
	}
	switch session.Status {
	case models.SessionCompleted:
		respondJSON(w, http.StatusOK, session)
		return
	case models.SessionCancelled:
		respondError(w, http.StatusConflict, "Session was cancelled")
		return
	}

	err := r.db.WithContext(req.Context()).Transaction(func(tx *gorm.DB) error {
		var counts []models.InventoryCount
		if err := tx.Where("session_id = ?", session.ID).Find(&counts).Error; err != nil {
			return err
		}
		for _, c := range counts {
			if err := tx.Model(&models.Product{}).Where("id = ?", c.ProductID).Updates(map[string]interface{}{
				"current_count_bottles": c.TotalUnits,
				"backup_count":          c.CountedBottles,
			}).Error; err != nil {
				return err
			}
		}
		now := time.Now().UTC()
		session.Status = models.SessionCompleted
		session.CompletedAt = &now
		return tx.Model(&models.InventorySession{}).Where("id = ?", session.ID).Updates(map[string]interface{}{
			"status":       session.Status,
			"completed_at": now,
		}).Error
	})
	if err != nil {
		r.log.Error("failed to finish session", zap.Int64("session_id", session.ID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to finish session")
		return
	}

	r.metrics.SessionFinished(string(models.SessionCompleted))
	r.hub.Broadcast(websocket.NewEvent(websocket.EventSessionFinished, session.ID, session))
	r.log.Info("session finished", zap.Int64("session_id", session.ID))
	respondJSON(w, http.StatusOK, session)
}

// cancelSession abandons an in-progress session. Its counts are kept but never applied.
func (r *Router) cancelSession(w http.ResponseWriter, req *http.Request) {
	session, ok := r.loadSession(w, req)
	if !ok {
		return
	}
	if !session.IsActive() {
		respondError(w, http.StatusConflict, "Session is not in progress")
		return
	}

	now := time.Now().UTC()
	if err := r.db.WithContext(req.Context()).Model(&models.InventorySession{}).Where("id = ?", session.ID).Updates(map[string]interface{}{
		"status":       models.SessionCancelled,
		"completed_at": now,
	}).Error; err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to cancel session")
		return
	}
	session.Status = models.SessionCancelled
	session.CompletedAt = &now

	r.metrics.SessionFinished(string(models.SessionCancelled))
	r.hub.Broadcast(websocket.NewEvent(websocket.EventSessionCancelled, session.ID, session))
	respondJSON(w, http.StatusOK, session)
}
