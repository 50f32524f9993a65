package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/xelth-com/tapcount/internal/models"
	"github.com/xelth-com/tapcount/internal/websocket"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SensorReadingRequest is pushed by the keg sensor integration
type SensorReadingRequest struct {
	FillPercent *float64        `json:"fill_percent" validate:"required,gte=0,lte=100"`
	ReadAt      *time.Time      `json:"read_at"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

// liveLevels returns the latest sensor fill percentage per requested tap.
// Taps without a reading are left out.
func (r *Router) liveLevels(w http.ResponseWriter, req *http.Request) {
	taps, err := parseTaps(req.URL.Query().Get("taps"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid taps")
		return
	}
	levels := make(map[int]float64, len(taps))
	if len(taps) == 0 {
		respondJSON(w, http.StatusOK, levels)
		return
	}

	var rows []models.Tap
	if err := r.db.WithContext(req.Context()).
		Where("number IN ? AND sensor_fill_percent IS NOT NULL", taps).
		Find(&rows).Error; err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to fetch tap levels")
		return
	}
	for _, t := range rows {
		levels[t.Number] = *t.SensorFillPercent
	}
	respondJSON(w, http.StatusOK, levels)
}

func parseTaps(raw string) ([]int, error) {
	var taps []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n <= 0 {
			return nil, strconv.ErrSyntax
		}
		taps = append(taps, n)
	}
	return taps, nil
}

// ingestReading stores a sensor reading and updates the tap and its keg
func (r *Router) ingestReading(w http.ResponseWriter, req *http.Request) {
	number, err := strconv.Atoi(mux.Vars(req)["number"])
	if err != nil || number <= 0 {
		respondError(w, http.StatusBadRequest, "Invalid tap number")
		return
	}
	var body SensorReadingRequest
	if !r.decode(w, req, &body) {
		return
	}
	if len(body.Raw) > 0 && !json.Valid(body.Raw) {
		respondError(w, http.StatusBadRequest, "Invalid raw payload")
		return
	}

	readAt := time.Now().UTC()
	if body.ReadAt != nil {
		readAt = body.ReadAt.UTC()
	}
	fill := *body.FillPercent
	reading := models.KegSensorReading{
		TapNumber:   number,
		FillPercent: fill,
		Raw:         datatypes.JSON(body.Raw),
		ReadAt:      readAt,
	}

	err = r.db.WithContext(req.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&reading).Error; err != nil {
			return err
		}
		tap := models.Tap{Number: number, SensorFillPercent: &fill, SensorUpdatedAt: &readAt}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "number"}},
			DoUpdates: clause.AssignmentColumns([]string{"sensor_fill_percent", "sensor_updated_at"}),
		}).Create(&tap).Error; err != nil {
			return err
		}
		return tx.Model(&models.Keg{}).
			Where("tap_number = ? AND status = ?", number, models.KegTapped).
			Update("remaining_percent", fill).Error
	})
	if err != nil {
		r.log.Error("failed to store sensor reading", zap.Int("tap", number), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to store reading")
		return
	}

	r.metrics.SensorReading()
	r.hub.Broadcast(websocket.NewEvent(websocket.EventTapLevel, 0, map[string]interface{}{
		"tap_number":   number,
		"fill_percent": fill,
	}))
	respondJSON(w, http.StatusCreated, reading)
}
