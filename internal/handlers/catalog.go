package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/xelth-com/tapcount/internal/models"
	"github.com/xelth-com/tapcount/internal/reconcile"
	"gorm.io/gorm"
)

// listZones returns all zones by name
func (r *Router) listZones(w http.ResponseWriter, req *http.Request) {
	var zones []models.Zone
	if err := r.db.WithContext(req.Context()).Order("name").Find(&zones).Error; err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to fetch zones")
		return
	}
	respondJSON(w, http.StatusOK, zones)
}

// listProducts returns active products with their zone membership, optionally for one zone
func (r *Router) listProducts(w http.ResponseWriter, req *http.Request) {
	q := r.db.WithContext(req.Context()).Preload("Zones").Where("active = ?", true).Order("name")
	if raw := req.URL.Query().Get("zone_id"); raw != "" {
		zoneID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid zone_id")
			return
		}
		q = q.Where("id IN (?) OR id NOT IN (?)",
			r.db.Table("product_zones").Select("product_id").Where("zone_id = ?", zoneID),
			r.db.Table("product_zones").Select("product_id"),
		)
	}

	var products []models.Product
	if err := q.Find(&products).Error; err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to fetch products")
		return
	}
	for i := range products {
		products[i].FlattenZones()
	}
	respondJSON(w, http.StatusOK, products)
}

// lookupProduct resolves a scanned barcode or UPC
func (r *Router) lookupProduct(w http.ResponseWriter, req *http.Request) {
	code := strings.TrimSpace(req.URL.Query().Get("code"))
	if code == "" {
		respondError(w, http.StatusBadRequest, "Empty code")
		return
	}

	var product models.Product
	err := r.db.WithContext(req.Context()).Preload("Zones").
		Where("barcode = ? OR upc = ?", code, code).
		First(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		respondError(w, http.StatusNotFound, "Product not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Lookup failed")
		return
	}
	product.FlattenZones()
	respondJSON(w, http.StatusOK, product)
}

// kegSummary aggregates a keg product's tapped and on-deck kegs
func (r *Router) kegSummary(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(req, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid product id")
		return
	}

	var product models.Product
	if err := r.db.WithContext(req.Context()).First(&product, id).Error; err != nil {
		respondError(w, http.StatusNotFound, "Product not found")
		return
	}
	if !product.IsKeg() {
		respondError(w, http.StatusUnprocessableEntity, "Product is not sold by volume")
		return
	}

	var kegs []models.Keg
	if err := r.db.WithContext(req.Context()).
		Where("product_id = ? AND status IN ?", id, []models.KegStatus{models.KegTapped, models.KegOnDeck}).
		Order("tap_number").Find(&kegs).Error; err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to fetch kegs")
		return
	}
	respondJSON(w, http.StatusOK, buildKegSummary(id, kegs))
}

func buildKegSummary(productID int64, kegs []models.Keg) models.KegSummary {
	s := models.KegSummary{ProductID: productID, TappedKegs: []models.TappedKeg{}}
	for _, k := range kegs {
		switch {
		case k.Status == models.KegTapped && k.TapNumber != nil:
			s.TappedKegs = append(s.TappedKegs, models.TappedKeg{
				KegID:            k.ID,
				TapNumber:        *k.TapNumber,
				RemainingPercent: k.RemainingPercent,
			})
		case k.Status == models.KegOnDeck:
			s.OnDeckCount++
		}
	}
	s.TotalKegEquivalent, _ = reconcile.KegTotal(&s, nil, s.OnDeckCount)
	return s
}
