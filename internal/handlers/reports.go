package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/xelth-com/tapcount/internal/models"
	"github.com/xelth-com/tapcount/internal/reconcile"
	"github.com/xelth-com/tapcount/internal/services/report"
)

// buildReport compares each stored count against the expected level captured when it was saved
func (r *Router) buildReport(req *http.Request, session *models.InventorySession) (reconcile.Report, error) {
	var counts []models.InventoryCount
	if err := r.db.WithContext(req.Context()).Preload("Product").
		Where("session_id = ?", session.ID).Find(&counts).Error; err != nil {
		return reconcile.Report{}, err
	}
	return varianceReport(session, counts), nil
}

func varianceReport(session *models.InventorySession, counts []models.InventoryCount) reconcile.Report {
	lines := make([]reconcile.Line, 0, len(counts))
	for _, c := range counts {
		name := fmt.Sprintf("Product %d", c.ProductID)
		if c.Product != nil {
			name = c.Product.Name
		}
		lines = append(lines, reconcile.NewLine(c.ProductID, name, c.IsKeg, c.TotalUnits, c.ExpectedUnits))
	}
	return reconcile.BuildReport(session.ID, session.ZoneID, lines)
}

// sessionReport returns the variance report as JSON
func (r *Router) sessionReport(w http.ResponseWriter, req *http.Request) {
	session, ok := r.loadSession(w, req)
	if !ok {
		return
	}
	rep, err := r.buildReport(req, session)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to build report")
		return
	}
	respondJSON(w, http.StatusOK, rep)
}

// sessionReportPDF renders the variance report for printing
func (r *Router) sessionReportPDF(w http.ResponseWriter, req *http.Request) {
	session, ok := r.loadSession(w, req)
	if !ok {
		return
	}
	rep, err := r.buildReport(req, session)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to build report")
		return
	}

	meta := report.Meta{
		StartedAt:   session.StartedAt,
		CompletedAt: session.CompletedAt,
		Status:      string(session.Status),
	}
	if session.Zone != nil {
		meta.ZoneName = session.Zone.Name
	}
	if r.publicURL != "" {
		meta.DeepLink = report.SessionLink(r.publicURL, session.ID)
	}

	pdfBytes, err := report.VariancePDF(rep, meta)
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to generate PDF: %v", err))
		return
	}

	// Set headers for download
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"count_%d.pdf\"", session.ID))
	w.Header().Set("Content-Length", strconv.Itoa(len(pdfBytes)))
	w.Write(pdfBytes)
}

// sessionQR returns a QR code of the session's deep link
func (r *Router) sessionQR(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(req, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid session id")
		return
	}
	if r.publicURL == "" {
		respondError(w, http.StatusServiceUnavailable, "PUBLIC_URL is not configured")
		return
	}
	size, _ := strconv.Atoi(req.URL.Query().Get("size"))
	if size > 1024 {
		size = 1024
	}

	png, err := report.SessionQR(report.SessionLink(r.publicURL, id), size)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to generate QR code")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.Write(png)
}
