package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/xelth-com/tapcount/internal/buildinfo"
	"github.com/xelth-com/tapcount/internal/metrics"
	"github.com/xelth-com/tapcount/internal/middleware"
	"github.com/xelth-com/tapcount/internal/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Router wraps the mux router and its dependencies
type Router struct {
	*mux.Router
	db        *gorm.DB
	hub       *websocket.Hub
	metrics   *metrics.Metrics
	log       *zap.Logger
	validate  *validator.Validate
	publicURL string
}

// Deps are the collaborators the handlers need. Hub and Metrics may be nil.
type Deps struct {
	DB        *gorm.DB
	Hub       *websocket.Hub
	Metrics   *metrics.Metrics
	Log       *zap.Logger
	PublicURL string
}

// NewRouter creates a new HTTP router with all routes
func NewRouter(d Deps) *Router {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	r := &Router{
		Router:    mux.NewRouter(),
		db:        d.DB,
		hub:       d.Hub,
		metrics:   d.Metrics,
		log:       d.Log,
		validate:  validator.New(),
		publicURL: strings.TrimRight(d.PublicURL, "/"),
	}

	r.Use(middleware.RequestLogger(d.Log))

	// Health check endpoint
	r.HandleFunc("/health", r.healthCheck).Methods("GET")
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler()).Methods("GET")
	}
	if d.Hub != nil {
		r.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
			websocket.ServeWs(d.Hub, w, req)
		})
	}

	api := r.PathPrefix("/api").Subrouter()

	// Catalog
	api.HandleFunc("/zones", r.listZones).Methods("GET")
	api.HandleFunc("/products", r.listProducts).Methods("GET")
	api.HandleFunc("/products/lookup", r.lookupProduct).Methods("GET")
	api.HandleFunc("/products/{id}/kegs", r.kegSummary).Methods("GET")

	// Sessions
	api.HandleFunc("/sessions", r.listSessions).Methods("GET")
	api.HandleFunc("/sessions", r.startSession).Methods("POST")
	api.HandleFunc("/sessions/{id}", r.getSession).Methods("GET")
	api.HandleFunc("/sessions/{id}/counts", r.sessionCounts).Methods("GET")
	api.HandleFunc("/sessions/{id}/counts", r.saveCount).Methods("PUT")
	api.HandleFunc("/sessions/{id}/finish", r.finishSession).Methods("POST")
	api.HandleFunc("/sessions/{id}/cancel", r.cancelSession).Methods("POST")
	api.HandleFunc("/sessions/{id}/report", r.sessionReport).Methods("GET")
	api.HandleFunc("/sessions/{id}/report.pdf", r.sessionReportPDF).Methods("GET")
	api.HandleFunc("/sessions/{id}/qr.png", r.sessionQR).Methods("GET")

	// Keg sensors
	api.HandleFunc("/taps/levels", r.liveLevels).Methods("GET")
	api.HandleFunc("/taps/{number}/readings", r.ingestReading).Methods("POST")

	return r
}

// healthCheck returns the health status of the API
func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	sqlDB, err := r.db.DB()
	if err != nil || sqlDB.PingContext(req.Context()) != nil {
		respondError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status":     "ok",
		"commit":     buildinfo.CommitHash,
		"build_time": buildinfo.BuildTime,
		"started_at": buildinfo.StartTime,
	})
}

// decode reads a JSON body and runs struct validation
func (r *Router) decode(w http.ResponseWriter, req *http.Request, v interface{}) bool {
	if err := json.NewDecoder(req.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return false
	}
	if err := r.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			respondError(w, http.StatusUnprocessableEntity, "Invalid field "+verrs[0].Field()+": "+verrs[0].Tag())
			return false
		}
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return false
	}
	return true
}

func pathID(req *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(req)[name], 10, 64)
	return id, err == nil && id > 0
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
