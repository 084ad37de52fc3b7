package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/emanuele79ottolini-collab/finanze-famiglia/internal/domain"
	"github.com/emanuele79ottolini-collab/finanze-famiglia/internal/infra/observability"
	"github.com/emanuele79ottolini-collab/finanze-famiglia/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// NewRouter creates the HTTP router with all routes and middleware.
// syncSvc may be nil when no remote backend is configured; the API then
// runs purely local and /v1/sync/status reports offline.
func NewRouter(
	ledgerSvc *service.LedgerService,
	syncSvc *service.SyncService,
	importSvc *service.ImportService,
	authSvc *service.AuthService,
	hub *EventHub,
	metrics *observability.Metrics,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(syncSvc))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {

		// Authentication
		r.Post("/auth/login", authLoginHandler(authSvc, logger))

		// Read-only surface, always open on the home network
		r.Get("/ledger", getLedgerHandler(ledgerSvc))
		r.Get("/records/{collection}", listRecordsHandler(ledgerSvc, logger))
		r.Get("/summary", summaryHandler(ledgerSvc, metrics))
		r.Get("/summary/distribution", distributionHandler(ledgerSvc))
		r.Get("/summary/history", historyHandler(ledgerSvc))
		r.Get("/sync/status", syncStatusHandler(syncSvc))
		r.Get("/metrics/sync", syncMetricsHandler(metrics))
		r.Get("/events", hub.ServeHTTP)
		r.Get("/export", exportJSONHandler(importSvc, logger))
		r.Get("/export/csv", exportCSVHandler(importSvc, logger))

		// Mutating surface, behind the passphrase when configured
		r.Group(func(r chi.Router) {
			if authSvc != nil && authSvc.Enabled() {
				r.Use(JWTAuthMiddleware(authSvc, logger))
			}
			r.Post("/reset", resetHandler(ledgerSvc, logger))
			r.Post("/records/{collection}", addRecordHandler(ledgerSvc, logger))
			r.Put("/records/{collection}/{id}", updateRecordHandler(ledgerSvc, logger))
			r.Delete("/records/{collection}/{id}", deleteRecordHandler(ledgerSvc, logger))
			r.Put("/settings", settingsHandler(ledgerSvc, logger))
			r.Post("/import", importJSONHandler(importSvc, logger))
			r.Post("/import/spreadsheet", importSpreadsheetHandler(importSvc, logger))
		})
	})

	return r
}

// ============================================================
// Operational
// ============================================================

func healthzHandler(syncSvc *service.SyncService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sync := "disabled"
		if syncSvc != nil {
			sync = syncSvc.Status()
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"sync":   sync,
		})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

// ============================================================
// Authentication — POST /v1/auth/login
// ============================================================

func authLoginHandler(authSvc *service.AuthService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "POST /v1/auth/login")
		defer span.End()

		if authSvc == nil || !authSvc.Enabled() {
			writeError(w, http.StatusServiceUnavailable, "auth unavailable: no passphrase configured")
			return
		}

		var req domain.LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		resp, err := authSvc.Login(&req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// ============================================================
// Ledger snapshot & records
// ============================================================

func getLedgerHandler(ledgerSvc *service.LedgerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "GET /v1/ledger")
		defer span.End()

		writeJSON(w, http.StatusOK, ledgerSvc.Load())
	}
}

func resetHandler(ledgerSvc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "POST /v1/reset")
		defer span.End()

		logger.Info("ledger reset requested", zap.String("user", UserFromContext(r.Context())))
		writeJSON(w, http.StatusOK, ledgerSvc.Reset())
	}
}

func listRecordsHandler(ledgerSvc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "GET /v1/records/{collection}")
		defer span.End()

		collection := chi.URLParam(r, "collection")
		span.SetAttributes(attribute.String("collection", collection))

		l := ledgerSvc.Load()
		col, ok := l.Collection(collection)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown collection "+collection)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"records": *col})
	}
}

func addRecordHandler(ledgerSvc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "POST /v1/records/{collection}")
		defer span.End()

		collection := chi.URLParam(r, "collection")
		span.SetAttributes(attribute.String("collection", collection))

		var payload domain.Record
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		rec, err := ledgerSvc.Add(collection, payload)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, rec)
	}
}

func updateRecordHandler(ledgerSvc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "PUT /v1/records/{collection}/{id}")
		defer span.End()

		collection := chi.URLParam(r, "collection")
		id := chi.URLParam(r, "id")

		var patch domain.Record
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if err := ledgerSvc.Update(collection, id, patch); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func deleteRecordHandler(ledgerSvc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "DELETE /v1/records/{collection}/{id}")
		defer span.End()

		collection := chi.URLParam(r, "collection")
		id := chi.URLParam(r, "id")

		if err := ledgerSvc.Delete(collection, id); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func settingsHandler(ledgerSvc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "PUT /v1/settings")
		defer span.End()

		var patch domain.Settings
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		l := ledgerSvc.SaveSettings(patch)
		writeJSON(w, http.StatusOK, l.Settings)
	}
}

// ============================================================
// Aggregates
// ============================================================

func summaryHandler(ledgerSvc *service.LedgerService, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "GET /v1/summary")
		defer span.End()

		start := time.Now()
		summary := service.BuildSummary(ledgerSvc.Load(), time.Now())
		metrics.RecordRequestDuration("summary", time.Since(start))

		writeJSON(w, http.StatusOK, summary)
	}
}

func distributionHandler(ledgerSvc *service.LedgerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "GET /v1/summary/distribution")
		defer span.End()

		writeJSON(w, http.StatusOK, service.CostDistribution(ledgerSvc.Load()))
	}
}

func historyHandler(ledgerSvc *service.LedgerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "GET /v1/summary/history")
		defer span.End()

		writeJSON(w, http.StatusOK, service.SixMonthHistory(ledgerSvc.Load(), time.Now()))
	}
}

// ============================================================
// Sync status & metrics
// ============================================================

func syncStatusHandler(syncSvc *service.SyncService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := domain.SyncStatus{Status: service.StatusOffline}
		if syncSvc != nil {
			st.Status = syncSvc.Status()
			st.Device = syncSvc.Device()
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func syncMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetSyncSnapshot())
	}
}

// ============================================================
// Backup & import
// ============================================================

func exportJSONHandler(importSvc *service.ImportService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "GET /v1/export")
		defer span.End()

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", `attachment; filename="finanze_backup.json"`)
		if err := importSvc.ExportJSON(w); err != nil {
			logger.Error("backup export failed", zap.Error(err))
		}
	}
}

func importJSONHandler(importSvc *service.ImportService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "POST /v1/import")
		defer span.End()

		buf, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		l, err := importSvc.ImportJSON(buf)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, l)
	}
}

func importSpreadsheetHandler(importSvc *service.ImportService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "POST /v1/import/spreadsheet")
		defer span.End()

		file, _, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "multipart field 'file' is required")
			return
		}
		defer file.Close()

		result, err := importSvc.ImportSpreadsheet(file)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func exportCSVHandler(importSvc *service.ImportService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "GET /v1/export/csv")
		defer span.End()

		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="transazioni.csv"`)
		if err := importSvc.ExportCSV(w); err != nil {
			logger.Error("csv export failed", zap.Error(err))
		}
	}
}
