package handler

import (
	"errors"
	"net/http"
	"time"

	"edgecam/internal/dto"
	"edgecam/internal/logger"
	"edgecam/internal/metrics"
	"edgecam/internal/service"
	"edgecam/internal/service/storage"
)

// GetImagesHandler returns every stored artifact, newest first.
func GetImagesHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		images, err := manager.Store().List()
		metrics.ListingSeconds.WithLabelValues("images").Observe(time.Since(start).Seconds())

		if err != nil {
			logger.Error("Error listing uploads: %v", err)
			respondError(w, http.StatusInternalServerError, "Failed to list images")
			return
		}
		respondJSON(w, http.StatusOK, images)
	}
}

// GetDaysHandler returns one summary per day directory, newest day first.
func GetDaysHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		days, err := manager.Store().Days()
		metrics.ListingSeconds.WithLabelValues("days").Observe(time.Since(start).Seconds())

		if err != nil {
			logger.Error("Error listing days: %v", err)
			respondError(w, http.StatusInternalServerError, "Failed to list days")
			return
		}
		respondJSON(w, http.StatusOK, days)
	}
}

// GetImagesByDayHandler lists the artifacts of the day given in ?day=YYYYMMDD.
func GetImagesByDayHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		day := r.URL.Query().Get("day")

		start := time.Now()
		images, err := manager.Store().ListDay(day)
		metrics.ListingSeconds.WithLabelValues("day").Observe(time.Since(start).Seconds())

		if errors.Is(err, storage.ErrInvalidDay) {
			respondError(w, http.StatusBadRequest, "Invalid day, expected YYYYMMDD")
			return
		}
		if err != nil {
			logger.Error("Error listing day %s: %v", day, err)
			respondError(w, http.StatusInternalServerError, "Failed to list images")
			return
		}
		respondJSON(w, http.StatusOK, images)
	}
}

// StatsHandler serves ingestion ledger totals. Without a ledger it answers
// 503.
func StatsHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ledger := manager.Ledger()
		if ledger == nil {
			respondError(w, http.StatusServiceUnavailable, "Ledger unavailable")
			return
		}

		stats, err := ledger.Stats()
		if err != nil {
			logger.Error("Error reading ledger stats: %v", err)
			respondError(w, http.StatusInternalServerError, "Failed to read stats")
			return
		}

		resp := dto.Stats{
			TotalArtifacts: stats.TotalArtifacts,
			TotalBytes:     stats.TotalBytes,
			PerDay:         stats.PerDay,
		}
		if stats.LastReceivedAt != nil {
			resp.LastReceivedAt = stats.LastReceivedAt.Local().Format(time.RFC3339)
		}
		respondJSON(w, http.StatusOK, resp)
	}
}

// HealthHandler answers the agent's reachability probe.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
