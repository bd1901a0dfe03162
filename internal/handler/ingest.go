package handler

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"edgecam/internal/config"
	"edgecam/internal/dto"
	"edgecam/internal/logger"
	"edgecam/internal/metrics"
	"edgecam/internal/service"
	"edgecam/internal/service/storage"
)

// FormField is the multipart part carrying the image.
const FormField = "image"

// multipartMemory is how much of a form is kept in memory before spilling
// to temporary files.
const multipartMemory = 8 << 20

// ReceiveImageHandler accepts a multipart JPEG upload and stores it through
// the manager. Rejected requests never write to the upload root.
func ReceiveImageHandler(manager *service.Manager, cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadBytes)

		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var tooLarge *http.MaxBytesError
			switch {
			case errors.As(err, &tooLarge):
				metrics.Ingested(metrics.ResultTooLarge, 0)
				respondError(w, http.StatusRequestEntityTooLarge, "File too large")
			case errors.Is(err, http.ErrNotMultipart), errors.Is(err, http.ErrMissingBoundary):
				metrics.Ingested(metrics.ResultInvalid, 0)
				respondError(w, http.StatusBadRequest, "No image part")
			default:
				logger.Warning("Malformed upload from %s: %v", r.RemoteAddr, err)
				metrics.Ingested(metrics.ResultInvalid, 0)
				respondError(w, http.StatusBadRequest, "Malformed upload")
			}
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile(FormField)
		if err != nil {
			metrics.Ingested(metrics.ResultInvalid, 0)
			// a part sent without a filename is parsed as a plain value
			if _, ok := r.MultipartForm.Value[FormField]; ok {
				respondError(w, http.StatusBadRequest, "No selected file")
				return
			}
			respondError(w, http.StatusBadRequest, "No image part")
			return
		}
		defer file.Close()

		if strings.TrimSpace(header.Filename) == "" {
			metrics.Ingested(metrics.ResultInvalid, 0)
			respondError(w, http.StatusBadRequest, "No selected file")
			return
		}
		if !storage.IsImageName(header.Filename) {
			metrics.Ingested(metrics.ResultInvalid, 0)
			respondError(w, http.StatusBadRequest, "Invalid file type")
			return
		}

		payload, err := io.ReadAll(file)
		if err != nil {
			logger.Error("Error reading upload %s: %v", filepath.Base(header.Filename), err)
			metrics.Ingested(metrics.ResultFailed, 0)
			respondError(w, http.StatusBadRequest, "Malformed upload")
			return
		}

		if err := r.Context().Err(); err != nil {
			logger.Warning("Upload of %s cancelled before storing", filepath.Base(header.Filename))
			return
		}

		stored, err := manager.Ingest(r.Context(), payload, header.Filename)
		if err != nil {
			if errors.Is(err, storage.ErrInvalidType) {
				metrics.Ingested(metrics.ResultInvalid, 0)
				respondError(w, http.StatusBadRequest, "Invalid file type")
				return
			}
			logger.Error("Failed to store %s: %v", filepath.Base(header.Filename), err)
			metrics.Ingested(metrics.ResultFailed, 0)
			respondError(w, http.StatusInternalServerError, "Failed to store image")
			return
		}

		respondJSON(w, http.StatusOK, dto.IngestResponse{
			Message:   "Image received",
			Filename:  stored.Filename,
			URL:       stored.URL,
			Subdir:    stored.Day,
			Metadata:  stored.Metadata,
			Duplicate: stored.Duplicate,
		})
	}
}
