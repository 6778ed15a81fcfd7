package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/AhmedIkram05/StockLens-sub000/internal/receipt"
)

// maxPhotoSize bounds uploads; high-resolution phone photos fit comfortably
const maxPhotoSize = int64(50 << 20) // 50MB

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// captureStatus maps workflow errors onto HTTP statuses
func captureStatus(err error) int {
	switch {
	case errors.Is(err, receipt.ErrCaptureInProgress):
		return http.StatusConflict
	case errors.Is(err, receipt.ErrNoPendingCapture):
		return http.StatusConflict
	case errors.Is(err, receipt.ErrAmountRejected), errors.Is(err, receipt.ErrInvalidManualAmount):
		return http.StatusUnprocessableEntity
	case errors.Is(err, receipt.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// handleStartCapture runs a capture cycle up to its decision point
func (s *Server) handleStartCapture(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxPhotoSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		writeError(w, http.StatusBadRequest, "Error parsing form")
		return
	}

	f, header, err := r.FormFile("photo")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No photo was provided")
		return
	}
	defer f.Close()

	if header.Size > maxPhotoSize {
		writeError(w, http.StatusBadRequest, "Photo is too large. Maximum size is 50MB.")
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading photo data", "error", err, "filename", header.Filename)
		writeError(w, http.StatusInternalServerError, "Error reading photo")
		return
	}

	userID := r.FormValue("user_id")
	if userID == "" {
		userID = "local"
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		switch strings.ToLower(filepath.Ext(header.Filename)) {
		case ".png":
			contentType = "image/png"
		case ".pdf":
			contentType = "application/pdf"
		case ".heic":
			contentType = "image/heic"
		default:
			contentType = "image/jpeg"
		}
	}

	suggestion, err := s.captures.ProcessReceipt(r.Context(), userID, header.Filename, data, contentType)
	if err != nil {
		slog.Error("Capture failed", "error", err)
		writeError(w, captureStatus(err), err.Error())
		return
	}

	response := map[string]any{"suggestion": suggestion}
	if pending := s.captures.Pending(); pending != nil {
		response["draft_id"] = pending.DraftID
	}
	writeJSON(w, http.StatusOK, response)
}

// handleConfirm accepts the suggested amount, or a manual override when the
// request body carries one
func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Amount string `json:"amount"`
	}
	if r.Body != nil {
		// An empty body means "confirm the suggestion as-is"
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	var err error
	if body.Amount != "" {
		err = s.captures.ConfirmManual(body.Amount)
	} else {
		err = s.captures.Confirm()
	}
	if err != nil {
		writeError(w, captureStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

// handleRescan discards the current draft
func (s *Server) handleRescan(w http.ResponseWriter, r *http.Request) {
	if err := s.captures.Rescan(); err != nil {
		slog.Error("Rescan failed", "error", err)
		writeError(w, captureStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "discarded"})
}

// handleListReceipts returns the receipts owned by a user
func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = "local"
	}
	records, err := s.captures.ListByUser(userID)
	if err != nil {
		slog.Error("Error listing receipts", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// handleGetReceipt returns a single receipt
func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	record, err := s.captures.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, captureStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// handleGetReceiptPhoto serves the stored photo for a receipt
func (s *Server) handleGetReceiptPhoto(w http.ResponseWriter, r *http.Request) {
	data, err := s.captures.GetPhoto(r.PathValue("id"))
	if err != nil {
		writeError(w, captureStatus(err), err.Error())
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Write(data)
}

// handleDeleteReceipt removes a receipt
func (s *Server) handleDeleteReceipt(w http.ResponseWriter, r *http.Request) {
	if err := s.captures.Delete(r.PathValue("id")); err != nil {
		writeError(w, captureStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleProjection answers what a principal could have become invested in a
// ticker over a horizon
func (s *Server) handleProjection(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	principal, err := decimal.NewFromString(query.Get("principal"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "principal must be a number")
		return
	}
	ticker := query.Get("ticker")
	if ticker == "" {
		writeError(w, http.StatusBadRequest, "ticker is required")
		return
	}
	years, err := strconv.ParseFloat(query.Get("years"), 64)
	if err != nil || years <= 0 {
		writeError(w, http.StatusBadRequest, "years must be a positive number")
		return
	}

	projection := s.projector.ProjectFutureValue(r.Context(), principal, ticker, years)
	writeJSON(w, http.StatusOK, projection)
}
