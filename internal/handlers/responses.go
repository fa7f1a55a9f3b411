package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/MegaGrindStone/typewriter-chat/internal/errors"
)

type errorResponse struct {
	Error string `json:"error"`
}

// respondWithError maps the application's sentinel errors to a status code and a JSON body.
// Validation messages are passed through; anything unexpected is reported generically.
func respondWithError(w http.ResponseWriter, err error) {
	var (
		status  int
		message string
	)
	switch {
	case errors.Is(err, apperrors.ErrValidation):
		status = http.StatusBadRequest
		message = err.Error()
	case errors.Is(err, apperrors.ErrBusy):
		status = http.StatusConflict
		message = "A reply is still streaming."
	default:
		status = http.StatusInternalServerError
		message = "An unexpected internal server error occurred."
	}

	slog.Debug("Responding with error",
		slog.Int("status", status),
		slog.String(errLoggerKey, err.Error()))

	respondWithJSON(w, status, errorResponse{Error: message})
}

func respondWithJSON(w http.ResponseWriter, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Failed to marshal JSON response", slog.String(errLoggerKey, err.Error()))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		slog.Error("Failed to write JSON response", slog.String(errLoggerKey, err.Error()))
	}
}
