package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	apperrors "github.com/MegaGrindStone/typewriter-chat/internal/errors"
)

// HandleGetSettings answers the stored reveal settings as JSON.
func (m *Main) HandleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := m.store.Settings(r.Context())
	if err != nil {
		respondWithError(w, fmt.Errorf("%w: %w", apperrors.ErrInternal, err))
		return
	}
	respondWithJSON(w, http.StatusOK, settings)
}

// HandleUpdateSettings replaces the reveal settings with the JSON body. Values outside the
// settings panel ranges are rejected with 400. The new settings apply from the next reply on.
func (m *Main) HandleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req updateSettingsRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		respondWithError(w, fmt.Errorf("%w: invalid request body: %w", apperrors.ErrValidation, err))
		return
	}
	if err := validateRequest(req); err != nil {
		respondWithError(w, err)
		return
	}

	settings := req.settings()
	if err := m.store.SaveSettings(r.Context(), settings); err != nil {
		m.logger.Error("Failed to save settings", slog.String(errLoggerKey, err.Error()))
		respondWithError(w, fmt.Errorf("%w: %w", apperrors.ErrInternal, err))
		return
	}

	m.logger.Info("Settings updated",
		slog.Int("typingSpeed", settings.TypingSpeed),
		slog.Int("fadeInDuration", settings.FadeInDuration),
		slog.Int("fadeInDelay", settings.FadeInDelay))
	respondWithJSON(w, http.StatusOK, settings)
}
