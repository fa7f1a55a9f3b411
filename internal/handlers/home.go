package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/MegaGrindStone/typewriter-chat/internal/errors"
	"github.com/MegaGrindStone/typewriter-chat/internal/models"
)

// HandleHome renders the chat page with every turn so far. Completed replies are shown in full;
// the reply being revealed is shown as far as it has been revealed, and continues over /events.
func (m *Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	settings, err := m.store.Settings(r.Context())
	if err != nil {
		m.logger.Error("Failed to load settings", slog.String(errLoggerKey, err.Error()))
		settings = models.DefaultSettings()
	}

	current := m.conversation.Frame()
	turns := m.conversation.Turns()
	views := make([]turnView, 0, len(turns))
	for _, turn := range turns {
		view, err := m.turnView(turn, current)
		if err != nil {
			m.logger.Error("Failed to render turn",
				slog.String("turnID", turn.ID),
				slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		views = append(views, view)
	}

	data := homePageData{
		Turns:    views,
		Busy:     m.conversation.Busy(),
		Settings: settings,
		Limits:   defaultLimits,
	}
	if err := m.conversation.Err(); err != nil {
		data.Error = newStatusView(false, err).Error
	}

	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		m.logger.Error("Failed to render home page", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleMessages submits the "message" form field to the conversation. The user turn and the
// streamed reply reach the page over /events, so a successful submission only answers 202 with the
// user turn.
//
// It answers 400 for a blank message and 409 while the previous reply is still streaming.
func (m *Main) HandleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	m.conversation.SetInput(r.FormValue("message"))
	turn, err := m.conversation.Submit(r.Context())
	if err != nil {
		if !errors.Is(err, apperrors.ErrValidation) && !errors.Is(err, apperrors.ErrBusy) {
			m.logger.Error("Failed to submit message", slog.String(errLoggerKey, err.Error()))
		}
		respondWithError(w, err)
		return
	}

	m.metrics.messagesSubmitted.Inc()
	respondWithJSON(w, http.StatusAccepted, turn)
}

// HandleEvents streams the conversation updates to the browser.
func (m *Main) HandleEvents(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}
