package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tmaxmax/go-sse"
)

type tokenPayload struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

var doneSSEType = sse.Type("done")

// HandleChat streams the reply to the "message" query parameter as server-sent events: one
// unnamed event per fragment carrying {"type":"token","content":...}, then a single "done" event.
// If the producer fails, the response ends without "done" so the client sees a transport failure.
//
// A blank message is rejected with 400 and a client over its rate with 429, both in plain text.
func (m *Main) HandleChat(w http.ResponseWriter, r *http.Request) {
	message := r.URL.Query().Get("message")
	if err := validateRequest(chatRequest{Message: strings.TrimSpace(message)}); err != nil {
		m.logger.Warn("Invalid chat request", slog.String(errLoggerKey, err.Error()))
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	}

	if !m.limiter.Allow(clientKey(r)) {
		m.metrics.rateLimited.Inc()
		m.logger.Warn("Rate limit exceeded", slog.String("client", clientKey(r)))
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		m.logger.Error("Streaming unsupported", slog.String(errLoggerKey, err.Error()))
		return
	}

	m.metrics.streamsStarted.Inc()
	m.metrics.activeStreams.Inc()
	defer m.metrics.activeStreams.Dec()

	logger := m.logger.With(slog.String("requestMessage", message))

	for fragment, err := range m.producer.Stream(r.Context(), message) {
		if err != nil {
			m.metrics.streamsAborted.Inc()
			logger.Warn("Producer failed, ending stream without done", slog.String(errLoggerKey, err.Error()))
			return
		}

		data, err := json.Marshal(tokenPayload{Type: "token", Content: fragment})
		if err != nil {
			logger.Error("Failed to marshal fragment", slog.String(errLoggerKey, err.Error()))
			return
		}
		msg := &sse.Message{}
		msg.AppendData(string(data))
		if !m.writeEvent(w, rc, msg) {
			return
		}
		m.metrics.fragmentsSent.Inc()
	}

	if r.Context().Err() != nil {
		logger.Debug("Client left before the reply completed")
		return
	}

	done := &sse.Message{Type: doneSSEType}
	done.AppendData("{}")
	m.writeEvent(w, rc, done)
}

func (m *Main) writeEvent(w http.ResponseWriter, rc *http.ResponseController, msg *sse.Message) bool {
	if _, err := msg.WriteTo(w); err != nil {
		m.logger.Debug("Failed to write event, client might have disconnected", slog.String(errLoggerKey, err.Error()))
		return false
	}
	if err := rc.Flush(); err != nil {
		m.logger.Debug("Failed to flush event", slog.String(errLoggerKey, err.Error()))
		return false
	}
	return true
}
