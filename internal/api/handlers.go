package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/BloodLink/internal/messaging"
	"github.com/BTreeMap/BloodLink/internal/models"
)

// emptyTwiML acknowledges a Twilio webhook without sending anything.
const emptyTwiML = "<Response></Response>"

func writeTwiML(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, emptyTwiML)
}

// webhookHandler always acknowledges with 200; the reply is sent
// asynchronously by the dispatcher.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	defer writeTwiML(w)
	if err := r.ParseForm(); err != nil {
		slog.Warn("Server.webhookHandler: failed to parse form", "error", err)
		return
	}
	resp, err := messaging.ParseTwilioInbound(r.PostForm)
	if err != nil {
		slog.Warn("Server.webhookHandler: ignoring webhook", "error", err)
		return
	}
	if s.inbound == nil {
		slog.Warn("Server.webhookHandler: no inbound service configured", "from", resp.From)
		return
	}
	if err := s.inbound.Deliver(resp); err != nil {
		slog.Error("Server.webhookHandler: failed to queue message", "from", resp.From, "error", err)
		return
	}
	slog.Debug("Server.webhookHandler: queued", "from", resp.From, "messageID", resp.MessageID, "media", resp.HasMedia())
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	defer writeTwiML(w)
	if err := r.ParseForm(); err != nil {
		slog.Warn("Server.statusHandler: failed to parse form", "error", err)
		return
	}
	receipt, err := messaging.ParseTwilioStatus(r.PostForm)
	if err != nil {
		slog.Warn("Server.statusHandler: ignoring callback", "error", err)
		return
	}
	if s.inbound != nil {
		s.inbound.EmitReceipt(receipt)
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	result := map[string]string{}
	healthy := true
	for name, c := range s.checks {
		if err := c.Ping(ctx); err != nil {
			slog.Warn("Server.healthHandler: check failed", "check", name, "error", err)
			result[name] = "down"
			healthy = false
			continue
		}
		result[name] = "up"
	}
	if !healthy {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Failure("dependency unavailable", result))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}
