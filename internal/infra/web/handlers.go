package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"clinref-chat/internal/domain"
	"clinref-chat/internal/domain/model"
)

// engineFor resolves the calling client's engine, syncing the cached
// identity from the token when the engine has not seen it yet (fresh engine
// after a restart, valid cookie still in the browser).
func (s *Server) engineFor(w http.ResponseWriter, r *http.Request) Engine {
	deviceID := s.auth.EnsureDeviceID(w, r)
	eng := s.provider(r.Context(), deviceID)
	if claims, err := s.auth.ParseFromRequest(r); err == nil && !eng.Identity().SignedIn() {
		if _, err := eng.SignIn(r.Context(), claims.Subject); err != nil {
			s.log.Warn().Err(err).Msg("identity resync failed")
		}
	}
	return eng
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"code": code, "message": message})
}

type chatRequest struct {
	Text string `json:"text"`
}

// handleChat runs one turn and streams it back as server-sent events:
// "chunk" carries the cumulative text so far, "done" the final message,
// "denied" a limit refusal and "error" a failure. The stream always ends
// with exactly one of done/denied/error.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	eng := s.engineFor(w, r)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "no_stream", "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	emit := func(event string, v any) {
		data, _ := json.Marshal(v)
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
		flusher.Flush()
	}

	lang := eng.Preferences().Language
	final, err := eng.Submit(r.Context(), req.Text, func(cumulative string) {
		emit("chunk", map[string]string{"text": cumulative})
	})

	switch {
	case err == nil, errors.Is(err, domain.ErrAborted):
		// A stopped turn ends cleanly with its partial text.
		emit("done", final)
	case errors.Is(err, domain.ErrGuestLimit):
		emit("denied", map[string]string{"reason": "guest-limit", "message": s.cat.For(lang).T("deny_guest_limit")})
	case errors.Is(err, domain.ErrFreeTierLimit):
		emit("denied", map[string]string{"reason": "free-tier-limit", "message": s.cat.For(lang).T("deny_free_tier_limit")})
	case errors.Is(err, domain.ErrTurnInFlight):
		emit("error", map[string]string{"code": "turn_in_flight", "message": s.cat.For(lang).T("turn_in_flight")})
	case errors.Is(err, domain.ErrInvalidArgument):
		emit("error", map[string]string{"code": "empty_input", "message": "nothing to send"})
	default:
		// The apology text is already in the final message.
		emit("done", final)
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.engineFor(w, r).Stop()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	qs := s.engineFor(w, r).Suggestions()
	if qs == nil {
		qs = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"suggestions": qs})
}

type sessionView struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Region     string    `json:"region"`
	Country    string    `json:"country"`
	IsFavorite bool      `json:"is_favorite"`
	UpdatedAt  time.Time `json:"updated_at"`
	Loaded     bool      `json:"loaded"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	eng := s.engineFor(w, r)
	if r.URL.Query().Get("refresh") == "1" {
		if err := eng.RefreshSessions(r.Context()); err != nil {
			s.log.Warn().Err(err).Msg("session refresh failed, serving local view")
		}
	}
	list := eng.Sessions()
	out := make([]sessionView, 0, len(list))
	for _, sess := range list {
		out = append(out, sessionView{
			ID:         sess.ID,
			Title:      sess.Title,
			Region:     sess.Region,
			Country:    sess.Country,
			IsFavorite: sess.IsFavorite,
			UpdatedAt:  sess.UpdatedAt,
			Loaded:     sess.Load == model.LoadLoaded,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (s *Server) handleLoadSession(w http.ResponseWriter, r *http.Request) {
	eng := s.engineFor(w, r)
	id := chi.URLParam(r, "id")
	if err := eng.SwitchSession(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "unknown session")
			return
		}
		writeError(w, http.StatusBadGateway, "load_failed", "session could not be loaded")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": eng.Transcript()})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	eng := s.engineFor(w, r)
	if err := eng.DeleteSession(chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusNotFound, "not_found", "unknown session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFavorite(w http.ResponseWriter, r *http.Request) {
	eng := s.engineFor(w, r)
	if err := eng.ToggleFavorite(chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusNotFound, "not_found", "unknown session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAudioClip(w http.ResponseWriter, r *http.Request) {
	eng := s.engineFor(w, r)
	clip, err := eng.AudioClip(chi.URLParam(r, "messageID"))
	switch {
	case errors.Is(err, domain.ErrAudioPending):
		writeError(w, http.StatusAccepted, "pending", "narration not ready yet")
	case errors.Is(err, domain.ErrNoAudio):
		writeError(w, http.StatusNotFound, "no_audio", "no narration for this message")
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal", "audio fetch failed")
	default:
		w.Header().Set("Content-Type", "audio/mpeg")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(clip)
	}
}

func (s *Server) handleAudioPlay(w http.ResponseWriter, r *http.Request) {
	eng := s.engineFor(w, r)
	err := eng.PlayAudio(r.Context(), chi.URLParam(r, "messageID"))
	switch {
	case errors.Is(err, domain.ErrAudioPending):
		writeError(w, http.StatusConflict, "pending", "narration not ready yet")
	case errors.Is(err, domain.ErrNoAudio):
		writeError(w, http.StatusNotFound, "no_audio", "no narration for this message")
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal", "playback failed")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleAudioStop(w http.ResponseWriter, r *http.Request) {
	s.engineFor(w, r).StopAudio(chi.URLParam(r, "messageID"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engineFor(w, r).Preferences())
}

func (s *Server) handlePutPreferences(w http.ResponseWriter, r *http.Request) {
	eng := s.engineFor(w, r)
	var p model.Preferences
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return
	}
	if err := eng.PutPreferences(r.Context(), p); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "preferences not saved")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type signInRequest struct {
	IdentityID string `json:"identity_id"`
}

// handleSignIn exchanges an identity assertion for the session cookie. The
// credential exchange itself happens upstream; this endpoint trusts the
// asserted id the way the reference store reports it.
func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	eng := s.engineFor(w, r)
	var req signInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IdentityID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "identity_id required")
		return
	}
	ident, err := eng.SignIn(r.Context(), req.IdentityID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "unknown identity")
			return
		}
		writeError(w, http.StatusBadGateway, "store_unavailable", "identity lookup failed")
		return
	}
	if _, err := s.auth.Mint(w, ident.ID, ident.Email, ident.Role); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "token mint failed")
		return
	}
	writeJSON(w, http.StatusOK, ident)
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	eng := s.engineFor(w, r)
	eng.SignOut(r.Context())
	s.auth.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}
