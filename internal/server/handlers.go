package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/harun/olmchat/internal/tracing"
	"github.com/harun/olmchat/pkg/session"
)

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type createResponse struct {
	Session *session.Session `json:"session"`
	Message string           `json:"message"`
}

type saveResponse struct {
	Success bool   `json:"success"`
	Renamed bool   `json:"renamed"`
	NewPath string `json:"newPath"`
}

type readRequest struct {
	FilePath string `json:"filePath"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	draft, err := session.DecodeDraft(body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	created, err := s.store.Create(r.Context(), draft)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.events.Broadcast(EventSessionCreated, created)
	writeJSON(w, http.StatusCreated, createResponse{Session: created, Message: "Session created"})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []session.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req readRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", session.ErrValidation, err))
		return
	}

	sess, err := s.store.Read(r.Context(), req.FilePath)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	sess, err := session.DecodeSession(body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.store.Save(r.Context(), sess)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.events.Broadcast(EventSessionSaved, map[string]any{
		"id":       sess.ID,
		"renamed":  result.Renamed,
		"filePath": result.NewPath,
	})
	writeJSON(w, http.StatusOK, saveResponse{Success: true, Renamed: result.Renamed, NewPath: result.NewPath})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"uptime":       time.Since(s.startTime).Round(time.Second).String(),
		"sessionsDir":  s.store.Dir(),
		"eventClients": s.events.Count(),
	})
}

// writeError maps the session error taxonomy onto HTTP status codes.
// Internal details reach the client only in debug mode.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := errorResponse{}
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, session.ErrValidation):
		status = http.StatusBadRequest
		resp.Error = "invalid request"
		resp.Details = err.Error()
	case errors.Is(err, session.ErrNotFound):
		status = http.StatusNotFound
		resp.Error = "session not found"
	case errors.Is(err, session.ErrNameResolutionExhausted):
		resp.Error = "could not allocate a unique session name"
	case errors.Is(err, session.ErrPersistence):
		resp.Error = "failed to persist session"
	default:
		resp.Error = "internal server error"
	}

	if status == http.StatusInternalServerError && s.options.Debug {
		resp.Details = err.Error()
	}

	logger := tracing.LoggerFromContext(r.Context(), s.logger)
	event := logger.Warn()
	if status == http.StatusInternalServerError {
		event = logger.Error()
	}
	event.Err(err).Int("status", status).Str("path", r.URL.Path).Msg("Request failed")

	writeJSON(w, status, resp)
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read body: %v", session.ErrValidation, err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("%w: request body too large", session.ErrValidation)
	}
	return body, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
