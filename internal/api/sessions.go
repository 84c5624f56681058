package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"deskmate/internal/assistant"
	"deskmate/internal/llm"
	"deskmate/internal/session"
	"deskmate/internal/tasks"
)

// AttachmentRequest carries one inline file.
type AttachmentRequest struct {
	Name    string `json:"name"`
	DataURI string `json:"data_uri"`
}

// MessageRequest is the body of POST /api/sessions/{id}/messages.
type MessageRequest struct {
	Content     string              `json:"content"`
	Attachments []AttachmentRequest `json:"attachments,omitempty"`
}

// MessageResponse acknowledges an accepted turn.
type MessageResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

type sessionsResponse struct {
	CurrentID string            `json:"current_id"`
	Sessions  []session.Summary `json:"sessions"`
}

type sessionResponse struct {
	session.Session
	Busy bool `json:"busy"`
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	store := s.a.Sessions()
	JSON(w, http.StatusOK, sessionsResponse{CurrentID: store.CurrentID(), Sessions: store.List()})
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	sess := s.a.Sessions().Create()
	s.log.WithSession(sess.ID).Info("session created")
	JSON(w, http.StatusCreated, sessionResponse{Session: sess})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.a.Sessions().Get(id)
	if err != nil {
		sessionError(w, err)
		return
	}
	JSON(w, http.StatusOK, sessionResponse{Session: sess, Busy: s.a.Busy(id)})
}

func (s *Server) switchSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.a.Sessions().Switch(chi.URLParam(r, "id"))
	if err != nil {
		sessionError(w, err)
		return
	}
	JSON(w, http.StatusOK, sessionResponse{Session: sess, Busy: s.a.Busy(sess.ID)})
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.a.Cancel(id)
	if err := s.a.Sessions().Delete(id); err != nil {
		sessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) clearSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.a.Busy(id) {
		Error(w, http.StatusConflict, assistant.ErrTurnInFlight.Error())
		return
	}
	if err := s.a.Sessions().Clear(id); err != nil {
		sessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if !decode(w, r, &req) {
		return
	}
	atts := make([]llm.Attachment, 0, len(req.Attachments))
	for _, in := range req.Attachments {
		data, mimeType, err := llm.DecodeDataURI(in.DataURI)
		if err != nil {
			Error(w, http.StatusBadRequest, "attachment "+in.Name+": "+err.Error())
			return
		}
		atts = append(atts, llm.NewAttachment(in.Name, mimeType, data))
	}

	// The turn outlives this request; it is bound to the server's context.
	id, err := s.a.SendAsync(s.opts.BaseContext, chi.URLParam(r, "id"), req.Content, atts)
	switch {
	case errors.Is(err, assistant.ErrTurnInFlight):
		Error(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, assistant.ErrEmptyMessage):
		Error(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		sessionError(w, err)
		return
	}
	JSON(w, http.StatusAccepted, MessageResponse{SessionID: id, Status: "streaming"})
}

func (s *Server) cancelTurn(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.a.Cancel(id) {
		Error(w, http.StatusConflict, "no turn in progress")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"session_id": id, "status": "cancelled"})
}

type modeRequest struct {
	Mode string `json:"mode"`
}

func (s *Server) getMode(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, modeRequest{Mode: string(s.a.Mode())})
}

func (s *Server) setMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if !decode(w, r, &req) {
		return
	}
	m, err := assistant.ParseMode(req.Mode)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.a.SetMode(m); err != nil {
		Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	JSON(w, http.StatusOK, modeRequest{Mode: string(m)})
}

type providerRequest struct {
	Vendor string `json:"vendor"`
	Model  string `json:"model,omitempty"`
}

func (s *Server) listProviders(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, s.a.Registry().Options())
}

func (s *Server) setProvider(w http.ResponseWriter, r *http.Request) {
	var req providerRequest
	if !decode(w, r, &req) {
		return
	}
	v, err := llm.ParseVendor(req.Vendor)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	reg := s.a.Registry()
	if err := reg.SetActive(v); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if m := strings.TrimSpace(req.Model); m != "" {
		reg.SetModel(v, m)
	}
	JSON(w, http.StatusOK, reg.Active())
}

type tasksResponse struct {
	Tasks    []tasks.Task    `json:"tasks"`
	Projects []tasks.Project `json:"projects"`
	Notes    []tasks.Note    `json:"notes"`
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	src := s.a.Tasks()
	JSON(w, http.StatusOK, tasksResponse{Tasks: src.Tasks(), Projects: src.Projects(), Notes: src.Notes()})
}

func sessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrUnknownSession) {
		Error(w, http.StatusNotFound, err.Error())
		return
	}
	Error(w, http.StatusInternalServerError, err.Error())
}
