package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apperrors "github.com/gramorx/studybuddy-server/internal/errors"
	"github.com/gramorx/studybuddy-server/internal/middleware"
	"github.com/gramorx/studybuddy-server/internal/model"
	"github.com/gramorx/studybuddy-server/internal/service"
)

// StudySessions is the session lifecycle as seen by the HTTP layer.
type StudySessions interface {
	Create(ctx context.Context, p model.Principal, input service.CreateStudySessionInput) (*model.StudySession, error)
	Get(ctx context.Context, p model.Principal, id string) (*model.StudySession, error)
	List(ctx context.Context, p model.Principal, limit, offset int) (*service.StudySessionPage, error)
	Start(ctx context.Context, p model.Principal, id string) (*model.StudySession, error)
	UpdateProgress(ctx context.Context, p model.Principal, id string, index int, status model.ItemStatus, note *string) (*model.StudySession, error)
	Complete(ctx context.Context, p model.Principal, id string) (*service.CompleteStudySessionResult, error)
	Cancel(ctx context.Context, p model.Principal, id string) (*model.StudySession, error)
	Summary(ctx context.Context, p model.Principal) (*service.StudySummary, error)
}

type StudyBuddyHandler struct {
	sessions StudySessions
}

func NewStudyBuddyHandler(sessions StudySessions) *StudyBuddyHandler {
	return &StudyBuddyHandler{sessions: sessions}
}

func (h *StudyBuddyHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/summary", h.Summary)
	r.Get("/sessions", h.ListSessions)
	r.Post("/sessions", h.CreateSession)
	r.Route("/sessions/{id}", func(r chi.Router) {
		r.Get("/", h.GetSession)
		r.Post("/start", h.StartSession)
		r.Post("/progress", h.UpdateProgress)
		r.Post("/complete", h.CompleteSession)
		r.Post("/cancel", h.CancelSession)
	})

	return r
}

type sessionResponse struct {
	Session *model.StudySession `json:"session"`
}

// POST /v1/study-buddy/sessions
func (h *StudyBuddyHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var req struct {
		Items    json.RawMessage `json:"items"`
		AIPlanID *string         `json:"aiPlanId"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	session, err := h.sessions.Create(r.Context(), principal, service.CreateStudySessionInput{
		Items:    req.Items,
		AIPlanID: req.AIPlanID,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, sessionResponse{Session: session})
}

// GET /v1/study-buddy/sessions?limit=&offset=
func (h *StudyBuddyHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	query, err := parsePageQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}

	page, err := h.sessions.List(r.Context(), principal, query.Limit, query.Offset)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, page)
}

// GET /v1/study-buddy/sessions/{id}
func (h *StudyBuddyHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, h.sessions.Get)
}

// POST /v1/study-buddy/sessions/{id}/start
func (h *StudyBuddyHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, h.sessions.Start)
}

// POST /v1/study-buddy/sessions/{id}/cancel
func (h *StudyBuddyHandler) CancelSession(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, h.sessions.Cancel)
}

// POST /v1/study-buddy/sessions/{id}/progress
func (h *StudyBuddyHandler) UpdateProgress(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	var req struct {
		ItemIndex *int             `json:"itemIndex"`
		Status    model.ItemStatus `json:"status"`
		Note      *string          `json:"note"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.ItemIndex == nil {
		writeError(w, apperrors.InvalidInput("itemIndex", "is required"))
		return
	}

	session, err := h.sessions.UpdateProgress(r.Context(), principal, id, *req.ItemIndex, req.Status, req.Note)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{Session: session})
}

// POST /v1/study-buddy/sessions/{id}/complete
func (h *StudyBuddyHandler) CompleteSession(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	result, err := h.sessions.Complete(r.Context(), principal, id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GET /v1/study-buddy/summary
func (h *StudyBuddyHandler) Summary(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	summary, err := h.sessions.Summary(r.Context(), principal)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"summary": summary})
}

func (h *StudyBuddyHandler) withSession(
	w http.ResponseWriter,
	r *http.Request,
	op func(context.Context, model.Principal, string) (*model.StudySession, error),
) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	session, err := op(r.Context(), principal, id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{Session: session})
}

func requirePrincipal(w http.ResponseWriter, r *http.Request) (model.Principal, bool) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil {
		writeError(w, apperrors.Unauthorized("Unauthorized"))
		return model.Principal{}, false
	}
	return *principal, true
}

// sessionID rejects ids that are not UUIDs as unknown sessions.
func sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, apperrors.NotFound("Study session"))
		return "", false
	}
	return id.String(), true
}
