package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/freetalk/messaging/internal/model"
	"github.com/freetalk/messaging/internal/service"
	"github.com/freetalk/messaging/pkg/logger"
)

// ConversationHandler handles conversation listing and group management.
type ConversationHandler struct {
	service *service.ConversationService
	logger  *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(svc *service.ConversationService, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		service: svc,
		logger:  log,
	}
}

// List handles GET /messages/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r)
	resp, err := h.service.List(r.Context(), currentUser(r), page, limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, resp)
}

// Direct handles GET /messages/conversation/{id}, where id names the other user.
func (h *ConversationHandler) Direct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := currentUser(r)

	conv, err := h.service.FindOrCreateDirect(ctx, userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	view, err := h.service.View(ctx, conv, userID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, view)
}

// UnreadCount handles GET /messages/unread-count
func (h *ConversationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.UnreadTotal(r.Context(), currentUser(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, map[string]int{"unreadCount": n})
}

type archiveRequest struct {
	Archived *bool `json:"archived" validate:"required"`
}

// Archive handles PATCH /messages/conversation/{id}/archive
func (h *ConversationHandler) Archive(w http.ResponseWriter, r *http.Request) {
	var req archiveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.service.SetArchived(r.Context(), chi.URLParam(r, "id"), currentUser(r), *req.Archived); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"isArchived": *req.Archived})
}

type createGroupRequest struct {
	Name         string   `json:"name" validate:"required,max=100"`
	Description  string   `json:"description" validate:"max=500"`
	Participants []string `json:"participants" validate:"required,min=2"`
}

// CreateGroup handles POST /messages/groups
func (h *ConversationHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	view, err := h.service.CreateGroup(r.Context(), currentUser(r), req.Participants, req.Name, req.Description)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusCreated, view)
}

// UpdateGroup handles PUT /messages/groups/{id}
func (h *ConversationHandler) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	var patch model.GroupPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	view, err := h.service.UpdateGroup(r.Context(), chi.URLParam(r, "id"), currentUser(r), patch)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, view)
}

type participantRequest struct {
	UserID string `json:"userId" validate:"required"`
}

// AddParticipant handles POST /messages/groups/{id}/participants
func (h *ConversationHandler) AddParticipant(w http.ResponseWriter, r *http.Request) {
	var req participantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	view, err := h.service.AddParticipant(r.Context(), chi.URLParam(r, "id"), currentUser(r), req.UserID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, view)
}

// RemoveParticipant handles DELETE /messages/groups/{id}/participants/{user}
func (h *ConversationHandler) RemoveParticipant(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.RemoveParticipant(r.Context(), chi.URLParam(r, "id"), currentUser(r), chi.URLParam(r, "user"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, view)
}

// PromoteAdmin handles POST /messages/groups/{id}/admins/{user}
func (h *ConversationHandler) PromoteAdmin(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.PromoteAdmin(r.Context(), chi.URLParam(r, "id"), currentUser(r), chi.URLParam(r, "user"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, view)
}

// DemoteAdmin handles DELETE /messages/groups/{id}/admins/{user}
func (h *ConversationHandler) DemoteAdmin(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.DemoteAdmin(r.Context(), chi.URLParam(r, "id"), currentUser(r), chi.URLParam(r, "user"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, view)
}
