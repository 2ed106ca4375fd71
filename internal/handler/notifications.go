package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/freetalk/messaging/internal/service"
	"github.com/freetalk/messaging/pkg/logger"
)

// NotificationHandler handles the caller's notification feed.
type NotificationHandler struct {
	service *service.NotificationService
	logger  *logger.Logger
}

// NewNotificationHandler creates a new notification handler.
func NewNotificationHandler(svc *service.NotificationService, log *logger.Logger) *NotificationHandler {
	return &NotificationHandler{service: svc, logger: log}
}

// List handles GET /notifications?page&limit&unreadOnly
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r)
	unreadOnly, _ := strconv.ParseBool(r.URL.Query().Get("unreadOnly"))
	resp, err := h.service.List(r.Context(), currentUser(r), page, limit, unreadOnly)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, resp)
}

// UnreadCount handles GET /notifications/unread-count
func (h *NotificationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.UnreadCount(r.Context(), currentUser(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, map[string]int{"unreadCount": n})
}

// MarkRead handles PUT /notifications/{id}/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	if err := h.service.MarkRead(r.Context(), chi.URLParam(r, "id"), currentUser(r)); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeOK(w, "notification marked as read")
}

// MarkAllRead handles PUT /notifications/read-all
func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.MarkAllRead(r.Context(), currentUser(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, map[string]int64{"modifiedCount": n})
}

// Delete handles DELETE /notifications/{id}
func (h *NotificationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id"), currentUser(r)); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeOK(w, "notification deleted")
}

// DeleteAll handles DELETE /notifications
func (h *NotificationHandler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.DeleteAll(r.Context(), currentUser(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, map[string]int64{"deletedCount": n})
}
