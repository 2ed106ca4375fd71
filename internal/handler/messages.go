package handler

import (
	"encoding/json"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/freetalk/messaging/internal/apperr"
	"github.com/freetalk/messaging/internal/model"
	"github.com/freetalk/messaging/internal/service"
	"github.com/freetalk/messaging/pkg/logger"
)

// multipartMemory is the part of a multipart form held in memory; the rest spills to disk.
const multipartMemory = 8 << 20

// MessageHandler handles message endpoints.
type MessageHandler struct {
	messages       *service.MessageService
	uploader       Uploader
	maxUploadBytes int64
	logger         *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(msgSvc *service.MessageService, uploader Uploader, maxUploadBytes int64, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		messages:       msgSvc,
		uploader:       uploader,
		maxUploadBytes: maxUploadBytes,
		logger:         log,
	}
}

// Fetch handles GET /messages/{id}
func (h *MessageHandler) Fetch(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r)
	resp, err := h.messages.Fetch(r.Context(), chi.URLParam(r, "id"), currentUser(r), page, limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, resp)
}

// Send handles POST /messages. Media arrives as a multipart "file" part.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.SendMessageRequest
	if isMultipart(r) {
		if err := h.decodeMultipart(w, r, &req); err != nil {
			writeError(w, r, h.logger, err)
			return
		}
	} else if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	view, err := h.messages.Send(ctx, currentUser(r), &req)
	if err != nil {
		if req.Upload != nil {
			if rerr := h.uploader.Remove(ctx, req.Upload); rerr != nil {
				h.logger.Warn("failed to remove orphaned upload", zap.Error(rerr))
			}
		}
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusCreated, view)
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
}

func (h *MessageHandler) decodeMultipart(w http.ResponseWriter, r *http.Request, req *model.SendMessageRequest) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+maxJSONBody)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return apperr.Validation("invalid multipart body or file too large")
	}
	defer r.MultipartForm.RemoveAll()

	form := r.MultipartForm.Value
	field := func(name string) string {
		if v := form[name]; len(v) > 0 {
			return v[0]
		}
		return ""
	}
	req.ConversationID = field("conversationId")
	req.Recipient = field("recipient")
	req.Content = field("content")
	req.ReplyTo = field("replyTo")
	req.SharedPostID = field("postId")
	req.SharedStoryID = field("storyId")
	req.GifURL = field("gifUrl")

	if d := field("duration"); d != "" {
		v, err := strconv.ParseFloat(d, 64)
		if err != nil || v < 0 {
			return apperr.Validation("duration must be a non-negative number")
		}
		req.Duration = v
	}
	if wf := field("waveformData"); wf != "" {
		if err := json.Unmarshal([]byte(wf), &req.Waveform); err != nil {
			return apperr.Validation("waveformData must be a JSON array of numbers")
		}
	}

	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		return nil
	}
	media, err := h.save(r, files[0])
	if err != nil {
		return err
	}
	req.Upload = media
	return nil
}

func (h *MessageHandler) save(r *http.Request, fh *multipart.FileHeader) (*model.Media, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, apperr.Validation("unreadable file part")
	}
	defer f.Close()
	return h.uploader.Save(r.Context(), fh.Filename, f)
}

// MarkRead handles PATCH /messages/{id}/read
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	res, err := h.messages.MarkRead(r.Context(), chi.URLParam(r, "id"), currentUser(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

type typingRequest struct {
	ConversationID string `json:"conversationId" validate:"required"`
	IsTyping       *bool  `json:"isTyping" validate:"required"`
}

// Typing handles POST /messages/typing
func (h *MessageHandler) Typing(w http.ResponseWriter, r *http.Request) {
	var req typingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.messages.Typing(r.Context(), req.ConversationID, currentUser(r), *req.IsTyping); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeOK(w, "typing status sent")
}

// DeleteForMe handles DELETE /messages/{id}/for-me
func (h *MessageHandler) DeleteForMe(w http.ResponseWriter, r *http.Request) {
	if err := h.messages.DeleteForMe(r.Context(), chi.URLParam(r, "id"), currentUser(r)); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeOK(w, "message deleted for you")
}

// DeleteForEveryone handles DELETE /messages/{id}/for-everyone
func (h *MessageHandler) DeleteForEveryone(w http.ResponseWriter, r *http.Request) {
	m, err := h.messages.DeleteForEveryone(r.Context(), chi.URLParam(r, "id"), currentUser(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, m)
}

// Delete handles DELETE /messages/{id}
func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	forEveryone, err := h.messages.Delete(r.Context(), chi.URLParam(r, "id"), currentUser(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"deletedForEveryone": forEveryone})
}

type reactRequest struct {
	Emoji string `json:"emoji" validate:"required,max=32"`
}

// React handles POST /messages/{id}/react
func (h *MessageHandler) React(w http.ResponseWriter, r *http.Request) {
	var req reactRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	m, err := h.messages.React(r.Context(), chi.URLParam(r, "id"), currentUser(r), req.Emoji)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, m)
}

// Unreact handles DELETE /messages/{id}/react
func (h *MessageHandler) Unreact(w http.ResponseWriter, r *http.Request) {
	m, err := h.messages.Unreact(r.Context(), chi.URLParam(r, "id"), currentUser(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, m)
}

// Clear handles DELETE /messages/conversation/{id}/clear
func (h *MessageHandler) Clear(w http.ResponseWriter, r *http.Request) {
	n, err := h.messages.ClearConversation(r.Context(), chi.URLParam(r, "id"), currentUser(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, map[string]int64{"clearedCount": n})
}

// DeleteConversation handles DELETE /messages/conversation/{id}
func (h *MessageHandler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := h.messages.DeleteConversation(r.Context(), chi.URLParam(r, "id"), currentUser(r)); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeOK(w, "conversation deleted")
}

// Search handles GET /messages/{id}/search
func (h *MessageHandler) Search(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r)
	resp, err := h.messages.Search(r.Context(), chi.URLParam(r, "id"), currentUser(r), r.URL.Query().Get("query"), page, limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, resp)
}

// Export handles GET /messages/{id}/export
func (h *MessageHandler) Export(w http.ResponseWriter, r *http.Request) {
	exp, err := h.messages.Export(r.Context(), chi.URLParam(r, "id"), currentUser(r), r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", exp.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+exp.Filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(exp.Body)))
	w.WriteHeader(http.StatusOK)
	w.Write(exp.Body)
}
