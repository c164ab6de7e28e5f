package chat

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"go-chat-relay/internal/apperr"
	myMiddleware "go-chat-relay/internal/middleware"
)

const (
	maxAttachments  = 5
	maxUploadMemory = 32 << 20
)

// AttachmentSaver persists an uploaded file.
type AttachmentSaver interface {
	Save(filename string, r io.Reader) (Attachment, error)
}

type Handler struct {
	chats    *LifecycleService
	messages *MessageService
	uploads  AttachmentSaver
	log      *slog.Logger
}

func NewHandler(chats *LifecycleService, messages *MessageService, uploads AttachmentSaver, log *slog.Logger) *Handler {
	return &Handler{chats: chats, messages: messages, uploads: uploads, log: log}
}

// Routes mounts the chat and message API. Callers wrap it in the auth middleware.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api/chats", func(r chi.Router) {
		r.Get("/", h.ListChats)
		r.Post("/direct/{receiverId}", h.CreateOrGetDirectChat)
		r.Delete("/direct/{receiverId}", h.DeleteDirectChat)
		r.Post("/group", h.CreateGroupChat)
		r.Route("/group/{chatId}", func(r chi.Router) {
			r.Get("/", h.GetGroupChat)
			r.Patch("/", h.RenameGroupChat)
			r.Delete("/", h.DeleteGroupChat)
			r.Post("/participants/{userId}", h.AddParticipant)
			r.Delete("/participants/{userId}", h.RemoveParticipant)
			r.Post("/leave", h.LeaveGroupChat)
		})
	})
	r.Route("/api/messages/{chatId}", func(r chi.Router) {
		r.Get("/", h.ListMessages)
		r.Post("/", h.SendMessage)
		r.Delete("/{messageId}", h.DeleteMessage)
	})
}

func requester(r *http.Request) (int, error) {
	id, ok := myMiddleware.UserID(r.Context())
	if !ok {
		return 0, apperr.Unauthorized("user not authenticated")
	}
	return id, nil
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, apperr.InvalidArgument("invalid " + name)
	}
	return id, nil
}

func intParam(r *http.Request, name string) (int, error) {
	id, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil || id <= 0 {
		return 0, apperr.InvalidArgument("invalid " + name)
	}
	return id, nil
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.InvalidArgument("invalid request body")
	}
	return nil
}

func (h *Handler) ListChats(w http.ResponseWriter, r *http.Request) {
	userID, err := requester(r)
	if err != nil {
		myMiddleware.WriteError(w, err)
		return
	}
	chats, err := h.chats.ListChats(r.Context(), userID)
	if err != nil {
		myMiddleware.WriteError(w, err)
		return
	}
	myMiddleware.WriteJSON(w, http.StatusOK, chats)
}

func (h *Handler) CreateOrGetDirectChat(w http.ResponseWriter, r *http.Request) {
	userID, err := requester(r)
	if err != nil {
		myMiddleware.WriteError(w, err)
		return
	}
	receiverID, err := intParam(r, "receiverId")
	if err != nil {
		myMiddleware.WriteError(w, err)
		return
	}
	c, err := h.chats.CreateOrGetDirectChat(r.Context(), userID, receiverID)
	if err != nil {
		myMiddleware.WriteError(w, err)
		return
	}
	myMiddleware.WriteJSON(w, http.StatusOK, c)
}

func (h *Handler) DeleteDirectChat(w http.ResponseWriter, r *http.Request) {
	userID, err := requester(r)
	if err != nil {
		myMiddleware.WriteError(w, err)
		return
	}
	receiverID, err := intParam(r, "receiverId")
	if err != nil {
		myMiddleware.WriteError(w, err)
		return
	}
	if err := h.chats.DeleteDirectChat(r.Context(), userID, receiverID); err != nil {
		myMiddleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CreateGroupChat(w http.ResponseWriter, r *http.Request) {
	userID, err := requester(r)
	if err != nil {
		myMiddleware.WriteError(w, err)
		return
	}
	var req CreateGroupRequest
	if err := decodeJSON(r, &req); err != nil {
		myMiddleware.WriteError(w, err)
		return
	}
	c, err := h.chats.CreateGroupChat(r.Context(), userID, req.Name, req.Participants)
	if err != nil {
		myMiddleware.WriteError(w, err)
		return
	}
	myMiddleware.WriteJSON(w, http.StatusCreated, c)
}

// groupAction covers the group routes that take only the chat id.
func (h *Handler) groupAction(w http.ResponseWriter, r *http.Request, fn func(userID int, chatID uuid.UUID) (*Chat, error)) {
	userID, err := requester(r)
	if err != nil {
		myMiddleware.WriteError(w, err)
		return
	}
	chatID, err := uuidParam(r, "chatId")
	if err != nil {
		myMiddleware.WriteError(w, err)
		return
	}
	c, err := fn(userID, chatID)
	if err != nil {
		myMiddleware.WriteError(w, err)
		return
	}
	if c == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	myMiddleware.WriteJSON(w, http.StatusOK, c)
}

func (h *Handler) GetGroupChat(w http.ResponseWriter, r *http.Request) {
	h.groupAction(w, r, func(userID int, chatID uuid.UUID) (*Chat, error) {
		return h.chats.GetGroupChat(r.Context(), userID, chatID)
	})
}

func (h *Handler) RenameGroupChat(w http.ResponseWriter, r *http.Request) {
	var req RenameGroupRequest
	if err := decodeJSON(r, &req); err != nil {
		myMiddleware.WriteError(w, err)
		return
	}
	h.groupAction(w, r, func(userID int, chatID uuid.UUID) (*Chat, error) {
		return h.chats.RenameGroupChat(r.Context(), userID, chatID, req.Name)
	})
}

func (h *Handler) DeleteGroupChat(w http.ResponseWriter, r *http.Request) {
	h.groupAction(w, r, func(userID int, chatID uuid.UUID) (*Chat, error) {
		return nil, h.chats.DeleteGroupChat(r.Context(), userID, chatID)
	})
}

func (h *Handler) LeaveGroupChat(w http.ResponseWriter, r *http.Request) {
	h.groupAction(w, r, func(userID int, chatID uuid.UUID) (*Chat, error) {
		return h.chats.LeaveGroupChat(r.Context(), userID, chatID)
	})
}

func (h *Handler) AddParticipant(w http.ResponseWriter, r *http.Request) {
	target, err := intParam(r, "userId")
	if err != nil {
		myMiddleware.WriteError(w, err)
		return
	}
	h.groupAction(w, r, func(userID int, chatID uuid.UUID) (*Chat, error) {
		return h.chats.AddParticipant(r.Context(), userID, chatID, target)
	})
}

func (h *Handler) RemoveParticipant(w http.ResponseWriter, r *http.Request) {
	target, err := intParam(r, "userId")
	if err != nil {
		myMiddleware.WriteError(w, err)
		return
	}
	h.groupAction(w, r, func(userID int, chatID uuid.UUID) (*Chat, error) {
		return h.chats.RemoveParticipant(r.Context(), userID, chatID, target)
	})
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID, err := requester(r)
	if err != nil {
		myMiddleware.WriteError(w, err)
		return
	}
	chatID, err := uuidParam(r, "chatId")
	if err != nil {
		myMiddleware.WriteError(w, err)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil {
			myMiddleware.WriteError(w, apperr.InvalidArgument("invalid limit"))
			return
		}
	}
	msgs, err := h.messages.ListMessages(r.Context(), chatID, userID, limit)
	if err != nil {
		myMiddleware.WriteError(w, err)
		return
	}
	myMiddleware.WriteJSON(w, http.StatusOK, msgs)
}

// SendMessage accepts a JSON body or a multipart form with a content field
// and up to five files under "attachments".
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, err := requester(r)
	if err != nil {
		myMiddleware.WriteError(w, err)
		return
	}
	chatID, err := uuidParam(r, "chatId")
	if err != nil {
		myMiddleware.WriteError(w, err)
		return
	}

	var content string
	var attachments []Attachment
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		content, attachments, err = h.readMultipart(r)
	} else {
		var req SendMessageRequest
		err = decodeJSON(r, &req)
		content = req.Content
	}
	if err != nil {
		myMiddleware.WriteError(w, err)
		return
	}

	m, err := h.messages.SendMessage(r.Context(), chatID, userID, content, attachments)
	if err != nil {
		h.discard(attachments)
		myMiddleware.WriteError(w, err)
		return
	}
	myMiddleware.WriteJSON(w, http.StatusCreated, m)
}

func (h *Handler) readMultipart(r *http.Request) (string, []Attachment, error) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		return "", nil, apperr.InvalidArgument("invalid multipart body")
	}
	files := r.MultipartForm.File["attachments"]
	if len(files) > maxAttachments {
		return "", nil, apperr.InvalidArgument("at most 5 attachments are allowed")
	}
	if len(files) > 0 && h.uploads == nil {
		return "", nil, apperr.InvalidArgument("attachments are not accepted")
	}

	var saved []Attachment
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			h.discard(saved)
			return "", nil, apperr.InvalidArgument("unreadable attachment")
		}
		att, err := h.uploads.Save(fh.Filename, f)
		f.Close()
		if err != nil {
			h.discard(saved)
			return "", nil, err
		}
		saved = append(saved, att)
	}
	return r.FormValue("content"), saved, nil
}

// discard removes files uploaded for a message that was never stored.
func (h *Handler) discard(attachments []Attachment) {
	remover, ok := h.uploads.(AttachmentRemover)
	if !ok {
		return
	}
	for _, a := range attachments {
		if err := remover.Delete(a.LocalPath); err != nil {
			h.log.Warn("failed to discard upload", "path", a.LocalPath, "error", err)
		}
	}
}

func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	userID, err := requester(r)
	if err != nil {
		myMiddleware.WriteError(w, err)
		return
	}
	chatID, err := uuidParam(r, "chatId")
	if err != nil {
		myMiddleware.WriteError(w, err)
		return
	}
	messageID, err := uuidParam(r, "messageId")
	if err != nil {
		myMiddleware.WriteError(w, err)
		return
	}
	m, err := h.messages.DeleteMessage(r.Context(), chatID, messageID, userID)
	if err != nil {
		myMiddleware.WriteError(w, err)
		return
	}
	myMiddleware.WriteJSON(w, http.StatusOK, m)
}
