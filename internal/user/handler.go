package user

import (
	"encoding/json"
	"net/http"
	"time"

	"go-chat-relay/internal/apperr"
	"go-chat-relay/internal/gateway"
	myMiddleware "go-chat-relay/internal/middleware"
)

type Handler struct {
	Service      *Service
	SecureCookie bool
}

func NewHandler(s *Service, secureCookie bool) *Handler {
	return &Handler{Service: s, SecureCookie: secureCookie}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		myMiddleware.WriteError(w, apperr.InvalidArgument("invalid request body"))
		return
	}

	res, err := h.Service.Register(r.Context(), &req)
	if err != nil {
		myMiddleware.WriteError(w, err)
		return
	}

	myMiddleware.WriteJSON(w, http.StatusCreated, res)
}

// Login returns the access token and also sets it as the accessToken cookie
// so browsers authenticate the socket handshake without extra work.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		myMiddleware.WriteError(w, apperr.InvalidArgument("invalid request body"))
		return
	}

	res, err := h.Service.Login(r.Context(), &req)
	if err != nil {
		myMiddleware.WriteError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     gateway.TokenCookie,
		Value:    res.AccessToken,
		Path:     "/",
		Expires:  time.Now().Add(h.Service.TokenTTL()),
		HttpOnly: true,
		Secure:   h.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	myMiddleware.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     gateway.TokenCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	userID, ok := myMiddleware.UserID(r.Context())
	if !ok {
		myMiddleware.WriteError(w, apperr.Unauthorized("user not authenticated"))
		return
	}

	users, err := h.Service.SearchUsers(r.Context(), r.URL.Query().Get("q"), userID)
	if err != nil {
		myMiddleware.WriteError(w, err)
		return
	}
	myMiddleware.WriteJSON(w, http.StatusOK, users)
}

// Me returns the authenticated user.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := myMiddleware.UserID(r.Context())
	if !ok {
		myMiddleware.WriteError(w, apperr.Unauthorized("user not authenticated"))
		return
	}

	u, err := h.Service.GetUser(r.Context(), userID)
	if err != nil {
		myMiddleware.WriteError(w, err)
		return
	}
	myMiddleware.WriteJSON(w, http.StatusOK, u)
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := myMiddleware.UserID(r.Context())
	if !ok {
		myMiddleware.WriteError(w, apperr.Unauthorized("user not authenticated"))
		return
	}

	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		myMiddleware.WriteError(w, apperr.InvalidArgument("invalid request body"))
		return
	}

	if err := h.Service.ChangePassword(r.Context(), userID, &req); err != nil {
		myMiddleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
