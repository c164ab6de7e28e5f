package myMiddleware

import (
	"encoding/json"
	"net/http"

	"go-chat-relay/internal/apperr"
)

type errorBody struct {
	Error string      `json:"error"`
	Code  apperr.Kind `json:"code"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

// WriteError maps err to its HTTP status and a {"error","code"} body.
func WriteError(w http.ResponseWriter, err error) {
	WriteJSON(w, apperr.HTTPStatus(err), errorBody{
		Error: apperr.PublicMessage(err),
		Code:  apperr.KindOf(err),
	})
}
