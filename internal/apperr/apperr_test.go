package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unauthorized", Unauthorized("no token"), http.StatusUnauthorized},
		{"invalid argument", InvalidArgument("bad"), http.StatusBadRequest},
		{"not found", NotFound("chat not found"), http.StatusNotFound},
		{"permission denied", PermissionDenied("admin only"), http.StatusForbidden},
		{"conflict", Conflict("already a participant"), http.StatusConflict},
		{"unavailable", Unavailable("store", errors.New("down")), http.StatusServiceUnavailable},
		{"wrapped", fmt.Errorf("rename: %w", NotFound("chat not found")), http.StatusNotFound},
		{"plain error", errors.New("boom"), http.StatusInternalServerError},
		{"deadline", context.DeadlineExceeded, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestFromContext(t *testing.T) {
	err := FromContext("get chat", context.DeadlineExceeded)
	assert.True(t, Is(err, KindUnavailable))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	notFound := NotFound("chat not found")
	assert.Same(t, notFound, FromContext("get chat", notFound))

	plain := errors.New("syntax error")
	assert.Equal(t, plain, FromContext("get chat", plain))
	assert.NoError(t, FromContext("get chat", nil))
}

func TestPublicMessage(t *testing.T) {
	assert.Equal(t, "internal server error", PublicMessage(errors.New("pq: relation missing")))
	assert.Equal(t, "chat not found", PublicMessage(NotFound("chat not found")))
}
