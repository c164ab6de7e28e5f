package chat_test

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-chat-relay/internal/apperr"
	"go-chat-relay/internal/chat"
	"go-chat-relay/internal/logger"
	myMiddleware "go-chat-relay/internal/middleware"
)

// tokenIsUserID accepts tokens of the form "user-<id>".
type tokenIsUserID struct{}

func (tokenIsUserID) ValidateToken(token string) (int, string, error) {
	id, err := strconv.Atoi(strings.TrimPrefix(token, "user-"))
	if err != nil {
		return 0, "", apperr.Unauthorized("token is invalid")
	}
	return id, "user", nil
}

type memUploads struct {
	saved   map[string]string
	deleted []string
}

func (m *memUploads) Save(filename string, r io.Reader) (chat.Attachment, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return chat.Attachment{}, err
	}
	path := "/data/" + filename
	m.saved[path] = string(data)
	return chat.Attachment{URL: "/uploads/" + filename, LocalPath: path}, nil
}

func (m *memUploads) Delete(localPath string) error {
	m.deleted = append(m.deleted, localPath)
	return nil
}

type apiClient struct {
	t   *testing.T
	srv *httptest.Server
}

func newAPI(t *testing.T) (*apiClient, *fixture, *memUploads) {
	t.Helper()
	f := newFixture(t)
	uploads := &memUploads{saved: map[string]string{}}
	h := chat.NewHandler(f.chats, f.messages, uploads, logger.Discard())

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(myMiddleware.NewAuthMiddleware(tokenIsUserID{}).Handle)
		h.Routes(r)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &apiClient{t: t, srv: srv}, f, uploads
}

func (c *apiClient) do(userID int, method, path, contentType string, body io.Reader) *http.Response {
	c.t.Helper()
	req, err := http.NewRequest(method, c.srv.URL+path, body)
	require.NoError(c.t, err)
	req.Header.Set("Authorization", "Bearer user-"+strconv.Itoa(userID))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	c.t.Cleanup(func() { res.Body.Close() })
	return res
}

func (c *apiClient) doJSON(userID int, method, path string, body any) *http.Response {
	c.t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(c.t, err)
		r = bytes.NewReader(data)
	}
	return c.do(userID, method, path, "application/json", r)
}

func decode[T any](t *testing.T, res *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(res.Body).Decode(&v))
	return v
}

func TestHandler_GroupFlow(t *testing.T) {
	api, _, _ := newAPI(t)

	res := api.doJSON(1, http.MethodPost, "/api/chats/group", chat.CreateGroupRequest{Name: "Trip", Participants: []int{2, 3}})
	require.Equal(t, http.StatusCreated, res.StatusCode)
	trip := decode[chat.Chat](t, res)

	res = api.doJSON(2, http.MethodPatch, "/api/chats/group/"+trip.ID.String(), chat.RenameGroupRequest{Name: "Beach"})
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	body := decode[map[string]string](t, res)
	assert.Equal(t, "PERMISSION_DENIED", body["code"])

	res = api.doJSON(1, http.MethodPatch, "/api/chats/group/"+trip.ID.String(), chat.RenameGroupRequest{Name: "Beach"})
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "Beach", decode[chat.Chat](t, res).Name)

	res = api.doJSON(1, http.MethodPost, "/api/chats/group/"+trip.ID.String()+"/participants/4", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, decode[chat.Chat](t, res).ParticipantIDs, 4)

	res = api.doJSON(1, http.MethodPost, "/api/chats/group/"+trip.ID.String()+"/participants/4", nil)
	assert.Equal(t, http.StatusConflict, res.StatusCode)

	res = api.doJSON(4, http.MethodPost, "/api/chats/group/"+trip.ID.String()+"/leave", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)

	res = api.doJSON(4, http.MethodGet, "/api/chats/group/"+trip.ID.String(), nil)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	res = api.doJSON(2, http.MethodGet, "/api/chats", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Len(t, decode[[]chat.Chat](t, res), 1)

	res = api.doJSON(1, http.MethodDelete, "/api/chats/group/"+trip.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)

	res = api.doJSON(1, http.MethodGet, "/api/chats/group/"+trip.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestHandler_DirectChat(t *testing.T) {
	api, _, _ := newAPI(t)

	res := api.doJSON(1, http.MethodPost, "/api/chats/direct/2", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	first := decode[chat.Chat](t, res)

	res = api.doJSON(2, http.MethodPost, "/api/chats/direct/1", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, first.ID, decode[chat.Chat](t, res).ID)

	res = api.doJSON(1, http.MethodPost, "/api/chats/direct/abc", nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res = api.doJSON(1, http.MethodDelete, "/api/chats/direct/2", nil)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
}

func TestHandler_Messages(t *testing.T) {
	api, f, uploads := newAPI(t)
	trip := f.group(t)
	base := "/api/messages/" + trip.ID.String()

	res := api.doJSON(2, http.MethodPost, base, chat.SendMessageRequest{Content: "hi"})
	require.Equal(t, http.StatusCreated, res.StatusCode)
	hi := decode[chat.Message](t, res)
	assert.Equal(t, "hi", hi.Content)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("content", "look"))
	part, err := mw.CreateFormFile("attachments", "photo.png")
	require.NoError(t, err)
	_, err = part.Write([]byte("png-bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	res = api.do(3, http.MethodPost, base, mw.FormDataContentType(), &buf)
	require.Equal(t, http.StatusCreated, res.StatusCode)
	withFile := decode[chat.Message](t, res)
	require.Len(t, withFile.Attachments, 1)
	assert.Equal(t, "/uploads/photo.png", withFile.Attachments[0].URL)
	assert.Equal(t, "png-bytes", uploads.saved["/data/photo.png"])

	res = api.doJSON(2, http.MethodPost, base, chat.SendMessageRequest{})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res = api.doJSON(1, http.MethodGet, base+"?limit=1", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	latest := decode[[]chat.Message](t, res)
	require.Len(t, latest, 1)
	assert.Equal(t, withFile.ID, latest[0].ID)

	res = api.doJSON(2, http.MethodDelete, base+"/"+withFile.ID.String(), nil)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	res = api.doJSON(3, http.MethodDelete, base+"/"+withFile.ID.String(), nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, []string{"/data/photo.png"}, uploads.deleted)

	res = api.doJSON(9, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
}

func TestHandler_RequiresAuth(t *testing.T) {
	api, _, _ := newAPI(t)

	res, err := http.Get(api.srv.URL + "/api/chats")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}
