package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/chatrelay/internal/history"
	"github.com/rickgao/chatrelay/internal/model"
)

type failingStore struct{ err error }

func (f failingStore) Fetch(context.Context, int) ([]model.Message, error) { return nil, f.err }
func (f failingStore) Append(context.Context, model.Message) (model.Message, error) {
	return model.Message{}, f.err
}

func newTestServer(t *testing.T, store history.Store, limit int) (*Server, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	return NewServer(Config{HistoryLimit: limit}, store, clock, nil), clock
}

func serve(s *Server, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestWelcome(t *testing.T) {
	s, _ := newTestServer(t, history.NewMemoryStore(10, nil), 50)

	rec := serve(s, http.MethodGet, "/", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, WelcomeText, rec.Body.String())
}

func TestFetch_ReturnsLatestOldestFirst(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := history.NewMemoryStore(100, clock)
	for i := 0; i < 5; i++ {
		_, err := store.Append(context.Background(), model.Message{Text: fmt.Sprintf("m%d", i)})
		require.NoError(t, err)
		clock.Advance(time.Second)
	}
	s, _ := newTestServer(t, store, 3)

	for _, path := range []string{"/api/v1/database", "/api/v1/database/"} {
		t.Run(path, func(t *testing.T) {
			rec := serve(s, http.MethodGet, path, "")
			require.Equal(t, http.StatusOK, rec.Code)

			var got []model.Message
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			require.Len(t, got, 3)
			assert.Equal(t, "m2", got[0].Text)
			assert.Equal(t, "m4", got[2].Text)
		})
	}
}

func TestFetch_EmptyIsArray(t *testing.T) {
	s, _ := newTestServer(t, history.NewMemoryStore(10, nil), 50)

	rec := serve(s, http.MethodGet, "/api/v1/database", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestFetch_StoreError(t *testing.T) {
	s, _ := newTestServer(t, failingStore{err: history.ErrUnavailable}, 50)

	rec := serve(s, http.MethodGet, "/api/v1/database", "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Error fetching messages", rec.Body.String())
}

func TestAppend_Created(t *testing.T) {
	store := history.NewMemoryStore(10, nil)
	s, clock := newTestServer(t, store, 50)

	rec := serve(s, http.MethodPost, "/api/v1/database/post", `{"text":"hello"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	var got model.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.NotEqual(t, uuid.Nil, got.ID)
	assert.Equal(t, "hello", got.Text)
	assert.True(t, clock.Now().Equal(got.CreatedAt), "timestamp is assigned server-side")
	assert.Equal(t, 1, store.Len())
}

func TestAppend_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "empty text", body: `{"text":""}`},
		{name: "whitespace text", body: `{"text":"   "}`},
		{name: "missing text", body: `{}`},
		{name: "malformed json", body: `{"text":`},
		{name: "too long", body: `{"text":"` + strings.Repeat("x", model.MaxTextLength+1) + `"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := history.NewMemoryStore(10, nil)
			s, _ := newTestServer(t, store, 50)

			rec := serve(s, http.MethodPost, "/api/v1/database/post", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, 0, store.Len())
		})
	}
}

func TestAppend_StoreError(t *testing.T) {
	s, _ := newTestServer(t, failingStore{err: errors.New("connection refused")}, 50)

	rec := serve(s, http.MethodPost, "/api/v1/database/post", `{"text":"hello"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Error inserting message", rec.Body.String())
}

func TestStaticDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html></html>"), 0o600))

	s := NewServer(Config{StaticDir: dir}, history.NewMemoryStore(10, nil), nil, nil)

	rec := serve(s, http.MethodGet, "/app.js", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "console.log(1)", rec.Body.String())

	rec = serve(s, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, WelcomeText, rec.Body.String(), "index.html must not shadow the welcome route")

	rec = serve(s, http.MethodGet, "/api/v1/database", "")
	assert.Equal(t, http.StatusOK, rec.Code, "API routes still reachable with static files enabled")

	rec = serve(s, http.MethodGet, "/missing.css", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
