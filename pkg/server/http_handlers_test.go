package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aeolun/wschat/pkg/database"
	"github.com/aeolun/wschat/pkg/database/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func doRequest(t *testing.T, s *Server, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestRootHandler(t *testing.T) {
	cfg := testConfig()
	cfg.Version = "1.2.3"
	s := newTestServer(t, openTestStore(t), cfg)

	rec, body := doRequest(t, s, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "wschat", body["name"])
	assert.Equal(t, "running", body["status"])
	assert.Equal(t, "1.2.3", body["version"])
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHealthHandler(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Append(context.Background(), "alice", "hi")
	require.NoError(t, err)

	s := newTestServer(t, store, testConfig())
	_, _ = s.registry.Register("c1", "alice", newFakeTransport())

	rec, body := doRequest(t, s, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])

	db := body["database"].(map[string]any)
	assert.Equal(t, true, db["reachable"])
	assert.EqualValues(t, 1, db["total_messages"])
	assert.NotEmpty(t, db["most_recent"])

	conns := body["connections"].(map[string]any)
	assert.EqualValues(t, 1, conns["count"])
	assert.EqualValues(t, 1, conns["unique_users"])
}

func TestHealthHandlerStoreDown(t *testing.T) {
	store := openTestStore(t)
	s := newTestServer(t, store, testConfig())
	require.NoError(t, store.Close())

	rec, body := doRequest(t, s, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", body["status"])
	db := body["database"].(map[string]any)
	assert.Equal(t, false, db["reachable"])
}

func TestMessagesHandler(t *testing.T) {
	store := openTestStore(t)
	for i := 1; i <= 5; i++ {
		_, err := store.Append(context.Background(), "bob", fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}
	s := newTestServer(t, store, testConfig())

	rec, body := doRequest(t, s, "/api/messages?limit=3")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.EqualValues(t, 3, body["count"])

	data := body["data"].([]any)
	require.Len(t, data, 3)
	first := data[0].(map[string]any)
	assert.Equal(t, "m3", first["message"])
	assert.Equal(t, "bob", first["username"])

	rec, body = doRequest(t, s, "/api/messages")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 5, body["count"])
}

func TestMessagesHandlerEmptyStore(t *testing.T) {
	s := newTestServer(t, openTestStore(t), testConfig())

	rec, body := doRequest(t, s, "/api/messages")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, body["data"])
}

func TestMessagesHandlerBadLimit(t *testing.T) {
	s := newTestServer(t, openTestStore(t), testConfig())

	for _, limit := range []string{"abc", "0", "-4"} {
		rec, body := doRequest(t, s, "/api/messages?limit="+limit)
		assert.Equal(t, http.StatusBadRequest, rec.Code, limit)
		assert.Equal(t, false, body["success"])
	}
}

func TestMessagesHandlerCapsLimit(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	store.EXPECT().Recent(gomock.Any(), maxAPIMessages).Return([]database.ChatMessage{}, nil)

	s := newTestServer(t, store, testConfig())
	rec, _ := doRequest(t, s, "/api/messages?limit=100000")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMessagesHandlerStoreError(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	store.EXPECT().Recent(gomock.Any(), gomock.Any()).Return(nil, database.ErrStoreUnavailable)

	s := newTestServer(t, store, testConfig())
	rec, body := doRequest(t, s, "/api/messages")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, false, body["success"])
}

func TestStatsHandler(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	_, _ = store.Append(ctx, "alice", "one")
	_, _ = store.Append(ctx, "bob", "two")
	_, _ = store.Append(ctx, "alice", "three")

	s := newTestServer(t, store, testConfig())
	_, _ = s.registry.Register("c1", "carol", newFakeTransport())

	rec, body := doRequest(t, s, "/api/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])

	data := body["data"].(map[string]any)
	messages := data["messages"].(map[string]any)
	assert.EqualValues(t, 3, messages["total"])
	assert.EqualValues(t, 2, messages["unique_usernames"])

	connections := data["connections"].(map[string]any)
	assert.EqualValues(t, 1, connections["count"])
	assert.Equal(t, []any{"carol"}, connections["usernames"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, openTestStore(t), testConfig())
	sess, _ := connect(t, s)
	join(t, s, sess, "alice")

	rec, _ := doRequest(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "wschat_active_connections 1")
	assert.Contains(t, rec.Body.String(), `wschat_messages_received_total{type="join"} 1`)
}

func TestNotFoundHandler(t *testing.T) {
	s := newTestServer(t, openTestStore(t), testConfig())

	rec, body := doRequest(t, s, "/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, false, body["success"])
	assert.NotEmpty(t, body["endpoints"])
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"no list", nil, "https://evil.example", true},
		{"wildcard", []string{"*"}, "https://evil.example", true},
		{"listed", []string{"https://chat.example"}, "https://chat.example", true},
		{"not listed", []string{"https://chat.example"}, "https://evil.example", false},
		{"no origin header", []string{"https://chat.example"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.AllowedOrigins = tt.allowed
			s := newTestServer(t, openTestStore(t), cfg)

			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, s.checkOrigin(req))
		})
	}
}
