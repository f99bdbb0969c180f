package server

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/tabletop-garden-go/application"
	"github.com/lk2023060901/tabletop-garden-go/internal/dispatch"
	"github.com/lk2023060901/tabletop-garden-go/internal/json"
	"github.com/lk2023060901/tabletop-garden-go/internal/registry"
	"github.com/lk2023060901/tabletop-garden-go/internal/store"
)

func setupServer(t *testing.T) *httptest.Server {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := store.NewFromClient(client, "test", time.Second, time.Hour)
	d := dispatch.New(st, registry.New(), nil)

	cfg := &application.ServerConfig{
		ListenAddr:      ":0",
		ShutdownTimeout: time.Second,
	}
	srv := New(cfg, st, d)

	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(func() {
		ts.Close()
		_ = st.Close()
	})
	return ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

func TestHealthz(t *testing.T) {
	ts := setupServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	ts := setupServer(t)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/games", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestPartyLifecycleOverHTTP(t *testing.T) {
	ts := setupServer(t)

	// 创建小队。
	resp := postJSON(t, ts.URL+"/api/parties", map[string]any{
		"characterData": map[string]any{"id": "char-1", "name": "Kira"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var created struct {
		Type      string `json:"type"`
		PartyData struct {
			Code    string `json:"code"`
			Members []struct {
				CharacterID string `json:"characterId"`
			} `json:"members"`
		} `json:"partyData"`
	}
	decodeBody(t, resp, &created)
	assert.Equal(t, "party_created", created.Type)
	require.Len(t, created.PartyData.Code, 5)

	// 第二名成员加入。
	resp = postJSON(t, ts.URL+"/api/parties/"+created.PartyData.Code+"/join", map[string]any{
		"characterData": map[string]any{"id": "char-2", "name": "Dex"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var joined struct {
		Type      string `json:"type"`
		PartyData struct {
			Members []struct {
				CharacterID string `json:"characterId"`
			} `json:"members"`
		} `json:"partyData"`
	}
	decodeBody(t, resp, &joined)
	assert.Equal(t, "member_joined", joined.Type)
	assert.Len(t, joined.PartyData.Members, 2)

	// 列表端点。
	resp, err := http.Get(ts.URL + "/api/parties")
	require.NoError(t, err)
	var listed struct {
		Success bool             `json:"success"`
		Parties []map[string]any `json:"parties"`
	}
	decodeBody(t, resp, &listed)
	assert.True(t, listed.Success)
	assert.Len(t, listed.Parties, 1)

	// 离开。
	resp = postJSON(t, ts.URL+"/api/parties/"+created.PartyData.Code+"/leave", map[string]any{
		"characterId": "char-2",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var left struct {
		Type string `json:"type"`
	}
	decodeBody(t, resp, &left)
	assert.Equal(t, "left_party", left.Type)
}

func TestHTTPStatusMapping(t *testing.T) {
	ts := setupServer(t)

	// 未知小队 -> 404。
	resp := postJSON(t, ts.URL+"/api/parties/99999/join", map[string]any{
		"characterData": map[string]any{"id": "char-1"},
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	var failed struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	decodeBody(t, resp, &failed)
	assert.False(t, failed.Success)
	assert.NotEmpty(t, failed.Error)

	// 缺字段 -> 400。
	resp = postJSON(t, ts.URL+"/api/parties", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestUserStats(t *testing.T) {
	ts := setupServer(t)

	resp, err := http.Get(ts.URL + "/api/users/stats")
	require.NoError(t, err)

	var stats struct {
		Success bool `json:"success"`
		Stats   struct {
			TotalUsers      int `json:"totalUsers"`
			TotalCharacters int `json:"totalCharacters"`
			TotalParties    int `json:"totalParties"`
			TotalGames      int `json:"totalGames"`
		} `json:"stats"`
	}
	decodeBody(t, resp, &stats)
	assert.True(t, stats.Success)
	assert.Zero(t, stats.Stats.TotalUsers)
}

func TestWebSocketPartyFlow(t *testing.T) {
	ts := setupServer(t)

	wsURL := strings.Replace(ts.URL, "http", "ws", 1) + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":          "create",
		"characterData": map[string]any{"id": "char-1", "name": "Kira"},
	}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var reply struct {
		Type      string `json:"type"`
		PartyData struct {
			Code string `json:"code"`
		} `json:"partyData"`
	}
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "party_created", reply.Type)
	assert.Len(t, reply.PartyData.Code, 5)

	// 畸形输入只产生错误信封，不断开连接。
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{broken")))
	var errReply struct {
		Type  string `json:"type"`
		Error string `json:"error"`
	}
	require.NoError(t, conn.ReadJSON(&errReply))
	assert.Equal(t, "error", errReply.Type)
	assert.NotEmpty(t, errReply.Error)
}
