package server

import (
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lk2023060901/tabletop-garden-go/internal/dispatch"
	"github.com/lk2023060901/tabletop-garden-go/internal/json"
	"github.com/lk2023060901/tabletop-garden-go/internal/model"
	"github.com/lk2023060901/tabletop-garden-go/pkg/log"
	"github.com/lk2023060901/tabletop-garden-go/pkg/util/merr"
)

// maxBodySize 限制备用通道单个请求体的大小。
const maxBodySize = 1 << 20

// captureConn 为 HTTP 一次性调用提供的虚拟连接：
// 捕获 handler 的直接回复，不进入连接注册表（ID 为 0）。
type captureConn struct {
	msgs []any
}

func (c *captureConn) ID() uint64 { return 0 }

func (c *captureConn) Send(msg any) error {
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *captureConn) reply() any {
	if len(c.msgs) == 0 {
		return nil
	}
	return c.msgs[len(c.msgs)-1]
}

// newMux 构建备用 HTTP 通道的路由。
// 一次性写操作与 WebSocket 消息共用同一套 handler，校验与存储效果完全一致。
func (s *Server) newMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/parties", s.handleListParties)
	mux.HandleFunc("GET /api/games", s.handleListGames)
	mux.HandleFunc("GET /api/users/stats", s.handleUserStats)

	mux.HandleFunc("POST /api/parties", s.oneShot(dispatch.KindPartyCreate))
	mux.HandleFunc("POST /api/parties/{code}/join", s.oneShotParty(dispatch.KindPartyJoin))
	mux.HandleFunc("POST /api/parties/{code}/update", s.oneShotParty(dispatch.KindPartyUpdate))
	mux.HandleFunc("POST /api/parties/{code}/leave", s.oneShotParty(dispatch.KindPartyLeave))

	mux.HandleFunc("POST /api/games", s.oneShot(dispatch.KindGameCreate))
	mux.HandleFunc("POST /api/games/{code}/join", s.oneShotGame(dispatch.KindGameJoin))
	mux.HandleFunc("POST /api/games/{code}/leave", s.oneShotGame(dispatch.KindGameLeave))

	mux.HandleFunc("GET /ws", s.handleWS)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	return mux
}

// withCORS 为所有响应补充 CORS 头并应答预检请求。
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// oneShot 将请求体解析为消息信封并交给分发引擎同步执行。
func (s *Server) oneShot(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.serveOneShot(w, r, kind, "")
	}
}

// oneShotParty 同 oneShot，小队码取自路径。
func (s *Server) oneShotParty(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.serveOneShot(w, r, kind, r.PathValue("code"))
	}
}

// oneShotGame 同 oneShot，游戏码取自路径。
func (s *Server) oneShotGame(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.serveOneShot(w, r, kind, r.PathValue("code"))
	}
}

func (s *Server) serveOneShot(w http.ResponseWriter, r *http.Request, kind, code string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, merr.WrapErrBadMessage(err))
		return
	}

	msg := &dispatch.Message{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, msg); err != nil {
			writeError(w, merr.WrapErrBadMessage(err))
			return
		}
	}
	msg.Type = kind
	if code != "" {
		switch kind {
		case dispatch.KindGameJoin, dispatch.KindGameLeave:
			msg.GameCode = code
		default:
			msg.PartyCode = code
		}
	}

	conn := &captureConn{}
	if err := s.dispatcher.Handle(r.Context(), dispatch.ChannelHTTP, conn, msg); err != nil {
		writeError(w, err)
		return
	}

	reply := conn.reply()
	if reply == nil {
		// 心跳类消息没有回复体。
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleListParties(w http.ResponseWriter, r *http.Request) {
	parties, err := s.store.ListParties(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if parties == nil {
		parties = []*model.Party{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "parties": parties})
}

func (s *Server) handleListGames(w http.ResponseWriter, r *http.Request) {
	games, err := s.store.ListGames(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if games == nil {
		games = []*model.Game{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "games": games})
}

// handleUserStats 汇总用户、角色与会话数量。
func (s *Server) handleUserStats(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	totalCharacters := 0
	for _, u := range users {
		totalCharacters += len(u.CharactersCreated)
	}

	parties, err := s.store.ListParties(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	games, err := s.store.ListGames(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"stats": map[string]int{
			"totalUsers":      len(users),
			"totalCharacters": totalCharacters,
			"totalParties":    len(parties),
			"totalGames":      len(games),
		},
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Warn("encode http response failed", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, merr.HTTPStatus(err), map[string]any{
		"success": false,
		"error":   err.Error(),
	})
}
