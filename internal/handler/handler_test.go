package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-live/session-service/internal/config"
	"github.com/weiawesome/wes-io-live/session-service/internal/domain"
	"github.com/weiawesome/wes-io-live/session-service/internal/fanout"
	"github.com/weiawesome/wes-io-live/session-service/internal/gateway"
	"github.com/weiawesome/wes-io-live/session-service/internal/hub"
	"github.com/weiawesome/wes-io-live/session-service/internal/service"
	"github.com/weiawesome/wes-io-live/session-service/internal/store"
	"github.com/weiawesome/wes-io-live/session-service/pkg/jwt"
	"github.com/weiawesome/wes-io-live/session-service/pkg/log"
	"github.com/weiawesome/wes-io-live/session-service/pkg/middleware"
)

const (
	videoID       = "video-1"
	internalToken = "internal-secret"
)

type stubAccess struct{}

func (stubAccess) Resolve(ctx context.Context, id string, identity domain.Identity) (domain.Role, error) {
	if g, ok := identity.(domain.Guest); ok && g.VideoID == id {
		return domain.RoleViewer, nil
	}
	switch identity.ParticipantID() {
	case "alice":
		return domain.RoleEditor, nil
	case "bob":
		return domain.RoleViewer, nil
	default:
		return domain.RoleNone, nil
	}
}

// recordingCaches remembers which videos were invalidated.
type recordingCaches struct {
	mu     sync.Mutex
	videos []string
	err    error
}

func (r *recordingCaches) Invalidate(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.videos = append(r.videos, id)
	return r.err
}

func (stubAccess) GetVideo(ctx context.Context, id string) (*domain.Video, error) {
	if id != videoID {
		return nil, domain.ErrVideoNotFound
	}
	return &domain.Video{ID: videoID, OwnerID: "owner", IsPublic: true, PublicToken: "share", PublicRole: domain.RoleViewer}, nil
}

type server struct {
	hub    *hub.Hub
	svc    service.SessionService
	tokens *jwt.Manager
	http   *httptest.Server
	engine *gin.Engine
	caches *recordingCaches
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	tokens, err := jwt.NewManager(jwt.Config{Secret: "test-secret"})
	require.NoError(t, err)

	h := hub.NewHub(config.WebSocketConfig{
		PingInterval:   time.Second,
		PongWait:       5 * time.Second,
		WriteWait:      time.Second,
		MaxMessageSize: 4096,
		SendBuffer:     32,
	})
	fo := fanout.New(h, nil, "test", nil)
	svc := service.NewCoordinator(h, store.NewRedisRoomStoreFromClient(client, "session", 0), stubAccess{}, fo, nil, service.Options{})

	mux := http.NewServeMux()
	NewWSHandler(h, gateway.New(tokens, nil, stubAccess{}), svc, WSOptions{}).RegisterRoutes(mux)
	ts := httptest.NewServer(log.UpgradeMiddleware(zerolog.Nop())(mux))
	t.Cleanup(ts.Close)

	engine := gin.New()
	engine.Use(log.GinMiddleware(zerolog.Nop()))
	caches := &recordingCaches{}
	NewHandler(svc, stubAccess{}, caches, middleware.NewAuthMiddleware(tokens, nil), internalToken).RegisterRoutes(engine)

	return &server{hub: h, svc: svc, tokens: tokens, http: ts, engine: engine, caches: caches}
}

func (s *server) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := s.tokens.GenerateAccessToken(userID, "", userID)
	require.NoError(t, err)
	return tok
}

func (s *server) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.http.URL, "http") + "/ws?" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

func read(t *testing.T, conn *websocket.Conn, want string) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg map[string]interface{}
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, want, msg["type"], "message: %v", msg)
	return msg
}

func (s *server) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func TestWebSocket_RejectsUnauthenticated(t *testing.T) {
	s := newServer(t)
	url := "ws" + strings.TrimPrefix(s.http.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(url+"?shareToken=wrong&videoId="+videoID, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocket_SessionFlow(t *testing.T) {
	s := newServer(t)

	host := s.dial(t, "token="+s.token(t, "alice"))
	guest := s.dial(t, "shareToken=share&videoId="+videoID)

	send(t, host, map[string]string{"type": "ping"})
	read(t, host, domain.MsgTypePong)

	send(t, host, map[string]string{"type": "bogus"})
	assert.Equal(t, domain.ErrCodeBadRequest, read(t, host, domain.MsgTypeError)["code"])

	send(t, host, map[string]string{"type": domain.MsgTypeJoinRoom})
	read(t, host, domain.MsgTypeError)

	send(t, host, domain.VideoMessage{Type: domain.MsgTypeJoinRoom, VideoID: videoID})
	read(t, host, domain.MsgTypeRoomState)
	send(t, guest, domain.VideoMessage{Type: domain.MsgTypeJoinRoom, VideoID: videoID})
	read(t, guest, domain.MsgTypeRoomState)

	send(t, guest, domain.VideoMessage{Type: domain.MsgTypeClaimHost, VideoID: videoID})
	assert.Equal(t, "Only editors can go live", read(t, guest, domain.MsgTypeError)["message"])

	send(t, host, domain.VideoMessage{Type: domain.MsgTypeClaimHost, VideoID: videoID})
	assert.Equal(t, "alice", read(t, host, domain.MsgTypeHostChanged)["hostId"])
	assert.Equal(t, "alice", read(t, guest, domain.MsgTypeHostChanged)["hostId"])

	send(t, host, domain.SyncPulseMessage{Type: domain.MsgTypeSyncPulse, VideoID: videoID, Timestamp: 4, State: domain.StatusPlaying})
	assert.Equal(t, 4.0, read(t, guest, domain.MsgTypeSyncUpdate)["timestamp"])

	send(t, guest, domain.EphemeralMessage{Type: domain.MsgTypeCursorMove, VideoID: videoID, Payload: json.RawMessage(`{"x":1}`)})
	cursor := read(t, host, domain.MsgTypeRemoteCursor)
	assert.Equal(t, domain.GuestHostID, cursor["userId"])

	// Dropping the host connection ends the session for everyone else.
	require.NoError(t, host.Close())
	read(t, guest, domain.MsgTypeSessionEnded)

	snap, err := s.svc.Snapshot(context.Background(), videoID)
	require.NoError(t, err)
	assert.False(t, snap.IsLive)
}

func TestHTTP_GetSession(t *testing.T) {
	s := newServer(t)

	w := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/videos/"+videoID+"/session", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/videos/"+videoID+"/session", nil)
	req.Header.Set("Authorization", "Bearer "+s.token(t, "mallory"))
	w = s.do(req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/videos/"+videoID+"/session", nil)
	req.Header.Set("Authorization", "Bearer "+s.token(t, "bob"))
	w = s.do(req)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Success bool                    `json:"success"`
		Data    domain.RoomStateMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, domain.MsgTypeRoomState, body.Data.Type)
	assert.False(t, body.Data.IsLive)
	assert.Equal(t, domain.StatusPaused, body.Data.InitialStatus)
}

func TestHTTP_InternalBroadcasts(t *testing.T) {
	s := newServer(t)
	member := s.dial(t, "token="+s.token(t, "bob"))
	send(t, member, domain.VideoMessage{Type: domain.MsgTypeJoinRoom, VideoID: videoID})
	read(t, member, domain.MsgTypeRoomState)

	body := `{"comment":{"id":"c1","text":"look here","timestamp":12.5}}`
	req := httptest.NewRequest(http.MethodPost, "/internal/v1/videos/"+videoID+"/comments", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := s.do(req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/internal/v1/videos/"+videoID+"/comments", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.InternalTokenHeader, internalToken)
	w = s.do(req)
	assert.Equal(t, http.StatusAccepted, w.Code)
	msg := read(t, member, domain.MsgTypeNewComment)
	assert.Equal(t, "look here", msg["comment"].(map[string]interface{})["text"])

	req = httptest.NewRequest(http.MethodDelete, "/internal/v1/videos/"+videoID+"/comments/c1", nil)
	req.Header.Set(middleware.InternalTokenHeader, internalToken)
	w = s.do(req)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "c1", read(t, member, domain.MsgTypeDeleteComment)["commentId"])

	req = httptest.NewRequest(http.MethodPost, "/internal/v1/videos/"+videoID+"/lock", strings.NewReader(`{"lockedBy":null}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.InternalTokenHeader, internalToken)
	w = s.do(req)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Nil(t, read(t, member, domain.MsgTypeLockUpdate)["lockedBy"])

	req = httptest.NewRequest(http.MethodPost, "/internal/v1/videos/"+videoID+"/comments", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.InternalTokenHeader, internalToken)
	w = s.do(req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHTTP_InvalidateAccess(t *testing.T) {
	s := newServer(t)
	path := "/internal/v1/videos/" + videoID + "/access/invalidate"

	w := s.do(httptest.NewRequest(http.MethodPost, path, nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, s.caches.videos)

	req := httptest.NewRequest(http.MethodPost, path, nil)
	req.Header.Set(middleware.InternalTokenHeader, internalToken)
	w = s.do(req)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{videoID}, s.caches.videos)

	s.caches.err = errors.New("redis down")
	req = httptest.NewRequest(http.MethodPost, path, nil)
	req.Header.Set(middleware.InternalTokenHeader, internalToken)
	w = s.do(req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHTTP_Health(t *testing.T) {
	s := newServer(t)
	w := s.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestOriginChecker(t *testing.T) {
	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	open := originChecker(nil)
	assert.True(t, open(req("https://evil.example")))

	wildcard := originChecker([]string{"*"})
	assert.True(t, wildcard(req("https://any.example")))

	strict := originChecker([]string{"https://app.example"})
	assert.True(t, strict(req("https://app.example")))
	assert.True(t, strict(req("")))
	assert.False(t, strict(req("https://evil.example")))
}
