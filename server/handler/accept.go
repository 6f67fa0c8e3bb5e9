package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	adapterwebsocket "blockfall/server/adapter/websocket"
	"blockfall/server/domain"

	"github.com/coder/websocket"
	"github.com/golang-jwt/jwt/v5"
)

var ErrUnauthorized = errors.New("invalid or missing token")

// PlayerClaims は接続時トークンのクレームです。
type PlayerClaims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

type AcceptConfig struct {
	// Secret が空なら認証なしで受け付ける
	Secret       []byte
	PingInterval time.Duration
	IdleTimeout  time.Duration
}

type AcceptHandler struct {
	pubsub     domain.PubSub
	dispatcher domain.Dispatcher
	cfg        AcceptConfig
}

func NewAcceptHandler(pubsub domain.PubSub, dispatcher domain.Dispatcher, cfg AcceptConfig) *AcceptHandler {
	return &AcceptHandler{pubsub: pubsub, dispatcher: dispatcher, cfg: cfg}
}

func (h *AcceptHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	session := domain.NewSession()
	name, err := h.authenticate(r, session.ID())
	if err != nil {
		slog.WarnContext(ctx, "rejected connection", "err", err)
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // 開発用: Origin チェックをスキップ
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to accept", "err", err)
		return
	}

	transport := adapterwebsocket.NewTransportFrom(conn)
	connection := domain.NewConnection(session.ID(), transport)
	endpoint, err := domain.NewSessionEndpoint(session, connection, h.pubsub, h.dispatcher)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create session endpoint", "err", err)
		conn.Close(websocket.StatusInternalError, "")
		return
	}
	endpoint.WithName(name).WithTimeouts(h.cfg.PingInterval, h.cfg.IdleTimeout)

	slog.DebugContext(ctx, "accepted new connection", "sessionID", session.ID(), "name", name)
	if err := endpoint.Run(); err != nil {
		slog.ErrorContext(ctx, "failed to run session endpoint", "err", err, "sessionID", session.ID())
	}
}

// authenticate は表示名を決めます。秘密鍵が設定されていれば ?token= の検証に通った名前を使います。
func (h *AcceptHandler) authenticate(r *http.Request, id domain.SessionID) (string, error) {
	if len(h.cfg.Secret) == 0 {
		if name := r.URL.Query().Get("name"); name != "" {
			return name, nil
		}
		return defaultName(id), nil
	}

	raw := r.URL.Query().Get("token")
	if raw == "" {
		return "", ErrUnauthorized
	}
	claims := &PlayerClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return h.cfg.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	switch {
	case claims.Name != "":
		return claims.Name, nil
	case claims.Subject != "":
		return claims.Subject, nil
	default:
		return defaultName(id), nil
	}
}

func defaultName(id domain.SessionID) string {
	s := id.String()
	if len(s) > 4 {
		s = s[:4]
	}
	return "player-" + s
}
