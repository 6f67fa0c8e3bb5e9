package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"blockfall/server/domain"

	"github.com/coder/websocket"
	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("test-secret")

// nopDispatcher は接続ごとの呼び出しを検証しない
type nopDispatcher struct{}

func (nopDispatcher) Connect(context.Context, domain.SessionID, string) {}
func (nopDispatcher) Disconnect(context.Context, domain.SessionID)      {}
func (nopDispatcher) Dispatch(context.Context, domain.SessionID, []byte) ([]byte, error) {
	return nil, nil
}

func newTestServer(t *testing.T, cfg AcceptConfig) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewAcceptHandler(domain.NewSimplePubSub(), nopDispatcher{}, cfg))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/?" + query
}

func readAssign(t *testing.T, conn *websocket.Conn) domain.AssignPayload {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read assign: %v", err)
	}
	env, err := domain.DecodeEnvelope(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.T != domain.MsgAssign {
		t.Fatalf("first message = %q, want %q", env.T, domain.MsgAssign)
	}
	p, err := domain.DecodePayload[domain.AssignPayload](env)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	return p
}

func signToken(t *testing.T, claims PlayerClaims, secret []byte) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func TestAcceptHandler_AssignsNameWithoutAuth(t *testing.T) {
	srv := newTestServer(t, AcceptConfig{})

	conn, _, err := websocket.Dial(context.Background(), wsURL(srv, "name=alice"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	if p := readAssign(t, conn); p.Name != "alice" || p.SessionID.IsEmpty() {
		t.Fatalf("assign = %+v", p)
	}
}

func TestAcceptHandler_DefaultName(t *testing.T) {
	srv := newTestServer(t, AcceptConfig{})

	conn, _, err := websocket.Dial(context.Background(), wsURL(srv, ""), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	if p := readAssign(t, conn); !strings.HasPrefix(p.Name, "player-") {
		t.Fatalf("name = %q, want player- prefix", p.Name)
	}
}

func TestAcceptHandler_RejectsMissingOrBadToken(t *testing.T) {
	srv := newTestServer(t, AcceptConfig{Secret: testSecret})

	bad := signToken(t, PlayerClaims{Name: "mallory"}, []byte("other"))
	for _, query := range []string{"", "token=garbage", "token=" + bad} {
		_, resp, err := websocket.Dial(context.Background(), wsURL(srv, query), nil)
		if err == nil {
			t.Fatalf("query %q: expected dial failure", query)
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("query %q: resp = %v, want 401", query, resp)
		}
	}
}

func TestAcceptHandler_UsesTokenName(t *testing.T) {
	srv := newTestServer(t, AcceptConfig{Secret: testSecret})

	tok := signToken(t, PlayerClaims{
		Name: "bob",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-42",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}, testSecret)

	conn, _, err := websocket.Dial(context.Background(), wsURL(srv, "token="+tok), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	if p := readAssign(t, conn); p.Name != "bob" {
		t.Fatalf("name = %q, want bob", p.Name)
	}
}

func TestAuthenticate_FallsBackToSubject(t *testing.T) {
	h := NewAcceptHandler(domain.NewSimplePubSub(), nopDispatcher{}, AcceptConfig{Secret: testSecret})
	tok := signToken(t, PlayerClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: "carol"}}, testSecret)

	r := httptest.NewRequest(http.MethodGet, "/ws?token="+tok, nil)
	name, err := h.authenticate(r, domain.SessionID("abcdef"))
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if name != "carol" {
		t.Fatalf("name = %q, want carol", name)
	}

	expired := signToken(t, PlayerClaims{RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}}, testSecret)
	r = httptest.NewRequest(http.MethodGet, "/ws?token="+expired, nil)
	if _, err := h.authenticate(r, "abcdef"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expired token: got %v, want ErrUnauthorized", err)
	}
}

func TestHealthHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler(func() int { return 3 })(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"rooms":3`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}
