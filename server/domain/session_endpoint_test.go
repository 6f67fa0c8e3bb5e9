package domain_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	domain "blockfall/server/domain"
	"blockfall/server/domain/mocks"

	"go.uber.org/mock/gomock"
)

// 初期化時にリソースが正しくセットアップされることを確認
func TestNewSessionEndpoint_InitializesDefaults(t *testing.T) {
	ctrl := gomock.NewController(t)

	s := domain.NewSession()
	tr := mocks.NewMockTransport(ctrl)
	c := domain.NewConnection(s.ID(), tr)
	ps := mocks.NewMockPubSub(ctrl)
	d := mocks.NewMockDispatcher(ctrl)

	se, err := domain.NewSessionEndpoint(s, c, ps, d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if se == nil {
		t.Fatalf("endpoint is nil")
	}
}

func TestNewSessionEndpoint_RejectsNilDependencies(t *testing.T) {
	ctrl := gomock.NewController(t)

	s := domain.NewSession()
	c := domain.NewConnection(s.ID(), mocks.NewMockTransport(ctrl))

	if _, err := domain.NewSessionEndpoint(s, c, nil, mocks.NewMockDispatcher(ctrl)); !errors.Is(err, domain.ErrInitializationFailed) {
		t.Fatalf("nil pubsub: got %v, want ErrInitializationFailed", err)
	}
	if _, err := domain.NewSessionEndpoint(s, c, mocks.NewMockPubSub(ctrl), nil); !errors.Is(err, domain.ErrInitializationFailed) {
		t.Fatalf("nil dispatcher: got %v, want ErrInitializationFailed", err)
	}
}

// ForceClose は何度呼んでも離脱通知と切断を一度だけ行う
func TestSessionEndpoint_ForceCloseOnce(t *testing.T) {
	ctrl := gomock.NewController(t)

	s := domain.NewSession()
	tr := mocks.NewMockTransport(ctrl)
	d := mocks.NewMockDispatcher(ctrl)
	se, err := domain.NewSessionEndpoint(s, domain.NewConnection(s.ID(), tr), mocks.NewMockPubSub(ctrl), d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d.EXPECT().Disconnect(gomock.Any(), s.ID()).Times(1)
	tr.EXPECT().Close(int32(1000), "").Return(nil).Times(1)

	se.ForceClose()
	se.ForceClose()

	if !s.IsClosed() {
		t.Fatalf("session should be closed")
	}
}

func TestSessionEndpoint_RunRoutesMessages(t *testing.T) {
	ctrl := gomock.NewController(t)

	s := domain.NewSession()
	tr := mocks.NewMockTransport(ctrl)
	ps := domain.NewSimplePubSub()
	d := mocks.NewMockDispatcher(ctrl)

	inbound := make(chan []byte, 4)
	written := make(chan []byte, 16)

	tr.EXPECT().Read(gomock.Any()).DoAndReturn(func(ctx context.Context) ([]byte, error) {
		select {
		case data, ok := <-inbound:
			if !ok {
				return nil, io.EOF
			}
			return data, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}).AnyTimes()
	tr.EXPECT().Write(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, data []byte) error {
		written <- data
		return nil
	}).AnyTimes()
	tr.EXPECT().Close(int32(1000), "").Return(nil).Times(1)

	moveMsg := domain.MustEncode(domain.MsgMove, domain.MovePayload{Direction: "left"})
	reply := domain.EncodeErrorMessage(domain.MsgMove, "NotInRoom", "not in a room")
	gomock.InOrder(
		d.EXPECT().Connect(gomock.Any(), s.ID(), "alice"),
		d.EXPECT().Dispatch(gomock.Any(), s.ID(), moveMsg).Return(reply, nil),
		d.EXPECT().Disconnect(gomock.Any(), s.ID()),
	)

	se, err := domain.NewSessionEndpoint(s, domain.NewConnection(s.ID(), tr), ps, d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	se.WithName("alice")

	errCh := make(chan error, 1)
	go func() { errCh <- se.Run() }()

	// 最初の書き込みは assign
	first := receive(t, written)
	env, err := domain.DecodeEnvelope(first)
	if err != nil {
		t.Fatalf("decode assign: %v", err)
	}
	if env.T != domain.MsgAssign {
		t.Fatalf("first message type: got %q, want %q", env.T, domain.MsgAssign)
	}
	assign, err := domain.DecodePayload[domain.AssignPayload](env)
	if err != nil {
		t.Fatalf("decode assign payload: %v", err)
	}
	if assign.SessionID != s.ID() || assign.Name != "alice" {
		t.Fatalf("unexpected assign payload: %+v", assign)
	}

	// pong はディスパッチャに渡らない
	inbound <- domain.MustEncode(domain.MsgPong, nil)
	inbound <- moveMsg
	if got := receive(t, written); string(got) != string(reply) {
		t.Fatalf("reply: got %s, want %s", got, reply)
	}

	// 自分宛の publish はそのまま書き込まれる
	pushed := domain.MustEncode(domain.MsgRoomClosed, nil)
	ps.Publish(context.Background(), domain.SessionTopic(s.ID()), domain.Message{SessionID: s.ID(), Data: pushed})
	if got := receive(t, written); string(got) != string(pushed) {
		t.Fatalf("pushed: got %s, want %s", got, pushed)
	}

	close(inbound)
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after read EOF")
	}
	if !s.IsClosed() {
		t.Fatalf("session should be closed after read error")
	}
}

func TestSessionEndpoint_ClosesIdleSession(t *testing.T) {
	ctrl := gomock.NewController(t)

	s := domain.NewSession()
	tr := mocks.NewMockTransport(ctrl)
	d := mocks.NewMockDispatcher(ctrl)

	tr.EXPECT().Read(gomock.Any()).DoAndReturn(func(ctx context.Context) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}).AnyTimes()
	tr.EXPECT().Write(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	tr.EXPECT().Close(int32(1000), "").Return(nil).Times(1)
	d.EXPECT().Connect(gomock.Any(), s.ID(), "")
	d.EXPECT().Disconnect(gomock.Any(), s.ID())

	se, err := domain.NewSessionEndpoint(s, domain.NewConnection(s.ID(), tr), domain.NewSimplePubSub(), d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	se.WithTimeouts(time.Hour, 10*time.Millisecond)

	errCh := make(chan error, 1)
	go func() { errCh <- se.Run() }()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("idle session was not closed")
	}
}

func receive(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case data := <-ch:
		return data
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for write")
		return nil
	}
}
