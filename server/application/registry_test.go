package application_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"blockfall/server/application"
	"blockfall/server/application/mocks"
	"blockfall/server/domain"

	"go.uber.org/mock/gomock"
	"golang.org/x/sync/errgroup"
)

func newTestRegistry(t *testing.T, sink application.RecordSink, idle time.Duration) (*application.RoomRegistry, *domain.SimplePubSub) {
	t.Helper()
	ps := domain.NewSimplePubSub()
	r := application.NewRoomRegistry(application.RegistryConfig{
		TickInterval: time.Millisecond,
		Match: application.MatchConfig{
			GravityTicks: 1,
			IdleTimeout:  idle,
			ResultLinger: time.Hour,
		},
	}, ps, sink)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("start registry: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := r.Shutdown(ctx); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	})
	return r, ps
}

func strPtr(s string) *string { return &s }

func waitFor(t *testing.T, ch <-chan domain.Message, typ domain.MessageType) domain.Envelope {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case msg := <-ch:
			env, err := domain.DecodeEnvelope(msg.Data)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if env.T == typ {
				return env
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", typ)
			return domain.Envelope{}
		}
	}
}

func TestRoomRegistry_CreateOrJoinNotifiesPlayer(t *testing.T) {
	r, ps := newTestRegistry(t, nil, time.Minute)
	ctx := context.Background()
	ch := ps.Subscribe(domain.SessionTopic("a"))

	r.Connect("a", "alice")
	name, err := r.CreateOrJoin(ctx, "a", application.JoinRequest{Room: strPtr("lobby")})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if name != "lobby" || !r.HasRoom("lobby") {
		t.Fatalf("name=%q hasRoom=%v", name, r.HasRoom("lobby"))
	}

	joined, err := domain.DecodePayload[application.JoinedEvent](waitFor(t, ch, domain.MsgJoined))
	if err != nil {
		t.Fatalf("decode joined: %v", err)
	}
	if joined.You != "a" || joined.Owner != "a" || joined.Players[0].Name != "alice" {
		t.Fatalf("unexpected joined payload %+v", joined)
	}
	waitFor(t, ch, domain.MsgRoomUpdated)
}

func TestRoomRegistry_JoinExistingRoomKeepsItsMode(t *testing.T) {
	r, ps := newTestRegistry(t, nil, time.Minute)
	ctx := context.Background()

	if _, err := r.CreateOrJoin(ctx, "a", application.JoinRequest{Room: strPtr("lobby"), Mode: strPtr("fast-paced")}); err != nil {
		t.Fatalf("join a: %v", err)
	}
	ch := ps.Subscribe(domain.SessionTopic("b"))
	if _, err := r.CreateOrJoin(ctx, "b", application.JoinRequest{Room: strPtr("lobby"), Mode: strPtr("classic")}); err != nil {
		t.Fatalf("join b: %v", err)
	}

	joined, err := domain.DecodePayload[application.JoinedEvent](waitFor(t, ch, domain.MsgJoined))
	if err != nil {
		t.Fatalf("decode joined: %v", err)
	}
	if joined.Mode != application.ModeFastPaced {
		t.Fatalf("joined mode = %s, want fast-paced", joined.Mode)
	}
}

func TestRoomRegistry_SoloRoomIsPrivate(t *testing.T) {
	r, _ := newTestRegistry(t, nil, time.Minute)
	ctx := context.Background()

	name, err := r.CreateOrJoin(ctx, "a", application.JoinRequest{Solo: true, Mode: strPtr("fast-paced")})
	if err != nil {
		t.Fatalf("solo join: %v", err)
	}
	if !strings.HasPrefix(name, "solo-") {
		t.Fatalf("solo room name = %q", name)
	}
	if _, err := r.CreateOrJoin(ctx, "b", application.JoinRequest{Room: &name}); !errors.Is(err, application.ErrRoomFull) {
		t.Fatalf("joining a solo room: got %v, want ErrRoomFull", err)
	}
	state, err := r.RoomState(ctx, "a")
	if err != nil {
		t.Fatalf("room state: %v", err)
	}
	if !state.Solo || state.Mode != application.ModeFastPaced {
		t.Fatalf("unexpected state %+v", state)
	}
}

func TestRoomRegistry_RejectsUnknownModeAndEmptyName(t *testing.T) {
	r, _ := newTestRegistry(t, nil, time.Minute)
	ctx := context.Background()

	if _, err := r.CreateOrJoin(ctx, "a", application.JoinRequest{Room: strPtr("x"), Mode: strPtr("slow")}); !errors.Is(err, application.ErrInvalidMode) {
		t.Fatalf("got %v, want ErrInvalidMode", err)
	}
	if _, err := r.CreateOrJoin(ctx, "a", application.JoinRequest{}); !errors.Is(err, application.ErrRoomNotFound) {
		t.Fatalf("got %v, want ErrRoomNotFound", err)
	}
	if r.RoomCount() != 0 {
		t.Fatalf("rooms = %d, want 0", r.RoomCount())
	}
}

func TestRoomRegistry_LastLeaveDestroysRoom(t *testing.T) {
	r, _ := newTestRegistry(t, nil, time.Minute)
	ctx := context.Background()

	if _, err := r.CreateOrJoin(ctx, "a", application.JoinRequest{Room: strPtr("lobby")}); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := r.Leave(ctx, "a"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if r.HasRoom("lobby") || r.RoomCount() != 0 {
		t.Fatalf("room still registered after last leave")
	}
	if err := r.Leave(ctx, "a"); !errors.Is(err, application.ErrNotInRoom) {
		t.Fatalf("second leave: got %v, want ErrNotInRoom", err)
	}

	// 同じ名前での参加は新しいルームになる
	if _, err := r.CreateOrJoin(ctx, "b", application.JoinRequest{Room: strPtr("lobby")}); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	state, _ := r.RoomState(ctx, "b")
	if state.Owner != "b" || len(state.Players) != 1 {
		t.Fatalf("unexpected state %+v", state)
	}
}

func TestRoomRegistry_DisconnectLeavesSynchronously(t *testing.T) {
	r, _ := newTestRegistry(t, nil, time.Minute)
	ctx := context.Background()

	for _, id := range []domain.SessionID{"a", "b", "c"} {
		r.Connect(id, string(id))
		if _, err := r.CreateOrJoin(ctx, id, application.JoinRequest{Room: strPtr("lobby")}); err != nil {
			t.Fatalf("join %s: %v", id, err)
		}
	}
	r.Disconnect(ctx, "a")

	state, err := r.RoomState(ctx, "b")
	if err != nil {
		t.Fatalf("room state: %v", err)
	}
	if state.Owner != "b" || len(state.Players) != 2 || state.Status != application.StatusWaiting {
		t.Fatalf("unexpected state after owner disconnect %+v", state)
	}
	if _, err := r.RoomState(ctx, "a"); !errors.Is(err, application.ErrNotInRoom) {
		t.Fatalf("disconnected session: got %v, want ErrNotInRoom", err)
	}
}

// 切断と競合して届いた join で、切断済みのセッションが部屋に残ってはいけない
func TestRoomRegistry_JoinAfterDisconnectIsRejected(t *testing.T) {
	r, _ := newTestRegistry(t, nil, time.Minute)
	ctx := context.Background()

	r.Connect("b", "b")
	if _, err := r.CreateOrJoin(ctx, "b", application.JoinRequest{Room: strPtr("lobby")}); err != nil {
		t.Fatalf("join b: %v", err)
	}
	r.Connect("a", "a")
	r.Disconnect(ctx, "a")

	if _, err := r.CreateOrJoin(ctx, "a", application.JoinRequest{Room: strPtr("lobby")}); !errors.Is(err, application.ErrSessionClosed) {
		t.Fatalf("join after disconnect: got %v, want ErrSessionClosed", err)
	}
	r.Connect("a", "again")
	if _, err := r.CreateOrJoin(ctx, "a", application.JoinRequest{Room: strPtr("fresh")}); !errors.Is(err, application.ErrSessionClosed) {
		t.Fatalf("join after reconnect attempt: got %v, want ErrSessionClosed", err)
	}
	if r.HasRoom("fresh") {
		t.Fatal("disconnected session created a room")
	}

	state, err := r.RoomState(ctx, "b")
	if err != nil {
		t.Fatalf("room state: %v", err)
	}
	if len(state.Players) != 1 || state.Owner != "b" {
		t.Fatalf("unexpected players after rejected join %+v", state.Players)
	}
}

func TestRoomRegistry_ConcurrentJoinsRespectCapacity(t *testing.T) {
	r, _ := newTestRegistry(t, nil, time.Minute)
	ctx := context.Background()

	var joined, full atomic.Int32
	var eg errgroup.Group
	for range 12 {
		id := domain.NewSessionID()
		eg.Go(func() error {
			_, err := r.CreateOrJoin(ctx, id, application.JoinRequest{Room: strPtr("arena")})
			switch {
			case err == nil:
				joined.Add(1)
			case errors.Is(err, application.ErrRoomFull):
				full.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	if joined.Load() != application.MultiplayerCapacity || full.Load() != 12-application.MultiplayerCapacity {
		t.Fatalf("joined=%d full=%d", joined.Load(), full.Load())
	}
}

func TestRoomRegistry_StartAndModeRequireOwner(t *testing.T) {
	r, _ := newTestRegistry(t, nil, time.Minute)
	ctx := context.Background()
	for _, id := range []domain.SessionID{"a", "b"} {
		if _, err := r.CreateOrJoin(ctx, id, application.JoinRequest{Room: strPtr("lobby")}); err != nil {
			t.Fatalf("join %s: %v", id, err)
		}
	}

	if err := r.StartGame(ctx, "b"); !errors.Is(err, application.ErrNotOwner) {
		t.Fatalf("got %v, want ErrNotOwner", err)
	}
	if err := r.ChangeMode(ctx, "b", "classic"); !errors.Is(err, application.ErrNotOwner) {
		t.Fatalf("got %v, want ErrNotOwner", err)
	}
	if err := r.ChangeMode(ctx, "a", "bogus"); !errors.Is(err, application.ErrInvalidMode) {
		t.Fatalf("got %v, want ErrInvalidMode", err)
	}
	if err := r.StartGame(ctx, "a"); err != nil {
		t.Fatalf("start: %v", err)
	}
	state, _ := r.RoomState(ctx, "a")
	if state.Status != application.StatusInGame {
		t.Fatalf("status = %s", state.Status)
	}
	if err := r.Spectate(ctx, "b"); !errors.Is(err, application.ErrSpectateNotAllowed) {
		t.Fatalf("got %v, want ErrSpectateNotAllowed", err)
	}
	if _, err := r.CreateOrJoin(ctx, "c", application.JoinRequest{Room: strPtr("lobby")}); !errors.Is(err, application.ErrRoomFull) {
		t.Fatalf("join in game: got %v, want ErrRoomFull", err)
	}
}

func TestRoomRegistry_SoloMatchRecordsOutcome(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockRecordSink(ctrl)
	records := make(chan application.MatchRecord, 1)
	sink.EXPECT().Record(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, rec application.MatchRecord) error {
		records <- rec
		return nil
	}).Times(1)

	r, _ := newTestRegistry(t, sink, time.Minute)
	ctx := context.Background()
	r.Connect("a", "alice")
	if _, err := r.CreateOrJoin(ctx, "a", application.JoinRequest{Solo: true}); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := r.StartGame(ctx, "a"); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case rec := <-records:
			if !rec.Solo || rec.Winner != nil || len(rec.Participants) != 1 {
				t.Fatalf("unexpected record %+v", rec)
			}
			p := rec.Participants[0]
			if p.ID != "a" || p.Name != "alice" || p.Outcome != application.OutcomeLose {
				t.Fatalf("unexpected participant %+v", p)
			}
			state, _ := r.RoomState(ctx, "a")
			if state.Status != application.StatusGameOver {
				t.Fatalf("status = %s, want game-over", state.Status)
			}
			return
		case <-deadline:
			t.Fatal("solo run never ended")
		default:
			if err := r.Move(ctx, "a", "drop"); err != nil && !errors.Is(err, application.ErrInvalidMove) {
				t.Fatalf("move: %v", err)
			}
			time.Sleep(time.Millisecond)
		}
	}
}

func TestRoomRegistry_SwitchingRoomsLeavesPrevious(t *testing.T) {
	r, _ := newTestRegistry(t, nil, time.Minute)
	ctx := context.Background()

	if _, err := r.CreateOrJoin(ctx, "a", application.JoinRequest{Room: strPtr("one")}); err != nil {
		t.Fatalf("join one: %v", err)
	}
	if _, err := r.CreateOrJoin(ctx, "a", application.JoinRequest{Room: strPtr("two")}); err != nil {
		t.Fatalf("join two: %v", err)
	}
	if r.HasRoom("one") || !r.HasRoom("two") {
		t.Fatalf("one=%v two=%v", r.HasRoom("one"), r.HasRoom("two"))
	}
}

func TestRoomRegistry_IdleRoomIsClosed(t *testing.T) {
	r, ps := newTestRegistry(t, nil, 20*time.Millisecond)
	ctx := context.Background()
	ch := ps.Subscribe(domain.SessionTopic("a"))

	if _, err := r.CreateOrJoin(ctx, "a", application.JoinRequest{Room: strPtr("sleepy")}); err != nil {
		t.Fatalf("join: %v", err)
	}
	waitFor(t, ch, domain.MsgRoomClosed)

	deadline := time.Now().Add(2 * time.Second)
	for r.HasRoom("sleepy") {
		if time.Now().After(deadline) {
			t.Fatal("idle room still registered")
		}
		time.Sleep(time.Millisecond)
	}
	if err := r.StartGame(ctx, "a"); !errors.Is(err, application.ErrNotInRoom) {
		t.Fatalf("got %v, want ErrNotInRoom", err)
	}
}

func TestRoomRegistry_RejectsJoinAfterShutdown(t *testing.T) {
	r, _ := newTestRegistry(t, nil, time.Minute)
	ctx := context.Background()
	if _, err := r.CreateOrJoin(ctx, "a", application.JoinRequest{Room: strPtr("lobby")}); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := r.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if _, err := r.CreateOrJoin(ctx, "b", application.JoinRequest{Room: strPtr("lobby")}); !errors.Is(err, application.ErrRegistryClosed) {
		t.Fatalf("got %v, want ErrRegistryClosed", err)
	}
	if err := r.Leave(ctx, "a"); err != nil {
		t.Fatalf("leave after shutdown: %v", err)
	}
}
