package statslog

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"blockfall/server/application"
	"blockfall/server/domain"
)

func sampleRecord(id string) application.MatchRecord {
	winner := domain.SessionID("p1")
	return application.MatchRecord{
		ID:       id,
		RoomName: "alpha",
		Mode:     application.ModeClassic,
		Winner:   &winner,
		Participants: []application.ParticipantRecord{
			{ID: "p1", Name: "alice", Score: 300, Outcome: application.OutcomeWin, LinesCleared: 2},
			{ID: "p2", Name: "bob", Score: 0, Outcome: application.OutcomeLose},
		},
		EndedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestSink_WritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	s, err := New(context.Background(), &buf, 4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, id := range []string{"m1", "m2"} {
		if err := s.Record(context.Background(), sampleRecord(id)); err != nil {
			t.Fatalf("Record(%s): %v", id, err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	sc := bufio.NewScanner(&buf)
	var ids []string
	for sc.Scan() {
		var got application.MatchRecord
		if err := json.Unmarshal(sc.Bytes(), &got); err != nil {
			t.Fatalf("line %q is not a record: %v", sc.Text(), err)
		}
		ids = append(ids, got.ID)
		if got.Winner == nil || *got.Winner != "p1" {
			t.Fatalf("winner = %v, want p1", got.Winner)
		}
		if len(got.Participants) != 2 || got.Participants[0].LinesCleared != 2 {
			t.Fatalf("participants = %+v", got.Participants)
		}
	}
	if len(ids) != 2 || ids[0] != "m1" || ids[1] != "m2" {
		t.Fatalf("ids = %v, want [m1 m2]", ids)
	}
}

// シャットダウン信号で ctx が終わった後に届いた記録も Close で書き切る
func TestSink_WritesRecordsAfterContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var buf bytes.Buffer
	s, err := New(ctx, &buf, 4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cancel()

	if err := s.Record(context.Background(), sampleRecord("m1")); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var got application.MatchRecord
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &got); err != nil {
		t.Fatalf("output %q is not a record: %v", buf.String(), err)
	}
	if got.ID != "m1" {
		t.Fatalf("id = %q, want m1", got.ID)
	}
}

func TestSink_RecordAfterCloseFails(t *testing.T) {
	var buf bytes.Buffer
	s, err := New(context.Background(), &buf, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Record(context.Background(), sampleRecord("late")); err == nil {
		t.Fatal("expected error after close")
	}
}

func TestOpen_AppendsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.jsonl")
	for _, id := range []string{"a", "b"} {
		s, err := Open(context.Background(), path)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if err := s.Record(context.Background(), sampleRecord(id)); err != nil {
			t.Fatalf("Record: %v", err)
		}
		if err := s.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n := bytes.Count(data, []byte("\n")); n != 2 {
		t.Fatalf("lines = %d, want 2", n)
	}
}
