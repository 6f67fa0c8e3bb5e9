package application

import (
	"context"
	"time"

	"blockfall/server/domain"
)

//go:generate go tool mockgen -destination=./mocks/record_sink_mock.go -package=mocks . RecordSink

// MatchRecord は試合終了時に1度だけ出力される不変の記録です。
type MatchRecord struct {
	ID           string              `json:"id"`
	RoomName     string              `json:"roomName"`
	Mode         Mode                `json:"mode"`
	Solo         bool                `json:"solo"`
	Winner       *domain.SessionID   `json:"winner"`
	Participants []ParticipantRecord `json:"participants"`
	EndedAt      time.Time           `json:"endedAt"`
}

type ParticipantRecord struct {
	ID           domain.SessionID `json:"id"`
	Name         string           `json:"name"`
	Score        int              `json:"score"`
	Outcome      Outcome          `json:"outcome"`
	LinesCleared int              `json:"linesCleared"`
}

// RecordSink は試合記録の保存先です。ルームのゴルーチンから呼ばれるため、ブロックしない実装にしてください。
type RecordSink interface {
	Record(ctx context.Context, record MatchRecord) error
}

// DiscardSink は記録を捨てます。
type DiscardSink struct{}

func (DiscardSink) Record(context.Context, MatchRecord) error { return nil }

// Clock は現在時刻の取得元です。
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
