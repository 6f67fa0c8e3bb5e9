package statslog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"blockfall/internal/loop"
	"blockfall/server/application"
)

const drainTimeout = 5 * time.Second

// Sink は試合記録を JSON Lines として書き出します。
// 書き込みは単一ゴルーチンのループで行い、ルームのゴルーチンをブロックしません。
type Sink struct {
	w      io.Writer
	closer io.Closer
	loop   *loop.Loop[application.MatchRecord]
}

// New は w に書き込む Sink を起動します。ctx が終了しても Close までは書き込みを続けます。
func New(ctx context.Context, w io.Writer, queueSize int) (*Sink, error) {
	s := &Sink{w: w}
	l, err := loop.New(loop.Config[application.MatchRecord]{
		Name:      "statslog",
		Handler:   loop.HandlerFunc[application.MatchRecord](s.write),
		QueueSize: queueSize,
		Logger:    slog.Default(),
	})
	if err != nil {
		return nil, err
	}
	if err := l.Start(context.WithoutCancel(ctx)); err != nil {
		return nil, err
	}
	s.loop = l
	return s, nil
}

// Open は path に追記する Sink を返します。path が空なら標準出力に書き出します。
func Open(ctx context.Context, path string) (*Sink, error) {
	if path == "" {
		return New(ctx, os.Stdout, 0)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open stats file: %w", err)
	}
	s, err := New(ctx, f, 0)
	if err != nil {
		f.Close()
		return nil, err
	}
	s.closer = f
	return s, nil
}

func (s *Sink) Record(_ context.Context, record application.MatchRecord) error {
	if err := s.loop.TrySubmit(record); err != nil {
		return fmt.Errorf("enqueue match record %s: %w", record.ID, err)
	}
	return nil
}

// Close はキューに残った記録を書き切ってからファイルを閉じます。
func (s *Sink) Close() error {
	err := s.loop.DrainTimeout(drainTimeout)
	if s.closer != nil {
		if cerr := s.closer.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func (s *Sink) write(_ context.Context, record application.MatchRecord) error {
	line, err := json.Marshal(record)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	_, err = s.w.Write(line)
	return err
}
