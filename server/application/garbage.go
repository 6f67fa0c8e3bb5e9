package application

import (
	"math/rand/v2"
	"slices"

	"blockfall/server/domain"
)

const (
	// GarbageThreshold 未満の同時消しではおじゃまを送らない
	GarbageThreshold = 2
)

// garbageRows[n] は同時にn列消したときに相手へ送る行数
var garbageRows = [...]int{0, 0, 1, 2, 4}

// GarbageRowsFor は消去行数に対するおじゃま行数です。
func GarbageRowsFor(lines int) int {
	if lines < GarbageThreshold {
		return 0
	}
	return garbageRows[min(lines, len(garbageRows)-1)]
}

// GarbageRouter は消去イベントをおじゃまに変換し、他のプレイヤーのキューへ積みます。
// プレイヤーはIDでのみ保持し、盤面への参照は持ちません。
type GarbageRouter struct {
	order    []domain.SessionID // 参加順。配布対象のみ
	queues   map[domain.SessionID][]GarbageEntry
	lastSeen map[domain.SessionID]uint64
	hole     func() int
}

// NewGarbageRouter は穴の列を hole で決めるルーターを生成します。nil なら毎回ランダムです。
func NewGarbageRouter(hole func() int) *GarbageRouter {
	if hole == nil {
		hole = func() int { return rand.IntN(BoardWidth) }
	}
	return &GarbageRouter{
		queues:   make(map[domain.SessionID][]GarbageEntry),
		lastSeen: make(map[domain.SessionID]uint64),
		hole:     hole,
	}
}

// FixedHole は常に同じ列を空けるための hole 関数です。
func FixedHole(column int) func() int {
	return func() int { return column }
}

// Register は配布対象に加えます。参加順に呼び出してください。
func (r *GarbageRouter) Register(id domain.SessionID) {
	if slices.Contains(r.order, id) {
		return
	}
	r.order = append(r.order, id)
	r.queues[id] = nil
}

// Unregister は配布対象から外し、未処理のキューを破棄します。
// トップアウト、観戦、離脱のいずれでも呼び出されます。
func (r *GarbageRouter) Unregister(id domain.SessionID) {
	r.order = slices.DeleteFunc(r.order, func(x domain.SessionID) bool { return x == id })
	delete(r.queues, id)
}

// Active は配布対象のIDを参加順で返します。
func (r *GarbageRouter) Active() []domain.SessionID {
	return slices.Clone(r.order)
}

// OnLineClear は消去イベントを処理し、おじゃまを積んだ相手を配布順で返します。
// 同じ発生元から既に見た Seq 以下のイベントは無視します。
func (r *GarbageRouter) OnLineClear(ev LineClearEvent) []domain.SessionID {
	if ev.Seq <= r.lastSeen[ev.PlayerID] {
		return nil
	}
	r.lastSeen[ev.PlayerID] = ev.Seq

	rows := GarbageRowsFor(len(ev.Rows))
	if rows == 0 {
		return nil
	}
	entry := GarbageEntry{Rows: rows, Hole: r.hole()}

	// 発生元の次のプレイヤーから参加順に巡回する
	start := slices.Index(r.order, ev.PlayerID) + 1
	targets := make([]domain.SessionID, 0, len(r.order))
	for i := range len(r.order) {
		id := r.order[(start+i)%len(r.order)]
		if id == ev.PlayerID {
			continue
		}
		r.queues[id] = append(r.queues[id], entry)
		targets = append(targets, id)
	}
	return targets
}

// Drain はキューの先頭1件を取り出します。
func (r *GarbageRouter) Drain(id domain.SessionID) (GarbageEntry, bool) {
	q := r.queues[id]
	if len(q) == 0 {
		return GarbageEntry{}, false
	}
	entry := q[0]
	r.queues[id] = q[1:]
	return entry, true
}

// Pending はキューに残っている行数の合計です。
func (r *GarbageRouter) Pending(id domain.SessionID) int {
	n := 0
	for _, e := range r.queues[id] {
		n += e.Rows
	}
	return n
}

// QueueLen はキューに残っている件数です。
func (r *GarbageRouter) QueueLen(id domain.SessionID) int {
	return len(r.queues[id])
}
