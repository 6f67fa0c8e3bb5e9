package application

import (
	"errors"

	"blockfall/server/domain"
)

var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrRoomFull           = errors.New("room is full")
	ErrAlreadyInGame      = errors.New("room is already in game")
	ErrNotOwner           = errors.New("not the room owner")
	ErrInvalidMode        = errors.New("invalid mode")
	ErrInvalidMove        = errors.New("invalid move")
	ErrSpectateNotAllowed = errors.New("spectating is not allowed")
	ErrNotInRoom          = errors.New("not in a room")
	ErrRegistryClosed     = errors.New("registry is closed")
	ErrSessionClosed      = errors.New("session is disconnected")
	ErrBadRequest         = errors.New("malformed request")

	// ErrTopOut は盤面の終端状態です。失敗ではなく outcome の一部として扱い、
	// トップアウト後の操作は ErrInvalidMove と併せてこれを返します。
	ErrTopOut = errors.New("topped out")
	// ErrInvariant は盤面の内部不整合です。そのルームの試合は強制終了されます。
	ErrInvariant = errors.New("board invariant violated")
)

// requestError はクライアントに返すエラーコードとメッセージの対応です。
type requestError struct {
	err  error
	code string
	// intent ごとに文言を変えたいものだけ登録する
	messages map[domain.MessageType]string
	fallback string
}

var requestErrors = []requestError{
	{err: ErrRoomNotFound, code: "RoomNotFound", fallback: "the room no longer exists"},
	{err: ErrRoomFull, code: "RoomFull", fallback: "the room is full or already playing"},
	{err: ErrAlreadyInGame, code: "AlreadyInGame", fallback: "the game has already started",
		messages: map[domain.MessageType]string{
			domain.MsgMode: "the mode cannot be changed during a game",
		}},
	{err: ErrNotOwner, code: "NotOwner", fallback: "only the lobby owner can do that",
		messages: map[domain.MessageType]string{
			domain.MsgStart: "only the lobby owner can start the game",
			domain.MsgMode:  "only the lobby owner can change the mode",
		}},
	{err: ErrInvalidMode, code: "InvalidMode", fallback: "unknown game mode"},
	{err: ErrSpectateNotAllowed, code: "SpectateNotAllowed", fallback: "you can spectate only after your board has topped out"},
	{err: ErrNotInRoom, code: "NotInRoom", fallback: "join a room first"},
	{err: ErrBadRequest, code: "BadRequest", fallback: "the request could not be decoded"},
	{err: domain.ErrUnknownIntent, code: "UnknownIntent", fallback: "unknown message type"},
	{err: ErrRegistryClosed, code: "Unavailable", fallback: "the server is shutting down"},
	{err: ErrSessionClosed, code: "SessionClosed", fallback: "the connection has been closed"},
}

// DescribeError はリクエストエラーをエラーコードと利用者向けメッセージに変換します。
// 対象外のエラーは ok=false です。
func DescribeError(intent domain.MessageType, err error) (code, message string, ok bool) {
	for _, re := range requestErrors {
		if !errors.Is(err, re.err) {
			continue
		}
		if msg, found := re.messages[intent]; found {
			return re.code, msg, true
		}
		return re.code, re.fallback, true
	}
	return "", "", false
}
