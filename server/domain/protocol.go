package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType はエンベロープの種別
type MessageType string

// クライアント → サーバー
const (
	MsgJoin     MessageType = "join"
	MsgLeave    MessageType = "leave"
	MsgStart    MessageType = "start"
	MsgMode     MessageType = "mode"
	MsgMove     MessageType = "move"
	MsgSpectate MessageType = "spectate"
	MsgPong     MessageType = "pong"
)

// サーバー → クライアント
const (
	MsgAssign      MessageType = "assign"
	MsgPing        MessageType = "ping"
	MsgJoined      MessageType = "joined"
	MsgRoomUpdated MessageType = "roomUpdated"
	MsgGameStarted MessageType = "gameStarted"
	MsgTickState   MessageType = "tickState"
	MsgOutcome     MessageType = "outcome"
	MsgRoomClosed  MessageType = "roomClosed"
	MsgError       MessageType = "error"
)

// Envelope は全メッセージ共通の外側の形
//
//	{"t": "move", "p": {"direction": "left"}}
type Envelope struct {
	T MessageType     `json:"t"`
	P json.RawMessage `json:"p,omitempty"`
}

var (
	ErrEmptyMessage  = errors.New("protocol: empty message")
	ErrEmptyType     = errors.New("protocol: empty message type")
	ErrEmptyPayload  = errors.New("protocol: empty payload")
	ErrUnknownIntent = errors.New("protocol: unknown intent")
)

// Encode はペイロードをエンベロープに包んでエンコードする。payload が nil の場合 p は省略される
func Encode(t MessageType, payload any) ([]byte, error) {
	if t == "" {
		return nil, ErrEmptyType
	}
	env := Envelope{T: t}
	if payload != nil {
		pb, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("protocol: encode %s: %w", t, err)
		}
		env.P = pb
	}
	return json.Marshal(env)
}

// MustEncode はエンコードに失敗しない型専用
func MustEncode(t MessageType, payload any) []byte {
	b, err := Encode(t, payload)
	if err != nil {
		panic(err)
	}
	return b
}

func DecodeEnvelope(b []byte) (Envelope, error) {
	if len(b) == 0 {
		return Envelope{}, ErrEmptyMessage
	}
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return Envelope{}, fmt.Errorf("protocol: decode envelope: %w", err)
	}
	if e.T == "" {
		return Envelope{}, ErrEmptyType
	}
	return e, nil
}

func DecodePayload[T any](env Envelope) (T, error) {
	var out T
	if len(env.P) == 0 {
		return out, fmt.Errorf("%w for type %q", ErrEmptyPayload, env.T)
	}
	if err := json.Unmarshal(env.P, &out); err != nil {
		return out, fmt.Errorf("protocol: decode %s payload: %w", env.T, err)
	}
	return out, nil
}

// JoinPayload はルーム参加要求
//
//	room  部屋名。null または空文字かつ solo=true の場合は個室を作る
//	mode  新規作成時のモード。既存ルームへの参加では無視される
type JoinPayload struct {
	Room *string `json:"room"`
	Solo bool    `json:"solo"`
	Mode *string `json:"mode"`
	Name string  `json:"name,omitempty"`
}

type ModePayload struct {
	Mode string `json:"mode"`
}

type MovePayload struct {
	Direction string `json:"direction"`
}

type AssignPayload struct {
	SessionID SessionID `json:"sessionId"`
	Name      string    `json:"name,omitempty"`
}

type ErrorPayload struct {
	Intent  MessageType `json:"intent,omitempty"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
}

// EncodeAssignMessage はクライアントに自分のセッションIDを通知する
func EncodeAssignMessage(sessionID SessionID, name string) []byte {
	return MustEncode(MsgAssign, AssignPayload{SessionID: sessionID, Name: name})
}

// EncodePingMessage は死活確認のping
func EncodePingMessage() []byte {
	return MustEncode(MsgPing, nil)
}

func EncodeErrorMessage(intent MessageType, code, message string) []byte {
	return MustEncode(MsgError, ErrorPayload{Intent: intent, Code: code, Message: message})
}
