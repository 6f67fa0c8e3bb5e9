package domain

import "context"

//go:generate go tool mockgen -destination=./mocks/dispatcher_mock.go -package=mocks . Dispatcher

// Dispatcher はサーバー層からアプリケーション層へのイベント配送を担当します。
type Dispatcher interface {
	// Connect はセッション開始時に表示名を登録します。
	Connect(ctx context.Context, sessionID SessionID, name string)
	// Dispatch は受信したメッセージを処理し、要求元だけに返す応答を返します。応答がない場合は nil です。
	Dispatch(ctx context.Context, sessionID SessionID, data []byte) ([]byte, error)
	// Disconnect はセッション終了時に同期的に呼び出されます。
	Disconnect(ctx context.Context, sessionID SessionID)
}
