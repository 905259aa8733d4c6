package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/face-overlay/internal/faceapi"
)

// Kind classifies a workflow failure for the user.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindDecode          Kind = "decode"
	KindTransport       Kind = "transport"
	KindService         Kind = "service"
	KindNotReady        Kind = "not_ready"
	KindBusy            Kind = "busy"
	KindStale           Kind = "stale"
	KindNoEyePair       Kind = "no_eye_pair"
	KindAnimationActive Kind = "animation_active"
)

// Sentinels for errors.Is; they match any *Error of the same kind.
var (
	ErrValidation      = &Error{Kind: KindValidation}
	ErrDecode          = &Error{Kind: KindDecode}
	ErrTransport       = &Error{Kind: KindTransport}
	ErrService         = &Error{Kind: KindService}
	ErrNotReady        = &Error{Kind: KindNotReady}
	ErrBusy            = &Error{Kind: KindBusy}
	ErrStaleResponse   = &Error{Kind: KindStale}
	ErrNoEyePair       = &Error{Kind: KindNoEyePair}
	ErrAnimationActive = &Error{Kind: KindAnimationActive}
)

// Messages shown for selections refused before decoding.
const (
	MsgNoFile          = "画像を選択してください"
	MsgTooLarge        = "ファイルサイズが大きすぎます（16MB以下にしてください）"
	MsgUnsupportedType = "画像ファイルを選択してください"
)

const (
	msgDecode        = "画像を読み込めませんでした"
	msgTooManyPixels = "画像の解像度が大きすぎます"
	msgTransport     = "サーバーに接続できませんでした"
	msgNoFaces       = "顔が検出されませんでした"
	msgSelectFirst   = "先に画像を選択してください"
	msgUploadFirst   = "先に画像をアップロードしてください"
	msgAnalyzeFirst  = "先に解析を実行してください"
	msgAlreadyDone   = "この操作は既に完了しています"
	msgBusy          = "処理中です。しばらくお待ちください"
	msgStale         = "新しい画像が選択されたため結果を破棄しました"
	msgNoEyePair     = "目の位置を特定できませんでした"
	msgAnimationBusy = "エフェクトを再生中です"
)

// Error is a user-facing workflow failure.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the kind of a workflow error, or "" for other errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func newError(kind Kind, op, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: cause}
}

// classify turns a detection client failure into a workflow error.
func classify(op string, err error) *Error {
	var svc *faceapi.ServiceError
	switch {
	case errors.As(err, &svc):
		return newError(KindService, op, svc.Message, err)
	case errors.Is(err, faceapi.ErrTransport),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return newError(KindTransport, op, msgTransport, err)
	default:
		return newError(KindService, op, err.Error(), err)
	}
}

// Notice is the transient message shown after a failed action.
type Notice struct {
	Kind      Kind      `json:"kind"`
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expires_at"`
}
