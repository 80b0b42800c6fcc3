// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// Codeはプレゼンテーション層が参照する安定したメッセージキーであり、
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード（メッセージキー）
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, content, moderation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Is はerrors.Isでエラーコード単位の比較を行えるようにする。
// メッセージが異なっていても同じコードであれば一致とみなす。
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// 定義済みエラーコード
const (
	ErrCodeValidationFailed   = "VALIDATION_FAILED"
	ErrCodeUsernameTaken      = "USERNAME_TAKEN"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeAccountBanned      = "ACCOUNT_BANNED"
	ErrCodeNotAuthorized      = "NOT_AUTHORIZED"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodePinNotFound        = "PIN_NOT_FOUND"
	ErrCodeAlreadyReported    = "ALREADY_REPORTED"
	ErrCodeUserNotFound       = "USER_NOT_FOUND"
)

// errors.Is で比較するための番兵エラー。
var (
	ErrValidationFailed   = &APIError{Code: ErrCodeValidationFailed}
	ErrUsernameTaken      = &APIError{Code: ErrCodeUsernameTaken}
	ErrInvalidCredentials = &APIError{Code: ErrCodeInvalidCredentials}
	ErrAccountBanned      = &APIError{Code: ErrCodeAccountBanned}
	ErrNotAuthorized      = &APIError{Code: ErrCodeNotAuthorized}
	ErrNotFound           = &APIError{Code: ErrCodeNotFound}
	ErrPinNotFound        = &APIError{Code: ErrCodePinNotFound}
	ErrAlreadyReported    = &APIError{Code: ErrCodeAlreadyReported}
	ErrUserNotFound       = &APIError{Code: ErrCodeUserNotFound}
)

// NewValidationError は必須項目の欠落など入力検証エラーを生成する。
func NewValidationError(field string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  fmt.Sprintf("入力内容が不正です: %s", field),
		Category: "validation",
		Action:   "必須項目を入力してから再度お試しください。",
	}
}

// NewUsernameTakenError はユーザー名重複エラーを生成する。
func NewUsernameTakenError(username string) *APIError {
	return &APIError{
		Code:     ErrCodeUsernameTaken,
		Message:  fmt.Sprintf("ユーザー名は既に使用されています: %s", username),
		Category: "auth",
		Action:   "別のユーザー名を指定してください。",
	}
}

// NewInvalidCredentialsError は認証情報不一致エラーを生成する。
// ユーザーの存在有無は区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "ユーザー名またはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認してください。",
	}
}

// NewAccountBannedError はアカウント停止エラーを生成する。
func NewAccountBannedError() *APIError {
	return &APIError{
		Code:     ErrCodeAccountBanned,
		Message:  "このアカウントは停止されています。",
		Category: "auth",
		Action:   "管理者にお問い合わせください。",
	}
}

// NewNotAuthorizedError は管理者権限が必要な操作を一般ユーザーが実行した場合のエラーを生成する。
func NewNotAuthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeNotAuthorized,
		Message:  "この操作を実行する権限がありません。",
		Category: "auth",
		Action:   "管理者アカウントで実行してください。",
	}
}

// NewNotFoundError はエンティティ未検出エラーを生成する。
// 非表示・非公開のエンティティも存在しない場合と同じエラーになる。
func NewNotFoundError(kind string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("指定された%sが見つかりません。", kind),
		Category: "content",
		Action:   "IDを確認してください。",
	}
}

// NewPinNotFoundError はコメント投稿先のピンが見つからない場合のエラーを生成する。
func NewPinNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodePinNotFound,
		Message:  "コメント先のピンが見つかりません。",
		Category: "content",
		Action:   "ピン一覧を再読み込みしてください。",
	}
}

// NewAlreadyReportedError は同一対象への重複通報エラーを生成する。
func NewAlreadyReportedError() *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyReported,
		Message:  "この対象は既に通報済みです。",
		Category: "moderation",
		Action:   "同じ対象への通報は1回のみ受け付けます。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "moderation",
		Action:   "ユーザーIDを確認してください。",
	}
}
