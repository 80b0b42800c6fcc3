package model

import "time"

// User はサービス利用ユーザーを表す。
// PasswordHashはAPI応答に含めない。
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	IsVerified   bool
	IsBanned     bool
	IsAdmin      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Viewer はユーザーを操作主体として扱うためのViewerを返す。
func (u *User) Viewer() Viewer {
	return Viewer{UserID: u.ID, IsAdmin: u.IsAdmin}
}

// Viewer は操作主体（リクエスト元）の識別情報を表す。
// 管理者判定はストアのユーザーレコードから導出し、クライアント申告値は使わない。
type Viewer struct {
	UserID  int64
	IsAdmin bool
}

// Anonymous は未ログインの閲覧者を表す。
var Anonymous = Viewer{}

// ユーザー名はusers.usernameのVARCHAR(64)に合わせて文字数で制限する。
// パスワードはbcryptが扱える72バイトまで。
const (
	MaxUsernameLength = 64
	MaxPasswordBytes  = 72
)

// UserFlag は管理操作で切り替えるユーザーフラグの種別。
type UserFlag string

const (
	UserFlagVerified UserFlag = "verified"
	UserFlagBanned   UserFlag = "banned"
	UserFlagAdmin    UserFlag = "admin"
)

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    int64
	ExpiresAt time.Time
	CreatedAt time.Time
}
