package models

import "time"

// 用户类型
const (
	UserTypeClient = "client"
	UserTypeAgent  = "agent"
	UserTypeAdmin  = "admin"
)

type User struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Email     string    `json:"email" gorm:"uniqueIndex"`
	Username  string    `json:"username" gorm:"uniqueIndex"`
	Password  string    `json:"-"` // bcrypt hash
	Type      string    `json:"type" gorm:"size:16;default:'client'"` // admin, agent, client
	Avatar    string    `json:"avatar"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Agent 判断是否为客服或管理员
func (u *User) Agent() bool {
	return u.Type == UserTypeAgent || u.Type == UserTypeAdmin
}

type AuthResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	User         User   `json:"user"`
}
