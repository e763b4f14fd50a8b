package auth

import (
	"time"
)

type UserStatus string

const (
	StatusPending     UserStatus = "PENDING"
	StatusActive      UserStatus = "ACTIVE"
	StatusBlocked     UserStatus = "BLOCKED"
	StatusDeactivated UserStatus = "DEACTIVATED"
)

type TokenAction string

const (
	ActionConfirmNewEmail TokenAction = "CONFIRM_NEW_EMAIL"
	ActionPasswordReset   TokenAction = "PASSWORD_RESET"
	ActionRevertEmail     TokenAction = "REVERT_EMAIL"
)

type User struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	Name             string     `gorm:"not null" json:"name"`
	LastName         string     `gorm:"not null" json:"lastName"`
	Email            string     `gorm:"uniqueIndex;not null" json:"email"`
	Phone            string     `json:"phone"`
	Password         string     `gorm:"not null" json:"-"`
	Status           UserStatus `gorm:"type:varchar(16);not null;default:PENDING" json:"status"`
	SessionRevokedAt time.Time  `gorm:"not null" json:"-"`
	Image            *string    `json:"image"`
	Roles            []Role     `gorm:"many2many:user_has_roles" json:"roles,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

func (User) TableName() string {
	return "users"
}

// Session is one device-bound login, correlated to a bearer token by JWTID.
type Session struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	UserID         uint      `gorm:"index;not null" json:"userId"`
	JWTID          string    `gorm:"column:jwt_id;uniqueIndex;not null" json:"jwtId"`
	DeviceType     string    `json:"deviceType"`
	IPAddress      string    `json:"ipAddress"`
	Location       string    `json:"location"`
	DeviceID       string    `json:"deviceId"`
	LastAccessedAt time.Time `gorm:"not null" json:"lastAccessedAt"`
	CreatedAt      time.Time `json:"createdAt"`
}

func (Session) TableName() string {
	return "sessions"
}

// PasswordHistory archives previously used hashes; rows are never updated
// or deleted.
type PasswordHistory struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"index;not null"`
	Hash      string    `gorm:"not null"`
	CreatedAt time.Time
}

func (PasswordHistory) TableName() string {
	return "password_histories"
}

// EmailActionToken is a single-use numeric code stored only as a bcrypt hash.
// Rows are consumed, never deleted.
type EmailActionToken struct {
	ID             uint        `gorm:"primaryKey"`
	UserID         uint        `gorm:"index;not null"`
	Action         TokenAction `gorm:"type:varchar(32);index;not null"`
	OldEmail       *string
	NewEmail       *string
	TokenHash      string `gorm:"not null"`
	ExpiresAt      time.Time
	ConsumedAt     *time.Time
	FailedAttempts int `gorm:"not null;default:0"`
	CreatedAt      time.Time
}

func (EmailActionToken) TableName() string {
	return "email_action_tokens"
}

// AccountAction is a write-only audit record.
type AccountAction struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    uint   `gorm:"index;not null"`
	Action    string `gorm:"not null"`
	Metadata  string `gorm:"type:text"`
	CreatedAt time.Time
}

func (AccountAction) TableName() string {
	return "account_actions"
}

type Role struct {
	ID          string       `gorm:"primaryKey" json:"id"`
	Name        string       `gorm:"not null" json:"name"`
	Route       string       `json:"route"`
	Image       *string      `json:"image"`
	Permissions []Permission `gorm:"many2many:role_has_permissions" json:"-"`
}

func (Role) TableName() string {
	return "roles"
}

type Permission struct {
	ID          string `gorm:"primaryKey" json:"id"`
	Description string `json:"description"`
}

func (Permission) TableName() string {
	return "permissions"
}
