package auth

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// Repository is the transactional store contract for the auth subsystem.
// Transaction yields a Repository bound to the transaction; every multi-row
// flow runs through it so either all mutations commit or none do.
type Repository interface {
	Transaction(fn func(Repository) error) error

	CreateUser(user *User) error
	GetUserByEmail(email string) (*User, error)
	GetUserByID(id uint) (*User, error)
	UpdateUser(id uint, fields map[string]interface{}) error

	GetRole(id string) (*Role, error)
	AssignRole(userID uint, roleID string) error
	GetUserRoles(userID uint) ([]Role, error)
	GetUserPermissions(userID uint) ([]string, error)

	CreateSession(session *Session) error
	DeleteUserSessions(userID uint) (int64, error)
	ListUserSessions(userID uint) ([]Session, error)

	CreatePasswordHistory(entry *PasswordHistory) error
	ListPasswordHistory(userID uint) ([]PasswordHistory, error)

	CreateActionToken(token *EmailActionToken) error
	LiveActionTokens(action TokenAction, limit int) ([]EmailActionToken, error)
	ConsumeUserActionTokens(userID uint, action TokenAction, at time.Time) error
	UpdateActionToken(id uint, fields map[string]interface{}) error

	CreateAccountAction(action *AccountAction) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Transaction(fn func(Repository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&repository{db: tx})
	})
}

func (r *repository) CreateUser(user *User) error {
	if err := r.db.Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateEmail
		}
		return err
	}
	return nil
}

func (r *repository) GetUserByEmail(email string) (*User, error) {
	var user User
	if err := r.db.Preload("Roles").Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *repository) GetUserByID(id uint) (*User, error) {
	var user User
	if err := r.db.Preload("Roles").First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *repository) UpdateUser(id uint, fields map[string]interface{}) error {
	return r.db.Model(&User{}).Where("id = ?", id).Updates(fields).Error
}

func (r *repository) GetRole(id string) (*Role, error) {
	var role Role
	if err := r.db.First(&role, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoleNotFound
		}
		return nil, err
	}
	return &role, nil
}

func (r *repository) AssignRole(userID uint, roleID string) error {
	return r.db.Exec(
		"INSERT INTO user_has_roles (user_id, role_id) VALUES (?, ?)",
		userID, roleID,
	).Error
}

func (r *repository) GetUserRoles(userID uint) ([]Role, error) {
	var roles []Role
	err := r.db.
		Joins("JOIN user_has_roles uhr ON uhr.role_id = roles.id").
		Where("uhr.user_id = ?", userID).
		Find(&roles).Error
	return roles, err
}

// GetUserPermissions resolves the deduplicated union of permission ids across
// every role the user holds.
func (r *repository) GetUserPermissions(userID uint) ([]string, error) {
	var permissions []string
	err := r.db.Table("permissions").
		Distinct("permissions.id").
		Joins("JOIN role_has_permissions rhp ON rhp.permission_id = permissions.id").
		Joins("JOIN user_has_roles uhr ON uhr.role_id = rhp.role_id").
		Where("uhr.user_id = ?", userID).
		Pluck("permissions.id", &permissions).Error
	return permissions, err
}

func (r *repository) CreateSession(session *Session) error {
	return r.db.Create(session).Error
}

func (r *repository) DeleteUserSessions(userID uint) (int64, error) {
	result := r.db.Where("user_id = ?", userID).Delete(&Session{})
	return result.RowsAffected, result.Error
}

func (r *repository) ListUserSessions(userID uint) ([]Session, error) {
	var sessions []Session
	err := r.db.
		Where("user_id = ?", userID).
		Order("last_accessed_at DESC").
		Find(&sessions).Error
	return sessions, err
}

func (r *repository) CreatePasswordHistory(entry *PasswordHistory) error {
	return r.db.Create(entry).Error
}

func (r *repository) ListPasswordHistory(userID uint) ([]PasswordHistory, error) {
	var history []PasswordHistory
	err := r.db.Where("user_id = ?", userID).Find(&history).Error
	return history, err
}

func (r *repository) CreateActionToken(token *EmailActionToken) error {
	return r.db.Create(token).Error
}

// LiveActionTokens returns the newest unconsumed, unexpired rows for an
// action, bounded to the candidate window. Codes cannot be looked up by
// value, so redemption compares against each of these.
func (r *repository) LiveActionTokens(action TokenAction, limit int) ([]EmailActionToken, error) {
	var tokens []EmailActionToken
	err := r.db.
		Where("action = ? AND consumed_at IS NULL AND expires_at >= ?", action, time.Now()).
		Order("created_at DESC").
		Limit(limit).
		Find(&tokens).Error
	return tokens, err
}

func (r *repository) ConsumeUserActionTokens(userID uint, action TokenAction, at time.Time) error {
	return r.db.Model(&EmailActionToken{}).
		Where("user_id = ? AND action = ? AND consumed_at IS NULL", userID, action).
		Update("consumed_at", at).Error
}

func (r *repository) UpdateActionToken(id uint, fields map[string]interface{}) error {
	result := r.db.Model(&EmailActionToken{}).Where("id = ?", id).Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTokenNotFound
	}
	return nil
}

func (r *repository) CreateAccountAction(action *AccountAction) error {
	return r.db.Create(action).Error
}
