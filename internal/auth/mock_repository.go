package auth

import (
	"sort"
	"sync"
	"time"
)

// mockRepository is the in-memory Repository used by the package tests. Its
// Transaction runs the closure directly; test flows never rely on rollback.
type mockRepository struct {
	mu sync.RWMutex

	nextUserID    uint
	nextTokenID   uint
	nextSessionID uint

	users        map[uint]*User
	usersByEmail map[string]uint
	roles        map[string]*Role
	userRoles    map[uint][]string
	sessions     []*Session
	history      map[uint][]PasswordHistory
	tokens       []*EmailActionToken
	actions      []*AccountAction
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		users:        make(map[uint]*User),
		usersByEmail: make(map[string]uint),
		roles:        make(map[string]*Role),
		userRoles:    make(map[uint][]string),
		history:      make(map[uint][]PasswordHistory),
	}
}

func (r *mockRepository) addRole(role *Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roles[role.ID] = role
}

func (r *mockRepository) Transaction(fn func(Repository) error) error {
	return fn(r)
}

func (r *mockRepository) CreateUser(user *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.usersByEmail[user.Email]; taken {
		return ErrDuplicateEmail
	}

	r.nextUserID++
	user.ID = r.nextUserID
	user.CreatedAt = time.Now()
	user.UpdatedAt = time.Now()

	clone := *user
	r.users[user.ID] = &clone
	r.usersByEmail[user.Email] = user.ID
	return nil
}

func (r *mockRepository) GetUserByEmail(email string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.usersByEmail[email]
	if !exists {
		return nil, ErrUserNotFound
	}
	clone := *r.users[id]
	return &clone, nil
}

func (r *mockRepository) GetUserByID(id uint) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, exists := r.users[id]
	if !exists {
		return nil, ErrUserNotFound
	}
	clone := *user
	return &clone, nil
}

func (r *mockRepository) UpdateUser(id uint, fields map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, exists := r.users[id]
	if !exists {
		return ErrUserNotFound
	}

	for key, value := range fields {
		switch key {
		case "name":
			user.Name = value.(string)
		case "last_name":
			user.LastName = value.(string)
		case "phone":
			user.Phone = value.(string)
		case "email":
			delete(r.usersByEmail, user.Email)
			user.Email = value.(string)
			r.usersByEmail[user.Email] = user.ID
		case "password":
			user.Password = value.(string)
		case "status":
			user.Status = value.(UserStatus)
		case "session_revoked_at":
			user.SessionRevokedAt = value.(time.Time)
		}
	}
	user.UpdatedAt = time.Now()
	return nil
}

func (r *mockRepository) GetRole(id string) (*Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	role, exists := r.roles[id]
	if !exists {
		return nil, ErrRoleNotFound
	}
	return role, nil
}

func (r *mockRepository) AssignRole(userID uint, roleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.userRoles[userID] = append(r.userRoles[userID], roleID)
	return nil
}

func (r *mockRepository) GetUserRoles(userID uint) ([]Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var roles []Role
	for _, roleID := range r.userRoles[userID] {
		if role, exists := r.roles[roleID]; exists {
			roles = append(roles, *role)
		}
	}
	return roles, nil
}

func (r *mockRepository) GetUserPermissions(userID uint) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var permissions []string
	for _, roleID := range r.userRoles[userID] {
		role, exists := r.roles[roleID]
		if !exists {
			continue
		}
		for _, p := range role.Permissions {
			if !seen[p.ID] {
				seen[p.ID] = true
				permissions = append(permissions, p.ID)
			}
		}
	}
	return permissions, nil
}

func (r *mockRepository) CreateSession(session *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextSessionID++
	session.ID = r.nextSessionID
	session.CreatedAt = time.Now()

	clone := *session
	r.sessions = append(r.sessions, &clone)
	return nil
}

func (r *mockRepository) DeleteUserSessions(userID uint) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var kept []*Session
	var deleted int64
	for _, s := range r.sessions {
		if s.UserID == userID {
			deleted++
			continue
		}
		kept = append(kept, s)
	}
	r.sessions = kept
	return deleted, nil
}

func (r *mockRepository) ListUserSessions(userID uint) ([]Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var sessions []Session
	for _, s := range r.sessions {
		if s.UserID == userID {
			sessions = append(sessions, *s)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastAccessedAt.After(sessions[j].LastAccessedAt)
	})
	return sessions, nil
}

func (r *mockRepository) CreatePasswordHistory(entry *PasswordHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry.CreatedAt = time.Now()
	r.history[entry.UserID] = append(r.history[entry.UserID], *entry)
	return nil
}

func (r *mockRepository) ListPasswordHistory(userID uint) ([]PasswordHistory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]PasswordHistory(nil), r.history[userID]...), nil
}

func (r *mockRepository) CreateActionToken(token *EmailActionToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextTokenID++
	token.ID = r.nextTokenID
	token.CreatedAt = time.Now()

	clone := *token
	r.tokens = append(r.tokens, &clone)
	return nil
}

func (r *mockRepository) LiveActionTokens(action TokenAction, limit int) ([]EmailActionToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	var live []EmailActionToken
	for _, t := range r.tokens {
		if t.Action == action && t.ConsumedAt == nil && !t.ExpiresAt.Before(now) {
			live = append(live, *t)
		}
	}
	// Newest first; IDs break ties created within the same instant.
	sort.Slice(live, func(i, j int) bool {
		if live[i].CreatedAt.Equal(live[j].CreatedAt) {
			return live[i].ID > live[j].ID
		}
		return live[i].CreatedAt.After(live[j].CreatedAt)
	})
	if len(live) > limit {
		live = live[:limit]
	}
	return live, nil
}

func (r *mockRepository) ConsumeUserActionTokens(userID uint, action TokenAction, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range r.tokens {
		if t.UserID == userID && t.Action == action && t.ConsumedAt == nil {
			consumedAt := at
			t.ConsumedAt = &consumedAt
		}
	}
	return nil
}

func (r *mockRepository) UpdateActionToken(id uint, fields map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range r.tokens {
		if t.ID != id {
			continue
		}
		for key, value := range fields {
			switch key {
			case "failed_attempts":
				t.FailedAttempts = value.(int)
			case "consumed_at":
				at := value.(time.Time)
				t.ConsumedAt = &at
			}
		}
		return nil
	}
	return ErrTokenNotFound
}

func (r *mockRepository) CreateAccountAction(action *AccountAction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	action.CreatedAt = time.Now()
	clone := *action
	r.actions = append(r.actions, &clone)
	return nil
}
