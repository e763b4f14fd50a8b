package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/elskow/shop-auth/internal/config"
)

// Claims is the bearer credential payload. SessionRevokedAt is the revocation
// watermark as of issuance, in unix milliseconds; credentials issued before a
// later global revocation fail validation even if unexpired.
type Claims struct {
	UserID           uint     `json:"id"`
	Email            string   `json:"email"`
	Permissions      []string `json:"permissions"`
	SessionRevokedAt int64    `json:"sessionRevokedAt"`
	jwt.RegisteredClaims
}

type SessionManager struct {
	config     *config.AuthConfig
	log        *zap.Logger
	repository Repository
}

func NewSessionManager(config *config.AuthConfig, log *zap.Logger, repo Repository) *SessionManager {
	return &SessionManager{
		config:     config,
		log:        log,
		repository: repo,
	}
}

// IssueCredential signs a time-bounded bearer token for the user and returns
// it together with the jwt id correlating it to a session row.
func (m *SessionManager) IssueCredential(user *User, permissions []string) (string, string, error) {
	jwtID := uuid.NewString()
	now := time.Now()
	claims := &Claims{
		UserID:           user.ID,
		Email:            user.Email,
		Permissions:      permissions,
		SessionRevokedAt: user.SessionRevokedAt.UnixMilli(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jwtID,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.TokenExpiration)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(m.config.JWTSecret))
	if err != nil {
		return "", "", err
	}
	return signed, jwtID, nil
}

// ParseCredential checks signature and expiry only. Account-level checks
// (status, revocation watermark) happen in ValidateCredential.
func (m *SessionManager) ParseCredential(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(m.config.JWTSecret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// ValidateCredential applies the full validation contract: signature and
// expiry, the account still existing and being allowed to authenticate, and
// the embedded watermark not predating the account's current one.
func (m *SessionManager) ValidateCredential(tokenString string) (*Claims, error) {
	claims, err := m.ParseCredential(tokenString)
	if err != nil {
		return nil, Unauthorized("invalid or expired token")
	}

	user, err := m.repository.GetUserByID(claims.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, Unauthorized("invalid credentials")
		}
		return nil, err
	}

	if user.Status == StatusBlocked || user.Status == StatusDeactivated {
		return nil, Forbidden("account is inactive or blocked")
	}

	if user.SessionRevokedAt.UnixMilli() > claims.SessionRevokedAt {
		return nil, Unauthorized("session revoked, sign in again")
	}

	return claims, nil
}

// RecordSession persists the device-bound login record created at login time.
func (m *SessionManager) RecordSession(userID uint, jwtID, deviceType, ipAddress, deviceID string) error {
	return m.repository.CreateSession(&Session{
		UserID:         userID,
		JWTID:          jwtID,
		DeviceType:     deviceType,
		IPAddress:      NormalizeIP(ipAddress),
		Location:       "Unknown Location",
		DeviceID:       deviceID,
		LastAccessedAt: time.Now(),
	})
}

// NormalizeIP collapses IPv6 loopback forms to the canonical IPv4 loopback.
func NormalizeIP(addr string) string {
	if addr == "::1" || addr == "::ffff:127.0.0.1" {
		return "127.0.0.1"
	}
	return addr
}

// RevokeAll bumps the user's revocation watermark and deletes every session
// row in one transaction. Returns the number of sessions removed.
func (m *SessionManager) RevokeAll(userID uint) (int64, error) {
	var deleted int64
	err := m.repository.Transaction(func(tx Repository) error {
		if err := tx.UpdateUser(userID, map[string]interface{}{"session_revoked_at": time.Now()}); err != nil {
			return err
		}
		n, err := tx.DeleteUserSessions(userID)
		if err != nil {
			return err
		}
		deleted = n
		return nil
	})
	return deleted, err
}

// SessionSummary is what ListSessions exposes; credential material stays out.
type SessionSummary struct {
	JWTID          string    `json:"jwtId"`
	DeviceType     string    `json:"deviceType"`
	Location       string    `json:"location"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
}

func (m *SessionManager) ListSessions(userID uint) ([]SessionSummary, error) {
	sessions, err := m.repository.ListUserSessions(userID)
	if err != nil {
		return nil, err
	}

	summaries := make([]SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		summaries = append(summaries, SessionSummary{
			JWTID:          s.JWTID,
			DeviceType:     s.DeviceType,
			Location:       s.Location,
			LastAccessedAt: s.LastAccessedAt,
		})
	}
	return summaries, nil
}
