package auth

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/elskow/shop-auth/internal/config"
)

func newTestLogger(t *testing.T) *zap.Logger {
	logger, err := zap.NewDevelopment()
	assert.NoError(t, err)
	return logger
}

func newTestConfig() *config.AuthConfig {
	return &config.AuthConfig{
		JWTSecret:       "test-secret-key",
		TokenExpiration: 48 * time.Hour,
		BcryptCost:      4, // min cost keeps the suites fast
		CodeDigits:      6,
		CodeExpiration:  30 * time.Minute,
		MaxCodeAttempts: 5,
		CandidateWindow: 10,
		DefaultRole:     "CLIENT",
	}
}

type sentCode struct {
	email     string
	code      string
	expiresAt time.Time
}

// mockNotifier records every dispatch so tests can read codes back the way a
// user would read their inbox.
type mockNotifier struct {
	mu            sync.Mutex
	confirmations []sentCode
	resets        []sentCode
	reverts       []sentCode
	blocked       []uint
}

func (n *mockNotifier) SendAccountConfirmation(name, lastName, email, code string, expiresAt time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confirmations = append(n.confirmations, sentCode{email: email, code: code, expiresAt: expiresAt})
	return nil
}

func (n *mockNotifier) SendPasswordResetCode(name, lastName, email, code string, expiresAt time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resets = append(n.resets, sentCode{email: email, code: code, expiresAt: expiresAt})
	return nil
}

func (n *mockNotifier) SendEmailChangeRevert(name, lastName, oldEmail, code string, expiresAt time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reverts = append(n.reverts, sentCode{email: oldEmail, code: code, expiresAt: expiresAt})
	return nil
}

func (n *mockNotifier) SendAccountBlocked(userID uint, name, lastName, email string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.blocked = append(n.blocked, userID)
	return nil
}

func (n *mockNotifier) lastConfirmation(t *testing.T) sentCode {
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.confirmations)
	return n.confirmations[len(n.confirmations)-1]
}

func (n *mockNotifier) lastReset(t *testing.T) sentCode {
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.resets)
	return n.resets[len(n.resets)-1]
}

func (n *mockNotifier) lastRevert(t *testing.T) sentCode {
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.reverts)
	return n.reverts[len(n.reverts)-1]
}

type testEnv struct {
	config   *config.AuthConfig
	repo     *mockRepository
	notifier *mockNotifier
	sessions *SessionManager
	tokens   *TokenStore
	service  *Service
}

func newTestEnv(t *testing.T) *testEnv {
	cfg := newTestConfig()
	log := newTestLogger(t)
	repo := newMockRepository()
	repo.addRole(&Role{ID: "CLIENT", Name: "Client", Route: "/client"})
	repo.addRole(&Role{
		ID:   "ADMIN",
		Name: "Administrator",
		Permissions: []Permission{
			{ID: "BLOCK_USERS"},
		},
	})

	notifier := &mockNotifier{}
	sessions := NewSessionManager(cfg, log, repo)
	tokens := NewTokenStore(cfg, log)
	service := NewService(cfg, log, repo, sessions, tokens, notifier)

	return &testEnv{
		config:   cfg,
		repo:     repo,
		notifier: notifier,
		sessions: sessions,
		tokens:   tokens,
		service:  service,
	}
}

// registerUser creates a PENDING account and returns the confirmation code
// that was "emailed" out.
func (env *testEnv) registerUser(t *testing.T, email, password string) string {
	t.Helper()
	_, err := env.service.Register(RegisterInput{
		Name:     "Ada",
		LastName: "Lovelace",
		Email:    email,
		Phone:    "5550001111",
		Password: password,
	})
	require.NoError(t, err)
	return env.notifier.lastConfirmation(t).code
}

// registerActiveUser registers and confirms an account, returning its id.
func (env *testEnv) registerActiveUser(t *testing.T, email, password string) uint {
	t.Helper()
	code := env.registerUser(t, email, password)
	_, err := env.service.ConfirmAccount(code)
	require.NoError(t, err)

	user, err := env.repo.GetUserByEmail(email)
	require.NoError(t, err)
	return user.ID
}
