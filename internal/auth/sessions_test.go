package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activeTestUser(t *testing.T, repo *mockRepository, email string) *User {
	t.Helper()
	user := &User{
		Name:             "Ada",
		LastName:         "Lovelace",
		Email:            email,
		Password:         "irrelevant-hash",
		Status:           StatusActive,
		SessionRevokedAt: time.Now().Add(-time.Hour),
	}
	require.NoError(t, repo.CreateUser(user))
	return user
}

func TestSessionManager_IssueAndParse(t *testing.T) {
	repo := newMockRepository()
	mgr := NewSessionManager(newTestConfig(), newTestLogger(t), repo)
	user := activeTestUser(t, repo, "a@x.com")

	token, jwtID, err := mgr.IssueCredential(user, []string{"BLOCK_USERS"})
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.NotEmpty(t, jwtID)

	claims, err := mgr.ParseCredential(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, user.Email, claims.Email)
	assert.Equal(t, []string{"BLOCK_USERS"}, claims.Permissions)
	assert.Equal(t, jwtID, claims.ID)
	assert.Equal(t, user.SessionRevokedAt.UnixMilli(), claims.SessionRevokedAt)
}

func TestSessionManager_ParseRejectsTamperedToken(t *testing.T) {
	repo := newMockRepository()
	mgr := NewSessionManager(newTestConfig(), newTestLogger(t), repo)
	user := activeTestUser(t, repo, "a@x.com")

	token, _, err := mgr.IssueCredential(user, nil)
	require.NoError(t, err)

	_, err = mgr.ParseCredential(token + "x")
	assert.Error(t, err)
}

func TestSessionManager_ValidateCredential(t *testing.T) {
	repo := newMockRepository()
	mgr := NewSessionManager(newTestConfig(), newTestLogger(t), repo)
	user := activeTestUser(t, repo, "a@x.com")

	token, _, err := mgr.IssueCredential(user, nil)
	require.NoError(t, err)

	claims, err := mgr.ValidateCredential(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
}

func TestSessionManager_ValidateRejectsBlockedUser(t *testing.T) {
	repo := newMockRepository()
	mgr := NewSessionManager(newTestConfig(), newTestLogger(t), repo)
	user := activeTestUser(t, repo, "a@x.com")

	token, _, err := mgr.IssueCredential(user, nil)
	require.NoError(t, err)

	require.NoError(t, repo.UpdateUser(user.ID, map[string]interface{}{"status": StatusBlocked}))

	_, err = mgr.ValidateCredential(token)
	var domainErr *Error
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, 403, domainErr.Status)
}

func TestSessionManager_WatermarkInvalidatesOlderCredentials(t *testing.T) {
	repo := newMockRepository()
	mgr := NewSessionManager(newTestConfig(), newTestLogger(t), repo)
	user := activeTestUser(t, repo, "a@x.com")

	token, _, err := mgr.IssueCredential(user, nil)
	require.NoError(t, err)

	// A newer global revocation must reject the still-unexpired credential.
	require.NoError(t, repo.UpdateUser(user.ID, map[string]interface{}{
		"session_revoked_at": time.Now().Add(time.Second),
	}))

	_, err = mgr.ValidateCredential(token)
	var domainErr *Error
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, 401, domainErr.Status)
}

func TestSessionManager_RevokeAll(t *testing.T) {
	repo := newMockRepository()
	mgr := NewSessionManager(newTestConfig(), newTestLogger(t), repo)
	user := activeTestUser(t, repo, "a@x.com")

	require.NoError(t, mgr.RecordSession(user.ID, "jwt-1", "phone", "10.0.0.1", "dev-1"))
	require.NoError(t, mgr.RecordSession(user.ID, "jwt-2", "laptop", "10.0.0.2", "dev-2"))

	before, err := repo.GetUserByID(user.ID)
	require.NoError(t, err)

	deleted, err := mgr.RevokeAll(user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	after, err := repo.GetUserByID(user.ID)
	require.NoError(t, err)
	assert.True(t, after.SessionRevokedAt.After(before.SessionRevokedAt))

	sessions, err := mgr.ListSessions(user.ID)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestSessionManager_ListSessionsNewestFirst(t *testing.T) {
	repo := newMockRepository()
	mgr := NewSessionManager(newTestConfig(), newTestLogger(t), repo)
	user := activeTestUser(t, repo, "a@x.com")

	older := &Session{UserID: user.ID, JWTID: "jwt-old", DeviceType: "phone", LastAccessedAt: time.Now().Add(-time.Hour)}
	newer := &Session{UserID: user.ID, JWTID: "jwt-new", DeviceType: "laptop", LastAccessedAt: time.Now()}
	require.NoError(t, repo.CreateSession(older))
	require.NoError(t, repo.CreateSession(newer))

	sessions, err := mgr.ListSessions(user.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "jwt-new", sessions[0].JWTID)
	assert.Equal(t, "jwt-old", sessions[1].JWTID)
}

func TestNormalizeIP(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "::1", want: "127.0.0.1"},
		{in: "::ffff:127.0.0.1", want: "127.0.0.1"},
		{in: "203.0.113.9", want: "203.0.113.9"},
		{in: "2001:db8::1", want: "2001:db8::1"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeIP(tt.in))
	}
}

func TestSessionManager_RecordSessionNormalizesIP(t *testing.T) {
	repo := newMockRepository()
	mgr := NewSessionManager(newTestConfig(), newTestLogger(t), repo)
	user := activeTestUser(t, repo, "a@x.com")

	require.NoError(t, mgr.RecordSession(user.ID, "jwt-1", "phone", "::1", "dev-1"))

	sessions, err := repo.ListUserSessions(user.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "127.0.0.1", sessions[0].IPAddress)
}
