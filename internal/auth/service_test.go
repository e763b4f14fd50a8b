package auth

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertStatus(t *testing.T, err error, status int) {
	t.Helper()
	var domainErr *Error
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, status, domainErr.Status)
}

func TestService_Register(t *testing.T) {
	env := newTestEnv(t)

	message, err := env.service.Register(RegisterInput{
		Name:     "Ada",
		LastName: "Lovelace",
		Email:    "a@x.com",
		Password: "initial-password",
	})
	require.NoError(t, err)
	assert.Contains(t, message, "Check your email")

	user, err := env.repo.GetUserByEmail("a@x.com")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, user.Status)
	assert.NotEqual(t, "initial-password", user.Password, "password must be stored hashed")

	roles, err := env.repo.GetUserRoles(user.ID)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, "CLIENT", roles[0].ID)

	sent := env.notifier.lastConfirmation(t)
	assert.Equal(t, "a@x.com", sent.email)
	assert.Regexp(t, `^\d{6}$`, sent.code)
}

func TestService_RegisterDuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	env.registerUser(t, "a@x.com", "initial-password")

	_, err := env.service.Register(RegisterInput{
		Name:     "Eve",
		LastName: "Impostor",
		Email:    "a@x.com",
		Password: "other-password",
	})
	assertStatus(t, err, http.StatusConflict)
}

// blindRepo hides existing users from the pre-registration lookup, standing
// in for a concurrent registration that commits between the precheck and the
// insert.
type blindRepo struct {
	Repository
}

func (r *blindRepo) GetUserByEmail(email string) (*User, error) {
	return nil, ErrUserNotFound
}

func (r *blindRepo) Transaction(fn func(Repository) error) error {
	return fn(r)
}

func TestService_RegisterConcurrentDuplicateIsConflict(t *testing.T) {
	env := newTestEnv(t)
	env.registerUser(t, "a@x.com", "initial-password")

	service := NewService(env.config, newTestLogger(t), &blindRepo{Repository: env.repo},
		env.sessions, env.tokens, env.notifier)

	_, err := service.Register(RegisterInput{
		Name:     "Eve",
		LastName: "Impostor",
		Email:    "a@x.com",
		Password: "other-password",
	})
	assertStatus(t, err, http.StatusConflict)
}

func TestService_RegisterWithoutDefaultRole(t *testing.T) {
	env := newTestEnv(t)
	env.config.DefaultRole = "MISSING"

	_, err := env.service.Register(RegisterInput{
		Name:     "Ada",
		LastName: "Lovelace",
		Email:    "a@x.com",
		Password: "initial-password",
	})
	assertStatus(t, err, http.StatusNotFound)
}

func TestService_Login(t *testing.T) {
	env := newTestEnv(t)
	env.registerActiveUser(t, "a@x.com", "initial-password")

	result, err := env.service.Login("a@x.com", "initial-password", DeviceInfo{
		DeviceType: "test-agent",
		IPAddress:  "::1",
		DeviceID:   "dev-1",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.Token, "Bearer "))
	assert.Equal(t, "a@x.com", result.User.Email)

	sessions, err := env.repo.ListUserSessions(result.User.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "127.0.0.1", sessions[0].IPAddress)
}

func TestService_LoginFailures(t *testing.T) {
	env := newTestEnv(t)
	env.registerUser(t, "pending@x.com", "initial-password")
	activeID := env.registerActiveUser(t, "active@x.com", "initial-password")

	tests := []struct {
		name     string
		email    string
		password string
		status   int
		prepare  func()
	}{
		{
			name:     "unknown user",
			email:    "ghost@x.com",
			password: "whatever-pass",
			status:   http.StatusNotFound,
		},
		{
			name:     "pending account",
			email:    "pending@x.com",
			password: "initial-password",
			status:   http.StatusForbidden,
		},
		{
			name:     "wrong password",
			email:    "active@x.com",
			password: "not-the-password",
			status:   http.StatusUnauthorized,
		},
		{
			name:     "blocked account",
			email:    "active@x.com",
			password: "initial-password",
			status:   http.StatusForbidden,
			prepare: func() {
				_, err := env.service.BlockAccount(activeID)
				require.NoError(t, err)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.prepare != nil {
				tt.prepare()
			}
			_, err := env.service.Login(tt.email, tt.password, DeviceInfo{})
			assertStatus(t, err, tt.status)
		})
	}
}

func TestService_ConfirmAccount(t *testing.T) {
	env := newTestEnv(t)
	code := env.registerUser(t, "a@x.com", "initial-password")

	message, err := env.service.ConfirmAccount(code)
	require.NoError(t, err)
	assert.Contains(t, message, "activated")

	user, err := env.repo.GetUserByEmail("a@x.com")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, user.Status)

	// The code is single-use.
	_, err = env.service.ConfirmAccount(code)
	assertStatus(t, err, http.StatusBadRequest)
}

func TestService_ConfirmAccountLocksAfterRepeatedGuesses(t *testing.T) {
	env := newTestEnv(t)
	code := env.registerUser(t, "a@x.com", "initial-password")

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	for i := 0; i < 5; i++ {
		_, err := env.service.ConfirmAccount(wrong)
		assertStatus(t, err, http.StatusBadRequest)
	}

	// Sixth attempt fails even with the correct code: the token is locked.
	_, err := env.service.ConfirmAccount(code)
	assertStatus(t, err, http.StatusBadRequest)

	user, err := env.repo.GetUserByEmail("a@x.com")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, user.Status, "account must stay unconfirmed")
}

func TestService_ResendCodeSupersedesPrior(t *testing.T) {
	env := newTestEnv(t)
	firstCode := env.registerUser(t, "a@x.com", "initial-password")

	message, err := env.service.ResendCode("a@x.com")
	require.NoError(t, err)
	assert.Contains(t, message, "verification code")
	secondCode := env.notifier.lastConfirmation(t).code

	if firstCode != secondCode {
		_, err = env.service.ConfirmAccount(firstCode)
		assertStatus(t, err, http.StatusBadRequest)
	}

	_, err = env.service.ConfirmAccount(secondCode)
	require.NoError(t, err)
}

func TestService_ResendCodeFailures(t *testing.T) {
	env := newTestEnv(t)
	env.registerActiveUser(t, "active@x.com", "initial-password")

	_, err := env.service.ResendCode("ghost@x.com")
	assertStatus(t, err, http.StatusNotFound)

	_, err = env.service.ResendCode("active@x.com")
	assertStatus(t, err, http.StatusConflict)
}

func TestService_VerifyActionCode(t *testing.T) {
	env := newTestEnv(t)
	code := env.registerUser(t, "a@x.com", "initial-password")

	check, err := env.service.VerifyActionCode(code)
	require.NoError(t, err)
	assert.NotZero(t, check.TokenID)
	require.NotNil(t, check.NewEmail)
	assert.Equal(t, "a@x.com", *check.NewEmail)

	// Peeking does not consume: confirmation still works afterwards.
	_, err = env.service.ConfirmAccount(code)
	require.NoError(t, err)
}

func TestService_ChangePassword(t *testing.T) {
	env := newTestEnv(t)
	userID := env.registerActiveUser(t, "a@x.com", "initial-password")

	before, err := env.repo.GetUserByID(userID)
	require.NoError(t, err)

	_, err = env.service.ChangePassword(userID, "initial-password", "second-password")
	require.NoError(t, err)

	after, err := env.repo.GetUserByID(userID)
	require.NoError(t, err)
	assert.True(t, CheckPasswordHash("second-password", after.Password))
	assert.True(t, after.SessionRevokedAt.After(before.SessionRevokedAt),
		"password change must bump the revocation watermark")

	history, err := env.repo.ListPasswordHistory(userID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, CheckPasswordHash("initial-password", history[0].Hash))
}

func TestService_ChangePasswordFailures(t *testing.T) {
	env := newTestEnv(t)
	userID := env.registerActiveUser(t, "a@x.com", "initial-password")
	_, err := env.service.ChangePassword(userID, "initial-password", "second-password")
	require.NoError(t, err)

	tests := []struct {
		name    string
		current string
		next    string
		status  int
	}{
		{
			name:    "wrong current password",
			current: "not-the-password",
			next:    "third-password",
			status:  http.StatusUnauthorized,
		},
		{
			name:    "new equals current",
			current: "second-password",
			next:    "second-password",
			status:  http.StatusBadRequest,
		},
		{
			name:    "new found in history",
			current: "second-password",
			next:    "initial-password",
			status:  http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.service.ChangePassword(userID, tt.current, tt.next)
			assertStatus(t, err, tt.status)
		})
	}
}

func TestService_ChangeEmailIssuesBothTokens(t *testing.T) {
	env := newTestEnv(t)
	userID := env.registerActiveUser(t, "old@x.com", "initial-password")

	_, err := env.service.ChangeEmail(userID, "initial-password", "new@x.com")
	require.NoError(t, err)

	user, err := env.repo.GetUserByID(userID)
	require.NoError(t, err)
	assert.Equal(t, "new@x.com", user.Email)
	assert.Equal(t, StatusPending, user.Status)

	confirm := env.notifier.lastConfirmation(t)
	revert := env.notifier.lastRevert(t)
	assert.Equal(t, "new@x.com", confirm.email)
	assert.Equal(t, "old@x.com", revert.email)

	// Both tokens are live and independently redeemable.
	confirmMatch, err := env.tokens.Find(env.repo, confirm.code, ActionConfirmNewEmail)
	require.NoError(t, err)
	assert.Equal(t, userID, confirmMatch.UserID)

	revertMatch, err := env.tokens.Find(env.repo, revert.code, ActionRevertEmail)
	require.NoError(t, err)
	assert.Equal(t, userID, revertMatch.UserID)
}

func TestService_ChangeEmailFailures(t *testing.T) {
	env := newTestEnv(t)
	userID := env.registerActiveUser(t, "a@x.com", "initial-password")
	env.registerActiveUser(t, "taken@x.com", "other-password")

	_, err := env.service.ChangeEmail(userID, "not-the-password", "new@x.com")
	assertStatus(t, err, http.StatusUnauthorized)

	_, err = env.service.ChangeEmail(userID, "initial-password", "taken@x.com")
	assertStatus(t, err, http.StatusConflict)
}

func TestService_ForgotPassword(t *testing.T) {
	env := newTestEnv(t)
	userID := env.registerActiveUser(t, "a@x.com", "initial-password")

	before, err := env.repo.GetUserByID(userID)
	require.NoError(t, err)

	_, err = env.service.ForgotPassword("a@x.com")
	require.NoError(t, err)

	after, err := env.repo.GetUserByID(userID)
	require.NoError(t, err)
	assert.True(t, after.SessionRevokedAt.After(before.SessionRevokedAt),
		"forgot password pre-emptively revokes sessions")

	sent := env.notifier.lastReset(t)
	assert.Equal(t, "a@x.com", sent.email)
	assert.Regexp(t, `^\d{6}$`, sent.code)
}

func TestService_ForgotPasswordFailures(t *testing.T) {
	env := newTestEnv(t)
	env.registerUser(t, "pending@x.com", "initial-password")

	_, err := env.service.ForgotPassword("ghost@x.com")
	assertStatus(t, err, http.StatusNotFound)

	_, err = env.service.ForgotPassword("pending@x.com")
	assertStatus(t, err, http.StatusForbidden)
}

func TestService_ResetPassword(t *testing.T) {
	env := newTestEnv(t)
	userID := env.registerActiveUser(t, "a@x.com", "initial-password")

	// An open session that must disappear after the reset.
	_, err := env.service.Login("a@x.com", "initial-password", DeviceInfo{DeviceID: "dev-1"})
	require.NoError(t, err)

	_, err = env.service.ForgotPassword("a@x.com")
	require.NoError(t, err)
	code := env.notifier.lastReset(t).code

	message, err := env.service.ResetPassword(code, "second-password")
	require.NoError(t, err)
	assert.Contains(t, message, "reset")

	user, err := env.repo.GetUserByID(userID)
	require.NoError(t, err)
	assert.True(t, CheckPasswordHash("second-password", user.Password))

	sessions, err := env.repo.ListUserSessions(userID)
	require.NoError(t, err)
	assert.Empty(t, sessions, "reset must delete every session")

	// The reset code cannot be replayed.
	_, err = env.service.ResetPassword(code, "third-password")
	assertStatus(t, err, http.StatusBadRequest)
}

func TestService_ResetPasswordRejectsReuse(t *testing.T) {
	env := newTestEnv(t)
	userID := env.registerActiveUser(t, "a@x.com", "initial-password")
	_, err := env.service.ChangePassword(userID, "initial-password", "second-password")
	require.NoError(t, err)

	_, err = env.service.ForgotPassword("a@x.com")
	require.NoError(t, err)
	code := env.notifier.lastReset(t).code

	// history[0] is the original password; picking it again is rejected.
	_, err = env.service.ResetPassword(code, "initial-password")
	assertStatus(t, err, http.StatusBadRequest)

	// Same for the unchanged current password.
	_, err = env.service.ForgotPassword("a@x.com")
	require.NoError(t, err)
	code = env.notifier.lastReset(t).code
	_, err = env.service.ResetPassword(code, "second-password")
	assertStatus(t, err, http.StatusBadRequest)
}

func TestService_CheckPassword(t *testing.T) {
	env := newTestEnv(t)
	userID := env.registerActiveUser(t, "a@x.com", "initial-password")

	_, err := env.service.CheckPassword(userID, "initial-password")
	assert.NoError(t, err)

	_, err = env.service.CheckPassword(userID, "not-the-password")
	assertStatus(t, err, http.StatusUnauthorized)

	_, err = env.service.CheckPassword(9999, "initial-password")
	assertStatus(t, err, http.StatusNotFound)
}

func TestService_LogoutAllInvalidatesCredentials(t *testing.T) {
	env := newTestEnv(t)
	userID := env.registerActiveUser(t, "a@x.com", "initial-password")

	result, err := env.service.Login("a@x.com", "initial-password", DeviceInfo{DeviceID: "dev-1"})
	require.NoError(t, err)
	token := strings.TrimPrefix(result.Token, "Bearer ")

	// Sanity: the fresh credential validates.
	_, err = env.sessions.ValidateCredential(token)
	require.NoError(t, err)

	message, err := env.service.LogoutAll(userID)
	require.NoError(t, err)
	assert.Contains(t, message, "1 session(s)")

	// Still unexpired, now rejected by the gate's validation contract.
	_, err = env.sessions.ValidateCredential(token)
	assertStatus(t, err, http.StatusUnauthorized)
}

func TestService_LogoutAllUnknownUser(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.service.LogoutAll(9999)
	assertStatus(t, err, http.StatusNotFound)
}

func TestService_BlockAccount(t *testing.T) {
	env := newTestEnv(t)
	userID := env.registerActiveUser(t, "a@x.com", "initial-password")

	_, err := env.service.Login("a@x.com", "initial-password", DeviceInfo{DeviceID: "dev-1"})
	require.NoError(t, err)

	message, err := env.service.BlockAccount(userID)
	require.NoError(t, err)
	assert.Contains(t, message, "blocked")

	user, err := env.repo.GetUserByID(userID)
	require.NoError(t, err)
	assert.Equal(t, StatusBlocked, user.Status)

	sessions, err := env.repo.ListUserSessions(userID)
	require.NoError(t, err)
	assert.Empty(t, sessions)

	// Blocking again reports success, not a conflict.
	message, err = env.service.BlockAccount(userID)
	require.NoError(t, err)
	assert.Contains(t, message, "already blocked")

	_, err = env.service.BlockAccount(9999)
	assertStatus(t, err, http.StatusNotFound)
}

func TestService_UpdateProfile(t *testing.T) {
	env := newTestEnv(t)
	userID := env.registerActiveUser(t, "a@x.com", "initial-password")

	name := "Grace"
	phone := "5559998888"
	user, err := env.service.UpdateProfile(userID, ProfileUpdate{Name: &name, Phone: &phone})
	require.NoError(t, err)
	assert.Equal(t, "Grace", user.Name)
	assert.Equal(t, "Lovelace", user.LastName, "unset fields stay untouched")
	assert.Equal(t, "5559998888", user.Phone)

	_, err = env.service.UpdateProfile(9999, ProfileUpdate{})
	assertStatus(t, err, http.StatusNotFound)
}
