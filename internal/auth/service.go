package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/elskow/shop-auth/internal/config"
)

// Service orchestrates the account lifecycle. Every multi-row effect runs in
// one repository transaction; email dispatch always happens after commit and
// a delivery failure never rolls back a committed state change.
type Service struct {
	config     *config.AuthConfig
	log        *zap.Logger
	repository Repository
	sessions   *SessionManager
	tokens     *TokenStore
	notifier   Notifier
}

func NewService(
	config *config.AuthConfig,
	log *zap.Logger,
	repo Repository,
	sessions *SessionManager,
	tokens *TokenStore,
	notifier Notifier,
) *Service {
	return &Service{
		config:     config,
		log:        log,
		repository: repo,
		sessions:   sessions,
		tokens:     tokens,
		notifier:   notifier,
	}
}

type RegisterInput struct {
	Name     string
	LastName string
	Email    string
	Phone    string
	Password string
}

type DeviceInfo struct {
	DeviceType string
	IPAddress  string
	DeviceID   string
}

type LoginResult struct {
	User  *User  `json:"user"`
	Token string `json:"token"`
}

type CodeCheck struct {
	TokenID  uint    `json:"tokenId"`
	UserID   uint    `json:"userId"`
	NewEmail *string `json:"newEmail"`
}

type ProfileUpdate struct {
	Name     *string
	LastName *string
	Phone    *string
}

// Register creates a PENDING user with the default role and a confirmation
// code, all in one transaction, then emails the code.
func (s *Service) Register(input RegisterInput) (string, error) {
	if _, err := s.repository.GetUserByEmail(input.Email); err == nil {
		return "", Conflict("email is already registered")
	} else if !errors.Is(err, ErrUserNotFound) {
		return "", err
	}

	hashed, err := HashPassword(input.Password, s.config.BcryptCost)
	if err != nil {
		return "", err
	}

	var (
		rawCode string
		token   *EmailActionToken
		user    *User
	)
	err = s.repository.Transaction(func(tx Repository) error {
		user = &User{
			Name:             input.Name,
			LastName:         input.LastName,
			Email:            input.Email,
			Phone:            input.Phone,
			Password:         hashed,
			Status:           StatusPending,
			SessionRevokedAt: time.Now(),
		}
		if err := tx.CreateUser(user); err != nil {
			// A concurrent registration can slip past the precheck; the
			// unique constraint still surfaces it here.
			if errors.Is(err, ErrDuplicateEmail) {
				return Conflict("email is already registered")
			}
			return err
		}

		if _, err := tx.GetRole(s.config.DefaultRole); err != nil {
			if errors.Is(err, ErrRoleNotFound) {
				return NotFound("default client role does not exist")
			}
			return err
		}
		if err := tx.AssignRole(user.ID, s.config.DefaultRole); err != nil {
			return err
		}

		rawCode, token, err = s.tokens.Issue(tx, user.ID, ActionConfirmNewEmail, nil, &user.Email)
		return err
	})
	if err != nil {
		return "", err
	}

	if err := s.notifier.SendAccountConfirmation(user.Name, user.LastName, user.Email, rawCode, token.ExpiresAt); err != nil {
		s.log.Error("failed to send confirmation email",
			zap.Uint("user_id", user.ID),
			zap.Error(err))
	}

	return "Registration successful. Check your email to activate your account.", nil
}

// Login verifies credentials, issues a bearer credential and records the
// device session.
func (s *Service) Login(email, password string, device DeviceInfo) (*LoginResult, error) {
	user, err := s.repository.GetUserByEmail(email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, NotFound("user not found")
		}
		return nil, err
	}

	if user.Status == StatusPending {
		return nil, Forbidden("account has not been confirmed")
	}
	if user.Status == StatusBlocked || user.Status == StatusDeactivated {
		return nil, Forbidden("account is inactive or blocked")
	}

	if !CheckPasswordHash(password, user.Password) {
		return nil, Unauthorized("invalid credentials")
	}

	permissions, err := s.repository.GetUserPermissions(user.ID)
	if err != nil {
		return nil, err
	}

	token, jwtID, err := s.sessions.IssueCredential(user, permissions)
	if err != nil {
		return nil, err
	}

	if err := s.sessions.RecordSession(user.ID, jwtID, device.DeviceType, device.IPAddress, device.DeviceID); err != nil {
		return nil, err
	}

	return &LoginResult{
		User:  user,
		Token: "Bearer " + token,
	}, nil
}

// ConfirmAccount redeems a confirmation code and activates the account.
func (s *Service) ConfirmAccount(code string) (string, error) {
	match, err := s.tokens.Find(s.repository, code, ActionConfirmNewEmail)
	if err != nil {
		return "", confirmScanError(err)
	}

	user, err := s.repository.GetUserByID(match.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", NotFound("user not found")
		}
		return "", err
	}
	if user.Status == StatusActive {
		return "", Conflict("this account has already been activated")
	}

	err = s.repository.Transaction(func(tx Repository) error {
		if err := tx.UpdateUser(user.ID, map[string]interface{}{"status": StatusActive}); err != nil {
			return err
		}
		if err := s.tokens.Consume(tx, match.ID); err != nil {
			return err
		}
		return s.audit(tx, user.ID, string(ActionConfirmNewEmail), map[string]interface{}{"newEmail": match.NewEmail})
	})
	if err != nil {
		return "", err
	}

	return "Account activated successfully. Welcome!", nil
}

// VerifyActionCode checks a confirmation code without consuming it. Misses
// still count against the newest candidate.
func (s *Service) VerifyActionCode(code string) (*CodeCheck, error) {
	match, err := s.tokens.Find(s.repository, code, ActionConfirmNewEmail)
	if err != nil {
		if errors.Is(err, ErrNoLiveTokens) {
			return nil, NotFound("invalid token")
		}
		if errors.Is(err, ErrTokenMismatch) {
			return nil, Invalid("invalid token")
		}
		return nil, err
	}

	return &CodeCheck{
		TokenID:  match.ID,
		UserID:   match.UserID,
		NewEmail: match.NewEmail,
	}, nil
}

// ResendCode supersedes any live confirmation code and issues a fresh one.
func (s *Service) ResendCode(email string) (string, error) {
	user, err := s.repository.GetUserByEmail(email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", NotFound("no user found with that email")
		}
		return "", err
	}
	if user.Status == StatusActive {
		return "", Conflict("account is already active, try signing in")
	}

	var (
		rawCode string
		token   *EmailActionToken
	)
	err = s.repository.Transaction(func(tx Repository) error {
		if err := s.tokens.Supersede(tx, user.ID, ActionConfirmNewEmail); err != nil {
			return err
		}
		rawCode, token, err = s.tokens.Issue(tx, user.ID, ActionConfirmNewEmail, nil, &user.Email)
		if err != nil {
			return err
		}
		return s.audit(tx, user.ID, "RESEND_CONFIRMATION_CODE", map[string]interface{}{"reason": "user_requested"})
	})
	if err != nil {
		return "", err
	}

	if err := s.notifier.SendAccountConfirmation(user.Name, user.LastName, user.Email, rawCode, token.ExpiresAt); err != nil {
		s.log.Error("failed to send confirmation email",
			zap.Uint("user_id", user.ID),
			zap.Error(err))
	}

	return "A new verification code was sent to your email.", nil
}

// ChangePassword rotates the password after checking the current one, the
// no-repeat rule and the password history. The revocation watermark is bumped
// so every other session is signed out.
func (s *Service) ChangePassword(userID uint, current, newPassword string) (string, error) {
	user, err := s.repository.GetUserByID(userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", NotFound("user not found")
		}
		return "", err
	}

	if !CheckPasswordHash(current, user.Password) {
		return "", Unauthorized("current password is incorrect")
	}
	if CheckPasswordHash(newPassword, user.Password) {
		return "", Invalid("new password cannot be the same as the current one")
	}

	hashed, err := HashPassword(newPassword, s.config.BcryptCost)
	if err != nil {
		return "", err
	}

	err = s.repository.Transaction(func(tx Repository) error {
		if err := s.rejectReusedPassword(tx, user.ID, newPassword); err != nil {
			return err
		}
		if err := tx.CreatePasswordHistory(&PasswordHistory{UserID: user.ID, Hash: user.Password}); err != nil {
			return err
		}
		return tx.UpdateUser(user.ID, map[string]interface{}{
			"password":           hashed,
			"session_revoked_at": time.Now(),
		})
	})
	if err != nil {
		return "", err
	}

	return "Password updated successfully.", nil
}

// ChangeEmail swaps the account email, re-pends the account and issues a
// confirmation code to the new address plus a revert code to the old one.
// Both codes stay live at once; they are different action kinds.
func (s *Service) ChangeEmail(userID uint, password, newEmail string) (string, error) {
	user, err := s.repository.GetUserByID(userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", NotFound("user not found")
		}
		return "", err
	}

	if !CheckPasswordHash(password, user.Password) {
		return "", Unauthorized("incorrect password, email cannot be changed")
	}

	if _, err := s.repository.GetUserByEmail(newEmail); err == nil {
		return "", Conflict("this email is already in use by another account")
	} else if !errors.Is(err, ErrUserNotFound) {
		return "", err
	}

	oldEmail := user.Email
	var (
		rawConfirm, rawRevert string
		confirm, revert       *EmailActionToken
	)
	err = s.repository.Transaction(func(tx Repository) error {
		var err error
		rawConfirm, confirm, err = s.tokens.Issue(tx, user.ID, ActionConfirmNewEmail, &oldEmail, &newEmail)
		if err != nil {
			return err
		}
		rawRevert, revert, err = s.tokens.Issue(tx, user.ID, ActionRevertEmail, &oldEmail, &newEmail)
		if err != nil {
			return err
		}
		if err := tx.UpdateUser(user.ID, map[string]interface{}{
			"email":              newEmail,
			"status":             StatusPending,
			"session_revoked_at": time.Now(),
		}); err != nil {
			return err
		}
		return s.audit(tx, user.ID, "EMAIL_CHANGE_REQUESTED", map[string]interface{}{
			"oldEmail": oldEmail,
			"newEmail": newEmail,
		})
	})
	if err != nil {
		return "", err
	}

	if err := s.notifier.SendEmailChangeRevert(user.Name, user.LastName, oldEmail, rawRevert, revert.ExpiresAt); err != nil {
		s.log.Error("failed to send email change notification",
			zap.Uint("user_id", user.ID),
			zap.Error(err))
	}
	if err := s.notifier.SendAccountConfirmation(user.Name, user.LastName, newEmail, rawConfirm, confirm.ExpiresAt); err != nil {
		s.log.Error("failed to send confirmation email",
			zap.Uint("user_id", user.ID),
			zap.Error(err))
	}

	return "Email updated and set to PENDING. Instructions were sent to both the old and the new address.", nil
}

// ForgotPassword issues a reset code and pre-emptively bumps the revocation
// watermark so current sessions are invalidated.
func (s *Service) ForgotPassword(email string) (string, error) {
	user, err := s.repository.GetUserByEmail(email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", NotFound("user not found")
		}
		return "", err
	}
	if user.Status != StatusActive {
		return "", Forbidden("account is not active or is blocked, contact support")
	}

	var (
		rawCode string
		token   *EmailActionToken
	)
	err = s.repository.Transaction(func(tx Repository) error {
		if err := s.tokens.Supersede(tx, user.ID, ActionPasswordReset); err != nil {
			return err
		}
		rawCode, token, err = s.tokens.Issue(tx, user.ID, ActionPasswordReset, nil, &user.Email)
		if err != nil {
			return err
		}
		if err := s.audit(tx, user.ID, "PASSWORD_RESET_REQUESTED", map[string]interface{}{"reason": "user_requested"}); err != nil {
			return err
		}
		return tx.UpdateUser(user.ID, map[string]interface{}{"session_revoked_at": time.Now()})
	})
	if err != nil {
		return "", err
	}

	if err := s.notifier.SendPasswordResetCode(user.Name, user.LastName, user.Email, rawCode, token.ExpiresAt); err != nil {
		s.log.Error("failed to send password reset email",
			zap.Uint("user_id", user.ID),
			zap.Error(err))
	}

	return "A password reset code was sent to your email.", nil
}

// ResetPassword redeems a reset code and rotates the password, revoking every
// session.
func (s *Service) ResetPassword(code, newPassword string) (string, error) {
	match, err := s.tokens.Find(s.repository, code, ActionPasswordReset)
	if err != nil {
		return "", resetScanError(err)
	}

	user, err := s.repository.GetUserByID(match.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", NotFound("user not found")
		}
		return "", err
	}

	if CheckPasswordHash(newPassword, user.Password) {
		return "", Invalid("new password cannot be the same as the current one")
	}

	hashed, err := HashPassword(newPassword, s.config.BcryptCost)
	if err != nil {
		return "", err
	}

	err = s.repository.Transaction(func(tx Repository) error {
		if err := s.rejectReusedPassword(tx, user.ID, newPassword); err != nil {
			return err
		}
		if err := tx.CreatePasswordHistory(&PasswordHistory{UserID: user.ID, Hash: user.Password}); err != nil {
			return err
		}
		// Consumes the matched token too; no reset code survives a reset.
		if err := s.tokens.Supersede(tx, user.ID, ActionPasswordReset); err != nil {
			return err
		}
		if err := tx.UpdateUser(user.ID, map[string]interface{}{
			"password":           hashed,
			"session_revoked_at": time.Now(),
		}); err != nil {
			return err
		}
		if _, err := tx.DeleteUserSessions(user.ID); err != nil {
			return err
		}
		return s.audit(tx, user.ID, string(ActionPasswordReset), map[string]interface{}{"by": "token"})
	})
	if err != nil {
		return "", err
	}

	return "Password reset successfully. You can sign in now.", nil
}

// CheckPassword verifies the caller's current password.
func (s *Service) CheckPassword(userID uint, password string) (string, error) {
	user, err := s.repository.GetUserByID(userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", NotFound("user not found")
		}
		return "", err
	}
	if !CheckPasswordHash(password, user.Password) {
		return "", Unauthorized("current password is incorrect")
	}
	return "Password is valid.", nil
}

// LogoutAll revokes every session for the user.
func (s *Service) LogoutAll(userID uint) (string, error) {
	if _, err := s.repository.GetUserByID(userID); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", NotFound("user not found")
		}
		return "", err
	}

	deleted, err := s.sessions.RevokeAll(userID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d session(s) were closed and removed.", deleted), nil
}

// ActiveSessions lists the user's sessions, most recent first.
func (s *Service) ActiveSessions(userID uint) ([]SessionSummary, error) {
	return s.sessions.ListSessions(userID)
}

// BlockAccount sets BLOCKED, revokes all sessions and notifies the admin
// address best-effort. Blocking an already blocked account reports success,
// not a conflict; kept as-is from the reference behavior.
func (s *Service) BlockAccount(userID uint) (string, error) {
	user, err := s.repository.GetUserByID(userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", NotFound("user not found")
		}
		return "", err
	}

	if user.Status == StatusBlocked {
		return "The account was already blocked.", nil
	}

	var deleted int64
	err = s.repository.Transaction(func(tx Repository) error {
		if err := tx.UpdateUser(user.ID, map[string]interface{}{
			"status":             StatusBlocked,
			"session_revoked_at": time.Now(),
		}); err != nil {
			return err
		}
		n, err := tx.DeleteUserSessions(user.ID)
		if err != nil {
			return err
		}
		deleted = n
		return s.audit(tx, user.ID, "ACCOUNT_BLOCKED", map[string]interface{}{"reason": "admin_block"})
	})
	if err != nil {
		return "", err
	}

	if err := s.notifier.SendAccountBlocked(user.ID, user.Name, user.LastName, user.Email); err != nil {
		s.log.Error("failed to send account blocked notification",
			zap.Uint("user_id", user.ID),
			zap.Error(err))
	}

	return fmt.Sprintf("The account was blocked and %d previous session(s) were closed and removed.", deleted), nil
}

// UpdateProfile applies a partial update to the user's profile fields.
func (s *Service) UpdateProfile(userID uint, update ProfileUpdate) (*User, error) {
	user, err := s.repository.GetUserByID(userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, NotFound("user not found")
		}
		return nil, err
	}

	fields := map[string]interface{}{}
	if update.Name != nil {
		fields["name"] = *update.Name
	}
	if update.LastName != nil {
		fields["last_name"] = *update.LastName
	}
	if update.Phone != nil {
		fields["phone"] = *update.Phone
	}
	if len(fields) > 0 {
		if err := s.repository.UpdateUser(user.ID, fields); err != nil {
			return nil, err
		}
	}

	return s.repository.GetUserByID(user.ID)
}

// rejectReusedPassword compares the candidate against every archived hash and
// rejects with the date the password was last used.
func (s *Service) rejectReusedPassword(tx Repository, userID uint, newPassword string) error {
	history, err := tx.ListPasswordHistory(userID)
	if err != nil {
		return err
	}
	for _, entry := range history {
		if CheckPasswordHash(newPassword, entry.Hash) {
			return Invalid(fmt.Sprintf(
				"this password was already used on %s, choose a new one",
				entry.CreatedAt.Format("January 2, 2006 at 15:04"),
			))
		}
	}
	return nil
}

func (s *Service) audit(tx Repository, userID uint, action string, metadata map[string]interface{}) error {
	payload, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	return tx.CreateAccountAction(&AccountAction{
		UserID:   userID,
		Action:   action,
		Metadata: string(payload),
	})
}

func confirmScanError(err error) error {
	if errors.Is(err, ErrNoLiveTokens) {
		return Invalid("invalid or expired code")
	}
	if errors.Is(err, ErrTokenMismatch) {
		return Invalid("invalid verification code")
	}
	return err
}

func resetScanError(err error) error {
	if errors.Is(err, ErrNoLiveTokens) {
		return Invalid("invalid or expired token")
	}
	if errors.Is(err, ErrTokenMismatch) {
		return Invalid("invalid token")
	}
	return err
}
