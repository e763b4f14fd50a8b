package auth

import (
	"time"

	"go.uber.org/zap"

	"github.com/elskow/shop-auth/internal/config"
)

// TokenStore implements the single-use action-code protocol: issue a hashed
// numeric code with a TTL, supersede prior codes for the same (user, action),
// and verify by scanning a bounded window of recent candidates. Operations
// take a Repository so callers can run them inside a transaction.
type TokenStore struct {
	config *config.AuthConfig
	log    *zap.Logger
}

func NewTokenStore(config *config.AuthConfig, log *zap.Logger) *TokenStore {
	return &TokenStore{
		config: config,
		log:    log,
	}
}

// Issue generates a fresh numeric code, persists its hash with the configured
// TTL and returns the raw code for out-of-band delivery. The raw code is
// never stored.
func (s *TokenStore) Issue(repo Repository, userID uint, action TokenAction, oldEmail, newEmail *string) (string, *EmailActionToken, error) {
	raw, err := GenerateNumericCode(s.config.CodeDigits)
	if err != nil {
		return "", nil, err
	}

	hash, err := HashCode(raw, s.config.BcryptCost)
	if err != nil {
		return "", nil, err
	}

	token := &EmailActionToken{
		UserID:    userID,
		Action:    action,
		OldEmail:  oldEmail,
		NewEmail:  newEmail,
		TokenHash: hash,
		ExpiresAt: time.Now().Add(s.config.CodeExpiration),
	}
	if err := repo.CreateActionToken(token); err != nil {
		return "", nil, err
	}
	return raw, token, nil
}

// Supersede marks every live token of the (user, action) pair consumed, so at
// most one remains redeemable after a subsequent Issue.
func (s *TokenStore) Supersede(repo Repository, userID uint, action TokenAction) error {
	return repo.ConsumeUserActionTokens(userID, action, time.Now())
}

// Find scans the newest candidates for the action and compares the raw code
// against each hash. On a miss the newest candidate takes the failed attempt;
// once the counter reaches the configured maximum that candidate is locked
// (consumed) even though it was never validated. The scan window bounds the
// bcrypt comparison cost.
func (s *TokenStore) Find(repo Repository, raw string, action TokenAction) (*EmailActionToken, error) {
	candidates, err := repo.LiveActionTokens(action, s.config.CandidateWindow)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, ErrNoLiveTokens
	}

	for i := range candidates {
		if CompareCode(raw, candidates[i].TokenHash) {
			return &candidates[i], nil
		}
	}

	target := candidates[0]
	after := target.FailedAttempts + 1
	fields := map[string]interface{}{"failed_attempts": after}
	locked := after >= s.config.MaxCodeAttempts
	if locked {
		fields["consumed_at"] = time.Now()
	}
	if err := repo.UpdateActionToken(target.ID, fields); err != nil {
		return nil, err
	}

	if locked {
		s.log.Warn("action token locked after repeated failures",
			zap.Uint("token_id", target.ID),
			zap.String("action", string(action)))
		return nil, Invalid("code locked after too many attempts")
	}
	return nil, ErrTokenMismatch
}

// Consume marks a matched token redeemed. A consumed token never reopens.
func (s *TokenStore) Consume(repo Repository, tokenID uint) error {
	return repo.UpdateActionToken(tokenID, map[string]interface{}{"consumed_at": time.Now()})
}
