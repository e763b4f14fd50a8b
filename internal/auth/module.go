package auth

import (
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/elskow/shop-auth/internal/config"
)

// NewModule returns the auth module options
func NewModule() fx.Option {
	return fx.Options(
		fx.Provide(
			// Provide repository
			fx.Annotate(
				func(db *gorm.DB) Repository {
					return NewRepository(db)
				},
			),
			// Provide session manager
			fx.Annotate(
				func(config *config.AppConfig, log *zap.Logger, repo Repository) *SessionManager {
					return NewSessionManager(&config.Auth, log, repo)
				},
			),
			// Provide token store
			fx.Annotate(
				func(config *config.AppConfig, log *zap.Logger) *TokenStore {
					return NewTokenStore(&config.Auth, log)
				},
			),
			// Provide notifier: real SMTP in production, log-only elsewhere
			fx.Annotate(
				func(config *config.AppConfig, log *zap.Logger) Notifier {
					if os.Getenv("APP_ENV") == "production" {
						return NewSMTPNotifier(&config.SMTP)
					}
					return NewLogNotifier(log)
				},
			),
			// Provide service
			fx.Annotate(
				func(config *config.AppConfig, log *zap.Logger, repo Repository, sessions *SessionManager, tokens *TokenStore, notifier Notifier) *Service {
					return NewService(&config.Auth, log, repo, sessions, tokens, notifier)
				},
			),
			// Provide handler
			fx.Annotate(
				func(svc *Service, log *zap.Logger) *Handler {
					return NewHandler(svc, log)
				},
			),
			// Provide middleware
			fx.Annotate(
				func(sessions *SessionManager, repo Repository, log *zap.Logger) *Middleware {
					return NewMiddleware(sessions, repo, log)
				},
			),
		),
	)
}
