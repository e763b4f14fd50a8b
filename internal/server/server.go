package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/elskow/shop-auth/internal/auth"
	"github.com/elskow/shop-auth/internal/config"
)

type Server struct {
	config     *config.AppConfig
	log        *zap.Logger
	httpServer *http.Server
}

type Params struct {
	fx.In

	Config         *config.AppConfig
	Logger         *zap.Logger
	AuthHandler    *auth.Handler
	AuthMiddleware *auth.Middleware
}

func NewServer(p Params) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	router.Route("/auth", func(r chi.Router) {
		// Public flows
		r.Post("/register", p.AuthHandler.Register)
		r.Post("/login", p.AuthHandler.Login)
		r.Post("/confirm-account", p.AuthHandler.ConfirmAccount)
		r.Post("/validate-token", p.AuthHandler.ValidateActionCode)
		r.Post("/resend-code", p.AuthHandler.ResendCode)
		r.Post("/forgot-password", p.AuthHandler.ForgotPassword)
		r.Post("/reset-password/{token}", p.AuthHandler.ResetPassword)

		// Bearer-gated flows
		r.Group(func(r chi.Router) {
			r.Use(p.AuthMiddleware.Authenticate)
			r.Post("/change-password", p.AuthHandler.ChangePassword)
			r.Post("/change-email", p.AuthHandler.ChangeEmail)
			r.Post("/check-password", p.AuthHandler.CheckPassword)
			r.Post("/logout-all", p.AuthHandler.LogoutAll)
			r.Get("/sessions", p.AuthHandler.ActiveSessions)
			r.Patch("/{id}/update", p.AuthHandler.UpdateProfile)
			r.With(p.AuthMiddleware.RequirePermission("BLOCK_USERS")).
				Post("/{id}/block", p.AuthHandler.BlockAccount)
		})
	})

	addr := fmt.Sprintf("%s:%s", p.Config.Server.Host, p.Config.Server.Port)
	return &Server{
		config: p.Config,
		log:    p.Logger,
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	s.log.Info("Starting HTTP server", zap.String("address", s.httpServer.Addr))

	if err := s.httpServer.Serve(lis); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to serve: %w", err)
	}

	return nil
}

func (s *Server) Stop() {
	s.log.Info("shutting down HTTP server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.log.Error("failed to shut down server", zap.Error(err))
	}
}
