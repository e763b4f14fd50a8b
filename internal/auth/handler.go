package auth

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type Handler struct {
	service *Service
	log     *zap.Logger
}

func NewHandler(service *Service, log *zap.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log,
	}
}

// response is the uniform wire envelope for every outcome.
type response struct {
	Status     string      `json:"status"`
	StatusCode int         `json:"statusCode"`
	Message    string      `json:"message"`
	Data       interface{} `json:"data,omitempty"`
}

// statusLabel is "success" for 2xx/3xx, "fail" for client errors and
// "error" for server errors.
func statusLabel(statusCode int) string {
	switch {
	case statusCode >= http.StatusInternalServerError:
		return "error"
	case statusCode >= http.StatusBadRequest:
		return "fail"
	default:
		return "success"
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response{
		Status:     statusLabel(statusCode),
		StatusCode: statusCode,
		Message:    message,
		Data:       data,
	})
}

// writeError is the single conversion point from domain errors to the wire
// format. Untyped errors become a generic 500 so internals never leak.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	status := StatusOf(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		log.Error("unexpected failure", zap.Error(err))
		message = "internal error"
	}
	writeJSON(w, status, message, nil)
}

func decode(r *http.Request, req interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		return Invalid("malformed request body")
	}
	return validateRequest(req)
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	message, err := h.service.Register(RegisterInput{
		Name:     req.Name,
		LastName: req.LastName,
		Email:    req.Email,
		Phone:    req.Phone,
		Password: req.Password,
	})
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, message, nil)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	result, err := h.service.Login(req.Email, req.Password, deviceInfoFromRequest(r))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, "Login successful", result)
}

func (h *Handler) ConfirmAccount(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	message, err := h.service.ConfirmAccount(req.Token)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, message, nil)
}

func (h *Handler) ValidateActionCode(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	check, err := h.service.VerifyActionCode(req.Token)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, "Token is valid.", check)
}

func (h *Handler) ResendCode(w http.ResponseWriter, r *http.Request) {
	var req ResendRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	message, err := h.service.ResendCode(req.Email)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, message, nil)
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, h.log, Unauthorized("unauthorized"))
		return
	}

	var req ChangePasswordRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	message, err := h.service.ChangePassword(identity.UserID, req.Password, req.NewPassword)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, message, nil)
}

func (h *Handler) ChangeEmail(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, h.log, Unauthorized("unauthorized"))
		return
	}

	var req ChangeEmailRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	message, err := h.service.ChangeEmail(identity.UserID, req.Password, req.NewEmail)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, message, nil)
}

func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	message, err := h.service.ForgotPassword(req.Email)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, message, nil)
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	var req ResetPasswordRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	message, err := h.service.ResetPassword(token, req.Password)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, message, nil)
}

func (h *Handler) CheckPassword(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, h.log, Unauthorized("unauthorized"))
		return
	}

	var req CheckPasswordRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	message, err := h.service.CheckPassword(identity.UserID, req.Password)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, message, nil)
}

func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, h.log, Unauthorized("unauthorized"))
		return
	}

	message, err := h.service.LogoutAll(identity.UserID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, message, nil)
}

func (h *Handler) ActiveSessions(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, h.log, Unauthorized("unauthorized"))
		return
	}

	sessions, err := h.service.ActiveSessions(identity.UserID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, "Active sessions", sessions)
}

func (h *Handler) BlockAccount(w http.ResponseWriter, r *http.Request) {
	userID, err := parseIDParam(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	message, err := h.service.BlockAccount(userID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, message, nil)
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := parseIDParam(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	var req UpdateProfileRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	user, err := h.service.UpdateProfile(userID, ProfileUpdate{
		Name:     req.Name,
		LastName: req.LastName,
		Phone:    req.Phone,
	})
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, "Profile updated", user)
}

func parseIDParam(r *http.Request) (uint, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, Invalid("invalid user id")
	}
	return uint(id), nil
}

func deviceInfoFromRequest(r *http.Request) DeviceInfo {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		ip = strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}

	deviceType := r.Header.Get("User-Agent")
	if deviceType == "" {
		deviceType = "App Flutter/Web"
	}
	deviceID := r.Header.Get("X-Device-Id")
	if deviceID == "" {
		deviceID = "default"
	}

	return DeviceInfo{
		DeviceType: deviceType,
		IPAddress:  ip,
		DeviceID:   deviceID,
	}
}
