package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type RegisterRequest struct {
	Name     string `json:"name" validate:"required,min=2,max=64"`
	LastName string `json:"lastName" validate:"required,min=2,max=64"`
	Email    string `json:"email" validate:"required,email"`
	Phone    string `json:"phone" validate:"omitempty,min=7,max=20"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type ConfirmRequest struct {
	Token string `json:"token" validate:"required,len=6,numeric"`
}

type ResendRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type ChangePasswordRequest struct {
	Password    string `json:"password" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,min=8,max=72"`
}

type ChangeEmailRequest struct {
	Password string `json:"password" validate:"required"`
	NewEmail string `json:"newEmail" validate:"required,email"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type ResetPasswordRequest struct {
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type CheckPasswordRequest struct {
	Password string `json:"password" validate:"required"`
}

type UpdateProfileRequest struct {
	Name     *string `json:"name" validate:"omitempty,min=2,max=64"`
	LastName *string `json:"lastName" validate:"omitempty,min=2,max=64"`
	Phone    *string `json:"phone" validate:"omitempty,min=7,max=20"`
}

// validateRequest collapses field-level violations into a single 400.
func validateRequest(req interface{}) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var violations validator.ValidationErrors
	if !errors.As(err, &violations) {
		return Invalid("invalid request")
	}

	fields := make([]string, 0, len(violations))
	for _, v := range violations {
		fields = append(fields, fmt.Sprintf("%s (%s)", v.Field(), v.Tag()))
	}
	return Invalid("invalid request: " + strings.Join(fields, ", "))
}
