package http

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/FilipeAphrody/estate-auth/internal/domain"
	"github.com/FilipeAphrody/estate-auth/internal/usecase"
)

// AccountService is the registration and recovery side of the auth usecase.
type AccountService interface {
	Register(ctx context.Context, in usecase.RegisterInput) (*domain.User, error)
	VerifyOTP(ctx context.Context, usernameOrEmail, code string) (bool, error)
	ResendOTP(ctx context.Context, usernameOrEmail string) error
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, in usecase.ResetPasswordInput) error
}

// OTPHandler handles sign-up, code verification and password recovery.
type OTPHandler struct {
	usecase AccountService
}

// NewOTPHandler registers the account routes.
func NewOTPHandler(g *echo.Group, u AccountService) {
	handler := &OTPHandler{usecase: u}

	g.POST("/register", handler.Register)
	g.POST("/verify-otp", handler.VerifyOTP)
	g.POST("/resend-otp", handler.ResendOTP)
	g.POST("/forgot-password", handler.ForgotPassword)
	g.POST("/reset-password", handler.ResetPassword)
}

type registerRequest struct {
	Username        string `json:"username" validate:"required,min=3,max=50"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=6"`
	ConfirmPassword string `json:"confirmPassword" validate:"required"`
}

// verifyOTPRequest accepts a username or an email in the "email" field.
type verifyOTPRequest struct {
	Email string `json:"email" validate:"required"`
	OTP   string `json:"otp" validate:"required,len=6,numeric"`
}

type resendOTPRequest struct {
	Email string `json:"email" validate:"required"`
}

type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type resetPasswordRequest struct {
	Email           string `json:"email" validate:"required,email"`
	OTP             string `json:"otp" validate:"required,len=6,numeric"`
	NewPassword     string `json:"newPassword" validate:"required,min=6"`
	ConfirmPassword string `json:"confirmPassword" validate:"required"`
}

type registerResponse struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	Email      string    `json:"email"`
	IsVerified bool      `json:"is_verified"`
	Roles      []string  `json:"roles"`
	CreatedAt  time.Time `json:"created_at"`
}

// Register creates the account and sends the first verification code.
func (h *OTPHandler) Register(c echo.Context) error {
	var req registerRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	user, err := h.usecase.Register(requestContext(c), usecase.RegisterInput{
		Username:        req.Username,
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
	})
	record("register", err)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, apiResponse{
		Timestamp: time.Now().UTC(),
		Status:    http.StatusCreated,
		Message:   "Register successfully, check your email for the OTP",
		Data: registerResponse{
			ID:         user.ID,
			Username:   user.Username,
			Email:      user.Email,
			IsVerified: user.IsVerified,
			Roles:      user.RoleNames(),
			CreatedAt:  user.CreatedAt,
		},
	})
}

// VerifyOTP completes sign-up. A rejected code answers INVALID_OTP.
func (h *OTPHandler) VerifyOTP(c echo.Context) error {
	var req verifyOTPRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	ok, err := h.usecase.VerifyOTP(requestContext(c), req.Email, req.OTP)
	if err == nil && !ok {
		err = domain.ErrInvalidOTP
	}
	record("verify_otp", err)
	if err != nil {
		return err
	}
	return success(c, "Verify OTP successfully", echo.Map{"verified": true})
}

func (h *OTPHandler) ResendOTP(c echo.Context) error {
	var req resendOTPRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	err := h.usecase.ResendOTP(requestContext(c), req.Email)
	record("resend_otp", err)
	if err != nil {
		return err
	}
	return success(c, "OTP sent", nil)
}

func (h *OTPHandler) ForgotPassword(c echo.Context) error {
	var req forgotPasswordRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	err := h.usecase.ForgotPassword(requestContext(c), req.Email)
	record("forgot_password", err)
	if err != nil {
		return err
	}
	return success(c, "Password reset code sent", nil)
}

func (h *OTPHandler) ResetPassword(c echo.Context) error {
	var req resetPasswordRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	err := h.usecase.ResetPassword(requestContext(c), usecase.ResetPasswordInput{
		Email:           req.Email,
		OTP:             req.OTP,
		NewPassword:     req.NewPassword,
		ConfirmPassword: req.ConfirmPassword,
	})
	record("reset_password", err)
	if err != nil {
		return err
	}
	return success(c, "Reset password successfully", nil)
}
