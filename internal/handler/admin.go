package handler

import (
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-registration/internal/config"
	"github.com/iliyamo/event-registration/internal/mailer"
	"github.com/iliyamo/event-registration/internal/repository"
	"github.com/iliyamo/event-registration/internal/utils"
)

// adminCodeTTL is how long an emailed admin-access code stays valid.
const adminCodeTTL = 15 * time.Minute

// AdminHandler implements the admin-code request/confirm flow.  Only
// allow-listed emails can request a code; a confirmed code promotes
// the user and yields an HS256 access token with the ADMIN role,
// which JWTAuth and RequireRole check on the admin routes.
type AdminHandler struct {
	Cfg           config.Config
	Verifications *repository.VerificationRepo
	Users         *repository.UserRepo
	Mail          *mailer.Mailer
}

func NewAdminHandler(cfg config.Config, v *repository.VerificationRepo, u *repository.UserRepo, m *mailer.Mailer) *AdminHandler {
	return &AdminHandler{Cfg: cfg, Verifications: v, Users: u, Mail: m}
}

// Request handles POST /api/admin/request.
func (h *AdminHandler) Request(c echo.Context) error {
	var body struct {
		Email string `json:"email"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	email := strings.ToLower(strings.TrimSpace(body.Email))
	if email == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email is required"})
	}
	if !h.allowed(email) {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "this email is not permitted to request admin access"})
	}

	code, err := utils.NewVerificationCode()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to generate code"})
	}
	hash, err := utils.HashCode(code, h.Cfg.BcryptCost)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to store code"})
	}
	ctx := c.Request().Context()
	if err := h.Verifications.UpsertAdminCode(ctx, email, hash, time.Now().UTC().Add(adminCodeTTL)); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to store code"})
	}

	// Mail failure is reported but not fatal, so the flow still works
	// when SMTP is not configured in a dev environment.
	emailSent := true
	if err := h.Mail.SendAdminCode(email, code); err != nil {
		log.Printf("admin-request: mail failed email=%s err=%v", email, err)
		emailSent = false
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success":   true,
		"message":   "verification code generated",
		"emailSent": emailSent,
	})
}

// Confirm handles POST /api/admin/confirm.  A valid code is single
// use: it is deleted before the token is issued.
func (h *AdminHandler) Confirm(c echo.Context) error {
	var body struct {
		Email string `json:"email"`
		Code  string `json:"code"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	email := strings.ToLower(strings.TrimSpace(body.Email))
	if email == "" || body.Code == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email and code are required"})
	}

	ctx := c.Request().Context()
	record, err := h.Verifications.GetAdminCode(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "no verification request found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	if !utils.VerifyCode(record.CodeHash, body.Code) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid code"})
	}
	if time.Now().UTC().After(record.ExpiresAt) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "code expired"})
	}

	user, err := h.Users.FindOrCreate(ctx, email, strings.SplitN(email, "@", 2)[0])
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to create user"})
	}
	if err := h.Users.SetAdmin(ctx, user.ID); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to promote user"})
	}
	if err := h.Verifications.DeleteAdminCode(ctx, email); err != nil {
		log.Printf("admin-confirm: delete code failed email=%s err=%v", email, err)
	}

	token, err := utils.NewAccessToken(h.Cfg.JWTSecret, email, "ADMIN", h.Cfg.AdminTTLMin)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to issue token"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"message": "admin confirmed",
		"user":    echo.Map{"id": user.ID, "email": user.Email, "isAdmin": true},
		"token":   token.Token,
		"expires": token.Exp.Format(time.RFC3339),
	})
}

func (h *AdminHandler) allowed(email string) bool {
	for _, e := range h.Cfg.AdminEmails {
		if e == email {
			return true
		}
	}
	return false
}
