package handler

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-registration/internal/config"
	"github.com/iliyamo/event-registration/internal/mailer"
	"github.com/iliyamo/event-registration/internal/model"
	"github.com/iliyamo/event-registration/internal/repository"
	"github.com/iliyamo/event-registration/internal/utils"
)

// codeTTL is how long an emailed registration code stays valid.
const codeTTL = 10 * time.Minute

// VerificationHandler implements the email-code registration flow:
// request a code, then confirm it to create the user (if needed) and
// a pending registration.  Payment happens afterwards through the
// checkout endpoints.
type VerificationHandler struct {
	Cfg           config.Config
	Verifications *repository.VerificationRepo
	Sessions      *repository.SessionRepo
	Users         *repository.UserRepo
	Registrations *repository.RegistrationRepo
	Mail          *mailer.Mailer
}

func NewVerificationHandler(cfg config.Config, v *repository.VerificationRepo, s *repository.SessionRepo, u *repository.UserRepo, r *repository.RegistrationRepo, m *mailer.Mailer) *VerificationHandler {
	return &VerificationHandler{Cfg: cfg, Verifications: v, Sessions: s, Users: u, Registrations: r, Mail: m}
}

// SendCode handles POST /api/session/registration/send-code.  It
// generates a 6-digit code, stores its bcrypt hash (upserting any
// previous code for the email) and mails the plain code.
func (h *VerificationHandler) SendCode(c echo.Context) error {
	var body struct {
		Name      string `json:"name"`
		Email     string `json:"email"`
		SessionID uint64 `json:"sessionId"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.Name == "" || body.Email == "" || body.SessionID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name, email, and sessionId are required"})
	}

	ctx := c.Request().Context()
	session, err := h.Sessions.GetByID(ctx, body.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "session not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}

	code, err := utils.NewVerificationCode()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to generate code"})
	}
	hash, err := utils.HashCode(code, h.Cfg.BcryptCost)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to store code"})
	}
	expires := time.Now().UTC().Add(codeTTL)
	if err := h.Verifications.UpsertEmailCode(ctx, body.Email, body.Name, hash, session.ID, expires); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to store code"})
	}

	if err := h.Mail.SendVerificationCode(body.Email, body.Name, code, session.Name); err != nil {
		log.Printf("send-code: mail failed email=%s err=%v", body.Email, err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to send verification email"})
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "verification code sent"})
}

// VerifyAndRegister handles POST /api/session/registration/verify-and-register.
// A matching, unexpired code creates the user on first contact and a
// pending registration for the stored session.  A second registration
// attempt for the same (user, session) pair is rejected with 409.
func (h *VerificationHandler) VerifyAndRegister(c echo.Context) error {
	var body struct {
		Email string `json:"email"`
		Code  string `json:"code"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.Email == "" || body.Code == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email and code required"})
	}

	ctx := c.Request().Context()
	record, err := h.Verifications.GetEmailCode(ctx, body.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "no verification record found for this email"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	if !utils.VerifyCode(record.CodeHash, body.Code) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid verification code"})
	}
	if time.Now().UTC().After(record.ExpiresAt) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "verification code expired"})
	}

	user, err := h.Users.FindOrCreate(ctx, record.Email, record.Name)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to create user"})
	}

	reg, err := h.Registrations.Create(ctx, user.ID, record.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "you have already registered for this session"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to create registration"})
	}

	log.Printf("registration created registration_id=%d user_id=%d session_id=%d", reg.ID, user.ID, record.SessionID)
	return c.JSON(http.StatusOK, echo.Map{
		"success":        true,
		"message":        "email verified and registration successful",
		"registrationId": reg.ID,
		"paymentStatus":  model.StatusPending,
	})
}
