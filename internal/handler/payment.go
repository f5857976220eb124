package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-registration/internal/config"
	"github.com/iliyamo/event-registration/internal/model"
	"github.com/iliyamo/event-registration/internal/payment"
	"github.com/iliyamo/event-registration/internal/queue"
	"github.com/iliyamo/event-registration/internal/repository"
	"github.com/iliyamo/event-registration/internal/utils"
)

// ProviderClient is the outbound surface of the payment gateway.
// *payment.Client implements it; tests substitute a double.
type ProviderClient interface {
	CreateCheckout(ctx context.Context, req payment.CheckoutRequest) (*payment.CheckoutResponse, error)
	VerifyPayment(ctx context.Context, invoiceID string) (*payment.VerifyResponse, error)
}

// RegistrationStore is the persistence contract the payment flow
// needs.  *repository.RegistrationRepo implements it; injecting the
// interface instead of a process-wide handle keeps the handler
// testable with in-memory doubles.
type RegistrationStore interface {
	FindOrCreatePending(ctx context.Context, userID, sessionID uint64) (*model.Registration, error)
	UpdatePendingAmount(ctx context.Context, id uint64, amount string) error
	GetByID(ctx context.Context, id uint64) (*model.Registration, error)
	Finalize(ctx context.Context, id uint64, transactionID, amount string) (*model.RegistrationDetail, error)
	MarkEmailSent(ctx context.Context, id uint64) (bool, error)
}

// UserStore resolves users by email for checkout creation.
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*model.User, error)
}

// SessionStore resolves sessions for checkout creation.
type SessionStore interface {
	GetByID(ctx context.Context, id uint64) (*model.Session, error)
}

// Notifier delivers the confirmation email for a finalized
// registration.  Failures are non-fatal to the payment flow.
type Notifier interface {
	SendConfirmation(d *model.RegistrationDetail) error
}

// PaidPublisher publishes the registration.paid event; failures are
// logged by the publisher and ignored here.
type PaidPublisher func(ctx context.Context, ev queue.RegistrationPaidEvent) error

// PaymentHandler wires the checkout initiator, payment verifier and
// webhook ingestor.  All state transitions funnel through
// RegistrationStore.Finalize so the idempotency and seat-inventory
// invariants live in exactly one place.
type PaymentHandler struct {
	Cfg           config.Config
	Provider      ProviderClient
	Registrations RegistrationStore
	Users         UserStore
	Sessions      SessionStore
	Mail          Notifier
	PublishPaid   PaidPublisher
}

// NewPaymentHandler constructs a PaymentHandler.
func NewPaymentHandler(cfg config.Config, provider ProviderClient, regs RegistrationStore, users UserStore, sessions SessionStore, mail Notifier, publish PaidPublisher) *PaymentHandler {
	if provider == nil || regs == nil || users == nil || sessions == nil {
		panic("nil dependency passed to NewPaymentHandler")
	}
	return &PaymentHandler{
		Cfg:           cfg,
		Provider:      provider,
		Registrations: regs,
		Users:         users,
		Sessions:      sessions,
		Mail:          mail,
		PublishPaid:   publish,
	}
}

// CreateCheckout handles POST /api/payments/create-checkout.  It
// finds or creates the pending registration for the (user, session)
// pair, asks the provider for a checkout URL and persists the
// provisional amount.  Repeated calls for the same pair reuse the
// existing pending row.
func (h *PaymentHandler) CreateCheckout(c echo.Context) error {
	var body struct {
		SessionID uint64 `json:"sessionId"`
		Email     string `json:"email"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "invalid request body"})
	}
	if body.SessionID == 0 || body.Email == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "sessionId and email are required"})
	}

	ctx := c.Request().Context()
	session, err := h.Sessions.GetByID(ctx, body.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"success": false, "error": "session not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "database error"})
	}
	user, err := h.Users.GetByEmail(ctx, body.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"success": false, "error": "user not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "database error"})
	}

	reg, err := h.Registrations.FindOrCreatePending(ctx, user.ID, session.ID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "failed to prepare registration"})
	}

	amount := utils.ToDecimalString(session.RegistrationFee)
	orderID := fmt.Sprintf("reg_%d", reg.ID)
	req := payment.CheckoutRequest{
		FullName: user.Name,
		Email:    user.Email,
		Amount:   amount,
		Metadata: payment.CheckoutMetadata{
			UserID:         strconv.FormatUint(user.ID, 10),
			RegistrationID: strconv.FormatUint(reg.ID, 10),
			SessionID:      strconv.FormatUint(session.ID, 10),
			OrderID:        orderID,
		},
		RedirectURL: fmt.Sprintf("%s/payment/success?registrationId=%d&merchant_order_id=%s", h.Cfg.ClientBaseURL, reg.ID, orderID),
		CancelURL:   fmt.Sprintf("%s/payment/failed?registrationId=%d&merchant_order_id=%s", h.Cfg.ClientBaseURL, reg.ID, orderID),
		WebhookURL:  h.Cfg.ServerBaseURL + "/api/payments/webhook",
	}

	resp, err := h.Provider.CreateCheckout(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrMissingAPIKey):
			return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "payment provider API key not configured on server"})
		case errors.Is(err, payment.ErrNoPaymentURL):
			log.Printf("create-checkout: no payment_url from provider registration_id=%d", reg.ID)
			return c.JSON(http.StatusBadGateway, echo.Map{"success": false, "error": "no checkout URL received from payment provider"})
		default:
			log.Printf("create-checkout: provider call failed registration_id=%d err=%v", reg.ID, err)
			return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "failed to initiate checkout"})
		}
	}

	if err := h.Registrations.UpdatePendingAmount(ctx, reg.ID, amount); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "failed to record checkout amount"})
	}

	log.Printf("checkout created registration_id=%d session_id=%d amount=%s", reg.ID, session.ID, amount)
	return c.JSON(http.StatusOK, echo.Map{
		"success":        true,
		"payment_url":    resp.PaymentURL,
		"message":        messageOr(resp.Message, "Payment Url"),
		"registrationId": reg.ID,
	})
}

// VerifyPayment handles POST /api/payments/verify.  It polls the
// provider for the invoice and, on a COMPLETED status, finalizes the
// registration.  Anything other than COMPLETED mutates no state.
func (h *PaymentHandler) VerifyPayment(c echo.Context) error {
	var body struct {
		InvoiceID      string `json:"invoice_id"`
		RegistrationID uint64 `json:"registrationId"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "invalid request body"})
	}
	if body.InvoiceID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "invoice_id required for verification"})
	}

	ctx := c.Request().Context()
	verify, err := h.Provider.VerifyPayment(ctx, body.InvoiceID)
	if err != nil {
		if errors.Is(err, payment.ErrMissingAPIKey) {
			return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "payment provider API key not configured on server"})
		}
		log.Printf("verify-payment: provider call failed invoice_id=%s err=%v", body.InvoiceID, err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "payment verification failed"})
	}
	if !verify.Completed() {
		log.Printf("verify-payment: not completed invoice_id=%s status=%s", body.InvoiceID, verify.Status)
		return c.JSON(http.StatusOK, echo.Map{"success": false, "message": "Payment not completed"})
	}

	regID := body.RegistrationID
	if regID == 0 {
		if id, ok := verify.Metadata.RegistrationID(); ok {
			regID = id
		}
	}
	if regID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "cannot determine registration id"})
	}

	reg, err := h.Registrations.GetByID(ctx, regID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"success": false, "error": "registration not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "database error"})
	}

	transactionID := verify.TransactionID
	if transactionID == "" {
		transactionID = body.InvoiceID
	}
	amount := reg.Amount
	if raw, ok := verify.ChargedAmount(); ok {
		amount = utils.ToDecimalString(raw)
	}

	detail, err := h.finalize(ctx, regID, transactionID, amount)
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyFinalized) {
			return c.JSON(http.StatusOK, echo.Map{"success": true, "message": "Already verified"})
		}
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"success": false, "error": "registration not found"})
		}
		log.Printf("verify-payment: finalize failed registration_id=%d err=%v", regID, err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "payment verification failed"})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"message": "Payment verified and recorded",
		"registration": echo.Map{
			"id":            detail.Registration.ID,
			"paymentStatus": detail.Registration.PaymentStatus,
			"transactionId": detail.Registration.TransactionID,
			"amount":        detail.Registration.Amount,
		},
	})
}

// HandleWebhook handles POST /api/payments/webhook.  The body is
// consumed raw so signature verification and payload parsing operate
// on the identical byte stream.  Processed events, replays
// included, are always acknowledged with 200 so the provider does
// not retry; 4xx/5xx are reserved for auth, validation and
// processing failures.
func (h *PaymentHandler) HandleWebhook(c echo.Context) error {
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "unreadable body"})
	}

	if status, msg := h.authenticateWebhook(c.Request().Header, raw); status != 0 {
		return c.String(status, msg)
	}

	p, err := payment.ParseWebhook(raw)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "malformed webhook payload"})
	}

	regID, ok := p.RegistrationID()
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "registrationId missing in webhook payload"})
	}
	if !p.Completed() {
		// Legitimately non-completed notification: acknowledge so the
		// provider does not retry, and change nothing.
		return c.JSON(http.StatusOK, echo.Map{"received": true, "message": "Payment not completed"})
	}
	transactionID := p.TransactionID()
	if transactionID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "transaction id missing in webhook payload"})
	}

	ctx := c.Request().Context()
	reg, err := h.Registrations.GetByID(ctx, regID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"success": false, "error": "registration not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "database error"})
	}

	amount := reg.Amount
	if raw, ok := p.ChargedAmount(); ok {
		amount = utils.ToDecimalString(raw)
	}

	if _, err := h.finalize(ctx, regID, transactionID, amount); err != nil {
		if errors.Is(err, repository.ErrAlreadyFinalized) {
			log.Printf("webhook: already processed registration_id=%d txn=%s", regID, transactionID)
			return c.JSON(http.StatusOK, echo.Map{"success": true, "message": "Already processed"})
		}
		log.Printf("webhook: finalize failed registration_id=%d err=%v", regID, err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "webhook processing failed"})
	}

	return c.String(http.StatusOK, "Webhook received successfully")
}

// Status handles GET /api/payments/status?registrationId= for client
// polling.
func (h *PaymentHandler) Status(c echo.Context) error {
	id, err := strconv.ParseUint(c.QueryParam("registrationId"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "registrationId is required"})
	}
	reg, err := h.Registrations.GetByID(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "registration not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"registrationId": reg.ID,
		"paymentStatus":  reg.PaymentStatus,
		"transactionId":  reg.TransactionID,
		"amount":         reg.Amount,
	})
}

// authenticateWebhook applies the auth rules in priority order:
// matching API-key header, then HMAC signature when a secret is
// configured, then environment mode.  A zero status means the
// request is accepted.
func (h *PaymentHandler) authenticateWebhook(hdr http.Header, raw []byte) (int, string) {
	apiKey := hdr.Get(payment.APIKeyHeader)
	if apiKey == "" {
		apiKey = hdr.Get("RT-UDDOKTA-API-KEY")
	}
	if apiKey != "" && h.Cfg.ProviderAPIKey != "" && apiKey == h.Cfg.ProviderAPIKey {
		return 0, ""
	}

	if h.Cfg.WebhookSecret != "" {
		sig := payment.SignatureHeader(hdr)
		if sig == "" {
			log.Printf("webhook: signature header missing and api-key header not valid")
			return http.StatusUnauthorized, "Signature header required"
		}
		if !payment.ValidSignature(raw, h.Cfg.WebhookSecret, sig) {
			log.Printf("webhook: invalid signature")
			return http.StatusUnauthorized, "Invalid signature"
		}
		return 0, ""
	}

	if h.Cfg.IsProduction() {
		log.Printf("webhook: validation failed, no valid API key or signature")
		return http.StatusUnauthorized, "Unauthorized"
	}
	log.Printf("webhook: not validated, accepting in %s mode", h.Cfg.Env)
	return 0, ""
}

// finalize runs the shared finalize sequence and, on a first-time
// transition, sends the confirmation email and publishes the paid
// event.  Both follow-ups are non-fatal; the email-sent flag is only
// recorded after a successful delivery, through the conditional
// update.
func (h *PaymentHandler) finalize(ctx context.Context, regID uint64, transactionID, amount string) (*model.RegistrationDetail, error) {
	detail, err := h.Registrations.Finalize(ctx, regID, transactionID, amount)
	if err != nil {
		return detail, err
	}

	if h.Mail != nil {
		if mailErr := h.Mail.SendConfirmation(detail); mailErr != nil {
			log.Printf("confirmation email failed registration_id=%d err=%v", regID, mailErr)
		} else if _, markErr := h.Registrations.MarkEmailSent(ctx, regID); markErr != nil {
			log.Printf("mark email sent failed registration_id=%d err=%v", regID, markErr)
		}
	}

	if h.PublishPaid != nil {
		paidAt := time.Now().UTC()
		if detail.Registration.PaidAt != nil {
			paidAt = *detail.Registration.PaidAt
		}
		ev := queue.RegistrationPaidEvent{
			RegistrationID: detail.Registration.ID,
			UserID:         detail.User.ID,
			UserEmail:      detail.User.Email,
			SessionID:      detail.Session.ID,
			SessionName:    detail.Session.Name,
			TransactionID:  transactionID,
			Amount:         detail.Registration.Amount,
			SeatsLeft:      detail.Session.Seats,
			PaidAt:         paidAt.Format(time.RFC3339),
		}
		_ = h.PublishPaid(ctx, ev) // logged by the publisher
	}
	return detail, nil
}

func messageOr(msg, def string) string {
	if msg != "" {
		return msg
	}
	return def
}
