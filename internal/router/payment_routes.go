package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-registration/internal/handler"
)

// RegisterPayments registers the payment endpoints under /api/payments.
// These are unauthenticated: checkout and verify are driven by the client
// after email verification, and the webhook is called by the payment
// provider and authenticates itself via API key or HMAC signature inside
// the handler.  The rate limiter protects the provider-facing endpoints
// from abuse since they trigger outbound HTTP calls.
func RegisterPayments(e *echo.Echo, p *handler.PaymentHandler, limit echo.MiddlewareFunc) {
	g := e.Group("/api/payments", limit)
	g.POST("/create-checkout", p.CreateCheckout)
	g.POST("/verify", p.VerifyPayment)
	g.GET("/status", p.Status)

	// The webhook route deliberately bypasses the rate limiter: the
	// provider retries on non-2xx responses and throttling it would delay
	// payment finalization.
	e.POST("/api/payments/webhook", p.HandleWebhook)
}

// RegisterVerification registers the email verification flow that gates
// registration.  Both endpoints send or check one-time codes, so they sit
// behind the rate limiter to keep the mailer from being used as a spam
// relay.
func RegisterVerification(e *echo.Echo, v *handler.VerificationHandler, limit echo.MiddlewareFunc) {
	g := e.Group("/api/session/registration", limit)
	g.POST("/send-code", v.SendCode)
	g.POST("/verify-and-register", v.VerifyAndRegister)
}
