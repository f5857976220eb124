package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-registration/internal/config"
	"github.com/iliyamo/event-registration/internal/model"
	"github.com/iliyamo/event-registration/internal/payment"
	"github.com/iliyamo/event-registration/internal/queue"
	"github.com/iliyamo/event-registration/internal/repository"
)

// world is shared in-memory state for the store doubles.  One mutex
// guards everything so Finalize behaves like the real transaction:
// the status check, the seat decrement and the close are atomic.
type world struct {
	mu       sync.Mutex
	users    map[string]*model.User
	sessions map[uint64]*model.Session
	regs     map[uint64]*model.Registration
	nextReg  uint64
}

func newWorld() *world {
	return &world{
		users:    make(map[string]*model.User),
		sessions: make(map[uint64]*model.Session),
		regs:     make(map[uint64]*model.Registration),
		nextReg:  1,
	}
}

type regStore struct{ w *world }

func (s *regStore) FindOrCreatePending(ctx context.Context, userID, sessionID uint64) (*model.Registration, error) {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	for _, r := range s.w.regs {
		if r.UserID == userID && r.SessionID == sessionID {
			cp := *r
			return &cp, nil
		}
	}
	r := &model.Registration{
		ID:            s.w.nextReg,
		UserID:        userID,
		SessionID:     sessionID,
		PaymentStatus: model.StatusPending,
		Amount:        "0.00",
		CreatedAt:     time.Now(),
	}
	s.w.nextReg++
	s.w.regs[r.ID] = r
	cp := *r
	return &cp, nil
}

// UpdatePendingAmount mirrors the repository's guarded UPDATE: a
// missing or already-finalized row is a silent zero-row update, not
// an error.
func (s *regStore) UpdatePendingAmount(ctx context.Context, id uint64, amount string) error {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	if r, ok := s.w.regs[id]; ok && r.PaymentStatus == model.StatusPending {
		r.Amount = amount
	}
	return nil
}

func (s *regStore) GetByID(ctx context.Context, id uint64) (*model.Registration, error) {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	r, ok := s.w.regs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *regStore) Finalize(ctx context.Context, id uint64, transactionID, amount string) (*model.RegistrationDetail, error) {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	r, ok := s.w.regs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if r.PaymentStatus == model.StatusPaid {
		d := s.detailLocked(r)
		return d, repository.ErrAlreadyFinalized
	}
	now := time.Now().UTC()
	r.PaymentStatus = model.StatusPaid
	r.TransactionID = &transactionID
	r.Amount = amount
	r.PaidAt = &now

	sess := s.w.sessions[r.SessionID]
	if sess.Seats > 0 {
		sess.Seats--
	}
	if sess.Seats <= 0 {
		sess.IsOpen = false
	}
	return s.detailLocked(r), nil
}

func (s *regStore) MarkEmailSent(ctx context.Context, id uint64) (bool, error) {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	r, ok := s.w.regs[id]
	if !ok || r.IsEmailSent {
		return false, nil
	}
	r.IsEmailSent = true
	return true, nil
}

func (s *regStore) detailLocked(r *model.Registration) *model.RegistrationDetail {
	d := &model.RegistrationDetail{Registration: *r}
	if sess, ok := s.w.sessions[r.SessionID]; ok {
		d.Session = *sess
	}
	for _, u := range s.w.users {
		if u.ID == r.UserID {
			d.User = *u
		}
	}
	return d
}

type userStore struct{ w *world }

func (s *userStore) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	u, ok := s.w.users[email]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

type sessStore struct{ w *world }

func (s *sessStore) GetByID(ctx context.Context, id uint64) (*model.Session, error) {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	sess, ok := s.w.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

type fakeProvider struct {
	mu           sync.Mutex
	lastCheckout payment.CheckoutRequest
	checkoutResp *payment.CheckoutResponse
	checkoutErr  error
	verifyResp   *payment.VerifyResponse
	verifyErr    error
}

func (f *fakeProvider) CreateCheckout(ctx context.Context, req payment.CheckoutRequest) (*payment.CheckoutResponse, error) {
	f.mu.Lock()
	f.lastCheckout = req
	f.mu.Unlock()
	if f.checkoutErr != nil {
		return nil, f.checkoutErr
	}
	return f.checkoutResp, nil
}

func (f *fakeProvider) VerifyPayment(ctx context.Context, invoiceID string) (*payment.VerifyResponse, error) {
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	return f.verifyResp, nil
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []uint64
	fail bool
}

func (m *fakeMailer) SendConfirmation(d *model.RegistrationDetail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return fmt.Errorf("smtp unavailable")
	}
	m.sent = append(m.sent, d.Registration.ID)
	return nil
}

type eventLog struct {
	mu     sync.Mutex
	events []queue.RegistrationPaidEvent
}

func (l *eventLog) publish(ctx context.Context, ev queue.RegistrationPaidEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return nil
}

func (l *eventLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

type fixture struct {
	h        *PaymentHandler
	w        *world
	provider *fakeProvider
	mail     *fakeMailer
	events   *eventLog
}

func newFixture(cfg config.Config) *fixture {
	w := newWorld()
	w.users["alice@example.com"] = &model.User{ID: 1, Email: "alice@example.com", Name: "Alice"}
	w.sessions[1] = &model.Session{
		ID: 1, Name: "Intro to Raft", RegistrationFee: "100.00",
		Seats: 5, IsOpen: true, Platform: "Zoom", Slug: "intro-to-raft",
	}
	provider := &fakeProvider{
		checkoutResp: &payment.CheckoutResponse{PaymentURL: "https://pay.example/abc"},
	}
	mail := &fakeMailer{}
	events := &eventLog{}
	h := NewPaymentHandler(cfg, provider, &regStore{w: w}, &userStore{w: w}, &sessStore{w: w}, mail, events.publish)
	return &fixture{h: h, w: w, provider: provider, mail: mail, events: events}
}

func testConfig() config.Config {
	return config.Config{
		Env:            "dev",
		ProviderAPIKey: "key-123",
		ClientBaseURL:  "https://events.example",
		ServerBaseURL:  "https://api.events.example",
	}
}

func request(method, target, body string, hdr map[string]string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return m
}

// pending creates a pending registration for user 1 on session 1 with
// the checkout amount already recorded, mirroring a completed
// create-checkout call.
func pending(t *testing.T, f *fixture) uint64 {
	t.Helper()
	reg, err := (&regStore{w: f.w}).FindOrCreatePending(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("seed registration: %v", err)
	}
	if err := (&regStore{w: f.w}).UpdatePendingAmount(context.Background(), reg.ID, "100.00"); err != nil {
		t.Fatalf("seed amount: %v", err)
	}
	return reg.ID
}

func TestCreateCheckout(t *testing.T) {
	f := newFixture(testConfig())

	c, rec := request(http.MethodPost, "/api/payments/create-checkout",
		`{"sessionId":1,"email":"alice@example.com"}`, nil)
	if err := f.h.CreateCheckout(c); err != nil {
		t.Fatalf("CreateCheckout: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["payment_url"] != "https://pay.example/abc" {
		t.Errorf("payment_url = %v", body["payment_url"])
	}

	req := f.provider.lastCheckout
	if req.Amount != "100.00" {
		t.Errorf("provider amount = %q, want 100.00", req.Amount)
	}
	if req.Metadata.OrderID != "reg_1" {
		t.Errorf("order id = %q, want reg_1", req.Metadata.OrderID)
	}
	if req.WebhookURL != "https://api.events.example/api/payments/webhook" {
		t.Errorf("webhook url = %q", req.WebhookURL)
	}
	if req.Email != "alice@example.com" || req.FullName != "Alice" {
		t.Errorf("payer = %q/%q", req.FullName, req.Email)
	}

	// The provisional amount lands on the pending row.
	if got := f.w.regs[1].Amount; got != "100.00" {
		t.Errorf("pending amount = %q, want 100.00", got)
	}
	if got := f.w.regs[1].PaymentStatus; got != model.StatusPending {
		t.Errorf("status = %q, want pending", got)
	}

	// A repeat call reuses the same registration instead of creating
	// a second row.
	c, rec = request(http.MethodPost, "/api/payments/create-checkout",
		`{"sessionId":1,"email":"alice@example.com"}`, nil)
	if err := f.h.CreateCheckout(c); err != nil {
		t.Fatalf("repeat CreateCheckout: %v", err)
	}
	body = decodeBody(t, rec)
	if id, _ := body["registrationId"].(float64); uint64(id) != 1 {
		t.Errorf("repeat registrationId = %v, want 1", body["registrationId"])
	}
	if len(f.w.regs) != 1 {
		t.Errorf("registrations = %d, want 1", len(f.w.regs))
	}
}

func TestCreateCheckoutValidation(t *testing.T) {
	f := newFixture(testConfig())

	cases := []struct {
		name string
		body string
		want int
	}{
		{"missing fields", `{}`, http.StatusBadRequest},
		{"unknown session", `{"sessionId":99,"email":"alice@example.com"}`, http.StatusNotFound},
		{"unknown user", `{"sessionId":1,"email":"nobody@example.com"}`, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, rec := request(http.MethodPost, "/api/payments/create-checkout", tc.body, nil)
			if err := f.h.CreateCheckout(c); err != nil {
				t.Fatalf("CreateCheckout: %v", err)
			}
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestCreateCheckoutProviderErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"missing api key", payment.ErrMissingAPIKey, http.StatusInternalServerError},
		{"no payment url", payment.ErrNoPaymentURL, http.StatusBadGateway},
		{"upstream failure", fmt.Errorf("connect: refused"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(testConfig())
			f.provider.checkoutErr = tc.err

			c, rec := request(http.MethodPost, "/api/payments/create-checkout",
				`{"sessionId":1,"email":"alice@example.com"}`, nil)
			if err := f.h.CreateCheckout(c); err != nil {
				t.Fatalf("CreateCheckout: %v", err)
			}
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
			// A failed checkout must not record a provisional amount.
			if got := f.w.regs[1].Amount; got != "0.00" {
				t.Errorf("amount after failure = %q, want 0.00", got)
			}
		})
	}
}

func TestVerifyPaymentCompleted(t *testing.T) {
	f := newFixture(testConfig())
	regID := pending(t, f)

	f.provider.verifyResp = &payment.VerifyResponse{
		Status:           "COMPLETED",
		TransactionID:    "TXN-1",
		RawChargedAmount: json.RawMessage(`"99.5"`),
	}

	c, rec := request(http.MethodPost, "/api/payments/verify",
		fmt.Sprintf(`{"invoice_id":"INV-1","registrationId":%d}`, regID), nil)
	if err := f.h.VerifyPayment(c); err != nil {
		t.Fatalf("VerifyPayment: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	reg := f.w.regs[regID]
	if reg.PaymentStatus != model.StatusPaid {
		t.Errorf("status = %q, want paid", reg.PaymentStatus)
	}
	if reg.TransactionID == nil || *reg.TransactionID != "TXN-1" {
		t.Errorf("transaction id = %v, want TXN-1", reg.TransactionID)
	}
	if reg.Amount != "99.50" {
		t.Errorf("amount = %q, want canonical 99.50", reg.Amount)
	}
	if reg.PaidAt == nil {
		t.Error("paid_at not set")
	}
	if f.w.sessions[1].Seats != 4 {
		t.Errorf("seats = %d, want 4", f.w.sessions[1].Seats)
	}
	if len(f.mail.sent) != 1 || !f.w.regs[regID].IsEmailSent {
		t.Errorf("confirmation mail sent=%v flag=%v", f.mail.sent, f.w.regs[regID].IsEmailSent)
	}
	if f.events.count() != 1 {
		t.Errorf("paid events = %d, want 1", f.events.count())
	}
}

func TestVerifyPaymentStatusVariants(t *testing.T) {
	// Status comparison is case-insensitive; only COMPLETED finalizes.
	cases := []struct {
		status string
		paid   bool
	}{
		{"COMPLETED", true},
		{"completed", true},
		{"Completed", true},
		{"PENDING", false},
		{"FAILED", false},
		{"", false},
	}
	for _, tc := range cases {
		t.Run("status "+tc.status, func(t *testing.T) {
			f := newFixture(testConfig())
			regID := pending(t, f)
			f.provider.verifyResp = &payment.VerifyResponse{Status: tc.status, TransactionID: "TXN-1"}

			c, rec := request(http.MethodPost, "/api/payments/verify",
				fmt.Sprintf(`{"invoice_id":"INV-1","registrationId":%d}`, regID), nil)
			if err := f.h.VerifyPayment(c); err != nil {
				t.Fatalf("VerifyPayment: %v", err)
			}
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			gotPaid := f.w.regs[regID].PaymentStatus == model.StatusPaid
			if gotPaid != tc.paid {
				t.Errorf("paid = %v, want %v", gotPaid, tc.paid)
			}
			if !tc.paid && f.w.sessions[1].Seats != 5 {
				t.Errorf("seats mutated on non-completed status")
			}
		})
	}
}

func TestVerifyPaymentRegistrationFromMetadata(t *testing.T) {
	f := newFixture(testConfig())
	regID := pending(t, f)

	f.provider.verifyResp = &payment.VerifyResponse{
		Status:        "COMPLETED",
		TransactionID: "TXN-META",
		Metadata: payment.MetadataFields{
			"registrationId": json.RawMessage(fmt.Sprintf(`"%d"`, regID)),
		},
	}

	// No registrationId in the request body; it must come from the
	// provider's metadata echo.
	c, rec := request(http.MethodPost, "/api/payments/verify", `{"invoice_id":"INV-1"}`, nil)
	if err := f.h.VerifyPayment(c); err != nil {
		t.Fatalf("VerifyPayment: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if f.w.regs[regID].PaymentStatus != model.StatusPaid {
		t.Error("registration not finalized from metadata id")
	}

	// Without body id or metadata the verifier cannot proceed.
	f2 := newFixture(testConfig())
	pending(t, f2)
	f2.provider.verifyResp = &payment.VerifyResponse{Status: "COMPLETED", TransactionID: "TXN-X"}
	c, rec = request(http.MethodPost, "/api/payments/verify", `{"invoice_id":"INV-2"}`, nil)
	if err := f2.h.VerifyPayment(c); err != nil {
		t.Fatalf("VerifyPayment: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestVerifyPaymentFallbacks(t *testing.T) {
	f := newFixture(testConfig())
	regID := pending(t, f)

	// No transaction id and no charged amount in the verify response:
	// the invoice id and the stored checkout amount are used instead.
	f.provider.verifyResp = &payment.VerifyResponse{Status: "COMPLETED"}

	c, rec := request(http.MethodPost, "/api/payments/verify",
		fmt.Sprintf(`{"invoice_id":"INV-FALL","registrationId":%d}`, regID), nil)
	if err := f.h.VerifyPayment(c); err != nil {
		t.Fatalf("VerifyPayment: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	reg := f.w.regs[regID]
	if reg.TransactionID == nil || *reg.TransactionID != "INV-FALL" {
		t.Errorf("transaction id = %v, want invoice fallback", reg.TransactionID)
	}
	if reg.Amount != "100.00" {
		t.Errorf("amount = %q, want stored 100.00", reg.Amount)
	}
}

func TestVerifyPaymentIdempotent(t *testing.T) {
	f := newFixture(testConfig())
	regID := pending(t, f)
	f.provider.verifyResp = &payment.VerifyResponse{Status: "COMPLETED", TransactionID: "TXN-1"}

	body := fmt.Sprintf(`{"invoice_id":"INV-1","registrationId":%d}`, regID)
	c, _ := request(http.MethodPost, "/api/payments/verify", body, nil)
	if err := f.h.VerifyPayment(c); err != nil {
		t.Fatalf("first verify: %v", err)
	}
	c, rec := request(http.MethodPost, "/api/payments/verify", body, nil)
	if err := f.h.VerifyPayment(c); err != nil {
		t.Fatalf("second verify: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("replay status = %d", rec.Code)
	}
	resp := decodeBody(t, rec)
	if resp["message"] != "Already verified" {
		t.Errorf("replay message = %v", resp["message"])
	}
	if f.w.sessions[1].Seats != 4 {
		t.Errorf("seats = %d, want single decrement", f.w.sessions[1].Seats)
	}
	if f.events.count() != 1 {
		t.Errorf("paid events = %d, want 1", f.events.count())
	}
}

func webhookBody(regID uint64) string {
	return fmt.Sprintf(`{"status":"COMPLETED","transaction_id":"TXN-W","charged_amount":"100.00","metadata":{"registrationId":"%d"}}`, regID)
}

func sign(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestWebhookAPIKeyAuth(t *testing.T) {
	f := newFixture(testConfig())
	regID := pending(t, f)

	c, rec := request(http.MethodPost, "/api/payments/webhook", webhookBody(regID),
		map[string]string{payment.APIKeyHeader: "key-123"})
	if err := f.h.HandleWebhook(c); err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	reg := f.w.regs[regID]
	if reg.PaymentStatus != model.StatusPaid {
		t.Error("registration not finalized")
	}
	if reg.TransactionID == nil || *reg.TransactionID != "TXN-W" {
		t.Errorf("transaction id = %v", reg.TransactionID)
	}
	if f.w.sessions[1].Seats != 4 {
		t.Errorf("seats = %d, want 4", f.w.sessions[1].Seats)
	}
}

func TestWebhookSignatureAuth(t *testing.T) {
	cfg := testConfig()
	cfg.WebhookSecret = "whsec"

	t.Run("valid signature", func(t *testing.T) {
		f := newFixture(cfg)
		regID := pending(t, f)
		body := webhookBody(regID)
		c, rec := request(http.MethodPost, "/api/payments/webhook", body,
			map[string]string{"x-uddoktapay-signature": sign("whsec", body)})
		if err := f.h.HandleWebhook(c); err != nil {
			t.Fatalf("HandleWebhook: %v", err)
		}
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
		}
		if f.w.regs[regID].PaymentStatus != model.StatusPaid {
			t.Error("registration not finalized")
		}
	})

	t.Run("tampered body", func(t *testing.T) {
		f := newFixture(cfg)
		regID := pending(t, f)
		body := webhookBody(regID)
		tampered := strings.Replace(body, "100.00", "1.00", 1)
		c, rec := request(http.MethodPost, "/api/payments/webhook", tampered,
			map[string]string{"x-signature": sign("whsec", body)})
		if err := f.h.HandleWebhook(c); err != nil {
			t.Fatalf("HandleWebhook: %v", err)
		}
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
		if f.w.regs[regID].PaymentStatus != model.StatusPending {
			t.Error("tampered webhook mutated state")
		}
	})

	t.Run("missing signature", func(t *testing.T) {
		f := newFixture(cfg)
		regID := pending(t, f)
		c, rec := request(http.MethodPost, "/api/payments/webhook", webhookBody(regID), nil)
		if err := f.h.HandleWebhook(c); err != nil {
			t.Fatalf("HandleWebhook: %v", err)
		}
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("api key still wins", func(t *testing.T) {
		// A matching API key authenticates even when a secret is set
		// and no signature is present.
		f := newFixture(cfg)
		regID := pending(t, f)
		c, rec := request(http.MethodPost, "/api/payments/webhook", webhookBody(regID),
			map[string]string{payment.APIKeyHeader: "key-123"})
		if err := f.h.HandleWebhook(c); err != nil {
			t.Fatalf("HandleWebhook: %v", err)
		}
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})
}

func TestWebhookUnauthenticated(t *testing.T) {
	t.Run("production rejects", func(t *testing.T) {
		cfg := testConfig()
		cfg.Env = "production"
		f := newFixture(cfg)
		regID := pending(t, f)
		c, rec := request(http.MethodPost, "/api/payments/webhook", webhookBody(regID),
			map[string]string{payment.APIKeyHeader: "wrong-key"})
		if err := f.h.HandleWebhook(c); err != nil {
			t.Fatalf("HandleWebhook: %v", err)
		}
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
		if f.w.regs[regID].PaymentStatus != model.StatusPending {
			t.Error("unauthenticated webhook mutated state")
		}
	})

	t.Run("dev accepts with warning", func(t *testing.T) {
		f := newFixture(testConfig())
		regID := pending(t, f)
		c, rec := request(http.MethodPost, "/api/payments/webhook", webhookBody(regID), nil)
		if err := f.h.HandleWebhook(c); err != nil {
			t.Fatalf("HandleWebhook: %v", err)
		}
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
		if f.w.regs[regID].PaymentStatus != model.StatusPaid {
			t.Error("dev-mode webhook did not finalize")
		}
	})
}

func TestWebhookValidation(t *testing.T) {
	auth := map[string]string{payment.APIKeyHeader: "key-123"}

	t.Run("malformed payload", func(t *testing.T) {
		f := newFixture(testConfig())
		c, rec := request(http.MethodPost, "/api/payments/webhook", `{"status":`, auth)
		if err := f.h.HandleWebhook(c); err != nil {
			t.Fatalf("HandleWebhook: %v", err)
		}
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("missing registration id", func(t *testing.T) {
		f := newFixture(testConfig())
		pending(t, f)
		c, rec := request(http.MethodPost, "/api/payments/webhook",
			`{"status":"COMPLETED","transaction_id":"TXN-W","metadata":{}}`, auth)
		if err := f.h.HandleWebhook(c); err != nil {
			t.Fatalf("HandleWebhook: %v", err)
		}
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("missing transaction id", func(t *testing.T) {
		f := newFixture(testConfig())
		regID := pending(t, f)
		c, rec := request(http.MethodPost, "/api/payments/webhook",
			fmt.Sprintf(`{"status":"COMPLETED","metadata":{"registrationId":"%d"}}`, regID), auth)
		if err := f.h.HandleWebhook(c); err != nil {
			t.Fatalf("HandleWebhook: %v", err)
		}
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
		if f.w.regs[regID].PaymentStatus != model.StatusPending {
			t.Error("registration finalized without a transaction id")
		}
	})

	t.Run("unknown registration", func(t *testing.T) {
		f := newFixture(testConfig())
		c, rec := request(http.MethodPost, "/api/payments/webhook", webhookBody(42), auth)
		if err := f.h.HandleWebhook(c); err != nil {
			t.Fatalf("HandleWebhook: %v", err)
		}
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("not completed acknowledged", func(t *testing.T) {
		f := newFixture(testConfig())
		regID := pending(t, f)
		c, rec := request(http.MethodPost, "/api/payments/webhook",
			fmt.Sprintf(`{"status":"PENDING","metadata":{"registrationId":"%d"}}`, regID), auth)
		if err := f.h.HandleWebhook(c); err != nil {
			t.Fatalf("HandleWebhook: %v", err)
		}
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200 ack", rec.Code)
		}
		resp := decodeBody(t, rec)
		if resp["received"] != true {
			t.Errorf("body = %v, want received:true", resp)
		}
		if f.w.regs[regID].PaymentStatus != model.StatusPending {
			t.Error("non-completed webhook mutated state")
		}
	})
}

func TestWebhookReplay(t *testing.T) {
	f := newFixture(testConfig())
	regID := pending(t, f)
	auth := map[string]string{payment.APIKeyHeader: "key-123"}
	body := webhookBody(regID)

	c, _ := request(http.MethodPost, "/api/payments/webhook", body, auth)
	if err := f.h.HandleWebhook(c); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	c, rec := request(http.MethodPost, "/api/payments/webhook", body, auth)
	if err := f.h.HandleWebhook(c); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("replay status = %d, want 200", rec.Code)
	}
	resp := decodeBody(t, rec)
	if resp["message"] != "Already processed" {
		t.Errorf("replay message = %v", resp["message"])
	}

	if f.w.sessions[1].Seats != 4 {
		t.Errorf("seats = %d, want single decrement", f.w.sessions[1].Seats)
	}
	if len(f.mail.sent) != 1 {
		t.Errorf("confirmation mails = %d, want 1", len(f.mail.sent))
	}
	if f.events.count() != 1 {
		t.Errorf("paid events = %d, want 1", f.events.count())
	}
}

func TestWebhookMailFailureStillAcknowledged(t *testing.T) {
	f := newFixture(testConfig())
	regID := pending(t, f)
	f.mail.fail = true

	c, rec := request(http.MethodPost, "/api/payments/webhook", webhookBody(regID),
		map[string]string{payment.APIKeyHeader: "key-123"})
	if err := f.h.HandleWebhook(c); err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 despite mail failure", rec.Code)
	}
	reg := f.w.regs[regID]
	if reg.PaymentStatus != model.StatusPaid {
		t.Error("payment not finalized")
	}
	// Failed delivery leaves the flag unset so a later process can
	// retry the email.
	if reg.IsEmailSent {
		t.Error("is_email_sent set despite delivery failure")
	}
}

func TestConcurrentFinalizeExhaustsSeats(t *testing.T) {
	f := newFixture(testConfig())
	f.w.sessions[1].Seats = 3

	const registrants = 8
	regIDs := make([]uint64, registrants)
	for i := 0; i < registrants; i++ {
		email := fmt.Sprintf("user%d@example.com", i)
		f.w.users[email] = &model.User{ID: uint64(10 + i), Email: email, Name: fmt.Sprintf("User %d", i)}
		reg, err := (&regStore{w: f.w}).FindOrCreatePending(context.Background(), uint64(10+i), 1)
		if err != nil {
			t.Fatalf("seed registration %d: %v", i, err)
		}
		regIDs[i] = reg.ID
	}

	var wg sync.WaitGroup
	for i, regID := range regIDs {
		wg.Add(1)
		go func(i int, regID uint64) {
			defer wg.Done()
			body := fmt.Sprintf(`{"status":"COMPLETED","transaction_id":"TXN-%d","metadata":{"registrationId":"%d"}}`, i, regID)
			c, _ := request(http.MethodPost, "/api/payments/webhook", body,
				map[string]string{payment.APIKeyHeader: "key-123"})
			if err := f.h.HandleWebhook(c); err != nil {
				t.Errorf("webhook %d: %v", i, err)
			}
		}(i, regID)
	}
	wg.Wait()

	sess := f.w.sessions[1]
	if sess.Seats != 0 {
		t.Errorf("seats = %d, want exactly 0", sess.Seats)
	}
	if sess.IsOpen {
		t.Error("session still open after seat exhaustion")
	}
	// Every completed payment is honored even after seats run out;
	// the counter just never goes negative.
	for _, regID := range regIDs {
		if f.w.regs[regID].PaymentStatus != model.StatusPaid {
			t.Errorf("registration %d not paid", regID)
		}
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(testConfig())
	regID := pending(t, f)

	c, rec := request(http.MethodGet, fmt.Sprintf("/api/payments/status?registrationId=%d", regID), "", nil)
	if err := f.h.Status(c); err != nil {
		t.Fatalf("Status: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeBody(t, rec)
	if resp["paymentStatus"] != model.StatusPending {
		t.Errorf("paymentStatus = %v, want pending", resp["paymentStatus"])
	}

	c, rec = request(http.MethodGet, "/api/payments/status", "", nil)
	if err := f.h.Status(c); err != nil {
		t.Fatalf("Status: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing param status = %d, want 400", rec.Code)
	}

	c, rec = request(http.MethodGet, "/api/payments/status?registrationId=999", "", nil)
	if err := f.h.Status(c); err != nil {
		t.Fatalf("Status: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown id status = %d, want 404", rec.Code)
	}
}

func TestCheckoutThenWebhookLifecycle(t *testing.T) {
	f := newFixture(testConfig())

	c, rec := request(http.MethodPost, "/api/payments/create-checkout",
		`{"sessionId":1,"email":"alice@example.com"}`, nil)
	if err := f.h.CreateCheckout(c); err != nil {
		t.Fatalf("CreateCheckout: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("checkout status = %d: %s", rec.Code, rec.Body.String())
	}
	regID := uint64(decodeBody(t, rec)["registrationId"].(float64))
	if got := f.w.regs[regID]; got.PaymentStatus != model.StatusPending || got.Amount != "100.00" {
		t.Fatalf("after checkout: status=%q amount=%q", got.PaymentStatus, got.Amount)
	}

	c, rec = request(http.MethodPost, "/api/payments/webhook", webhookBody(regID),
		map[string]string{payment.APIKeyHeader: "key-123"})
	if err := f.h.HandleWebhook(c); err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("webhook status = %d: %s", rec.Code, rec.Body.String())
	}

	reg := f.w.regs[regID]
	if reg.PaymentStatus != model.StatusPaid || reg.Amount != "100.00" {
		t.Errorf("after webhook: status=%q amount=%q", reg.PaymentStatus, reg.Amount)
	}
	if reg.TransactionID == nil || *reg.TransactionID != "TXN-W" {
		t.Errorf("transaction id = %v", reg.TransactionID)
	}
	if f.w.sessions[1].Seats != 4 || !f.w.sessions[1].IsOpen {
		t.Errorf("session seats=%d open=%v", f.w.sessions[1].Seats, f.w.sessions[1].IsOpen)
	}

	// Client polls the status endpoint and sees the terminal state.
	c, rec = request(http.MethodGet, fmt.Sprintf("/api/payments/status?registrationId=%d", regID), "", nil)
	if err := f.h.Status(c); err != nil {
		t.Fatalf("Status: %v", err)
	}
	resp := decodeBody(t, rec)
	if resp["paymentStatus"] != model.StatusPaid {
		t.Errorf("polled status = %v, want paid", resp["paymentStatus"])
	}
}

func TestCheckoutAfterFinalizeKeepsPaid(t *testing.T) {
	f := newFixture(testConfig())
	auth := map[string]string{payment.APIKeyHeader: "key-123"}

	c, rec := request(http.MethodPost, "/api/payments/create-checkout",
		`{"sessionId":1,"email":"alice@example.com"}`, nil)
	if err := f.h.CreateCheckout(c); err != nil {
		t.Fatalf("CreateCheckout: %v", err)
	}
	regID := uint64(decodeBody(t, rec)["registrationId"].(float64))

	// Webhook finalizes with a charged amount that differs from the
	// quoted fee, so a later overwrite would be visible.
	body := fmt.Sprintf(`{"status":"COMPLETED","transaction_id":"TXN-W","charged_amount":"95.00","metadata":{"registrationId":"%d"}}`, regID)
	c, rec = request(http.MethodPost, "/api/payments/webhook", body, auth)
	if err := f.h.HandleWebhook(c); err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("webhook status = %d: %s", rec.Code, rec.Body.String())
	}

	// A stale or duplicated checkout call lands after finalization.
	// Paid is terminal: the registration must keep its status and the
	// finalized amount.
	c, rec = request(http.MethodPost, "/api/payments/create-checkout",
		`{"sessionId":1,"email":"alice@example.com"}`, nil)
	if err := f.h.CreateCheckout(c); err != nil {
		t.Fatalf("repeat CreateCheckout: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("repeat checkout status = %d", rec.Code)
	}
	reg := f.w.regs[regID]
	if reg.PaymentStatus != model.StatusPaid {
		t.Fatalf("status = %q after late checkout, want paid", reg.PaymentStatus)
	}
	if reg.Amount != "95.00" {
		t.Errorf("amount = %q after late checkout, want finalized 95.00", reg.Amount)
	}

	// The provider's webhook retry must still hit the idempotency
	// guard and never consume a second seat.
	c, rec = request(http.MethodPost, "/api/payments/webhook", body, auth)
	if err := f.h.HandleWebhook(c); err != nil {
		t.Fatalf("webhook retry: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("retry status = %d", rec.Code)
	}
	if msg := decodeBody(t, rec)["message"]; msg != "Already processed" {
		t.Errorf("retry message = %v", msg)
	}
	if f.w.sessions[1].Seats != 4 {
		t.Errorf("seats = %d, want 4 (one decrement for one registration)", f.w.sessions[1].Seats)
	}
	if f.events.count() != 1 {
		t.Errorf("paid events = %d, want 1", f.events.count())
	}
}
