package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"testing"
)

func sign(raw []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(raw)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestValidSignature(t *testing.T) {
	raw := []byte(`{"status":"COMPLETED"}`)
	secret := "whsec"

	if !ValidSignature(raw, secret, sign(raw, secret)) {
		t.Fatal("valid signature rejected")
	}
	if ValidSignature(raw, secret, sign(raw, "other-secret")) {
		t.Fatal("signature from wrong secret accepted")
	}
	if ValidSignature(raw, secret, "") {
		t.Fatal("empty signature accepted")
	}
	if ValidSignature(raw, "", sign(raw, secret)) {
		t.Fatal("signature accepted without a configured secret")
	}
	// A single flipped byte in the body must invalidate the digest.
	tampered := append([]byte{}, raw...)
	tampered[2] ^= 0xff
	if ValidSignature(tampered, secret, sign(raw, secret)) {
		t.Fatal("signature accepted for tampered body")
	}
}

func TestSignatureHeader(t *testing.T) {
	h := http.Header{}
	if got := SignatureHeader(h); got != "" {
		t.Fatalf("expected empty signature, got %q", got)
	}
	h.Set("Signature", "fallback")
	h.Set("X-Uddoktapay-Signature", "primary")
	if got := SignatureHeader(h); got != "primary" {
		t.Fatalf("expected primary header to win, got %q", got)
	}
}

func TestWebhookTransactionIDAliases(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"canonical", `{"transaction_id":"T1"}`, "T1"},
		{"txn_id", `{"txn_id":"T2"}`, "T2"},
		{"payment_id", `{"payment_id":"T3"}`, "T3"},
		{"camel", `{"txnId":"T4"}`, "T4"},
		{"invoice fallback", `{"invoice_id":"INV9"}`, "INV9"},
		{"priority order", `{"invoice_id":"INV9","txn_id":"T2","transaction_id":"T1"}`, "T1"},
		{"skips empty alias", `{"transaction_id":"","txn_id":"T2"}`, "T2"},
		{"numeric id", `{"transaction_id":12345}`, "12345"},
		{"none", `{}`, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := ParseWebhook([]byte(tc.body))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if got := p.TransactionID(); got != tc.want {
				t.Fatalf("TransactionID() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestWebhookRegistrationID(t *testing.T) {
	cases := []struct {
		name string
		body string
		want uint64
		ok   bool
	}{
		{"camel string", `{"metadata":{"registrationId":"7"}}`, 7, true},
		{"camel number", `{"metadata":{"registrationId":7}}`, 7, true},
		{"snake", `{"metadata":{"registration_id":"8"}}`, 8, true},
		{"missing metadata", `{"status":"COMPLETED"}`, 0, false},
		{"zero id", `{"metadata":{"registrationId":0}}`, 0, false},
		{"garbage id", `{"metadata":{"registrationId":"abc"}}`, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := ParseWebhook([]byte(tc.body))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			got, ok := p.RegistrationID()
			if got != tc.want || ok != tc.ok {
				t.Fatalf("RegistrationID() = (%d, %v), want (%d, %v)", got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestWebhookStatusAndAmount(t *testing.T) {
	p, err := ParseWebhook([]byte(`{"event":"COMPLETED","charged_amount":"100.00","amount":"90.00"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !p.Completed() {
		t.Fatal("event field should satisfy Completed()")
	}
	v, ok := p.ChargedAmount()
	if !ok || v != "100.00" {
		t.Fatalf("ChargedAmount() = (%v, %v), want (100.00, true)", v, ok)
	}

	p, err = ParseWebhook([]byte(`{"status":"pending","amount":95.5}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.Completed() {
		t.Fatal("pending status should not satisfy Completed()")
	}
	v, ok = p.ChargedAmount()
	if !ok || v != 95.5 {
		t.Fatalf("ChargedAmount() = (%v, %v), want (95.5, true)", v, ok)
	}

	p, err = ParseWebhook([]byte(`{"status":"COMPLETED"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, ok = p.ChargedAmount(); ok {
		t.Fatal("absent amount fields should report ok=false")
	}
}

func TestParseWebhookRejectsMalformedJSON(t *testing.T) {
	if _, err := ParseWebhook([]byte(`{"status":`)); err == nil {
		t.Fatal("expected error for truncated JSON")
	}
}
