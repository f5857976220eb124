package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
)

// Header names the provider (or its proxies) may use for the HMAC
// signature, checked in order.
var signatureHeaderNames = []string{
	"X-Uddoktapay-Signature",
	"X-Uddokta-Signature",
	"X-Signature",
	"Signature",
}

// transactionIDKeys is the ordered alias list for the transaction
// reference across provider payload variants.  The first key with a
// non-empty value wins.
var transactionIDKeys = []string{
	"transaction_id",
	"txn_id",
	"payment_id",
	"txnId",
	"invoice_id",
}

// registrationIDKeys lists the metadata keys under which the
// registration reference may be echoed back.
var registrationIDKeys = []string{"registrationId", "registration_id"}

// SignatureHeader returns the first present signature header value,
// or the empty string when none is set.
func SignatureHeader(h http.Header) string {
	for _, name := range signatureHeaderNames {
		if v := h.Get(name); v != "" {
			return v
		}
	}
	return ""
}

// ValidSignature checks a hex-encoded HMAC-SHA256 signature computed
// over the exact raw request bytes.  The comparison is constant-time
// so response timing leaks nothing about the expected digest.
func ValidSignature(raw []byte, secret, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(raw)
	expected := hex.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// MetadataFields holds the provider-echoed metadata object without
// committing to value types: the sandbox sends strings, some live
// payloads send bare numbers.
type MetadataFields map[string]json.RawMessage

// RegistrationID extracts the registration reference from metadata,
// trying each known key alias.
func (m MetadataFields) RegistrationID() (uint64, bool) {
	for _, key := range registrationIDKeys {
		if raw, ok := m[key]; ok {
			if id, ok := rawToUint(raw); ok {
				return id, true
			}
		}
	}
	return 0, false
}

// WebhookPayload is a webhook body parsed from the captured raw
// bytes, so signature verification and field extraction operate on
// the identical byte stream.
type WebhookPayload struct {
	fields map[string]json.RawMessage
}

// ParseWebhook decodes a raw webhook body.  It fails only on
// malformed JSON; missing fields are reported by the accessors.
func ParseWebhook(raw []byte) (*WebhookPayload, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return &WebhookPayload{fields: fields}, nil
}

// Status returns the payload's status field, falling back to the
// event field for payload variants that use it.
func (p *WebhookPayload) Status() string {
	if s := rawToString(p.fields["status"]); s != "" {
		return s
	}
	return rawToString(p.fields["event"])
}

// Completed reports whether the payload signals a finalized payment.
func (p *WebhookPayload) Completed() bool {
	return strings.EqualFold(p.Status(), "COMPLETED")
}

// RegistrationID extracts metadata.registrationId (or its snake_case
// alias) as a numeric id.
func (p *WebhookPayload) RegistrationID() (uint64, bool) {
	raw, ok := p.fields["metadata"]
	if !ok {
		return 0, false
	}
	var meta MetadataFields
	if err := json.Unmarshal(raw, &meta); err != nil {
		return 0, false
	}
	return meta.RegistrationID()
}

// TransactionID resolves the transaction reference through the
// ordered alias list, returning the empty string when no alias is
// present.
func (p *WebhookPayload) TransactionID() string {
	for _, key := range transactionIDKeys {
		if s := rawToString(p.fields[key]); s != "" {
			return s
		}
	}
	return ""
}

// ChargedAmount returns the charged amount as an untyped scalar,
// preferring charged_amount over the generic amount field.  The
// second return is false when neither field is present; callers fall
// back to the amount already stored on the registration.
func (p *WebhookPayload) ChargedAmount() (interface{}, bool) {
	for _, key := range []string{"charged_amount", "amount"} {
		if raw, ok := p.fields[key]; ok {
			if v, ok := rawToScalar(raw); ok {
				return v, true
			}
		}
	}
	return nil, false
}

// ChargedAmount returns the verify response's charged amount as an
// untyped scalar, preferring charged_amount over the generic amount
// field, with the same fallback contract as the webhook variant.
func (v *VerifyResponse) ChargedAmount() (interface{}, bool) {
	for _, raw := range []json.RawMessage{v.RawChargedAmount, v.RawAmount} {
		if val, ok := rawToScalar(raw); ok {
			return val, true
		}
	}
	return nil, false
}

// rawToScalar decodes a JSON value into a Go string or float64.
func rawToScalar(raw json.RawMessage) (interface{}, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	switch v.(type) {
	case string, float64:
		return v, true
	}
	return nil, false
}

// rawToString renders a JSON string or number value as a string.
func rawToString(raw json.RawMessage) string {
	v, ok := rawToScalar(raw)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return ""
}

// rawToUint parses a JSON string or number value into a uint64 id.
func rawToUint(raw json.RawMessage) (uint64, bool) {
	s := rawToString(raw)
	if s == "" {
		return 0, false
	}
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}
