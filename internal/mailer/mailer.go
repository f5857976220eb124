// Package mailer sends verification and confirmation email over
// SMTP.  Delivery failures are reported to callers but are never
// fatal to the payment flow: a finalized registration stays
// finalized whether or not the confirmation email goes out.
package mailer

import (
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/iliyamo/event-registration/internal/model"
)

// Mailer delivers mail through a single SMTP relay.  When no host is
// configured the mailer is disabled and every send reports failure,
// which keeps is_email_sent false for a later resend.
type Mailer struct {
	host string
	port string
	user string
	pass string
	from string
}

// New returns a Mailer for the given relay settings.
func New(host, port, user, pass, from string) *Mailer {
	return &Mailer{host: host, port: port, user: user, pass: pass, from: from}
}

// Enabled reports whether a relay host is configured.
func (m *Mailer) Enabled() bool { return m.host != "" }

// SendConfirmation emails the registration confirmation with the
// session details and transaction reference.
func (m *Mailer) SendConfirmation(d *model.RegistrationDetail) error {
	txn := ""
	if d.Registration.TransactionID != nil {
		txn = *d.Registration.TransactionID
	}
	link := ""
	if d.Session.MeetingLink != nil {
		link = *d.Session.MeetingLink
	}
	name := d.User.Name
	if name == "" {
		name = "Participant"
	}
	body := fmt.Sprintf(
		"Hi %s,\r\n\r\n"+
			"Your registration for %q is confirmed.\r\n\r\n"+
			"Starts:         %s\r\n"+
			"Ends:           %s\r\n"+
			"Platform:       %s\r\n"+
			"Meeting link:   %s\r\n"+
			"Amount paid:    %s\r\n"+
			"Transaction id: %s\r\n",
		name, d.Session.Name,
		d.Session.StartTime.Format(time.RFC1123),
		d.Session.EndTime.Format(time.RFC1123),
		d.Session.Platform, link,
		d.Registration.Amount, txn)
	subject := "Registration confirmed: " + d.Session.Name
	return m.send(d.User.Email, subject, body)
}

// SendVerificationCode emails a registration verification code.
func (m *Mailer) SendVerificationCode(to, name, code, sessionName string) error {
	if name == "" {
		name = "there"
	}
	body := fmt.Sprintf(
		"Hi %s,\r\n\r\nYour verification code for %q is %s.\r\nIt expires in 10 minutes.\r\n",
		name, sessionName, code)
	return m.send(to, "Your verification code", body)
}

// SendAdminCode emails an admin-access code.
func (m *Mailer) SendAdminCode(to, code string) error {
	body := fmt.Sprintf(
		"Your admin access code is %s.\r\nIt expires in 15 minutes.\r\n", code)
	return m.send(to, "Admin access code", body)
}

func (m *Mailer) send(to, subject, body string) error {
	if !m.Enabled() {
		return fmt.Errorf("mailer disabled: no SMTP host configured")
	}
	msg := strings.Join([]string{
		"From: " + m.from,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"",
		body,
	}, "\r\n")

	addr := m.host + ":" + m.port
	var auth smtp.Auth
	if m.user != "" {
		auth = smtp.PlainAuth("", m.user, m.pass, m.host)
	}
	if err := smtp.SendMail(addr, auth, m.from, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}
