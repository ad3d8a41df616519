package notify

import (
	"fmt"
	"net/smtp"

	"github.com/gofiber/fiber/v2/log"

	"github.com/shankarelavarasan/Rapidtechstore-sub002/internal/pkg/env"
)

// Mailer emits settlement notifications over SMTP, fire-and-forget: every
// send runs in its own goroutine and a delivery failure is only logged.
// With no SMTP_HOST configured it degrades to log-only.
type Mailer struct {
	host     string
	port     string
	username string
	password string
	sender   string
	to       string
}

// NewMailerFromEnv reads the SMTP settings. NOTIFY_RECIPIENT is the
// operations inbox settlement events are reported to.
func NewMailerFromEnv() *Mailer {
	sender := env.GetEnv("SMTP_SENDER", "")
	if sender == "" {
		sender = "no-reply@localhost"
	}
	return &Mailer{
		host:     env.GetEnv("SMTP_HOST", ""),
		port:     env.GetEnv("SMTP_PORT", "587"),
		username: env.GetEnv("SMTP_USERNAME", ""),
		password: env.GetEnv("SMTP_PASSWORD", ""),
		sender:   sender,
		to:       env.GetEnv("NOTIFY_RECIPIENT", ""),
	}
}

func (m *Mailer) PaymentCompleted(transactionID string, amount int64, currency string) {
	m.send("Payment completed",
		fmt.Sprintf("Payment %s completed: %d %s", transactionID, amount, currency))
}

func (m *Mailer) PaymentFailed(transactionID string, amount int64, currency string, reason string) {
	m.send("Payment failed",
		fmt.Sprintf("Payment %s failed (%d %s): %s", transactionID, amount, currency, reason))
}

func (m *Mailer) PayoutCompleted(payoutID string, amount int64, currency string) {
	m.send("Payout completed",
		fmt.Sprintf("Payout %s completed: %d %s", payoutID, amount, currency))
}

func (m *Mailer) PayoutFailed(payoutID string, amount int64, currency string, reason string) {
	m.send("Payout failed",
		fmt.Sprintf("Payout %s failed (%d %s): %s", payoutID, amount, currency, reason))
}

func (m *Mailer) send(subject, body string) {
	if m.host == "" || m.to == "" {
		log.Infof("notification (no SMTP configured): %s - %s", subject, body)
		return
	}
	go func() {
		var auth smtp.Auth
		if m.username != "" && m.password != "" {
			auth = smtp.PlainAuth("", m.username, m.password, m.host)
		}
		addr := m.host + ":" + m.port
		msg := []byte(
			fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", m.sender, m.to, subject) +
				"MIME-Version: 1.0\r\n" +
				"Content-Type: text/plain; charset=UTF-8\r\n\r\n" +
				body,
		)
		if err := smtp.SendMail(addr, auth, m.sender, []string{m.to}, msg); err != nil {
			log.Warnf("notification send failed: %v", err)
		}
	}()
}
