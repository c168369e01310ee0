package alerting

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/rs/zerolog"
)

// EmailOptions parameterise the SMTP notifier.
type EmailOptions struct {
	Host     string
	Port     int
	From     string
	Username string
	Password string
}

// EmailNotifier delivers firing events over SMTP to the owning user's
// address.
type EmailNotifier struct {
	opts   EmailOptions
	send   sendFunc
	logger zerolog.Logger
}

// sendFunc matches smtp.SendMail; swapped in tests.
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// NewEmailNotifier constructs an SMTP notifier.
func NewEmailNotifier(opts EmailOptions, logger zerolog.Logger) *EmailNotifier {
	return &EmailNotifier{
		opts:   opts,
		send:   smtp.SendMail,
		logger: logger.With().Str("component", "alert_email").Logger(),
	}
}

// Channel implements Notifier.
func (n *EmailNotifier) Channel() string { return "email" }

// Notify renders and sends one alert email.
func (n *EmailNotifier) Notify(ctx context.Context, event FiringEvent) error {
	if event.Email == "" {
		return fmt.Errorf("firing event for rule %d has no recipient address", event.RuleID)
	}
	if n.opts.Host == "" {
		return fmt.Errorf("smtp host not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	subject := fmt.Sprintf("Price alert: %s", describeCondition(event))
	body := renderMessage(event)

	msg := strings.Builder{}
	msg.WriteString(fmt.Sprintf("From: %s\r\n", n.opts.From))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", event.Email))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString("\r\n")
	msg.WriteString(body)

	var auth smtp.Auth
	if n.opts.Username != "" {
		auth = smtp.PlainAuth("", n.opts.Username, n.opts.Password, n.opts.Host)
	}

	addr := fmt.Sprintf("%s:%d", n.opts.Host, n.opts.Port)
	if err := n.send(addr, auth, n.opts.From, []string{event.Email}, []byte(msg.String())); err != nil {
		return fmt.Errorf("send alert email: %w", err)
	}

	n.logger.Info().Int64("rule_id", event.RuleID).
		Str("asset", event.AssetSymbol).
		Msg("alert email sent")
	return nil
}

var _ Notifier = (*EmailNotifier)(nil)
