package notify

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"

	"prtgalert/internal/config"
	"prtgalert/internal/logger"
	"prtgalert/internal/models"
)

// Email delivers notifications as one HTML message to all recipients over
// SMTP with STARTTLS and PLAIN auth.
type Email struct {
	cfg  config.EmailConfig
	send func(ctx context.Context, msg *mail.Msg) error
}

// NewEmail creates an SMTP channel.
func NewEmail(cfg config.EmailConfig) *Email {
	e := &Email{cfg: cfg}
	e.send = e.dialAndSend
	return e
}

// Name implements Channel.
func (e *Email) Name() string { return "email" }

// Send implements Channel.
func (e *Email) Send(ctx context.Context, env *models.Envelope) error {
	if len(e.cfg.Recipients) == 0 {
		return nil
	}
	msg, err := e.buildMessage(env.Notification)
	if err != nil {
		return err
	}
	if err := e.send(ctx, msg); err != nil {
		return fmt.Errorf("%w: smtp: %v", ErrDelivery, err)
	}

	log := logger.WithComponent("email")
	log.Info().
		Int("recipients", len(e.cfg.Recipients)).
		Str("subject", env.Notification.Subject()).
		Msg("email alert sent")
	return nil
}

func (e *Email) buildMessage(n *models.Notification) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(e.cfg.Sender); err != nil {
		return nil, fmt.Errorf("%w: sender %q: %v", ErrDelivery, e.cfg.Sender, err)
	}
	if err := msg.To(e.cfg.Recipients...); err != nil {
		return nil, fmt.Errorf("%w: recipients: %v", ErrDelivery, err)
	}
	msg.Subject(n.Subject())
	msg.SetBodyString(mail.TypeTextHTML, n.HTML())
	return msg, nil
}

func (e *Email) dialAndSend(ctx context.Context, msg *mail.Msg) error {
	client, err := mail.NewClient(e.cfg.SMTPServer,
		mail.WithPort(e.cfg.SMTPPort),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(e.cfg.Sender),
		mail.WithPassword(e.cfg.Password),
		mail.WithTLSPolicy(mail.TLSMandatory),
	)
	if err != nil {
		return err
	}
	return client.DialAndSendWithContext(ctx, msg)
}
