package mail

import (
	"context"
	"fmt"

	"order-service/model"

	gomail "github.com/wneessen/go-mail"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender delivers queued emails over SMTP.
type SMTPSender struct {
	cfg Config
}

func NewSMTPSender(cfg Config) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

func (s *SMTPSender) Send(ctx context.Context, msg model.EmailMessage) error {
	m := gomail.NewMsg()

	from := msg.From
	if from == "" {
		from = s.cfg.From
	}
	if err := m.From(from); err != nil {
		return fmt.Errorf("bad sender address %q: %w", from, err)
	}
	if err := m.To(msg.To); err != nil {
		return fmt.Errorf("bad recipient address %q: %w", msg.To, err)
	}
	if msg.ReplyTo != "" {
		if err := m.ReplyTo(msg.ReplyTo); err != nil {
			return fmt.Errorf("bad reply-to address %q: %w", msg.ReplyTo, err)
		}
	}
	m.Subject(msg.Subject)

	if msg.Html != "" {
		m.SetBodyString(gomail.TypeTextHTML, msg.Html)
		if msg.Text != "" {
			m.AddAlternativeString(gomail.TypeTextPlain, msg.Text)
		}
	} else {
		m.SetBodyString(gomail.TypeTextPlain, msg.Text)
	}

	opts := []gomail.Option{
		gomail.WithPort(s.cfg.Port),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(s.cfg.Username),
			gomail.WithPassword(s.cfg.Password),
		)
	}

	client, err := gomail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	return client.DialAndSendWithContext(ctx, m)
}
