package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
)

// smtpsPort is the implicit-TLS submission port.
const smtpsPort = 465

// SMTPConfig holds relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type sendMailFunc func(ctx context.Context, m *mail.Msg) error

// EmailChannel sends plain-text mail through an SMTP relay.
type EmailChannel struct {
	cfg      SMTPConfig
	sendMail sendMailFunc
}

// NewEmailChannel builds an EmailChannel backed by go-mail.
func NewEmailChannel(cfg SMTPConfig) *EmailChannel {
	c := &EmailChannel{cfg: cfg}
	c.sendMail = c.dialAndSend
	return c
}

func (c *EmailChannel) Name() string { return ChannelEmail }

// Send delivers msg to its recipients.
func (c *EmailChannel) Send(ctx context.Context, msg Message) error {
	if len(msg.Recipients) == 0 {
		return errors.New("email: no recipients")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m, err := c.compose(msg)
	if err != nil {
		return err
	}
	if err := c.sendMail(ctx, m); err != nil {
		return fmt.Errorf("email: send via %s:%d: %w", c.cfg.Host, c.cfg.Port, err)
	}
	return nil
}

func (c *EmailChannel) compose(msg Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(c.cfg.From); err != nil {
		return nil, fmt.Errorf("email: sender %q: %w", c.cfg.From, err)
	}
	if err := m.To(msg.Recipients...); err != nil {
		return nil, fmt.Errorf("email: recipients: %w", err)
	}
	m.Subject(sanitizeHeader(msg.Subject))
	m.SetDate()
	m.SetBodyString(mail.TypeTextPlain, msg.Body)
	return m, nil
}

func (c *EmailChannel) dialAndSend(ctx context.Context, m *mail.Msg) error {
	opts := []mail.Option{mail.WithTimeout(30 * time.Second)}
	if c.cfg.Port == smtpsPort {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}
	if c.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(c.cfg.Username),
			mail.WithPassword(c.cfg.Password))
	}
	opts = append(opts, mail.WithPort(c.cfg.Port))

	client, err := mail.NewClient(c.cfg.Host, opts...)
	if err != nil {
		return err
	}
	return client.DialAndSendWithContext(ctx, m)
}

func sanitizeHeader(v string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
}
