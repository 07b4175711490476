package notify

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"
)

// Sender delivers one rendered message.
type Sender interface {
	Send(ctx context.Context, message Message) error
}

// SMTPSender delivers messages through an SMTP relay.
type SMTPSender struct {
	client *mail.Client
	from   string
}

// NewSMTPSender builds a go-mail client from a validated Config.
func NewSMTPSender(cfg Config) (*SMTPSender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Enabled() {
		return nil, fmt.Errorf("%w: smtp host is required", ErrInvalidConfig)
	}
	options := []mail.Option{
		mail.WithPort(cfg.SMTPPort),
		mail.WithTimeout(cfg.SMTPTimeout),
	}
	if cfg.SMTPPort == implicitTLSPort {
		options = append(options, mail.WithSSL())
	} else {
		options = append(options, mail.WithTLSPortPolicy(mail.TLSOpportunistic))
	}
	if cfg.Username != "" {
		options = append(options,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(cfg.SMTPHost, options...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return &SMTPSender{client: client, from: cfg.From}, nil
}

// Send dials the relay and delivers message as plain text.
func (sender *SMTPSender) Send(ctx context.Context, message Message) error {
	msg, err := buildMsg(sender.from, message)
	if err != nil {
		return err
	}
	return sender.client.DialAndSendWithContext(ctx, msg)
}

func buildMsg(from string, message Message) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("%w: sender %q", ErrInvalidMessage, from)
	}
	if err := msg.To(message.Recipient); err != nil {
		return nil, fmt.Errorf("%w: recipient %q", ErrInvalidMessage, message.Recipient)
	}
	msg.Subject(message.Subject)
	msg.SetBodyString(mail.TypeTextPlain, message.Body)
	return msg, nil
}
