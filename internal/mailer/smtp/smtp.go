// Package smtp delivers notification messages over SMTP.
package smtp

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/JakeFAU/gazette-watch/internal/notify"
)

// Config describes the SMTP relay.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// TLSPolicy is one of "mandatory", "opportunistic" or "none".
	TLSPolicy string
	SSL       bool
	Timeout   time.Duration
}

// Transport sends each batch over a single SMTP connection.
type Transport struct {
	cfg    Config
	client *mail.Client
}

// New validates cfg and prepares a client. No connection is opened until Send.
func New(cfg Config) (*Transport, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("mail.host is required")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("mail.from is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 1025
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	policy, err := tlsPolicy(cfg.TLSPolicy, cfg.Port)
	if err != nil {
		return nil, err
	}

	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(policy),
		mail.WithTimeout(cfg.Timeout),
	}
	if cfg.SSL {
		opts = append(opts, mail.WithSSL())
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}
	return &Transport{cfg: cfg, client: client}, nil
}

// Send dials once, delivers every message and closes the connection.
func (t *Transport) Send(ctx context.Context, msgs ...notify.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	built := make([]*mail.Msg, 0, len(msgs))
	for _, m := range msgs {
		msg, err := buildMsg(t.cfg.From, m)
		if err != nil {
			return err
		}
		built = append(built, msg)
	}
	if err := t.client.DialAndSendWithContext(ctx, built...); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func buildMsg(from string, m notify.Message) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("set sender: %w", err)
	}
	if err := msg.To(m.To...); err != nil {
		return nil, fmt.Errorf("set recipients: %w", err)
	}
	msg.Subject(m.Subject)
	msg.SetBodyString(mail.TypeTextPlain, m.Text)
	if m.HTML != "" {
		msg.AddAlternativeString(mail.TypeTextHTML, m.HTML)
	}
	for _, a := range m.Attachments {
		err := msg.AttachReader(a.Filename, bytes.NewReader(a.Data),
			mail.WithFileContentType(mail.ContentType(a.ContentType)))
		if err != nil {
			return nil, fmt.Errorf("attach %s: %w", a.Filename, err)
		}
	}
	return msg, nil
}

func tlsPolicy(name string, port int) (mail.TLSPolicy, error) {
	switch strings.ToLower(name) {
	case "":
		// Local relays such as MailHog listen in plain text on 1025.
		if port == 1025 {
			return mail.NoTLS, nil
		}
		return mail.TLSMandatory, nil
	case "mandatory":
		return mail.TLSMandatory, nil
	case "opportunistic":
		return mail.TLSOpportunistic, nil
	case "none":
		return mail.NoTLS, nil
	default:
		return mail.NoTLS, fmt.Errorf("unknown mail.tls_policy %q", name)
	}
}
