// Package notify sends order confirmation emails.
package notify

import (
	"bytes"
	"context"
	"embed"
	"html/template"
	"net"
	"net/smtp"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/shopfront/internal/domain/order"
)

//go:embed templates/*.html
var templates embed.FS

var confirmationTmpl = template.Must(template.ParseFS(templates, "templates/confirmation.html"))

// Config holds SMTP settings. An empty Host disables delivery.
type Config struct {
	Host     string `usage:"SMTP host, empty to only log confirmations"`
	Port     string `default:"587" usage:"SMTP port"`
	Username string `usage:"SMTP username"`
	Password string `usage:"SMTP password"`
	From     string `default:"no-reply@shopfront.local" usage:"Sender address"`
}

// Message is a rendered email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Render builds the confirmation email for c.
func Render(c order.Confirmation) (Message, error) {
	if c.Order == nil || c.User == nil {
		return Message{}, errors.New("confirmation requires order and user")
	}
	if c.User.Email == "" {
		return Message{}, errors.Errorf("user %q has no email", c.User.ID)
	}

	var buf bytes.Buffer
	if err := confirmationTmpl.Execute(&buf, c); err != nil {
		return Message{}, errors.Wrap(err, "render confirmation")
	}
	return Message{
		To:      c.User.Email,
		Subject: "Order " + c.Order.Code + " confirmed",
		HTML:    buf.String(),
	}, nil
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer delivers confirmations over SMTP.
type SMTPMailer struct {
	cfg  Config
	send sendFunc
}

var _ order.Mailer = (*SMTPMailer)(nil)

func NewSMTPMailer(cfg Config) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, send: smtp.SendMail}
}

func (m *SMTPMailer) SendOrderConfirmation(ctx context.Context, c order.Confirmation) error {
	msg, err := Render(c)
	if err != nil {
		return err
	}

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	addr := net.JoinHostPort(m.cfg.Host, m.cfg.Port)
	raw := m.mime(msg)

	// smtp.SendMail has no context; abandon the wait when ctx is done.
	done := make(chan error, 1)
	go func() {
		done <- m.send(addr, auth, m.cfg.From, []string{msg.To}, raw)
	}()
	select {
	case err := <-done:
		if err != nil {
			return errors.Wrap(err, "smtp send")
		}
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "smtp send")
	}
}

func (m *SMTPMailer) mime(msg Message) []byte {
	var b strings.Builder
	b.WriteString("From: " + m.cfg.From + "\r\n")
	b.WriteString("To: " + msg.To + "\r\n")
	b.WriteString("Subject: " + msg.Subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.HTML)
	return []byte(b.String())
}

// LogMailer renders confirmations and logs them instead of sending.
type LogMailer struct{}

var _ order.Mailer = LogMailer{}

func (LogMailer) SendOrderConfirmation(ctx context.Context, c order.Confirmation) error {
	msg, err := Render(c)
	if err != nil {
		return err
	}
	zctx.From(ctx).Info("Order confirmation",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.Int("bytes", len(msg.HTML)),
	)
	return nil
}

// New returns an SMTPMailer when cfg has a host and a LogMailer otherwise.
func New(cfg Config) order.Mailer {
	if cfg.Host == "" {
		return LogMailer{}
	}
	return NewSMTPMailer(cfg)
}
