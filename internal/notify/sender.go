package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/smtp"
	"time"

	"github.com/emersion/go-message/mail"

	"accountgate/internal/config"
)

type Kind string

const (
	KindBanned                Kind = "banned"
	KindReactivationRequested Kind = "reactivation_requested"
	KindAccountRequested      Kind = "account_requested"
)

type Notice struct {
	Kind     Kind
	Username string
	Subject  string
	Body     string
}

type Sender interface {
	Send(ctx context.Context, toEmail string, n Notice) error
}

type LogSender struct{}

func (LogSender) Send(ctx context.Context, toEmail string, n Notice) error {
	log.Printf("notice kind=%s username=%s to=%s subject=%q", n.Kind, n.Username, toEmail, n.Subject)
	return nil
}

type NopSender struct{}

func (NopSender) Send(context.Context, string, Notice) error { return nil }

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type SMTPSender struct {
	host     string
	port     int
	from     string
	sendMail sendMailFunc
}

func NewSender(cfg config.Config) Sender {
	switch cfg.NotifySender {
	case "smtp":
		return SMTPSender{host: cfg.SMTPHost, port: cfg.SMTPPort, from: cfg.NotifyFrom, sendMail: smtp.SendMail}
	case "none":
		return NopSender{}
	default:
		return LogSender{}
	}
}

func (s SMTPSender) Send(ctx context.Context, toEmail string, n Notice) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := BuildMessage(s.from, toEmail, n, time.Now())
	if err != nil {
		return err
	}
	send := s.sendMail
	if send == nil {
		send = smtp.SendMail
	}
	return send(fmt.Sprintf("%s:%d", s.host, s.port), nil, s.from, []string{toEmail}, msg)
}

// BuildMessage renders n as a single-part text/plain RFC 5322 message.
func BuildMessage(from, to string, n Notice, at time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(at)
	h.SetAddressList("From", []*mail.Address{{Address: from}})
	h.SetAddressList("To", []*mail.Address{{Address: to}})
	h.SetSubject(n.Subject)
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create message writer: %w", err)
	}
	if _, err := io.WriteString(w, n.Body); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
