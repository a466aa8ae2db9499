package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/smtp"
	"strconv"

	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"

	"tracked-mail-relay-go/internal/config"
)

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPTransport delivers directly to a local or relay MTA
type SMTPTransport struct {
	addr     string
	auth     smtp.Auth
	sendMail sendMailFunc
}

// NewSMTPTransport creates the SMTP fallback transport
func NewSMTPTransport(cfg config.FallbackConfig) *SMTPTransport {
	t := &SMTPTransport{
		addr:     net.JoinHostPort(cfg.SMTPHost, strconv.Itoa(cfg.SMTPPort)),
		sendMail: smtp.SendMail,
	}
	if cfg.SMTPUser != "" {
		t.auth = smtp.PlainAuth("", cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPHost)
	}
	return t
}

func (t *SMTPTransport) Name() string { return "smtp" }

func (t *SMTPTransport) Deliver(ctx context.Context, msg *Message) Result {
	if err := ctx.Err(); err != nil {
		return Failed{Reason: err.Error()}
	}

	raw, err := Compose(msg)
	if err != nil {
		return Failed{Reason: err.Error()}
	}

	from, err := mail.ParseAddress(msg.From)
	if err != nil {
		return Failed{Reason: fmt.Sprintf("invalid from address: %v", err)}
	}
	rcpts, err := parseList(msg.Recipients())
	if err != nil {
		return Failed{Reason: fmt.Sprintf("invalid recipient: %v", err)}
	}
	to := make([]string, len(rcpts))
	for i, r := range rcpts {
		to[i] = r.Address
	}

	if err := t.sendMail(t.addr, t.auth, from.Address, to, raw); err != nil {
		logrus.Warnf("SMTP delivery to %s failed: %v", t.addr, err)
		return Failed{Reason: err.Error()}
	}

	logrus.Infof("Delivered %s via SMTP %s", msg.MessageID, t.addr)
	return Delivered{ID: msg.MessageID, Message: "Sent via SMTP", StatusCode: http.StatusOK}
}
