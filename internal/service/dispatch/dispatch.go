package dispatch

import (
	"context"
	"crypto/md5"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"tracked-mail-relay-go/internal/config"
	"tracked-mail-relay-go/internal/errs"
	"tracked-mail-relay-go/internal/metrics"
	"tracked-mail-relay-go/internal/model"
	"tracked-mail-relay-go/internal/transport"
)

const (
	// NoID is the id reported when nothing was sent
	NoID = "<none>"

	fallbackOK     = "OK: Sent via fallback (Mailer) - Mailgun unsuccessful (details may have been logged in error log)"
	fallbackFailed = "Error: Mail not sent (tried Mailgun & Mailer, details may have been logged in error log)"
	testModeResult = "Test mode: mail not sent"
)

// Dispatcher sends an email through the provider and falls back to a
// secondary transport when the provider cannot take it.
type Dispatcher struct {
	primary  transport.Transport
	fallback transport.Transport
	cfg      config.ProviderConfig
	validate *validator.Validate
	metrics  *metrics.Metrics
	inline   *inliner

	now      func() time.Time
	hostname func() (string, error)
}

// New creates a Dispatcher. A nil fallback means fallback sends always fail.
func New(primary, fallback transport.Transport, cfg config.ProviderConfig, m *metrics.Metrics) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if primary == nil {
		return nil, &errs.ConfigurationError{Key: "transport", Reason: "primary transport is required"}
	}
	if fallback == nil {
		fallback = transport.Unavailable{}
	}

	d := &Dispatcher{
		primary:  primary,
		fallback: fallback,
		cfg:      cfg,
		validate: validator.New(),
		metrics:  m,
		now:      time.Now,
		hostname: os.Hostname,
	}
	if cfg.InlineImages {
		d.inline = newInliner(cfg.InlineBaseURL, cfg.InlineBasePath)
	}
	return d, nil
}

// Send delivers email and always reports the outcome as a SendResult. The
// error is non-nil only for validation failures when fallback_on_error is off.
func (d *Dispatcher) Send(ctx context.Context, email model.Email) (model.SendResult, error) {
	if d.cfg.TestMode {
		logrus.Infof("Test mode enabled, not sending %q to %s", email.Subject, email.To)
		return model.SendResult{ID: NoID, Message: testModeResult, StatusCode: http.StatusOK}, nil
	}

	msg := d.prepare(email)

	if err := d.check(email); err != nil {
		if !d.cfg.FallbackOnError {
			logrus.WithError(err).Error("Refusing to send email")
			return model.SendResult{}, err
		}
		logrus.WithError(err).Warn("Email failed validation, trying fallback transport")
		return d.sendFallback(ctx, msg), nil
	}

	switch res := d.primary.Deliver(ctx, msg).(type) {
	case transport.Delivered:
		d.metrics.Sends.WithLabelValues(d.primary.Name(), "delivered").Inc()
		logrus.WithFields(logrus.Fields{
			"id":        res.ID,
			"to":        email.To,
			"transport": d.primary.Name(),
		}).Info("Email sent")
		return model.SendResult{ID: res.ID, Message: res.Message, StatusCode: res.StatusCode, Transport: d.primary.Name()}, nil
	case transport.Failed:
		d.metrics.Sends.WithLabelValues(d.primary.Name(), "failed").Inc()
		logrus.Warnf("Provider send to %s failed: %s", email.To, res.Reason)
	}

	return d.sendFallback(ctx, msg), nil
}

func (d *Dispatcher) check(email model.Email) error {
	var result *multierror.Error
	if err := d.validate.Var(email.To, "required,email"); err != nil {
		result = multierror.Append(result, &errs.ValidationError{Field: "to", Reason: fmt.Sprintf("invalid address %q", email.To)})
	}
	if err := d.validate.Var(email.From, "required,email"); err != nil {
		result = multierror.Append(result, &errs.ValidationError{Field: "from", Reason: fmt.Sprintf("invalid address %q", email.From)})
	}
	if email.HTMLBody == "" && email.PlainBody == "" {
		result = multierror.Append(result, &errs.ValidationError{Field: "body", Reason: "can't send email with no content"})
	}
	return result.ErrorOrNil()
}

// prepare lifts Cc, Bcc and Reply-To out of the custom headers and inlines
// local images.
func (d *Dispatcher) prepare(email model.Email) *transport.Message {
	msg := &transport.Message{
		From:        email.From,
		To:          email.To,
		Subject:     email.Subject,
		Text:        email.PlainBody,
		HTML:        email.HTMLBody,
		Attachments: email.Attachments,
	}

	for name, value := range email.Headers {
		switch {
		case strings.EqualFold(name, "Cc"):
			msg.Cc = append(msg.Cc, splitAddresses(value)...)
		case strings.EqualFold(name, "Bcc"):
			msg.Bcc = append(msg.Bcc, splitAddresses(value)...)
		case strings.EqualFold(name, "Reply-To"):
			msg.ReplyTo = value
		default:
			if msg.Headers == nil {
				msg.Headers = make(map[string]string)
			}
			msg.Headers[name] = value
		}
	}

	if d.inline != nil && msg.HTML != "" {
		msg.HTML, msg.Inline = d.inline.rewrite(msg.HTML)
	}
	return msg
}

func (d *Dispatcher) sendFallback(ctx context.Context, msg *transport.Message) model.SendResult {
	d.metrics.Fallbacks.Inc()

	fb := *msg
	fb.MessageID = d.fallbackMessageID(msg.To)
	if len(fb.Headers) > 0 {
		fb.Headers = make(map[string]string, len(msg.Headers))
		for k, v := range msg.Headers {
			if !strings.EqualFold(k, "Message-Id") {
				fb.Headers[k] = v
			}
		}
	}

	switch res := d.fallback.Deliver(ctx, &fb).(type) {
	case transport.Delivered:
		d.metrics.Sends.WithLabelValues(d.fallback.Name(), "delivered").Inc()
		logrus.Infof("Email %s to %s sent via fallback %s", fb.MessageID, msg.To, d.fallback.Name())
		return model.SendResult{ID: fb.MessageID, Message: fallbackOK, StatusCode: http.StatusOK, Transport: d.fallback.Name()}
	case transport.Failed:
		d.metrics.Sends.WithLabelValues(d.fallback.Name(), "failed").Inc()
		logrus.Errorf("Fallback %s failed for %s: %s", d.fallback.Name(), msg.To, res.Reason)
	}
	return model.SendResult{ID: NoID, Message: fallbackFailed, StatusCode: http.StatusInternalServerError, Transport: d.fallback.Name()}
}

// fallbackMessageID builds <unix.md5(to)@domain>
func (d *Dispatcher) fallbackMessageID(to string) string {
	if to == "" {
		to = uuid.NewString()
	}
	domain := d.cfg.Domain
	if domain == "" {
		if host, err := d.hostname(); err == nil {
			domain = host
		} else {
			domain = "localhost"
		}
	}
	return fmt.Sprintf("<%d.%x@%s>", d.now().Unix(), md5.Sum([]byte(to)), domain)
}

func splitAddresses(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
