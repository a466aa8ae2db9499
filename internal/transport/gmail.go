package transport

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/sirupsen/logrus"

	"tracked-mail-relay-go/internal/config"
)

const gmailAttempts = 3

// GmailTransport delivers through the Gmail API as the configured account
type GmailTransport struct {
	service   *gmail.Service
	userEmail string
	backoff   func(attempt int) time.Duration
}

// NewGmailTransport creates the Gmail fallback transport. Extra options are
// applied after the OAuth2 token source.
func NewGmailTransport(ctx context.Context, cfg config.FallbackConfig, opts ...option.ClientOption) (*GmailTransport, error) {
	oauth2Config := &oauth2.Config{
		ClientID:     cfg.GmailClientID,
		ClientSecret: cfg.GmailClientSecret,
		Scopes:       []string{gmail.GmailSendScope},
		Endpoint:     google.Endpoint,
	}

	token := &oauth2.Token{
		RefreshToken: cfg.GmailRefreshToken,
	}

	tokenSource := oauth2Config.TokenSource(ctx, token)

	service, err := gmail.NewService(ctx, append([]option.ClientOption{option.WithTokenSource(tokenSource)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	userEmail := cfg.GmailUserEmail
	if userEmail == "" {
		userEmail = "me"
	}

	return &GmailTransport{
		service:   service,
		userEmail: userEmail,
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt*attempt) * time.Second
		},
	}, nil
}

func (t *GmailTransport) Name() string { return "gmail" }

// Deliver sends the raw message, retrying only on quota and rate errors
func (t *GmailTransport) Deliver(ctx context.Context, msg *Message) Result {
	raw, err := Compose(msg)
	if err != nil {
		return Failed{Reason: err.Error()}
	}

	message := &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString(raw),
	}

	var lastErr error
	for attempt := 1; attempt <= gmailAttempts; attempt++ {
		sent, err := t.service.Users.Messages.Send(t.userEmail, message).Context(ctx).Do()
		if err == nil {
			logrus.Infof("Delivered %s via Gmail (gmail id %s)", msg.MessageID, sent.Id)
			return Delivered{ID: msg.MessageID, Message: "Sent via Gmail", StatusCode: http.StatusOK}
		}

		lastErr = err
		logrus.Warnf("Failed to send via Gmail (attempt %d/%d): %v", attempt, gmailAttempts, err)

		if !strings.Contains(err.Error(), "quota") && !strings.Contains(err.Error(), "rate") {
			break
		}
		if attempt == gmailAttempts {
			break
		}

		wait := t.backoff(attempt)
		logrus.Infof("Rate limited, waiting %v before retry", wait)
		select {
		case <-ctx.Done():
			return Failed{Reason: ctx.Err().Error()}
		case <-time.After(wait):
		}
	}

	return Failed{Reason: fmt.Sprintf("gmail send failed: %v", lastErr)}
}
