package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"tracked-mail-relay-go/internal/config"
	"tracked-mail-relay-go/internal/model"
	"tracked-mail-relay-go/internal/provider"
)

// Sender is the part of the provider client the transport needs
type Sender interface {
	SendMessage(ctx context.Context, form url.Values, files []provider.File) (int, provider.SendResponse, error)
}

// ProviderTransport sends through the provider's messages endpoint
type ProviderTransport struct {
	client      Sender
	trackOpens  bool
	trackClicks bool
	tempDir     string
}

// NewProviderTransport creates the primary transport
func NewProviderTransport(client Sender, cfg config.ProviderConfig) *ProviderTransport {
	return &ProviderTransport{
		client:      client,
		trackOpens:  cfg.TrackOpens,
		trackClicks: cfg.TrackClicks,
	}
}

func (t *ProviderTransport) Name() string { return "provider" }

// Deliver stages attachments in temporary files, posts the form and removes
// the files again whatever the outcome.
func (t *ProviderTransport) Deliver(ctx context.Context, msg *Message) Result {
	files, release, err := t.stageFiles(msg)
	defer release()
	if err != nil {
		return Failed{Reason: fmt.Sprintf("failed to stage attachments: %v", err)}
	}

	status, resp, err := t.client.SendMessage(ctx, t.buildForm(msg), files)
	if err != nil {
		return Failed{Reason: err.Error()}
	}
	if status != http.StatusOK {
		return Failed{Reason: fmt.Sprintf("provider returned status %d: %s", status, resp.Message), StatusCode: status}
	}
	return Delivered{ID: resp.ID, Message: resp.Message, StatusCode: status}
}

func (t *ProviderTransport) buildForm(msg *Message) url.Values {
	form := url.Values{}
	form.Set("from", msg.From)
	form.Set("to", msg.To)
	for _, cc := range msg.Cc {
		form.Add("cc", cc)
	}
	for _, bcc := range msg.Bcc {
		form.Add("bcc", bcc)
	}
	form.Set("subject", msg.Subject)
	if msg.Text != "" {
		form.Set("text", msg.Text)
	}
	if msg.HTML != "" {
		form.Set("html", msg.HTML)
	}
	if msg.ReplyTo != "" {
		form.Set("h:Reply-To", msg.ReplyTo)
	}
	if msg.MessageID != "" {
		form.Set("h:Message-Id", msg.MessageID)
	}

	names := make([]string, 0, len(msg.Headers))
	for name := range msg.Headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		form.Set("h:"+name, msg.Headers[name])
	}

	form.Set("o:tracking-opens", yesNo(t.trackOpens))
	form.Set("o:tracking-clicks", yesNo(t.trackClicks))
	return form
}

func (t *ProviderTransport) stageFiles(msg *Message) ([]provider.File, func(), error) {
	var staged []*os.File
	release := func() {
		for _, f := range staged {
			f.Close()
			if err := os.Remove(f.Name()); err != nil {
				logrus.Warnf("Failed to remove temporary attachment %s: %v", f.Name(), err)
			}
		}
	}

	var files []provider.File
	stage := func(param string, a model.Attachment) error {
		f, err := os.CreateTemp(t.tempDir, "mail-relay-*")
		if err != nil {
			return err
		}
		staged = append(staged, f)
		if _, err := f.Write(a.Data); err != nil {
			return err
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return err
		}
		files = append(files, provider.File{Param: param, Filename: a.Filename, Reader: f})
		return nil
	}

	var result error
	for _, a := range msg.Attachments {
		if err := stage("attachment", a); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", a.Filename, err))
		}
	}
	for _, a := range msg.Inline {
		if err := stage("inline", a); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", a.Filename, err))
		}
	}
	return files, release, result
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
