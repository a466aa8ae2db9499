package transport

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/emersion/go-message/mail"
)

// Compose renders msg as an RFC 5322 message. Bcc recipients are left out of
// the headers.
func Compose(msg *Message) ([]byte, error) {
	var h mail.Header
	h.SetDate(time.Now())

	from, err := mail.ParseAddress(msg.From)
	if err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}
	h.SetAddressList("From", []*mail.Address{from})

	to, err := parseList([]string{msg.To})
	if err != nil {
		return nil, fmt.Errorf("invalid to address: %w", err)
	}
	h.SetAddressList("To", to)

	if len(msg.Cc) > 0 {
		cc, err := parseList(msg.Cc)
		if err != nil {
			return nil, fmt.Errorf("invalid cc address: %w", err)
		}
		h.SetAddressList("Cc", cc)
	}
	if msg.ReplyTo != "" {
		h.Set("Reply-To", msg.ReplyTo)
	}
	h.SetSubject(msg.Subject)
	if msg.MessageID != "" {
		h.Set("Message-Id", msg.MessageID)
	}

	names := make([]string, 0, len(msg.Headers))
	for name := range msg.Headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		h.Set(name, msg.Headers[name])
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail writer: %w", err)
	}

	iw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("failed to create inline writer: %w", err)
	}
	if msg.Text != "" {
		if err := writeBodyPart(iw, "text/plain", msg.Text); err != nil {
			return nil, err
		}
	}
	if msg.HTML != "" {
		if err := writeBodyPart(iw, "text/html", msg.HTML); err != nil {
			return nil, err
		}
	}
	if err := iw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close inline writer: %w", err)
	}

	for _, a := range msg.Inline {
		if err := writeAttachment(mw, a.Filename, a.MIMEType, a.Data, true); err != nil {
			return nil, err
		}
	}
	for _, a := range msg.Attachments {
		if err := writeAttachment(mw, a.Filename, a.MIMEType, a.Data, false); err != nil {
			return nil, err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close mail writer: %w", err)
	}
	return buf.Bytes(), nil
}

func parseList(addrs []string) ([]*mail.Address, error) {
	out := make([]*mail.Address, 0, len(addrs))
	for _, a := range addrs {
		parsed, err := mail.ParseAddress(a)
		if err != nil {
			return nil, err
		}
		out = append(out, parsed)
	}
	return out, nil
}

func writeBodyPart(iw *mail.InlineWriter, contentType, body string) error {
	var ph mail.InlineHeader
	ph.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	w, err := iw.CreatePart(ph)
	if err != nil {
		return fmt.Errorf("failed to create %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return fmt.Errorf("failed to write %s part: %w", contentType, err)
	}
	return w.Close()
}

// Inline parts carry a Content-ID equal to their file name so that the
// rewritten cid: references resolve.
func writeAttachment(mw *mail.Writer, filename, mimeType string, data []byte, inline bool) error {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	var ah mail.AttachmentHeader
	ah.SetContentType(mimeType, nil)
	if inline {
		ah.SetContentDisposition("inline", map[string]string{"filename": filename})
		ah.Set("Content-Id", "<"+filename+">")
	} else {
		ah.SetFilename(filename)
	}

	w, err := mw.CreateAttachment(ah)
	if err != nil {
		return fmt.Errorf("failed to create attachment %s: %w", filename, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write attachment %s: %w", filename, err)
	}
	return w.Close()
}
