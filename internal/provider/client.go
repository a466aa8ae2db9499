package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"tracked-mail-relay-go/internal/config"
	"tracked-mail-relay-go/internal/errs"
	"tracked-mail-relay-go/internal/model"
)

// EventPage is one page of the provider's event log. Items that could not be
// decoded are reported in Malformed and do not fail the page.
type EventPage struct {
	Items     []model.Event `json:"items"`
	Paging    Paging        `json:"paging"`
	Malformed []error       `json:"-"`
}

type rawEventPage struct {
	Items  []json.RawMessage `json:"items"`
	Paging Paging            `json:"paging"`
}

// Paging carries the provider's continuation links
type Paging struct {
	Next     string `json:"next,omitempty"`
	Previous string `json:"previous,omitempty"`
	First    string `json:"first,omitempty"`
	Last     string `json:"last,omitempty"`
}

// SendResponse is the body returned by the messages endpoint
type SendResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// File is a multipart file part of a send request
type File struct {
	Param    string
	Filename string
	Reader   io.Reader
}

// Client talks to the provider's HTTP API
type Client struct {
	http   *resty.Client
	domain string
}

// NewClient creates a client for the configured API root and sending domain
func NewClient(cfg config.ProviderConfig) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rc := resty.New().
		SetBaseURL(cfg.BaseURL()).
		SetBasicAuth("api", cfg.APIKey).
		SetHeader("Accept", "application/json")
	if cfg.Timeout > 0 {
		rc.SetTimeout(cfg.Timeout)
	}

	return &Client{http: rc, domain: cfg.Domain}, nil
}

// Domain returns the sending domain
func (c *Client) Domain() string {
	return c.domain
}

// EventsPath is the events endpoint relative to the API root
func (c *Client) EventsPath() string {
	return c.domain + "/events"
}

// NormalizeEventsURL rewrites a continuation link, which the provider returns
// fully qualified, into a path relative to the API root.
func (c *Client) NormalizeEventsURL(link string) string {
	marker := c.EventsPath()
	if i := strings.Index(link, marker); i >= 0 {
		return link[i:]
	}
	return link
}

// GetEvents fetches one page of events. A non-200 status is returned with
// whatever page could be decoded from the body; only network and decoding
// failures produce an error.
func (c *Client) GetEvents(ctx context.Context, path string, params url.Values) (int, *EventPage, error) {
	req := c.http.R().SetContext(ctx)
	if len(params) > 0 {
		req.SetQueryParamsFromValues(params)
	}

	resp, err := req.Get(path)
	if err != nil {
		return 0, nil, &errs.TransportError{Op: "get events", Err: err}
	}

	body := resp.Body()
	if len(body) == 0 {
		return resp.StatusCode(), &EventPage{}, nil
	}

	var raw rawEventPage
	if err := json.Unmarshal(body, &raw); err != nil {
		if resp.StatusCode() != http.StatusOK {
			logrus.Debugf("Undecodable events body with status %d: %s", resp.StatusCode(), truncate(body))
			return resp.StatusCode(), &EventPage{}, nil
		}
		return resp.StatusCode(), nil, &errs.TransportError{Op: "decode events", StatusCode: resp.StatusCode(), Err: err}
	}

	return resp.StatusCode(), decodeItems(raw), nil
}

func decodeItems(raw rawEventPage) *EventPage {
	page := &EventPage{Paging: raw.Paging, Items: make([]model.Event, 0, len(raw.Items))}
	for i, item := range raw.Items {
		var ev model.Event
		if err := json.Unmarshal(item, &ev); err != nil {
			page.Malformed = append(page.Malformed, &errs.MalformedEventError{
				Err: fmt.Errorf("item %d: %w: %s", i, err, truncate(item)),
			})
			continue
		}
		page.Items = append(page.Items, ev)
	}
	return page
}

// SendMessage posts a message to {domain}/messages. Multiple values for a
// field (several recipients, several attachments) are all sent.
func (c *Client) SendMessage(ctx context.Context, form url.Values, files []File) (int, SendResponse, error) {
	req := c.http.R().SetContext(ctx).SetFormDataFromValues(form)
	for _, f := range files {
		req.SetFileReader(f.Param, f.Filename, f.Reader)
	}

	resp, err := req.Post(c.domain + "/messages")
	if err != nil {
		return 0, SendResponse{}, &errs.TransportError{Op: "send message", Err: err}
	}

	var out SendResponse
	if body := resp.Body(); len(body) > 0 {
		if err := json.Unmarshal(body, &out); err != nil {
			out.Message = fmt.Sprintf("unparseable response: %s", truncate(body))
		}
	}
	return resp.StatusCode(), out, nil
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
