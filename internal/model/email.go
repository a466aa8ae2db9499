package model

// Email is a logical outgoing message
type Email struct {
	To          string            `json:"to"`
	From        string            `json:"from"`
	Subject     string            `json:"subject"`
	HTMLBody    string            `json:"html_body,omitempty"`
	PlainBody   string            `json:"plain_body,omitempty"`
	Attachments []Attachment      `json:"attachments,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// Attachment represents an email attachment
type Attachment struct {
	Filename string `json:"filename"`
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// SendResult is the uniform outcome of a send, whichever transport handled it
type SendResult struct {
	ID         string `json:"id"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
	Transport  string `json:"transport,omitempty"`
}

// OK reports a 2xx status
func (r SendResult) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}
