// Package send assembles previews into an outbound batch, hands it to the
// send service and folds the per-recipient outcomes back into the previews.
package send

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Port is an SMTP port that decodes from either a JSON number or string.
type Port int

func (p *Port) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*p = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid smtp port %q", s)
	}
	*p = Port(n)
	return nil
}

// SMTPSettings are the account settings forwarded with every request.
type SMTPSettings struct {
	Server   string `json:"smtpServer" yaml:"server" validate:"required,hostname_rfc1123"`
	Port     Port   `json:"smtpPort" yaml:"port" validate:"required,gte=1,lte=65535"`
	User     string `json:"smtpUser" yaml:"user" validate:"required"`
	Password string `json:"smtpPassword" yaml:"password" validate:"required"`
}

// Address returns host:port.
func (s SMTPSettings) Address() string {
	return fmt.Sprintf("%s:%d", s.Server, s.Port)
}

// OutboundAttachment is an attachment embedded in one outbound email. Data is
// a data URL or raw base64.
type OutboundAttachment struct {
	Filename string `json:"filename" validate:"required"`
	Size     int64  `json:"size"`
	Type     string `json:"type"`
	Data     string `json:"data" validate:"required"`
}

// OutboundEmail is one merged email. Address fields hold comma-separated
// lists. RowNumber is the recipient's source line and is echoed back in the
// result.
type OutboundEmail struct {
	RowNumber   int                  `json:"_rowNumber,omitempty"`
	To          string               `json:"to" validate:"required"`
	From        string               `json:"from" validate:"required"`
	Cc          string               `json:"cc"`
	Bcc         string               `json:"bcc"`
	Subject     string               `json:"subject"`
	Body        string               `json:"body"`
	Attachments []OutboundAttachment `json:"attachments" validate:"dive"`
}

// PoolAttachment is an entry of the batch-wide attachment dictionary.
type PoolAttachment struct {
	Filename   string    `json:"filename"`
	Type       string    `json:"type"`
	Size       int64     `json:"size"`
	Data       string    `json:"data"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// Payload is the body of POST /send-emails.
type Payload struct {
	Emails      []OutboundEmail           `json:"emails" validate:"required,min=1,dive"`
	CSVData     string                    `json:"csvData"`
	Attachments map[string]PoolAttachment `json:"attachments"`
	SMTPSettings
}

// Result is the outcome for one recipient.
type Result struct {
	Email     string `json:"email,omitempty"`
	RowNumber int    `json:"_rowNumber,omitempty"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// BatchResult is the response of POST /send-emails.
type BatchResult struct {
	Success bool     `json:"success"`
	Results []Result `json:"results,omitempty"`
	Summary string   `json:"summary,omitempty"`
	Error   string   `json:"error,omitempty"`
	Demo    bool     `json:"demo,omitempty"`
}

// TestResult is the response of POST /test-smtp.
type TestResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ServiceStatus is the response of GET /api/status.
type ServiceStatus struct {
	DemoMode bool   `json:"demoMode"`
	Provider string `json:"provider"`
	// UsesAccount reports whether the provider delivers through the SMTP
	// account submitted with each request.
	UsesAccount bool `json:"usesAccount"`
}

// Summary counts the outcomes of a batch.
type Summary struct {
	Sent   int
	Failed int
}

// Summarize counts successes and failures in results.
func Summarize(results []Result) Summary {
	var s Summary
	for _, r := range results {
		if r.Success {
			s.Sent++
		} else {
			s.Failed++
		}
	}
	return s
}

// Total returns the number of outcomes.
func (s Summary) Total() int {
	return s.Sent + s.Failed
}

func (s Summary) String() string {
	return fmt.Sprintf("Sent %d of %d emails", s.Sent, s.Total())
}

// decodeJSON decodes a service response, reporting bodies that are not JSON.
func decodeJSON(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("invalid JSON response: %w", err)
	}
	return nil
}
