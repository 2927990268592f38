package send

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/shineum/mailmerge-lite/internal/attachment"
	"github.com/shineum/mailmerge-lite/internal/diag"
	"github.com/shineum/mailmerge-lite/internal/preview"
)

// Request is one send attempt.
type Request struct {
	Previews *preview.Store
	SMTP     SMTPSettings
	// Attachments is the pool sent as the batch-wide dictionary.
	Attachments attachment.Catalog
	CSVData     string
}

// Report is the outcome of a successful send attempt.
type Report struct {
	BatchID string
	Summary string
	Demo    bool
	Results []Result
	// Matched is the number of results folded back into previews.
	Matched     int
	Diagnostics []diag.Diagnostic
}

// Counts summarizes Results.
func (r *Report) Counts() Summary {
	return Summarize(r.Results)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPreflight runs a connection test before every send.
func WithPreflight(enabled bool) Option {
	return func(o *Orchestrator) { o.preflight = enabled }
}

// WithSMTPValidation checks the SMTP settings before every send and
// connection test. Turn it off for services whose provider ignores the
// account.
func WithSMTPValidation(enabled bool) Option {
	return func(o *Orchestrator) { o.validateSMTP = enabled }
}

// Orchestrator runs send attempts against a Transport. At most one send is
// in flight at a time.
type Orchestrator struct {
	transport    Transport
	inFlight     *semaphore.Weighted
	validate     *validator.Validate
	preflight    bool
	validateSMTP bool
}

// NewOrchestrator creates an Orchestrator. SMTP validation is on and the
// pre-flight connection test is off unless configured otherwise.
func NewOrchestrator(t Transport, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		transport:    t,
		inFlight:     semaphore.NewWeighted(1),
		validate:     NewValidator(),
		validateSMTP: true,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Send filters out excluded previews, validates them, re-resolves their
// attachments, dispatches the batch and records the outcomes on the
// previews. On any error the previews are left unmodified.
func (o *Orchestrator) Send(ctx context.Context, req Request) (*Report, error) {
	if !o.inFlight.TryAcquire(1) {
		return nil, ErrSendInFlight
	}
	defer o.inFlight.Release(1)

	if req.Previews == nil {
		return nil, ErrNoRecipients
	}
	included := req.Previews.Included()
	if len(included) == 0 {
		return nil, ErrNoRecipients
	}

	for _, p := range included {
		if p.From == "" {
			return nil, &ValidationError{
				Message: fmt.Sprintf("email %d is missing a From address", p.Index+1),
			}
		}
	}

	if o.validateSMTP {
		if err := Validate(o.validate, req.SMTP, "invalid SMTP settings"); err != nil {
			return nil, err
		}
	}

	if o.preflight {
		if err := o.testConnection(ctx, req.SMTP); err != nil {
			return nil, err
		}
	}

	d := &diag.Diagnostics{}
	payload := o.buildPayload(req, included, d)
	batchID := uuid.NewString()

	slog.Info("sending batch",
		"batch_id", batchID,
		"emails", len(payload.Emails),
		"attachments", len(payload.Attachments),
	)

	res, err := o.transport.SendBatch(ctx, payload)
	if err != nil {
		var te *TransportError
		if !errors.As(err, &te) {
			err = &TransportError{Op: "send", Err: err}
		}
		return nil, err
	}
	if !res.Success {
		msg := res.Error
		if msg == "" {
			msg = "send service reported failure"
		}
		return nil, &TransportError{Op: "send", Err: errors.New(msg)}
	}

	outcomes := make([]preview.Outcome, len(res.Results))
	for i, r := range res.Results {
		outcomes[i] = preview.Outcome{
			Email:     r.Email,
			RowNumber: r.RowNumber,
			Success:   r.Success,
			Error:     r.Error,
		}
	}
	matched := req.Previews.Reconcile(outcomes)

	summary := res.Summary
	if summary == "" {
		summary = Summarize(res.Results).String()
	}

	slog.Info("batch finished",
		"batch_id", batchID,
		"summary", summary,
		"matched", matched,
	)

	return &Report{
		BatchID:     batchID,
		Summary:     summary,
		Demo:        res.Demo,
		Results:     res.Results,
		Matched:     matched,
		Diagnostics: d.Items(),
	}, nil
}

// TestConnection validates s, unless SMTP validation is off, and asks the
// service to check it.
func (o *Orchestrator) TestConnection(ctx context.Context, s SMTPSettings) (*TestResult, error) {
	if o.validateSMTP {
		if err := Validate(o.validate, s, "invalid SMTP settings"); err != nil {
			return nil, err
		}
	}
	return o.transport.TestConnection(ctx, s)
}

func (o *Orchestrator) testConnection(ctx context.Context, s SMTPSettings) error {
	res, err := o.transport.TestConnection(ctx, s)
	if err != nil {
		return err
	}
	if !res.Success {
		return &ValidationError{Message: fmt.Sprintf("SMTP connection failed: %s", res.Error)}
	}
	return nil
}

// buildPayload assembles one outbound email per included preview plus the
// batch-wide attachment dictionary.
func (o *Orchestrator) buildPayload(req Request, included []preview.Preview, d *diag.Diagnostics) *Payload {
	p := &Payload{
		Emails:       make([]OutboundEmail, 0, len(included)),
		CSVData:      req.CSVData,
		Attachments:  make(map[string]PoolAttachment),
		SMTPSettings: req.SMTP,
	}

	for _, pv := range included {
		pd := &diag.Diagnostics{}
		refs := req.Previews.Resolve(pv, pd)
		d.MergeFor(pd, pv.Label())

		attachments := make([]OutboundAttachment, 0, len(refs))
		for _, ref := range refs {
			attachments = append(attachments, OutboundAttachment{
				Filename: ref.Filename,
				Size:     ref.Size,
				Type:     ref.MimeType,
				Data:     ref.DataURL(),
			})
		}
		if len(refs) != len(pv.Attachments) {
			slog.Debug("attachments changed since preview",
				"email", pv.Index+1,
				"previewed", len(pv.Attachments),
				"resolved", len(refs),
			)
		}

		p.Emails = append(p.Emails, OutboundEmail{
			RowNumber:   pv.Recipient.RowNumber,
			To:          pv.To,
			From:        pv.From,
			Cc:          pv.Cc,
			Bcc:         pv.Bcc,
			Subject:     pv.Subject,
			Body:        pv.Body,
			Attachments: attachments,
		})
	}

	if req.Attachments != nil {
		for _, e := range req.Attachments.Entries() {
			if e.Payload == "" {
				d.Add(diag.KindAttachmentOmission, e.Filename, "pool attachment has no data")
				continue
			}
			p.Attachments[e.Filename] = PoolAttachment{
				Filename:   e.Filename,
				Type:       e.MimeType,
				Size:       e.Size,
				Data:       e.DataURL(),
				UploadedAt: e.UploadedAt,
			}
		}
	}
	return p
}
