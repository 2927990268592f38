package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/shineum/mailmerge-lite/internal/email"
	"github.com/shineum/mailmerge-lite/internal/provider"
	"github.com/shineum/mailmerge-lite/internal/send"
)

// fakeProvider records delivered messages and fails for listed recipients.
type fakeProvider struct {
	mu        sync.Mutex
	sent      []*email.Email
	failFor   map[string]error
	verifyErr error
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Send(_ context.Context, msg *email.Email) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[msg.To[0]]; err != nil {
		return err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeProvider) Verify(context.Context) error { return f.verifyErr }

func (f *fakeProvider) messages() []*email.Email {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*email.Email(nil), f.sent...)
}

// plainProvider does not implement provider.Verifier.
type plainProvider struct{}

func (plainProvider) Name() string                             { return "plain" }
func (plainProvider) Send(context.Context, *email.Email) error { return nil }

// accountFactory builds providers per request account.
type accountFactory struct {
	mu       sync.Mutex
	accounts []provider.Account
	p        provider.Provider
}

func (f *accountFactory) Name() string      { return "account" }
func (f *accountFactory) UsesAccount() bool { return true }
func (f *accountFactory) For(acct provider.Account) (provider.Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts = append(f.accounts, acct)
	return f.p, nil
}

func post(t *testing.T, h http.Handler, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatal(err)
		}
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, &buf))
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("response is not JSON: %q", rec.Body.String())
	}
	return rec, out
}

func decodeBatch(t *testing.T, rec *httptest.ResponseRecorder) send.BatchResult {
	t.Helper()
	var res send.BatchResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("invalid batch result: %v", err)
	}
	return res
}

func TestSendEmails(t *testing.T) {
	t.Parallel()

	fake := &fakeProvider{failFor: map[string]error{"carol@example.com": errors.New("mailbox full")}}
	srv := New(Config{}, provider.Static(fake), nil)

	payload := send.Payload{
		CSVData: "name,email\nAnn,ann@example.com\nBob,bob@example.com\nCarol,carol@example.com",
		Emails: []send.OutboundEmail{
			{
				To:      "bob@example.com",
				From:    `"Sender" <sender@example.com>`,
				Cc:      "cc1@example.com, cc2@example.com",
				Subject: "Hello Bob",
				Body:    "<p>Hi <b>Bob</b></p>",
				Attachments: []send.OutboundAttachment{
					{Filename: "a.txt", Type: "text/plain", Data: "data:text/plain;base64," + base64.StdEncoding.EncodeToString([]byte("alpha"))},
					{Filename: "b.pdf", Data: "data:application/pdf;base64," + base64.StdEncoding.EncodeToString([]byte("%PDF-1.4"))},
					{Filename: "c.bin", Data: base64.StdEncoding.EncodeToString([]byte("raw"))},
				},
			},
			{To: "ann@example.com", From: "sender@example.com", Subject: "Hello Ann", Body: "Plain text"},
			{To: "carol@example.com", From: "sender@example.com", Body: "x"},
			{To: "not-an-address", From: "sender@example.com", Body: "x"},
		},
	}

	rec, _ := post(t, srv.Handler(), "/send-emails", payload)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	res := decodeBatch(t, rec)
	if !res.Success || res.Summary != "Sent 2 of 4 emails" || res.Demo {
		t.Errorf("batch: got %+v", res)
	}

	want := []send.Result{
		{Email: "bob@example.com", RowNumber: 3, Success: true},
		{Email: "ann@example.com", RowNumber: 2, Success: true},
		{Email: "carol@example.com", RowNumber: 4, Error: "mailbox full"},
		{Email: "not-an-address", RowNumber: 5, Error: `invalid recipient address "not-an-address"`},
	}
	if len(res.Results) != len(want) {
		t.Fatalf("results: got %+v", res.Results)
	}
	for i, w := range want {
		if res.Results[i] != w {
			t.Errorf("result %d: got %+v, want %+v", i, res.Results[i], w)
		}
	}

	msgs := fake.messages()
	if len(msgs) != 2 {
		t.Fatalf("delivered: got %d", len(msgs))
	}
	bob := msgs[0]
	if bob.From != "sender@example.com" || bob.FromName != "Sender" {
		t.Errorf("from: got %q %q", bob.FromName, bob.From)
	}
	if len(bob.Cc) != 2 || bob.Cc[1] != "cc2@example.com" {
		t.Errorf("cc: got %v", bob.Cc)
	}
	if bob.HtmlBody != "<p>Hi <b>Bob</b></p>" || bob.TextBody != "Hi Bob" {
		t.Errorf("body: html=%q text=%q", bob.HtmlBody, bob.TextBody)
	}
	if !strings.HasPrefix(bob.MessageID, "<") || !strings.HasSuffix(bob.MessageID, "@example.com>") {
		t.Errorf("message id: got %q", bob.MessageID)
	}
	atts := bob.Attachments
	if len(atts) != 3 {
		t.Fatalf("attachments: got %d", len(atts))
	}
	if string(atts[0].Content) != "alpha" || atts[0].ContentType != "text/plain" {
		t.Errorf("attachment 0: got %+v", atts[0])
	}
	if atts[1].ContentType != "application/pdf" {
		t.Errorf("attachment 1 type from data URL: got %q", atts[1].ContentType)
	}
	if string(atts[2].Content) != "raw" || atts[2].ContentType == "" {
		t.Errorf("attachment 2: got %+v", atts[2])
	}

	ann := msgs[1]
	if ann.HtmlBody != "" || ann.TextBody != "Plain text" {
		t.Errorf("plain body: html=%q text=%q", ann.HtmlBody, ann.TextBody)
	}
}

func TestSendEmails_InvalidEmailFields(t *testing.T) {
	t.Parallel()

	fake := &fakeProvider{}
	srv := New(Config{}, provider.Static(fake), nil)

	rec, _ := post(t, srv.Handler(), "/send-emails", send.Payload{Emails: []send.OutboundEmail{
		{To: "a@example.com", From: "nobody"},
		{To: "", From: "me@example.com"},
		{To: "a@example.com", From: "me@example.com", Attachments: []send.OutboundAttachment{{Filename: "x", Data: "data:text/plain,hello"}}},
	}})
	res := decodeBatch(t, rec)

	wantErrs := []string{`invalid from address "nobody"`, "to is required", "data URL is not base64 encoded"}
	for i, want := range wantErrs {
		if res.Results[i].Success || !strings.Contains(res.Results[i].Error, want) {
			t.Errorf("result %d: got %+v, want error containing %q", i, res.Results[i], want)
		}
		if res.Results[i].RowNumber != i+1 {
			t.Errorf("result %d: row %d, want batch position %d", i, res.Results[i].RowNumber, i+1)
		}
	}
	if len(fake.messages()) != 0 {
		t.Error("nothing should be delivered")
	}
}

func TestSendEmails_RequestErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		cfg        Config
		body       any
		wantStatus int
		wantErr    string
	}{
		{name: "invalid json", body: "{not json", wantStatus: http.StatusBadRequest, wantErr: "invalid request body"},
		{name: "no emails", body: send.Payload{}, wantStatus: http.StatusBadRequest, wantErr: "no emails to send"},
		{
			name:       "body too large",
			cfg:        Config{MaxBodyBytes: 16},
			body:       send.Payload{Emails: []send.OutboundEmail{{To: "a@example.com", From: "b@example.com"}}},
			wantStatus: http.StatusRequestEntityTooLarge,
			wantErr:    "invalid request body",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := New(tt.cfg, provider.Static(&fakeProvider{}), nil)
			rec, out := post(t, srv.Handler(), "/send-emails", tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("status: got %d, want %d", rec.Code, tt.wantStatus)
			}
			if out["success"] != false || !strings.Contains(out["error"].(string), tt.wantErr) {
				t.Errorf("body: got %v", out)
			}
		})
	}
}

func TestSendEmails_AccountValidation(t *testing.T) {
	t.Parallel()

	fake := &fakeProvider{}
	factory := &accountFactory{p: fake}
	srv := New(Config{}, factory, nil)
	emails := []send.OutboundEmail{{To: "a@example.com", From: "me@example.com", Body: "x"}}

	rec, out := post(t, srv.Handler(), "/send-emails", send.Payload{
		Emails:       emails,
		SMTPSettings: send.SMTPSettings{Server: "smtp.example.com", Port: 587, User: "me@example.com"},
	})
	if rec.Code != http.StatusBadRequest || !strings.Contains(out["error"].(string), "smtpPassword is required") {
		t.Fatalf("missing password: got %d %v", rec.Code, out)
	}

	rec, _ = post(t, srv.Handler(), "/send-emails", send.Payload{
		Emails:       emails,
		SMTPSettings: send.SMTPSettings{Server: "smtp.example.com", Port: 587, User: "me@example.com", Password: "pw"},
	})
	if res := decodeBatch(t, rec); !res.Success || res.Summary != "Sent 1 of 1 emails" {
		t.Fatalf("valid settings: got %+v", res)
	}
	want := provider.Account{Host: "smtp.example.com", Port: 587, Username: "me@example.com", Password: "pw"}
	if len(factory.accounts) != 1 || factory.accounts[0] != want {
		t.Errorf("accounts: got %+v", factory.accounts)
	}
}

func TestSendEmails_DemoMode(t *testing.T) {
	t.Parallel()

	fake := &fakeProvider{}
	srv := New(Config{DemoMode: true}, &accountFactory{p: fake}, nil)

	rec, _ := post(t, srv.Handler(), "/send-emails", send.Payload{
		CSVData: "email\nx@example.com\ny@example.com",
		Emails: []send.OutboundEmail{
			{To: "y@example.com", From: "me@example.com"},
			{To: "z@example.com", From: "me@example.com"},
		},
	})
	res := decodeBatch(t, rec)
	if !res.Success || !res.Demo || res.Summary != "DEMO MODE: Would have sent 2 emails successfully" {
		t.Errorf("demo batch: got %+v", res)
	}
	if res.Results[0].RowNumber != 3 || res.Results[1].RowNumber != 3 || !res.Results[1].Success {
		t.Errorf("demo results: got %+v", res.Results)
	}
	if len(fake.messages()) != 0 {
		t.Error("demo mode must not deliver")
	}
}

func TestTestSMTP(t *testing.T) {
	t.Parallel()

	valid := send.SMTPSettings{Server: "smtp.example.com", Port: 587, User: "u", Password: "p"}
	tests := []struct {
		name        string
		cfg         Config
		factory     provider.Factory
		body        any
		wantSuccess bool
		wantText    string
	}{
		{name: "demo", cfg: Config{DemoMode: true}, factory: &accountFactory{p: &fakeProvider{}}, body: send.SMTPSettings{}, wantSuccess: true, wantText: "DEMO MODE: SMTP test skipped (always passes)"},
		{name: "missing settings", factory: &accountFactory{p: &fakeProvider{}}, body: send.SMTPSettings{Server: "smtp.example.com"}, wantText: "Missing SMTP settings"},
		{name: "success", factory: &accountFactory{p: &fakeProvider{}}, body: valid, wantSuccess: true, wantText: "SMTP connection successful"},
		{name: "failure", factory: &accountFactory{p: &fakeProvider{verifyErr: errors.New("535 auth failed")}}, body: valid, wantText: "SMTP connection failed: 535 auth failed"},
		{name: "no verifier", factory: provider.Static(plainProvider{}), body: send.SMTPSettings{}, wantSuccess: true, wantText: "no connection test available for the plain provider"},
		{name: "invalid json", factory: provider.Static(plainProvider{}), body: "nope", wantText: "invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := New(tt.cfg, tt.factory, nil)
			_, out := post(t, srv.Handler(), "/test-smtp", tt.body)
			if out["success"] != tt.wantSuccess {
				t.Errorf("success: got %v", out)
			}
			text, _ := out["message"].(string)
			if !tt.wantSuccess {
				text, _ = out["error"].(string)
			}
			if !strings.Contains(text, tt.wantText) {
				t.Errorf("text: got %q, want containing %q", text, tt.wantText)
			}
		})
	}
}

func TestStatusHealthAndMetrics(t *testing.T) {
	t.Parallel()

	srv := New(Config{DemoMode: true}, provider.Static(plainProvider{}), nil)
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	var status send.ServiceStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if !status.DemoMode || status.Provider != "plain" || status.UsesAccount {
		t.Errorf("status: got %+v", status)
	}

	rec = httptest.NewRecorder()
	New(Config{}, &accountFactory{p: &fakeProvider{}}, nil).Handler().
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	status = send.ServiceStatus{}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if !status.UsesAccount {
		t.Errorf("account factory status: got %+v", status)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("healthz: got %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `mailmerge_http_requests_total{endpoint="/api/status"`) {
		t.Errorf("metrics should count earlier requests:\n%s", rec.Body.String())
	}
}

func TestDecodeData(t *testing.T) {
	t.Parallel()

	hello := base64.StdEncoding.EncodeToString([]byte("hello"))
	tests := []struct {
		in       string
		want     string
		wantType string
		wantErr  bool
	}{
		{in: "data:text/plain;base64," + hello, want: "hello", wantType: "text/plain"},
		{in: hello, want: "hello"},
		{in: "data:;base64," + hello, want: "hello"},
		{in: "data:text/plain;base64", wantErr: true},
		{in: "data:text/plain," + hello, wantErr: true},
		{in: "!!!", wantErr: true},
	}
	for _, tt := range tests {
		got, gotType, err := decodeData(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("decodeData(%q): error %v", tt.in, err)
			continue
		}
		if string(got) != tt.want || gotType != tt.wantType {
			t.Errorf("decodeData(%q): got %q %q", tt.in, got, gotType)
		}
	}
}

func TestRowIndex(t *testing.T) {
	t.Parallel()

	idx := newRowIndex("Name,Email\nA,a@example.com\nB,B@Example.com\nA2,a@example.com")
	checks := []struct {
		to   string
		want int
	}{
		{"a@example.com", 2},
		{"b@example.com", 3},
		{"a@example.com", 4},
		{"a@example.com", 9},
		{`"Bee" <b@example.com>`, 9},
	}
	for _, c := range checks {
		if got := idx.claim(c.to, 9); got != c.want {
			t.Errorf("claim(%q): got %d, want %d", c.to, got, c.want)
		}
	}

	if got := newRowIndex("not csv").claim("a@example.com", 5); got != 5 {
		t.Errorf("unparseable csv should fall back, got %d", got)
	}
}

func TestRowIndex_RowNumber(t *testing.T) {
	t.Parallel()

	idx := newRowIndex("email\na@example.com\nb@example.com")
	tests := []struct {
		name string
		oe   send.OutboundEmail
		i    int
		want int
	}{
		{"client row number wins", send.OutboundEmail{To: "b@example.com", RowNumber: 7}, 0, 7},
		{"address in csv", send.OutboundEmail{To: "b@example.com"}, 0, 3},
		{"first email falls back to first data line", send.OutboundEmail{To: "x@example.com"}, 0, 2},
		{"position fallback counts the header", send.OutboundEmail{To: "y@example.com"}, 4, 6},
	}
	for _, tt := range tests {
		if got := idx.rowNumber(tt.oe, tt.i); got != tt.want {
			t.Errorf("%s: got %d, want %d", tt.name, got, tt.want)
		}
	}
}
