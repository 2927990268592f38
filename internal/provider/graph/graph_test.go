package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shineum/mailmerge-lite/internal/email"
)

func init() {
	baseRetryDelay = time.Millisecond
}

// fakeGraph serves both the token and the sendMail endpoints.
type fakeGraph struct {
	mu         sync.Mutex
	tokenCalls int
	sendCalls  int
	requests   []sendMailRequest
	authHeader []string

	// statuses is consumed one per sendMail call; 202 once exhausted.
	statuses   []int
	retryAfter string
	tokenFail  bool
}

func (f *fakeGraph) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.tokenCalls++
		n := f.tokenCalls
		fail := f.tokenFail
		f.mu.Unlock()

		if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "client_credentials" {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		if fail {
			http.Error(w, `{"error":"invalid_client"}`, http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"token-%d","expires_in":3600,"token_type":"Bearer"}`, n)
	})
	mux.HandleFunc("/send", func(w http.ResponseWriter, r *http.Request) {
		var req sendMailRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		f.mu.Lock()
		f.sendCalls++
		f.requests = append(f.requests, req)
		f.authHeader = append(f.authHeader, r.Header.Get("Authorization"))
		status := http.StatusAccepted
		if len(f.statuses) > 0 {
			status, f.statuses = f.statuses[0], f.statuses[1:]
		}
		retryAfter := f.retryAfter
		f.mu.Unlock()

		if status == http.StatusTooManyRequests && retryAfter != "" {
			w.Header().Set("Retry-After", retryAfter)
		}
		w.WriteHeader(status)
		if status >= 400 {
			fmt.Fprintf(w, `{"error":{"code":"ErrorCode%d","message":"status %d"}}`, status, status)
		}
	})
	return mux
}

func (f *fakeGraph) counts() (sends, tokens int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sendCalls, f.tokenCalls
}

func newTestProvider(t *testing.T, fake *fakeGraph) *Provider {
	t.Helper()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)
	cfg := Config{TenantID: "tenant", ClientID: "id", ClientSecret: "secret", Sender: "me@example.com"}
	return newWithEndpoints(cfg, srv.URL+"/send", srv.URL+"/token", srv.Client())
}

func TestNewSendMailRequest(t *testing.T) {
	t.Parallel()

	req := newSendMailRequest(&email.Email{
		From:     "me@example.com",
		To:       []string{"a@example.com", "b@example.com"},
		Cc:       []string{"c@example.com"},
		Bcc:      []string{"d@example.com"},
		Subject:  "Hello",
		TextBody: "plain",
		HtmlBody: "<b>rich</b>",
		Attachments: []email.Attachment{
			{Filename: "a.txt", ContentType: "text/plain", Content: []byte("hi")},
		},
	}, true)

	m := req.Message
	if m.Body.ContentType != "html" || m.Body.Content != "<b>rich</b>" {
		t.Errorf("body: got %+v", m.Body)
	}
	if len(m.ToRecipients) != 2 || m.ToRecipients[1].EmailAddress.Address != "b@example.com" {
		t.Errorf("to: got %+v", m.ToRecipients)
	}
	if len(m.CcRecipients) != 1 || len(m.BccRecipients) != 1 || m.BccRecipients[0].EmailAddress.Address != "d@example.com" {
		t.Errorf("copies: cc=%+v bcc=%+v", m.CcRecipients, m.BccRecipients)
	}
	if len(m.Attachments) != 1 || m.Attachments[0].ContentBytes != "aGk=" || m.Attachments[0].ODataType != "#microsoft.graph.fileAttachment" {
		t.Errorf("attachments: got %+v", m.Attachments)
	}
	if !req.SaveToSentItems {
		t.Error("SaveToSentItems should be set")
	}

	data, err := json.Marshal(newSendMailRequest(&email.Email{To: []string{"a@example.com"}, TextBody: "x"}, false))
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"ccRecipients", "bccRecipients", "attachments"} {
		if strings.Contains(string(data), key) {
			t.Errorf("empty %s should be omitted: %s", key, data)
		}
	}
}

func TestSend(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		statuses   []int
		retryAfter string
		wantErr    string
		wantSends  int
		wantTokens int
	}{
		{name: "accepted", wantSends: 1, wantTokens: 1},
		{name: "server error then accepted", statuses: []int{503, 500}, wantSends: 3, wantTokens: 1},
		{name: "throttled with retry-after", statuses: []int{429}, retryAfter: "not-a-number", wantSends: 2, wantTokens: 1},
		{name: "unauthorized refreshes token", statuses: []int{401}, wantSends: 2, wantTokens: 2},
		{name: "bad request is permanent", statuses: []int{400}, wantErr: "HTTP 400, ErrorCode400", wantSends: 1, wantTokens: 1},
		{name: "forbidden is permanent", statuses: []int{403}, wantErr: "status 403", wantSends: 1, wantTokens: 1},
		{name: "gives up", statuses: []int{500, 500, 500, 500, 500}, wantErr: "after 3 retries", wantSends: 4, wantTokens: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fake := &fakeGraph{statuses: tt.statuses, retryAfter: tt.retryAfter}
			p := newTestProvider(t, fake)

			err := p.Send(context.Background(), &email.Email{
				From:     "me@example.com",
				To:       []string{"a@example.com"},
				Subject:  "Hi",
				TextBody: "Body",
			})
			if tt.wantErr == "" && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != "" && (err == nil || !strings.Contains(err.Error(), tt.wantErr)) {
				t.Fatalf("error: got %v, want containing %q", err, tt.wantErr)
			}

			fake.mu.Lock()
			defer fake.mu.Unlock()
			if fake.sendCalls != tt.wantSends {
				t.Errorf("send calls: got %d, want %d", fake.sendCalls, tt.wantSends)
			}
			if fake.tokenCalls != tt.wantTokens {
				t.Errorf("token calls: got %d, want %d", fake.tokenCalls, tt.wantTokens)
			}
		})
	}
}

func TestSend_UsesRefreshedToken(t *testing.T) {
	t.Parallel()

	fake := &fakeGraph{statuses: []int{401}}
	p := newTestProvider(t, fake)

	if err := p.Send(context.Background(), &email.Email{To: []string{"a@example.com"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"Bearer token-1", "Bearer token-2"}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.authHeader) != 2 || fake.authHeader[0] != want[0] || fake.authHeader[1] != want[1] {
		t.Errorf("authorization headers: got %v, want %v", fake.authHeader, want)
	}
}

func TestSend_TokenCached(t *testing.T) {
	t.Parallel()

	fake := &fakeGraph{}
	p := newTestProvider(t, fake)

	for i := 0; i < 3; i++ {
		if err := p.Send(context.Background(), &email.Email{To: []string{"a@example.com"}}); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if _, tokens := fake.counts(); tokens != 1 {
		t.Errorf("token calls: got %d, want 1", tokens)
	}
}

func TestSend_TokenFailure(t *testing.T) {
	t.Parallel()

	fake := &fakeGraph{tokenFail: true}
	p := newTestProvider(t, fake)

	err := p.Send(context.Background(), &email.Email{To: []string{"a@example.com"}})
	if err == nil || !strings.Contains(err.Error(), "failed to get access token") {
		t.Fatalf("expected token error, got %v", err)
	}
	if sends, _ := fake.counts(); sends != 0 {
		t.Errorf("sendMail should not be called, got %d calls", sends)
	}
}

func TestSend_ContextCancelledDuringRetry(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/token" {
			fmt.Fprint(w, `{"access_token":"t","expires_in":3600}`)
			return
		}
		calls.Add(1)
		cancel()
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	p := newWithEndpoints(Config{}, srv.URL+"/send", srv.URL+"/token", srv.Client())
	err := p.Send(ctx, &email.Email{To: []string{"a@example.com"}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("send calls: got %d, want 1", calls.Load())
	}
}

func TestVerify(t *testing.T) {
	t.Parallel()

	t.Run("valid credentials", func(t *testing.T) {
		t.Parallel()
		fake := &fakeGraph{}
		if err := newTestProvider(t, fake).Verify(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if sends, tokens := fake.counts(); sends != 0 || tokens != 1 {
			t.Errorf("Verify: got %d sends and %d token calls", sends, tokens)
		}
	})

	t.Run("rejected credentials", func(t *testing.T) {
		t.Parallel()
		fake := &fakeGraph{tokenFail: true}
		err := newTestProvider(t, fake).Verify(context.Background())
		if err == nil || !strings.Contains(err.Error(), "graph authentication failed") {
			t.Fatalf("expected auth error, got %v", err)
		}
	})
}

func TestTokenSource_Expiry(t *testing.T) {
	t.Parallel()

	fake := &fakeGraph{}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ts := newTokenSource(srv.URL+"/token", "id", "secret", srv.Client())
	ts.now = func() time.Time { return now }

	first, err := ts.Token(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	now = now.Add(54 * time.Minute)
	if got, _ := ts.Token(context.Background()); got != first {
		t.Errorf("token inside lifetime: got %q, want %q", got, first)
	}

	now = now.Add(2 * time.Minute)
	second, err := ts.Token(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if second == first {
		t.Error("token should be refreshed within the expiry buffer")
	}
}

func TestAPIError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err       *apiError
		retryable bool
		delay     time.Duration
		message   string
	}{
		{&apiError{status: 0, message: "dial"}, true, baseRetryDelay, "Graph API request failed: dial"},
		{&apiError{status: 429, retryAfter: "7"}, true, 7 * time.Second, "Graph API error (HTTP 429): "},
		{&apiError{status: 502, message: "bad gateway"}, true, baseRetryDelay, "Graph API error (HTTP 502): bad gateway"},
		{&apiError{status: 404, code: "ErrorItemNotFound", message: "nope"}, false, baseRetryDelay, "Graph API error (HTTP 404, ErrorItemNotFound): nope"},
	}
	for _, tt := range tests {
		if got := tt.err.retryable(); got != tt.retryable {
			t.Errorf("%d retryable: got %v", tt.err.status, got)
		}
		if got := tt.err.delay(0); got != tt.delay {
			t.Errorf("%d delay: got %v, want %v", tt.err.status, got, tt.delay)
		}
		if got := tt.err.Error(); got != tt.message {
			t.Errorf("%d message: got %q, want %q", tt.err.status, got, tt.message)
		}
	}
}
