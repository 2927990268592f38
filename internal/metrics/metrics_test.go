package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

// value returns the counter value or histogram sample count of the series
// of family name whose labels include all of labels.
func value(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
	series:
		for _, metric := range fam.GetMetric() {
			for k, v := range labels {
				found := false
				for _, lp := range metric.GetLabel() {
					if lp.GetName() == k && lp.GetValue() == v {
						found = true
					}
				}
				if !found {
					continue series
				}
			}
			if h := metric.GetHistogram(); h != nil {
				return float64(h.GetSampleCount())
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}

func TestRecordEmail(t *testing.T) {
	t.Parallel()

	m := New()
	m.RecordEmail("smtp", true, 10*time.Millisecond)
	m.RecordEmail("smtp", true, 20*time.Millisecond)
	m.RecordEmail("smtp", false, time.Millisecond)

	if got := value(t, m, "mailmerge_emails_total", map[string]string{"provider": "smtp", "result": "sent"}); got != 2 {
		t.Errorf("sent: got %v, want 2", got)
	}
	if got := value(t, m, "mailmerge_emails_total", map[string]string{"provider": "smtp", "result": "failed"}); got != 1 {
		t.Errorf("failed: got %v, want 1", got)
	}
}

func TestRecordBatch(t *testing.T) {
	t.Parallel()

	m := New()
	m.RecordBatch("completed", 3)
	m.RecordBatch("rejected", 0)

	if got := value(t, m, "mailmerge_batches_total", map[string]string{"outcome": "completed"}); got != 1 {
		t.Errorf("completed: got %v", got)
	}
	if got := value(t, m, "mailmerge_batch_size", nil); got != 1 {
		t.Errorf("batch size samples: got %v, want 1", got)
	}
}

func TestMiddlewareAndHandler(t *testing.T) {
	t.Parallel()

	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Method(http.MethodGet, "/metrics", m.Handler())

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items/42", nil))
	}

	if got := value(t, m, "mailmerge_http_requests_total", map[string]string{"method": "GET", "endpoint": "/items/{id}", "status_code": "418"}); got != 2 {
		t.Errorf("requests: got %v, want 2", got)
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{"mailmerge_http_requests_total", "go_goroutines"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
