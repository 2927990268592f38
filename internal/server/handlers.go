package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/shineum/mailmerge-lite/internal/provider"
	"github.com/shineum/mailmerge-lite/internal/send"
)

// verifyTimeout bounds a connection test.
const verifyTimeout = 30 * time.Second

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, send.ServiceStatus{
		DemoMode:    s.cfg.DemoMode,
		Provider:    s.factory.Name(),
		UsesAccount: s.factory.UsesAccount(),
	})
}

func (s *Server) handleSendEmails(w http.ResponseWriter, r *http.Request) {
	var payload send.Payload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.rejectBatch(w, decodeStatus(err), fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if len(payload.Emails) == 0 {
		s.rejectBatch(w, http.StatusBadRequest, "no emails to send")
		return
	}

	if s.cfg.DemoMode {
		writeJSON(w, http.StatusOK, s.demoResult(&payload))
		return
	}

	if s.factory.UsesAccount() {
		if err := send.Validate(s.validate, payload.SMTPSettings, "invalid SMTP settings"); err != nil {
			s.rejectBatch(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	prov, err := s.factory.For(account(payload.SMTPSettings))
	if err != nil {
		s.rejectBatch(w, http.StatusBadRequest, err.Error())
		return
	}

	results := s.deliver(r.Context(), prov, &payload)
	summary := send.Summarize(results)
	s.metrics.RecordBatch("completed", len(results))

	slog.Info("batch processed",
		"provider", prov.Name(),
		"sent", summary.Sent,
		"failed", summary.Failed,
	)

	writeJSON(w, http.StatusOK, send.BatchResult{
		Success: true,
		Results: results,
		Summary: summary.String(),
	})
}

func (s *Server) handleTestSMTP(w http.ResponseWriter, r *http.Request) {
	var settings send.SMTPSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeJSON(w, decodeStatus(err), send.TestResult{Error: fmt.Sprintf("invalid request body: %v", err)})
		return
	}

	if s.cfg.DemoMode {
		writeJSON(w, http.StatusOK, send.TestResult{
			Success: true,
			Message: "DEMO MODE: SMTP test skipped (always passes)",
		})
		return
	}

	if s.factory.UsesAccount() {
		if err := send.Validate(s.validate, settings, "Missing SMTP settings"); err != nil {
			writeJSON(w, http.StatusBadRequest, send.TestResult{Error: err.Error()})
			return
		}
	}

	prov, err := s.factory.For(account(settings))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, send.TestResult{Error: err.Error()})
		return
	}

	verifier, ok := prov.(provider.Verifier)
	if !ok {
		writeJSON(w, http.StatusOK, send.TestResult{
			Success: true,
			Message: fmt.Sprintf("no connection test available for the %s provider", prov.Name()),
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), verifyTimeout)
	defer cancel()
	if err := verifier.Verify(ctx); err != nil {
		slog.Warn("connection test failed", "provider", prov.Name(), "error", err)
		writeJSON(w, http.StatusOK, send.TestResult{Error: fmt.Sprintf("SMTP connection failed: %v", err)})
		return
	}
	writeJSON(w, http.StatusOK, send.TestResult{Success: true, Message: "SMTP connection successful"})
}

// demoResult reports every email as sent.
func (s *Server) demoResult(payload *send.Payload) send.BatchResult {
	rows := newRowIndex(payload.CSVData)
	results := make([]send.Result, len(payload.Emails))
	for i, e := range payload.Emails {
		results[i] = send.Result{Email: e.To, RowNumber: rows.rowNumber(e, i), Success: true}
	}
	s.metrics.RecordBatch("demo", len(results))
	return send.BatchResult{
		Success: true,
		Results: results,
		Summary: fmt.Sprintf("DEMO MODE: Would have sent %d emails successfully", len(results)),
		Demo:    true,
	}
}

func (s *Server) rejectBatch(w http.ResponseWriter, status int, msg string) {
	s.metrics.RecordBatch("rejected", 0)
	slog.Warn("batch rejected", "error", msg)
	writeJSON(w, status, send.BatchResult{Error: msg})
}

func account(settings send.SMTPSettings) provider.Account {
	return provider.Account{
		Host:     settings.Server,
		Port:     int(settings.Port),
		Username: settings.User,
		Password: settings.Password,
	}
}

func decodeStatus(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}
