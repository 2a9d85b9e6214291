// Package httpapi exposes the operational JSON API of the engine: rule CRUD
// (the "form submission" surface that creates rules), the manual run
// trigger, and read access to the ledger audit trail and notification
// inbox. It is an ops surface, not a UI.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ledgerd/internal/core"
)

// RuleStore is the slice of the persistence collaborator the API serves.
type RuleStore interface {
	CreateRule(ctx context.Context, rule core.Rule) (int64, error)
	GetRule(ctx context.Context, id int64) (*core.Rule, error)
	ListRules(ctx context.Context) ([]core.Rule, error)
	UpdateRule(ctx context.Context, rule core.Rule) error
	SetRuleActive(ctx context.Context, id int64, active bool) error
	DeleteRule(ctx context.Context, id int64) error
	ListTransactions(ctx context.Context, limit int) ([]core.Transaction, error)
	ListNotifications(ctx context.Context, limit int) ([]core.Notification, error)
}

// PassRunner runs one synchronous resolve-and-materialize pass.
type PassRunner interface {
	RunForeground(ctx context.Context) (int, error)
}

type Server struct {
	store  RuleStore
	runner PassRunner
	srv    *http.Server
}

func NewServer(port string, store RuleStore, runner PassRunner) *Server {
	s := &Server{store: store, runner: runner}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/run", s.handleRun)
	mux.HandleFunc("/api/rules", s.handleRules)
	mux.HandleFunc("/api/rules/", s.handleRuleByID)
	mux.HandleFunc("/api/transactions", s.handleTransactions)
	mux.HandleFunc("/api/inbox", s.handleInbox)

	s.srv = &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	executed, err := s.runner.RunForeground(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "Manual pass failed", "error", err)
		writeError(w, http.StatusInternalServerError, "pass failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"executed": executed})
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		rules, err := s.store.ListRules(r.Context())
		if err != nil {
			slog.ErrorContext(r.Context(), "Failed to list rules", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to list rules")
			return
		}
		out := make([]ruleResponse, len(rules))
		for i, rule := range rules {
			out[i] = toRuleResponse(rule)
		}
		writeJSON(w, http.StatusOK, out)

	case http.MethodPost:
		var payload rulePayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		rule, err := payload.toRule()
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}

		id, err := s.store.CreateRule(r.Context(), rule)
		if err != nil {
			slog.ErrorContext(r.Context(), "Failed to create rule", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to create rule")
			return
		}

		rule.ID = id
		writeJSON(w, http.StatusCreated, toRuleResponse(rule))

	default:
		methodNotAllowed(w, "GET, POST")
	}
}

func (s *Server) handleRuleByID(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/api/rules/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid rule id")
		return
	}

	switch r.Method {
	case http.MethodGet:
		rule, err := s.store.GetRule(r.Context(), id)
		if err != nil {
			s.writeStoreError(w, r, err, "get rule")
			return
		}
		writeJSON(w, http.StatusOK, toRuleResponse(*rule))

	case http.MethodPut:
		var payload rulePayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		// A user edit rewrites the template and reseeds the schedule from
		// the new start instant.
		rule, err := payload.toRule()
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		rule.ID = id

		if err := s.store.UpdateRule(r.Context(), rule); err != nil {
			s.writeStoreError(w, r, err, "update rule")
			return
		}

		// The update leaves is_active and last_executed alone, so the
		// payload-derived rule is not what is stored. Render the stored row.
		updated, err := s.store.GetRule(r.Context(), id)
		if err != nil {
			s.writeStoreError(w, r, err, "get rule")
			return
		}
		writeJSON(w, http.StatusOK, toRuleResponse(*updated))

	case http.MethodPatch:
		var body struct {
			Active *bool `json:"active"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Active == nil {
			writeError(w, http.StatusBadRequest, "body must be {\"active\": true|false}")
			return
		}

		if err := s.store.SetRuleActive(r.Context(), id, *body.Active); err != nil {
			s.writeStoreError(w, r, err, "toggle rule")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "active": *body.Active})

	case http.MethodDelete:
		if err := s.store.DeleteRule(r.Context(), id); err != nil {
			s.writeStoreError(w, r, err, "delete rule")
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		methodNotAllowed(w, "GET, PUT, PATCH, DELETE")
	}
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	limit := queryLimit(r, 100)
	transactions, err := s.store.ListTransactions(r.Context(), limit)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to list transactions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list transactions")
		return
	}

	out := make([]transactionResponse, len(transactions))
	for i, t := range transactions {
		out[i] = toTransactionResponse(t)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	limit := queryLimit(r, 50)
	notifications, err := s.store.ListNotifications(r.Context(), limit)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to list notifications", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}

	out := make([]notificationResponse, len(notifications))
	for i, n := range notifications {
		out[i] = toNotificationResponse(n)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, err error, op string) {
	if errors.Is(err, core.ErrRuleNotFound) {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	slog.ErrorContext(r.Context(), "Store operation failed", "op", op, "error", err)
	writeError(w, http.StatusInternalServerError, op+" failed")
}

func queryLimit(r *http.Request, def int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			return n
		}
	}
	return def
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func methodNotAllowed(w http.ResponseWriter, allow string) {
	w.Header().Set("Allow", allow)
	w.WriteHeader(http.StatusMethodNotAllowed)
}
