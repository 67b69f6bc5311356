// Package api is the owner-facing read surface: moderated message history,
// verdict statistics, and the candidate-term review queue. It serves the
// data contract consumed by the dashboard; authentication sits in front of
// it at the edge and is not handled here.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/chatwarden/chatwarden/internal/message"
	"github.com/chatwarden/chatwarden/internal/models"
	"github.com/chatwarden/chatwarden/internal/policy"
	"github.com/chatwarden/chatwarden/internal/ratelimit"
	"github.com/chatwarden/chatwarden/internal/vocab"
)

// MessageReader is the message store surface the API reads from.
type MessageReader interface {
	Get(ctx context.Context, id string) (*message.Record, error)
	ListByOwner(ctx context.Context, f message.ListFilter) ([]*message.Record, error)
	CountByStatus(ctx context.Context, ownerID string) (map[models.Status]int, error)
	CountByReason(ctx context.Context, ownerID string) (map[models.Reason]int, error)
}

// TermStore is the candidate-term surface the review endpoints use.
type TermStore interface {
	List(ctx context.Context, ownerID string, status vocab.ReviewStatus, limit int) ([]*vocab.CandidateTerm, error)
	Decide(ctx context.Context, ownerID, word string, decision vocab.ReviewStatus, reason string) (bool, error)
}

// DecisionLimiter throttles review decisions per owner.
type DecisionLimiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
}

// Handler serves the read and review endpoints.
type Handler struct {
	messages MessageReader
	terms    TermStore
	limiter  DecisionLimiter
	logger   *slog.Logger
}

// NewHandler creates the API handler.
func NewHandler(messages MessageReader, terms TermStore, limiter DecisionLimiter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{messages: messages, terms: terms, limiter: limiter, logger: logger}
}

// Register mounts the API endpoints on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/messages", h.listMessages)
	mux.HandleFunc("/api/messages/", h.getMessage)
	mux.HandleFunc("/api/stats", h.stats)
	mux.HandleFunc("/api/terms", h.listTerms)
	mux.HandleFunc("/api/terms/decision", h.decideTerm)
	mux.HandleFunc("/health", h.health)
}

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := r.URL.Query()
	f := message.ListFilter{OwnerID: q.Get("owner_id")}
	if f.OwnerID == "" {
		writeError(w, http.StatusBadRequest, "owner_id is required")
		return
	}
	if s := q.Get("status"); s != "" {
		f.Status = models.Status(s)
		if !models.ValidStatus(f.Status) {
			writeError(w, http.StatusBadRequest, "unknown status "+strconv.Quote(s))
			return
		}
	}
	var err error
	if f.Since, err = parseTime(q.Get("since")); err != nil {
		writeError(w, http.StatusBadRequest, "since: "+err.Error())
		return
	}
	if f.Until, err = parseTime(q.Get("until")); err != nil {
		writeError(w, http.StatusBadRequest, "until: "+err.Error())
		return
	}
	if f.Limit, err = parseLimit(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := h.messages.ListByOwner(r.Context(), f)
	if err != nil {
		h.logger.Error("message list failed", "owner_id", f.OwnerID, "error", err)
		writeError(w, http.StatusInternalServerError, "listing messages failed")
		return
	}
	if records == nil {
		records = []*message.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": records})
}

func (h *Handler) getMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/messages/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	rec, err := h.messages.Get(r.Context(), id)
	if errors.Is(err, message.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no message with id "+strconv.Quote(id))
		return
	}
	if err != nil {
		h.logger.Error("message lookup failed", "message_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "message lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		writeError(w, http.StatusBadRequest, "owner_id is required")
		return
	}

	statuses, err := h.messages.CountByStatus(r.Context(), ownerID)
	if err != nil {
		h.logger.Error("status counts failed", "owner_id", ownerID, "error", err)
		writeError(w, http.StatusInternalServerError, "statistics unavailable")
		return
	}
	reasons, err := h.messages.CountByReason(r.Context(), ownerID)
	if err != nil {
		h.logger.Error("reason counts failed", "owner_id", ownerID, "error", err)
		writeError(w, http.StatusInternalServerError, "statistics unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"by_status": statuses,
		"by_reason": reasons,
	})
}

func (h *Handler) listTerms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := r.URL.Query()
	ownerID := q.Get("owner_id")
	if ownerID == "" {
		writeError(w, http.StatusBadRequest, "owner_id is required")
		return
	}

	// The review queue is the default view.
	status := vocab.ReviewPending
	if s := q.Get("status"); s != "" {
		status = vocab.ReviewStatus(s)
		if !vocab.ValidStatus(status) {
			writeError(w, http.StatusBadRequest, "unknown review status "+strconv.Quote(s))
			return
		}
	}
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	terms, err := h.terms.List(r.Context(), ownerID, status, limit)
	if err != nil {
		h.logger.Error("term list failed", "owner_id", ownerID, "error", err)
		writeError(w, http.StatusInternalServerError, "listing terms failed")
		return
	}
	if terms == nil {
		terms = []*vocab.CandidateTerm{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"terms": terms})
}

type decisionRequest struct {
	OwnerID  string `json:"owner_id"`
	Word     string `json:"word"`
	Decision string `json:"decision"`
	Reason   string `json:"reason,omitempty"`
}

func (h *Handler) decideTerm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.OwnerID == "" || req.Word == "" {
		writeError(w, http.StatusBadRequest, "owner_id and word are required")
		return
	}
	decision := vocab.ReviewStatus(req.Decision)
	if !vocab.ValidDecision(decision) {
		writeError(w, http.StatusBadRequest, "decision must be one of confirmed_hate_speech, rejected, ignored")
		return
	}

	if h.limiter != nil {
		allowed, err := h.limiter.Allow(r.Context(), req.OwnerID, ratelimit.RuleDecision)
		if err != nil {
			h.logger.Warn("decision limiter unavailable", "error", err)
		} else if !allowed {
			writeError(w, http.StatusTooManyRequests, "too many review decisions, slow down")
			return
		}
	}

	applied, err := h.terms.Decide(r.Context(), req.OwnerID, policy.Normalize(req.Word), decision, req.Reason)
	if errors.Is(err, vocab.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no candidate term "+strconv.Quote(req.Word))
		return
	}
	if err != nil {
		h.logger.Error("term decision failed", "owner_id", req.OwnerID, "word", req.Word, "error", err)
		writeError(w, http.StatusInternalServerError, "recording decision failed")
		return
	}

	// applied=false means the term was already decided; reviews are
	// idempotent, so that is still a success to the caller.
	writeJSON(w, http.StatusOK, map[string]interface{}{"applied": applied})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

func parseLimit(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	return n, nil
}
