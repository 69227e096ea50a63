package audithttp

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dateapp/dateapp-admin/internal/audit"
	"github.com/dateapp/dateapp-admin/internal/platform/httpx"
	"github.com/dateapp/dateapp-admin/internal/shared"
)

const (
	defaultLimit = 100
	maxLimit     = 500
)

// LogReader is the query side of the audit log; *audit.Log satisfies it.
type LogReader interface {
	Query(ctx context.Context, f audit.Filter) iter.Seq2[audit.Entry, error]
	Collect(ctx context.Context, f audit.Filter, limit int) ([]audit.Entry, bool, error)
}

// Handler serves audit log queries and exports.
type Handler struct {
	logger *slog.Logger
	log    LogReader
}

// NewHandler builds an audit handler.
func NewHandler(logger *slog.Logger, log LogReader) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, log: log}
}

type listResponse struct {
	Entries []audit.Entry `json:"entries"`
	// NextAfter resumes the scan when more entries exist.
	NextAfter *int64 `json:"nextAfter,omitempty"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entries, more, err := h.log.Collect(r.Context(), filter, limit)
	if err != nil {
		h.logger.Error("query audit log", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	resp := listResponse{Entries: entries}
	if resp.Entries == nil {
		resp.Entries = []audit.Entry{}
	}
	if more && len(entries) > 0 {
		next := entries[len(entries)-1].Seq
		resp.NextAfter = &next
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=\"audit-log.csv\"")
	if err := audit.WriteCSV(w, h.log.Query(r.Context(), filter)); err != nil {
		// Headers are already sent; the truncated body is all the client gets.
		h.logger.Error("export audit log", slog.Any("error", err))
	}
}

func parseFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	f := audit.Filter{
		PrincipalID: strings.TrimSpace(q.Get("principal")),
		ResourceID:  strings.TrimSpace(q.Get("resource")),
		Action:      strings.TrimSpace(q.Get("action")),
	}
	var err error
	if f.From, err = parseTime(q.Get("from"), false); err != nil {
		return audit.Filter{}, fmt.Errorf("%w: from: %v", shared.ErrValidation, err)
	}
	if f.To, err = parseTime(q.Get("to"), true); err != nil {
		return audit.Filter{}, fmt.Errorf("%w: to: %v", shared.ErrValidation, err)
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.From.Before(f.To) {
		return audit.Filter{}, fmt.Errorf("%w: from must precede to", shared.ErrValidation)
	}
	if v := strings.TrimSpace(q.Get("after")); v != "" {
		after, err := strconv.ParseInt(v, 10, 64)
		if err != nil || after < 0 {
			return audit.Filter{}, fmt.Errorf("%w: after must be a sequence number", shared.ErrValidation)
		}
		f.AfterSeq = after
	}
	return f, nil
}

// parseTime accepts RFC3339 or a bare date. A bare date used as an upper
// bound covers the whole day.
func parseTime(raw string, upper bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, err
	}
	if upper {
		t = t.AddDate(0, 0, 1)
	}
	return t, nil
}

func parseLimit(r *http.Request) (int, error) {
	v := strings.TrimSpace(r.URL.Query().Get("limit"))
	if v == "" {
		return defaultLimit, nil
	}
	limit, err := strconv.Atoi(v)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("%w: limit must be positive", shared.ErrValidation)
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit, nil
}
