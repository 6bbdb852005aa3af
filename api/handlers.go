package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/xraph/settle"
	"github.com/xraph/settle/session"
	"github.com/xraph/settle/settlement"
	"github.com/xraph/settle/types"
)

type sessionView struct {
	ID        session.ID     `json:"id"`
	Label     string         `json:"label,omitempty"`
	User      types.Address  `json:"user"`
	Active    bool           `json:"active"`
	Status    session.Status `json:"status"`
	Settled   bool           `json:"settled"`
	CreatedAt *time.Time     `json:"created_at,omitempty"`
	UpdatedAt *time.Time     `json:"updated_at,omitempty"`
}

func toSessionView(s session.Session, settled bool, queued int) sessionView {
	v := sessionView{
		ID:      s.ID,
		Label:   s.ID.Label(),
		User:    s.User,
		Active:  s.Active,
		Status:  s.StatusWithPayments(queued),
		Settled: settled,
	}
	if settled {
		v.Status = session.StatusSettled
	}
	if s.Exists() {
		v.CreatedAt, v.UpdatedAt = &s.CreatedAt, &s.UpdatedAt
	}
	return v
}

// ──────────────────────────────────────────────────
// System
// ──────────────────────────────────────────────────

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.eng.Store().Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "unavailable",
			"version": s.version,
			"error":   err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.version,
	})
}

func (s *Server) balance(w http.ResponseWriter, r *http.Request) {
	bal, err := s.eng.GetBalance(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"holder":  s.eng.Assets().Holder(),
		"balance": bal,
	})
}

// ──────────────────────────────────────────────────
// Sessions
// ──────────────────────────────────────────────────

type startSessionRequest struct {
	SessionID session.ID    `json:"session_id"`
	User      types.Address `json:"user"`
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.SessionID.IsZero() {
		s.writeError(w, r, fmt.Errorf("%w: session_id is required", errBadRequest))
		return
	}

	sess, err := s.eng.StartSession(r.Context(), req.SessionID, req.User)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionView(*sess, false, 0))
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sid, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	sess, err := s.eng.GetSession(r.Context(), sid)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	settled, err := s.eng.IsSessionSettled(r.Context(), sid)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !sess.Exists() && !settled {
		s.writeError(w, r, settle.ErrSessionNotFound)
		return
	}
	queued, err := s.eng.ListPayments(r.Context(), sid)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sess.ID = sid
	writeJSON(w, http.StatusOK, toSessionView(sess, settled, len(queued)))
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := session.ListOpts{}

	if u := q.Get("user"); u != "" {
		addr, err := types.ParseAddress(u)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: user: %w", errBadRequest, err))
			return
		}
		opts.User = addr
	}
	if a := q.Get("active"); a != "" {
		active, err := strconv.ParseBool(a)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: active: %w", errBadRequest, err))
			return
		}
		opts.Active = &active
	}
	var err error
	if opts.Limit, opts.Offset, err = page(r); err != nil {
		s.writeError(w, r, err)
		return
	}

	list, err := s.eng.ListSessions(r.Context(), opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]sessionView, len(list))
	for i, sess := range list {
		var queued []*session.Payment
		if sess.Active {
			if queued, err = s.eng.ListPayments(r.Context(), sess.ID); err != nil {
				s.writeError(w, r, err)
				return
			}
		}
		out[i] = toSessionView(*sess, !sess.Active, len(queued))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

// ──────────────────────────────────────────────────
// Settlement
// ──────────────────────────────────────────────────

type finalizeRequest struct {
	Amount    types.Amount  `json:"amount"`
	Recipient types.Address `json:"recipient"`
}

type finalizeBatchRequest struct {
	Instructions []settlement.Instruction `json:"instructions"`
}

func (s *Server) finalize(w http.ResponseWriter, r *http.Request) {
	sid, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	var req finalizeRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	receipt, err := s.eng.FinalizeSession(r.Context(), sid, req.Amount, req.Recipient)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) finalizeBatch(w http.ResponseWriter, r *http.Request) {
	sid, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	var req finalizeBatchRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	receipt, err := s.eng.FinalizeSessionBatch(r.Context(), sid, req.Instructions)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

type addPaymentRequest struct {
	Recipient types.Address `json:"recipient"`
	Amount    types.Amount  `json:"amount"`
}

func (s *Server) addPayment(w http.ResponseWriter, r *http.Request) {
	sid, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	var req addPaymentRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	p, err := s.eng.AddPayment(r.Context(), sid, req.Recipient, req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) listPayments(w http.ResponseWriter, r *http.Request) {
	sid, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	queued, err := s.eng.ListPayments(r.Context(), sid)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if queued == nil {
		queued = []*session.Payment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": queued})
}

func (s *Server) finalizePayments(w http.ResponseWriter, r *http.Request) {
	sid, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	receipt, err := s.eng.FinalizePayments(r.Context(), sid)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) sessionRecords(w http.ResponseWriter, r *http.Request) {
	sid, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	limit, offset, err := page(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeRecords(w, r, settlement.ListOpts{SessionID: sid, Limit: limit, Offset: offset})
}

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := settlement.ListOpts{Kind: settlement.Kind(q.Get("kind"))}
	switch opts.Kind {
	case "", settlement.KindSettlement, settlement.KindWithdrawal:
	default:
		s.writeError(w, r, fmt.Errorf("%w: unknown kind %q", errBadRequest, opts.Kind))
		return
	}
	if rc := q.Get("recipient"); rc != "" {
		addr, err := types.ParseAddress(rc)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: recipient: %w", errBadRequest, err))
			return
		}
		opts.Recipient = addr
	}
	var err error
	if opts.Limit, opts.Offset, err = page(r); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeRecords(w, r, opts)
}

func (s *Server) writeRecords(w http.ResponseWriter, r *http.Request, opts settlement.ListOpts) {
	records, err := s.eng.ListRecords(r.Context(), opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if records == nil {
		records = []*settlement.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

// ──────────────────────────────────────────────────
// Admin
// ──────────────────────────────────────────────────

type withdrawRequest struct {
	To     types.Address `json:"to"`
	Amount types.Amount  `json:"amount"`
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	raw := r.Header.Get(CallerHeader)
	if raw == "" {
		s.writeError(w, r, errMissingCaller)
		return
	}
	caller, err := types.ParseAddress(raw)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %s: %w", errBadRequest, CallerHeader, err))
		return
	}
	var req withdrawRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	rec, err := s.eng.EmergencyWithdraw(r.Context(), caller, req.To, req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func (s *Server) sessionID(w http.ResponseWriter, r *http.Request) (session.ID, bool) {
	sid, err := session.ParseID(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %w", errBadRequest, err))
		return sid, false
	}
	return sid, true
}

func page(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	limit = defaultListLimit
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit <= 0 {
			return 0, 0, fmt.Errorf("%w: limit must be a positive integer", errBadRequest)
		}
		limit = min(limit, maxListLimit)
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("%w: offset must be a non-negative integer", errBadRequest)
		}
	}
	return limit, offset, nil
}
