package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/xraph/settle"
)

// errorBody is the JSON shape of every non-2xx response.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Index *int   `json:"index,omitempty"`

	Required  string `json:"required,omitempty"`
	Available string `json:"available,omitempty"`
}

// errBadRequest marks malformed input caught before it reaches the engine.
var errBadRequest = errors.New("bad request")

// errMissingCaller is returned when an admin route lacks X-Settle-Caller.
var errMissingCaller = errors.New("missing " + CallerHeader + " header")

var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{errBadRequest, http.StatusBadRequest, "bad_request"},
	{errMissingCaller, http.StatusUnauthorized, "missing_caller"},
	{settle.ErrUnauthorized, http.StatusForbidden, "unauthorized"},
	{settle.ErrSessionNotFound, http.StatusNotFound, "session_not_found"},
	{settle.ErrSettlementNotFound, http.StatusNotFound, "settlement_not_found"},
	{settle.ErrDuplicateSession, http.StatusConflict, "duplicate_session"},
	{settle.ErrAlreadySettled, http.StatusConflict, "already_settled"},
	{settle.ErrReentrantCall, http.StatusConflict, "reentrant_call"},
	{settle.ErrInvalidRecipient, http.StatusUnprocessableEntity, "invalid_recipient"},
	{settle.ErrInvalidAmount, http.StatusUnprocessableEntity, "invalid_amount"},
	{settle.ErrEmptyBatch, http.StatusUnprocessableEntity, "empty_batch"},
	{settle.ErrBatchOverflow, http.StatusUnprocessableEntity, "batch_overflow"},
	{settle.ErrBatchTooLarge, http.StatusUnprocessableEntity, "batch_too_large"},
	{settle.ErrInsufficientBalance, http.StatusUnprocessableEntity, "insufficient_balance"},
	{settle.ErrInactiveSession, http.StatusUnprocessableEntity, "inactive_session"},
	{settle.ErrStoreClosed, http.StatusServiceUnavailable, "store_closed"},
	{settle.ErrTransactionFailed, http.StatusServiceUnavailable, "transaction_failed"},
	{context.DeadlineExceeded, http.StatusServiceUnavailable, "engine_busy"},
}

// classify maps err onto a status code and response body.
func classify(err error) (int, errorBody) {
	body := errorBody{Error: err.Error(), Code: "internal"}
	status := http.StatusInternalServerError
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			status, body.Code = c.status, c.code
			break
		}
	}

	var ie *settle.InstructionError
	if errors.As(err, &ie) {
		idx := ie.Index
		body.Index = &idx
	}
	var be *settle.InsufficientBalanceError
	if errors.As(err, &be) {
		body.Required = be.Required.String()
		body.Available = be.Available.String()
	}
	if status == http.StatusInternalServerError {
		body.Error = "internal error"
	}
	return status, body
}
