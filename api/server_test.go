package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/xraph/settle"
	"github.com/xraph/settle/api"
	vault "github.com/xraph/settle/asset/memory"
	"github.com/xraph/settle/store/memory"
	"github.com/xraph/settle/types"
)

const (
	poolHex  = "0x00000000000000000000000000000000000000f0"
	adminHex = "0x00000000000000000000000000000000000000ad"
	userHex  = "0x00000000000000000000000000000000000000a1"
	r1Hex    = "0x00000000000000000000000000000000000000b1"
	r2Hex    = "0x00000000000000000000000000000000000000b2"
)

type harness struct {
	srv  http.Handler
	pool *vault.Vault
}

func newHarness(t *testing.T, balance types.Amount, opts ...api.Option) *harness {
	t.Helper()
	pool := vault.New(types.MustParseAddress(poolHex),
		vault.WithBalance(types.MustParseAddress(poolHex), balance))
	eng, err := settle.New(memory.New(), pool,
		settle.WithAdministrator(types.MustParseAddress(adminHex)),
		settle.WithMaxBatchSize(3),
	)
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(func() { _ = eng.Stop(context.Background()) })

	return &harness{srv: api.New(eng, append([]api.Option{api.WithVersion("test")}, opts...)...), pool: pool}
}

func (h *harness) do(t *testing.T, method, path, body string, header ...string) (int, map[string]any) {
	t.Helper()
	var rdr *bytes.Reader
	if body != "" {
		rdr = bytes.NewReader([]byte(body))
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.srv.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func (h *harness) balanceOf(t *testing.T, hex string) types.Amount {
	t.Helper()
	b, err := h.pool.BalanceOf(context.Background(), types.MustParseAddress(hex))
	require.NoError(t, err)
	return b
}

func TestHealth(t *testing.T) {
	h := newHarness(t, 0)
	code, body := h.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
}

func TestSessionLifecycle(t *testing.T) {
	h := newHarness(t, 1_000)

	code, body := h.do(t, http.MethodPost, "/sessions", `{"session_id":"S1","user":"`+userHex+`"}`)
	require.Equal(t, http.StatusCreated, code, body)
	assert.Equal(t, "active", body["status"])
	assert.Equal(t, "S1", body["label"])

	code, body = h.do(t, http.MethodPost, "/sessions", `{"session_id":"S1","user":"`+userHex+`"}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "duplicate_session", body["code"])

	code, body = h.do(t, http.MethodPost, "/sessions/S1/finalize", `{"amount":"300","recipient":"`+r1Hex+`"}`)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "300", body["total"])
	assert.Len(t, body["records"], 1)
	assert.EqualValues(t, 300, h.balanceOf(t, r1Hex))

	code, body = h.do(t, http.MethodGet, "/sessions/S1", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "settled", body["status"])
	assert.Equal(t, true, body["settled"])
	assert.Equal(t, false, body["active"])

	code, body = h.do(t, http.MethodPost, "/sessions/S1/finalize", `{"amount":"1","recipient":"`+r1Hex+`"}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "already_settled", body["code"])

	code, body = h.do(t, http.MethodGet, "/sessions/S1/records", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["records"], 1)

	code, body = h.do(t, http.MethodGet, "/sessions?user="+userHex+"&active=false", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["sessions"], 1)
}

func TestFinalizeBatch(t *testing.T) {
	h := newHarness(t, 1_000)

	code, body := h.do(t, http.MethodPost, "/sessions/S2/finalize-batch", `{"instructions":[
		{"recipient":"`+r1Hex+`","amount":"300"},
		{"recipient":"`+r2Hex+`","amount":200}
	]}`)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "500", body["total"])
	assert.EqualValues(t, 300, h.balanceOf(t, r1Hex))
	assert.EqualValues(t, 200, h.balanceOf(t, r2Hex))
	assert.EqualValues(t, 500, h.balanceOf(t, poolHex))
}

func TestFinalizeRejections(t *testing.T) {
	h := newHarness(t, 100)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
		code   string
	}{
		{"zero amount", "/sessions/S3/finalize", `{"amount":"0","recipient":"` + r1Hex + `"}`, http.StatusUnprocessableEntity, "invalid_amount"},
		{"zero recipient", "/sessions/S3/finalize", `{"amount":"5"}`, http.StatusUnprocessableEntity, "invalid_recipient"},
		{"insufficient", "/sessions/S3/finalize", `{"amount":"101","recipient":"` + r1Hex + `"}`, http.StatusUnprocessableEntity, "insufficient_balance"},
		{"empty batch", "/sessions/S3/finalize-batch", `{"instructions":[]}`, http.StatusUnprocessableEntity, "empty_batch"},
		{"too large", "/sessions/S3/finalize-batch", `{"instructions":[
			{"recipient":"` + r1Hex + `","amount":"1"},{"recipient":"` + r1Hex + `","amount":"1"},
			{"recipient":"` + r1Hex + `","amount":"1"},{"recipient":"` + r1Hex + `","amount":"1"}]}`,
			http.StatusUnprocessableEntity, "batch_too_large"},
		{"unknown field", "/sessions/S3/finalize", `{"amount":"1","to":"x"}`, http.StatusBadRequest, "bad_request"},
		{"bad address", "/sessions/S3/finalize", `{"amount":"1","recipient":"0x12"}`, http.StatusBadRequest, "bad_request"},
		{"bad session id", "/sessions/" + strings.Repeat("x", 40) + "/finalize", `{"amount":"1"}`, http.StatusBadRequest, "bad_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := h.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, code, body)
			assert.Equal(t, tt.code, body["code"])
		})
	}

	code, body := h.do(t, http.MethodPost, "/sessions/S3/finalize", `{"amount":"101","recipient":"`+r1Hex+`"}`)
	require.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "101", body["required"])
	assert.Equal(t, "100", body["available"])

	code, body = h.do(t, http.MethodPost, "/sessions/S3/finalize-batch", `{"instructions":[
		{"recipient":"`+r1Hex+`","amount":"1"},{"recipient":"`+r1Hex+`","amount":"0"}]}`)
	require.Equal(t, http.StatusUnprocessableEntity, code)
	assert.InDelta(t, 1, body["index"], 0)

	assert.EqualValues(t, 100, h.balanceOf(t, poolHex))
}

func TestUnknownSessionIs404(t *testing.T) {
	h := newHarness(t, 0)
	code, body := h.do(t, http.MethodGet, "/sessions/nope", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "session_not_found", body["code"])
}

func TestEmergencyWithdraw(t *testing.T) {
	h := newHarness(t, 50)

	code, body := h.do(t, http.MethodPost, "/admin/withdraw", `{"to":"`+r1Hex+`","amount":"10"}`)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "missing_caller", body["code"])

	code, body = h.do(t, http.MethodPost, "/admin/withdraw", `{"to":"`+r1Hex+`","amount":"10"}`, api.CallerHeader, userHex)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "unauthorized", body["code"])

	code, body = h.do(t, http.MethodPost, "/admin/withdraw", `{"to":"`+r1Hex+`","amount":"10"}`, api.CallerHeader, adminHex)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "withdrawal", body["kind"])
	assert.EqualValues(t, 10, h.balanceOf(t, r1Hex))

	code, body = h.do(t, http.MethodGet, "/balance", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "40", body["balance"])

	code, body = h.do(t, http.MethodGet, "/records?kind=withdrawal", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["records"], 1)
}

func TestMethodNotAllowed(t *testing.T) {
	h := newHarness(t, 0)
	req := httptest.NewRequest(http.MethodDelete, "/sessions/S1", nil)
	rec := httptest.NewRecorder()
	h.srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRequestSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	h := newHarness(t, 0, api.WithTracer(tp.Tracer("test")))

	code, _ := h.do(t, http.MethodGet, "/health", "", "X-Request-ID", "req-1")
	require.Equal(t, http.StatusOK, code)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "settle.http GET /health", spans[0].Name())
}

func TestQueuedPayments(t *testing.T) {
	h := newHarness(t, 1_000)

	code, body := h.do(t, http.MethodPost, "/sessions", `{"session_id":"S1","user":"`+userHex+`"}`)
	require.Equal(t, http.StatusCreated, code, body)

	code, body = h.do(t, http.MethodPost, "/sessions/S1/payments", `{"recipient":"`+r1Hex+`","amount":"300"}`)
	require.Equal(t, http.StatusCreated, code, body)
	assert.InDelta(t, 0, body["seq"], 0)
	assert.Equal(t, "300", body["amount"])

	code, body = h.do(t, http.MethodPost, "/sessions/S1/payments", `{"recipient":"`+r2Hex+`","amount":"200"}`)
	require.Equal(t, http.StatusCreated, code, body)
	assert.InDelta(t, 1, body["seq"], 0)

	code, body = h.do(t, http.MethodGet, "/sessions/S1", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, true, body["active"])

	code, body = h.do(t, http.MethodGet, "/sessions/S1/payments", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["payments"], 2)
	assert.EqualValues(t, 0, h.balanceOf(t, r1Hex))

	code, body = h.do(t, http.MethodPost, "/sessions/S1/finalize-payments", "")
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "500", body["total"])
	assert.Len(t, body["records"], 2)
	assert.EqualValues(t, 300, h.balanceOf(t, r1Hex))
	assert.EqualValues(t, 200, h.balanceOf(t, r2Hex))

	code, body = h.do(t, http.MethodGet, "/sessions/S1", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "settled", body["status"])

	code, body = h.do(t, http.MethodPost, "/sessions/S1/payments", `{"recipient":"`+r1Hex+`","amount":"1"}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "already_settled", body["code"])
}

func TestQueuedPaymentRejections(t *testing.T) {
	h := newHarness(t, 1_000)
	code, body := h.do(t, http.MethodPost, "/sessions", `{"session_id":"S1","user":"`+userHex+`"}`)
	require.Equal(t, http.StatusCreated, code, body)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
		code   string
	}{
		{"null amount", "/sessions/S1/payments", `{"recipient":"` + r1Hex + `","amount":null}`, http.StatusUnprocessableEntity, "invalid_amount"},
		{"missing amount", "/sessions/S1/payments", `{"recipient":"` + r1Hex + `"}`, http.StatusUnprocessableEntity, "invalid_amount"},
		{"zero recipient", "/sessions/S1/payments", `{"amount":"5"}`, http.StatusUnprocessableEntity, "invalid_recipient"},
		{"never started", "/sessions/S9/payments", `{"recipient":"` + r1Hex + `","amount":"5"}`, http.StatusUnprocessableEntity, "inactive_session"},
		{"empty queue", "/sessions/S1/finalize-payments", "", http.StatusUnprocessableEntity, "empty_batch"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := h.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, code, body)
			assert.Equal(t, tt.code, body["code"])
		})
	}

	// The harness caps batches at three.
	for range 3 {
		code, body = h.do(t, http.MethodPost, "/sessions/S1/payments", `{"recipient":"`+r1Hex+`","amount":"1"}`)
		require.Equal(t, http.StatusCreated, code, body)
	}
	code, body = h.do(t, http.MethodPost, "/sessions/S1/payments", `{"recipient":"`+r1Hex+`","amount":"1"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "batch_too_large", body["code"])
}

func TestCORS(t *testing.T) {
	h := newHarness(t, 0)

	req := httptest.NewRequest(http.MethodOptions, "/sessions", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), api.CallerHeader)

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://app.example")
	rec = httptest.NewRecorder()
	h.srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	narrow := newHarness(t, 0, api.WithCORSOrigins("https://app.example"))
	for origin, want := range map[string]string{
		"https://app.example":  "https://app.example",
		"https://evil.example": "",
	} {
		req = httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", origin)
		rec = httptest.NewRecorder()
		narrow.srv.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Header().Get("Access-Control-Allow-Origin"), origin)
	}

	off := newHarness(t, 0, api.WithCORSOrigins())
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://app.example")
	rec = httptest.NewRecorder()
	off.srv.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
