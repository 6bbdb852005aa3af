package settle_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/xraph/settle"
	"github.com/xraph/settle/access"
	vault "github.com/xraph/settle/asset/memory"
	"github.com/xraph/settle/event"
	"github.com/xraph/settle/session"
	"github.com/xraph/settle/settlement"
	"github.com/xraph/settle/store/memory"
	"github.com/xraph/settle/types"
)

var (
	poolAddr = types.MustParseAddress("0x00000000000000000000000000000000000000f0")
	admin    = types.MustParseAddress("0x00000000000000000000000000000000000000ad")
	userA    = types.MustParseAddress("0x00000000000000000000000000000000000000a1")
	userB    = types.MustParseAddress("0x00000000000000000000000000000000000000a2")
	r1       = types.MustParseAddress("0x00000000000000000000000000000000000000b1")
	r2       = types.MustParseAddress("0x00000000000000000000000000000000000000b2")

	fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

// recorder captures every event in emission order.
type recorder struct {
	mu     sync.Mutex
	events []any
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) add(e any) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

func (r *recorder) OnSessionStarted(_ context.Context, e *event.SessionStarted) error {
	return r.add(e)
}

func (r *recorder) OnPaymentAdded(_ context.Context, e *event.PaymentAdded) error {
	return r.add(e)
}

func (r *recorder) OnSessionSettled(_ context.Context, e *event.SessionSettled) error {
	return r.add(e)
}

func (r *recorder) OnBatchSettled(_ context.Context, e *event.BatchSettled) error {
	return r.add(e)
}

func (r *recorder) OnEmergencyWithdrawal(_ context.Context, e *event.EmergencyWithdrawal) error {
	return r.add(e)
}

func (r *recorder) OnSettlementRejected(_ context.Context, e *event.SettlementRejected) error {
	return r.add(e)
}

func (r *recorder) all() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.events...)
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

type fixture struct {
	eng   *settle.Engine
	store *memory.Store
	pool  *vault.Vault
	rec   *recorder
}

func newFixture(t *testing.T, balance types.Amount, opts ...settle.Option) *fixture {
	t.Helper()
	return newFixtureWithVault(t, vault.New(poolAddr, vault.WithBalance(poolAddr, balance)), opts...)
}

func newFixtureWithVault(t *testing.T, pool *vault.Vault, opts ...settle.Option) *fixture {
	t.Helper()

	f := &fixture{store: memory.New(), pool: pool, rec: &recorder{}}
	opts = append([]settle.Option{
		settle.WithPlugin(f.rec),
		settle.WithAdministrator(admin),
		settle.WithClock(func() time.Time { return fixedNow }),
	}, opts...)

	eng, err := settle.New(f.store, f.pool, opts...)
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(func() { _ = eng.Stop(context.Background()) })
	f.eng = eng
	return f
}

func (f *fixture) balance(t *testing.T, addr types.Address) types.Amount {
	t.Helper()
	b, err := f.pool.BalanceOf(context.Background(), addr)
	require.NoError(t, err)
	return b
}

func (f *fixture) settled(t *testing.T, label string) bool {
	t.Helper()
	ok, err := f.eng.IsSessionSettled(context.Background(), session.MustParseID(label))
	require.NoError(t, err)
	return ok
}

func sid(label string) session.ID { return session.MustParseID(label) }

// ──────────────────────────────────────────────────
// Construction
// ──────────────────────────────────────────────────

func TestNewValidation(t *testing.T) {
	pool := vault.New(poolAddr)

	_, err := settle.New(nil, pool)
	require.ErrorIs(t, err, settle.ErrInvalidConfiguration)

	_, err = settle.New(memory.New(), nil)
	require.ErrorIs(t, err, settle.ErrInvalidConfiguration)

	_, err = settle.New(memory.New(), vault.New(types.ZeroAddress))
	require.ErrorIs(t, err, settle.ErrInvalidConfiguration)

	_, err = settle.New(memory.New(), pool, settle.WithAdministrator(types.ZeroAddress))
	require.ErrorIs(t, err, settle.ErrInvalidConfiguration)

	_, err = settle.New(memory.New(), pool, settle.WithMaxBatchSize(-1))
	require.ErrorIs(t, err, settle.ErrInvalidConfiguration)

	rec := &recorder{}
	_, err = settle.New(memory.New(), pool, settle.WithPlugin(rec), settle.WithPlugin(rec))
	require.ErrorIs(t, err, settle.ErrInvalidConfiguration)

	eng, err := settle.New(memory.New(), pool)
	require.NoError(t, err)
	assert.Equal(t, poolAddr, eng.Assets().Holder())
}

func TestGetSessionUnknownIsZero(t *testing.T) {
	f := newFixture(t, 0)

	s, err := f.eng.GetSession(context.Background(), sid("ghost"))
	require.NoError(t, err)
	assert.False(t, s.Exists())
	assert.Equal(t, session.StatusUnknown, s.Status())
	assert.True(t, s.User.IsZero())
	assert.False(t, s.Active)
}

// ──────────────────────────────────────────────────
// Session registry
// ──────────────────────────────────────────────────

func TestStartSessionDuplicate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	s, err := f.eng.StartSession(ctx, sid("S1"), userA)
	require.NoError(t, err)
	assert.True(t, s.Active)
	assert.Equal(t, fixedNow, s.CreatedAt)

	_, err = f.eng.StartSession(ctx, sid("S1"), userB)
	require.ErrorIs(t, err, settle.ErrDuplicateSession)

	got, err := f.eng.GetSession(ctx, sid("S1"))
	require.NoError(t, err)
	assert.Equal(t, userA, got.User)

	events := f.rec.all()
	require.Len(t, events, 2)
	started, ok := events[0].(*event.SessionStarted)
	require.True(t, ok)
	assert.Equal(t, userA, started.User)
	rejected, ok := events[1].(*event.SettlementRejected)
	require.True(t, ok)
	assert.Equal(t, settle.OpStartSession, rejected.Op)
	assert.ErrorIs(t, rejected.Err, settle.ErrDuplicateSession)
}

func TestStartSessionZeroUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	_, err := f.eng.StartSession(ctx, sid("S1"), types.ZeroAddress)
	require.ErrorIs(t, err, settle.ErrInvalidRecipient)

	s, err := f.eng.GetSession(ctx, sid("S1"))
	require.NoError(t, err)
	assert.False(t, s.Exists())
}

func TestStartSessionDuplicateCheckedFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	_, err := f.eng.StartSession(ctx, sid("S1"), userA)
	require.NoError(t, err)

	_, err = f.eng.StartSession(ctx, sid("S1"), types.ZeroAddress)
	require.ErrorIs(t, err, settle.ErrDuplicateSession)
}

func TestSettledSessionCannotBeRestarted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)

	_, err := f.eng.StartSession(ctx, sid("S1"), userA)
	require.NoError(t, err)
	_, err = f.eng.FinalizeSession(ctx, sid("S1"), 10, r1)
	require.NoError(t, err)

	s, err := f.eng.GetSession(ctx, sid("S1"))
	require.NoError(t, err)
	assert.False(t, s.Active)
	assert.Equal(t, session.StatusSettled, s.Status())

	_, err = f.eng.StartSession(ctx, sid("S1"), userA)
	require.ErrorIs(t, err, settle.ErrDuplicateSession)
}

func TestListSessions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)

	for _, label := range []string{"S1", "S2", "S3"} {
		_, err := f.eng.StartSession(ctx, sid(label), userA)
		require.NoError(t, err)
	}
	_, err := f.eng.FinalizeSession(ctx, sid("S2"), 1, r1)
	require.NoError(t, err)

	active := true
	open, err := f.eng.ListSessions(ctx, session.ListOpts{Active: &active})
	require.NoError(t, err)
	assert.Len(t, open, 2)
}

// ──────────────────────────────────────────────────
// Options
// ──────────────────────────────────────────────────

func TestRequireActiveSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100, settle.WithRequireActiveSession(true))

	_, err := f.eng.FinalizeSession(ctx, sid("never"), 10, r1)
	require.ErrorIs(t, err, settle.ErrInactiveSession)
	assert.Equal(t, types.Amount(100), f.balance(t, poolAddr))

	_, err = f.eng.StartSession(ctx, sid("S1"), userA)
	require.NoError(t, err)
	_, err = f.eng.FinalizeSession(ctx, sid("S1"), 10, r1)
	require.NoError(t, err)
}

func TestOpenSettlementByDefault(t *testing.T) {
	f := newFixture(t, 100)

	_, err := f.eng.FinalizeSession(context.Background(), sid("never-started"), 10, r1)
	require.NoError(t, err)
	assert.True(t, f.settled(t, "never-started"))
}

func TestMaxBatchSize(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100, settle.WithMaxBatchSize(2))

	_, err := f.eng.FinalizeSessionBatch(ctx, sid("S1"), []settlement.Instruction{
		{Recipient: r1, Amount: 1},
		{Recipient: r1, Amount: 1},
		{Recipient: r2, Amount: 1},
	})
	require.ErrorIs(t, err, settle.ErrBatchTooLarge)
	assert.False(t, f.settled(t, "S1"))

	unbounded := newFixture(t, 1000, settle.WithMaxBatchSize(0))
	many := make([]settlement.Instruction, 300)
	for i := range many {
		many[i] = settlement.Instruction{Recipient: r1, Amount: 1}
	}
	r, err := unbounded.eng.FinalizeSessionBatch(ctx, sid("S1"), many)
	require.NoError(t, err)
	assert.Equal(t, types.Amount(300), r.Total)
}

// ──────────────────────────────────────────────────
// Escape hatch
// ──────────────────────────────────────────────────

func TestEmergencyWithdraw(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)

	rec, err := f.eng.EmergencyWithdraw(ctx, admin, r2, 30)
	require.NoError(t, err)
	assert.Equal(t, settlement.KindWithdrawal, rec.Kind)
	assert.Equal(t, admin, rec.Caller)
	assert.Equal(t, types.Amount(70), f.balance(t, poolAddr))
	assert.Equal(t, types.Amount(30), f.balance(t, r2))

	records, err := f.eng.ListRecords(ctx, settlement.ListOpts{Kind: settlement.KindWithdrawal})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, rec.ID, records[0].ID)

	events := f.rec.all()
	require.Len(t, events, 1)
	w, ok := events[0].(*event.EmergencyWithdrawal)
	require.True(t, ok)
	assert.Equal(t, r2, w.To)
	assert.Equal(t, types.Amount(30), w.Amount)
}

func TestEmergencyWithdrawRejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)

	_, err := f.eng.EmergencyWithdraw(ctx, userA, r2, 30)
	require.ErrorIs(t, err, settle.ErrUnauthorized)

	// Authorization is checked before the arguments.
	_, err = f.eng.EmergencyWithdraw(ctx, userA, types.ZeroAddress, 0)
	require.ErrorIs(t, err, settle.ErrUnauthorized)

	_, err = f.eng.EmergencyWithdraw(ctx, admin, types.ZeroAddress, 30)
	require.ErrorIs(t, err, settle.ErrInvalidRecipient)

	_, err = f.eng.EmergencyWithdraw(ctx, admin, r2, 0)
	require.ErrorIs(t, err, settle.ErrInvalidAmount)

	_, err = f.eng.EmergencyWithdraw(ctx, admin, r2, 101)
	require.ErrorIs(t, err, settle.ErrInsufficientBalance)

	assert.Equal(t, types.Amount(100), f.balance(t, poolAddr))
	records, err := f.eng.ListRecords(ctx, settlement.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestEmergencyWithdrawLeavesSessionsAlone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)

	_, err := f.eng.StartSession(ctx, sid("S1"), userA)
	require.NoError(t, err)
	_, err = f.eng.EmergencyWithdraw(ctx, admin, r2, 50)
	require.NoError(t, err)

	assert.False(t, f.settled(t, "S1"))
	_, err = f.eng.FinalizeSession(ctx, sid("S1"), 50, r1)
	require.NoError(t, err)
}

func TestDenyAllGateByDefault(t *testing.T) {
	eng, err := settle.New(memory.New(), vault.New(poolAddr, vault.WithBalance(poolAddr, 10)))
	require.NoError(t, err)

	_, err = eng.EmergencyWithdraw(context.Background(), admin, r1, 1)
	require.ErrorIs(t, err, settle.ErrUnauthorized)
}

func TestCustomGate(t *testing.T) {
	ops := access.NewSet(admin, userB)
	f := newFixture(t, 10, settle.WithGate(ops))

	_, err := f.eng.EmergencyWithdraw(context.Background(), userB, r1, 1)
	require.NoError(t, err)
}

// ──────────────────────────────────────────────────
// Tracing
// ──────────────────────────────────────────────────

func TestSpans(t *testing.T) {
	ctx := context.Background()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(ctx) })

	f := newFixture(t, 10, settle.WithTracer(tp.Tracer("settle-test")))

	_, err := f.eng.FinalizeSession(ctx, sid("S1"), 5, r1)
	require.NoError(t, err)
	_, err = f.eng.FinalizeSession(ctx, sid("S1"), 5, r1)
	require.ErrorIs(t, err, settle.ErrAlreadySettled)

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "settle."+settle.OpFinalizeSession, spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)

	var sawSession bool
	for _, kv := range spans[0].Attributes() {
		if kv.Key == "settle.session_id" {
			sawSession = true
			assert.Equal(t, sid("S1").String(), kv.Value.AsString())
		}
	}
	assert.True(t, sawSession)
}

func TestStopClosesStore(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	eng, err := settle.New(st, vault.New(poolAddr))
	require.NoError(t, err)
	require.NoError(t, eng.Start(ctx))
	require.NoError(t, eng.Stop(ctx))
	assert.True(t, errors.Is(st.Ping(ctx), settle.ErrStoreClosed))
}
