package observability_test

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/settle/event"
	"github.com/xraph/settle/observability"
	"github.com/xraph/settle/plugin"
	"github.com/xraph/settle/session"
	"github.com/xraph/settle/types"
)

func TestMetricsExtensionCountsEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetricsExtension(observability.NewPrometheusFactory(reg))
	ctx := context.Background()
	sid := session.HashID("metrics")

	require.NoError(t, m.OnSessionStarted(ctx, &event.SessionStarted{SessionID: sid}))
	require.NoError(t, m.OnPaymentAdded(ctx, &event.PaymentAdded{SessionID: sid, Amount: 300, Queued: 1, Total: 300}))
	require.NoError(t, m.OnSessionSettled(ctx, &event.SessionSettled{SessionID: sid, Seq: 0, Amount: 300}))
	require.NoError(t, m.OnSessionSettled(ctx, &event.SessionSettled{SessionID: sid, Seq: 1, Amount: 200}))
	require.NoError(t, m.OnBatchSettled(ctx, &event.BatchSettled{SessionID: sid, Total: 500, Count: 2}))
	require.NoError(t, m.OnEmergencyWithdrawal(ctx, &event.EmergencyWithdrawal{Amount: 7}))
	require.NoError(t, m.OnSettlementRejected(ctx, &event.SettlementRejected{Op: "finalize_session", Err: errors.New("boom")}))
	require.NoError(t, m.OnSettlementRejected(ctx, &event.SettlementRejected{Op: "custom_op"}))

	assert.InDelta(t, 1, testutil.ToFloat64(m.SessionsStarted.(prometheus.Counter)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.SessionsSettled.(prometheus.Counter)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.PaymentsAdded.(prometheus.Counter)), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.Transfers.(prometheus.Counter)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.BatchesSettled.(prometheus.Counter)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Withdrawals.(prometheus.Counter)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Rejections["finalize_session"].(prometheus.Counter)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Rejections["custom_op"].(prometheus.Counter)), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.Rejections["start_session"].(prometheus.Counter)), 0)

	n, err := testutil.GatherAndCount(reg, "settle_transfer_amount")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPrometheusFactoryReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := observability.NewPrometheusFactory(reg)

	a := f.Counter("settle.session.started")
	b := f.Counter("settle.session.started")
	a.Inc()
	b.Inc()

	assert.InDelta(t, 2, testutil.ToFloat64(a.(prometheus.Counter)), 0)
	assert.Same(t, a, b)
}

func TestMetricsExtensionRegistersWithEngineRegistry(t *testing.T) {
	m := observability.NewMetricsExtension(observability.NewPrometheusFactory(prometheus.NewRegistry()))
	r := plugin.NewRegistry()
	require.NoError(t, r.Register(m))

	r.EmitSessionStarted(context.Background(), &event.SessionStarted{
		SessionID: session.HashID("via-registry"),
		User:      types.MustParseAddress("0x00000000000000000000000000000000000000a1"),
	})
	assert.InDelta(t, 1, testutil.ToFloat64(m.SessionsStarted.(prometheus.Counter)), 0)
}
