// Package settle provides a settlement ledger for off-chain sessions.
//
// Settle is designed as a library, not a service. Sessions are opened with
// StartSession and paid out exactly once, to one recipient or to an ordered
// batch of recipients, from a pooled balance held in an external fungible
// asset ledger. It provides:
//
//   - Exactly-once settlement per session id, enforced by a terminal flag
//   - All-or-nothing batches with checked totals
//   - Atomic flag-plus-transfer units with rollback on any failure
//   - A non-reentrant engine whose settled flag is written before any payout
//   - An access-gated emergency withdrawal with its own audit trail
//   - Pluggable stores (memory, PostgreSQL, SQLite, MongoDB)
//
// # Quick Start
//
//	import (
//	    "github.com/xraph/settle"
//	    vault "github.com/xraph/settle/asset/memory"
//	    "github.com/xraph/settle/store/postgres"
//	)
//
//	st := postgres.New(db)
//	pool := vault.New(poolAddr, vault.WithBalance(poolAddr, 1_000_000))
//
//	eng, err := settle.New(st, pool, settle.WithAdministrator(admin))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := eng.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Stop(ctx)
//
// # Settling
//
// A session is settled by exactly one successful finalize call:
//
//	sid := settle.MustParseID("S1")
//	_, err := eng.StartSession(ctx, sid, user)
//	receipt, err := eng.FinalizeSession(ctx, sid, 40, recipient)
//
// Batches pay every instruction in order or nothing at all:
//
//	receipt, err := eng.FinalizeSessionBatch(ctx, sid, []settle.Instruction{
//	    {Recipient: r1, Amount: 30},
//	    {Recipient: r2, Amount: 20},
//	})
//
// A second finalize call for the same id fails with ErrAlreadySettled,
// whether the first one was single or batch.
//
// Payments can also be queued on an active session as they accrue and paid
// out together later:
//
//	_, err = eng.AddPayment(ctx, sid, r1, 30)
//	_, err = eng.AddPayment(ctx, sid, r2, 20)
//	receipt, err = eng.FinalizePayments(ctx, sid)
//
// # Callbacks
//
// Asset ledgers and plugins receive the context of the call that invoked
// them and must pass it back when they call into the engine. A call that
// arrives with it while its originating call is still running fails with
// ErrReentrantCall.
//
// # Plugins
//
// Plugins observe the engine through hook interfaces in package plugin.
// Hooks run after the operation has committed and its guard is released, so
// a hook may call back into the engine:
//
//	eng, err := settle.New(st, pool,
//	    settle.WithPlugin(audithook.New(recorder)),
//	    settle.WithPlugin(observability.NewMetricsExtension(
//	        observability.NewPrometheusFactory(prometheus.DefaultRegisterer))),
//	)
//
// # Errors
//
// Every failure is returned as an error matching one of the sentinels in
// errors.go. Nothing is committed when an operation fails:
//
//	_, err := eng.FinalizeSessionBatch(ctx, sid, instructions)
//	var ib *settle.InsufficientBalanceError
//	if errors.As(err, &ib) {
//	    log.Printf("need %s, have %s", ib.Required, ib.Available)
//	}
package settle
