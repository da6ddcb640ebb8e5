// Package registry implements the bond treasury's orchestration layer: the
// payment-asset to bond mapping, the owner-only admin surface, the read-only
// views, and the two asynchronous workflows (deposit and redeem) whose
// completions depend on the external token service.
//
// Both workflows follow the same shape: the entry half validates the call,
// captures its parameters and the current time into an intent, fires the
// external call on its own goroutine, and returns. The completion half runs
// on a single settlement loop, re-fetches the on-record state, and applies
// every mutation at once or, when the external call failed, applies
// nothing. There are no writes between the two halves, so there is nothing
// to roll back.
package registry

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/phoenixfi/bondtreasury/internal/domain"
)

// Clock supplies the ledger timestamp in Unix seconds. It is an interface so
// tests can drive vesting windows explicitly.
type Clock interface {
	Now() uint64
}

// SystemClock is the production Clock.
type SystemClock struct{}

// Now returns the current Unix time in seconds.
func (SystemClock) Now() uint64 { return uint64(time.Now().Unix()) }

// Notifier delivers operator alerts. Satisfied by *notify.Notifier.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Attestor signs settled workflows with the operator key. Satisfied by
// *crypto.Signer.
type Attestor interface {
	Attest(workflowID, kind, paymentAsset, account, amount string, timestamp uint64) (string, error)
}

// Bus channels published by the registry.
const (
	ChannelBondRegistered = "bond_registered"
	ChannelDepositSettled = "deposit_settled"
	ChannelRedeemSettled  = "redeem_settled"
	ChannelWorkflowFailed = "workflow_failed"
)

// Config holds registry tunables.
type Config struct {
	// OwnerID is the only identity allowed to register and administer bonds.
	OwnerID string
	// CallTimeout bounds a single token-service call.
	CallTimeout time.Duration
	// LockTTL is the distributed lock TTL for per-asset settlement.
	LockTTL time.Duration
	// QueueSize is the completion channel buffer.
	QueueSize int
}

// Registry owns the bond map semantics and runs the workflow settlement loop.
type Registry struct {
	cfg      Config
	bonds    domain.BondStore
	holders  domain.HolderStore
	audit    domain.AuditStore
	prices   domain.PriceCache
	locks    domain.LockManager
	bus      domain.SignalBus
	token    domain.TokenService
	notifier Notifier
	attestor Attestor
	clock    Clock
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]domain.WorkflowState

	completions chan completion
}

// completion carries the single result of one outstanding external call back
// to the settlement loop. Exactly one of deposit/redeem is set.
type completion struct {
	deposit *domain.DepositIntent
	redeem  *domain.RedeemIntent
	supply  *big.Int
	err     error
}

// Deps bundles the registry's collaborators.
type Deps struct {
	Bonds    domain.BondStore
	Holders  domain.HolderStore
	Audit    domain.AuditStore
	Prices   domain.PriceCache
	Locks    domain.LockManager
	Bus      domain.SignalBus
	Token    domain.TokenService
	Notifier Notifier
	Attestor Attestor
	Clock    Clock
}

// New creates a Registry. A nil Clock defaults to SystemClock.
func New(cfg Config, deps Deps, logger *slog.Logger) *Registry {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 15 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	clock := deps.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	return &Registry{
		cfg:         cfg,
		bonds:       deps.Bonds,
		holders:     deps.Holders,
		audit:       deps.Audit,
		prices:      deps.Prices,
		locks:       deps.Locks,
		bus:         deps.Bus,
		token:       deps.Token,
		notifier:    deps.Notifier,
		attestor:    deps.Attestor,
		clock:       clock,
		logger:      logger.With(slog.String("component", "registry")),
		pending:     make(map[string]domain.WorkflowState),
		completions: make(chan completion, cfg.QueueSize),
	}
}

// Run consumes workflow completions until the context is cancelled. All state
// mutation happens here, one completion at a time.
func (r *Registry) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c := <-r.completions:
			r.settle(ctx, c)
		}
	}
}

func (r *Registry) settle(ctx context.Context, c completion) {
	var asset string
	switch {
	case c.deposit != nil:
		asset = c.deposit.PaymentAsset
	case c.redeem != nil:
		asset = c.redeem.PaymentAsset
	default:
		r.logger.ErrorContext(ctx, "empty completion")
		return
	}

	unlock, err := r.lockAsset(ctx, asset)
	if err != nil {
		r.logger.ErrorContext(ctx, "settlement lock failed",
			slog.String("payment_asset", asset),
			slog.String("error", err.Error()),
		)
		return
	}
	defer unlock()

	if c.deposit != nil {
		r.settleDeposit(ctx, c)
		return
	}
	r.settleRedeem(ctx, c)
}

// lockAsset serializes settlement per payment asset across replicas. The
// in-process loop is already serial; the lock only matters when more than one
// instance shares the stores.
func (r *Registry) lockAsset(ctx context.Context, asset string) (func(), error) {
	if r.locks == nil {
		return func() {}, nil
	}
	for {
		unlock, err := r.locks.Acquire(ctx, "bond:"+asset, r.cfg.LockTTL)
		if err == nil {
			return unlock, nil
		}
		if err != domain.ErrLockHeld {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// track registers a fresh intent as outstanding.
func (r *Registry) track(id string) {
	r.mu.Lock()
	r.pending[id] = domain.StateRequested
	r.mu.Unlock()
}

// beginSettle asserts that exactly one completion arrives per intent: it
// succeeds only for an intent still in StateRequested and removes it, so a
// duplicate or spurious delivery can never be applied.
func (r *Registry) beginSettle(ctx context.Context, id string) bool {
	r.mu.Lock()
	state, ok := r.pending[id]
	if ok && state == domain.StateRequested {
		delete(r.pending, id)
	}
	r.mu.Unlock()

	if !ok || state != domain.StateRequested {
		r.logger.ErrorContext(ctx, "invariant violation: completion for unknown or settled workflow",
			slog.String("workflow_id", id),
		)
		return false
	}
	return true
}

// reject records a failed workflow completion. Nothing has been written yet,
// so the books stay untouched; the caller's transferred principal (deposit)
// or intended redemption is not compensated; operators are alerted instead.
func (r *Registry) reject(ctx context.Context, kind, id, asset, account string, cause error) {
	r.logger.WarnContext(ctx, kind+" workflow rejected",
		slog.String("workflow_id", id),
		slog.String("payment_asset", asset),
		slog.String("account", account),
		slog.String("error", cause.Error()),
	)

	r.logAudit(ctx, domain.AuditEntry{
		WorkflowID:   id,
		Kind:         kind + "_rejected",
		PaymentAsset: asset,
		Account:      account,
		Detail:       map[string]any{"error": cause.Error()},
	})
	r.publish(ctx, ChannelWorkflowFailed, map[string]any{
		"workflow_id":   id,
		"kind":          kind,
		"payment_asset": asset,
		"account":       account,
		"error":         cause.Error(),
	})
	if r.notifier != nil {
		_ = r.notifier.Notify(ctx, ChannelWorkflowFailed,
			"Workflow failed",
			kind+" "+id+" for "+asset+" rejected: "+cause.Error(),
		)
	}
}

// attest signs a settled workflow with the operator key. Attestation is best
// effort: a signing failure is logged and the settlement stands without one.
func (r *Registry) attest(ctx context.Context, id, kind, asset, account, amount string, ts uint64) string {
	if r.attestor == nil {
		return ""
	}
	sig, err := r.attestor.Attest(id, kind, asset, account, amount, ts)
	if err != nil {
		r.logger.WarnContext(ctx, "attestation failed",
			slog.String("workflow_id", id),
			slog.String("error", err.Error()),
		)
		return ""
	}
	return sig
}

func (r *Registry) logAudit(ctx context.Context, e domain.AuditEntry) {
	if r.audit == nil {
		return
	}
	if err := r.audit.Log(ctx, e); err != nil {
		r.logger.ErrorContext(ctx, "audit log failed",
			slog.String("workflow_id", e.WorkflowID),
			slog.String("error", err.Error()),
		)
	}
}

func (r *Registry) publish(ctx context.Context, channel string, payload map[string]any) {
	if r.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := r.bus.Publish(ctx, channel, data); err != nil {
		r.logger.WarnContext(ctx, "bus publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}
