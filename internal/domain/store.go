package domain

import (
	"context"
	"time"
)

// BondStore persists bond instruments keyed by payment asset.
//
// ApplyDeposit and ApplyRedeem write the bond row and the affected holder row
// in a single transaction: a workflow completion is either fully applied or
// not applied at all.
type BondStore interface {
	Create(ctx context.Context, paymentAsset string, bond BondData) error
	Get(ctx context.Context, paymentAsset string) (BondData, error)
	Update(ctx context.Context, paymentAsset string, bond BondData) error
	ListAssets(ctx context.Context) ([]string, error)

	ApplyDeposit(ctx context.Context, paymentAsset, account string, bond BondData, holder BondHolder) error
	ApplyRedeem(ctx context.Context, paymentAsset, account string, bond BondData, holder BondHolder) error
}

// HolderStore reads per-depositor vesting entries.
type HolderStore interface {
	Get(ctx context.Context, paymentAsset, account string) (BondHolder, error)
}

// AuditEntry is a single append-only audit row recording a workflow outcome
// or an admin action.
type AuditEntry struct {
	ID           int64
	WorkflowID   string
	Kind         string
	PaymentAsset string
	Account      string
	Detail       map[string]any
	CreatedAt    time.Time
}

// AuditStore persists the audit log.
type AuditStore interface {
	Log(ctx context.Context, e AuditEntry) error
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]AuditEntry, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
