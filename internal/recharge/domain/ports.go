package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// AcquireResult is the outcome of a LockStore.Acquire call
type AcquireResult struct {
	Acquired bool
	// Reason is set when Acquired is false: "lock_exists" or "backend_error"
	Reason string
	// ExistingOwner/Age are populated on lock_exists, for diagnostics/logging only
	ExistingOwner string
	AgeSeconds    float64
}

// HeldResult is the outcome of a LockStore.IsHeld call
type HeldResult struct {
	Held       bool
	AgeSeconds float64
}

// LockStore is the distributed lock manager contract (C3). Exactly one
// backend (relational or key-value) is wired at startup; they are never
// mixed or automatically failed-over between
type LockStore interface {
	// Acquire attempts to take key for holderID for ttlSeconds. It sweeps
	// expired locks first so a crashed holder cannot block forever
	Acquire(ctx context.Context, key, holderID string, ttlSeconds int) (AcquireResult, error)

	// Release removes key only if it is currently held by holderID (idempotent)
	Release(ctx context.Context, key, holderID string) error

	// IsHeld reports whether key currently has an unexpired holder
	IsHeld(ctx context.Context, key string) (HeldResult, error)

	// SweepExpired removes all locks whose expiresAt has passed
	SweepExpired(ctx context.Context) (int, error)

	// ReleaseAll force-releases every lock this store knows about,
	// used by `clean-locks --force`
	ReleaseAll(ctx context.Context) (int, error)
}

// QueueStats is the aggregate view returned by Queue.Stats
type QueueStats struct {
	Pending   int
	Inserted  int
	Duplicate int
	Failed    int
	Total     int
}

// PendingDB mirrors the spec's pendingDb alias (pending + failed)
func (s QueueStats) PendingDB() int { return s.Pending + s.Failed }

// CleanResult is returned by Queue.CleanProcessed
type CleanResult struct {
	Cleaned   int
	Remaining int
}

// Queue is the persistent per-service-type auxiliary queue contract (C4)
type Queue interface {
	// Enqueue durably persists item before returning
	Enqueue(ctx context.Context, item AuxiliaryQueueItem) error

	// MarkInserted/MarkDuplicate/MarkFailed transition an item by id
	MarkInserted(ctx context.Context, id string) error
	MarkDuplicate(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, cause error) error

	// Pending returns every item not yet resolved (inserted/duplicate),
	// in FIFO order by AddedAt — this is what drainage (recovery) consumes
	Pending(ctx context.Context) ([]AuxiliaryQueueItem, error)

	// Stats summarizes the current queue state
	Stats(ctx context.Context) (QueueStats, error)

	// CleanProcessed removes items confirmed resolved in the ledger
	CleanProcessed(ctx context.Context) (CleanResult, error)

	// MarkProcessingStart/MarkProcessingEnd write/delete the crash-recovery
	// marker around a pipeline tick
	MarkProcessingStart(ctx context.Context, sample []AuxiliaryQueueItem) error
	MarkProcessingEnd(ctx context.Context) error

	// LoadMarker reads the crash-recovery marker left by a prior run, if any
	LoadMarker(ctx context.Context) (*CrashRecoveryMarker, error)
}

// RechargeRequest is the normalized input to a provider client's Recharge call
type RechargeRequest struct {
	Sim         string
	Amount      decimal.Decimal
	PackageCode string // VOZ only
	ServiceType ServiceType
}

// ProviderClient is the shared port TAECEL and MST both implement (C2)
type ProviderClient interface {
	Name() ProviderName

	// Balance probes the provider's current balance
	Balance(ctx context.Context) (ProviderBalance, error)

	// Recharge performs a single recharge call, already normalized to
	// WebserviceCallResult regardless of wire protocol
	Recharge(ctx context.Context, req RechargeRequest) (WebserviceCallResult, error)
}

// ProviderBalance is the transient balance-probe result (C6 input)
type ProviderBalance struct {
	Name      ProviderName
	Balance   float64
	Available bool
}

// ProviderSelector ranks providers by balance above a threshold (C6)
type ProviderSelector interface {
	// Select returns providers with balance > minBalance, descending by
	// balance. Returns an error with code no_provider_above_threshold and
	// the probed balances (for diagnostics) when none qualify
	Select(ctx context.Context, minBalance float64) ([]ProviderBalance, error)
}

// EligibilityQuery is the per-service candidate-set producer (C7)
type EligibilityQuery interface {
	Candidates(ctx context.Context, daysLimit int) ([]Candidate, error)
}

// Filter is the two-level time-gate classifier (C8)
type Filter interface {
	Classify(ctx context.Context, candidates []Candidate) (FilterResult, error)
}

// BatchWriter is the single-transaction master+detail ledger writer (C5)
type BatchWriter interface {
	// Write persists items as one master row + N detail rows. isRecovery
	// controls the note prefix. Returns the committed master row id
	Write(ctx context.Context, st ServiceType, provider ProviderName, items []AuxiliaryQueueItem, note QueueItemNote, isRecovery bool) (int64, error)
}

// TickResult summarizes one pipeline runner invocation for logging/status
type TickResult struct {
	ServiceType     ServiceType
	Skipped         bool
	SkipReason      string
	RecoveryStats   RecoveryStats
	Dispatched      int
	Succeeded       int
	Failed          int
	MasterRowID     int64
}

// PipelineRunner executes one tick of the per-service state machine (C9)
type PipelineRunner interface {
	Run(ctx context.Context, st ServiceType) (TickResult, error)
}
