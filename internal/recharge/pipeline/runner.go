// Package pipeline implements the per-service state machine (C9): acquire
// lock, drain recovery, query eligibility, classify, select a provider,
// dispatch webservice calls sequentially, write the batch ledger, clean up,
// release. This is the component that wires every other port together
package pipeline

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mextic/rechargeengine/internal/platform/clock"
	perr "github.com/mextic/rechargeengine/internal/platform/errors"
	"github.com/mextic/rechargeengine/internal/platform/logger"
	"github.com/mextic/rechargeengine/internal/recharge/domain"
)

// SkipReason values surfaced on domain.TickResult.SkipReason
const (
	SkipLockHeld            = "lock_exists"
	SkipStrictRecovery      = "strict_recovery_pending"
	SkipNoCandidates        = "no_candidates"
	SkipNoneToRecharge      = "none_to_recharge"
	SkipNoProvider          = "no_provider"
	SkipAllDispatchesFailed = "all_dispatch_failed"
)

// RetryStrategy selects how the delay between recharge call attempts grows
type RetryStrategy string

const (
	RetryLinear      RetryStrategy = "linear"
	RetryExponential RetryStrategy = "exponential"
)

// Config holds the per-service tunables a Runner needs beyond its wired ports
type Config struct {
	HolderID          string // identifies this process to the lock store; defaults to hostname:pid
	LockTTLSeconds    int    // default 300
	DaysLimit         int    // eligibility window, in days
	MinBalance        float64
	DelayBetweenCalls time.Duration // default 500ms, between webservice calls
	MaxAttempts       int           // per-call retry ceiling, default 3
	RetryStrategy     RetryStrategy // default linear
	RetryBaseDelay    time.Duration // backoff unit, default 1s

	// Amount/DaysValidity are the fixed recharge terms for GPS/ELIOT; VOZ
	// instead looks its term up in Packages by the candidate's PackageCode
	Amount       decimal.Decimal
	DaysValidity int
	Packages     map[string]domain.VOZPackage
}

func (c Config) withDefaults() Config {
	if c.LockTTLSeconds <= 0 {
		c.LockTTLSeconds = 300
	}
	if c.DelayBetweenCalls <= 0 {
		c.DelayBetweenCalls = 500 * time.Millisecond
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryStrategy == "" {
		c.RetryStrategy = RetryLinear
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = time.Second
	}
	return c
}

// Runner executes one tick of the state machine for a single service type.
// Grounded on the teacher's backfill Service shape (a struct of wired ports
// plus a Config, one exported Run/entrypoint method)
type Runner struct {
	ServiceType domain.ServiceType

	Lock        domain.LockStore
	Queue       domain.Queue
	Eligibility domain.EligibilityQuery
	Filter      domain.Filter
	Selector    domain.ProviderSelector
	Clients     map[domain.ProviderName]domain.ProviderClient
	Writer      domain.BatchWriter
	Clock       clock.Clock

	Config Config
	Log    logger.Logger
}

// NewRunner wires a Runner for one service type
func NewRunner(st domain.ServiceType, lock domain.LockStore, q domain.Queue, elig domain.EligibilityQuery,
	filt domain.Filter, sel domain.ProviderSelector, clients []domain.ProviderClient, writer domain.BatchWriter,
	c clock.Clock, cfg Config) *Runner {
	cfg = cfg.withDefaults()
	if cfg.HolderID == "" {
		host, _ := os.Hostname()
		cfg.HolderID = fmt.Sprintf("%s:%d", host, os.Getpid())
	}

	byName := make(map[domain.ProviderName]domain.ProviderClient, len(clients))
	for _, cl := range clients {
		byName[cl.Name()] = cl
	}

	return &Runner{
		ServiceType: st,
		Lock:        lock,
		Queue:       q,
		Eligibility: elig,
		Filter:      filt,
		Selector:    sel,
		Clients:     byName,
		Writer:      writer,
		Clock:       c,
		Config:      cfg,
		Log:         logger.Get().With().Str("component", "pipeline").Str("service", string(st)).Logger(),
	}
}

func (r *Runner) lockKey() string { return fmt.Sprintf("recharge:%s", r.ServiceType) }

// Run executes one state-machine tick. It never returns an error for the
// ordinary "nothing to do this tick" outcomes (lock held, no candidates,
// no provider, strict recovery); those are reported via TickResult.Skipped
func (r *Runner) Run(ctx context.Context, st domain.ServiceType) (domain.TickResult, error) {
	result := domain.TickResult{ServiceType: st}

	acq, err := r.Lock.Acquire(ctx, r.lockKey(), r.Config.HolderID, r.Config.LockTTLSeconds)
	if err != nil {
		return result, perr.WrapIf(err, perr.ErrorCodeBackendError, "pipeline: acquire lock")
	}
	if !acq.Acquired {
		result.Skipped = true
		result.SkipReason = SkipLockHeld
		return result, nil
	}
	defer r.release()

	recStats, err := r.drainRecovery(ctx)
	if err != nil {
		return result, err
	}
	result.RecoveryStats = recStats
	if recStats.Failed > 0 {
		result.Skipped = true
		result.SkipReason = SkipStrictRecovery
		return result, nil
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}

	candidates, err := r.Eligibility.Candidates(ctx, r.Config.DaysLimit)
	if err != nil {
		return result, err
	}
	if len(candidates) == 0 {
		result.Skipped = true
		result.SkipReason = SkipNoCandidates
		return result, nil
	}

	filtered, err := r.Filter.Classify(ctx, candidates)
	if err != nil {
		return result, err
	}
	if len(filtered.ToRecharge) == 0 {
		result.Skipped = true
		result.SkipReason = SkipNoneToRecharge
		return result, nil
	}

	ranked, err := r.Selector.Select(ctx, r.Config.MinBalance)
	if err != nil {
		result.Skipped = true
		result.SkipReason = fmt.Sprintf("%s: %v", SkipNoProvider, err)
		return result, nil
	}
	chosen := ranked[0].Name
	client, ok := r.Clients[chosen]
	if !ok {
		result.Skipped = true
		result.SkipReason = fmt.Sprintf("%s: no client wired for %s", SkipNoProvider, chosen)
		return result, nil
	}

	if err := r.Queue.MarkProcessingStart(ctx, markerSample(r.ServiceType, filtered.ToRecharge)); err != nil {
		r.Log.Warn().Err(err).Msg("pipeline: mark processing start failed")
	}

	dispatched, dispatchFailed := r.dispatch(ctx, client, chosen, filtered.ToRecharge)
	result.Dispatched = len(dispatched) + dispatchFailed
	result.Succeeded = len(dispatched)
	result.Failed = dispatchFailed

	if len(dispatched) == 0 {
		result.Skipped = true
		result.SkipReason = SkipAllDispatchesFailed
		if err := r.Queue.MarkProcessingEnd(ctx); err != nil {
			r.Log.Warn().Err(err).Msg("pipeline: mark processing end failed")
		}
		return result, nil
	}

	note := domain.QueueItemNote{
		CurrentIndex:    len(dispatched),
		TotalToRecharge: len(filtered.ToRecharge),
		Savings:         len(filtered.Savings),
		ReportingOnTime: filtered.ReportingOnTime,
		TotalRecords:    len(dispatched),
	}
	masterID, err := r.Writer.Write(ctx, st, chosen, dispatched, note, false)
	if err != nil {
		return result, err
	}
	result.MasterRowID = masterID

	if _, err := r.Queue.CleanProcessed(ctx); err != nil {
		r.Log.Warn().Err(err).Msg("pipeline: clean processed queue items failed")
	}
	if err := r.Queue.MarkProcessingEnd(ctx); err != nil {
		r.Log.Warn().Err(err).Msg("pipeline: mark processing end failed")
	}

	return result, nil
}

// markerSample builds the crash-recovery marker's diagnostic sample: one
// placeholder item per candidate about to be dispatched, flagged with the
// same status a DB-write failure would leave behind, so a crash before any
// webservice call completes is still recoverable on the next startup
func markerSample(st domain.ServiceType, candidates []domain.Candidate) []domain.AuxiliaryQueueItem {
	sample := make([]domain.AuxiliaryQueueItem, len(candidates))
	for i, cand := range candidates {
		sample[i] = domain.AuxiliaryQueueItem{
			ID:          uuid.NewString(),
			ServiceType: st,
			Sim:         cand.Sim,
			Kind:        fmt.Sprintf("%s_recharge", strings.ToLower(string(st))),
			Status:      domain.StatusDBInsertionFailedPendingRecov,
			Record: domain.QueueItemRecord{
				Label: cand.Label, Company: cand.Company, DeviceID: cand.DeviceID,
				Sim: cand.Sim, Expiry: cand.CurrentExpiry,
			},
		}
	}
	return sample
}

func (r *Runner) release() {
	releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Lock.Release(releaseCtx, r.lockKey(), r.Config.HolderID); err != nil {
		r.Log.Warn().Err(err).Msg("pipeline: release lock failed")
	}
}

// drainRecovery writes every still-pending queue item (left over from a
// prior tick's webservice success whose ledger write failed) back to the
// ledger, grouped by the provider that originally serviced them
func (r *Runner) drainRecovery(ctx context.Context) (domain.RecoveryStats, error) {
	pending, err := r.Queue.Pending(ctx)
	if err != nil {
		return domain.RecoveryStats{}, err
	}
	if len(pending) == 0 {
		return domain.RecoveryStats{}, nil
	}

	byProvider := map[domain.ProviderName][]domain.AuxiliaryQueueItem{}
	for _, item := range pending {
		byProvider[item.Provider] = append(byProvider[item.Provider], item)
	}

	for provider, items := range byProvider {
		note := domain.QueueItemNote{
			CurrentIndex:    len(items),
			TotalToRecharge: len(items),
			TotalRecords:    len(items),
			IsRecovery:      true,
		}
		if _, err := r.Writer.Write(ctx, r.ServiceType, provider, items, note, true); err != nil {
			r.Log.Error().Err(err).Str("provider", string(provider)).Int("items", len(items)).
				Msg("pipeline: recovery batch write failed")
		}
	}

	stats, err := r.Queue.Stats(ctx)
	if err != nil {
		return domain.RecoveryStats{}, err
	}
	return domain.RecoveryStats{
		Recovered: len(pending),
		Inserted:  stats.Inserted,
		Duplicate: stats.Duplicate,
		Failed:    stats.Failed,
	}, nil
}

// dispatch calls the chosen provider once per candidate, strictly
// sequentially, enqueuing every webservice success before moving on.
// Cancellation is honored between calls, never mid-call
func (r *Runner) dispatch(ctx context.Context, client domain.ProviderClient, provider domain.ProviderName,
	candidates []domain.Candidate) ([]domain.AuxiliaryQueueItem, int) {
	var dispatched []domain.AuxiliaryQueueItem
	failed := 0

	for i, cand := range candidates {
		if ctx.Err() != nil {
			break
		}

		amount, daysValidity, pkgCode, pkgPSL, ok := r.rechargeTerms(cand)
		if !ok {
			failed++
			r.Log.Error().Str("sim", cand.Sim).Str("package_code", cand.PackageCode).
				Msg("pipeline: package code absent from catalog, skipping candidate")
			continue
		}
		req := domain.RechargeRequest{Sim: cand.Sim, Amount: amount, PackageCode: pkgCode, ServiceType: r.ServiceType}

		res, err := r.rechargeWithRetry(ctx, client, req)
		if err != nil {
			failed++
			r.Log.Error().Err(err).Str("sim", cand.Sim).Msg("pipeline: recharge call failed, skipping candidate")
		} else {
			item := domain.AuxiliaryQueueItem{
				ID:                  uuid.NewString(),
				ServiceType:         r.ServiceType,
				Sim:                 cand.Sim,
				Kind:                fmt.Sprintf("%s_recharge", strings.ToLower(string(r.ServiceType))),
				Status:              domain.StatusWebserviceSuccessPendingDB,
				Amount:              amount,
				DaysValidity:        daysValidity,
				PackageCode:         pkgCode,
				PackagePSL:          pkgPSL,
				Record: domain.QueueItemRecord{
					Label: cand.Label, Company: cand.Company, DeviceID: cand.DeviceID,
					Sim: cand.Sim, Expiry: cand.CurrentExpiry,
				},
				WebserviceResponse:  res,
				Provider:            provider,
				TransID:             res.TransID,
				AddedAt:             r.Clock.Now(),
				ExpirationDateHuman: cand.CurrentExpiry.Format("02/01/2006"),
			}
			if err := r.Queue.Enqueue(ctx, item); err != nil {
				r.Log.Error().Err(err).Str("sim", cand.Sim).Msg("pipeline: enqueue after successful recharge failed")
				failed++
			} else {
				dispatched = append(dispatched, item)
			}
		}

		if i < len(candidates)-1 {
			select {
			case <-ctx.Done():
				return dispatched, failed
			case <-time.After(r.Config.DelayBetweenCalls):
			}
		}
	}

	return dispatched, failed
}

// rechargeTerms resolves the amount/validity/package fields for a candidate:
// fixed config values for GPS/ELIOT, catalog lookup by PackageCode for VOZ.
// ok is false when a VOZ candidate's PackageCode has no catalog entry; the
// caller must skip the candidate rather than dispatch a zero-amount call
func (r *Runner) rechargeTerms(cand domain.Candidate) (amount decimal.Decimal, daysValidity int, pkgCode, pkgPSL string, ok bool) {
	if r.ServiceType != domain.ServiceVOZ {
		return r.Config.Amount, r.Config.DaysValidity, "", "", true
	}
	pkg, found := r.Config.Packages[cand.PackageCode]
	if !found {
		return decimal.Zero, 0, cand.PackageCode, "", false
	}
	return pkg.Amount, pkg.Days, pkg.Code, pkg.PSL, true
}

func (r *Runner) rechargeWithRetry(ctx context.Context, client domain.ProviderClient, req domain.RechargeRequest) (domain.WebserviceCallResult, error) {
	var lastErr error
	for attempt := 1; attempt <= r.Config.MaxAttempts; attempt++ {
		res, err := client.Recharge(ctx, req)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !retryableProviderError(err) || attempt == r.Config.MaxAttempts {
			return domain.WebserviceCallResult{}, err
		}
		select {
		case <-ctx.Done():
			return domain.WebserviceCallResult{}, ctx.Err()
		case <-time.After(r.backoffFor(attempt)):
		}
	}
	return domain.WebserviceCallResult{}, lastErr
}

// backoffFor computes the delay before retry attempt+1, per Config.RetryStrategy
func (r *Runner) backoffFor(attempt int) time.Duration {
	if r.Config.RetryStrategy == RetryExponential {
		return time.Duration(1<<uint(attempt-1)) * r.Config.RetryBaseDelay
	}
	return time.Duration(attempt) * r.Config.RetryBaseDelay
}

func retryableProviderError(err error) bool {
	switch perr.CodeOf(err) {
	case perr.ErrorCodeUnavailable, perr.ErrorCodeProviderTransport:
		return true
	default:
		return false
	}
}

var _ domain.PipelineRunner = (*Runner)(nil)
