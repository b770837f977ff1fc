package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/mextic/rechargeengine/internal/platform/clock"
	"github.com/mextic/rechargeengine/internal/platform/logger"
	"github.com/mextic/rechargeengine/internal/platform/store"
	"github.com/mextic/rechargeengine/internal/recharge/batch"
	"github.com/mextic/rechargeengine/internal/recharge/domain"
	"github.com/mextic/rechargeengine/internal/recharge/eligibility"
	"github.com/mextic/rechargeengine/internal/recharge/filter"
	"github.com/mextic/rechargeengine/internal/recharge/lock"
	"github.com/mextic/rechargeengine/internal/recharge/pipeline"
	"github.com/mextic/rechargeengine/internal/recharge/provider"
	"github.com/mextic/rechargeengine/internal/recharge/provider/mst"
	"github.com/mextic/rechargeengine/internal/recharge/provider/taecel"
	"github.com/mextic/rechargeengine/internal/recharge/queue"
	"github.com/mextic/rechargeengine/internal/recharge/schedule"
)

// Options configures one Orchestrator instance
type Options struct {
	QueueBaseDir string // directory holding the per-service sqlite queue files
	Global       GlobalConfig
	Services     map[domain.ServiceType]ServiceConfig
}

// Orchestrator wires every component and owns their lifecycle: initializes
// store bindings (C3), per-service queues with a recovery sweep (C4),
// provider probes (C6, non-fatal), and schedules (C10), in that order.
// Grounded on the teacher's module.New()/Ports() bootstrap shape, flattened
// into a single struct since this engine has one call graph, not a
// plugin registry
type Orchestrator struct {
	opts Options

	Store *store.Store
	Clock clock.Clock
	Log   logger.Logger

	Lock    domain.LockStore
	Queues  map[domain.ServiceType]domain.Queue
	Runners map[domain.ServiceType]*pipeline.Runner

	Scheduler *schedule.Scheduler
}

// New performs every initialization step except starting schedules:
// opens the store, wires the lock backend, opens each service's queue,
// drains any crash-recovery marker and assembles its runner, then probes
// every provider's balance (a failed probe is logged, not fatal)
func New(ctx context.Context, opts Options) (*Orchestrator, error) {
	log := logger.Get().With().Str("component", "orchestrator").Logger()

	validationServices := make(map[string]ServiceConfig, len(opts.Services))
	for st, sc := range opts.Services {
		validationServices[string(st)] = sc
	}
	if err := validateConfig(opts.Global, validationServices); err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(opts.Global.DefaultTimezone)
	if err != nil {
		log.Warn().Err(err).Str("tz", opts.Global.DefaultTimezone).Msg("orchestrator: falling back to UTC")
		loc = time.UTC
	}
	rtClock := clock.NewReal(loc)

	st, err := store.Open(ctx, store.Config{
		PG:  store.PGConfig{Enabled: opts.Global.PGURL != "", URL: opts.Global.PGURL, MaxConns: 8},
		RDS: store.RedisConfig{Enabled: opts.Global.LockProvider == "redis", Addr: opts.Global.RedisAddr},
	}, store.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("orchestrator: open store: %w", err)
	}

	lockStore, err := newLockStore(opts.Global, st)
	if err != nil {
		return nil, err
	}

	clients := buildProviderClients(opts.Global, log)
	selector := provider.NewSelector(clients...)

	o := &Orchestrator{
		opts:    opts,
		Store:   st,
		Clock:   rtClock,
		Log:     log,
		Lock:    lockStore,
		Queues:  map[domain.ServiceType]domain.Queue{},
		Runners: map[domain.ServiceType]*pipeline.Runner{},
	}

	for st, svcCfg := range opts.Services {
		if err := o.wireService(ctx, st, svcCfg, clients, selector); err != nil {
			return nil, err
		}
	}

	for _, cl := range clients {
		bal, err := cl.Balance(ctx)
		if err != nil {
			log.Warn().Err(err).Str("provider", string(cl.Name())).Msg("orchestrator: provider probe failed")
			continue
		}
		log.Info().Str("provider", string(cl.Name())).Float64("balance", bal.Balance).
			Bool("available", bal.Available).Msg("orchestrator: provider probe")
	}

	o.Scheduler = schedule.New(o)
	return o, nil
}

func newLockStore(g GlobalConfig, st *store.Store) (domain.LockStore, error) {
	if g.LockProvider == "redis" {
		if st.RDS == nil {
			return nil, fmt.Errorf("orchestrator: LOCK_PROVIDER=redis but redis backend not enabled")
		}
		return lock.NewRedisLock(st.RDS), nil
	}
	if st.PG == nil {
		return nil, fmt.Errorf("orchestrator: LOCK_PROVIDER=%s requires a relational store", g.LockProvider)
	}
	return lock.NewSQLLock(st.PG), nil
}

func buildProviderClients(g GlobalConfig, log logger.Logger) []domain.ProviderClient {
	var clients []domain.ProviderClient
	if g.TaecelKey != "" {
		clients = append(clients, taecel.NewClient(taecel.Options{BaseURL: g.TaecelBaseURL, Key: g.TaecelKey, NIP: g.TaecelNIP}))
	}
	if g.MSTUser != "" {
		clients = append(clients, mst.NewClient(mst.Options{WSDLURL: g.MSTWSDLURL, User: g.MSTUser, Password: g.MSTPassword}))
	}
	if len(clients) == 0 {
		log.Warn().Msg("orchestrator: no provider credentials configured; every tick will skip with no_provider")
	}
	return clients
}

func (o *Orchestrator) wireService(ctx context.Context, st domain.ServiceType, svcCfg ServiceConfig,
	clients []domain.ProviderClient, selector domain.ProviderSelector) error {
	q, err := queue.Open(o.opts.QueueBaseDir, st)
	if err != nil {
		return fmt.Errorf("orchestrator: open queue for %s: %w", st, err)
	}
	o.Queues[st] = q

	if marker, err := q.LoadMarker(ctx); err != nil {
		o.Log.Warn().Err(err).Str("service", string(st)).Msg("orchestrator: load crash marker failed")
	} else if marker != nil && marker.WasProcessing {
		o.Log.Warn().Str("service", string(st)).Time("started_at", marker.StartedAt).
			Int("items_in_process", marker.ItemsInProcess).
			Msg("orchestrator: prior run crashed mid-tick; recovering marked sample into queue")

		recovered := 0
		for _, item := range marker.Sample {
			item.Status = domain.StatusDBInsertionFailedPendingRecov
			if err := q.Enqueue(ctx, item); err != nil {
				o.Log.Error().Err(err).Str("service", string(st)).Str("sim", item.Sim).
					Msg("orchestrator: re-enqueue crash-recovery sample item failed")
				continue
			}
			recovered++
		}
		o.Log.Warn().Str("service", string(st)).Int("recovered", recovered).Int("sample_size", len(marker.Sample)).
			Msg("orchestrator: crash recovery sample re-enqueued; strict drain will pick it up on first tick")

		if err := q.MarkProcessingEnd(ctx); err != nil {
			o.Log.Warn().Err(err).Str("service", string(st)).Msg("orchestrator: clear crash marker failed")
		}
	}

	elig := eligibility.NewQuery(o.Store.PG, o.Clock, st)
	classifier := filter.NewClassifier(st, svcCfg.MinutosSinReportarParaRecarga)
	writer := batch.NewWriter(o.Store.PG, q, o.Clock)

	runner := pipeline.NewRunner(st, o.Lock, q, elig, classifier, selector, clients, writer, o.Clock, pipeline.Config{
		LockTTLSeconds:    svcCfg.LockTimeoutSeconds,
		DaysLimit:         svcCfg.DaysSinReportarLimite,
		MinBalance:        svcCfg.MinBalanceThreshold,
		DelayBetweenCalls: svcCfg.DelayBetweenCalls,
		MaxAttempts:       svcCfg.MaxRetries,
		RetryStrategy:     svcCfg.RetryStrategy,
		RetryBaseDelay:    svcCfg.RetryBaseDelay,
		Amount:            svcCfg.Amount,
		DaysValidity:      svcCfg.DaysValidity,
		Packages:          svcCfg.Packages,
	})
	o.Runners[st] = runner
	return nil
}

// Run implements domain.PipelineRunner by dispatching to the wired runner
// for st; this lets the Orchestrator itself be handed to schedule.New
func (o *Orchestrator) Run(ctx context.Context, st domain.ServiceType) (domain.TickResult, error) {
	runner, ok := o.Runners[st]
	if !ok {
		return domain.TickResult{ServiceType: st}, fmt.Errorf("orchestrator: no runner wired for %s", st)
	}
	return runner.Run(ctx, st)
}

// Start registers every service's schedule, visiting services in map
// order (not fixed); it does not block
func (o *Orchestrator) Start(ctx context.Context) error {
	for st, svcCfg := range o.opts.Services {
		spec := schedule.Spec{
			ServiceType:     st,
			Mode:            svcCfg.ScheduleMode,
			IntervalMinutes: svcCfg.ScheduleMinutes,
			FixedHours:      svcCfg.ScheduleHours,
		}
		if err := o.Scheduler.Register(ctx, spec); err != nil {
			return fmt.Errorf("orchestrator: register schedule for %s: %w", st, err)
		}
	}
	return nil
}

// RunOnce bypasses the scheduler entirely for one immediate tick; used by
// `run-once` and by the TEST_{GPS|VOZ|ELIOT} environment toggles
func (o *Orchestrator) RunOnce(ctx context.Context, st domain.ServiceType) (domain.TickResult, error) {
	return o.Run(ctx, st)
}

// ServiceStatus summarizes one service for the `status` CLI subcommand
type ServiceStatus struct {
	ServiceType domain.ServiceType
	QueueStats  domain.QueueStats
	LockHeld    bool
}

// Status reports queue and lock state for every wired service
func (o *Orchestrator) Status(ctx context.Context) ([]ServiceStatus, error) {
	var out []ServiceStatus
	for st, q := range o.Queues {
		stats, err := q.Stats(ctx)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: stats for %s: %w", st, err)
		}
		held, err := o.Lock.IsHeld(ctx, fmt.Sprintf("recharge:%s", st))
		if err != nil {
			return nil, fmt.Errorf("orchestrator: lock status for %s: %w", st, err)
		}
		out = append(out, ServiceStatus{ServiceType: st, QueueStats: stats, LockHeld: held.Held})
	}
	return out, nil
}

// Shutdown cancels schedules, releases held locks, closes every queue file,
// and closes the store's connection pools
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	if o.Scheduler != nil {
		o.Scheduler.Stop()
	}
	if _, err := o.Lock.ReleaseAll(ctx); err != nil {
		o.Log.Warn().Err(err).Msg("orchestrator: release all locks failed")
	}
	for st, q := range o.Queues {
		if closer, ok := q.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				o.Log.Warn().Err(err).Str("service", string(st)).Msg("orchestrator: close queue failed")
			}
		}
	}
	if o.Store != nil {
		return o.Store.Close(ctx)
	}
	return nil
}

var _ domain.PipelineRunner = (*Orchestrator)(nil)
