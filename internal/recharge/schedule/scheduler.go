// Package schedule registers per-service triggers (C10): a wall-clock
// aligned interval, or a list of fixed hours in an operator timezone. Both
// modes honor in-process overlap suppression; the distributed lock (C3)
// remains the ultimate cross-process guard
package schedule

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mextic/rechargeengine/internal/platform/logger"
	"github.com/mextic/rechargeengine/internal/recharge/domain"
)

// Mode selects how a Spec's trigger fires
type Mode string

const (
	ModeInterval   Mode = "interval"
	ModeFixedHours Mode = "fixed_hours"
)

// Spec describes one service's trigger configuration
type Spec struct {
	ServiceType domain.ServiceType
	Mode        Mode

	// IntervalMinutes is used when Mode == ModeInterval; ticks align to wall
	// clock boundaries (e.g. 10 -> :00, :10, :20, ...)
	IntervalMinutes int

	// FixedHours is used when Mode == ModeFixedHours: "HH:MM" entries in Location
	FixedHours []string

	// Location is the timezone every trigger in this Spec is evaluated in;
	// defaults to time.Local when nil
	Location *time.Location
}

// Scheduler owns one goroutine (interval) or cron entry (fixed hours) per
// registered service, and suppresses overlapping ticks in-process.
// Grounded on the teacher's hallmonitor worker loop shape (ticker + select
// on ctx.Done), generalized to per-service registration and added a
// robfig/cron backend for the fixed-hours trigger kind
type Scheduler struct {
	runner domain.PipelineRunner
	log    logger.Logger

	mu          sync.Mutex
	inFlight    map[domain.ServiceType]bool
	cancels     []func()
	cron        *cron.Cron
	cronStarted bool
}

// New wires a Scheduler that dispatches every fired trigger to runner.Run
func New(runner domain.PipelineRunner) *Scheduler {
	return &Scheduler{
		runner:   runner,
		log:      logger.Get().With().Str("component", "schedule").Logger(),
		inFlight: map[domain.ServiceType]bool{},
	}
}

// Register starts the trigger described by spec. It returns an error only
// for malformed specs (bad hour strings, unknown mode); the underlying
// goroutine/cron entry runs until ctx is canceled or Stop is called
func (s *Scheduler) Register(ctx context.Context, spec Spec) error {
	loc := spec.Location
	if loc == nil {
		loc = time.Local
	}

	switch spec.Mode {
	case ModeInterval:
		if spec.IntervalMinutes <= 0 {
			return fmt.Errorf("schedule: %s: interval minutes must be positive", spec.ServiceType)
		}
		s.registerInterval(ctx, spec.ServiceType, time.Duration(spec.IntervalMinutes)*time.Minute, loc)
		return nil
	case ModeFixedHours:
		return s.registerFixedHours(ctx, spec.ServiceType, spec.FixedHours, loc)
	default:
		return fmt.Errorf("schedule: %s: unknown mode %q", spec.ServiceType, spec.Mode)
	}
}

func (s *Scheduler) registerInterval(ctx context.Context, st domain.ServiceType, interval time.Duration, loc *time.Location) {
	stop := make(chan struct{})
	s.mu.Lock()
	s.cancels = append(s.cancels, func() { close(stop) })
	s.mu.Unlock()

	go func() {
		wait := nextAlignedTick(time.Now().In(loc), interval)
		timer := time.NewTimer(wait)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-timer.C:
				s.fire(ctx, st)
				timer.Reset(nextAlignedTick(time.Now().In(loc), interval))
			}
		}
	}()
}

// nextAlignedTick returns the delay until the next wall-clock boundary that
// is a multiple of interval within the hour (e.g. interval=10m -> :00/:10/:20/...)
func nextAlignedTick(now time.Time, interval time.Duration) time.Duration {
	if interval <= 0 {
		interval = time.Minute
	}
	truncated := now.Truncate(interval)
	next := truncated.Add(interval)
	if !next.After(now) {
		next = next.Add(interval)
	}
	return next.Sub(now)
}

func (s *Scheduler) registerFixedHours(ctx context.Context, st domain.ServiceType, hours []string, loc *time.Location) error {
	if len(hours) == 0 {
		return fmt.Errorf("schedule: %s: fixed hours mode requires at least one HH:MM entry", st)
	}
	if s.cron == nil {
		s.cron = cron.New(cron.WithLocation(loc))
	}

	for _, hh := range hours {
		spec, err := cronSpecFor(hh)
		if err != nil {
			return fmt.Errorf("schedule: %s: %w", st, err)
		}
		svc := st
		if _, err := s.cron.AddFunc(spec, func() { s.fire(ctx, svc) }); err != nil {
			return fmt.Errorf("schedule: %s: register %q: %w", st, hh, err)
		}
	}

	s.mu.Lock()
	alreadyStarted := s.cronStarted
	s.mu.Unlock()
	if !alreadyStarted {
		s.startCron()
	}
	return nil
}

// startCron lazily starts the shared cron.Cron once the first fixed-hours
// Spec registers
func (s *Scheduler) startCron() {
	s.mu.Lock()
	s.cronStarted = true
	c := s.cron
	s.mu.Unlock()
	c.Start()
	s.cancels = append(s.cancels, func() { c.Stop() })
}

func cronSpecFor(hhmm string) (string, error) {
	parts := strings.SplitN(hhmm, ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid HH:MM %q", hhmm)
	}
	hh, err := strconv.Atoi(parts[0])
	if err != nil || hh < 0 || hh > 23 {
		return "", fmt.Errorf("invalid hour in %q", hhmm)
	}
	mm, err := strconv.Atoi(parts[1])
	if err != nil || mm < 0 || mm > 59 {
		return "", fmt.Errorf("invalid minute in %q", hhmm)
	}
	return fmt.Sprintf("%d %d * * *", mm, hh), nil
}

// fire runs one tick for st, suppressing overlap with a still-running tick
func (s *Scheduler) fire(ctx context.Context, st domain.ServiceType) {
	s.mu.Lock()
	if s.inFlight[st] {
		s.mu.Unlock()
		s.log.Warn().Str("service", string(st)).Msg("schedule: tick suppressed, previous tick still running")
		return
	}
	s.inFlight[st] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight[st] = false
		s.mu.Unlock()
	}()

	result, err := s.runner.Run(ctx, st)
	if err != nil {
		s.log.Error().Err(err).Str("service", string(st)).Msg("schedule: tick failed")
		return
	}
	if result.Skipped {
		s.log.Info().Str("service", string(st)).Str("reason", result.SkipReason).Msg("schedule: tick skipped")
		return
	}
	s.log.Info().Str("service", string(st)).Int("succeeded", result.Succeeded).Int("failed", result.Failed).
		Int64("master_row_id", result.MasterRowID).Msg("schedule: tick complete")
}

// Stop cancels every registered interval goroutine and stops the shared cron
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancels := s.cancels
	s.cancels = nil
	s.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}
