// Command rechargeengine boots the scheduled prepaid-airtime recharge
// orchestrator (C11) and exposes its lifecycle to operators: stay resident
// under a scheduler, force one immediate tick, report status, or sweep
// stuck locks
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	perr "github.com/mextic/rechargeengine/internal/platform/errors"
	"github.com/mextic/rechargeengine/internal/platform/logger"
	"github.com/mextic/rechargeengine/internal/recharge/domain"
	"github.com/mextic/rechargeengine/internal/recharge/orchestrator"
)

const (
	exitOK            = 0
	exitFatalInit     = 1
	exitConfigInvalid = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	l := logger.Get()

	if len(os.Args) < 2 {
		usage()
		return exitConfigInvalid
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "start":
		return cmdStart(l)
	case "run-once":
		return cmdRunOnce(l, args)
	case "status":
		return cmdStatus(l)
	case "clean-locks":
		return cmdCleanLocks(l, args)
	default:
		l.Error().Str("cmd", cmd).Msg("rechargeengine: unknown subcommand")
		usage()
		return exitConfigInvalid
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: rechargeengine <start|run-once <service>|status|clean-locks [--force]>")
}

// newOrchestrator loads the recognized configuration surface and wires every
// component; it is shared by every subcommand so boot behavior stays uniform
func newOrchestrator(ctx context.Context, l *logger.Logger) (*orchestrator.Orchestrator, int) {
	global := orchestrator.LoadGlobalConfig()

	services := map[domain.ServiceType]orchestrator.ServiceConfig{
		domain.ServiceGPS:   orchestrator.LoadServiceConfig(domain.ServiceGPS),
		domain.ServiceVOZ:   orchestrator.LoadServiceConfig(domain.ServiceVOZ),
		domain.ServiceELIOT: orchestrator.LoadServiceConfig(domain.ServiceELIOT),
	}

	baseDir := os.Getenv("QUEUE_BASE_DIR")
	if baseDir == "" {
		baseDir = "./data/queues"
	}

	o, err := orchestrator.New(ctx, orchestrator.Options{
		QueueBaseDir: baseDir,
		Global:       global,
		Services:     services,
	})
	if err != nil {
		l.Error().Err(err).Msg("rechargeengine: orchestrator init failed")
		if perr.CodeOf(err) == perr.ErrorCodeConfigInvalid {
			return nil, exitConfigInvalid
		}
		return nil, exitFatalInit
	}
	return o, exitOK
}

func cmdStart(l *logger.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	o, code := newOrchestrator(ctx, l)
	if o == nil {
		return code
	}
	defer func() {
		if err := o.Shutdown(context.Background()); err != nil {
			l.Error().Err(err).Msg("rechargeengine: shutdown failed")
		}
	}()

	if err := o.Start(ctx); err != nil {
		l.Error().Err(err).Msg("rechargeengine: start schedules failed")
		return exitFatalInit
	}

	l.Info().Msg("rechargeengine: scheduler running, waiting for signal")
	<-ctx.Done()
	l.Info().Msg("rechargeengine: shutdown signal received")
	return exitOK
}

func cmdRunOnce(l *logger.Logger, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: rechargeengine run-once <GPS|VOZ|ELIOT>")
		return exitConfigInvalid
	}
	st := domain.ServiceType(args[0])
	switch st {
	case domain.ServiceGPS, domain.ServiceVOZ, domain.ServiceELIOT:
	default:
		l.Error().Str("service", args[0]).Msg("rechargeengine: unknown service type")
		return exitConfigInvalid
	}

	ctx := context.Background()
	o, code := newOrchestrator(ctx, l)
	if o == nil {
		return code
	}
	defer func() {
		if err := o.Shutdown(context.Background()); err != nil {
			l.Error().Err(err).Msg("rechargeengine: shutdown failed")
		}
	}()

	result, err := o.RunOnce(ctx, st)
	if err != nil {
		l.Error().Err(err).Str("service", string(st)).Msg("rechargeengine: run-once failed")
		return exitFatalInit
	}
	l.Info().
		Bool("skipped", result.Skipped).
		Str("skip_reason", result.SkipReason).
		Int("dispatched", result.Dispatched).
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).
		Msg("rechargeengine: tick complete")
	return exitOK
}

func cmdStatus(l *logger.Logger) int {
	ctx := context.Background()
	o, code := newOrchestrator(ctx, l)
	if o == nil {
		return code
	}
	defer func() {
		if err := o.Shutdown(context.Background()); err != nil {
			l.Error().Err(err).Msg("rechargeengine: shutdown failed")
		}
	}()

	statuses, err := o.Status(ctx)
	if err != nil {
		l.Error().Err(err).Msg("rechargeengine: status query failed")
		return exitFatalInit
	}
	for _, s := range statuses {
		fmt.Printf("%-6s pending=%d inserted=%d duplicate=%d failed=%d total=%d lock_held=%v\n",
			s.ServiceType, s.QueueStats.Pending, s.QueueStats.Inserted, s.QueueStats.Duplicate,
			s.QueueStats.Failed, s.QueueStats.Total, s.LockHeld)
	}
	return exitOK
}

func cmdCleanLocks(l *logger.Logger, args []string) int {
	fs := flag.NewFlagSet("clean-locks", flag.ContinueOnError)
	force := fs.Bool("force", false, "release every lock, not just expired ones")
	if err := fs.Parse(args); err != nil {
		return exitConfigInvalid
	}

	ctx := context.Background()
	o, code := newOrchestrator(ctx, l)
	if o == nil {
		return code
	}
	defer func() {
		if err := o.Shutdown(context.Background()); err != nil {
			l.Error().Err(err).Msg("rechargeengine: shutdown failed")
		}
	}()

	var (
		n   int
		err error
	)
	if *force {
		n, err = o.Lock.ReleaseAll(ctx)
	} else {
		n, err = o.Lock.SweepExpired(ctx)
	}
	if err != nil {
		l.Error().Err(err).Msg("rechargeengine: clean-locks failed")
		return exitFatalInit
	}
	l.Info().Int("released", n).Bool("force", *force).Msg("rechargeengine: clean-locks complete")
	return exitOK
}
