// Package batch implements the single-transaction master+detail ledger
// writer (C5): N successful webservice calls become one recargas row and N
// detalle_recargas rows, with duplicate-folio tolerance and a strict abort
// on any other write failure
package batch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mextic/rechargeengine/internal/platform/clock"
	perr "github.com/mextic/rechargeengine/internal/platform/errors"
	"github.com/mextic/rechargeengine/internal/platform/store"
	"github.com/mextic/rechargeengine/internal/recharge/domain"
)

const operatorName = "mextic.app"

// outcome tracks what happened to one item during the write, so the
// post-commit pass knows how to transition it in the queue
type outcome uint8

const (
	outcomePending outcome = iota
	outcomeInserted
	outcomeDuplicate
)

// Writer implements domain.BatchWriter against a relational ledger.
// Grounded on the teacher's nightshift batch-commit shape (single tx,
// per-row error classification, post-commit verification before cleanup)
type Writer struct {
	DB    store.TxRunner
	Queue domain.Queue
	Clock clock.Clock

	// OnBatchCommitted fires once per successful Write, after postCommit has
	// classified every item; nil by default. The extension point an
	// analytics/reporting writer could subscribe to without this package
	// depending on one, per spec.md's non-goal on analytics/reporting.
	OnBatchCommitted func(st domain.ServiceType, masterID int64, items []domain.AuxiliaryQueueItem)
}

// NewWriter wires a Writer over an existing TxRunner, the service's queue,
// and a clock for day-boundary expiry math
func NewWriter(db store.TxRunner, q domain.Queue, c clock.Clock) *Writer {
	return &Writer{DB: db, Queue: q, Clock: c}
}

func (w *Writer) Write(ctx context.Context, st domain.ServiceType, provider domain.ProviderName, items []domain.AuxiliaryQueueItem, note domain.QueueItemNote, isRecovery bool) (int64, error) {
	if len(items) == 0 {
		return 0, perr.InvalidArgf("batch: items must be non-empty")
	}
	note.IsRecovery = isRecovery

	outcomes := make([]outcome, len(items))
	var masterID int64
	var total decimal.Decimal
	for _, item := range items {
		total = total.Add(item.Amount)
	}

	kind := domain.LedgerKindRastreo
	if st == domain.ServiceVOZ {
		kind = domain.LedgerKindPaquete
	}

	notes := formatMasterNote(st, items, note)
	successCount := len(items)
	resumen := domain.MasterResumen{Error: 0, Success: successCount, Refund: 0}
	resumenJSON, err := json.Marshal(resumen)
	if err != nil {
		return 0, perr.Internalf("batch: marshal resumen: %v", err)
	}

	txErr := w.DB.Tx(ctx, func(q store.RowQuerier) error {
		row := q.QueryRow(ctx, `
			INSERT INTO recargas (total, fecha, notes, operator, provider, tipo, resumen)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id
		`, total, time.Now().UTC(), notes, operatorName, string(provider), string(kind), string(resumenJSON))
		if err := row.Scan(&masterID); err != nil {
			return perr.FromPostgresWithField(err, "batch: insert master row")
		}

		for i, item := range items {
			detailText := formatDetailText(item, st)
			folio := item.WebserviceResponse.Folio

			_, err := q.Exec(ctx, `
				INSERT INTO detalle_recargas (id_recarga, sim, importe, dispositivo, vehiculo, detalle, folio, status)
				VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), 1)
			`, masterID, item.Sim, item.Amount, item.Record.DeviceID, item.Record.Label, detailText, folio)
			if err != nil {
				if perr.IsDuplicateKey(err) {
					outcomes[i] = outcomeDuplicate
					continue
				}
				return perr.FromPostgresWithField(err, "batch: insert detail row")
			}

			if err := w.updateExpiry(ctx, q, st, item); err != nil {
				return err
			}
			outcomes[i] = outcomeInserted
		}
		return nil
	})
	if txErr != nil {
		for _, item := range items {
			_ = w.Queue.MarkFailed(ctx, item.ID, txErr)
		}
		return 0, txErr
	}

	w.postCommit(ctx, st, items, outcomes)
	if w.OnBatchCommitted != nil {
		w.OnBatchCommitted(st, masterID, items)
	}
	return masterID, nil
}

// updateExpiry advances the subject's expiry in-place, inside the same
// transaction as the detail insert
func (w *Writer) updateExpiry(ctx context.Context, q store.RowQuerier, st domain.ServiceType, item domain.AuxiliaryQueueItem) error {
	var newExpiry time.Time
	switch st {
	case domain.ServiceVOZ:
		newExpiry = w.Clock.EndOfDay(w.Clock.Today().AddDate(0, 0, item.DaysValidity))
	default:
		newExpiry = w.Clock.EndOfDay(w.Clock.Today()).AddDate(0, 0, item.DaysValidity)
	}

	if st == domain.ServiceVOZ {
		_, err := q.Exec(ctx, `UPDATE prepagos_automaticos SET fecha_expira_saldo = $1, codigo_paquete = $2 WHERE sim = $3`,
			newExpiry.Unix(), item.PackageCode, item.Sim)
		if err != nil {
			return perr.FromPostgresWithField(err, "batch: update voz expiry")
		}
		return nil
	}

	_, err := q.Exec(ctx, `UPDATE dispositivos SET unix_saldo = $1 WHERE sim = $2`, newExpiry.Unix(), item.Sim)
	if err != nil {
		return perr.FromPostgresWithField(err, "batch: update device expiry")
	}
	return nil
}

// postCommit verifies each item's folio+sim landed in the detail table
// before transitioning it out of the queue; unverified items are left
// untouched so a paid recharge is never silently lost
func (w *Writer) postCommit(ctx context.Context, st domain.ServiceType, items []domain.AuxiliaryQueueItem, outcomes []outcome) {
	for i, item := range items {
		switch outcomes[i] {
		case outcomeDuplicate:
			_ = w.Queue.MarkDuplicate(ctx, item.ID)
		case outcomeInserted:
			exists, err := w.folioExists(ctx, item.WebserviceResponse.Folio, item.Sim)
			if err == nil && exists {
				_ = w.Queue.MarkInserted(ctx, item.ID)
			}
			// unverified: leave item in the queue for the next recovery pass
		}
	}
}

func (w *Writer) folioExists(ctx context.Context, folio, sim string) (bool, error) {
	if folio == "" {
		return false, nil
	}
	var exists bool
	row := w.DB.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM detalle_recargas WHERE folio = $1 AND sim = $2)`, folio, sim)
	if err := row.Scan(&exists); err != nil {
		return false, perr.FromPostgresWithField(err, "batch: folio exists check")
	}
	return exists, nil
}

var _ domain.BatchWriter = (*Writer)(nil)
