package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	perr "github.com/mextic/rechargeengine/internal/platform/errors"
	"github.com/mextic/rechargeengine/internal/recharge/domain"
)

// pendingStatuses are the lifecycle states Pending/Stats count as unresolved
var pendingStatuses = []domain.QueueItemStatus{
	domain.StatusWebserviceSuccessPendingDB,
	domain.StatusDBInsertionFailedPendingRecov,
	domain.StatusRecoveryPendingDB,
}

// SQLiteQueue implements domain.Queue with one sqlite file per service type.
// Grounded on ManuGH-xg2g's persistence/sqlite config and pipeline/resume
// sqlite_store shape, repurposed for the recharge engine's queue envelope
type SQLiteQueue struct {
	DB *sql.DB
}

// Open opens (creating if needed) the queue file for st under baseDir and
// runs its schema migration
func Open(baseDir string, st domain.ServiceType) (*SQLiteQueue, error) {
	path := filepath.Join(baseDir, fmt.Sprintf("queue_%s.sqlite", strings.ToLower(string(st))))
	db, err := open(path, DefaultConfig())
	if err != nil {
		return nil, err
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteQueue{DB: db}, nil
}

// Close releases the underlying sqlite connection
func (q *SQLiteQueue) Close() error { return q.DB.Close() }

func (q *SQLiteQueue) Enqueue(ctx context.Context, item domain.AuxiliaryQueueItem) error {
	recordJSON, err := json.Marshal(item.Record)
	if err != nil {
		return perr.BackendErrorf("queue: marshal record: %v", err)
	}
	respJSON, err := json.Marshal(item.WebserviceResponse)
	if err != nil {
		return perr.BackendErrorf("queue: marshal webservice response: %v", err)
	}
	noteJSON, err := json.Marshal(item.Note)
	if err != nil {
		return perr.BackendErrorf("queue: marshal note: %v", err)
	}

	addedAt := item.AddedAt
	if addedAt.IsZero() {
		addedAt = time.Now().UTC()
	}

	_, err = q.DB.ExecContext(ctx, `
		INSERT INTO queue_items (
			id, service_type, sim, kind, status, amount, days_validity,
			package_code, package_psl,
			record_json, webservice_response_json, note_json,
			provider, trans_id, attempts, last_attempt_at, added_at,
			last_error, expiration_date_human
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		item.ID, string(item.ServiceType), item.Sim, item.Kind, string(item.Status),
		item.Amount.String(), item.DaysValidity,
		item.PackageCode, item.PackagePSL,
		string(recordJSON), string(respJSON), string(noteJSON),
		// fixed-width UTC text, so ORDER BY added_at sorts chronologically
		string(item.Provider), item.TransID, item.Attempts, nullableTime(item.LastAttemptAt), addedAt.UTC().Format("2006-01-02T15:04:05.000000000Z07:00"),
		item.LastError, item.ExpirationDateHuman,
	)
	if err != nil {
		return perr.BackendErrorf("queue: enqueue %s: %v", item.ID, err)
	}
	return nil
}

func (q *SQLiteQueue) setStatus(ctx context.Context, id string, status domain.QueueItemStatus, lastError string) error {
	res, err := q.DB.ExecContext(ctx, `
		UPDATE queue_items SET status = ?, last_error = ?, attempts = attempts + 1, last_attempt_at = ?
		WHERE id = ?
	`, string(status), lastError, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return perr.BackendErrorf("queue: set status %s->%s: %v", id, status, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return perr.BackendErrorf("queue: rows affected %s: %v", id, err)
	}
	if n == 0 {
		return perr.NotFoundf("queue item %s", id)
	}
	return nil
}

func (q *SQLiteQueue) MarkInserted(ctx context.Context, id string) error {
	return q.setStatus(ctx, id, domain.StatusInserted, "")
}

func (q *SQLiteQueue) MarkDuplicate(ctx context.Context, id string) error {
	return q.setStatus(ctx, id, domain.StatusDuplicate, "")
}

func (q *SQLiteQueue) MarkFailed(ctx context.Context, id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return q.setStatus(ctx, id, domain.StatusFailed, msg)
}

func (q *SQLiteQueue) Pending(ctx context.Context) ([]domain.AuxiliaryQueueItem, error) {
	rows, err := q.DB.QueryContext(ctx, `
		SELECT id, service_type, sim, kind, status, amount, days_validity,
		       package_code, package_psl,
		       record_json, webservice_response_json, note_json,
		       provider, trans_id, attempts, last_attempt_at, added_at,
		       last_error, expiration_date_human
		FROM queue_items
		WHERE status IN (?, ?, ?)
		ORDER BY added_at ASC
	`, string(domain.StatusWebserviceSuccessPendingDB), string(domain.StatusDBInsertionFailedPendingRecov), string(domain.StatusRecoveryPendingDB))
	if err != nil {
		return nil, perr.BackendErrorf("queue: pending query: %v", err)
	}
	defer rows.Close()

	var out []domain.AuxiliaryQueueItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, perr.BackendErrorf("queue: pending iterate: %v", err)
	}
	return out, nil
}

func (q *SQLiteQueue) Stats(ctx context.Context) (domain.QueueStats, error) {
	rows, err := q.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM queue_items GROUP BY status`)
	if err != nil {
		return domain.QueueStats{}, perr.BackendErrorf("queue: stats: %v", err)
	}
	defer rows.Close()

	var stats domain.QueueStats
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return domain.QueueStats{}, perr.BackendErrorf("queue: stats scan: %v", err)
		}
		stats.Total += n
		switch domain.QueueItemStatus(status) {
		case domain.StatusInserted:
			stats.Inserted += n
		case domain.StatusDuplicate:
			stats.Duplicate += n
		case domain.StatusFailed:
			stats.Failed += n
		default:
			stats.Pending += n
		}
	}
	if err := rows.Err(); err != nil {
		return domain.QueueStats{}, perr.BackendErrorf("queue: stats iterate: %v", err)
	}
	return stats, nil
}

func (q *SQLiteQueue) CleanProcessed(ctx context.Context) (domain.CleanResult, error) {
	res, err := q.DB.ExecContext(ctx, `DELETE FROM queue_items WHERE status IN (?, ?)`,
		string(domain.StatusInserted), string(domain.StatusDuplicate))
	if err != nil {
		return domain.CleanResult{}, perr.BackendErrorf("queue: clean processed: %v", err)
	}
	cleaned, err := res.RowsAffected()
	if err != nil {
		return domain.CleanResult{}, perr.BackendErrorf("queue: clean rows affected: %v", err)
	}

	var remaining int
	if err := q.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue_items`).Scan(&remaining); err != nil {
		return domain.CleanResult{}, perr.BackendErrorf("queue: clean remaining count: %v", err)
	}
	return domain.CleanResult{Cleaned: int(cleaned), Remaining: remaining}, nil
}

func (q *SQLiteQueue) MarkProcessingStart(ctx context.Context, sample []domain.AuxiliaryQueueItem) error {
	sampleJSON, err := json.Marshal(sample)
	if err != nil {
		return perr.BackendErrorf("queue: marshal marker sample: %v", err)
	}
	_, err = q.DB.ExecContext(ctx, `
		INSERT INTO crash_markers (id, started_at, items_in_process, sample_json)
		VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			started_at = excluded.started_at,
			items_in_process = excluded.items_in_process,
			sample_json = excluded.sample_json
	`, time.Now().UTC().Format(time.RFC3339Nano), len(sample), string(sampleJSON))
	if err != nil {
		return perr.BackendErrorf("queue: mark processing start: %v", err)
	}
	return nil
}

func (q *SQLiteQueue) MarkProcessingEnd(ctx context.Context) error {
	if _, err := q.DB.ExecContext(ctx, `DELETE FROM crash_markers WHERE id = 1`); err != nil {
		return perr.BackendErrorf("queue: mark processing end: %v", err)
	}
	return nil
}

func (q *SQLiteQueue) LoadMarker(ctx context.Context) (*domain.CrashRecoveryMarker, error) {
	var startedAtStr, sampleJSON string
	var itemsInProcess int
	err := q.DB.QueryRowContext(ctx, `SELECT started_at, items_in_process, sample_json FROM crash_markers WHERE id = 1`).
		Scan(&startedAtStr, &itemsInProcess, &sampleJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, perr.BackendErrorf("queue: load marker: %v", err)
	}

	startedAt, _ := time.Parse(time.RFC3339Nano, startedAtStr)
	var sample []domain.AuxiliaryQueueItem
	if err := json.Unmarshal([]byte(sampleJSON), &sample); err != nil {
		return nil, perr.BackendErrorf("queue: unmarshal marker sample: %v", err)
	}

	return &domain.CrashRecoveryMarker{
		WasProcessing:  true,
		StartedAt:      startedAt,
		ItemsInProcess: itemsInProcess,
		Sample:         sample,
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(r rowScanner) (domain.AuxiliaryQueueItem, error) {
	var item domain.AuxiliaryQueueItem
	var serviceType, status, amountStr, recordJSON, respJSON, noteJSON, provider, addedAtStr string
	var lastAttemptAt sql.NullString

	if err := r.Scan(
		&item.ID, &serviceType, &item.Sim, &item.Kind, &status, &amountStr, &item.DaysValidity,
		&item.PackageCode, &item.PackagePSL,
		&recordJSON, &respJSON, &noteJSON,
		&provider, &item.TransID, &item.Attempts, &lastAttemptAt, &addedAtStr,
		&item.LastError, &item.ExpirationDateHuman,
	); err != nil {
		return item, perr.BackendErrorf("queue: scan item: %v", err)
	}

	item.ServiceType = domain.ServiceType(serviceType)
	item.Status = domain.QueueItemStatus(status)
	item.Provider = domain.ProviderName(provider)

	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return item, perr.BackendErrorf("queue: parse amount %q: %v", amountStr, err)
	}
	item.Amount = amount

	if err := json.Unmarshal([]byte(recordJSON), &item.Record); err != nil {
		return item, perr.BackendErrorf("queue: unmarshal record: %v", err)
	}
	if err := json.Unmarshal([]byte(respJSON), &item.WebserviceResponse); err != nil {
		return item, perr.BackendErrorf("queue: unmarshal webservice response: %v", err)
	}
	if err := json.Unmarshal([]byte(noteJSON), &item.Note); err != nil {
		return item, perr.BackendErrorf("queue: unmarshal note: %v", err)
	}

	if addedAt, err := time.Parse(time.RFC3339Nano, addedAtStr); err == nil {
		item.AddedAt = addedAt
	}
	if lastAttemptAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, lastAttemptAt.String); err == nil {
			item.LastAttemptAt = t
		}
	}

	return item, nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

var _ domain.Queue = (*SQLiteQueue)(nil)
