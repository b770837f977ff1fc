// Package eligibility implements the per-service candidate-set producer
// (C7): a parameterized SQL query per service type that excludes rows
// already recharged today at the SQL level
package eligibility

import (
	"context"
	"time"

	"github.com/mextic/rechargeengine/internal/platform/clock"
	perr "github.com/mextic/rechargeengine/internal/platform/errors"
	"github.com/mextic/rechargeengine/internal/platform/store"
	"github.com/mextic/rechargeengine/internal/recharge/domain"
)

// Query implements domain.EligibilityQuery for one service type.
// Grounded on the teacher's repo-layer row-query shape (parameterized SQL,
// scan into a slice), adapted to the fleet-eligibility domain
type Query struct {
	DB          store.RowQuerier
	Clock       clock.Clock
	ServiceType domain.ServiceType
}

// NewQuery wires a Query for one service type
func NewQuery(db store.RowQuerier, c clock.Clock, st domain.ServiceType) *Query {
	return &Query{DB: db, Clock: c, ServiceType: st}
}

func (q *Query) Candidates(ctx context.Context, daysLimit int) ([]domain.Candidate, error) {
	switch q.ServiceType {
	case domain.ServiceVOZ:
		return q.vozCandidates(ctx)
	default:
		return q.gpsCandidates(ctx, daysLimit)
	}
}

// gpsCandidates covers both GPS and ELIOT: active devices whose expiry
// falls within the end-of-tomorrow window and are not already recharged
// today, with idle time derived from their last telemetry report
func (q *Query) gpsCandidates(ctx context.Context, daysLimit int) ([]domain.Candidate, error) {
	endOfTomorrow := q.Clock.EndOfTomorrow()
	now := q.Clock.Now()

	rows, err := q.DB.Query(ctx, `
		SELECT d.sim, d.label, d.company, d.device_id, d.unix_saldo, d.ultimo_reporte
		FROM dispositivos d
		WHERE d.prepago = true
		  AND d.unix_saldo <= $1
		  AND NOT EXISTS (
		      SELECT 1 FROM detalle_recargas dr
		      JOIN recargas r ON r.id = dr.id_recarga
		      WHERE dr.sim = d.sim AND r.fecha::date = $2 AND dr.status = 1
		  )
	`, endOfTomorrow.Unix(), q.Clock.Today().Format("2006-01-02"))
	if err != nil {
		return nil, perr.FromPostgresWithField(err, "eligibility: gps candidates query")
	}
	defer rows.Close()

	var out []domain.Candidate
	for rows.Next() {
		var sim, label, company, deviceID string
		var unixSaldo, ultimoReporte int64
		if err := rows.Scan(&sim, &label, &company, &deviceID, &unixSaldo, &ultimoReporte); err != nil {
			return nil, perr.FromPostgresWithField(err, "eligibility: scan gps candidate")
		}

		expiry := time.Unix(unixSaldo, 0).UTC()
		lastReport := time.Unix(ultimoReporte, 0).UTC()
		idleMinutes := now.Sub(lastReport).Minutes()
		idleDays := idleMinutes / (24 * 60)

		if idleDays > float64(daysLimit) {
			continue
		}

		out = append(out, domain.Candidate{
			Sim: sim, Label: label, Company: company, DeviceID: deviceID,
			CurrentExpiry: expiry, IdleMinutes: idleMinutes, IdleDays: idleDays,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, perr.FromPostgresWithField(err, "eligibility: iterate gps candidates")
	}
	return out, nil
}

// vozCandidates covers VOZ: subscribers whose package expiry falls within
// the end-of-tomorrow window and are not already recharged today. VOZ has
// no reporting/idle concept, so every row is a dispatch candidate
func (q *Query) vozCandidates(ctx context.Context) ([]domain.Candidate, error) {
	endOfTomorrow := q.Clock.EndOfTomorrow()

	rows, err := q.DB.Query(ctx, `
		SELECT p.sim, p.codigo_paquete, p.fecha_expira_saldo
		FROM prepagos_automaticos p
		WHERE p.status = true
		  AND p.fecha_expira_saldo <= $1
		  AND NOT EXISTS (
		      SELECT 1 FROM detalle_recargas dr
		      JOIN recargas r ON r.id = dr.id_recarga
		      WHERE dr.sim = p.sim AND r.fecha::date = $2 AND dr.status = 1
		  )
	`, endOfTomorrow.Unix(), q.Clock.Today().Format("2006-01-02"))
	if err != nil {
		return nil, perr.FromPostgresWithField(err, "eligibility: voz candidates query")
	}
	defer rows.Close()

	var out []domain.Candidate
	for rows.Next() {
		var sim, packageCode string
		var expiraSaldo int64
		if err := rows.Scan(&sim, &packageCode, &expiraSaldo); err != nil {
			return nil, perr.FromPostgresWithField(err, "eligibility: scan voz candidate")
		}
		out = append(out, domain.Candidate{
			Sim:           sim,
			PackageCode:   packageCode,
			CurrentExpiry: time.Unix(expiraSaldo, 0).UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, perr.FromPostgresWithField(err, "eligibility: iterate voz candidates")
	}
	return out, nil
}

var _ domain.EligibilityQuery = (*Query)(nil)
