// Package domain holds the shared types and port interfaces every recharge
// component depends on: service types, candidates, webservice results, the
// durable queue envelope, and the ledger rows
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ServiceType tags which fleet a pipeline tick is running for. It selects
// the eligibility query, the scheduling rule, and the queue namespace
type ServiceType string

const (
	ServiceGPS   ServiceType = "GPS"
	ServiceVOZ   ServiceType = "VOZ"
	ServiceELIOT ServiceType = "ELIOT"
)

// Valid reports whether st is one of the known service types
func (st ServiceType) Valid() bool {
	switch st {
	case ServiceGPS, ServiceVOZ, ServiceELIOT:
		return true
	default:
		return false
	}
}

// ProviderName tags which external recharge webservice a call or balance
// probe targets
type ProviderName string

const (
	ProviderTaecel ProviderName = "TAECEL"
	ProviderMST    ProviderName = "MST"
)

// LedgerKind is the recargas.tipo enum value a master row carries
type LedgerKind string

const (
	LedgerKindRastreo LedgerKind = "rastreo" // GPS / ELIOT
	LedgerKindPaquete LedgerKind = "paquete" // VOZ
)

// VOZPackage is one entry of the VOZ package catalog: code -> {PSL, days, amount, label}
type VOZPackage struct {
	Code   string
	PSL    string
	Days   int
	Amount decimal.Decimal
	Label  string
}

// Candidate is the denormalized row produced by the eligibility query (C7)
// and then classified by the filter (C8)
type Candidate struct {
	Sim           string
	Label         string
	Company       string
	DeviceID      string
	CurrentExpiry time.Time // unix-backed expiry, already parsed
	IdleMinutes   float64   // time since last telemetry row; GPS/ELIOT only
	IdleDays      float64   // derived from IdleMinutes for the day-limit window

	// VOZ only
	PackageCode string

	// Class is set by the filter (C8); zero value means "not yet classified"
	Class CandidateClass
}

// CandidateClass is the filter's two-level time-gate verdict for a candidate
type CandidateClass uint8

const (
	ClassUnclassified CandidateClass = iota
	ClassToRecharge
	ClassSavings       // "ahorro": would-recharge by expiry but still reporting
	ClassReportingOnTime
)

// WebserviceCallResult is the normalized shape both TAECEL and MST clients
// return, regardless of wire protocol
type WebserviceCallResult struct {
	Success         bool
	Provider        ProviderName
	TransID         string
	Folio           string
	Amount          decimal.Decimal
	Carrier         string
	DateStr         string
	FinalBalanceStr string
	TimeoutMs       int
	IP              string
	Note            string
	RawResponse     string
}

// QueueItemStatus is the lifecycle state of an AuxiliaryQueueItem
type QueueItemStatus string

const (
	StatusWebserviceSuccessPendingDB    QueueItemStatus = "webservice_success_pending_db"
	StatusDBInsertionFailedPendingRecov QueueItemStatus = "db_insertion_failed_pending_recovery"
	StatusRecoveryPendingDB             QueueItemStatus = "recovery_pending_db"
	StatusInserted                      QueueItemStatus = "inserted"
	StatusDuplicate                     QueueItemStatus = "duplicate"
	StatusFailed                        QueueItemStatus = "failed"
)

// QueueItemRecord is the snapshot of the candidate carried alongside a queue item
type QueueItemRecord struct {
	Label    string
	Company  string
	DeviceID string
	Sim      string
	Expiry   time.Time
}

// QueueItemNote carries the batch-position metadata used to format the
// master ledger note
type QueueItemNote struct {
	CurrentIndex    int
	TotalToRecharge int
	Savings         int // "ahorro": would-recharge by expiry but still reporting; GPS/ELIOT only
	ReportingOnTime int
	TotalRecords    int
	IsRecovery      bool
}

// AuxiliaryQueueItem is the durable unit the persistent queue (C4) stores
type AuxiliaryQueueItem struct {
	ID          string
	ServiceType ServiceType
	Sim         string
	Kind        string // "{service}_recharge"
	Status      QueueItemStatus

	Amount       decimal.Decimal
	DaysValidity int

	// PackageCode/PackagePSL are populated for VOZ items from the package
	// catalog at enqueue time; empty for GPS/ELIOT
	PackageCode string
	PackagePSL  string

	Record             QueueItemRecord
	WebserviceResponse WebserviceCallResult
	Note               QueueItemNote

	Provider ProviderName
	TransID  string

	Attempts      int
	LastAttemptAt time.Time
	AddedAt       time.Time
	LastError     string

	// ExpirationDateHuman is the pre-recharge expiry formatted DD/MM/YYYY,
	// kept for operator-readable ledger notes
	ExpirationDateHuman string
}

// MasterResumen is the recargas.resumen JSON payload
type MasterResumen struct {
	Error   int `json:"error"`
	Success int `json:"success"`
	Refund  int `json:"refund"`
}

// MasterRow is the recargas ledger header row
type MasterRow struct {
	ID      int64
	Total   decimal.Decimal
	Fecha   time.Time
	Notes   string
	Quien   string // "operator", fixed "mextic.app"
	Provider ProviderName
	Kind    LedgerKind
	Resumen MasterResumen
}

// DetailRow is the detalle_recargas per-subscriber row
type DetailRow struct {
	ID         int64
	MasterID   int64
	Sim        string
	Amount     decimal.Decimal
	Device     string
	Vehicle    string
	DetailText string
	Folio      string // empty means NULL; unique where non-empty
	Status     int    // 1 success, 0 failure
}

// LockRecord is a row/value the lock manager (C3) owns
type LockRecord struct {
	Key        string
	HolderID   string
	PID        int
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// CrashRecoveryMarker is the per-service marker written on pipeline entry
// and deleted on clean exit, used to detect a crash mid-tick
type CrashRecoveryMarker struct {
	WasProcessing  bool
	StartedAt      time.Time
	ItemsInProcess int
	Sample         []AuxiliaryQueueItem
}

// FilterResult is the output of the two-level time gate (C8)
type FilterResult struct {
	ToRecharge      []Candidate
	Savings         []Candidate
	ReportingOnTime int
}

// RecoveryStats summarizes a queue drain pass (C4, consumed by C9)
type RecoveryStats struct {
	Recovered int
	Inserted  int
	Duplicate int
	Failed    int
}
