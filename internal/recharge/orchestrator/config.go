// Package orchestrator boots and tears down the whole engine (C11): store
// bindings, per-service queues with a recovery sweep, provider probes, and
// schedules, in that order
package orchestrator

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mextic/rechargeengine/internal/platform/config"
	pstrings "github.com/mextic/rechargeengine/internal/platform/strings"
	"github.com/mextic/rechargeengine/internal/recharge/domain"
	"github.com/mextic/rechargeengine/internal/recharge/pipeline"
	"github.com/mextic/rechargeengine/internal/recharge/schedule"
)

// ServiceConfig is one {GPS,VOZ,ELIOT} block of the recognized configuration
// surface, read from environment variables under a per-service prefix
type ServiceConfig struct {
	Amount       decimal.Decimal // IMPORTE
	DaysValidity int             // DIAS
	Code         string          // CODIGO, GPS/ELIOT product code

	DelayBetweenCalls time.Duration          // DELAY_BETWEEN_CALLS
	RetryStrategy     pipeline.RetryStrategy // RETRY_STRATEGY
	RetryBaseDelay    time.Duration          // RETRY_BASE_DELAY
	MaxRetries        int                    // MAX_RETRIES

	ScheduleMode    schedule.Mode // SCHEDULE_TYPE (cron normalizes to fixed_times semantics)
	ScheduleMinutes int           // SCHEDULE_MINUTES
	ScheduleHours   []string      // SCHEDULE_HOURS

	DaysSinReportarLimite         int     // DIAS_SIN_REPORTAR_LIMITE
	MinutosSinReportarParaRecarga int     // MINUTOS_SIN_REPORTAR_PARA_RECARGA
	MinBalanceThreshold           float64 // MIN_BALANCE_THRESHOLD

	LockTimeoutSeconds int           // LOCK_TIMEOUT
	WebserviceTimeout  time.Duration // WEBSERVICE_TIMEOUT

	// Packages is populated from PAQUETES for VOZ only: "code:psl:days:amount:label,..."
	Packages map[string]domain.VOZPackage
}

// GlobalConfig is the engine-wide recognized configuration surface
type GlobalConfig struct {
	DefaultTimezone string // DEFAULT_TIMEZONE, default "America/Mazatlan"
	LockProvider    string // LOCK_PROVIDER in {redis, mysql}

	TaecelBaseURL, TaecelKey, TaecelNIP string
	MSTWSDLURL, MSTUser, MSTPassword    string

	RedisAddr string
	PGURL     string
}

// LoadGlobalConfig reads the engine-wide block (no service prefix)
func LoadGlobalConfig() GlobalConfig {
	c := config.New()
	return GlobalConfig{
		DefaultTimezone: c.MayString("DEFAULT_TIMEZONE", "America/Mazatlan"),
		LockProvider:    c.MayString("LOCK_PROVIDER", "mysql"),

		TaecelBaseURL: c.MayString("TAECEL_BASE_URL", ""),
		TaecelKey:     c.MayString("TAECEL_KEY", ""),
		TaecelNIP:     c.MayString("TAECEL_NIP", ""),

		MSTWSDLURL: c.MayString("MST_WSDL_URL", ""),
		MSTUser:    c.MayString("MST_USER", ""),
		MSTPassword: c.MayString("MST_PASSWORD", ""),

		RedisAddr: c.MayString("REDIS_ADDR", "127.0.0.1:6379"),
		PGURL:     c.MayString("PG_URL", ""),
	}
}

// LoadServiceConfig reads one service's block, prefixed "{GPS,VOZ,ELIOT}_"
func LoadServiceConfig(st domain.ServiceType) ServiceConfig {
	c := config.New().Prefix(string(st) + "_")

	amount, _ := decimal.NewFromString(c.MayString("IMPORTE", "0"))

	sc := ServiceConfig{
		Amount:       amount,
		DaysValidity: c.MayInt("DIAS", 30),
		Code:         c.MayString("CODIGO", ""),

		DelayBetweenCalls: c.MayDuration("DELAY_BETWEEN_CALLS", 500*time.Millisecond),
		RetryStrategy:     pipeline.RetryStrategy(c.MayEnum("RETRY_STRATEGY", "linear", "linear", "exponential")),
		RetryBaseDelay:    c.MayDuration("RETRY_BASE_DELAY", time.Second),
		MaxRetries:        c.MayInt("MAX_RETRIES", 3),

		ScheduleMode:    schedule.Mode(normalizeScheduleType(c.MayEnum("SCHEDULE_TYPE", "interval", "interval", "cron", "fixed_times"))),
		ScheduleMinutes: c.MayInt("SCHEDULE_MINUTES", 10),
		ScheduleHours:   pstrings.IfEmpty(c.MayCSV("SCHEDULE_HOURS", nil), []string{"08:00"}),

		DaysSinReportarLimite:         c.MayInt("DIAS_SIN_REPORTAR_LIMITE", 14),
		MinutosSinReportarParaRecarga: c.MayInt("MINUTOS_SIN_REPORTAR_PARA_RECARGA", 60),
		MinBalanceThreshold:           c.MayFloat64("MIN_BALANCE_THRESHOLD", 50),

		LockTimeoutSeconds: c.MayInt("LOCK_TIMEOUT", 300),
		WebserviceTimeout:  c.MayDuration("WEBSERVICE_TIMEOUT", 30*time.Second),
	}

	if st == domain.ServiceVOZ {
		sc.Packages = parsePackages(c.MayString("PAQUETES", ""))
	}

	return sc
}

// normalizeScheduleType maps the recognized SCHEDULE_TYPE values onto the
// two trigger kinds schedule.Scheduler actually implements: "cron" and
// "fixed_times" both describe a fixed-hours trigger
func normalizeScheduleType(v string) string {
	if v == "cron" || v == "fixed_times" {
		return string(schedule.ModeFixedHours)
	}
	return string(schedule.ModeInterval)
}

// parsePackages decodes the VOZ package catalog from a compact CSV shape:
// "code:psl:days:amount:label,code2:psl2:days2:amount2:label2"
func parsePackages(raw string) map[string]domain.VOZPackage {
	out := map[string]domain.VOZPackage{}
	if strings.TrimSpace(raw) == "" {
		return out
	}
	for _, entry := range strings.Split(raw, ",") {
		fields := strings.Split(entry, ":")
		if len(fields) < 5 {
			continue
		}
		days, _ := strconv.Atoi(fields[2])
		amount, _ := decimal.NewFromString(fields[3])
		code := fields[0]
		out[code] = domain.VOZPackage{Code: code, PSL: fields[1], Days: days, Amount: amount, Label: fields[4]}
	}
	return out
}
