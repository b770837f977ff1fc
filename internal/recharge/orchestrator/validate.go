package orchestrator

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	perr "github.com/mextic/rechargeengine/internal/platform/errors"
)

// configValidator is a singleton struct validator with english translations,
// grounded on the platform bind package's ValidatorSvc shape
var (
	cvOnce sync.Once
	cv     *validator.Validate
	cvTr   ut.Translator
)

func configValidator() (*validator.Validate, ut.Translator) {
	cvOnce.Do(func() {
		locale := en.New()
		uni := ut.New(locale, locale)
		cvTr, _ = uni.GetTranslator("en")

		cv = validator.New(validator.WithRequiredStructEnabled())
		cv.RegisterTagNameFunc(func(fld reflect.StructField) string {
			if tag := fld.Tag.Get("validate_name"); tag != "" {
				return tag
			}
			return fld.Name
		})
		_ = en_translations.RegisterDefaultTranslations(cv, cvTr)
	})
	return cv, cvTr
}

// GlobalConfig fields carry validate tags enforcing the recognized values
// from the configuration surface (spec.md §6); struct tags live here rather
// than on GlobalConfig itself to keep config.go focused on env parsing
type globalConfigRules struct {
	DefaultTimezone string `validate:"required"`
	LockProvider    string `validate:"required,oneof=redis mysql"`
}

type serviceConfigRules struct {
	DaysValidity  int    `validate:"gte=1"`
	MaxRetries    int    `validate:"gte=1,lte=10"`
	RetryStrategy string `validate:"oneof=linear exponential"`
	ScheduleMode  string `validate:"oneof=interval fixed_hours"`
}

// validateConfig enforces the recognized configuration surface before any
// component is wired; a violation is fatal at startup (config_invalid,
// CLI exit code 2)
func validateConfig(g GlobalConfig, services map[string]ServiceConfig) error {
	v, tr := configValidator()

	if err := v.Struct(globalConfigRules{DefaultTimezone: g.DefaultTimezone, LockProvider: g.LockProvider}); err != nil {
		return perr.ConfigInvalidf("global config: %s", translateFirst(err, tr))
	}

	for name, sc := range services {
		rules := serviceConfigRules{
			DaysValidity:  sc.DaysValidity,
			MaxRetries:    sc.MaxRetries,
			RetryStrategy: string(sc.RetryStrategy),
			ScheduleMode:  string(sc.ScheduleMode),
		}
		if err := v.Struct(rules); err != nil {
			return perr.ConfigInvalidf("service %s config: %s", name, translateFirst(err, tr))
		}
	}
	return nil
}

func translateFirst(err error, tr ut.Translator) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return err.Error()
	}
	var parts []string
	for _, fe := range verrs {
		parts = append(parts, fe.Translate(tr))
	}
	return fmt.Sprintf("%s", strings.Join(parts, "; "))
}
